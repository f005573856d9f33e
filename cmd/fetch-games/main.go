// Command fetch-games runs a single Lichess fetch pass and exits. It is meant
// for cron jobs when the server runs with FETCH_INTERVAL=0.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nti-schack/leaderboard/internal/config"
	"github.com/nti-schack/leaderboard/internal/fetcher"
	"github.com/nti-schack/leaderboard/internal/lichess"
	"github.com/nti-schack/leaderboard/internal/logging"
	"github.com/nti-schack/leaderboard/internal/store"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	maxGames := flag.Int("max", 0, "games to request per user (overrides FETCH_MAX_GAMES)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if err := logging.Setup(logging.Options{Level: cfg.Logger.Level, File: cfg.Logger.File}); err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}
	if *maxGames > 0 {
		cfg.Lichess.MaxGames = *maxGames
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.URL, cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	client := lichess.NewClient(cfg.Lichess.BaseURL, cfg.Lichess.Token)
	sum, err := fetcher.New(db, client, nil, fetcher.Config{MaxGames: cfg.Lichess.MaxGames}).FetchOnce(ctx)
	if err != nil {
		logrus.WithError(err).Error("Fetch failed")
		os.Exit(1)
	}

	fmt.Printf("Users: %d, games seen: %d, recorded: %d, skipped: %d, failed users: %d\n",
		sum.Users, sum.Seen, sum.Recorded, sum.Skipped, sum.Failed)
}
