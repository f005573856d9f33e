package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nti-schack/leaderboard/internal/config"
	"github.com/nti-schack/leaderboard/internal/events"
	"github.com/nti-schack/leaderboard/internal/fetcher"
	"github.com/nti-schack/leaderboard/internal/lichess"
	"github.com/nti-schack/leaderboard/internal/logging"
	"github.com/nti-schack/leaderboard/internal/store"
	"github.com/nti-schack/leaderboard/internal/web"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if err := logging.Setup(logging.Options{
		Level:      cfg.Logger.Level,
		File:       cfg.Logger.File,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
	}); err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize store
	db, err := store.Open(ctx, cfg.Database.URL, cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	hub := events.NewHub()
	client := lichess.NewClient(cfg.Lichess.BaseURL, cfg.Lichess.Token)
	games := fetcher.New(db, client, hub, fetcher.Config{
		Interval: cfg.Lichess.FetchInterval,
		MaxGames: cfg.Lichess.MaxGames,
	})

	templates, err := web.DefaultTemplates()
	if err != nil {
		logrus.Fatalf("Failed to load templates: %v", err)
	}

	serverCfg := web.Config{}
	if cfg.Server.StaticDir != "" {
		serverCfg.StaticFS = os.DirFS(cfg.Server.StaticDir)
	}
	server := web.NewServer(db, hub, client, games, templates, serverCfg)
	server.StartSSE(ctx)

	go games.Run(ctx)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server,
	}

	// Handle shutdown signals
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		logrus.Info("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Error("HTTP server shutdown error")
		}
	}()

	fmt.Printf("Server running on http://localhost:%s\n", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatalf("HTTP server error: %v", err)
	}

	logrus.Info("Server stopped")
}
