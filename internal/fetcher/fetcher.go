package fetcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nti-schack/leaderboard/internal/events"
	"github.com/nti-schack/leaderboard/internal/game"
	"github.com/nti-schack/leaderboard/internal/lichess"
	"github.com/nti-schack/leaderboard/internal/store"
	"github.com/sirupsen/logrus"
)

// GameSource exports a user's recent games.
type GameSource interface {
	ExportUserGames(ctx context.Context, username string, opts lichess.ExportOptions) ([]game.Raw, error)
}

// Config holds fetcher settings.
type Config struct {
	Interval time.Duration // zero disables the periodic loop in Run
	MaxGames int
}

// Summary describes one fetch pass.
type Summary struct {
	Users    int
	Seen     int
	Recorded int
	Skipped  int
	Failed   int
}

// Fetcher copies games between tracked users from Lichess into the store.
type Fetcher struct {
	store  store.Store
	source GameSource
	hub    *events.Hub
	cfg    Config

	// Serializes passes; a manual refresh and a tick must not interleave.
	mu sync.Mutex
}

// New creates a new fetcher. hub may be nil.
func New(s store.Store, source GameSource, hub *events.Hub, cfg Config) *Fetcher {
	if cfg.MaxGames <= 0 {
		cfg.MaxGames = 50
	}
	return &Fetcher{store: s, source: source, hub: hub, cfg: cfg}
}

// Run performs an initial pass and then one pass per interval until ctx is
// cancelled.
func (f *Fetcher) Run(ctx context.Context) {
	if f.cfg.Interval <= 0 {
		logrus.Info("Game fetcher disabled")
		return
	}
	logrus.WithField("interval", f.cfg.Interval).Info("Game fetcher started")

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	f.runPass(ctx)
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Game fetcher shutting down")
			return
		case <-ticker.C:
			f.runPass(ctx)
		}
	}
}

func (f *Fetcher) runPass(ctx context.Context) {
	if _, err := f.FetchOnce(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Error("Game fetch failed")
	}
}

// FetchOnce fetches recent games for every tracked user and records the
// ones played between two tracked users. A failure for one user is logged
// and does not stop the pass.
func (f *Fetcher) FetchOnce(ctx context.Context) (Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var sum Summary
	names, err := f.store.ListUsernames(ctx)
	if err != nil {
		return sum, err
	}
	sum.Users = len(names)

	tracked := make(map[string]bool, len(names))
	for _, n := range names {
		tracked[n] = true
	}

	opts := lichess.ExportOptions{Max: f.cfg.MaxGames, Opening: true}
	for _, name := range names {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		raws, err := f.source.ExportUserGames(ctx, name, opts)
		if err != nil {
			sum.Failed++
			logrus.WithFields(logrus.Fields{"user": name, "error": err}).Warn("Fetcher: failed to export games")
			continue
		}

		for _, raw := range raws {
			sum.Seen++
			recorded, err := f.record(ctx, raw, tracked)
			if err != nil {
				logrus.WithFields(logrus.Fields{"user": name, "error": err}).Error("Fetcher: failed to record game")
				sum.Skipped++
				continue
			}
			if recorded {
				sum.Recorded++
			} else {
				sum.Skipped++
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"users":    sum.Users,
		"seen":     sum.Seen,
		"recorded": sum.Recorded,
		"failed":   sum.Failed,
	}).Info("Fetcher: pass complete")

	if sum.Recorded > 0 && f.hub != nil {
		f.hub.Emit(events.GamesRecorded{Count: sum.Recorded, Source: "lichess"})
	}
	return sum, nil
}

func (f *Fetcher) record(ctx context.Context, raw game.Raw, tracked map[string]bool) (bool, error) {
	rec, ok := game.Normalize(raw)
	if !ok {
		return false, nil
	}
	// Only games between tracked users are stored.
	if !tracked[rec.White] || !tracked[rec.Black] {
		return false, nil
	}
	if rec.ExternalID != "" {
		exists, err := f.store.HasExternalGame(ctx, rec.ExternalID)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}

	rawJSON := string(raw.Source)
	if rawJSON == "" {
		if b, err := json.Marshal(raw); err == nil {
			rawJSON = string(b)
		}
	}

	return f.store.RecordGame(ctx, &store.Game{
		White:      rec.White,
		Black:      rec.Black,
		Result:     rec.Result.Notation(),
		Date:       rec.Date,
		ExternalID: rec.ExternalID,
		RawJSON:    rawJSON,
	})
}
