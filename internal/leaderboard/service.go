package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nti-schack/leaderboard/internal/game"
	"github.com/sirupsen/logrus"
)

// UserRegistry supplies the set of tracked usernames.
type UserRegistry interface {
	ListUsernames(ctx context.Context) ([]string, error)
}

// GameHistory supplies raw game records.
type GameHistory interface {
	ListGames(ctx context.Context, window Window) ([]game.Raw, error)
}

// Window restricts games to a date range. Nil bounds are open. When any
// bound is set, games without a date are excluded.
type Window struct {
	From *time.Time
	To   *time.Time
}

// IsZero reports whether the window has no bounds.
func (w Window) IsZero() bool {
	return w.From == nil && w.To == nil
}

// Contains reports whether a game dated d falls inside the window.
func (w Window) Contains(d *time.Time) bool {
	if w.IsZero() {
		return true
	}
	if d == nil {
		return false
	}
	if w.From != nil && d.Before(*w.From) {
		return false
	}
	if w.To != nil && d.After(*w.To) {
		return false
	}
	return true
}

// Service computes standings from its collaborators on every call.
type Service struct {
	users UserRegistry
	games GameHistory
}

// NewService creates a new leaderboard service.
func NewService(users UserRegistry, games GameHistory) *Service {
	return &Service{users: users, games: games}
}

// Snapshot loads the current users and games and ranks them.
func (s *Service) Snapshot(ctx context.Context, window Window) (Ranked, error) {
	names, err := s.users.ListUsernames(ctx)
	if err != nil {
		return Ranked{}, fmt.Errorf("failed to list users: %w", err)
	}
	if len(names) == 0 {
		return Compute(nil, nil), nil
	}

	raws, err := s.games.ListGames(ctx, window)
	if err != nil {
		return Ranked{}, fmt.Errorf("failed to list games: %w", err)
	}

	users := make([]string, 0, len(names))
	for _, n := range names {
		if c := game.CanonicalName(n); c != "" {
			users = append(users, c)
		}
	}

	records := make([]game.Record, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		rec, ok := game.Normalize(raw)
		if !ok || !window.Contains(rec.Date) {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	if dropped > 0 {
		logrus.WithFields(logrus.Fields{"dropped": dropped, "total": len(raws)}).Debug("Leaderboard: skipped unusable games")
	}

	return Compute(users, records), nil
}

// MemoryRegistry is an in-process UserRegistry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	names map[string]bool
}

// NewMemoryRegistry creates a registry holding the given usernames.
func NewMemoryRegistry(names ...string) *MemoryRegistry {
	r := &MemoryRegistry{names: make(map[string]bool)}
	for _, n := range names {
		r.Add(n)
	}
	return r
}

// Add registers a username. It reports whether the name was new.
func (r *MemoryRegistry) Add(name string) bool {
	name = game.CanonicalName(name)
	if name == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[name] {
		return false
	}
	r.names[name] = true
	return true
}

// ListUsernames returns the registered names in sorted order.
func (r *MemoryRegistry) ListUsernames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.names))
	for n := range r.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
