package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nti-schack/leaderboard/internal/game"
	"github.com/nti-schack/leaderboard/internal/leaderboard"
)

// MaxUsernameLength is the longest username the schema accepts.
const MaxUsernameLength = 64

type User struct {
	ID        int64
	Username  string
	JoinRank  int
	CreatedAt time.Time
}

type Game struct {
	ID         string
	White      string
	Black      string
	Result     string // "1-0", "0-1", "1/2-1/2" (older rows may hold "draw")
	Date       *time.Time
	ExternalID string
	RawJSON    string
	CreatedAt  time.Time
}

// Raw converts a stored row into the shape the normalizer expects.
func (g Game) Raw() game.Raw {
	raw := game.Raw{
		ID:    g.ExternalID,
		White: g.White,
		Black: g.Black,
		PGN:   g.Result,
		Date:  g.Date,
	}
	if strings.EqualFold(strings.TrimSpace(g.Result), "draw") {
		raw.Status = "draw"
	}
	return raw
}

// Store is the persistence layer. It also serves as the user registry and
// game history for the leaderboard.
type Store interface {
	// RegisterUser adds a user if the canonical name is new and returns the
	// stored user together with whether it was created.
	RegisterUser(ctx context.Context, username string) (*User, bool, error)
	GetUser(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListUsernames(ctx context.Context) ([]string, error)

	// RecordGame inserts a game. It returns false without error when a game
	// with the same external id is already stored.
	RecordGame(ctx context.Context, g *Game) (bool, error)
	HasExternalGame(ctx context.Context, externalID string) (bool, error)
	ListGames(ctx context.Context, window leaderboard.Window) ([]game.Raw, error)
	ListRecentGames(ctx context.Context, limit int) ([]Game, error)

	Close() error
}

// Open returns a Postgres store when databaseURL is a postgres URL and a
// SQLite store at sqlitePath otherwise.
func Open(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return NewPostgresStore(ctx, databaseURL)
	}
	if databaseURL != "" {
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme")
	}
	return NewSQLiteStore(sqlitePath)
}

func validateUsername(username string) (string, error) {
	name := game.CanonicalName(username)
	if name == "" {
		return "", fmt.Errorf("username is empty")
	}
	if len(name) > MaxUsernameLength {
		return "", fmt.Errorf("username longer than %d characters", MaxUsernameLength)
	}
	return name, nil
}
