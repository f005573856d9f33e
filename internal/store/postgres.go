package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nti-schack/leaderboard/internal/game"
	"github.com/nti-schack/leaderboard/internal/leaderboard"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and runs migrations.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logrus.Info("Connected to PostgreSQL")
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			join_rank INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS join_rank INTEGER`,
		`CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			white TEXT NOT NULL,
			black TEXT NOT NULL,
			result TEXT,
			date TIMESTAMPTZ,
			external_id TEXT UNIQUE,
			raw_json TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`UPDATE users SET join_rank = r.rn
		 FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY id) AS rn FROM users) r
		 WHERE users.id = r.id AND users.join_rank IS NULL`,
	}

	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// RegisterUser creates a user with the next join rank unless it exists.
func (s *PostgresStore) RegisterUser(ctx context.Context, username string) (*User, bool, error) {
	name, err := validateUsername(username)
	if err != nil {
		return nil, false, err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO users (username, join_rank, created_at)
		 SELECT $1::text, COALESCE(MAX(join_rank), 0) + 1, $2::timestamptz FROM users
		 ON CONFLICT (username) DO NOTHING`,
		name, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}

	user, err := s.GetUser(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if user == nil {
		return nil, false, fmt.Errorf("user %q missing after insert", name)
	}
	return user, tag.RowsAffected() > 0, nil
}

// GetUser retrieves a user by canonical username.
func (s *PostgresStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	var rank *int32
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, join_rank, created_at FROM users WHERE username = $1`,
		game.CanonicalName(username)).Scan(&u.ID, &u.Username, &rank, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rank != nil {
		u.JoinRank = int(*rank)
	}
	return &u, nil
}

// ListUsers returns all registered users in signup order.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, join_rank, created_at FROM users ORDER BY join_rank NULLS LAST, username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var rank *int32
		if err := rows.Scan(&u.ID, &u.Username, &rank, &u.CreatedAt); err != nil {
			return nil, err
		}
		if rank != nil {
			u.JoinRank = int(*rank)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUsernames returns every registered username.
func (s *PostgresStore) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// RecordGame inserts a game, ignoring duplicates by external id.
func (s *PostgresStore) RecordGame(ctx context.Context, g *Game) (bool, error) {
	prepareGame(g)
	var externalID *string
	if g.ExternalID != "" {
		externalID = &g.ExternalID
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO games (id, white, black, result, date, external_id, raw_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (external_id) DO NOTHING`,
		g.ID, g.White, g.Black, g.Result, g.Date, externalID, g.RawJSON, g.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// HasExternalGame reports whether a game with the given external id exists.
func (s *PostgresStore) HasExternalGame(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM games WHERE external_id = $1)`, externalID).Scan(&exists)
	return exists, err
}

// ListGames returns stored games inside window as raw records.
func (s *PostgresStore) ListGames(ctx context.Context, window leaderboard.Window) ([]game.Raw, error) {
	query := `SELECT id, white, black, result, date, external_id, raw_json, created_at FROM games WHERE true`
	args := []interface{}{}

	if window.From != nil {
		args = append(args, *window.From)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if window.To != nil {
		args = append(args, *window.To)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}

	games, err := s.queryGames(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	raws := make([]game.Raw, 0, len(games))
	for _, g := range games {
		raws = append(raws, g.Raw())
	}
	return raws, nil
}

// ListRecentGames returns the most recent games.
func (s *PostgresStore) ListRecentGames(ctx context.Context, limit int) ([]Game, error) {
	return s.queryGames(ctx,
		`SELECT id, white, black, result, date, external_id, raw_json, created_at
		 FROM games
		 ORDER BY COALESCE(date, created_at) DESC
		 LIMIT $1`, limit)
}

func (s *PostgresStore) queryGames(ctx context.Context, query string, args ...interface{}) ([]Game, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		var g Game
		var result, externalID, rawJSON *string
		if err := rows.Scan(&g.ID, &g.White, &g.Black, &result, &g.Date, &externalID, &rawJSON, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Result = deref(result)
		g.ExternalID = deref(externalID)
		g.RawJSON = deref(rawJSON)
		games = append(games, g)
	}
	return games, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
