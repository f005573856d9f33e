package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nti-schack/leaderboard/internal/game"
	"github.com/nti-schack/leaderboard/internal/leaderboard"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			join_rank INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			white TEXT NOT NULL,
			black TEXT NOT NULL,
			result TEXT,
			date TIMESTAMP,
			external_id TEXT,
			raw_json TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_games_external_id ON games(external_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	// Backfill join ranks for rows created before the column existed.
	optionalMigrations := []string{
		`ALTER TABLE users ADD COLUMN join_rank INTEGER`,
		`UPDATE users SET join_rank = (SELECT COUNT(*) FROM users u WHERE u.id <= users.id)
		 WHERE join_rank IS NULL`,
	}
	for _, m := range optionalMigrations {
		s.db.Exec(m) // Ignore errors - column may already exist
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RegisterUser creates a user with the next join rank unless it exists.
func (s *SQLiteStore) RegisterUser(ctx context.Context, username string) (*User, bool, error) {
	name, err := validateUsername(username)
	if err != nil {
		return nil, false, err
	}

	// WHERE true keeps SQLite from reading ON CONFLICT as a join clause.
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, join_rank, created_at)
		 SELECT ?, COALESCE(MAX(join_rank), 0) + 1, ? FROM users WHERE true
		 ON CONFLICT(username) DO NOTHING`,
		name, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	rows, err := result.RowsAffected()
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
	return user, rows > 0, nil
}

// GetUser retrieves a user by canonical username.
func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	var rank sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, join_rank, created_at FROM users WHERE username = ?`,
		game.CanonicalName(username)).Scan(&u.ID, &u.Username, &rank, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.JoinRank = int(rank.Int64)
	return &u, nil
}

// ListUsers returns all registered users in signup order.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, join_rank, created_at FROM users ORDER BY join_rank, username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var rank sql.NullInt64
		if err := rows.Scan(&u.ID, &u.Username, &rank, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.JoinRank = int(rank.Int64)
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUsernames returns every registered username.
func (s *SQLiteStore) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// RecordGame inserts a game, ignoring duplicates by external id.
func (s *SQLiteStore) RecordGame(ctx context.Context, g *Game) (bool, error) {
	prepareGame(g)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO games (id, white, black, result, date, external_id, raw_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO NOTHING`,
		g.ID, g.White, g.Black, g.Result, nullTime(g.Date), nullString(g.ExternalID), g.RawJSON, g.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// HasExternalGame reports whether a game with the given external id exists.
func (s *SQLiteStore) HasExternalGame(ctx context.Context, externalID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM games WHERE external_id = ?`, externalID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListGames returns all stored games inside window as raw records.
func (s *SQLiteStore) ListGames(ctx context.Context, window leaderboard.Window) ([]game.Raw, error) {
	games, err := s.queryGames(ctx,
		`SELECT id, white, black, result, date, external_id, raw_json, created_at FROM games`)
	if err != nil {
		return nil, err
	}

	raws := make([]game.Raw, 0, len(games))
	for _, g := range games {
		if window.Contains(g.Date) {
			raws = append(raws, g.Raw())
		}
	}
	return raws, nil
}

// ListRecentGames returns the most recent games.
func (s *SQLiteStore) ListRecentGames(ctx context.Context, limit int) ([]Game, error) {
	return s.queryGames(ctx,
		`SELECT id, white, black, result, date, external_id, raw_json, created_at
		 FROM games
		 ORDER BY COALESCE(date, created_at) DESC
		 LIMIT ?`, limit)
}

func (s *SQLiteStore) queryGames(ctx context.Context, query string, args ...interface{}) ([]Game, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		var g Game
		var result, externalID, rawJSON sql.NullString
		var date sql.NullTime
		if err := rows.Scan(&g.ID, &g.White, &g.Black, &result, &date, &externalID, &rawJSON, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Result = result.String
		g.ExternalID = externalID.String
		g.RawJSON = rawJSON.String
		if date.Valid {
			d := date.Time
			g.Date = &d
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// prepareGame fills the id and creation time and canonicalizes player names.
func prepareGame(g *Game) {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if g.Date != nil {
		d := g.Date.UTC()
		g.Date = &d
	}
	g.White = game.CanonicalName(g.White)
	g.Black = game.CanonicalName(g.Black)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
