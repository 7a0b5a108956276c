// Package sqlite implements the store.Store interface on a local SQLite
// file, for setups without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/alfredjeanlab/lastplay/internal/model"
	"github.com/alfredjeanlab/lastplay/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements store.Store backed by a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens (creating if needed) the database at path and migrates it.
func New(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordTake(ctx context.Context, t model.Take) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO takes (id, game_id, started_at, stopped_at, outcome, path, screenshot, aborted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			stopped_at = excluded.stopped_at,
			outcome = excluded.outcome,
			path = excluded.path,
			screenshot = excluded.screenshot,
			aborted = excluded.aborted`,
		t.ID, t.GameID, t.StartedAt.UTC(), store.NullTime(t.StoppedAt.UTC()), string(t.Outcome),
		store.NullString(t.Path), store.NullString(t.Screenshot), t.Aborted,
	)
	if err != nil {
		return fmt.Errorf("record take %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) RecordTransition(ctx context.Context, game string, from, to model.State, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (game_id, from_state, to_state, at) VALUES (?, ?, ?, ?)`,
		game, string(from), string(to), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record transition %s>%s: %w", from, to, err)
	}
	return nil
}

// RecentTakes orders by the stored UTC text, which sorts like the times.
func (s *SQLiteStore) RecentTakes(ctx context.Context, game string, limit int) ([]model.Take, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+store.TakeColumns+` FROM takes
		WHERE ? = '' OR game_id = ?
		ORDER BY started_at DESC
		LIMIT ?`,
		game, game, store.Limit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query takes: %w", err)
	}
	defer rows.Close()

	var out []model.Take
	for rows.Next() {
		t, err := store.ScanTake(rows)
		if err != nil {
			return nil, fmt.Errorf("scan take: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate takes: %w", err)
	}
	return out, nil
}
