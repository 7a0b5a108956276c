// Package store defines the take history ledger.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// Store persists resolved takes and confirmed state transitions.
type Store interface {
	// RecordTake inserts a take or replaces the stored record with the
	// same id (a retained take later saved or expired).
	RecordTake(ctx context.Context, t model.Take) error
	RecordTransition(ctx context.Context, game string, from, to model.State, at time.Time) error
	// RecentTakes returns up to limit takes, newest first. An empty game
	// matches every game.
	RecentTakes(ctx context.Context, game string, limit int) ([]model.Take, error)
	Close() error
}

// DefaultLimit caps RecentTakes when the caller passes no limit.
const DefaultLimit = 50

// TakeColumns is the column list every backend selects, in ScanTake order.
const TakeColumns = `id, game_id, started_at, stopped_at, outcome, path, screenshot, aborted`

// Scannable is satisfied by both *sql.Row and *sql.Rows.
type Scannable interface {
	Scan(dest ...any) error
}

// ScanTake reads one row selected with TakeColumns.
func ScanTake(row Scannable) (model.Take, error) {
	var (
		t          model.Take
		stoppedAt  sql.NullTime
		outcome    string
		path       sql.NullString
		screenshot sql.NullString
	)
	if err := row.Scan(&t.ID, &t.GameID, &t.StartedAt, &stoppedAt, &outcome, &path, &screenshot, &t.Aborted); err != nil {
		return model.Take{}, err
	}
	t.Outcome = model.Outcome(outcome)
	if !t.Outcome.IsValid() {
		return model.Take{}, fmt.Errorf("take %s: unknown outcome %q", t.ID, outcome)
	}
	if stoppedAt.Valid {
		t.StoppedAt = stoppedAt.Time
	}
	t.Path = path.String
	t.Screenshot = screenshot.String
	return t, nil
}

// NullTime maps the zero time to NULL.
func NullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// NullString maps "" to NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Limit clamps a caller-supplied limit.
func Limit(n int) int {
	if n <= 0 || n > 1000 {
		return DefaultLimit
	}
	return n
}

// Kind returns the backend a history URL selects: "sqlite" for
// "sqlite:<path>" (or a bare file path), "postgres" for postgres URLs.
func Kind(url string) (kind, dsn string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite", strings.TrimPrefix(url, "sqlite://")
	case strings.HasPrefix(url, "sqlite:"):
		return "sqlite", strings.TrimPrefix(url, "sqlite:")
	}
	return "sqlite", url
}
