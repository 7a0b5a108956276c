package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/model"
	"github.com/alfredjeanlab/lastplay/internal/store"
)

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryRecordTake(ctx context.Context, ex executor, t model.Take) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO takes (id, game_id, started_at, stopped_at, outcome, path, screenshot, aborted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			stopped_at = EXCLUDED.stopped_at,
			outcome = EXCLUDED.outcome,
			path = EXCLUDED.path,
			screenshot = EXCLUDED.screenshot,
			aborted = EXCLUDED.aborted`,
		t.ID, t.GameID, t.StartedAt, store.NullTime(t.StoppedAt), string(t.Outcome),
		store.NullString(t.Path), store.NullString(t.Screenshot), t.Aborted,
	)
	if err != nil {
		return fmt.Errorf("record take %s: %w", t.ID, err)
	}
	return nil
}

func queryRecordTransition(ctx context.Context, ex executor, game string, from, to model.State, at time.Time) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO transitions (game_id, from_state, to_state, at) VALUES ($1, $2, $3, $4)`,
		game, string(from), string(to), at,
	)
	if err != nil {
		return fmt.Errorf("record transition %s>%s: %w", from, to, err)
	}
	return nil
}

func queryRecentTakes(ctx context.Context, ex executor, game string, limit int) ([]model.Take, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT `+store.TakeColumns+` FROM takes
		WHERE $1 = '' OR game_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		game, store.Limit(limit),
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
