package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// TakeLister is the read side of the take history.
type TakeLister interface {
	RecentTakes(ctx context.Context, game string, limit int) ([]model.Take, error)
}

// ManifestLimit is how many recent takes a manifest lists.
const ManifestLimit = 1000

type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	TakeCount  int       `json:"take_count"`
	ExportedAt time.Time `json:"exported_at"`
}

type takeLine struct {
	Type string `json:"type"`
	model.Take
}

// ExportJSONL writes the take history as JSON lines: a header, then one
// line per take, newest first.
func ExportJSONL(ctx context.Context, l TakeLister, w io.Writer, now time.Time) error {
	takes, err := l.RecentTakes(ctx, "", ManifestLimit)
	if err != nil {
		return fmt.Errorf("list takes: %w", err)
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(header{Version: "1", Type: "header", TakeCount: len(takes), ExportedAt: now.UTC()}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, t := range takes {
		if err := enc.Encode(takeLine{Type: "take", Take: t}); err != nil {
			return fmt.Errorf("write take %s: %w", t.ID, err)
		}
	}
	return nil
}
