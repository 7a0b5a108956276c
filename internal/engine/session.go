package engine

import (
	"time"

	"github.com/alfredjeanlab/lastplay/internal/detect"
	"github.com/alfredjeanlab/lastplay/internal/model"
)

// Session is the detected activity of one game instance. It is owned by
// the orchestrator and never shared.
type Session struct {
	Profile   *model.GameProfile
	Window    detect.Window
	StartedAt time.Time

	backend  detect.Backend
	debounce *Debouncer
	// goneSince is when the game process was first seen missing.
	goneSince time.Time
}

// State returns the confirmed state.
func (s *Session) State() model.State { return s.debounce.Confirmed() }

// gone records that the game is missing at now and reports whether it has
// been missing for at least grace.
func (s *Session) gone(now time.Time, grace time.Duration) bool {
	if s.goneSince.IsZero() {
		s.goneSince = now
	}
	return now.Sub(s.goneSince) >= grace
}

func (s *Session) present() { s.goneSince = time.Time{} }
