// Package detect turns a game's screen or log output into state samples.
//
// A Backend is created per session and reports at most one sample per call.
// Transient failures (capture errors, missing log files, unrecognised frames)
// are reported as model.NoSample and logged at debug level; they never reach
// the caller as errors.
package detect

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// Backend samples the current state of one game.
type Backend interface {
	Sample(ctx context.Context, now time.Time) model.StateSample
	Close() error
}

// Capturer grabs the current frame of the game window.
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Window describes the foreground window.
type Window struct {
	Title  string
	Exe    string
	PID    uint32
	Bounds image.Rectangle // client area in screen coordinates
}

// WindowProbe reports the current foreground window and whether the
// process behind a window is still running.
type WindowProbe interface {
	Foreground() (Window, error)
	Alive(pid uint32) bool
}

// Factory builds backends for game profiles.
type Factory struct {
	Capturer Capturer
	Logger   *slog.Logger
}

// New returns the backend variant selected by the profile. w is the window
// the session was opened for; relative log paths resolve against the
// directory of its executable.
func (f *Factory) New(p *model.GameProfile, w Window) (Backend, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("game", p.ID)

	switch p.Detection.Type {
	case model.DetectionPixel:
		if f.Capturer == nil {
			return nil, fmt.Errorf("game %s: pixel detection needs a screen capturer", p.ID)
		}
		return NewPixelBackend(p, f.Capturer, logger), nil
	case model.DetectionLog:
		path := p.Detection.Path
		if !filepath.IsAbs(path) && w.Exe != "" {
			path = filepath.Join(filepath.Dir(w.Exe), path)
		}
		return NewLogBackend(p, path, logger)
	}
	return nil, fmt.Errorf("game %s: unknown detection type %q", p.ID, p.Detection.Type)
}

// DefaultDebounce is the number of consecutive identical samples required
// before a state is confirmed. Logs are authoritative and confirm at once.
func DefaultDebounce(p *model.GameProfile, pixelDefault int) int {
	if p.Detection.Debounce > 0 {
		return p.Detection.Debounce
	}
	if p.Detection.Type == model.DetectionLog {
		return 1
	}
	if pixelDefault < 1 {
		return 1
	}
	return pixelDefault
}
