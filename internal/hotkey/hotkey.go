package hotkey

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// DefaultDebounce is the minimum gap between two accepted presses.
const DefaultDebounce = 250 * time.Millisecond

// ErrNotElevated is returned when elevation is required but the process
// does not hold it.
var ErrNotElevated = errors.New("hotkey: administrator rights are required to receive keys while an elevated game has focus")

// Options configures a Listener.
type Options struct {
	Binding Binding
	// Offer hands a request to the orchestrator and must not block.
	Offer            func(model.SaveRequest) bool
	Debounce         time.Duration
	RequireElevation bool
	Logger           *slog.Logger
}

// Listener delivers save requests until closed.
type Listener struct {
	opts   Options
	logger *slog.Logger
	gate   pressGate

	platform

	closeOnce sync.Once
}

func newListener(opts Options) *Listener {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Listener{
		opts:   opts,
		logger: opts.Logger,
		gate:   pressGate{window: opts.Debounce},
	}
}

// Start installs the binding. It fails when the binding cannot be
// registered, or when elevation is required and missing.
func Start(opts Options) (*Listener, error) {
	if opts.RequireElevation && !Elevated() {
		return nil, ErrNotElevated
	}
	l := newListener(opts)
	if err := l.start(); err != nil {
		return nil, err
	}
	l.logger.Info("hotkey registered", "binding", opts.Binding.Name)
	return l, nil
}

// Close removes the binding. No press is delivered after it returns. It is
// safe to call more than once.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() { err = l.stop() })
	return err
}

// press is called from the platform loop for every key-down.
func (l *Listener) press(now time.Time) {
	if !l.gate.allow(now) {
		l.logger.Debug("hotkey press debounced")
		return
	}
	if !l.opts.Offer(model.SaveRequest{Source: "hotkey", At: now}) {
		l.logger.Warn("save queue full, hotkey press dropped")
	}
}

// pressGate passes one press per window. Only the platform loop calls it.
type pressGate struct {
	window time.Duration
	last   time.Time
}

func (g *pressGate) allow(now time.Time) bool {
	if !g.last.IsZero() && now.Sub(g.last) < g.window {
		return false
	}
	g.last = now
	return true
}
