// Package ui formats what the user sees on the console: save outcomes,
// state changes and startup errors.
package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/engine"
	"github.com/alfredjeanlab/lastplay/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorOK     = 114 // green
	colorFail   = 203 // red
	colorMuted  = 245 // medium gray
)

// Formatter writes console lines. It implements engine.Notifier and
// engine.Journal and is safe for concurrent use.
type Formatter struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
	now   func() time.Time
}

// NewFormatter writes to w, with color when color is true.
func NewFormatter(w io.Writer, color bool) *Formatter {
	return &Formatter{w: w, color: color, now: time.Now}
}

func (f *Formatter) paint(code int, s string) string {
	if !f.color {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

func (f *Formatter) println(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintln(f.w, f.paint(colorMuted, f.now().Format("15:04:05"))+" "+s)
}

// Notify prints a save or take notice.
func (f *Formatter) Notify(n engine.Notice) {
	code, mark := colorOK, "✓"
	if n.Failed {
		code, mark = colorFail, "✗"
	}
	line := f.paint(code, mark+" "+n.Title)
	if n.Message != "" {
		line += "  " + n.Message
	}
	f.println(line)
}

// StateConfirmed prints a confirmed transition. Together with
// TakeResolved it lets the formatter serve as an engine.Journal.
func (f *Formatter) StateConfirmed(game string, _, to model.State, _ time.Time) {
	if game == "" {
		game = "-"
	}
	f.println(f.paint(colorAccent, game) + " " + string(to))
}

// TakeResolved prints where a take ended up. Saved takes are already
// announced through Notify.
func (f *Formatter) TakeResolved(t model.Take) {
	if t.Outcome == model.OutcomeSaved || t.Outcome == model.OutcomePending {
		return
	}
	line := f.paint(colorMuted, "take "+t.ID+" "+string(t.Outcome))
	if t.Path != "" && t.Outcome != model.OutcomeDiscarded {
		line += "  " + t.Path
	}
	f.println(line)
}

// Info prints a plain line.
func (f *Formatter) Info(format string, args ...any) {
	f.println(fmt.Sprintf(format, args...))
}

// Error prints err as a startup failure.
func (f *Formatter) Error(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintln(f.w, f.paint(colorFail, "Error:")+" "+err.Error())
}
