package ui

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/engine"
	"github.com/alfredjeanlab/lastplay/internal/model"
)

func newTestFormatter(color bool) (*Formatter, *bytes.Buffer) {
	var buf bytes.Buffer
	f := NewFormatter(&buf, color)
	f.now = func() time.Time { return time.Date(2024, 5, 1, 20, 0, 5, 0, time.Local) }
	return f, &buf
}

func TestNotify(t *testing.T) {
	for _, tc := range []struct {
		name   string
		notice engine.Notice
		want   string
	}{
		{"saved", engine.Notice{Title: "Saved", Message: "SDVX_2024-05-01_20-00-00.mkv"}, "20:00:05 ✓ Saved  SDVX_2024-05-01_20-00-00.mkv\n"},
		{"failed", engine.Notice{Title: "Nothing to save", Failed: true}, "20:00:05 ✗ Nothing to save\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f, buf := newTestFormatter(false)
			f.Notify(tc.notice)
			if buf.String() != tc.want {
				t.Errorf("got %q, want %q", buf.String(), tc.want)
			}
		})
	}
}

func TestNotify_Color(t *testing.T) {
	f, buf := newTestFormatter(true)
	f.Notify(engine.Notice{Title: "Not ready", Failed: true})
	if !strings.Contains(buf.String(), "\x1b[38;5;203m✗ Not ready\x1b[0m") {
		t.Errorf("missing red title in %q", buf.String())
	}
}

func TestStateConfirmed(t *testing.T) {
	f, buf := newTestFormatter(false)
	f.StateConfirmed("IIDX", model.StatePlaying, model.StateResult, time.Time{})
	if got := buf.String(); got != "20:00:05 IIDX Result\n" {
		t.Errorf("got %q", got)
	}
}

func TestTakeResolved(t *testing.T) {
	for _, tc := range []struct {
		name string
		take model.Take
		want string
	}{
		{"saved is silent", model.Take{ID: "tk-1", Outcome: model.OutcomeSaved, Path: "/v/a.mkv"}, ""},
		{"kept shows path", model.Take{ID: "tk-2", Outcome: model.OutcomeKept, Path: "/v/SDVX/takes/b.mkv"}, "20:00:05 take tk-2 kept  /v/SDVX/takes/b.mkv\n"},
		{"discarded hides path", model.Take{ID: "tk-3", Outcome: model.OutcomeDiscarded, Path: "/v/c.mkv"}, "20:00:05 take tk-3 discarded\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f, buf := newTestFormatter(false)
			f.TakeResolved(tc.take)
			if got := buf.String(); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

var _ engine.Journal = (*Formatter)(nil)
var _ engine.Notifier = (*Formatter)(nil)

func TestError(t *testing.T) {
	f, buf := newTestFormatter(false)
	f.Error(errors.New("connect to recorder: connection refused"))
	if got := buf.String(); got != "Error: connect to recorder: connection refused\n" {
		t.Errorf("got %q", got)
	}
}

func TestShouldUseColor(t *testing.T) {
	for _, tc := range []struct {
		name    string
		noColor string
		force   string
		cli     string
		want    bool
	}{
		{"NO_COLOR wins", "1", "1", "", false},
		{"forced", "", "1", "", true},
		{"CLICOLOR=0", "", "", "0", false},
		// Test output is not a terminal.
		{"default", "", "", "", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tc.noColor)
			t.Setenv("CLICOLOR_FORCE", tc.force)
			t.Setenv("CLICOLOR", tc.cli)
			f, err := os.CreateTemp(t.TempDir(), "out")
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			if got := ShouldUseColor(f); got != tc.want {
				t.Errorf("ShouldUseColor = %v, want %v", got, tc.want)
			}
		})
	}
}
