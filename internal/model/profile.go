package model

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// DetectionType selects the backend variant for a game.
type DetectionType string

const (
	DetectionPixel DetectionType = "pixel"
	DetectionLog   DetectionType = "log"
)

// LogFormat selects how a log file is split into events.
type LogFormat string

const (
	LogFormatLines  LogFormat = "lines"
	LogFormatJULXML LogFormat = "jul-xml"
)

// GameProfile is the static description of one supported game.
type GameProfile struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	WindowTitle string        `json:"window_title"`
	Process     string        `json:"process,omitempty"`
	Detection   Detection     `json:"detection"`
	Scenes      SceneMap      `json:"scenes"`
	Video       VideoSettings `json:"video"`
}

// Detection is the per-game backend definition.
type Detection struct {
	Type DetectionType `json:"type"`
	// Debounce overrides the number of consecutive samples required to
	// confirm a state. Zero means the backend default.
	Debounce int `json:"debounce,omitempty"`

	Regions []Region `json:"regions,omitempty"`

	Path     string       `json:"path,omitempty"`
	Format   LogFormat    `json:"format,omitempty"`
	Patterns []LogPattern `json:"patterns,omitempty"`
}

// Region is one pixel pattern. All pixels must match for the region to match.
type Region struct {
	State       State   `json:"state"`
	Description string  `json:"description,omitempty"`
	Resolution  [2]int  `json:"resolution"`
	Pixels      []Pixel `json:"pixels"`
}

// Pixel is [x, y, r, g, b, tolerance].
type Pixel []int

func (p Pixel) X() int         { return p[0] }
func (p Pixel) Y() int         { return p[1] }
func (p Pixel) Tolerance() int { return p[5] }

// Matches reports whether the colour is within tolerance on every channel.
func (p Pixel) Matches(r, g, b uint8) bool {
	tol := p[5]
	return absDiff(int(r), p[2]) <= tol && absDiff(int(g), p[3]) <= tol && absDiff(int(b), p[4]) <= tol
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// LogPattern maps a log event to a state. For line logs Match is a regular
// expression; for JUL XML records Class and Method are substring matches and
// Match, when set, is applied to the message.
type LogPattern struct {
	State  State  `json:"state"`
	Match  string `json:"match,omitempty"`
	Class  string `json:"class,omitempty"`
	Method string `json:"method,omitempty"`
}

// SceneMap names the recorder scene to show per state.
type SceneMap struct {
	Select  string `json:"select,omitempty"`
	Playing string `json:"playing,omitempty"`
	Result  string `json:"result,omitempty"`
}

// For returns the scene for a state, or "" when none is set.
func (m SceneMap) For(s State) string {
	switch s {
	case StateSelect:
		return m.Select
	case StatePlaying:
		return m.Playing
	case StateResult:
		return m.Result
	}
	return ""
}

// VideoSettings are the recorder canvas/output settings for a game.
// Resolutions are "WxH"; empty fields or zero FPS leave the current value.
type VideoSettings struct {
	Resolution string `json:"resolution,omitempty" toml:"Base"`
	Output     string `json:"output,omitempty" toml:"Output"`
	FPS        int    `json:"fps,omitempty" toml:"FPS"`
}

// IsZero reports whether no field is set.
func (v VideoSettings) IsZero() bool {
	return v.Resolution == "" && v.Output == "" && v.FPS == 0
}

// Overlay returns v with every non-empty field of o applied on top.
func (v VideoSettings) Overlay(o VideoSettings) VideoSettings {
	if o.Resolution != "" {
		v.Resolution = o.Resolution
	}
	if o.Output != "" {
		v.Output = o.Output
	}
	if o.FPS != 0 {
		v.FPS = o.FPS
	}
	return v
}

// ParseResolution parses "1920x1080".
func ParseResolution(s string) (w, h int, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q: want WxH", s)
	}
	w, err = strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: bad width", s)
	}
	h, err = strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: bad height", s)
	}
	return w, h, nil
}

// MatchesWindow reports whether a foreground window belongs to this game.
// Process is a pattern on the executable name; a leading '*' matches any
// prefix, so "*bm2dx.exe" matches a full path ending in bm2dx.exe.
func (g *GameProfile) MatchesWindow(title, exe string) bool {
	if g.WindowTitle == "" || !strings.Contains(title, g.WindowTitle) {
		return false
	}
	if g.Process == "" {
		return true
	}
	exe = strings.ReplaceAll(strings.ToLower(exe), "\\", "/")
	pattern := strings.ToLower(g.Process)
	if suffix, ok := strings.CutPrefix(pattern, "*"); ok {
		return strings.HasSuffix(exe, suffix)
	}
	return path.Base(exe) == pattern || exe == pattern
}
