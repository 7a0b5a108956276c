//go:build !windows

package detect

import "errors"

// ErrProbeUnsupported is returned where foreground-window detection is not
// implemented. Games can still be pinned with [detection] force_game.
var ErrProbeUnsupported = errors.New("foreground window detection is only supported on Windows")

type unsupportedProbe struct{}

// NewForegroundProbe returns the platform's foreground window probe.
func NewForegroundProbe() WindowProbe { return unsupportedProbe{} }

func (unsupportedProbe) Foreground() (Window, error) { return Window{}, ErrProbeUnsupported }

func (unsupportedProbe) Alive(uint32) bool { return false }
