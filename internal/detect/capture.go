package detect

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ErrNoWindow is returned when there is no foreground window to capture.
var ErrNoWindow = errors.New("no foreground window")

// ScreenCapturer captures the client area of the foreground window, or the
// primary display when no probe is configured.
type ScreenCapturer struct {
	Probe WindowProbe
}

// Capture grabs the current frame.
func (c *ScreenCapturer) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rect := screenshot.GetDisplayBounds(0)
	if c.Probe != nil {
		w, err := c.Probe.Foreground()
		if err != nil {
			return nil, err
		}
		if w.Bounds.Empty() {
			return nil, ErrNoWindow
		}
		rect = w.Bounds
	}
	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("capture %v: %w", rect, err)
	}
	return img, nil
}
