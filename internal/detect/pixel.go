package detect

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// blankLevel is the channel value at or below which a probed pixel counts as black.
const blankLevel = 8

// PixelBackend classifies captured frames against a profile's pixel regions.
type PixelBackend struct {
	regions []model.Region
	capture Capturer
	logger  *slog.Logger

	lastSize image.Point
}

// NewPixelBackend creates a backend for a pixel-detected game.
func NewPixelBackend(p *model.GameProfile, c Capturer, logger *slog.Logger) *PixelBackend {
	return &PixelBackend{regions: p.Detection.Regions, capture: c, logger: logger}
}

// Sample captures a frame and classifies it.
func (b *PixelBackend) Sample(ctx context.Context, now time.Time) model.StateSample {
	img, err := b.capture.Capture(ctx)
	if err != nil {
		b.logger.Debug("capture failed", "err", err)
		return model.NoSample
	}
	return b.Classify(img, now)
}

// Classify matches one frame. A region applies only when the frame size
// equals its resolution exactly. The frame is classified when exactly one
// state has a fully matching region; ambiguous, unmatched and blank frames
// yield NoSample.
func (b *PixelBackend) Classify(img image.Image, now time.Time) model.StateSample {
	size := img.Bounds().Size()

	var (
		applicable int
		blank      = true
		matched    = make(map[model.State]bool)
	)
	for _, r := range b.regions {
		if r.Resolution[0] != size.X || r.Resolution[1] != size.Y {
			continue
		}
		applicable++
		all := true
		for _, p := range r.Pixels {
			cr, cg, cb := rgbAt(img, p.X(), p.Y())
			if cr > blankLevel || cg > blankLevel || cb > blankLevel {
				blank = false
			}
			if !p.Matches(cr, cg, cb) {
				all = false
			}
		}
		if all {
			matched[r.State] = true
		}
	}

	if applicable == 0 {
		if size != b.lastSize {
			b.logger.Debug("no region for capture size", "width", size.X, "height", size.Y)
		}
		b.lastSize = size
		return model.NoSample
	}
	b.lastSize = size
	if blank || len(matched) != 1 {
		return model.NoSample
	}
	for s := range matched {
		return model.Sample(s, now)
	}
	return model.NoSample
}

// Close is a no-op; the capturer is shared.
func (b *PixelBackend) Close() error { return nil }

func rgbAt(img image.Image, x, y int) (r, g, b uint8) {
	origin := img.Bounds().Min
	x, y = x+origin.X, y+origin.Y
	if rgba, ok := img.(*image.RGBA); ok {
		i := rgba.PixOffset(x, y)
		return rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2]
	}
	cr, cg, cb, _ := img.At(x, y).RGBA()
	return uint8(cr >> 8), uint8(cg >> 8), uint8(cb >> 8)
}
