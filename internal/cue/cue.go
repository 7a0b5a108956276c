// Package cue plays short audio cues and shows desktop notifications. Both
// are fire-and-forget: a missing sound file or an unavailable audio device
// disables the cue rather than failing the caller.
package cue

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Output plays PCM in the background.
type Output interface {
	Play(pcm []byte)
}

// Dispatcher maps cue names to decoded clips. It implements engine.Cues.
type Dispatcher struct {
	out    Output
	clips  map[string][]byte
	logger *slog.Logger
}

// NewDispatcher decodes the given cue files. Files that cannot be read are
// skipped with a warning. A nil out disables playback entirely.
func NewDispatcher(files map[string]string, out Output, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{out: out, clips: map[string][]byte{}, logger: logger}
	if out == nil {
		return d
	}
	for name, path := range files {
		if path == "" {
			continue
		}
		pcm, err := decodeFile(path)
		if err != nil {
			logger.Warn("sound cue disabled", "cue", name, "path", path, "err", err)
			continue
		}
		d.clips[name] = pcm
	}
	return d
}

// Play starts the named cue and returns immediately.
func (d *Dispatcher) Play(name string) {
	pcm, ok := d.clips[name]
	if !ok || d.out == nil {
		return
	}
	d.logger.Debug("cue", "name", name)
	d.out.Play(pcm)
}

// OtoOutput plays through the default audio device.
type OtoOutput struct {
	ctx    *oto.Context
	ready  chan struct{}
	logger *slog.Logger

	mu      sync.Mutex
	playing map[*oto.Player]struct{}
}

// NewOtoOutput opens the audio device. The error means no device is
// available; callers run without sound.
func NewOtoOutput(logger *slog.Logger) (*OtoOutput, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, err
	}
	return &OtoOutput{ctx: ctx, ready: ready, logger: logger, playing: map[*oto.Player]struct{}{}}, nil
}

// Play starts pcm and keeps the player referenced until it finishes.
func (o *OtoOutput) Play(pcm []byte) {
	go func() {
		<-o.ready
		p := o.ctx.NewPlayer(bytes.NewReader(pcm))
		o.mu.Lock()
		o.playing[p] = struct{}{}
		o.mu.Unlock()

		p.Play()
		for p.IsPlaying() {
			time.Sleep(20 * time.Millisecond)
		}
		if err := p.Close(); err != nil {
			o.logger.Debug("close audio player", "err", err)
		}
		o.mu.Lock()
		delete(o.playing, p)
		o.mu.Unlock()
	}()
}
