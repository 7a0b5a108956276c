package cue

import (
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/alfredjeanlab/lastplay/internal/engine"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// writeWAV encodes samples (interleaved) as a 16-bit WAV file.
func writeWAV(t *testing.T, path string, rate, channels int, samples []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func frame(pcm []byte, i int) (int16, int16) {
	return int16(binary.LittleEndian.Uint16(pcm[i*4:])), int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
}

func TestDecodeWAV_Stereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ready.wav")
	writeWAV(t, path, SampleRate, 2, []int{100, -100, 200, -200, 300, -300})

	pcm, err := decodeFile(path)
	if err != nil {
		t.Fatalf("decodeFile: %v", err)
	}
	if len(pcm) != 3*bytesPerFrame {
		t.Fatalf("len = %d, want %d", len(pcm), 3*bytesPerFrame)
	}
	if l, r := frame(pcm, 2); l != 300 || r != -300 {
		t.Errorf("frame 2 = %d, %d", l, r)
	}
}

func TestDecodeWAV_MonoIsDuplicated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.wav")
	writeWAV(t, path, SampleRate, 1, []int{1000, 2000})

	pcm, err := decodeFile(path)
	if err != nil {
		t.Fatalf("decodeFile: %v", err)
	}
	if l, r := frame(pcm, 1); l != 2000 || r != 2000 {
		t.Errorf("frame 1 = %d, %d", l, r)
	}
}

func TestDecodeWAV_Resampled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slow.wav")
	samples := make([]int, 22050) // one second of mono at 22.05kHz
	writeWAV(t, path, 22050, 1, samples)

	pcm, err := decodeFile(path)
	if err != nil {
		t.Fatalf("decodeFile: %v", err)
	}
	if frames := len(pcm) / bytesPerFrame; frames != SampleRate {
		t.Errorf("frames = %d, want %d", frames, SampleRate)
	}
}

func TestDecodeFile_Errors(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.wav")
	if err := os.WriteFile(bogus, []byte("not a riff file"), 0o644); err != nil {
		t.Fatal(err)
	}
	ogg := filepath.Join(dir, "cue.ogg")
	if err := os.WriteFile(ogg, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{bogus, ogg, filepath.Join(dir, "missing.wav")} {
		if _, err := decodeFile(p); err == nil {
			t.Errorf("decodeFile(%s) succeeded", filepath.Base(p))
		}
	}
}

func TestTo16(t *testing.T) {
	for _, tc := range []struct {
		v, shift int
		want     int16
	}{
		{128, -8, 0},
		{255, -8, 127 << 8},
		{1 << 20, 8, 1 << 12},
		{-5, 0, -5},
	} {
		if got := to16(tc.v, tc.shift); got != tc.want {
			t.Errorf("to16(%d, %d) = %d, want %d", tc.v, tc.shift, got, tc.want)
		}
	}
}

type recordingOutput struct {
	mu    sync.Mutex
	plays [][]byte
}

func (o *recordingOutput) Play(pcm []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.plays = append(o.plays, pcm)
}

func TestDispatcher(t *testing.T) {
	dir := t.TempDir()
	ready := filepath.Join(dir, "ready.wav")
	writeWAV(t, ready, SampleRate, 2, []int{1, 1})

	out := &recordingOutput{}
	d := NewDispatcher(map[string]string{
		engine.CueReady:  ready,
		engine.CueFailed: filepath.Join(dir, "missing.wav"),
		engine.CueSaved:  "",
	}, out, quietLogger())

	d.Play(engine.CueReady)
	d.Play(engine.CueFailed)
	d.Play(engine.CueSaved)
	d.Play("unknown")

	if len(out.plays) != 1 || len(out.plays[0]) != bytesPerFrame {
		t.Fatalf("plays = %d", len(out.plays))
	}
}

func TestDispatcher_NoOutput(t *testing.T) {
	d := NewDispatcher(map[string]string{engine.CueReady: "does-not-matter.wav"}, nil, quietLogger())
	d.Play(engine.CueReady)
	if len(d.clips) != 0 {
		t.Errorf("decoded clips without an output")
	}
}

func TestDesktopNotifier(t *testing.T) {
	got := make(chan string, 1)
	n := NewDesktopNotifier("lastplay", quietLogger())
	n.notify = func(title, message, _ string) error {
		got <- title + "|" + message
		return nil
	}
	n.Notify(engine.Notice{Title: "Saved", Message: "SDVX_2024-05-01_20-00-00.mkv"})

	select {
	case s := <-got:
		if s != "lastplay: Saved|SDVX_2024-05-01_20-00-00.mkv" {
			t.Errorf("notification = %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not shown")
	}
}
