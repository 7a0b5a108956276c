package cue

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// SampleRate is the output rate every clip is converted to.
const SampleRate = 44100

// bytesPerFrame is one 16-bit stereo frame.
const bytesPerFrame = 4

// decodeFile reads a WAV or MP3 file into 16-bit little-endian stereo PCM
// at SampleRate.
func decodeFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(f)
	case ".mp3":
		return decodeMP3(f)
	}
	return nil, fmt.Errorf("unsupported sound format %q", filepath.Ext(path))
}

func decodeWAV(r io.ReadSeeker) ([]byte, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wav: not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	channels := int(dec.NumChans)
	if channels < 1 {
		return nil, fmt.Errorf("wav: no channels")
	}
	pcm := interleave16(buf, int(dec.BitDepth), channels)
	return resample(pcm, int(dec.SampleRate)), nil
}

// interleave16 converts samples to 16-bit stereo, duplicating mono and
// keeping the first two channels of anything wider.
func interleave16(buf *audio.IntBuffer, bitDepth, channels int) []byte {
	frames := len(buf.Data) / channels
	out := make([]byte, frames*bytesPerFrame)
	shift := bitDepth - 16
	for i := 0; i < frames; i++ {
		l := buf.Data[i*channels]
		r := l
		if channels > 1 {
			r = buf.Data[i*channels+1]
		}
		binary.LittleEndian.PutUint16(out[i*4:], uint16(to16(l, shift)))
		binary.LittleEndian.PutUint16(out[i*4+2:], uint16(to16(r, shift)))
	}
	return out
}

func to16(v, shift int) int16 {
	switch {
	case shift == -8:
		// 8-bit WAV is unsigned.
		return int16((v - 128) << 8)
	case shift > 0:
		return int16(v >> shift)
	case shift < 0:
		return int16(v << -shift)
	}
	return int16(v)
}

func decodeMP3(r io.Reader) ([]byte, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	// The decoder always produces 16-bit little-endian stereo.
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	return resample(pcm, dec.SampleRate()), nil
}

// resample converts 16-bit stereo PCM from rate to SampleRate by nearest
// frame. Cues are short, so quality is not a concern.
func resample(pcm []byte, rate int) []byte {
	if rate == SampleRate || rate <= 0 {
		return pcm
	}
	in := len(pcm) / bytesPerFrame
	out := int(int64(in) * SampleRate / int64(rate))
	res := make([]byte, out*bytesPerFrame)
	for i := 0; i < out; i++ {
		src := int(int64(i) * int64(rate) / SampleRate)
		copy(res[i*4:i*4+4], pcm[src*4:src*4+4])
	}
	return res
}
