// Package archive uploads saved takes, and a manifest of the take history,
// to object storage in the background.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// Destination is an object store.
type Destination interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) error
}

// Options configures an Archiver.
type Options struct {
	Prefix string
	// History, when set, is exported to <prefix>history.jsonl every
	// ManifestInterval.
	History          TakeLister
	ManifestInterval time.Duration
	QueueSize        int
	MaxTries         uint
	// NewBackOff spaces upload retries (default exponential).
	NewBackOff func() backoff.BackOff
	Logger     *slog.Logger
}

// Archiver uploads saved takes one at a time from a bounded queue.
type Archiver struct {
	dest   Destination
	opts   Options
	logger *slog.Logger
	queue  chan model.Take

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an archiver. Call Start to begin uploading.
func New(dest Destination, opts Options) *Archiver {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 5
	}
	if opts.ManifestInterval <= 0 {
		opts.ManifestInterval = 10 * time.Minute
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Archiver{
		dest:   dest,
		opts:   opts,
		logger: opts.Logger,
		queue:  make(chan model.Take, opts.QueueSize),
	}
}

// Enqueue schedules a saved take for upload. Takes that were not saved are
// ignored. It never blocks; false means the queue is full.
func (a *Archiver) Enqueue(t model.Take) bool {
	if t.Outcome != model.OutcomeSaved || t.Path == "" {
		return true
	}
	select {
	case a.queue <- t:
		return true
	default:
		a.logger.Warn("archive queue full, take not uploaded", "take", t.ID)
		return false
	}
}

// SetHistory sets the manifest source. Call it before Start.
func (a *Archiver) SetHistory(l TakeLister) { a.opts.History = l }

// Start begins uploading in the background.
func (a *Archiver) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
}

// Stop cancels the archiver and waits for the current upload (if any) to
// finish. Queued takes that were not started are left on disk only.
func (a *Archiver) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *Archiver) run(ctx context.Context) {
	ticker := time.NewTicker(a.opts.ManifestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.queue:
			if err := a.upload(ctx, t); err != nil {
				a.logger.Error("archive upload failed", "take", t.ID, "err", err)
			}
		case <-ticker.C:
			if a.opts.History == nil {
				continue
			}
			if err := a.writeManifest(ctx, time.Now()); err != nil {
				a.logger.Error("archive manifest failed", "err", err)
			}
		}
	}
}

// Key is the object key a local file is stored under.
func (a *Archiver) Key(game, file string) string {
	return a.opts.Prefix + path.Join(game, filepath.Base(file))
}

func (a *Archiver) upload(ctx context.Context, t model.Take) error {
	files := []string{t.Path}
	if t.Screenshot != "" {
		files = append(files, t.Screenshot)
	}
	for _, f := range files {
		if err := a.putFile(ctx, a.Key(t.GameID, f), f); err != nil {
			return err
		}
	}
	a.logger.Info("take archived", "take", t.ID, "key", a.Key(t.GameID, t.Path))
	return nil
}

func (a *Archiver) putFile(ctx context.Context, key, name string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		f, err := os.Open(name)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("open %s: %w", name, err))
		}
		defer f.Close()
		return struct{}{}, a.dest.Put(ctx, key, f, contentType(name))
	},
		backoff.WithBackOff(a.opts.NewBackOff()),
		backoff.WithMaxTries(a.opts.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Warn("archive upload retry", "key", key, "err", err, "retry_in", next)
		}),
	)
	return err
}

func (a *Archiver) writeManifest(ctx context.Context, now time.Time) error {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, a.opts.History, &buf, now); err != nil {
		return err
	}
	if err := a.dest.Put(ctx, a.opts.Prefix+"history.jsonl", bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return err
	}
	a.logger.Debug("archive manifest written", "bytes", buf.Len())
	return nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	switch filepath.Ext(name) {
	case ".mkv":
		return "video/x-matroska"
	case ".flv":
		return "video/x-flv"
	}
	return "application/octet-stream"
}
