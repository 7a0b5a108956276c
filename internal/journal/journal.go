// Package journal records what the orchestrator confirms and resolves.
//
// The orchestrator's tick must never wait on a database or a broker, so
// the Journal only enqueues. A single writer goroutine drains the queue
// and fans each entry out to the history store, the event bus and the
// archive. Recently resolved takes are also kept in memory for the status
// surface when no history store is configured.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/events"
	"github.com/alfredjeanlab/lastplay/internal/model"
	"github.com/alfredjeanlab/lastplay/internal/store"
)

// Archive accepts saved takes for upload.
type Archive interface {
	Enqueue(t model.Take) bool
}

// Options configures a Journal. Every sink is optional.
type Options struct {
	Store     store.Store
	Publisher events.Publisher
	Archive   Archive
	// QueueSize bounds pending entries (default 64).
	QueueSize int
	// Keep is how many resolved takes Recent remembers (default 50).
	Keep int
	// WriteTimeout bounds each sink call (default 5s).
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

type entry struct {
	state *events.StateConfirmed
	take  *model.Take
}

// Journal implements engine.Journal.
type Journal struct {
	opts   Options
	logger *slog.Logger
	queue  chan entry

	mu     sync.RWMutex
	recent []model.Take // newest last
	closed bool

	done chan struct{}
}

// New starts a journal's writer goroutine. Close stops it.
func New(opts Options) *Journal {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Keep <= 0 {
		opts.Keep = store.DefaultLimit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	j := &Journal{
		opts:   opts,
		logger: opts.Logger,
		queue:  make(chan entry, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go j.writeLoop()
	return j
}

// StateConfirmed enqueues a confirmed transition.
func (j *Journal) StateConfirmed(game string, from, to model.State, at time.Time) {
	j.enqueue(entry{state: &events.StateConfirmed{Game: game, From: from, To: to, At: at}})
}

// TakeResolved remembers a resolved take and enqueues it. A take resolved
// twice (retained, then saved or expired) replaces its earlier record.
func (j *Journal) TakeResolved(t model.Take) {
	j.mu.Lock()
	j.remember(t)
	j.mu.Unlock()
	j.enqueue(entry{take: &t})
}

func (j *Journal) remember(t model.Take) {
	for i := range j.recent {
		if j.recent[i].ID == t.ID {
			j.recent = append(j.recent[:i], j.recent[i+1:]...)
			break
		}
	}
	j.recent = append(j.recent, t)
	if over := len(j.recent) - j.opts.Keep; over > 0 {
		j.recent = append([]model.Take(nil), j.recent[over:]...)
	}
}

func (j *Journal) enqueue(e entry) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- e:
	default:
		j.logger.Warn("journal queue full, entry dropped")
	}
}

// RecentTakes returns up to limit remembered takes for game ("" for all),
// newest first. It serves the status surface when there is no store.
func (j *Journal) RecentTakes(_ context.Context, game string, limit int) ([]model.Take, error) {
	limit = store.Limit(limit)
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []model.Take
	for i := len(j.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if game == "" || j.recent[i].GameID == game {
			out = append(out, j.recent[i])
		}
	}
	return out, nil
}

// Close stops accepting entries and waits until the queued ones are
// written.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		<-j.done
		return
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	<-j.done
}

func (j *Journal) writeLoop() {
	defer close(j.done)
	for e := range j.queue {
		switch {
		case e.state != nil:
			j.writeState(*e.state)
		case e.take != nil:
			j.writeTake(*e.take)
		}
	}
}

func (j *Journal) writeState(s events.StateConfirmed) {
	ctx, cancel := context.WithTimeout(context.Background(), j.opts.WriteTimeout)
	defer cancel()
	if j.opts.Store != nil {
		if err := j.opts.Store.RecordTransition(ctx, s.Game, s.From, s.To, s.At); err != nil {
			j.logger.Warn("failed to record transition", "game", s.Game, "err", err)
		}
	}
	if j.opts.Publisher != nil {
		if err := j.opts.Publisher.Publish(ctx, events.TopicStateConfirmed, s); err != nil {
			j.logger.Warn("failed to publish event", "topic", events.TopicStateConfirmed, "err", err)
		}
	}
}

func (j *Journal) writeTake(t model.Take) {
	ctx, cancel := context.WithTimeout(context.Background(), j.opts.WriteTimeout)
	defer cancel()
	if j.opts.Store != nil {
		if err := j.opts.Store.RecordTake(ctx, t); err != nil {
			j.logger.Warn("failed to record take", "take", t.ID, "err", err)
		}
	}
	if j.opts.Publisher != nil {
		if err := j.opts.Publisher.Publish(ctx, events.TopicTakeResolved, events.TakeResolved{Take: t}); err != nil {
			j.logger.Warn("failed to publish event", "topic", events.TopicTakeResolved, "take", t.ID, "err", err)
		}
	}
	if j.opts.Archive != nil {
		j.opts.Archive.Enqueue(t)
	}
}
