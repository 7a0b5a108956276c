package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/events"
	"github.com/alfredjeanlab/lastplay/internal/model"
)

type memStore struct {
	mu          sync.Mutex
	takes       map[string]model.Take
	transitions []string
	fail        bool
}

func newMemStore() *memStore { return &memStore{takes: map[string]model.Take{}} }

func (m *memStore) RecordTake(_ context.Context, t model.Take) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("database is locked")
	}
	m.takes[t.ID] = t
	return nil
}

func (m *memStore) RecordTransition(_ context.Context, game string, from, to model.State, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, game+":"+string(from)+">"+string(to))
	return nil
}

func (m *memStore) RecentTakes(context.Context, string, int) ([]model.Take, error) { return nil, nil }
func (m *memStore) Close() error                                                  { return nil }

type published struct {
	topic string
	event any
}

type memPublisher struct {
	mu     sync.Mutex
	events []published
	block  chan struct{}
}

func (p *memPublisher) Publish(_ context.Context, topic string, event any) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic, event})
	return nil
}

func (p *memPublisher) Close() error { return nil }

type memArchive struct{ takes []model.Take }

func (a *memArchive) Enqueue(t model.Take) bool {
	a.takes = append(a.takes, t)
	return true
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestJournal_FansOut(t *testing.T) {
	st := newMemStore()
	pub := &memPublisher{}
	arc := &memArchive{}
	j := New(Options{Store: st, Publisher: pub, Archive: arc, Logger: quietLogger()})

	at := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	j.StateConfirmed("SDVX", model.StateNone, model.StateSelect, at)
	j.TakeResolved(model.Take{ID: "tk-1", GameID: "SDVX", Outcome: model.OutcomeSaved, Path: "/v/a.mkv"})
	j.Close()

	if len(st.transitions) != 1 || st.transitions[0] != "SDVX:None>Select" {
		t.Errorf("transitions = %v", st.transitions)
	}
	if st.takes["tk-1"].Outcome != model.OutcomeSaved {
		t.Errorf("stored take = %+v", st.takes["tk-1"])
	}
	if len(pub.events) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.events))
	}
	if pub.events[0].topic != events.TopicStateConfirmed || pub.events[1].topic != events.TopicTakeResolved {
		t.Errorf("topics = %s, %s", pub.events[0].topic, pub.events[1].topic)
	}
	if ev, ok := pub.events[1].event.(events.TakeResolved); !ok || ev.Take.ID != "tk-1" {
		t.Errorf("take event = %#v", pub.events[1].event)
	}
	if len(arc.takes) != 1 {
		t.Errorf("archived %d takes", len(arc.takes))
	}
}

func TestJournal_StoreFailureIsAbsorbed(t *testing.T) {
	st := newMemStore()
	st.fail = true
	pub := &memPublisher{}
	j := New(Options{Store: st, Publisher: pub, Logger: quietLogger()})
	j.TakeResolved(model.Take{ID: "tk-1", Outcome: model.OutcomeDiscarded})
	j.Close()

	if len(pub.events) != 1 {
		t.Errorf("published %d events after store failure, want 1", len(pub.events))
	}
}

func TestJournal_NeverBlocks(t *testing.T) {
	pub := &memPublisher{block: make(chan struct{})}
	j := New(Options{Publisher: pub, QueueSize: 1, Logger: quietLogger()})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			j.StateConfirmed("SDVX", model.StateNone, model.StateSelect, time.Now())
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StateConfirmed blocked on a stalled sink")
	}
	close(pub.block)
	j.Close()
}

func TestJournal_RecentTakes(t *testing.T) {
	j := New(Options{Keep: 3, Logger: quietLogger()})
	defer j.Close()

	j.TakeResolved(model.Take{ID: "tk-1", GameID: "SDVX", Outcome: model.OutcomeRetained})
	j.TakeResolved(model.Take{ID: "tk-2", GameID: "IIDX", Outcome: model.OutcomeKept})
	j.TakeResolved(model.Take{ID: "tk-1", GameID: "SDVX", Outcome: model.OutcomeSaved})
	j.TakeResolved(model.Take{ID: "tk-3", GameID: "SDVX", Outcome: model.OutcomeDiscarded})
	j.TakeResolved(model.Take{ID: "tk-4", GameID: "SDVX", Outcome: model.OutcomeDiscarded})

	all, _ := j.RecentTakes(context.Background(), "", 0)
	var ids []string
	for _, tk := range all {
		ids = append(ids, tk.ID)
	}
	if len(ids) != 3 || ids[0] != "tk-4" || ids[1] != "tk-3" || ids[2] != "tk-1" {
		t.Fatalf("RecentTakes = %v, want [tk-4 tk-3 tk-1]", ids)
	}
	if all[2].Outcome != model.OutcomeSaved {
		t.Errorf("tk-1 outcome = %s, want saved", all[2].Outcome)
	}

	sdvx, _ := j.RecentTakes(context.Background(), "SDVX", 1)
	if len(sdvx) != 1 || sdvx[0].ID != "tk-4" {
		t.Errorf("RecentTakes(SDVX, 1) = %+v", sdvx)
	}
}

func TestJournal_CloseTwice(t *testing.T) {
	j := New(Options{Logger: quietLogger()})
	j.Close()
	j.Close()
	// Entries after Close are dropped without panicking.
	j.StateConfirmed("SDVX", model.StateNone, model.StateSelect, time.Now())
}
