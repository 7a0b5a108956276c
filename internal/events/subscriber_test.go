package events

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func newTestSubscriber(t *testing.T, url string) *NATSSubscriber {
	t.Helper()
	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	return sub
}

func TestNATSSubscriber_Wildcard(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()
	sub := newTestSubscriber(t, url)

	ch, cancel, err := sub.Subscribe("lastplay.>")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	topics := []string{TopicStateConfirmed, TopicTakeResolved, TopicSave}
	for _, topic := range topics {
		if err := pub.conn.Publish(topic, []byte(`{}`)); err != nil {
			t.Fatalf("publishing to %s: %v", topic, err)
		}
	}
	pub.conn.Flush()

	for i := range topics {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestNATSSubscriber_Cancel(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()
	sub := newTestSubscriber(t, url)

	ch, cancel, err := sub.Subscribe("lastplay.>")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = pub.conn.Publish(TopicTakeResolved, []byte(`{}`))
		}
		pub.conn.Flush()
	}()
	cancel()
	cancel()
	<-done

	for range ch {
	}
}

func TestNATSSubscriber_Options(t *testing.T) {
	url := startTestNATS(t)
	sub, err := NewNATSSubscriber(url, nats.DisconnectErrHandler(func(*nats.Conn, error) {}))
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()
	if !sub.conn.IsConnected() {
		t.Fatal("expected subscriber to be connected")
	}
}

type saveSink struct {
	mu   sync.Mutex
	reqs []model.SaveRequest
	full bool
	got  chan struct{}
}

func (s *saveSink) offer(r model.SaveRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.got <- struct{}{} }()
	if s.full {
		return false
	}
	s.reqs = append(s.reqs, r)
	return true
}

func TestListenForSaves(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()
	sub := newTestSubscriber(t, url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &saveSink{got: make(chan struct{}, 8)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := ListenForSaves(ctx, sub, sink.offer, logger); err != nil {
		t.Fatalf("ListenForSaves: %v", err)
	}

	for _, body := range []string{"", `{"source":"streamdeck"}`, `not json`} {
		if err := pub.conn.Publish(TopicSave, []byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	pub.conn.Flush()
	for i := 0; i < 3; i++ {
		select {
		case <-sink.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for save request %d", i)
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	want := []string{"nats", "nats:streamdeck", "nats"}
	if len(sink.reqs) != len(want) {
		t.Fatalf("requests = %+v", sink.reqs)
	}
	for i, r := range sink.reqs {
		if r.Source != want[i] {
			t.Errorf("request %d source = %q, want %q", i, r.Source, want[i])
		}
		if r.At.IsZero() {
			t.Errorf("request %d has no timestamp", i)
		}
	}
}
