package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

var (
	_ Publisher  = (*NoopPublisher)(nil)
	_ Publisher  = (*NATSPublisher)(nil)
	_ Subscriber = (*NATSSubscriber)(nil)
)

func TestNoopPublisher(t *testing.T) {
	pub := &NoopPublisher{}
	if err := pub.Publish(context.Background(), TopicTakeResolved, TakeResolved{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// rawSubscribe captures messages on topic with a plain NATS connection.
func rawSubscribe(t *testing.T, url, topic string) chan *nats.Msg {
	t.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	t.Cleanup(nc.Close)
	ch := make(chan *nats.Msg, 8)
	if _, err := nc.ChanSubscribe(topic, ch); err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}
	return ch
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()
	ch := rawSubscribe(t, url, "lastplay.>")

	at := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		topic string
		event any
	}{
		{TopicStateConfirmed, StateConfirmed{Game: "SDVX", From: model.StateSelect, To: model.StatePlaying, At: at}},
		{TopicTakeResolved, TakeResolved{Take: model.Take{ID: "tk-1", GameID: "SDVX", Outcome: model.OutcomeSaved}}},
	} {
		if err := pub.Publish(context.Background(), tc.topic, tc.event); err != nil {
			t.Fatalf("Publish(%s): %v", tc.topic, err)
		}
	}
	pub.conn.Flush()

	msg := receive(t, ch)
	if msg.Subject != TopicStateConfirmed {
		t.Fatalf("first subject = %s", msg.Subject)
	}
	var sc StateConfirmed
	if err := json.Unmarshal(msg.Data, &sc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sc.Game != "SDVX" || sc.To != model.StatePlaying || !sc.At.Equal(at) {
		t.Errorf("state event = %+v", sc)
	}

	msg = receive(t, ch)
	var tr TakeResolved
	if err := json.Unmarshal(msg.Data, &tr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tr.Take.ID != "tk-1" || tr.Take.Outcome != model.OutcomeSaved {
		t.Errorf("take event = %+v", tr)
	}
}

func TestNATSPublisher_Close(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pub.Publish(context.Background(), TopicTakeResolved, TakeResolved{}); err == nil {
		t.Error("expected error publishing after close")
	}
}

func TestNewNATSPublisher_Unreachable(t *testing.T) {
	if _, err := NewNATSPublisher("nats://127.0.0.1:1", nats.Timeout(200*time.Millisecond)); err == nil {
		t.Fatal("expected connection error")
	}
}

func receive(t *testing.T, ch chan *nats.Msg) *nats.Msg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}
