// Package events carries session and take events over NATS, and accepts
// save requests from the bus.
package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// Event topic constants
const (
	TopicStateConfirmed = "lastplay.state.confirmed"
	TopicTakeResolved   = "lastplay.take.resolved"

	// TopicSave is consumed: any message on it is a save request.
	TopicSave = "lastplay.save"
)

// Event types

type StateConfirmed struct {
	Game string      `json:"game"`
	From model.State `json:"from"`
	To   model.State `json:"to"`
	At   time.Time   `json:"at"`
}

type TakeResolved struct {
	Take model.Take `json:"take"`
}

// SaveCommand is the optional body of a TopicSave message.
type SaveCommand struct {
	Source string `json:"source,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
