package engine

import "github.com/alfredjeanlab/lastplay/internal/model"

// DefaultSaveQueueSize bounds the requests buffered between two ticks.
const DefaultSaveQueueSize = 8

// SaveQueue carries save requests from listener goroutines to the tick.
// It is safe for concurrent use; only the orchestrator drains it.
type SaveQueue struct {
	ch chan model.SaveRequest
}

// NewSaveQueue creates a queue holding up to size requests.
func NewSaveQueue(size int) *SaveQueue {
	if size <= 0 {
		size = DefaultSaveQueueSize
	}
	return &SaveQueue{ch: make(chan model.SaveRequest, size)}
}

// Offer enqueues r without blocking. It reports false when the queue is
// full; the caller decides whether that matters.
func (q *SaveQueue) Offer(r model.SaveRequest) bool {
	select {
	case q.ch <- r:
		return true
	default:
		return false
	}
}

// Len returns the number of queued requests.
func (q *SaveQueue) Len() int { return len(q.ch) }

func (q *SaveQueue) drain() []model.SaveRequest {
	var out []model.SaveRequest
	for {
		select {
		case r := <-q.ch:
			out = append(out, r)
		default:
			return out
		}
	}
}
