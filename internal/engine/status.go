package engine

import (
	"time"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// Status is a point-in-time view of the orchestrator, published at the end
// of every tick.
type Status struct {
	Game        string      `json:"game,omitempty"`
	State       model.State `json:"state"`
	Candidate   model.State `json:"candidate,omitempty"`
	Recording   bool        `json:"recording"`
	Take        string      `json:"take,omitempty"`
	Stopping    bool        `json:"stopping"`
	SavePending bool        `json:"save_pending"`
	Retained    string      `json:"retained,omitempty"`
	Connected   bool        `json:"connected"`
	Resyncing   bool        `json:"resyncing"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (o *Orchestrator) publish(now time.Time) {
	st := Status{
		State:     model.StateNone,
		Recording: o.actual,
		Connected: o.ctrl.Connected(),
		Resyncing: o.needResync,
		UpdatedAt: now,
	}
	if o.sess != nil {
		st.Game = o.sess.Profile.ID
		st.State = o.sess.State()
		st.Candidate, _ = o.sess.debounce.Candidate()
	}
	if t := o.take; t != nil {
		st.Take = t.ID
		st.Stopping = t.Stopping
		st.SavePending = t.SaveRequested
	}
	if rec, ok := o.takes.Retained(now); ok {
		st.Retained = rec.ID
	}
	o.status.Store(&st)
}

// Status returns the snapshot published by the last tick. It is safe to
// call from any goroutine.
func (o *Orchestrator) Status() Status {
	if st := o.status.Load(); st != nil {
		return *st
	}
	return Status{State: model.StateNone}
}
