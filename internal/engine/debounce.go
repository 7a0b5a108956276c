package engine

import "github.com/alfredjeanlab/lastplay/internal/model"

// Debouncer confirms a state once it has been sampled K times in a row.
//
// Samples that cannot be acted on do not break a run: NoSample, and any
// state that is not a legal transition from the confirmed state, are
// ignored outright. A sample of the confirmed state itself resets the run.
type Debouncer struct {
	k         int
	confirmed model.State
	candidate model.State
	count     int
}

// NewDebouncer returns a debouncer starting in StateNone. k below 1 is
// treated as 1.
func NewDebouncer(k int) *Debouncer {
	if k < 1 {
		k = 1
	}
	return &Debouncer{k: k, confirmed: model.StateNone}
}

// K returns the number of consecutive samples required.
func (d *Debouncer) K() int { return d.k }

// Confirmed returns the last confirmed state.
func (d *Debouncer) Confirmed() model.State { return d.confirmed }

// Candidate returns the state being counted and how many samples it has.
func (d *Debouncer) Candidate() (model.State, int) { return d.candidate, d.count }

// Observe feeds one sample and reports a newly confirmed state.
func (d *Debouncer) Observe(s model.StateSample) (model.State, bool) {
	if !s.Ok || !s.State.IsValid() {
		return d.confirmed, false
	}
	if s.State == d.confirmed {
		d.candidate, d.count = "", 0
		return d.confirmed, false
	}
	if !model.CanTransition(d.confirmed, s.State) {
		return d.confirmed, false
	}
	if s.State != d.candidate {
		d.candidate, d.count = s.State, 0
	}
	d.count++
	if d.count < d.k {
		return d.confirmed, false
	}
	d.confirmed = s.State
	d.candidate, d.count = "", 0
	return d.confirmed, true
}

// Force sets the confirmed state without debouncing (session teardown).
func (d *Debouncer) Force(s model.State) {
	d.confirmed = s
	d.candidate, d.count = "", 0
}
