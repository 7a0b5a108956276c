package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the canonical game state every detection backend reports.
type State string

const (
	StateNone    State = "None"
	StateSelect  State = "Select"
	StatePlaying State = "Playing"
	StateResult  State = "Result"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid checks whether the state is one of the four canonical values.
func (s State) IsValid() bool {
	switch s {
	case StateNone, StateSelect, StatePlaying, StateResult:
		return true
	}
	return false
}

// ParseState accepts a state name in any letter case.
func ParseState(v string) (State, error) {
	for _, s := range []State{StateNone, StateSelect, StatePlaying, StateResult} {
		if strings.EqualFold(v, string(s)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown state %q", v)
}

// transitions is the complete set of confirmed transitions. Result is only
// reachable from Playing; everything else that is not listed is noise.
var transitions = map[State][]State{
	StateNone:    {StateSelect, StatePlaying},
	StateSelect:  {StateNone, StatePlaying},
	StatePlaying: {StateResult, StateSelect, StateNone},
	StateResult:  {StateSelect, StateNone, StatePlaying},
}

// CanTransition reports whether from -> to is an accepted confirmed transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsAbort reports whether the transition leaves Playing without a result.
func IsAbort(from, to State) bool {
	return from == StatePlaying && (to == StateSelect || to == StateNone)
}

// StateSample is one backend observation. Ok is false for NoSample.
type StateSample struct {
	State State
	Ok    bool
	At    time.Time
	// Restart marks a Playing event reported straight after another
	// Playing event: the player abandoned the play and started over.
	Restart bool
}

// NoSample is the zero sample: the backend could not classify confidently.
var NoSample = StateSample{}

// Sample builds a classified sample.
func Sample(s State, at time.Time) StateSample {
	return StateSample{State: s, Ok: true, At: at}
}

// SaveRequest is a user intent to keep the current or most recent take.
type SaveRequest struct {
	Source string    `json:"source"` // "hotkey", "http", "nats"
	At     time.Time `json:"at"`
}

// Errors a recording controller reports when a command does not match the
// recorder's actual state.
var (
	ErrRecordingActive   = errors.New("recording already active")
	ErrRecordingInactive = errors.New("recording not active")
)

// RecordEventKind classifies notifications from the recording controller.
type RecordEventKind string

const (
	RecordStarted  RecordEventKind = "started"
	RecordStopped  RecordEventKind = "stopped"
	ControllerLost RecordEventKind = "lost"
)

// RecordEvent is an asynchronous notification from the recording controller.
// Path is set on RecordStopped once the output file has been closed.
type RecordEvent struct {
	Kind RecordEventKind
	Path string
	At   time.Time
}
