package model

import "time"

// Outcome is how a take was resolved once its recording stopped.
type Outcome string

const (
	OutcomeSaved     Outcome = "saved"
	OutcomeKept      Outcome = "kept"      // always-keep policy, not explicitly saved
	OutcomeRetained  Outcome = "retained"  // parked as lastplay during the grace window
	OutcomeDiscarded Outcome = "discarded" // purged
	OutcomePending   Outcome = "pending"
)

// IsValid checks whether the outcome is a known value.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSaved, OutcomeKept, OutcomeRetained, OutcomeDiscarded, OutcomePending:
		return true
	}
	return false
}

// Take is the history record of one recording.
type Take struct {
	ID         string    `json:"id"`
	GameID     string    `json:"game_id"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Path       string    `json:"path,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"`
	Aborted    bool      `json:"aborted,omitempty"`
}
