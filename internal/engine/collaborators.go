package engine

import (
	"context"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/detect"
	"github.com/alfredjeanlab/lastplay/internal/model"
)

// Controller is the recording tool. Every call is bounded by the context
// deadline; implementations report recorder state mismatches as
// model.ErrRecordingActive or model.ErrRecordingInactive.
type Controller interface {
	Connected() bool
	RecordStatus(ctx context.Context) (bool, error)
	StartRecord(ctx context.Context) error
	// StopRecord returns the path of the file being finalised.
	StopRecord(ctx context.Context) (string, error)
	SetScene(ctx context.Context, name string) error
	ApplyVideo(ctx context.Context, vs model.VideoSettings) error
	// RecordDirectory is where the recorder writes new recordings.
	RecordDirectory(ctx context.Context) (string, error)
}

// Profiles looks up game profiles.
type Profiles interface {
	Get(id string) (*model.GameProfile, bool)
	MatchWindow(title, exe string) *model.GameProfile
}

// Backends opens a detection backend for a session.
type Backends interface {
	New(p *model.GameProfile, w detect.Window) (detect.Backend, error)
}

// Scenes resolves per-game scenes and video settings.
type Scenes interface {
	Scene(game *model.GameProfile, s model.State) string
	Video(game *model.GameProfile) model.VideoSettings
}

// Cue names.
const (
	CueStart  = "start"
	CueReady  = "ready"
	CueSaved  = "saved"
	CueFailed = "failed"
)

// Cues plays a named sound. Play must not block.
type Cues interface {
	Play(name string)
}

// Journal receives confirmed transitions and resolved takes. Calls must
// not block.
type Journal interface {
	StateConfirmed(game string, from, to model.State, at time.Time)
	TakeResolved(t model.Take)
}

// Journals fans entries out to several journals.
type Journals []Journal

func (js Journals) StateConfirmed(game string, from, to model.State, at time.Time) {
	for _, j := range js {
		j.StateConfirmed(game, from, to, at)
	}
}

func (js Journals) TakeResolved(t model.Take) {
	for _, j := range js {
		j.TakeResolved(t)
	}
}

// Notice is a user-facing message about a save or a take.
type Notice struct {
	Title   string
	Message string
	Failed  bool
}

// Notifier shows notices to the user. Notify must not block.
type Notifier interface {
	Notify(n Notice)
}

// Notifiers fans a notice out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(n Notice) {
	for _, x := range ns {
		x.Notify(n)
	}
}

type nopCues struct{}

func (nopCues) Play(string) {}

type nopJournal struct{}

func (nopJournal) StateConfirmed(string, model.State, model.State, time.Time) {}
func (nopJournal) TakeResolved(model.Take)                                   {}

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}
