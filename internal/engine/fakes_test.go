package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/detect"
	"github.com/alfredjeanlab/lastplay/internal/model"
	"github.com/alfredjeanlab/lastplay/internal/obs"
	"github.com/alfredjeanlab/lastplay/internal/takes"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// timeline records commands and cues in the order they happened.
type timeline []string

func (tl *timeline) add(s string) { *tl = append(*tl, s) }

func (tl timeline) count(s string) int {
	n := 0
	for _, x := range tl {
		if x == s {
			n++
		}
	}
	return n
}

// fakeController is an in-memory recorder. Stop acknowledgements are
// delivered immediately unless holdAcks is set.
type fakeController struct {
	tl        *timeline
	dir       string
	events    chan model.RecordEvent
	connected bool
	recording bool
	holdAcks  bool
	pending   []string
	// fail makes the next call of an op fail; applied reports whether the
	// command took effect on the recorder anyway.
	fail    map[string]error
	applied map[string]bool
	n       int
	// onStop runs after every successful StopRecord with the file path.
	onStop func(path string)
}

func newFakeController(t *testing.T, tl *timeline) *fakeController {
	return &fakeController{
		tl:        tl,
		dir:       t.TempDir(),
		events:    make(chan model.RecordEvent, 32),
		connected: true,
		fail:      map[string]error{},
		applied:   map[string]bool{},
	}
}

func (f *fakeController) failNext(op string, err error, applied bool) {
	f.fail[op] = err
	f.applied[op] = applied
}

func (f *fakeController) takeFailure(op string) (error, bool) {
	err, ok := f.fail[op]
	if !ok {
		return nil, false
	}
	delete(f.fail, op)
	return err, f.applied[op]
}

func (f *fakeController) Connected() bool { return f.connected }

func (f *fakeController) RecordStatus(context.Context) (bool, error) {
	if !f.connected {
		return false, obs.ErrNotConnected
	}
	f.tl.add("status")
	return f.recording, nil
}

func (f *fakeController) StartRecord(context.Context) error {
	f.tl.add("start")
	if err, applied := f.takeFailure("start"); err != nil {
		if applied {
			f.recording = true
		}
		return err
	}
	if f.recording {
		return &obs.RequestError{Type: "StartRecord", Code: 500}
	}
	f.recording = true
	f.events <- model.RecordEvent{Kind: model.RecordStarted}
	return nil
}

func (f *fakeController) StopRecord(context.Context) (string, error) {
	f.tl.add("stop")
	if !f.recording {
		return "", &obs.RequestError{Type: "StopRecord", Code: 501}
	}
	f.n++
	path := filepath.Join(f.dir, fmt.Sprintf("take-%d.mkv", f.n))
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		panic(err)
	}
	if err, applied := f.takeFailure("stop"); err != nil {
		if applied {
			f.recording = false
			f.pending = append(f.pending, path)
		}
		return "", err
	}
	f.recording = false
	if f.holdAcks {
		f.pending = append(f.pending, path)
	} else {
		f.events <- model.RecordEvent{Kind: model.RecordStopped, Path: path}
	}
	if f.onStop != nil {
		f.onStop(path)
	}
	return path, nil
}

// ack delivers held stop acknowledgements.
func (f *fakeController) ack() {
	for _, p := range f.pending {
		f.events <- model.RecordEvent{Kind: model.RecordStopped, Path: p}
	}
	f.pending = nil
}

// drop simulates a connection loss.
func (f *fakeController) drop() {
	f.connected = false
	f.events <- model.RecordEvent{Kind: model.ControllerLost}
}

func (f *fakeController) SetScene(_ context.Context, name string) error {
	f.tl.add("scene:" + name)
	return nil
}

func (f *fakeController) ApplyVideo(context.Context, model.VideoSettings) error {
	f.tl.add("video")
	return nil
}

func (f *fakeController) RecordDirectory(context.Context) (string, error) {
	if !f.connected {
		return "", obs.ErrNotConnected
	}
	return f.dir, nil
}

// scriptedBackend replays samples, then reports NoSample. An empty state
// is replayed as NoSample.
type scriptedBackend struct {
	samples []model.StateSample
	closed  bool
}

func (b *scriptedBackend) push(states ...model.State) {
	for _, s := range states {
		b.samples = append(b.samples, model.StateSample{State: s, Ok: s != ""})
	}
}

// pushRestart queues a Playing event reported as a fresh attempt.
func (b *scriptedBackend) pushRestart() {
	b.samples = append(b.samples, model.StateSample{State: model.StatePlaying, Ok: true, Restart: true})
}

func (b *scriptedBackend) Sample(_ context.Context, now time.Time) model.StateSample {
	if len(b.samples) == 0 {
		return model.NoSample
	}
	s := b.samples[0]
	b.samples = b.samples[1:]
	if !s.Ok {
		return model.NoSample
	}
	s.At = now
	return s
}

func (b *scriptedBackend) Close() error {
	b.closed = true
	return nil
}

type fakeBackends struct {
	backend *scriptedBackend
	opened  int
	err     error
}

func (f *fakeBackends) New(*model.GameProfile, detect.Window) (detect.Backend, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.opened++
	return f.backend, nil
}

type fakeProfiles map[string]*model.GameProfile

func (f fakeProfiles) Get(id string) (*model.GameProfile, bool) {
	p, ok := f[id]
	return p, ok
}

func (f fakeProfiles) MatchWindow(title, exe string) *model.GameProfile {
	for _, p := range f {
		if p.MatchesWindow(title, exe) {
			return p
		}
	}
	return nil
}

type fakeScenes struct{}

func (fakeScenes) Scene(game *model.GameProfile, s model.State) string {
	if game == nil {
		return "Idle"
	}
	return map[model.State]string{
		model.StateSelect:  "Menu",
		model.StatePlaying: "Play",
		model.StateResult:  "Result",
	}[s]
}

func (fakeScenes) Video(*model.GameProfile) model.VideoSettings {
	return model.VideoSettings{FPS: 60}
}

type fakeProbe struct {
	fg    detect.Window
	err   error
	alive bool
}

func (p *fakeProbe) Foreground() (detect.Window, error) { return p.fg, p.err }
func (p *fakeProbe) Alive(uint32) bool                  { return p.alive }

type recordingCues struct{ tl *timeline }

func (c recordingCues) Play(name string) { c.tl.add("cue:" + name) }

type recordingJournal struct {
	states []string
	takes  []model.Take
}

func (j *recordingJournal) StateConfirmed(_ string, from, to model.State, _ time.Time) {
	j.states = append(j.states, string(from)+">"+string(to))
}

func (j *recordingJournal) TakeResolved(t model.Take) { j.takes = append(j.takes, t) }

type recordingNotifier struct{ notices []Notice }

func (n *recordingNotifier) Notify(x Notice) { n.notices = append(n.notices, x) }

func (n *recordingNotifier) has(title string) bool {
	for _, x := range n.notices {
		if x.Title == title {
			return true
		}
	}
	return false
}

// harness wires an orchestrator to fakes with a manual clock.
type harness struct {
	t        *testing.T
	o        *Orchestrator
	tl       *timeline
	ctrl     *fakeController
	backend  *scriptedBackend
	backends *fakeBackends
	journal  *recordingJournal
	notes    *recordingNotifier
	takes    *takes.Manager
	root     string
	now      time.Time
}

type harnessOption func(*Options, *takes.Options)

func withDebounce(k int) harnessOption {
	return func(o *Options, _ *takes.Options) { o.Debounce = k }
}

func withGrace(d time.Duration) harnessOption {
	return func(_ *Options, t *takes.Options) { t.Grace = d }
}

func withSceneDelay(d time.Duration) harnessOption {
	return func(o *Options, _ *takes.Options) { o.SceneChangeDelay = d }
}

func withProbe(p *fakeProbe) harnessOption {
	return func(o *Options, _ *takes.Options) {
		o.ForceGame = ""
		o.Probe = p
	}
}

// withLogDetection switches the game to a log backend, which confirms on
// the first sample.
func withLogDetection() harnessOption {
	return func(o *Options, _ *takes.Options) {
		p := sdvxProfile()
		p.Detection = model.Detection{Type: model.DetectionLog, Path: "game.log"}
		o.Profiles = fakeProfiles{"SDVX": p}
	}
}

func sdvxProfile() *model.GameProfile {
	return &model.GameProfile{
		ID:          "SDVX",
		Name:        "SOUND VOLTEX",
		WindowTitle: "SOUND VOLTEX",
		Process:     "*sv6c.exe",
		Detection:   model.Detection{Type: model.DetectionPixel},
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	tl := &timeline{}
	h := &harness{
		t:        t,
		tl:       tl,
		ctrl:     newFakeController(t, tl),
		backend:  &scriptedBackend{},
		journal:  &recordingJournal{},
		notes:    &recordingNotifier{},
		root:     t.TempDir(),
		now:      time.Date(2024, 5, 1, 20, 0, 0, 0, time.Local),
	}
	h.backends = &fakeBackends{backend: h.backend}

	o := Options{
		Controller: h.ctrl,
		Events:     h.ctrl.events,
		Profiles:   fakeProfiles{"SDVX": sdvxProfile()},
		Backends:   h.backends,
		Scenes:     fakeScenes{},
		Cues:       recordingCues{tl},
		Journal:    h.journal,
		Notifier:   h.notes,
		Logger:     discardLogger(),
		Debounce:   2,
		ForceGame:  "SDVX",
		Timeout:    50 * time.Millisecond,
	}
	to := takes.Options{
		Root:    h.root,
		Policy:  takes.PolicyOverwrite,
		Logger:  discardLogger(),
		TempDir: filepath.Join(h.root, ".tmp"),
	}
	for _, fn := range opts {
		fn(&o, &to)
	}
	h.takes = takes.NewManager(to)
	o.Takes = h.takes

	orch, err := New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.o = orch
	return h
}

// feed queues samples and ticks once per sample.
func (h *harness) feed(states ...model.State) {
	h.t.Helper()
	h.backend.push(states...)
	for range states {
		h.tick()
	}
}

func (h *harness) tick() {
	h.now = h.now.Add(250 * time.Millisecond)
	h.o.Tick(context.Background(), h.now)
}

func (h *harness) save(source string) {
	h.t.Helper()
	if !h.o.Saves().Offer(model.SaveRequest{Source: source, At: h.now}) {
		h.t.Fatal("save queue full")
	}
}

// savedFiles lists the recordings filed under the game's folder.
func (h *harness) savedFiles() []string {
	h.t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.root, "SDVX", "*.mkv"))
	if err != nil {
		h.t.Fatal(err)
	}
	return matches
}

func (h *harness) lastTake() model.Take {
	h.t.Helper()
	if len(h.journal.takes) == 0 {
		h.t.Fatal("no take resolved")
	}
	return h.journal.takes[len(h.journal.takes)-1]
}

func (h *harness) commands() string {
	var out []string
	for _, x := range *h.tl {
		if x == "status" {
			continue
		}
		out = append(out, x)
	}
	return strings.Join(out, " ")
}
