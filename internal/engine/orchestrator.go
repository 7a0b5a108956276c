// Package engine drives recording from detected game state.
//
// The Orchestrator owns all mutable session and recording state and is
// advanced only by Tick, which runs on a single goroutine. Other goroutines
// talk to it through the SaveQueue and the controller's event channel, both
// drained at the start of every tick, and read it through Status.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/detect"
	"github.com/alfredjeanlab/lastplay/internal/model"
	"github.com/alfredjeanlab/lastplay/internal/takes"
)

// Options configures an Orchestrator. Controller, Profiles, Backends,
// Scenes and Takes are required; nil Cues, Journal and Notifier are no-ops.
type Options struct {
	Controller Controller
	// Events carries the controller's recording events.
	Events   <-chan model.RecordEvent
	Profiles Profiles
	Backends Backends
	// Probe finds game windows. Unused when ForceGame is set.
	Probe    detect.WindowProbe
	Scenes   Scenes
	Takes    *takes.Manager
	Saves    *SaveQueue
	Cues     Cues
	Journal  Journal
	Notifier Notifier
	// Screenshots captures the Result screen; nil disables screenshots.
	Screenshots detect.Capturer
	Logger      *slog.Logger

	Interval time.Duration
	// Debounce is the pixel backend's K when the profile sets none.
	Debounce         int
	SessionGrace     time.Duration
	SceneChangeDelay time.Duration
	// ForceGame pins a profile id instead of probing windows.
	ForceGame string
	// Timeout bounds each controller call and the wait for the final
	// stop acknowledgement on shutdown.
	Timeout time.Duration
}

// Orchestrator is the single state machine driving the recorder.
type Orchestrator struct {
	opts   Options
	ctrl   Controller
	takes  *takes.Manager
	saves  *SaveQueue
	logger *slog.Logger

	sess *Session
	// openFailed remembers the window a backend could not be opened for.
	openFailed string

	take       *takes.Take
	desired    bool // a recording is wanted
	actual     bool // the recorder is believed to be recording
	stopIssued bool
	needResync bool
	startAfter time.Time
	wantScene  string
	lastSaved  string

	status       atomic.Pointer[Status]
	shutdownOnce sync.Once
	closed       bool
}

// New creates an Orchestrator. The recorder state is re-queried on the
// first tick.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Controller == nil:
		return nil, errors.New("engine: controller is required")
	case opts.Profiles == nil:
		return nil, errors.New("engine: profiles are required")
	case opts.Backends == nil:
		return nil, errors.New("engine: backend factory is required")
	case opts.Scenes == nil:
		return nil, errors.New("engine: scene resolver is required")
	case opts.Takes == nil:
		return nil, errors.New("engine: take manager is required")
	case opts.Probe == nil && opts.ForceGame == "":
		return nil, errors.New("engine: a window probe or a forced game is required")
	}
	if opts.ForceGame != "" {
		if _, ok := opts.Profiles.Get(opts.ForceGame); !ok {
			return nil, fmt.Errorf("engine: forced game %q has no profile", opts.ForceGame)
		}
	}
	if opts.Saves == nil {
		opts.Saves = NewSaveQueue(DefaultSaveQueueSize)
	}
	if opts.Cues == nil {
		opts.Cues = nopCues{}
	}
	if opts.Journal == nil {
		opts.Journal = nopJournal{}
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	o := &Orchestrator{
		opts:       opts,
		ctrl:       opts.Controller,
		takes:      opts.Takes,
		saves:      opts.Saves,
		logger:     opts.Logger,
		needResync: true,
	}
	o.publish(time.Now())
	return o, nil
}

// Saves returns the queue save requests are offered to.
func (o *Orchestrator) Saves() *SaveQueue { return o.saves }

// Run ticks every Interval until ctx is done. It does not shut down;
// call Shutdown afterwards.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()
	o.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.Tick(ctx, now)
		}
	}
}

// Tick advances the state machine once. Saves are drained before recorder
// events so a save that races a stop acknowledgement is always honoured.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) {
	if o.closed {
		return
	}
	for _, r := range o.saves.drain() {
		o.handleSave(r, now)
	}
	o.drainEvents(now)
	if o.needResync && o.ctrl.Connected() {
		o.resync(ctx, now)
	}
	o.trackSession(ctx, now)
	if o.sess != nil {
		sample := o.sess.backend.Sample(ctx, now)
		from := o.sess.State()
		to, ok := o.sess.debounce.Observe(sample)
		switch {
		case ok:
			o.transition(ctx, now, from, to)
		case sample.Restart && from == model.StatePlaying && to == model.StatePlaying:
			o.restart(now)
		}
	}
	o.reconcile(ctx, now)
	for _, rec := range o.takes.Sweep(now) {
		o.opts.Journal.TakeResolved(rec)
	}
	o.publish(now)
}

func (o *Orchestrator) drainEvents(now time.Time) {
	for {
		select {
		case ev, ok := <-o.opts.Events:
			if !ok {
				o.opts.Events = nil
				return
			}
			o.handleEvent(ev, now)
		default:
			return
		}
	}
}

func (o *Orchestrator) handleEvent(ev model.RecordEvent, now time.Time) {
	switch ev.Kind {
	case model.RecordStarted:
		o.actual = true
		if o.take == nil {
			o.logger.Warn("recording started outside lastplay; leaving it alone")
		} else if o.take.Path == "" {
			o.take.Path = ev.Path
		}
	case model.RecordStopped:
		o.actual = false
		t := o.take
		if t == nil {
			o.logger.Debug("recording stopped", "file", ev.Path)
			return
		}
		if !t.Stopping {
			o.logger.Warn("recording stopped outside lastplay", "take", t.ID)
			o.desired = false
		}
		o.resolve(t, ev.Path, now)
	case model.ControllerLost:
		if !o.needResync {
			o.logger.Warn("recorder connection lost; commands suspended until it returns")
		}
		o.needResync = true
	}
}

// resync re-reads the recorder's actual state after a failure so no
// command is repeated or lost.
func (o *Orchestrator) resync(ctx context.Context, now time.Time) {
	cctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	active, err := o.ctrl.RecordStatus(cctx)
	cancel()
	if err != nil {
		o.logger.Debug("recorder resync failed", "err", err)
		return
	}
	o.needResync = false
	o.actual = active
	o.logger.Info("recorder state synchronised", "recording", active)

	if t := o.take; t != nil {
		switch {
		case !active && (o.stopIssued || t.Stopping || t.Path != ""):
			// A stop went through even if its reply was lost.
			if t.Path == "" {
				t.Path = o.locateRecording(ctx, t)
			}
			o.resolve(t, "", now)
		case !active:
			// The start never took effect; reconcile starts a fresh take.
			o.logger.Warn("recording was not running", "take", t.ID)
			rec := t.Record()
			rec.Outcome = model.OutcomeDiscarded
			rec.StoppedAt = now
			o.opts.Journal.TakeResolved(rec)
			o.take = nil
		case t.Stopping && o.stopIssued:
			o.stopIssued = false
		}
	}
	if o.wantScene != "" {
		o.setScene(ctx, o.wantScene)
	}
}

// locateRecording finds the file of a take whose stop acknowledgement
// never arrived: the newest file in the recorder's output directory
// written since the take began.
func (o *Orchestrator) locateRecording(ctx context.Context, t *takes.Take) string {
	cctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	dir, err := o.ctrl.RecordDirectory(cctx)
	cancel()
	if err != nil {
		o.logger.Warn("asking recorder for its output directory", "take", t.ID, "err", err)
		return ""
	}
	path, err := takes.LatestRecording(dir, t.StartedAt)
	if err != nil {
		o.logger.Warn("looking for the take's file", "take", t.ID, "dir", dir, "err", err)
		return ""
	}
	if path == "" {
		o.logger.Warn("no recording found for take", "take", t.ID, "dir", dir)
		return ""
	}
	o.logger.Info("recovered take file", "take", t.ID, "file", path)
	return path
}

func (o *Orchestrator) trackSession(ctx context.Context, now time.Time) {
	if o.opts.ForceGame != "" {
		if o.sess == nil {
			p, _ := o.opts.Profiles.Get(o.opts.ForceGame)
			o.openSession(p, detect.Window{}, now)
		}
		return
	}
	if s := o.sess; s != nil {
		if o.opts.Probe.Alive(s.Window.PID) {
			s.present()
			return
		}
		if s.gone(now, o.opts.SessionGrace) {
			o.endSession(ctx, now, "game exited")
		}
		return
	}
	w, err := o.opts.Probe.Foreground()
	if err != nil {
		return
	}
	if p := o.opts.Profiles.MatchWindow(w.Title, w.Exe); p != nil {
		o.openSession(p, w, now)
	}
}

func (o *Orchestrator) openSession(p *model.GameProfile, w detect.Window, now time.Time) {
	key := fmt.Sprintf("%s/%d", p.ID, w.PID)
	if o.openFailed == key {
		return
	}
	b, err := o.opts.Backends.New(p, w)
	if err != nil {
		o.openFailed = key
		o.logger.Error("opening detection backend", "game", p.ID, "err", err)
		return
	}
	o.openFailed = ""
	o.sess = &Session{
		Profile:   p,
		Window:    w,
		StartedAt: now,
		backend:   b,
		debounce:  NewDebouncer(detect.DefaultDebounce(p, o.opts.Debounce)),
	}
	o.logger.Info("game detected", "game", p.ID, "detection", p.Detection.Type, "debounce", o.sess.debounce.K())
}

func (o *Orchestrator) endSession(ctx context.Context, now time.Time, reason string) {
	s := o.sess
	if from := s.State(); from != model.StateNone {
		s.debounce.Force(model.StateNone)
		o.transition(ctx, now, from, model.StateNone)
	}
	o.desired = false
	if err := s.backend.Close(); err != nil {
		o.logger.Debug("closing detection backend", "game", s.Profile.ID, "err", err)
	}
	o.sess = nil
	o.logger.Info("session ended", "game", s.Profile.ID, "reason", reason, "duration", now.Sub(s.StartedAt).Round(time.Second))
	o.setScene(ctx, o.opts.Scenes.Scene(nil, model.StateNone))
}

// transition runs the exit actions of from and the entry actions of to.
func (o *Orchestrator) transition(ctx context.Context, now time.Time, from, to model.State) {
	p := o.sess.Profile
	o.logger.Info("state confirmed", "game", p.ID, "from", from, "to", to)
	o.opts.Journal.StateConfirmed(p.ID, from, to, now)

	switch {
	case model.IsAbort(from, to):
		o.desired = false
		if t := o.take; t != nil {
			t.Aborted = true
			t.Stopping = true
			o.opts.Cues.Play(CueFailed)
			o.logger.Info("take aborted", "take", t.ID)
		}
	case from == model.StateResult:
		o.desired = false
		if o.take != nil {
			o.take.Stopping = true
		}
	}

	switch to {
	case model.StatePlaying:
		if o.take == nil && !o.actual && o.canCommand() {
			cctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
			if err := o.ctrl.ApplyVideo(cctx, o.opts.Scenes.Video(p)); err != nil {
				o.commandFailed("applying video settings", err)
			}
			cancel()
		}
		o.setScene(ctx, o.opts.Scenes.Scene(p, to))
		o.desired = true
		o.startAfter = now.Add(o.opts.SceneChangeDelay)
	case model.StateResult:
		o.setScene(ctx, o.opts.Scenes.Scene(p, to))
		o.opts.Cues.Play(CueReady)
		o.screenshot(ctx)
	default:
		o.setScene(ctx, o.opts.Scenes.Scene(p, to))
	}
}

// restart drops the take of an abandoned play so reconcile records the new
// attempt once the recorder has stopped.
func (o *Orchestrator) restart(now time.Time) {
	p := o.sess.Profile
	o.logger.Info("play restarted", "game", p.ID)
	o.opts.Journal.StateConfirmed(p.ID, model.StatePlaying, model.StatePlaying, now)
	if t := o.take; t != nil {
		t.Aborted = true
		t.Stopping = true
	}
	o.desired = true
}

func (o *Orchestrator) screenshot(ctx context.Context) {
	if o.opts.Screenshots == nil || o.take == nil {
		return
	}
	img, err := o.opts.Screenshots.Capture(ctx)
	if err != nil {
		o.logger.Debug("result screenshot", "err", err)
		return
	}
	if err := o.takes.WriteScreenshot(o.take, img); err != nil {
		o.logger.Warn("saving result screenshot", "take", o.take.ID, "err", err)
	}
}

// reconcile issues at most one start or stop so the recorder converges on
// the desired state.
func (o *Orchestrator) reconcile(ctx context.Context, now time.Time) {
	if !o.canCommand() {
		return
	}
	if t := o.take; t != nil && o.actual && !o.stopIssued && (t.Stopping || !o.desired) {
		t.Stopping = true
		o.stop(ctx)
		return
	}
	if o.desired && o.take == nil && !o.actual && o.sess != nil && !now.Before(o.startAfter) {
		o.start(ctx, now)
	}
}

func (o *Orchestrator) start(ctx context.Context, now time.Time) {
	t, err := o.takes.Begin(o.sess.Profile.ID, now)
	if err != nil {
		o.logger.Error("creating take", "err", err)
		return
	}
	o.take = t
	o.stopIssued = false
	o.lastSaved = ""

	cctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	err = o.ctrl.StartRecord(cctx)
	cancel()
	if err != nil && !errors.Is(err, model.ErrRecordingActive) {
		o.commandFailed("starting recording", err)
		return
	}
	o.actual = true
	o.opts.Cues.Play(CueStart)
	o.logger.Info("recording started", "game", t.Game, "take", t.ID)
}

func (o *Orchestrator) stop(ctx context.Context) {
	t := o.take
	cctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	path, err := o.ctrl.StopRecord(cctx)
	cancel()
	switch {
	case err == nil:
		o.stopIssued = true
		if path != "" {
			t.Path = path
		}
		o.logger.Info("recording stopping", "take", t.ID, "save", t.SaveRequested, "aborted", t.Aborted)
	case errors.Is(err, model.ErrRecordingInactive):
		// Already stopping; the stop event or a resync settles the take.
		o.stopIssued = true
	default:
		o.commandFailed("stopping recording", err)
	}
}

func (o *Orchestrator) setScene(ctx context.Context, name string) {
	if name == "" {
		return
	}
	o.wantScene = name
	if !o.canCommand() {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	if err := o.ctrl.SetScene(cctx, name); err != nil {
		o.commandFailed("switching scene", err)
	}
}

func (o *Orchestrator) canCommand() bool {
	return !o.needResync && o.ctrl.Connected()
}

func (o *Orchestrator) commandFailed(what string, err error) {
	o.logger.Error(what, "err", err)
	o.needResync = true
}

// handleSave applies one save request to whatever take it can still reach.
func (o *Orchestrator) handleSave(r model.SaveRequest, now time.Time) {
	state := model.StateNone
	if o.sess != nil {
		state = o.sess.State()
	}
	t := o.take
	switch {
	case t != nil && !t.Aborted && (t.Stopping || state == model.StateResult):
		if t.SaveRequested {
			o.logger.Debug("save already pending", "take", t.ID, "source", r.Source)
			return
		}
		t.SaveRequested = true
		o.logger.Info("save requested", "take", t.ID, "source", r.Source)
		o.opts.Notifier.Notify(Notice{Title: "Saving", Message: fmt.Sprintf("%s take will be kept", t.Game)})
		return
	case t != nil && !t.Stopping && state == model.StatePlaying:
		o.logger.Info("save ignored while playing", "take", t.ID, "source", r.Source)
		o.opts.Cues.Play(CueFailed)
		o.opts.Notifier.Notify(Notice{Title: "Not ready", Message: "Save is available once the result screen shows", Failed: true})
		return
	}

	rec, ok, err := o.takes.SaveRetained(now)
	switch {
	case ok:
		o.finished(rec, true, err)
	case o.lastSaved != "":
		o.logger.Info("take already saved", "take", o.lastSaved, "source", r.Source)
		o.opts.Notifier.Notify(Notice{Title: "Already saved", Message: "The last take has already been saved"})
	default:
		o.logger.Info("nothing to save", "source", r.Source)
		o.opts.Cues.Play(CueFailed)
		o.opts.Notifier.Notify(Notice{Title: "Nothing to save", Message: "No recent take is available", Failed: true})
	}
}

// resolve hands a stopped take to the lifecycle manager.
func (o *Orchestrator) resolve(t *takes.Take, path string, now time.Time) {
	o.take = nil
	o.stopIssued = false
	rec, err := o.takes.Resolve(t, path, now)
	o.finished(rec, t.SaveRequested, err)
}

func (o *Orchestrator) finished(rec model.Take, wantSave bool, err error) {
	o.opts.Journal.TakeResolved(rec)
	if err != nil {
		o.logger.Error("resolving take", "take", rec.ID, "outcome", rec.Outcome, "err", err)
	}
	switch {
	case rec.Outcome == model.OutcomeSaved:
		o.lastSaved = rec.ID
		o.opts.Cues.Play(CueSaved)
		o.opts.Notifier.Notify(Notice{Title: "Saved", Message: rec.Path})
		o.logger.Info("take saved", "take", rec.ID, "file", rec.Path)
	case wantSave:
		o.opts.Cues.Play(CueFailed)
		o.opts.Notifier.Notify(Notice{Title: "Save failed", Message: fmt.Sprintf("take %s could not be saved", rec.ID), Failed: true})
	default:
		o.logger.Info("take resolved", "take", rec.ID, "outcome", rec.Outcome, "file", rec.Path)
	}
}

// Shutdown stops any recording, waits up to Timeout for the recorder to
// close the file, settles the take and closes the session backend. Saves
// offered while it waits still apply to the take. Only the first call has
// any effect.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.shutdownOnce.Do(func() { o.shutdown(ctx) })
}

func (o *Orchestrator) shutdown(ctx context.Context) {
	now := time.Now()
	for _, r := range o.saves.drain() {
		o.handleSave(r, now)
	}
	o.drainEvents(now)
	o.desired = false

	if o.take != nil {
		if o.needResync && o.ctrl.Connected() {
			o.resync(ctx, now)
		}
		if t := o.take; t != nil {
			t.Stopping = true
			if o.actual && !o.stopIssued && o.canCommand() {
				o.stop(ctx)
			}
			o.awaitStop(ctx)
		}
		if t := o.take; t != nil {
			o.logger.Warn("recording not confirmed stopped; leaving the file in place", "take", t.ID, "file", t.Path)
			rec := t.Record()
			rec.Outcome = model.OutcomeKept
			rec.StoppedAt = time.Now()
			o.opts.Journal.TakeResolved(rec)
			o.take = nil
		}
	}
	for _, rec := range o.takes.Discard() {
		o.opts.Journal.TakeResolved(rec)
	}
	if s := o.sess; s != nil {
		if err := s.backend.Close(); err != nil {
			o.logger.Debug("closing detection backend", "err", err)
		}
		o.sess = nil
	}
	o.closed = true
	o.publish(time.Now())
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) awaitStop(ctx context.Context) {
	if o.opts.Events == nil || !o.stopIssued {
		return
	}
	timer := time.NewTimer(o.opts.Timeout)
	defer timer.Stop()
	for o.take != nil {
		select {
		case r := <-o.saves.ch:
			o.handleSave(r, time.Now())
		case ev, ok := <-o.opts.Events:
			if !ok {
				return
			}
			o.handleEvent(ev, time.Now())
			if ev.Kind == model.ControllerLost {
				return
			}
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}
