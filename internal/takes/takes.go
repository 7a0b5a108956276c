// Package takes decides what happens to a recording once it has stopped:
// relocate it into the per-game library when a save was requested, keep or
// purge it according to the policy otherwise.
//
// Every method is called from the orchestrator's tick; nothing here is
// safe for concurrent use.
package takes

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/idgen"
	"github.com/alfredjeanlab/lastplay/internal/model"
)

// Policy selects what happens to takes nobody asked to save.
type Policy string

const (
	// PolicyOverwrite purges unsaved takes.
	PolicyOverwrite Policy = "overwrite"
	// PolicyAlwaysKeep files every take; a save marks it as a keeper.
	PolicyAlwaysKeep Policy = "always-keep"
)

// retainedName is the base name of the purged take held during the grace window.
const retainedName = "lastplay"

const timeLayout = "2006-01-02_15-04-05"

// Take is a recording in progress or waiting for its stop acknowledgement.
type Take struct {
	ID        string
	Game      string
	StartedAt time.Time

	// SaveRequested is set by a save request accepted before resolution.
	SaveRequested bool
	// Stopping is set once the stop command has been issued.
	Stopping bool
	// Aborted takes left Playing without a result and are never saved.
	Aborted bool
	// Path is the recorder's output file, known from the stop response or
	// the stop acknowledgement.
	Path       string
	Screenshot string
}

// Record converts the take to its history form.
func (t *Take) Record() model.Take {
	return model.Take{
		ID:        t.ID,
		GameID:    t.Game,
		StartedAt: t.StartedAt,
		Outcome:   model.OutcomePending,
		Path:      t.Path,
		Aborted:   t.Aborted,
	}
}

// Options configures a Manager.
type Options struct {
	// Root is the library directory. Empty means the directory the
	// recorder wrote the file to.
	Root   string
	Policy Policy
	// Grace keeps a purged take saveable as "lastplay" for this long.
	// Overwrite policy only; zero purges immediately.
	Grace  time.Duration
	Logger *slog.Logger
	// TempDir holds screenshots until their take resolves.
	TempDir string
}

type retained struct {
	rec   model.Take
	path  string
	shot  string
	until time.Time
}

// Manager resolves stopped takes.
type Manager struct {
	opts     Options
	logger   *slog.Logger
	retained *retained
	expired  []model.Take
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.Policy == "" {
		opts.Policy = PolicyOverwrite
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "lastplay")
	}
	return &Manager{opts: opts, logger: opts.Logger}
}

// SetRoot changes the library directory.
func (m *Manager) SetRoot(root string) { m.opts.Root = root }

// Root returns the library directory ("" when it follows the recorder).
func (m *Manager) Root() string { return m.opts.Root }

// Begin creates the take for a recording that is about to start.
func (m *Manager) Begin(game string, now time.Time) (*Take, error) {
	id, err := idgen.Generate()
	if err != nil {
		return nil, err
	}
	return &Take{ID: id, Game: game, StartedAt: now}, nil
}

// WriteScreenshot stores a frame alongside the take until it resolves.
func (m *Manager) WriteScreenshot(t *Take, img image.Image) error {
	if err := os.MkdirAll(m.opts.TempDir, 0o755); err != nil {
		return fmt.Errorf("creating screenshot dir: %w", err)
	}
	path := filepath.Join(m.opts.TempDir, t.ID+".png")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating screenshot: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("encoding screenshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if t.Screenshot != "" && t.Screenshot != path {
		removeIfExists(t.Screenshot)
	}
	t.Screenshot = path
	return nil
}

// Resolve settles a take whose recording file has been closed. path is the
// file reported by the stop acknowledgement; it may be empty when only the
// stop response carried it. The returned record's Outcome is never pending.
func (m *Manager) Resolve(t *Take, path string, now time.Time) (model.Take, error) {
	if path != "" {
		t.Path = path
	}
	rec := t.Record()
	rec.StoppedAt = now

	if t.Path == "" {
		m.discardScreenshot(t)
		rec.Outcome = model.OutcomeDiscarded
		return rec, errors.New("recorder did not report an output file")
	}

	switch {
	case t.Aborted && m.opts.Policy == PolicyAlwaysKeep:
		return m.relocate(t, rec, filepath.Join(m.gameDir(t), "takes"), model.OutcomeKept)
	case t.Aborted:
		return m.purge(t, rec)
	case t.SaveRequested:
		return m.relocate(t, rec, m.gameDir(t), model.OutcomeSaved)
	case m.opts.Policy == PolicyAlwaysKeep:
		return m.relocate(t, rec, filepath.Join(m.gameDir(t), "takes"), model.OutcomeKept)
	case m.opts.Grace > 0:
		return m.retain(t, rec, now)
	}
	return m.purge(t, rec)
}

// SaveRetained promotes the take held during the grace window. ok is false
// when nothing is retained or the window has passed.
func (m *Manager) SaveRetained(now time.Time) (rec model.Take, ok bool, err error) {
	r := m.retained
	if r == nil || now.After(r.until) {
		return model.Take{}, false, nil
	}
	m.retained = nil

	t := &Take{ID: r.rec.ID, Game: r.rec.GameID, StartedAt: r.rec.StartedAt, Path: r.path, Screenshot: r.shot}
	rec = r.rec
	rec.Path = r.path
	rec, err = m.relocate(t, rec, m.gameDirFor(r.rec.GameID, r.path), model.OutcomeSaved)
	return rec, true, err
}

// Retained reports the take currently held during the grace window.
func (m *Manager) Retained(now time.Time) (model.Take, bool) {
	if m.retained == nil || now.After(m.retained.until) {
		return model.Take{}, false
	}
	return m.retained.rec, true
}

// Sweep purges a retained take whose grace window has passed. It returns
// the final records of every take purged since the last call, including
// retained takes displaced by a newer one.
func (m *Manager) Sweep(now time.Time) []model.Take {
	if r := m.retained; r != nil && now.After(r.until) {
		m.logger.Debug("grace window expired", "take", r.rec.ID)
		m.dropRetained()
	}
	out := m.expired
	m.expired = nil
	return out
}

// Discard purges the retained take regardless of its window and returns
// the pending purged records.
func (m *Manager) Discard() []model.Take {
	if m.retained != nil {
		m.dropRetained()
	}
	out := m.expired
	m.expired = nil
	return out
}

func (m *Manager) dropRetained() {
	r := m.retained
	m.retained = nil
	removeIfExists(r.path)
	removeIfExists(r.shot)
	rec := r.rec
	rec.Outcome = model.OutcomeDiscarded
	rec.Path = ""
	rec.Screenshot = ""
	m.expired = append(m.expired, rec)
}

func (m *Manager) purge(t *Take, rec model.Take) (model.Take, error) {
	m.discardScreenshot(t)
	rec.Outcome = model.OutcomeDiscarded
	rec.Path = ""
	if err := removeIfExists(t.Path); err != nil {
		return rec, fmt.Errorf("purging %s: %w", t.Path, err)
	}
	m.logger.Debug("take purged", "take", t.ID, "file", t.Path)
	return rec, nil
}

func (m *Manager) retain(t *Take, rec model.Take, now time.Time) (model.Take, error) {
	if m.retained != nil {
		m.logger.Debug("replacing retained take", "take", m.retained.rec.ID)
		m.dropRetained()
	}
	root := m.rootFor(t.Path)
	dst := filepath.Join(root, retainedName+filepath.Ext(t.Path))
	if err := moveFile(t.Path, dst); err != nil {
		// Leave the file where the recorder put it rather than lose it.
		rec.Outcome = model.OutcomeKept
		return rec, fmt.Errorf("retaining %s: %w", t.Path, err)
	}
	shot := ""
	if t.Screenshot != "" {
		shot = filepath.Join(root, retainedName+".png")
		if err := moveFile(t.Screenshot, shot); err != nil {
			shot = ""
			removeIfExists(t.Screenshot)
		}
	}
	rec.Outcome = model.OutcomeRetained
	rec.Path = dst
	m.retained = &retained{rec: rec, path: dst, shot: shot, until: now.Add(m.opts.Grace)}
	return rec, nil
}

func (m *Manager) relocate(t *Take, rec model.Take, dir string, outcome model.Outcome) (model.Take, error) {
	dst, err := uniquePath(dir, fmt.Sprintf("%s_%s", t.Game, t.StartedAt.Format(timeLayout)), filepath.Ext(t.Path))
	if err != nil {
		rec.Outcome = model.OutcomeKept
		return rec, err
	}
	if err := moveFile(t.Path, dst); err != nil {
		rec.Outcome = model.OutcomeKept
		return rec, fmt.Errorf("moving %s: %w", t.Path, err)
	}
	rec.Outcome = outcome
	rec.Path = dst
	if t.Screenshot != "" {
		shot := strings.TrimSuffix(dst, filepath.Ext(dst)) + ".png"
		if err := moveFile(t.Screenshot, shot); err != nil {
			m.logger.Warn("moving screenshot", "take", t.ID, "err", err)
		} else {
			rec.Screenshot = shot
		}
	}
	return rec, nil
}

func (m *Manager) discardScreenshot(t *Take) {
	if t.Screenshot != "" {
		removeIfExists(t.Screenshot)
		t.Screenshot = ""
	}
}

func (m *Manager) rootFor(path string) string {
	if m.opts.Root != "" {
		return m.opts.Root
	}
	return filepath.Dir(path)
}

func (m *Manager) gameDir(t *Take) string {
	return m.gameDirFor(t.Game, t.Path)
}

func (m *Manager) gameDirFor(game, path string) string {
	return filepath.Join(m.rootFor(path), game)
}

// uniquePath returns dir/base+ext, or dir/base-N+ext if that exists.
func uniquePath(dir, base, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	p := filepath.Join(dir, base+ext)
	for n := 2; ; n++ {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		p = filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, n, ext))
	}
}

// moveFile renames src to dst, copying when the rename crosses volumes.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	removeIfExists(dst)
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if _, serr := os.Stat(src); serr != nil {
		return err
	}
	if cerr := copyFile(src, dst); cerr != nil {
		os.Remove(dst)
		return fmt.Errorf("%w (copy fallback: %v)", err, cerr)
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// LatestRecording returns the newest file in dir modified at or after
// since, ignoring screenshots and the retained take. It returns "" when
// there is none.
func LatestRecording(dir string, since time.Time) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, retainedName+".") || strings.EqualFold(filepath.Ext(name), ".png") {
			continue
		}
		fi, err := e.Info()
		if err != nil || fi.ModTime().Before(since) {
			continue
		}
		if best == "" || fi.ModTime().After(bestMod) {
			best, bestMod = filepath.Join(dir, name), fi.ModTime()
		}
	}
	return best, nil
}

func removeIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
