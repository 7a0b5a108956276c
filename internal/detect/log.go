package detect

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// maxPendingEvents bounds the states recognised but not yet reported.
const maxPendingEvents = 64

// LogBackend reports states from events appended to a game's log file.
// Every recognised event is reported exactly once, in file order, one per
// Sample call. A Playing event following another Playing event is
// reported as a restart.
type LogBackend struct {
	tail    *Tailer
	parser  eventParser
	pending []model.State
	last    model.State
	logger  *slog.Logger
}

type eventParser interface {
	feed(line string) (model.State, bool)
}

// NewLogBackend creates a backend tailing path.
func NewLogBackend(p *model.GameProfile, path string, logger *slog.Logger) (*LogBackend, error) {
	var (
		parser eventParser
		err    error
	)
	switch p.Detection.Format {
	case model.LogFormatJULXML:
		parser, err = newJULParser(p.Detection.Patterns)
	case model.LogFormatLines, "":
		parser, err = newLineParser(p.Detection.Patterns)
	default:
		err = fmt.Errorf("unknown log format %q", p.Detection.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", p.ID, err)
	}
	return &LogBackend{tail: NewTailer(path), parser: parser, logger: logger}, nil
}

// Sample reads newly appended lines and reports the oldest unreported event.
func (b *LogBackend) Sample(ctx context.Context, now time.Time) model.StateSample {
	lines, err := b.tail.Lines()
	if err != nil {
		if IsMissing(err) {
			b.logger.Debug("log not found", "path", b.tail.Path())
		} else {
			b.logger.Debug("log read failed", "path", b.tail.Path(), "err", err)
		}
	}
	for _, line := range lines {
		if s, ok := b.parser.feed(line); ok {
			if len(b.pending) == maxPendingEvents {
				b.pending = b.pending[1:]
			}
			b.pending = append(b.pending, s)
		}
	}
	if len(b.pending) == 0 {
		return model.NoSample
	}
	s := b.pending[0]
	b.pending = b.pending[1:]
	sample := model.Sample(s, now)
	sample.Restart = s == model.StatePlaying && b.last == model.StatePlaying
	b.last = s
	return sample
}

// Close releases the log file handle.
func (b *LogBackend) Close() error {
	return b.tail.Close()
}

type linePattern struct {
	state model.State
	re    *regexp.Regexp
}

// lineParser treats every line as a potential event. When several patterns
// match one line the last one wins.
type lineParser struct {
	patterns []linePattern
}

func newLineParser(patterns []model.LogPattern) (*lineParser, error) {
	lp := &lineParser{}
	for _, p := range patterns {
		re, err := regexp.Compile(p.Match)
		if err != nil {
			return nil, fmt.Errorf("pattern for %s: %w", p.State, err)
		}
		lp.patterns = append(lp.patterns, linePattern{state: p.State, re: re})
	}
	return lp, nil
}

func (lp *lineParser) feed(line string) (model.State, bool) {
	var (
		state model.State
		found bool
	)
	for _, p := range lp.patterns {
		if p.re.MatchString(line) {
			state, found = p.state, true
		}
	}
	return state, found
}

// julRecord is one java.util.logging XMLFormatter record.
type julRecord struct {
	Date    string `xml:"date"`
	Logger  string `xml:"logger"`
	Level   string `xml:"level"`
	Class   string `xml:"class"`
	Method  string `xml:"method"`
	Message string `xml:"message"`
}

type julPattern struct {
	state  model.State
	class  string
	method string
	re     *regexp.Regexp
}

func (p julPattern) matches(r *julRecord) bool {
	if p.class != "" && !strings.Contains(r.Class, p.class) {
		return false
	}
	if p.method != "" && !strings.Contains(r.Method, p.method) {
		return false
	}
	if p.re != nil && !p.re.MatchString(r.Message) {
		return false
	}
	return true
}

// maxRecordLines caps a record that never closes.
const maxRecordLines = 256

// julParser assembles <record>...</record> blocks spanning several lines.
type julParser struct {
	patterns []julPattern
	buf      []string
	open     bool
}

func newJULParser(patterns []model.LogPattern) (*julParser, error) {
	jp := &julParser{}
	for _, p := range patterns {
		jpat := julPattern{state: p.State, class: p.Class, method: p.Method}
		if p.Match != "" {
			re, err := regexp.Compile(p.Match)
			if err != nil {
				return nil, fmt.Errorf("pattern for %s: %w", p.State, err)
			}
			jpat.re = re
		}
		jp.patterns = append(jp.patterns, jpat)
	}
	return jp, nil
}

func (jp *julParser) feed(line string) (model.State, bool) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "<record>") {
		jp.buf = jp.buf[:0]
		jp.open = true
	}
	if !jp.open {
		return "", false
	}
	jp.buf = append(jp.buf, line)
	if !strings.HasSuffix(trimmed, "</record>") {
		if len(jp.buf) >= maxRecordLines {
			jp.buf = jp.buf[:0]
			jp.open = false
		}
		return "", false
	}
	jp.open = false

	var rec julRecord
	if err := xml.Unmarshal([]byte(strings.Join(jp.buf, "\n")), &rec); err != nil {
		return "", false
	}
	var (
		state model.State
		found bool
	)
	for _, p := range jp.patterns {
		if p.matches(&rec) {
			state, found = p.state, true
		}
	}
	return state, found
}
