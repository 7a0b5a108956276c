package detect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// maxReadPerPoll bounds how much of a log is consumed in one call.
const maxReadPerPoll = 1 << 20

// headSize is how much of the start of a log is remembered to recognise
// a file that was truncated and rewritten between polls.
const headSize = 64

// Tailer reads complete lines appended to a file since the previous call.
// It follows truncation and rotation (the path now names a different file)
// by restarting from the beginning of the new content, and holds back a
// trailing partial line until its newline arrives. A file truncated and
// regrown past the read offset between two polls is recognised by its
// first bytes and the byte before the offset no longer matching.
type Tailer struct {
	path string

	file    *os.File
	info    os.FileInfo
	offset  int64
	partial []byte
	primed  bool

	head []byte // first bytes of the file, up to headSize
	last byte   // byte at offset-1
}

// NewTailer creates a tailer for path. Content already present the first
// time the file is seen is skipped.
func NewTailer(path string) *Tailer {
	return &Tailer{path: path}
}

// Path returns the tailed path.
func (t *Tailer) Path() string { return t.path }

// Lines returns the complete lines appended since the last call, without
// line terminators. A missing file is reported as an error wrapping
// fs.ErrNotExist.
func (t *Tailer) Lines() ([]string, error) {
	fi, err := os.Stat(t.path)
	if err != nil {
		t.closeFile()
		t.primed = true
		return nil, err
	}

	switch {
	case t.file == nil || !os.SameFile(t.info, fi):
		if err := t.open(fi); err != nil {
			return nil, err
		}
	case fi.Size() < t.offset || t.rewritten():
		t.offset = 0
		t.partial = nil
		t.head = nil
	}
	t.info = fi

	n := fi.Size() - t.offset
	if n <= 0 {
		return nil, nil
	}
	if n > maxReadPerPoll {
		n = maxReadPerPoll
	}
	buf := make([]byte, n)
	read, err := t.file.ReadAt(buf, t.offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s: %w", t.path, err)
	}
	t.offset += int64(read)
	if read > 0 {
		t.last = buf[read-1]
	}
	t.remember()
	return t.split(buf[:read]), nil
}

// rewritten reports whether the bytes already consumed differ from what
// the file holds now.
func (t *Tailer) rewritten() bool {
	if t.offset == 0 {
		return false
	}
	var b [1]byte
	if _, err := t.file.ReadAt(b[:], t.offset-1); err != nil || b[0] != t.last {
		return true
	}
	if len(t.head) == 0 {
		return false
	}
	buf := make([]byte, len(t.head))
	n, _ := t.file.ReadAt(buf, 0)
	return !bytes.Equal(buf[:n], t.head)
}

func (t *Tailer) remember() {
	n := min(t.offset, headSize)
	if int64(len(t.head)) == n {
		return
	}
	buf := make([]byte, n)
	read, _ := t.file.ReadAt(buf, 0)
	t.head = buf[:read]
}

func (t *Tailer) open(fi os.FileInfo) error {
	t.closeFile()
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	t.file = f
	t.partial = nil
	t.offset = 0
	t.head = nil
	if !t.primed {
		t.offset = fi.Size()
		if t.offset > 0 {
			var b [1]byte
			if _, err := f.ReadAt(b[:], t.offset-1); err == nil {
				t.last = b[0]
			}
		}
	}
	t.primed = true
	t.remember()
	return nil
}

func (t *Tailer) split(data []byte) []string {
	if len(t.partial) > 0 {
		data = append(t.partial, data...)
		t.partial = nil
	}
	var lines []string
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(data[:i], "\r")))
		data = data[i+1:]
	}
	if len(data) > 0 {
		t.partial = append([]byte(nil), data...)
	}
	return lines
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// Close releases the file handle.
func (t *Tailer) Close() error {
	t.closeFile()
	return nil
}

// IsMissing reports whether err means the log does not exist (yet).
func IsMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
