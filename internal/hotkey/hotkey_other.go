//go:build !windows

package hotkey

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"
)

// platform reads the binding from stdin. A raw-mode terminal is read byte
// by byte; anything else (a pipe, a service manager) counts each line as a
// press.
type platform struct {
	mu       sync.Mutex
	restore  *term.State
	stopping bool
}

// Elevated is always true: only Windows isolates elevated windows from
// unelevated hooks.
func Elevated() bool { return true }

func (l *Listener) start() error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		go l.readLines()
		return nil
	}
	want, ok := l.opts.Binding.TerminalByte()
	if !ok {
		return fmt.Errorf("key binding %s cannot be read from a terminal", l.opts.Binding.Name)
	}
	st, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set terminal raw mode: %w", err)
	}
	l.restore = st
	go l.readRaw(want)
	return nil
}

func (l *Listener) readRaw(want byte) {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if l.isStopping() || err != nil {
			return
		}
		if n == 0 {
			continue
		}
		switch buf[0] {
		case want:
			l.press(time.Now())
		case 0x03:
			// Raw mode swallows ctrl+c; deliver it as the signal it would
			// have been.
			syscall.Kill(os.Getpid(), syscall.SIGINT)
		}
	}
}

func (l *Listener) readLines() {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if l.isStopping() {
			return
		}
		l.press(time.Now())
	}
}

func (l *Listener) isStopping() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopping
}

// stop restores the terminal. A read already blocked on stdin cannot be
// interrupted, so the reader is not waited for; it discards whatever it
// reads next and exits.
func (l *Listener) stop() error {
	l.mu.Lock()
	l.stopping = true
	l.mu.Unlock()
	var err error
	if l.restore != nil {
		err = term.Restore(int(os.Stdin.Fd()), l.restore)
	}
	return err
}
