//go:build windows

package hotkey

import (
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	modNoRepeat = 0x4000
	wmHotkey    = 0x0312
	wmQuit      = 0x0012
	hotkeyID    = 1
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procRegisterHotKey   = user32.NewProc("RegisterHotKey")
	procUnregisterHotKey = user32.NewProc("UnregisterHotKey")
	procGetMessageW      = user32.NewProc("GetMessageW")
	procPostThreadMsgW   = user32.NewProc("PostThreadMessageW")
)

type msg struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      struct{ x, y int32 }
}

type platform struct {
	threadID uint32
	done     chan struct{}
}

// Elevated reports whether the process token is elevated.
func Elevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

// start runs the message loop on its own locked OS thread: hotkey messages
// are posted to the thread that registered the binding.
func (l *Listener) start() error {
	ready := make(chan error, 1)
	l.done = make(chan struct{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(l.done)

		l.threadID = windows.GetCurrentThreadId()
		mods := uintptr(l.opts.Binding.Mods | modNoRepeat)
		r, _, err := procRegisterHotKey.Call(0, hotkeyID, mods, uintptr(l.opts.Binding.Key))
		if r == 0 {
			ready <- fmt.Errorf("register hotkey %s: %w", l.opts.Binding.Name, err)
			return
		}
		defer procUnregisterHotKey.Call(0, hotkeyID)
		ready <- nil

		var m msg
		for {
			r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
			// 0 is WM_QUIT, -1 an error.
			if int32(r) <= 0 {
				return
			}
			if m.message == wmHotkey && m.wParam == hotkeyID {
				l.press(time.Now())
			}
		}
	}()
	if err := <-ready; err != nil {
		<-l.done
		return err
	}
	return nil
}

func (l *Listener) stop() error {
	r, _, err := procPostThreadMsgW.Call(uintptr(l.threadID), wmQuit, 0, 0)
	if r == 0 {
		return fmt.Errorf("stop hotkey loop: %w", err)
	}
	<-l.done
	return nil
}
