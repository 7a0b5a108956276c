//go:build windows

package detect

import (
	"fmt"
	"image"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procGetWindowTextLength = user32.NewProc("GetWindowTextLengthW")
	procGetWindowText       = user32.NewProc("GetWindowTextW")
	procGetClientRect       = user32.NewProc("GetClientRect")
	procClientToScreen      = user32.NewProc("ClientToScreen")
	procSetProcessDPIAware  = user32.NewProc("SetProcessDPIAware")
)

type point struct{ X, Y int32 }

type win32Probe struct{}

// NewForegroundProbe returns the platform's foreground window probe. The
// process is marked DPI aware so client rectangles are in physical pixels.
func NewForegroundProbe() WindowProbe {
	procSetProcessDPIAware.Call()
	return win32Probe{}
}

func (win32Probe) Foreground() (Window, error) {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return Window{}, ErrNoWindow
	}

	w := Window{Title: windowText(hwnd)}

	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err == nil {
		w.PID = pid
		w.Exe = processImage(pid)
	}

	var rc windows.Rect
	if r, _, err := procGetClientRect.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&rc))); r == 0 {
		return w, fmt.Errorf("GetClientRect: %w", err)
	}
	origin := point{}
	if r, _, err := procClientToScreen.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&origin))); r == 0 {
		return w, fmt.Errorf("ClientToScreen: %w", err)
	}
	w.Bounds = image.Rect(int(origin.X), int(origin.Y),
		int(origin.X+rc.Right-rc.Left), int(origin.Y+rc.Bottom-rc.Top))
	return w, nil
}

// stillActive is the exit code GetExitCodeProcess reports for a running process.
const stillActive = 259

func (win32Probe) Alive(pid uint32) bool {
	if pid == 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

func windowText(hwnd windows.HWND) string {
	n, _, _ := procGetWindowTextLength.Call(uintptr(hwnd))
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	procGetWindowText.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf)
}

func processImage(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:size])
}
