// Package hotkey delivers save requests from a global key binding.
//
// On Windows the binding is registered with RegisterHotKey and serviced by
// a message loop on a locked OS thread. Elsewhere a terminal listener reads
// the binding from a raw-mode stdin. Both debounce to one request per press
// and hand requests to the orchestrator through a non-blocking offer.
package hotkey

import (
	"fmt"
	"strings"
)

// Modifier flags, with the values RegisterHotKey expects.
const (
	ModAlt   uint32 = 0x0001
	ModCtrl  uint32 = 0x0002
	ModShift uint32 = 0x0004
	ModWin   uint32 = 0x0008
)

// Binding is a parsed key combination.
type Binding struct {
	Mods uint32
	// Key is the Windows virtual-key code.
	Key  uint32
	Name string
}

func (b Binding) String() string { return b.Name }

var modifiers = map[string]uint32{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"alt":     ModAlt,
	"shift":   ModShift,
	"win":     ModWin,
	"super":   ModWin,
}

var namedKeys = map[string]uint32{
	"space":     0x20,
	"enter":     0x0D,
	"return":    0x0D,
	"tab":       0x09,
	"esc":       0x1B,
	"escape":    0x1B,
	"backspace": 0x08,
	"insert":    0x2D,
	"delete":    0x2E,
	"home":      0x24,
	"end":       0x23,
	"pageup":    0x21,
	"pagedown":  0x22,
	"up":        0x26,
	"down":      0x28,
	"left":      0x25,
	"right":     0x27,
	"pause":     0x13,
}

// ParseBinding parses "key" or "modifier+...+key", e.g. "space", "f9",
// "ctrl+shift+s". Names are case-insensitive.
func ParseBinding(s string) (Binding, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return Binding{}, fmt.Errorf("empty key binding")
	}
	parts := strings.Split(name, "+")
	b := Binding{Name: name}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return Binding{}, fmt.Errorf("invalid key binding %q", s)
		}
		if i < len(parts)-1 {
			m, ok := modifiers[p]
			if !ok {
				return Binding{}, fmt.Errorf("unknown modifier %q in %q", p, s)
			}
			b.Mods |= m
			continue
		}
		vk, ok := virtualKey(p)
		if !ok {
			return Binding{}, fmt.Errorf("unknown key %q in %q", p, s)
		}
		b.Key = vk
	}
	return b, nil
}

func virtualKey(name string) (uint32, bool) {
	if vk, ok := namedKeys[name]; ok {
		return vk, true
	}
	if len(name) == 1 {
		c := name[0]
		switch {
		case c >= 'a' && c <= 'z':
			return uint32(c-'a') + 0x41, true
		case c >= '0' && c <= '9':
			return uint32(c-'0') + 0x30, true
		}
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(name, "f%d", &n); err == nil && name == fmt.Sprintf("f%d", n) && n >= 1 && n <= 24 {
		return 0x70 + uint32(n-1), true
	}
	if _, err := fmt.Sscanf(name, "num%d", &n); err == nil && name == fmt.Sprintf("num%d", n) && n >= 0 && n <= 9 {
		return 0x60 + uint32(n), true
	}
	return 0, false
}

// TerminalByte returns the byte a terminal in raw mode sends for b, when
// there is one: plain letters, digits and space, ctrl+letter and
// ctrl+space.
func (b Binding) TerminalByte() (byte, bool) {
	switch b.Mods {
	case 0:
		switch {
		case b.Key >= 0x41 && b.Key <= 0x5A:
			return byte(b.Key-0x41) + 'a', true
		case b.Key >= 0x30 && b.Key <= 0x39:
			return byte(b.Key-0x30) + '0', true
		case b.Key == 0x20:
			return ' ', true
		case b.Key == 0x0D:
			return '\r', true
		}
	case ModCtrl:
		switch {
		case b.Key >= 0x41 && b.Key <= 0x5A && b.Key != 0x43: // ctrl+c stays an interrupt
			return byte(b.Key-0x41) + 1, true
		case b.Key == 0x20:
			return 0x00, true
		}
	}
	return 0, false
}
