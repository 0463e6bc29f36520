// Package robotgoio implements internal/platform's InputTap, InputSink,
// and Clipboard collaborators on top of robotgo and its underlying global
// hook library, gohook. Grounded on the reference agent's pattern of one
// thin platform-specific file per OS primitive (the agent's
// collectors/hardware_*.go split), collapsed here into this file for the
// input and clipboard collaborators (screen.go holds the screen source)
// since robotgo already abstracts the three desktop OSes.
package robotgoio

import (
	"fmt"
	"sync"

	"github.com/go-vgo/robotgo"
	hook "github.com/robotn/gohook"

	"github.com/pairkvm/kvm/internal/platform"
)

// Tap is a platform.InputTap backed by gohook's global keyboard/mouse
// listener.
type Tap struct {
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func NewTap() *Tap { return &Tap{} }

func (t *Tap) Start(onEvent func(platform.TapEvent) (forward bool)) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("robotgoio: tap already running")
	}
	t.running = true
	t.stopCh = make(chan struct{})
	stop := t.stopCh
	t.mu.Unlock()

	events := hook.Start()
	go func() {
		defer hook.End()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if tapEv, ok := translateEvent(ev); ok {
					onEvent(tapEv)
				}
			}
		}
	}()
	return nil
}

func (t *Tap) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	t.running = false
	close(t.stopCh)
	return nil
}

func (t *Tap) CursorPosition() (float64, float64, error) {
	x, y := robotgo.Location()
	return float64(x), float64(y), nil
}

func (t *Tap) WarpCursor(x, y float64) error {
	robotgo.Move(int(x), int(y))
	return nil
}

// HideCursor/ShowCursor: robotgo exposes no cursor-visibility primitive on
// any of its three backends, so these are no-ops and do not affect what
// the OS actually renders. The cursor-lock loop (internal/session)
// still pins the pointer in place via repeated WarpCursor calls, which is
// what actually prevents the user from dragging the local cursor out from
// under the handoff.
func (t *Tap) HideCursor() error { return nil }
func (t *Tap) ShowCursor() error { return nil }

func (t *Tap) LockCursor() error   { return nil }
func (t *Tap) UnlockCursor() error { return nil }

func translateEvent(ev hook.Event) (platform.TapEvent, bool) {
	switch ev.Kind {
	case hook.KeyDown, hook.KeyUp:
		return platform.TapEvent{
			Kind:   platform.TapKeyboard,
			VKCode: uint16(ev.Rawcode),
			IsDown: ev.Kind == hook.KeyDown,
		}, true
	case hook.MouseMove, hook.MouseDrag:
		return platform.TapEvent{
			Kind: platform.TapMouseMove,
			X:    float64(ev.X),
			Y:    float64(ev.Y),
		}, true
	case hook.MouseDown, hook.MouseUp:
		return platform.TapEvent{
			Kind:   platform.TapMouseButton,
			X:      float64(ev.X),
			Y:      float64(ev.Y),
			Button: mouseButtonName(ev.Button),
			IsDown: ev.Kind == hook.MouseDown,
		}, true
	case hook.MouseWheel:
		return platform.TapEvent{
			Kind:    platform.TapScroll,
			X:       float64(ev.X),
			Y:       float64(ev.Y),
			ScrollY: float64(ev.Rotation),
		}, true
	default:
		return platform.TapEvent{}, false
	}
}

func mouseButtonName(code uint8) string {
	switch code {
	case hook.MouseMap["left"]:
		return "left"
	case hook.MouseMap["right"]:
		return "right"
	default:
		return "other"
	}
}

// Sink is a platform.InputSink that injects synthetic input via robotgo.
type Sink struct{}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) PostKey(vkCode uint16, modifiers platform.KeyModifier, isDown bool) error {
	key := keyName(vkCode)
	if key == "" {
		return fmt.Errorf("robotgoio: unmapped vk code %d", vkCode)
	}
	state := "up"
	if isDown {
		state = "down"
	}
	return robotgo.KeyToggle(key, state, modifierNames(modifiers)...)
}

func (s *Sink) PostMouseMove(x, y float64) error {
	robotgo.Move(int(x), int(y))
	return nil
}

func (s *Sink) PostMouseButton(x, y float64, button string, isDown bool, clickCount int) error {
	robotgo.Move(int(x), int(y))
	state := "up"
	if isDown {
		state = "down"
	}
	if err := robotgo.Toggle(button, state); err != nil {
		return fmt.Errorf("robotgoio: toggle %s %s: %w", button, state, err)
	}
	if isDown && clickCount >= 2 {
		robotgo.Click(button, true)
	}
	return nil
}

// PostScroll injects a scroll via robotgo.Scroll. robotgo exposes no
// phase-aware scroll primitive akin to macOS's NSEvent phase/momentumPhase
// (trackpad gesture progress and post-release momentum) — there is no
// underlying call to hand them to, so phase and momentumPhase are
// accepted to satisfy platform.InputSink's signature but go no further
// than this, the same genuine collaborator limitation as Tap's inbound
// side in translateEvent.
func (s *Sink) PostScroll(x, y float64, scrollX, scrollY float64, phase, momentumPhase string) error {
	_ = phase
	_ = momentumPhase
	robotgo.Move(int(x), int(y))
	robotgo.Scroll(int(scrollX), int(scrollY))
	return nil
}

func modifierNames(m platform.KeyModifier) []string {
	var mods []string
	if m&platform.ModShift != 0 {
		mods = append(mods, "shift")
	}
	if m&platform.ModControl != 0 {
		mods = append(mods, "ctrl")
	}
	if m&platform.ModAlt != 0 {
		mods = append(mods, "alt")
	}
	if m&platform.ModMeta != 0 {
		mods = append(mods, "cmd")
	}
	return mods
}

// keyName maps the wire protocol's VK codes (mirroring the originating
// host's native virtual-key numbering) onto robotgo key name strings.
// Only the keys a remote-desktop session realistically needs are mapped;
// anything else is dropped rather than guessed at.
func keyName(vk uint16) string {
	if name, ok := vkNames[vk]; ok {
		return name
	}
	return ""
}

var vkNames = map[uint16]string{
	8: "backspace", 9: "tab", 13: "enter", 27: "esc", 32: "space",
	37: "left", 38: "up", 39: "right", 40: "down",
	46: "delete", 36: "home", 35: "end", 33: "pageup", 34: "pagedown",
	112: "f1", 113: "f2", 114: "f3", 115: "f4", 116: "f5", 117: "f6",
	118: "f7", 119: "f8", 120: "f9", 121: "f10", 122: "f11", 123: "f12",
	48: "0", 49: "1", 50: "2", 51: "3", 52: "4",
	53: "5", 54: "6", 55: "7", 56: "8", 57: "9",
	65: "a", 66: "b", 67: "c", 68: "d", 69: "e", 70: "f", 71: "g", 72: "h",
	73: "i", 74: "j", 75: "k", 76: "l", 77: "m", 78: "n", 79: "o", 80: "p",
	81: "q", 82: "r", 83: "s", 84: "t", 85: "u", 86: "v", 87: "w", 88: "x",
	89: "y", 90: "z",
}

// Clipboard is a platform.Clipboard backed by robotgo's pasteboard access,
// with a process-local change counter since robotgo exposes no native
// pasteboard change-count API (§6 "Clipboard", internal/clipboard debounces
// on exactly this counter).
type Clipboard struct {
	mu      sync.Mutex
	counter uint64
	lastStr string
}

func NewClipboard() *Clipboard { return &Clipboard{} }

func (c *Clipboard) ReadText() (string, error) {
	text, err := robotgo.ReadAll()
	if err != nil {
		return "", fmt.Errorf("robotgoio: read clipboard: %w", err)
	}
	c.mu.Lock()
	if text != c.lastStr {
		c.lastStr = text
		c.counter++
	}
	c.mu.Unlock()
	return text, nil
}

func (c *Clipboard) WriteText(text string) error {
	if err := robotgo.WriteAll(text); err != nil {
		return fmt.Errorf("robotgoio: write clipboard: %w", err)
	}
	c.mu.Lock()
	c.lastStr = text
	c.counter++
	c.mu.Unlock()
	return nil
}

func (c *Clipboard) ChangeCount() (uint64, error) {
	if _, err := c.ReadText(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter, nil
}
