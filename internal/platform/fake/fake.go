// Package fake provides in-memory stub implementations of every
// internal/platform collaborator interface, for unit tests of
// internal/session. Grounded on the reference agent's stubEncoder test
// pattern (adaptive_test.go): small structs that record calls and return
// canned values, not a mocking library.
package fake

import (
	"image"
	"strconv"
	"sync"

	"github.com/pairkvm/kvm/internal/platform"
)

// ScreenSource is a stub platform.ScreenSource that delivers frames only
// when the test calls Emit.
type ScreenSource struct {
	mu        sync.Mutex
	onFrame   func(*image.RGBA, uint32)
	onError   func(error)
	Width     int
	Height    int
	Started   bool
	Stopped   bool
	BoundsW   int
	BoundsH   int
}

func NewScreenSource(boundsW, boundsH int) *ScreenSource {
	return &ScreenSource{BoundsW: boundsW, BoundsH: boundsH}
}

func (s *ScreenSource) Configure(width, height, frameRate int) error {
	s.Width, s.Height = width, height
	return nil
}

func (s *ScreenSource) Start(onFrame func(*image.RGBA, uint32), onError func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFrame, s.onError = onFrame, onError
	s.Started = true
	return nil
}

func (s *ScreenSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stopped = true
	return nil
}

func (s *ScreenSource) Bounds() (int, int, error) { return s.BoundsW, s.BoundsH, nil }

// Emit delivers a synthetic frame to the registered callback, for tests
// driving the capture pipeline.
func (s *ScreenSource) Emit(img *image.RGBA, timestampMS uint32) {
	s.mu.Lock()
	cb := s.onFrame
	s.mu.Unlock()
	if cb != nil {
		cb(img, timestampMS)
	}
}

// Encoder is a stub platform.VideoEncoder that returns a canned payload
// and honors ForceKeyframe for the next Encode call.
type Encoder struct {
	mu            sync.Mutex
	forceKeyframe bool
	Closed        bool
	CodecName     string
	EncodeCount   int
	BitrateKbps   int
}

func NewEncoder(codec string) *Encoder { return &Encoder{CodecName: codec} }

func (e *Encoder) Encode(img *image.RGBA, timestampMS uint32) (platform.EncodedFrame, error) {
	e.mu.Lock()
	key := e.forceKeyframe
	e.forceKeyframe = false
	e.EncodeCount++
	e.mu.Unlock()
	return platform.EncodedFrame{
		Payload:     []byte{0x65, 0x00, 0x01},
		Keyframe:    key,
		TimestampMS: timestampMS,
	}, nil
}

func (e *Encoder) ForceKeyframe() {
	e.mu.Lock()
	e.forceKeyframe = true
	e.mu.Unlock()
}

func (e *Encoder) SetBitrate(kbps int) error {
	e.mu.Lock()
	e.BitrateKbps = kbps
	e.mu.Unlock()
	return nil
}

func (e *Encoder) Codec() string { return e.CodecName }

func (e *Encoder) Close() error { e.Closed = true; return nil }

// Decoder is a stub platform.VideoDecoder.
type Decoder struct {
	onChange func(platform.ParameterSetChange)
	Closed   bool
}

func (d *Decoder) Decode(payload []byte) (*image.RGBA, bool, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), true, nil
}

func (d *Decoder) OnParameterSetChange(fn func(platform.ParameterSetChange)) { d.onChange = fn }

func (d *Decoder) Close() error { d.Closed = true; return nil }

// InputTap is a stub platform.InputTap that records warp/hide/lock calls
// and lets tests inject synthetic tap events via Emit.
type InputTap struct {
	mu         sync.Mutex
	onEvent    func(platform.TapEvent) bool
	CursorX    float64
	CursorY    float64
	Hidden     bool
	Locked     bool
	WarpCalls  []struct{ X, Y float64 }
	Started    bool
	Stopped    bool
}

func (t *InputTap) Start(onEvent func(platform.TapEvent) bool) error {
	t.mu.Lock()
	t.onEvent = onEvent
	t.Started = true
	t.mu.Unlock()
	return nil
}

func (t *InputTap) Stop() error { t.Stopped = true; return nil }

func (t *InputTap) CursorPosition() (float64, float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CursorX, t.CursorY, nil
}

func (t *InputTap) WarpCursor(x, y float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CursorX, t.CursorY = x, y
	t.WarpCalls = append(t.WarpCalls, struct{ X, Y float64 }{x, y})
	return nil
}

func (t *InputTap) HideCursor() error { t.Hidden = true; return nil }
func (t *InputTap) ShowCursor() error { t.Hidden = false; return nil }
func (t *InputTap) LockCursor() error { t.Locked = true; return nil }
func (t *InputTap) UnlockCursor() error { t.Locked = false; return nil }

// Emit delivers a synthetic tap event to the registered callback and
// returns whether the caller should forward it to the OS.
func (t *InputTap) Emit(ev platform.TapEvent) bool {
	t.mu.Lock()
	cb := t.onEvent
	t.mu.Unlock()
	if cb == nil {
		return true
	}
	return cb(ev)
}

// InputSink is a stub platform.InputSink that records posted events.
type InputSink struct {
	mu     sync.Mutex
	Keys   []struct {
		VKCode    uint16
		Modifiers platform.KeyModifier
		IsDown    bool
	}
	Moves []struct{ X, Y float64 }
	Buttons []struct {
		X, Y       float64
		Button     string
		IsDown     bool
		ClickCount int
	}
	Scrolls []struct {
		X, Y                  float64
		ScrollX, ScrollY       float64
		Phase, MomentumPhase   string
	}
}

func (s *InputSink) PostKey(vkCode uint16, modifiers platform.KeyModifier, isDown bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Keys = append(s.Keys, struct {
		VKCode    uint16
		Modifiers platform.KeyModifier
		IsDown    bool
	}{vkCode, modifiers, isDown})
	return nil
}

func (s *InputSink) PostMouseMove(x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Moves = append(s.Moves, struct{ X, Y float64 }{x, y})
	return nil
}

func (s *InputSink) PostMouseButton(x, y float64, button string, isDown bool, clickCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Buttons = append(s.Buttons, struct {
		X, Y       float64
		Button     string
		IsDown     bool
		ClickCount int
	}{x, y, button, isDown, clickCount})
	return nil
}

func (s *InputSink) PostScroll(x, y float64, scrollX, scrollY float64, phase, momentumPhase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scrolls = append(s.Scrolls, struct {
		X, Y                 float64
		ScrollX, ScrollY     float64
		Phase, MomentumPhase string
	}{x, y, scrollX, scrollY, phase, momentumPhase})
	return nil
}

// Clipboard is a stub platform.Clipboard with a manually-advanced change
// counter, matching how a real OS pasteboard's change count behaves.
type Clipboard struct {
	mu      sync.Mutex
	text    string
	changes uint64
}

func (c *Clipboard) ReadText() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, nil
}

func (c *Clipboard) WriteText(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = s
	c.changes++
	return nil
}

func (c *Clipboard) ChangeCount() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes, nil
}

// SetTextExternally simulates another process changing the pasteboard,
// advancing the change counter without going through WriteText.
func (c *Clipboard) SetTextExternally(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = s
	c.changes++
}

// PermissionProbe is a stub platform.PermissionProbe that is granted by
// default.
type PermissionProbe struct {
	Granted map[string]bool
}

func NewPermissionProbe() *PermissionProbe {
	return &PermissionProbe{Granted: make(map[string]bool)}
}

func (p *PermissionProbe) Check(name string) (bool, error) {
	if p.Granted == nil {
		return true, nil
	}
	if v, ok := p.Granted[name]; ok {
		return v, nil
	}
	return true, nil
}

func (p *PermissionProbe) Prompt(name string) error { return nil }

// VirtualDisplay is a stub platform.VirtualDisplay. FailCreate, if set,
// makes Create return that error instead of succeeding, for testing the
// mirror-mode fallback path.
type VirtualDisplay struct {
	mu         sync.Mutex
	nextID     int
	FailCreate error
	Created    []struct{ Width, Height int }
	Destroyed  []string
}

func (v *VirtualDisplay) Create(width, height int, scale, refreshRate float64) (string, int, int, error) {
	if v.FailCreate != nil {
		return "", 0, 0, v.FailCreate
	}
	v.mu.Lock()
	v.nextID++
	id := v.nextID
	v.Created = append(v.Created, struct{ Width, Height int }{width, height})
	v.mu.Unlock()
	return "virtual-" + strconv.Itoa(id), width, height, nil
}

func (v *VirtualDisplay) Destroy(displayID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Destroyed = append(v.Destroyed, displayID)
	return nil
}
