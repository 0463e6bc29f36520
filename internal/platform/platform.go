// Package platform defines the collaborator contracts the session protocol
// engine expects from its platform layer (§6): screen capture, video
// encode/decode, input tap/injection, clipboard, and a permission probe.
// Concrete implementations live in sibling packages (robotgoio, avcodec,
// openh264enc); internal/platform/fake provides stubs for unit tests.
package platform

import (
	"errors"
	"image"
)

// Sentinel errors a caller may branch on, following the reference agent's
// ScreenCapturer error set (capture.go) generalized to the whole platform
// surface.
var (
	ErrNotSupported     = errors.New("platform: not supported on this platform")
	ErrPermissionDenied = errors.New("platform: permission denied")
	ErrDisplayNotFound  = errors.New("platform: display not found")
)

// ScreenSource is a push source of pixel buffers with nominal resolution
// and frame timing (§6 "Screen source"). Configure is called once before
// Start; Start begins delivering frames to onFrame until Stop is called or
// the source reports a terminal error via onError.
type ScreenSource interface {
	// Configure sets the target capture dimensions and frame rate before
	// the source starts. A zero width/height means "native resolution".
	Configure(width, height, frameRate int) error
	// Start begins delivering frames. onFrame is called on every captured
	// frame; onError is called at most once, with a terminal error, after
	// which no further onFrame calls occur.
	Start(onFrame func(img *image.RGBA, timestampMS uint32), onError func(error)) error
	// Stop halts capture and releases any OS resources. Idempotent.
	Stop() error
	// Bounds reports the real dimensions of the captured screen.
	Bounds() (width, height int, err error)
}

// EncodedFrame is one encoder output: Annex-B NAL payload, the keyframe
// flag, and the presentation timestamp in milliseconds.
type EncodedFrame struct {
	Payload     []byte
	Keyframe    bool
	TimestampMS uint32
}

// VideoEncoder accepts pixel buffers and emits Annex-B-framed NAL payloads
// (§6 "Video encoder"). ForceKeyframe requests the next Encode call emit a
// full keyframe with leading parameter sets.
type VideoEncoder interface {
	// Encode compresses one pixel buffer, returning the encoded frame.
	Encode(img *image.RGBA, timestampMS uint32) (EncodedFrame, error)
	// ForceKeyframe requests that the next Encode call produce a keyframe.
	ForceKeyframe()
	// SetBitrate reconfigures the target bitrate, driven by
	// internal/adaptive's advisor loop reacting to CPU/link pressure.
	SetBitrate(kbps int) error
	// Codec reports the codec this encoder is configured to produce.
	Codec() string
	// Close releases encoder resources.
	Close() error
}

// ParameterSetChange is delivered whenever a VideoDecoder observes new
// VPS/SPS/PPS NALs (§6 "Video decoder").
type ParameterSetChange struct {
	Codec string
	VPS   []byte
	SPS   []byte
	PPS   []byte
}

// VideoDecoder accepts Annex-B bytes and emits decoded pixel buffers,
// notifying the caller whenever parameter sets change so a downstream
// remux pipeline can reconfigure (§6 "Video decoder").
type VideoDecoder interface {
	// Decode feeds one received frame payload (Annex-B NAL units). It
	// returns the decoded image, or ok=false if the payload produced no
	// displayable picture (e.g. parameter-set-only payload).
	Decode(payload []byte) (img *image.RGBA, ok bool, err error)
	// OnParameterSetChange registers a callback invoked synchronously
	// from Decode whenever the parameter sets change.
	OnParameterSetChange(func(ParameterSetChange))
	// Close releases decoder resources.
	Close() error
}

// KeyModifier is a bitmask of modifier keys, mirroring the wire
// Keyboard.Modifiers field (§3).
type KeyModifier uint64

const (
	ModShift KeyModifier = 1 << iota
	ModControl
	ModAlt
	ModMeta
)

// InputTap delivers local keyboard/mouse/scroll events from the OS and
// exposes cursor control primitives (§6 "Input tap"). Concrete
// implementations attach a global hook; Controller-side session logic
// decides whether to swallow or forward each event.
type InputTap interface {
	// Start attaches the tap. onEvent is called for every local input
	// event; the session decides whether the original event should be
	// forwarded to the OS (return true) or swallowed (return false).
	Start(onEvent func(TapEvent) (forward bool)) error
	// Stop detaches the tap.
	Stop() error
	// CursorPosition reports the current OS cursor position.
	CursorPosition() (x, y float64, err error)
	// WarpCursor moves the OS cursor to (x, y).
	WarpCursor(x, y float64) error
	// HideCursor/ShowCursor control cursor visibility.
	HideCursor() error
	ShowCursor() error
	// LockCursor/UnlockCursor associate or disassociate the cursor from
	// mouse motion, used while warping repeatedly to pin the pointer
	// (§4.4 "cursor-lock loop re-warps...every tick").
	LockCursor() error
	UnlockCursor() error
}

// TapEventKind enumerates the input-tap event types.
type TapEventKind int

const (
	TapKeyboard TapEventKind = iota
	TapMouseMove
	TapMouseButton
	TapScroll
)

// TapEvent is one event observed by an InputTap.
type TapEvent struct {
	Kind      TapEventKind
	VKCode    uint16
	Modifiers KeyModifier
	IsDown    bool
	X, Y      float64
	DX, DY    float64
	Button    string
	ScrollX   float64
	ScrollY   float64
	// ScrollPhase/MomentumPhase mirror message.Mouse's fields of the same
	// name (trackpad gesture progress / momentum-scroll state); an
	// InputTap that cannot observe them (e.g. gohook, see
	// platform/robotgoio) simply leaves them at the zero value.
	ScrollPhase   string
	MomentumPhase string
}

// InputSink posts synthetic keyboard/mouse/scroll events to the OS (§6
// "Input sink"), used on the Capture side to inject remote input.
type InputSink interface {
	PostKey(vkCode uint16, modifiers KeyModifier, isDown bool) error
	PostMouseMove(x, y float64) error
	PostMouseButton(x, y float64, button string, isDown bool, clickCount int) error
	PostScroll(x, y float64, scrollX, scrollY float64, phase string, momentumPhase string) error
}

// Clipboard is a read/write text pasteboard with a monotonic change
// counter (§6 "Clipboard"): ChangeCount must increase whenever the local
// pasteboard content changes, whether from this process or another.
type Clipboard interface {
	ReadText() (string, error)
	WriteText(string) error
	ChangeCount() (uint64, error)
}

// PermissionProbe checks whether a named OS permission (accessibility,
// screen recording, etc.) is currently granted, and can prompt the user
// (§6 "Accessibility/permission probe", §9 "permission probe invoked
// lazily at each state transition that requires a given permission").
type PermissionProbe interface {
	Check(name string) (granted bool, err error)
	Prompt(name string) error
}

// VirtualDisplay creates and destroys an OS virtual display at a requested
// mode (§4.8, §9 "virtual-display is a distinct collaborator from the
// screen source"). A host with no virtual-display capability simply has no
// VirtualDisplay collaborator wired in, and Capabilities.SupportsVirtualDisplay
// reports false.
type VirtualDisplay interface {
	// Create brings up a virtual display close to the requested mode and
	// returns the mode actually realised, which may differ from the
	// request (§8 "Capture honours the closest available mode").
	Create(width, height int, scale, refreshRate float64) (displayID string, actualWidth, actualHeight int, err error)
	// Destroy tears down a display previously returned by Create.
	Destroy(displayID string) error
}
