// Package message implements the tagged-union structured message model
// carried over the session transport: keyboard/mouse/gesture input,
// control-handoff signalling, clipboard sync and display-mode negotiation.
// Video frames are binary and are not represented here; see
// internal/wire and internal/transport.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the stable wire tag identifying a message variant. Tags are a
// closed set; decoders tolerate unknown tags by ignoring the record (§4.2).
type Kind string

const (
	KindKeyboard            Kind = "keyboard"
	KindMouse                Kind = "mouse"
	KindGesture              Kind = "gesture"
	KindWarpCursor           Kind = "warpCursor"
	KindStartVideoStream     Kind = "startVideoStream"
	KindStopVideoStream      Kind = "stopVideoStream"
	KindDesiredDisplayMode   Kind = "desiredDisplayMode"
	KindScreenInfo           Kind = "screenInfo"
	KindControlRelease       Kind = "controlRelease"
	KindVirtualDisplayReady  Kind = "virtualDisplayReady"
	KindCapabilities         Kind = "capabilities"
	KindClipboard            Kind = "clipboard"
)

// Message is implemented by every structured variant. Kind returns the
// stable wire tag for the variant so the multiplex and tests can branch on
// it without a type switch.
type Message interface {
	Kind() Kind
}

// MouseEventType enumerates Mouse.eventType per §4.2.
type MouseEventType string

const (
	MouseMove       MouseEventType = "move"
	MouseLeftDown   MouseEventType = "leftDown"
	MouseLeftUp     MouseEventType = "leftUp"
	MouseRightDown  MouseEventType = "rightDown"
	MouseRightUp    MouseEventType = "rightUp"
	MouseLeftDrag   MouseEventType = "leftDrag"
	MouseRightDrag  MouseEventType = "rightDrag"
	MouseOtherDown  MouseEventType = "otherDown"
	MouseOtherUp    MouseEventType = "otherUp"
	MouseOtherDrag  MouseEventType = "otherDrag"
	MouseScroll     MouseEventType = "scroll"
)

// ScrollPhase mirrors native high-precision scroll phase semantics.
type ScrollPhase string

const (
	ScrollPhaseNone      ScrollPhase = "none"
	ScrollPhaseMayBegin  ScrollPhase = "mayBegin"
	ScrollPhaseBegan     ScrollPhase = "began"
	ScrollPhaseChanged   ScrollPhase = "changed"
	ScrollPhaseEnded     ScrollPhase = "ended"
	ScrollPhaseCancelled ScrollPhase = "cancelled"
)

// MomentumPhase mirrors native inertial-scroll momentum phase semantics.
type MomentumPhase string

const (
	MomentumPhaseNone    MomentumPhase = "none"
	MomentumPhaseBegan   MomentumPhase = "began"
	MomentumPhaseChanged MomentumPhase = "changed"
	MomentumPhaseEnded   MomentumPhase = "ended"
)

// GestureKind enumerates the high-level gestures relayed from Controller to
// Capture (§3, §4.4).
type GestureKind string

const (
	GestureSwipe            GestureKind = "swipe"
	GestureSmartZoom        GestureKind = "smartZoom"
	GestureMissionControl   GestureKind = "missionControl"
)

// envelope is the minimal shape used to read the kind tag before decoding
// into the concrete variant. Unknown fields are ignored by json.Unmarshal.
type envelope struct {
	Kind Kind `json:"kind"`
}

// Keyboard carries a virtual key code and modifier mask (C->A).
type Keyboard struct {
	VKCode    uint16 `json:"vkCode"`
	Modifiers uint64 `json:"modifiers"`
	IsDown    bool   `json:"isDown"`
}

func (Keyboard) Kind() Kind { return KindKeyboard }

// Mouse carries absolute position, delta motion, button state and scroll
// fields (C->A).
type Mouse struct {
	EventType     MouseEventType `json:"eventType"`
	X             float64        `json:"x"`
	Y             float64        `json:"y"`
	DX            float64        `json:"dx"`
	DY            float64        `json:"dy"`
	Button        string         `json:"button,omitempty"`
	ClickCount    int            `json:"clickCount,omitempty"`
	ScrollX       float64        `json:"scrollX,omitempty"`
	ScrollY       float64        `json:"scrollY,omitempty"`
	ScrollPhase   ScrollPhase    `json:"scrollPhase,omitempty"`
	MomentumPhase MomentumPhase  `json:"momentumPhase,omitempty"`
}

func (Mouse) Kind() Kind { return KindMouse }

// Gesture carries a high-level trackpad gesture (C->A).
type Gesture struct {
	GestureKind GestureKind `json:"gestureKind"`
	Direction   string      `json:"direction,omitempty"`
	DX          float64     `json:"dx,omitempty"`
	DY          float64     `json:"dy,omitempty"`
	Phase       ScrollPhase `json:"phase,omitempty"`
}

func (Gesture) Kind() Kind { return KindGesture }

// WarpCursor requests the Capture side warp the OS cursor to target, given
// in Capture-host coordinates (C->A).
type WarpCursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (WarpCursor) Kind() Kind { return KindWarpCursor }

// StartVideoStream requests the Capture side begin encoding and sending
// video frames (C->A).
type StartVideoStream struct{}

func (StartVideoStream) Kind() Kind { return KindStartVideoStream }

// StopVideoStream requests the Capture side stop sending video frames
// (C->A).
type StopVideoStream struct{}

func (StopVideoStream) Kind() Kind { return KindStopVideoStream }

// DesiredDisplayMode is an advisory request from the Controller for a
// capture resolution/refresh rate (C->A, §4.8).
type DesiredDisplayMode struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Scale       float64 `json:"scale"`
	RefreshRate float64 `json:"refreshRate"`
}

func (DesiredDisplayMode) Kind() Kind { return KindDesiredDisplayMode }

// ScreenInfo reports the Capture side's real screen geometry (A->C).
type ScreenInfo struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	IsVirtual bool   `json:"isVirtual"`
	DisplayID string `json:"displayId"`
}

func (ScreenInfo) Kind() Kind { return KindScreenInfo }

// ControlRelease notifies the Controller that the Capture side released
// input control (A->C, §4.5).
type ControlRelease struct{}

func (ControlRelease) Kind() Kind { return KindControlRelease }

// VirtualDisplayReady reports the mode the Capture side actually realised
// after a DesiredDisplayMode request, including mirror-mode fallback
// (A->C, §4.8).
type VirtualDisplayReady struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Scale     float64 `json:"scale"`
	DisplayID string  `json:"displayId"`
	IsVirtual bool    `json:"isVirtual"`
}

func (VirtualDisplayReady) Kind() Kind { return KindVirtualDisplayReady }

// Capabilities is sent by the Capture side immediately on connect (A->C,
// §4.8).
type Capabilities struct {
	SupportsVirtualDisplay bool   `json:"supportsVirtualDisplay"`
	HostOSVersion          string `json:"hostOSVersion"`
}

func (Capabilities) Kind() Kind { return KindCapabilities }

// Clipboard carries a monotonically increasing per-sender id and a text
// payload (both directions, §4.7).
type Clipboard struct {
	ID        uint64 `json:"id"`
	TextKind  string `json:"textKind"`
	Text      string `json:"text"`
	TSUnixMS  int64  `json:"ts"`
}

func (Clipboard) Kind() Kind { return KindClipboard }

// ErrUnknownKind is returned by Decode for a record whose kind tag is not
// in the closed set. Per §4.2 the caller should log and skip, not fail the
// session.
var ErrUnknownKind = fmt.Errorf("message: unknown kind")

// Encode serialises msg as a single structured record terminated by a
// newline, per §3/§4.2. The returned bytes include the trailing 0x0A.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("message: encode %s: %w", msg.Kind(), err)
	}
	// Splice the kind tag into the object produced by json.Marshal so the
	// wire record is a single flat {"kind":...,...fields} object rather
	// than a nested one.
	out := make([]byte, 0, len(body)+32)
	out = append(out, '{')
	out = append(out, []byte(fmt.Sprintf(`"kind":%q`, msg.Kind()))...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:len(body)-1]...)
	}
	out = append(out, '}', '\n')
	return out, nil
}

// Decode parses a single structured record (without its trailing newline)
// into its concrete variant. A line containing an embedded newline is
// rejected with an error (§8 boundaries).
func Decode(line []byte) (Message, error) {
	if bytes.ContainsRune(line, '\n') {
		return nil, fmt.Errorf("message: embedded newline in record")
	}
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("message: decode envelope: %w", err)
	}
	var msg Message
	switch env.Kind {
	case KindKeyboard:
		var m Keyboard
		msg = &m
	case KindMouse:
		var m Mouse
		msg = &m
	case KindGesture:
		var m Gesture
		msg = &m
	case KindWarpCursor:
		var m WarpCursor
		msg = &m
	case KindStartVideoStream:
		var m StartVideoStream
		msg = &m
	case KindStopVideoStream:
		var m StopVideoStream
		msg = &m
	case KindDesiredDisplayMode:
		var m DesiredDisplayMode
		msg = &m
	case KindScreenInfo:
		var m ScreenInfo
		msg = &m
	case KindControlRelease:
		var m ControlRelease
		msg = &m
	case KindVirtualDisplayReady:
		var m VirtualDisplayReady
		msg = &m
	case KindCapabilities:
		var m Capabilities
		msg = &m
	case KindClipboard:
		var m Clipboard
		msg = &m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if err := json.Unmarshal(line, msg); err != nil {
		return nil, fmt.Errorf("message: decode %s: %w", env.Kind, err)
	}
	// Dereference back to the value type so callers get the same shape
	// Encode accepts (value receivers implement Kind()).
	switch v := msg.(type) {
	case *Keyboard:
		return *v, nil
	case *Mouse:
		return *v, nil
	case *Gesture:
		return *v, nil
	case *WarpCursor:
		return *v, nil
	case *StartVideoStream:
		return *v, nil
	case *StopVideoStream:
		return *v, nil
	case *DesiredDisplayMode:
		return *v, nil
	case *ScreenInfo:
		return *v, nil
	case *ControlRelease:
		return *v, nil
	case *VirtualDisplayReady:
		return *v, nil
	case *Capabilities:
		return *v, nil
	case *Clipboard:
		return *v, nil
	default:
		return nil, ErrUnknownKind
	}
}
