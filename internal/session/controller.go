package session

import (
	"log/slog"
	"net"
	"time"

	"github.com/pairkvm/kvm/internal/clipboard"
	"github.com/pairkvm/kvm/internal/edge"
	"github.com/pairkvm/kvm/internal/message"
	"github.com/pairkvm/kvm/internal/platform"
	"github.com/pairkvm/kvm/internal/transport"
	"github.com/pairkvm/kvm/internal/wire"
)

// cursorLockInterval is how often the Controller re-warps the OS cursor to
// the lock point while REMOTE, per §4.4 "cursor-lock loop re-warps the OS
// cursor to a fixed screen-centre point every tick".
const cursorLockInterval = 16 * time.Millisecond

// postReleaseWarpInset places the cursor just inside the left edge after a
// handoff back to LOCAL, per the worked example in §8 scenario 2
// ("warps the local cursor to (min_x+3, mid_y)").
const postReleaseWarpInset = 3

// ControllerSession drives the Controller side of one connection: it reads
// local input off an InputTap, forwards it while REMOTE, drives the
// left-edge detector that initiates a handoff, and negotiates display mode
// with the peer (§4.5, §4.8).
type ControllerSession struct {
	*core

	tap       platform.InputTap
	clipboard *clipboard.Sync
	leftEdge  *edge.Detector

	localBounds edge.Bounds

	state         ControlState
	captureBounds edge.Bounds
	haveCapture   bool
	lastDX        float64

	lockStop chan struct{}

	// PreferredMode, if non-zero, is sent as a DesiredDisplayMode once the
	// peer's Capabilities arrive and report virtual-display support.
	PreferredMode message.DesiredDisplayMode

	// OnStateChange, if set, is called whenever the control state changes.
	OnStateChange func(ControlState)

	// onVideoFrame, set via SetVideoSink, receives decoded-ready Annex-B
	// payloads for presentation; decoding itself is outside this package.
	onVideoFrame func(keyframe bool, payload []byte)
}

// NewControllerSession builds a ControllerSession over conn, wiring the
// given InputTap/Clipboard collaborators and local screen bounds (used for
// the cursor-lock point and the left-edge predicate).
func NewControllerSession(conn net.Conn, tap platform.InputTap, clip platform.Clipboard, localBounds edge.Bounds, log *slog.Logger) *ControllerSession {
	cs := &ControllerSession{
		core:        newCore(conn, log),
		tap:         tap,
		leftEdge:    edge.New(edge.DefaultConfig()),
		localBounds: localBounds,
		state:       StateLocal,
	}
	cs.clipboard = clipboard.New(clip, clipboard.DefaultPollInterval, clipboard.DefaultMaxBytes)
	cs.clipboard.Gate = func() bool { return cs.State() == StateRemote }
	cs.clipboard.OnSend = func(m message.Clipboard) {
		if err := cs.mux.SendStructured(m); err != nil {
			cs.log.Warn("controller: send clipboard failed", "error", err)
		}
	}

	cs.mux = transport.New(conn, transport.Handlers{
		OnMessage:         cs.handleMessage,
		OnVideoFrame:      cs.handleVideoFrame,
		OnMalformedRecord: cs.handleMalformed,
	}, cs.log)

	cs.addCleanup(func() { cs.clipboard.Stop() })
	cs.addCleanup(func() { _ = cs.tap.Stop() })
	return cs
}

// SetVideoSink registers the callback that receives each video frame
// payload as it arrives (e.g. to feed a VideoDecoder for display).
func (cs *ControllerSession) SetVideoSink(fn func(keyframe bool, payload []byte)) {
	cs.onVideoFrame = fn
}

// Run starts the input tap and the transport read loop, blocking until the
// connection closes or Stop is called.
func (cs *ControllerSession) Run() error {
	if err := cs.tap.Start(cs.handleTapEvent); err != nil {
		return err
	}
	cs.clipboard.Start()
	return cs.mux.Run()
}

// State reports the current handoff state.
func (cs *ControllerSession) State() ControlState {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

func (cs *ControllerSession) setState(s ControlState) {
	cs.mu.Lock()
	cs.state = s
	cs.mu.Unlock()
	if cs.OnStateChange != nil {
		cs.OnStateChange(s)
	}
}

// handleTapEvent is the InputTap callback: while LOCAL it evaluates the
// left-edge predicate and otherwise lets the OS handle the event normally
// (forward=true); while REMOTE it encodes and forwards the event to the
// peer and swallows it locally (forward=false), per §4.4/§4.5.
func (cs *ControllerSession) handleTapEvent(ev platform.TapEvent) bool {
	now := time.Now()

	if ev.Kind == platform.TapMouseMove {
		cs.lastDX = ev.DX
	}

	if cs.State() == StateLocal {
		if ev.Kind == platform.TapMouseMove {
			cursor := edge.Point{X: ev.X, Y: ev.Y}
			if cs.leftEdge.LeftEdge(cursor, cs.lastDX, cs.localBounds, now) {
				cs.enterRemote(cursor)
			}
		}
		return true
	}

	if msg := tapEventToMessage(ev); msg != nil {
		if err := cs.mux.SendStructured(msg); err != nil {
			cs.log.Warn("controller: send input failed", "error", err)
		}
	}
	return false
}

// enterRemote performs the LOCAL->REMOTE transition: it computes the
// WarpCursor target on the Capture side's coordinate space and sends it,
// then hides/locks the local cursor and starts the cursor-lock loop (§4.5,
// §8 scenario 1).
func (cs *ControllerSession) enterRemote(cursor edge.Point) {
	if cs.State() != StateLocal {
		return
	}

	target := cs.computeWarpTarget(cursor)
	if err := cs.mux.SendStructured(target); err != nil {
		cs.log.Warn("controller: send warp cursor failed", "error", err)
		return
	}

	cs.setState(StateRemote)
	_ = cs.tap.HideCursor()
	_ = cs.tap.LockCursor()
	cs.startCursorLockLoop()
	cs.log.Info("controller: entered remote control")
}

// computeWarpTarget maps a Controller-side cursor position to a target on
// the Capture side's coordinate space: the horizontal coordinate is pinned
// to captureWidth-20 so the cursor lands just inside the Capture screen,
// and the vertical coordinate carries straight across. The worked example
// in §8 scenario 1 (Controller cursor at y=540 on a 1920x1080 display,
// Capture at 3840x2160, expected target y=540) shows the vertical
// coordinate is not rescaled by the display ratio; this is taken at face
// value rather than the more literal reading of "proportionally mapping"
// in §4.5's prose (see DESIGN.md).
func (cs *ControllerSession) computeWarpTarget(cursor edge.Point) message.WarpCursor {
	captureWidth := cs.localBounds.MaxX - cs.localBounds.MinX
	if cs.haveCapture {
		captureWidth = cs.captureBounds.MaxX - cs.captureBounds.MinX
	}
	return message.WarpCursor{
		X: captureWidth - 20,
		Y: cursor.Y,
	}
}

// transitionToLocal performs the REMOTE->LOCAL transition, whether
// initiated by a peer ControlRelease or a local toggle: it restores cursor
// visibility, warps the local cursor just inside the left edge, and arms
// the left-edge detector's cooldown so the just-completed handoff cannot
// immediately refire (§4.5, §8 scenario 2).
func (cs *ControllerSession) transitionToLocal() {
	if cs.State() != StateRemote {
		return
	}
	cs.stopCursorLockLoop()
	cs.setState(StateLocal)

	_ = cs.tap.UnlockCursor()
	_ = cs.tap.ShowCursor()

	midY := (cs.localBounds.MinY + cs.localBounds.MaxY) / 2
	_ = cs.tap.WarpCursor(cs.localBounds.MinX+postReleaseWarpInset, midY)
	cs.leftEdge.Suppress(time.Now().Add(edge.DefaultConfig().Cooldown))

	cs.log.Info("controller: returned to local control")
}

// ToggleRemote is the user-initiated handoff entry point (e.g. a hotkey),
// independent of the left-edge detector.
func (cs *ControllerSession) ToggleRemote() {
	if cs.State() == StateLocal {
		x, y, err := cs.tap.CursorPosition()
		if err != nil {
			x, y = cs.localBounds.MinX, (cs.localBounds.MinY+cs.localBounds.MaxY)/2
		}
		cs.enterRemote(edge.Point{X: x, Y: y})
		return
	}
	cs.transitionToLocal()
	if err := cs.mux.SendStructured(message.ControlRelease{}); err != nil {
		cs.log.Warn("controller: send control release failed", "error", err)
	}
}

func (cs *ControllerSession) startCursorLockLoop() {
	cs.lockStop = make(chan struct{})
	cs.wg.Add(1)
	go func(stop chan struct{}) {
		defer cs.wg.Done()
		cx := (cs.localBounds.MinX + cs.localBounds.MaxX) / 2
		cy := (cs.localBounds.MinY + cs.localBounds.MaxY) / 2
		ticker := time.NewTicker(cursorLockInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-cs.done:
				return
			case <-ticker.C:
				_ = cs.tap.WarpCursor(cx, cy)
			}
		}
	}(cs.lockStop)
}

func (cs *ControllerSession) stopCursorLockLoop() {
	if cs.lockStop != nil {
		close(cs.lockStop)
		cs.lockStop = nil
	}
}

func (cs *ControllerSession) handleMessage(msg message.Message) {
	switch m := msg.(type) {
	case message.Capabilities:
		if m.SupportsVirtualDisplay && cs.PreferredMode != (message.DesiredDisplayMode{}) {
			if err := cs.mux.SendStructured(cs.PreferredMode); err != nil {
				cs.log.Warn("controller: send desired display mode failed", "error", err)
			}
		}
	case message.ScreenInfo:
		cs.mu.Lock()
		cs.captureBounds = edge.Bounds{MaxX: float64(m.Width), MaxY: float64(m.Height)}
		cs.haveCapture = true
		cs.mu.Unlock()
	case message.VirtualDisplayReady:
		cs.mu.Lock()
		cs.captureBounds = edge.Bounds{MaxX: float64(m.Width), MaxY: float64(m.Height)}
		cs.haveCapture = true
		cs.mu.Unlock()
	case message.ControlRelease:
		cs.transitionToLocal()
	case message.Clipboard:
		if err := cs.clipboard.Apply(m); err != nil {
			cs.log.Warn("controller: apply clipboard failed", "error", err)
		}
	default:
		// Keyboard/Mouse/Gesture/WarpCursor/Start|StopVideoStream/
		// DesiredDisplayMode are Controller->Capture only; nothing to do
		// if one arrives here.
	}
}

func (cs *ControllerSession) handleVideoFrame(header wire.FrameHeader, payload []byte) {
	if cs.onVideoFrame != nil {
		cs.onVideoFrame(header.Keyframe(), payload)
	}
}

// SendGesture forwards a high-level trackpad gesture recognised outside
// this package (trackpad gesture recognition is not part of the InputTap
// contract) while REMOTE; it is a no-op while LOCAL.
func (cs *ControllerSession) SendGesture(g message.Gesture) error {
	if cs.State() != StateRemote {
		return nil
	}
	return cs.mux.SendStructured(g)
}

func (cs *ControllerSession) handleMalformed(raw []byte, err error) {
	cs.log.Warn("controller: malformed record", "error", err, "bytes", len(raw))
}

// tapEventToMessage converts a platform.TapEvent into the structured
// message forwarded to the Capture side, or nil if the event kind carries
// no wire representation.
func tapEventToMessage(ev platform.TapEvent) message.Message {
	switch ev.Kind {
	case platform.TapKeyboard:
		return message.Keyboard{VKCode: ev.VKCode, Modifiers: uint64(ev.Modifiers), IsDown: ev.IsDown}
	case platform.TapMouseMove:
		return message.Mouse{EventType: message.MouseMove, X: ev.X, Y: ev.Y, DX: ev.DX, DY: ev.DY}
	case platform.TapMouseButton:
		eventType := buttonEventType(ev.Button, ev.IsDown)
		return message.Mouse{EventType: eventType, X: ev.X, Y: ev.Y, Button: ev.Button}
	case platform.TapScroll:
		return message.Mouse{
			EventType:     message.MouseScroll,
			X:             ev.X,
			Y:             ev.Y,
			ScrollX:       ev.ScrollX,
			ScrollY:       ev.ScrollY,
			ScrollPhase:   message.ScrollPhase(ev.ScrollPhase),
			MomentumPhase: message.MomentumPhase(ev.MomentumPhase),
		}
	default:
		return nil
	}
}

func buttonEventType(button string, isDown bool) message.MouseEventType {
	switch button {
	case "right":
		if isDown {
			return message.MouseRightDown
		}
		return message.MouseRightUp
	case "left":
		if isDown {
			return message.MouseLeftDown
		}
		return message.MouseLeftUp
	default:
		if isDown {
			return message.MouseOtherDown
		}
		return message.MouseOtherUp
	}
}
