package session

import (
	"image"
	"log/slog"
	"net"
	"os/user"
	"runtime"
	"sync"
	"time"

	"github.com/pairkvm/kvm/internal/adaptive"
	"github.com/pairkvm/kvm/internal/clipboard"
	"github.com/pairkvm/kvm/internal/edge"
	"github.com/pairkvm/kvm/internal/message"
	"github.com/pairkvm/kvm/internal/platform"
	"github.com/pairkvm/kvm/internal/transport"
)

// postWarpSuppress is how long the right-edge detector is suppressed after
// any WarpCursor is applied, so a warp landing near the right edge cannot
// immediately hand control back (§4.6 "Capture side also suppresses
// right-edge firing for 500ms after any WarpCursor").
const postWarpSuppress = 500 * time.Millisecond

// modeChangeThreshold is the minimum per-dimension pixel difference a
// subsequent DesiredDisplayMode request must carry to be honoured once a
// mode is already active (§4.8 "requests within 100 pixels of the current
// mode in both dimensions are ignored to avoid thrashing").
const modeChangeThreshold = 100

// defaultFrameRate is used when negotiating a display mode that does not
// specify a refresh rate and when starting on the primary display.
const defaultFrameRate = 60

// CaptureSession drives the Capture side of one connection: it owns the
// screen source/encoder pipeline, injects received input, runs the
// right-edge detector, and serves display-mode negotiation (§4.3, §4.4,
// §4.8).
type CaptureSession struct {
	*core

	screen   platform.ScreenSource
	encoder  platform.VideoEncoder
	sink     platform.InputSink
	display  platform.VirtualDisplay // nil if this host has none
	advisor  *adaptive.Advisor
	clipboardSync *clipboard.Sync

	rightEdge *edge.Detector

	mu            sync.Mutex
	bounds        edge.Bounds
	streaming     bool
	activeDisplay string
	pendingMode   message.DesiredDisplayMode
	havePending   bool
}

// NewCaptureSession builds a CaptureSession over conn, wiring the given
// screen/encoder/input/clipboard collaborators. display may be nil if the
// host offers no virtual-display capability, in which case display-mode
// requests always fall back to mirroring the primary screen.
func NewCaptureSession(conn net.Conn, screen platform.ScreenSource, encoder platform.VideoEncoder, sink platform.InputSink, clip platform.Clipboard, display platform.VirtualDisplay, log *slog.Logger) *CaptureSession {
	cs := &CaptureSession{
		core:      newCore(conn, log),
		screen:    screen,
		encoder:   encoder,
		sink:      sink,
		display:   display,
		advisor:   adaptive.New(adaptive.DefaultConfig()),
		rightEdge: edge.New(edge.DefaultConfig()),
	}
	cs.clipboardSync = clipboard.New(clip, clipboard.DefaultPollInterval, clipboard.DefaultMaxBytes)
	cs.clipboardSync.OnSend = func(m message.Clipboard) {
		if err := cs.mux.SendStructured(m); err != nil {
			cs.log.Warn("capture: send clipboard failed", "error", err)
		}
	}

	cs.mux = transport.New(conn, transport.Handlers{
		OnMessage:         cs.handleMessage,
		OnVideoFrame:      nil, // Capture never receives video frames
		OnMalformedRecord: cs.handleMalformed,
	}, cs.log)

	cs.addCleanup(func() { cs.clipboardSync.Stop() })
	cs.addCleanup(func() { _ = cs.screen.Stop() })
	cs.addCleanup(func() { _ = cs.encoder.Close() })
	return cs
}

// Run announces capabilities and real screen geometry, starts streaming
// from the primary display and the bitrate advisor loop, then blocks on
// the transport read loop until the connection closes (§3 "video stream
// ... starts automatically on session-ready").
func (cs *CaptureSession) Run() error {
	cs.clipboardSync.Start()

	if err := cs.mux.SendStructured(cs.capabilities()); err != nil {
		return err
	}

	w, h, err := cs.screen.Bounds()
	if err != nil {
		return err
	}
	cs.mu.Lock()
	cs.bounds = edge.Bounds{MaxX: float64(w), MaxY: float64(h)}
	cs.activeDisplay = "primary"
	cs.mu.Unlock()
	if err := cs.mux.SendStructured(message.ScreenInfo{Width: w, Height: h, IsVirtual: false, DisplayID: "primary"}); err != nil {
		return err
	}

	if err := cs.startStream(w, h); err != nil {
		return err
	}

	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		cs.advisor.Loop(5*time.Second, cs.done, func(kbps int) {
			if err := cs.encoder.SetBitrate(kbps); err != nil {
				cs.log.Warn("capture: set bitrate failed", "error", err, "kbps", kbps)
				return
			}
			cs.log.Debug("capture: adaptive bitrate advice", "kbps", kbps)
		})
	}()

	return cs.mux.Run()
}

func (cs *CaptureSession) capabilities() message.Capabilities {
	return message.Capabilities{
		SupportsVirtualDisplay: cs.display != nil,
		HostOSVersion:          hostOSVersion(),
	}
}

func hostOSVersion() string {
	who := "unknown"
	if u, err := user.Current(); err == nil {
		who = u.Username
	}
	return runtime.GOOS + "/" + runtime.GOARCH + " (" + who + ")"
}

func (cs *CaptureSession) startStream(width, height int) error {
	cs.mu.Lock()
	already := cs.streaming
	cs.mu.Unlock()
	if already {
		return nil
	}
	if err := cs.screen.Configure(width, height, defaultFrameRate); err != nil {
		return err
	}
	if err := cs.screen.Start(cs.onFrame, cs.onCaptureError); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.streaming = true
	cs.mu.Unlock()
	cs.encoder.ForceKeyframe()
	return nil
}

func (cs *CaptureSession) stopStream() {
	cs.mu.Lock()
	if !cs.streaming {
		cs.mu.Unlock()
		return
	}
	cs.streaming = false
	cs.mu.Unlock()
	_ = cs.screen.Stop()
}

// onFrame is the ScreenSource callback: it encodes the captured pixel
// buffer and writes the result to the transport as a video frame (§4.3).
// It runs on the screen source's own worker, not the transport goroutine;
// Multiplexer.SendFrame is safe to call concurrently with reads.
func (cs *CaptureSession) onFrame(img *image.RGBA, timestampMS uint32) {
	frame, err := cs.encoder.Encode(img, timestampMS)
	if err != nil {
		cs.log.Warn("capture: encode failed", "error", err)
		return
	}
	if len(frame.Payload) == 0 {
		return
	}
	if err := cs.mux.SendFrame(frame.Keyframe, frame.TimestampMS, frame.Payload); err != nil {
		cs.log.Warn("capture: send frame failed", "error", err)
		cs.Stop()
	}
}

func (cs *CaptureSession) onCaptureError(err error) {
	cs.log.Error("capture: screen source error", "error", err)
	cs.Stop()
}

func (cs *CaptureSession) handleMessage(msg message.Message) {
	switch m := msg.(type) {
	case message.Keyboard:
		if err := cs.sink.PostKey(m.VKCode, platform.KeyModifier(m.Modifiers), m.IsDown); err != nil {
			cs.log.Warn("capture: post key failed", "error", err)
		}
	case message.Mouse:
		cs.handleMouse(m)
	case message.Gesture:
		cs.handleGesture(m)
	case message.WarpCursor:
		cs.handleWarpCursor(m)
	case message.StartVideoStream:
		cs.mu.Lock()
		w, h := int(cs.bounds.MaxX), int(cs.bounds.MaxY)
		cs.mu.Unlock()
		if err := cs.startStream(w, h); err != nil {
			cs.log.Warn("capture: start stream failed", "error", err)
		}
	case message.StopVideoStream:
		cs.stopStream()
	case message.DesiredDisplayMode:
		cs.negotiateDisplayMode(m)
	case message.Clipboard:
		if err := cs.clipboardSync.Apply(m); err != nil {
			cs.log.Warn("capture: apply clipboard failed", "error", err)
		}
	default:
		// Capabilities/ScreenInfo/ControlRelease/VirtualDisplayReady are
		// Capture->Controller only.
	}
}

func (cs *CaptureSession) handleMouse(m message.Mouse) {
	switch m.EventType {
	case message.MouseMove:
		_ = cs.sink.PostMouseMove(m.X, m.Y)
	case message.MouseScroll:
		_ = cs.sink.PostScroll(m.X, m.Y, m.ScrollX, m.ScrollY, string(m.ScrollPhase), string(m.MomentumPhase))
	case message.MouseLeftDown:
		_ = cs.sink.PostMouseButton(m.X, m.Y, "left", true, max(m.ClickCount, 1))
	case message.MouseLeftUp:
		_ = cs.sink.PostMouseButton(m.X, m.Y, "left", false, max(m.ClickCount, 1))
	case message.MouseRightDown:
		_ = cs.sink.PostMouseButton(m.X, m.Y, "right", true, max(m.ClickCount, 1))
	case message.MouseRightUp:
		_ = cs.sink.PostMouseButton(m.X, m.Y, "right", false, max(m.ClickCount, 1))
	case message.MouseOtherDown:
		_ = cs.sink.PostMouseButton(m.X, m.Y, m.Button, true, max(m.ClickCount, 1))
	case message.MouseOtherUp:
		_ = cs.sink.PostMouseButton(m.X, m.Y, m.Button, false, max(m.ClickCount, 1))
	case message.MouseLeftDrag, message.MouseRightDrag, message.MouseOtherDrag:
		_ = cs.sink.PostMouseMove(m.X, m.Y)
	}

	cs.evaluateRightEdge(m.X, m.Y)
}

// handleGesture translates a high-level trackpad gesture into the closest
// InputSink primitive: a swipe becomes a scaled scroll sequence, a
// smart-zoom becomes a double-click at the current position, and mission
// control has no InputSink primitive so it is logged and dropped (no
// platform-independent synthetic key exists for it).
func (cs *CaptureSession) handleGesture(g message.Gesture) {
	const swipeScale = 8.0
	switch g.GestureKind {
	case message.GestureSwipe:
		_ = cs.sink.PostScroll(0, 0, g.DX*swipeScale, g.DY*swipeScale, string(g.Phase), string(message.MomentumPhaseNone))
	case message.GestureSmartZoom:
		_ = cs.sink.PostMouseButton(0, 0, "left", true, 2)
		_ = cs.sink.PostMouseButton(0, 0, "left", false, 2)
	case message.GestureMissionControl:
		cs.log.Debug("capture: mission-control gesture has no injection primitive, dropped")
	}
}

func (cs *CaptureSession) handleWarpCursor(m message.WarpCursor) {
	_ = cs.sink.PostMouseMove(m.X, m.Y)
	cs.rightEdge.Suppress(time.Now().Add(postWarpSuppress))
}

func (cs *CaptureSession) evaluateRightEdge(x, y float64) {
	cs.mu.Lock()
	bounds := cs.bounds
	cs.mu.Unlock()
	if cs.rightEdge.RightEdge(edge.Point{X: x, Y: y}, bounds, time.Now()) {
		if err := cs.mux.SendStructured(message.ControlRelease{}); err != nil {
			cs.log.Warn("capture: send control release failed", "error", err)
		}
		cs.log.Info("capture: right-edge release")
	}
}

// negotiateDisplayMode implements §4.8: the first request is always
// honoured; later requests within modeChangeThreshold pixels of the
// currently pending mode in both dimensions are ignored. If a
// VirtualDisplay collaborator is available, it attempts to realise the
// requested mode; on any failure (or when none is wired) it falls back to
// mirroring the primary display and reports that via VirtualDisplayReady
// with IsVirtual=false (§8 scenario 5).
func (cs *CaptureSession) negotiateDisplayMode(m message.DesiredDisplayMode) {
	cs.mu.Lock()
	if cs.havePending &&
		abs(m.Width-cs.pendingMode.Width) < modeChangeThreshold &&
		abs(m.Height-cs.pendingMode.Height) < modeChangeThreshold {
		cs.mu.Unlock()
		return
	}
	cs.pendingMode = m
	cs.havePending = true
	cs.mu.Unlock()

	cs.stopStream()

	if cs.display != nil {
		rate := m.RefreshRate
		if rate <= 0 {
			rate = defaultFrameRate
		}
		displayID, aw, ah, err := cs.display.Create(m.Width, m.Height, m.Scale, rate)
		if err == nil {
			cs.mu.Lock()
			if cs.activeDisplay != "" && cs.activeDisplay != "primary" {
				_ = cs.display.Destroy(cs.activeDisplay)
			}
			cs.activeDisplay = displayID
			cs.bounds = edge.Bounds{MaxX: float64(aw), MaxY: float64(ah)}
			cs.mu.Unlock()

			ready := message.VirtualDisplayReady{Width: aw, Height: ah, Scale: m.Scale, DisplayID: displayID, IsVirtual: true}
			if err := cs.mux.SendStructured(ready); err != nil {
				cs.log.Warn("capture: send virtual display ready failed", "error", err)
			}
			if err := cs.startStream(aw, ah); err != nil {
				cs.log.Warn("capture: start stream on virtual display failed", "error", err)
			}
			return
		}
		cs.log.Warn("capture: virtual display create failed, falling back to mirror", "error", err)
	}

	w, h, err := cs.screen.Bounds()
	if err != nil {
		cs.log.Error("capture: screen bounds failed during fallback", "error", err)
		return
	}
	cs.mu.Lock()
	cs.activeDisplay = "primary"
	cs.bounds = edge.Bounds{MaxX: float64(w), MaxY: float64(h)}
	cs.mu.Unlock()

	ready := message.VirtualDisplayReady{Width: w, Height: h, Scale: 1, DisplayID: "primary", IsVirtual: false}
	if err := cs.mux.SendStructured(ready); err != nil {
		cs.log.Warn("capture: send virtual display ready failed", "error", err)
	}
	if err := cs.startStream(w, h); err != nil {
		cs.log.Warn("capture: start stream on primary failed", "error", err)
	}
}

func (cs *CaptureSession) handleMalformed(raw []byte, err error) {
	cs.log.Warn("capture: malformed record", "error", err, "bytes", len(raw))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
