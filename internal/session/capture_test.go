package session

import (
	"image"
	"net"
	"testing"
	"time"

	"github.com/pairkvm/kvm/internal/message"
	"github.com/pairkvm/kvm/internal/platform"
	"github.com/pairkvm/kvm/internal/platform/fake"
)

func newTestCaptureSession(t *testing.T, bw, bh int, display *fake.VirtualDisplay) (*CaptureSession, *testPeer, *fake.ScreenSource, *fake.InputSink) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = server.Close(); _ = client.Close() })

	screen := fake.NewScreenSource(bw, bh)
	encoder := fake.NewEncoder("h264")
	sink := &fake.InputSink{}
	clip := &fake.Clipboard{}

	// A typed nil *fake.VirtualDisplay boxed into the platform.VirtualDisplay
	// interface would be a non-nil interface, so build the interface value
	// explicitly rather than passing display straight through.
	var vd platform.VirtualDisplay
	if display != nil {
		vd = display
	}
	cs := NewCaptureSession(server, screen, encoder, sink, clip, vd, testLogger())

	peer := newTestPeer(client)
	go cs.Run()
	t.Cleanup(cs.Stop)
	return cs, peer, screen, sink
}

// TestCaptureAnnouncesThenStreams covers the session-ready lifecycle rule:
// Capabilities and ScreenInfo are sent immediately, and the video stream
// starts automatically without any StartVideoStream request (§3
// "Lifecycle").
func TestCaptureAnnouncesThenStreams(t *testing.T) {
	_, peer, screen, _ := newTestCaptureSession(t, 1920, 1080, nil)

	capsMsg := peer.expectMessage(t, time.Second)
	caps, ok := capsMsg.(message.Capabilities)
	if !ok {
		t.Fatalf("expected Capabilities first, got %T", capsMsg)
	}
	if caps.SupportsVirtualDisplay {
		t.Fatal("expected SupportsVirtualDisplay=false with no VirtualDisplay wired")
	}

	infoMsg := peer.expectMessage(t, time.Second)
	info, ok := infoMsg.(message.ScreenInfo)
	if !ok {
		t.Fatalf("expected ScreenInfo second, got %T", infoMsg)
	}
	if info.Width != 1920 || info.Height != 1080 || info.IsVirtual {
		t.Fatalf("unexpected screen info: %+v", info)
	}

	waitFor(t, time.Second, func() bool { return screen.Started })
	screen.Emit(image.NewRGBA(image.Rect(0, 0, 1, 1)), 1000)

	peer.expectFrame(t, time.Second)
}

// TestDisplayModeFallbackToMirror covers scenario 5: a host with no
// virtual-display capability always reports a mirror-mode
// VirtualDisplayReady in response to a DesiredDisplayMode request.
func TestDisplayModeFallbackToMirror(t *testing.T) {
	_, peer, _, _ := newTestCaptureSession(t, 1920, 1080, nil)
	peer.expectMessage(t, time.Second) // Capabilities
	peer.expectMessage(t, time.Second) // ScreenInfo

	if err := peer.mux.SendStructured(message.DesiredDisplayMode{Width: 2560, Height: 1440, Scale: 2, RefreshRate: 60}); err != nil {
		t.Fatalf("send desired display mode: %v", err)
	}

	ready, ok := peer.expectMessage(t, time.Second).(message.VirtualDisplayReady)
	if !ok {
		t.Fatalf("expected VirtualDisplayReady, got different message")
	}
	if ready.IsVirtual {
		t.Fatal("expected mirror-mode fallback, IsVirtual=true")
	}
	if ready.Width != 1920 || ready.Height != 1080 {
		t.Fatalf("expected fallback to report real screen geometry, got %dx%d", ready.Width, ready.Height)
	}
}

// TestDisplayModeVirtualDisplayHonoured covers the non-fallback path: a
// host with a VirtualDisplay collaborator realises the requested mode.
func TestDisplayModeVirtualDisplayHonoured(t *testing.T) {
	display := &fake.VirtualDisplay{}
	_, peer, _, _ := newTestCaptureSession(t, 1920, 1080, display)
	peer.expectMessage(t, time.Second) // Capabilities
	peer.expectMessage(t, time.Second) // ScreenInfo

	if err := peer.mux.SendStructured(message.DesiredDisplayMode{Width: 2560, Height: 1440, Scale: 2, RefreshRate: 60}); err != nil {
		t.Fatalf("send desired display mode: %v", err)
	}

	ready, ok := peer.expectMessage(t, time.Second).(message.VirtualDisplayReady)
	if !ok {
		t.Fatalf("expected VirtualDisplayReady")
	}
	if !ready.IsVirtual {
		t.Fatal("expected IsVirtual=true when a VirtualDisplay is wired")
	}
	if ready.Width != 2560 || ready.Height != 1440 {
		t.Fatalf("expected requested mode honoured, got %dx%d", ready.Width, ready.Height)
	}
}

// TestDisplayModeThresholdIgnoresSmallRequests covers §4.8's 100-pixel
// thrash-avoidance threshold: a second request close to the first is
// ignored and produces no additional VirtualDisplayReady.
func TestDisplayModeThresholdIgnoresSmallRequests(t *testing.T) {
	display := &fake.VirtualDisplay{}
	_, peer, _, _ := newTestCaptureSession(t, 1920, 1080, display)
	peer.expectMessage(t, time.Second) // Capabilities
	peer.expectMessage(t, time.Second) // ScreenInfo

	if err := peer.mux.SendStructured(message.DesiredDisplayMode{Width: 2560, Height: 1440, Scale: 2, RefreshRate: 60}); err != nil {
		t.Fatalf("send desired display mode: %v", err)
	}
	peer.expectMessage(t, time.Second) // VirtualDisplayReady for the first request

	if err := peer.mux.SendStructured(message.DesiredDisplayMode{Width: 2580, Height: 1450, Scale: 2, RefreshRate: 60}); err != nil {
		t.Fatalf("send second desired display mode: %v", err)
	}

	select {
	case m := <-peer.messages:
		t.Fatalf("expected no further VirtualDisplayReady for a within-threshold request, got %T", m)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestCaptureInjectsKeyboardAndMouse exercises input injection (§4.4).
func TestCaptureInjectsKeyboardAndMouse(t *testing.T) {
	_, peer, _, sink := newTestCaptureSession(t, 1920, 1080, nil)
	peer.expectMessage(t, time.Second) // Capabilities
	peer.expectMessage(t, time.Second) // ScreenInfo

	if err := peer.mux.SendStructured(message.Keyboard{VKCode: 4, Modifiers: 0, IsDown: true}); err != nil {
		t.Fatalf("send keyboard: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(sink.Keys) == 1 })
	if sink.Keys[0].VKCode != 4 || !sink.Keys[0].IsDown {
		t.Fatalf("unexpected injected key: %+v", sink.Keys[0])
	}

	if err := peer.mux.SendStructured(message.Mouse{EventType: message.MouseMove, X: 100, Y: 200}); err != nil {
		t.Fatalf("send mouse: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(sink.Moves) == 1 })
	if sink.Moves[0].X != 100 || sink.Moves[0].Y != 200 {
		t.Fatalf("unexpected injected move: %+v", sink.Moves[0])
	}
}
