package session

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/pairkvm/kvm/internal/message"
	"github.com/pairkvm/kvm/internal/transport"
	"github.com/pairkvm/kvm/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testPeer is a bare-bones peer used to assert on what a session under
// test sends over the wire, without needing a full ControllerSession or
// CaptureSession on the other end.
type testPeer struct {
	mux      *transport.Multiplexer
	messages chan message.Message
	frames   chan []byte
}

func newTestPeer(conn net.Conn) *testPeer {
	p := &testPeer{
		messages: make(chan message.Message, 64),
		frames:   make(chan []byte, 64),
	}
	p.mux = transport.New(conn, transport.Handlers{
		OnMessage: func(m message.Message) { p.messages <- m },
		OnVideoFrame: func(h wire.FrameHeader, payload []byte) {
			cp := make([]byte, len(payload))
			copy(cp, payload)
			p.frames <- cp
		},
	}, testLogger())
	go p.mux.Run()
	return p
}

func (p *testPeer) expectMessage(t *testing.T, timeout time.Duration) message.Message {
	t.Helper()
	select {
	case m := <-p.messages:
		return m
	case <-time.After(timeout):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func (p *testPeer) expectFrame(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	select {
	case f := <-p.frames:
		return f
	case <-time.After(timeout):
		t.Fatal("timed out waiting for video frame")
		return nil
	}
}

// waitFor polls cond until it returns true or the timeout elapses, failing
// the test on timeout.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
