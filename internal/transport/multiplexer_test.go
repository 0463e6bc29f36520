package transport

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/pairkvm/kvm/internal/message"
	"github.com/pairkvm/kvm/internal/wire"
)

func pipe(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// TestDemuxDisjointness covers scenario 6: a structured record immediately
// followed by a video frame must both dispatch, in order, with no residual
// bytes left unprocessed.
func TestDemuxDisjointness(t *testing.T) {
	client, server := pipe(t)

	var gotMessages []message.Message
	var gotFrames []wire.FrameHeader
	done := make(chan struct{})

	mux := New(server, Handlers{
		OnMessage: func(m message.Message) {
			gotMessages = append(gotMessages, m)
			if len(gotMessages) == 1 && len(gotFrames) == 1 {
				close(done)
			}
		},
		OnVideoFrame: func(h wire.FrameHeader, payload []byte) {
			gotFrames = append(gotFrames, h)
			if len(gotMessages) == 1 && len(gotFrames) == 1 {
				close(done)
			}
		},
	}, nil)
	go mux.Run()

	payload := bytes.Repeat([]byte{0xAB}, 2048)
	header := make([]byte, wire.HeaderSize)
	wire.EncodeHeader(header, uint32(len(payload)), 1000, false)

	buf := []byte(`{"kind":"controlRelease"}` + "\n")
	buf = append(buf, header...)
	buf = append(buf, payload...)

	go func() {
		client.Write(buf)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for both dispatches")
	}

	if len(gotMessages) != 1 || gotMessages[0].Kind() != message.KindControlRelease {
		t.Fatalf("unexpected messages: %+v", gotMessages)
	}
	if len(gotFrames) != 1 || gotFrames[0].Size != uint32(len(payload)) {
		t.Fatalf("unexpected frames: %+v", gotFrames)
	}
}

// TestResyncAfterCorruption covers scenario 3: a valid keyframe, then
// random bytes, then a valid header, then resync, then a clean keyframe
// must still decode end to end.
func TestResyncAfterCorruption(t *testing.T) {
	client, server := pipe(t)

	var frames []wire.FrameHeader
	done := make(chan struct{}, 1)

	mux := New(server, Handlers{
		OnVideoFrame: func(h wire.FrameHeader, payload []byte) {
			frames = append(frames, h)
			if h.Keyframe() && len(payload) == 42 {
				select {
				case done <- struct{}{}:
				default:
				}
			}
		},
	}, nil)
	go mux.Run()

	var buf bytes.Buffer

	firstPayload := bytes.Repeat([]byte{0x01}, 200000)
	h1 := make([]byte, wire.HeaderSize)
	wire.EncodeHeader(h1, uint32(len(firstPayload)), 0, true)
	buf.Write(h1)
	buf.Write(firstPayload)

	// Corruption: 5 random-ish bytes that are not a valid header and are
	// not the '{' structured prefix.
	buf.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01})

	// A malformed-looking header for size=15000 that lands mid-corruption
	// recovery; its exact fate is resync-policy-dependent, so the test
	// only asserts on the final clean keyframe below.
	junkHeader := make([]byte, wire.HeaderSize)
	binary.LittleEndian.PutUint32(junkHeader[0:4], 15000)
	buf.Write(junkHeader)

	// Final clean keyframe that must be decoded end-to-end after resync. It
	// is written after the corrupted burst, since resync clears everything
	// already buffered.
	var tail bytes.Buffer
	finalPayload := bytes.Repeat([]byte{0x02}, 42)
	h2 := make([]byte, wire.HeaderSize)
	wire.EncodeHeader(h2, uint32(len(finalPayload)), 5000, true)
	tail.Write(h2)
	tail.Write(finalPayload)

	go func() {
		client.Write(buf.Bytes())
		client.Write(tail.Bytes())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for final keyframe, got frames: %+v", frames)
	}
}
