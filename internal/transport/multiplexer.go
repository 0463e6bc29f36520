// Package transport implements the framed transport multiplex: a single
// ordered bytestream carrying both structured JSON-line records and binary
// video frames, classified by first byte (§4.1).
package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/pairkvm/kvm/internal/message"
	"github.com/pairkvm/kvm/internal/wire"
)

// maxConsecutiveParseErrors is the resync threshold from §4.1: after this
// many consecutive failed header parses the entire buffer is dropped and
// the multiplexer waits for the next keyframe before resuming dispatch.
const maxConsecutiveParseErrors = 3

// readChunkSize is the size of each raw read from the connection.
const readChunkSize = 64 * 1024

// ErrConnectionLost wraps a transport-level read or write failure. Per
// §4.1/§7 this terminates the session; there is no retry at this layer.
var ErrConnectionLost = errors.New("transport: connection lost")

// Handlers are the dispatch callbacks invoked by Run as records are
// decoded off the wire. They are called synchronously from the read loop,
// in wire order, and must not block (§5).
type Handlers struct {
	// OnMessage is invoked for every successfully decoded structured
	// record.
	OnMessage func(message.Message)
	// OnVideoFrame is invoked for every successfully parsed video frame
	// that is not discarded by the resync policy. payload is only valid
	// for the duration of the call.
	OnVideoFrame func(header wire.FrameHeader, payload []byte)
	// OnMalformedRecord is invoked for a structured record that failed to
	// decode. Per §4.1 this is logged and skipped; it does not terminate
	// the session.
	OnMalformedRecord func(raw []byte, err error)
}

// Multiplexer demultiplexes one net.Conn into structured messages and
// video frames, and serialises writes of both kinds so framing is never
// interleaved (§4.1, §5).
type Multiplexer struct {
	conn net.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	handlers Handlers

	buf                      []byte
	consecutiveParseErrors   int
	resyncAwaitingKeyframe   bool
}

// New creates a Multiplexer over conn. handlers must be fully populated
// before Run is called.
func New(conn net.Conn, handlers Handlers, log *slog.Logger) *Multiplexer {
	if log == nil {
		log = slog.Default()
	}
	return &Multiplexer{conn: conn, handlers: handlers, log: log}
}

// SendStructured serialises msg as a structured record and writes it
// atomically with respect to other sends (§4.1 "writes never interleave").
func (m *Multiplexer) SendStructured(msg message.Message) error {
	encoded, err := message.Encode(msg)
	if err != nil {
		return err
	}
	return m.write(encoded)
}

// SendFrame writes a video-frame header followed by payload atomically.
// size is implied by len(payload), which must be in [1, wire.MaxFrameSize].
func (m *Multiplexer) SendFrame(keyframe bool, timestampMS uint32, payload []byte) error {
	if len(payload) < 1 || len(payload) > wire.MaxFrameSize {
		return fmt.Errorf("transport: frame payload size %d out of range", len(payload))
	}
	buf := make([]byte, wire.HeaderSize+len(payload))
	wire.EncodeHeader(buf, uint32(len(payload)), timestampMS, keyframe)
	copy(buf[wire.HeaderSize:], payload)
	return m.write(buf)
}

func (m *Multiplexer) write(buf []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if _, err := m.conn.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// Run reads from the connection until it is closed or a read error
// occurs, dispatching decoded records to the handlers in wire order. It
// returns ErrConnectionLost-wrapped errors on transport failure and nil on
// a clean EOF.
func (m *Multiplexer) Run() error {
	chunk := make([]byte, readChunkSize)
	for {
		n, err := m.conn.Read(chunk)
		if n > 0 {
			m.buf = append(m.buf, chunk[:n]...)
			m.drain()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
	}
}

// drain consumes as many complete records as are available in m.buf,
// implementing the receive algorithm and resync policy of §4.1.
func (m *Multiplexer) drain() {
	for len(m.buf) > 0 {
		if wire.IsStructuredPrefix(m.buf[0]) {
			idx := indexByte(m.buf, '\n')
			if idx < 0 {
				return // wait for more bytes
			}
			line := m.buf[:idx]
			m.buf = m.buf[idx+1:]
			msg, err := message.Decode(line)
			if err != nil {
				if m.handlers.OnMalformedRecord != nil {
					m.handlers.OnMalformedRecord(line, err)
				}
				continue
			}
			m.consecutiveParseErrors = 0
			if m.handlers.OnMessage != nil {
				m.handlers.OnMessage(msg)
			}
			continue
		}

		if len(m.buf) < wire.HeaderSize {
			return // wait for more bytes
		}
		hdr, err := wire.ParseHeader(m.buf[:wire.HeaderSize])
		if err != nil {
			m.consecutiveParseErrors++
			m.buf = m.buf[1:]
			if m.consecutiveParseErrors >= maxConsecutiveParseErrors {
				m.log.Warn("transport: resync, dropping buffered bytes", "bytes", len(m.buf))
				m.buf = nil
				m.consecutiveParseErrors = 0
				m.resyncAwaitingKeyframe = true
			}
			continue
		}

		total := wire.HeaderSize + int(hdr.Size)
		if len(m.buf) < total {
			return // wait for more bytes
		}
		payload := m.buf[wire.HeaderSize:total]
		m.buf = m.buf[total:]
		m.consecutiveParseErrors = 0

		if m.resyncAwaitingKeyframe {
			if !hdr.Keyframe() {
				continue // drop silently until the next keyframe
			}
			m.resyncAwaitingKeyframe = false
		}

		if m.handlers.OnVideoFrame != nil {
			m.handlers.OnVideoFrame(hdr, payload)
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
