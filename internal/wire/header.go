// Package wire implements the byte-level framing primitives shared by the
// transport multiplex: the video-frame header codec and the structured
// record delimiters. Nothing here knows about message semantics; that
// belongs to internal/message.
package wire

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the fixed size in bytes of a video-frame header:
// u32 size, u32 timestamp_ms, u8 flags, all little-endian.
const HeaderSize = 9

// MaxFrameSize is the largest payload a video frame header may declare.
const MaxFrameSize = 10 * 1024 * 1024

// FlagKeyframe is bit 0 of the header flags byte.
const FlagKeyframe = 0x01

// StructuredPrefix is the first byte of every structured record on the
// wire. No video-frame header ever begins with this byte, which is what
// lets the demultiplexer classify without a side channel.
const StructuredPrefix = '{'

// RecordTerminator terminates a structured record.
const RecordTerminator = '\n'

// ErrHeaderInvalid is returned by ParseHeader when size is out of the
// permitted range [1, MaxFrameSize].
var ErrHeaderInvalid = errors.New("wire: invalid video frame header")

// FrameHeader is the decoded form of a video-frame header.
type FrameHeader struct {
	Size        uint32
	TimestampMS uint32
	Flags       uint8
}

// Keyframe reports whether flag bit 0 is set.
func (h FrameHeader) Keyframe() bool { return h.Flags&FlagKeyframe != 0 }

// EncodeHeader writes the 9-byte little-endian header for a payload of the
// given size, timestamp and keyframe flag into buf, which must be at least
// HeaderSize bytes.
func EncodeHeader(buf []byte, size uint32, timestampMS uint32, keyframe bool) {
	binary.LittleEndian.PutUint32(buf[0:4], size)
	binary.LittleEndian.PutUint32(buf[4:8], timestampMS)
	var flags uint8
	if keyframe {
		flags |= FlagKeyframe
	}
	buf[8] = flags
}

// ParseHeader decodes a 9-byte header and validates the declared size is in
// [1, MaxFrameSize]. buf must be at least HeaderSize bytes; only the first
// HeaderSize are read.
func ParseHeader(buf []byte) (FrameHeader, error) {
	if len(buf) < HeaderSize {
		return FrameHeader{}, ErrHeaderInvalid
	}
	h := FrameHeader{
		Size:        binary.LittleEndian.Uint32(buf[0:4]),
		TimestampMS: binary.LittleEndian.Uint32(buf[4:8]),
		Flags:       buf[8],
	}
	if h.Size < 1 || h.Size > MaxFrameSize {
		return FrameHeader{}, ErrHeaderInvalid
	}
	return h, nil
}

// IsStructuredPrefix reports whether b is the first byte of a structured
// record rather than a video-frame header.
func IsStructuredPrefix(b byte) bool { return b == StructuredPrefix }
