// Package openh264enc implements internal/platform's VideoEncoder on top
// of Cisco's openh264 via go-openh264, mirroring the reference agent's
// habit of keeping one codec/vendor concern per internal package. RGBA
// frames from the screen source
// are converted to I420 before encoding, since openh264 operates on
// planar YUV.
package openh264enc

import (
	"bytes"
	"fmt"
	"image"
	"sync"

	openh264 "github.com/y9o/go-openh264"

	"github.com/pairkvm/kvm/internal/platform"
)

// Encoder wraps an openh264 encoder instance configured for constant
// bitrate, annex-B NAL output.
type Encoder struct {
	mu  sync.Mutex
	enc *openh264.Encoder

	width, height int
	forceKeyframe bool
}

// New opens an openh264 encoder targeting the given dimensions and bitrate.
func New(width, height, bitrateKbps int) (*Encoder, error) {
	enc, err := openh264.NewEncoder(
		openh264.WithResolution(width, height),
		openh264.WithBitrate(bitrateKbps*1000),
		openh264.WithMaxFrameRate(60),
	)
	if err != nil {
		return nil, fmt.Errorf("openh264enc: new encoder: %w", err)
	}
	return &Encoder{enc: enc, width: width, height: height}, nil
}

// SetBitrate reconfigures the target bitrate, used by the adaptive
// advisor (internal/adaptive) to react to CPU/link pressure.
func (e *Encoder) SetBitrate(kbps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.SetBitrate(kbps * 1000)
}

func (e *Encoder) ForceKeyframe() {
	e.mu.Lock()
	e.forceKeyframe = true
	e.mu.Unlock()
}

func (e *Encoder) Codec() string { return "h264" }

// Encode converts img to I420 and runs it through the encoder, returning
// the Annex-B NAL payload (parameter sets prefixed on keyframes).
func (e *Encoder) Encode(img *image.RGBA, timestampMS uint32) (platform.EncodedFrame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	yuv := rgbaToI420(img)

	if e.forceKeyframe {
		e.enc.ForceIntraFrame()
		e.forceKeyframe = false
	}

	nals, err := e.enc.Encode(yuv)
	if err != nil {
		return platform.EncodedFrame{}, fmt.Errorf("openh264enc: encode: %w", err)
	}

	var buf bytes.Buffer
	keyframe := false
	for _, nal := range nals {
		if len(nal) > 0 && isKeyframeNAL(nal[0]) {
			keyframe = true
		}
		buf.Write(annexBStartCode)
		buf.Write(nal)
	}

	return platform.EncodedFrame{Payload: buf.Bytes(), Keyframe: keyframe, TimestampMS: timestampMS}, nil
}

func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Close()
}

var annexBStartCode = []byte{0, 0, 0, 1}

// isKeyframeNAL reports whether the Annex-B NAL unit type byte (low 5
// bits) marks an IDR slice or a parameter set; a payload containing any of
// these is flagged as a keyframe in the frame header.
func isKeyframeNAL(firstByte byte) bool {
	switch firstByte & 0x1f {
	case 5, 7, 8: // IDR slice, SPS, PPS
		return true
	default:
		return false
	}
}

// rgbaToI420 converts a packed RGBA image to planar 4:2:0 YUV using the
// BT.601 limited-range (studio swing) coefficients, matching what most H.264 conformance
// decoders expect absent an explicit colour-primaries signal (§1
// "Non-goals: precise colour management" — this is the minimal
// conversion, not a colour-managed one).
func rgbaToI420(img *image.RGBA) *openh264.YCbCrImage {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	yuv := openh264.NewYCbCrImage(w, h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(img.Rect.Min.X+x, img.Rect.Min.Y+y).RGBA()
			r8, g8, b8 := uint8(r>>8), uint8(g>>8), uint8(b>>8)
			yuv.SetY(x, y, rgbToY(r8, g8, b8))
			if x%2 == 0 && y%2 == 0 {
				yuv.SetCb(x/2, y/2, rgbToCb(r8, g8, b8))
				yuv.SetCr(x/2, y/2, rgbToCr(r8, g8, b8))
			}
		}
	}
	return yuv
}

func rgbToY(r, g, b uint8) uint8 {
	return uint8((66*int(r) + 129*int(g) + 25*int(b) + 128) >> 8 + 16)
}

func rgbToCb(r, g, b uint8) uint8 {
	return uint8((-38*int(r) - 74*int(g) + 112*int(b) + 128) >> 8 + 128)
}

func rgbToCr(r, g, b uint8) uint8 {
	return uint8((112*int(r) - 94*int(g) - 18*int(b) + 128) >> 8 + 128)
}
