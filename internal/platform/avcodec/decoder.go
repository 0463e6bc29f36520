// Package avcodec implements internal/platform's VideoDecoder on top of
// FFmpeg via goav, grounded directly on the scrcpy client example's
// video.Decoder (goapp/video/decoder.go): an H.264 avcodec.Context fed
// whole payloads, send-packet then receive-frame, without a separate
// parser context. This adds the
// parameter-set change notification and the swscale conversion down to
// image.RGBA that internal/platform.VideoDecoder requires.
package avcodec

import (
	"fmt"
	"image"
	"sync"

	"github.com/giorgisio/goav/avcodec"
	"github.com/giorgisio/goav/avutil"
	"github.com/giorgisio/goav/swscale"

	"github.com/pairkvm/kvm/internal/platform"
)

// Decoder wraps an FFmpeg H.264 decoder and rescales its output frames to
// packed RGBA for the video pipeline.
type Decoder struct {
	mu sync.Mutex

	codecCtx *avcodec.Context
	frame    *avutil.Frame
	swsCtx   *swscale.Context
	dstFrame *avutil.Frame

	lastW, lastH int

	onParamChange func(platform.ParameterSetChange)
}

// NewDecoder opens an FFmpeg H.264 decoder.
func NewDecoder() (*Decoder, error) {
	codec := avcodec.AvcodecFindDecoder(avcodec.AV_CODEC_ID_H264)
	if codec == nil {
		return nil, fmt.Errorf("avcodec: h264 decoder not found")
	}
	ctx := codec.AvcodecAllocContext3()
	if ctx.AvcodecOpen2(codec, nil) < 0 {
		return nil, fmt.Errorf("avcodec: could not open h264 decoder")
	}
	return &Decoder{
		codecCtx: ctx,
		frame:    avutil.AvFrameAlloc(),
		dstFrame: avutil.AvFrameAlloc(),
	}, nil
}

// OnParameterSetChange registers the callback fired when Decode observes a
// change in frame dimensions, which for Annex-B H.264 only happens when a
// new SPS takes effect.
func (d *Decoder) OnParameterSetChange(fn func(platform.ParameterSetChange)) {
	d.mu.Lock()
	d.onParamChange = fn
	d.mu.Unlock()
}

// Decode feeds one Annex-B payload through the decoder, returning a
// decoded picture if the payload produced one.
func (d *Decoder) Decode(payload []byte) (*image.RGBA, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pkt := avcodec.AvPacketAlloc()
	pkt.AvInitPacket()
	pkt.SetData(payload)
	pkt.SetSize(len(payload))

	if ret := avcodec.AvcodecSendPacket(d.codecCtx, pkt); ret < 0 {
		return nil, false, fmt.Errorf("avcodec: send packet: %d", ret)
	}
	if ret := avcodec.AvcodecReceiveFrame(d.codecCtx, d.frame); ret != 0 {
		// EAGAIN: no displayable picture from this payload (parameter-set
		// only, or the decoder is still buffering).
		return nil, false, nil
	}

	w, h := d.frame.Width(), d.frame.Height()
	if w != d.lastW || h != d.lastH {
		d.lastW, d.lastH = w, h
		if d.swsCtx != nil {
			d.swsCtx.SwsFreecontext()
		}
		d.swsCtx = swscale.SwsGetcontext(
			w, h, (avcodec.PixelFormat)(d.frame.Format()),
			w, h, avcodec.AV_PIX_FMT_RGBA,
			swscale.SWS_BILINEAR, nil, nil, nil,
		)
		if fn := d.onParamChange; fn != nil {
			fn(platform.ParameterSetChange{Codec: "h264"})
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	dstData := [8]*uint8{avutil.BytePtrToAv(&img.Pix[0])}
	dstLinesize := [8]int32{int32(img.Stride)}
	swscale.SwsScale2(d.swsCtx, avutil.Data(d.frame), avutil.Linesize(d.frame), 0, h, dstData, dstLinesize)

	return img, true, nil
}

// Close releases the decoder's FFmpeg resources.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.swsCtx != nil {
		d.swsCtx.SwsFreecontext()
	}
	avutil.AvFrameFree(d.frame)
	avutil.AvFrameFree(d.dstFrame)
	d.codecCtx.AvcodecClose()
	return nil
}
