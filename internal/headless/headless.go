// Package headless provides the video collaborators used when no display
// or pixel decoder is available: a decoder that describes frames from the
// stream header without decoding pixels, and a renderer that logs them.
package headless

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/plogg/codec"
	"github.com/zsiec/plogg/media"
	"github.com/zsiec/plogg/ogg"
)

// Theora pixel formats.
const (
	pixelFormat420 = 0
	pixelFormat422 = 2
	pixelFormat444 = 3
)

// ErrCrop means a frame's picture region lies outside its planes.
var ErrCrop = errors.New("headless: picture region outside frame")

// FrameProbe is a video decoder that returns frames with the geometry of
// the stream and neutral gray planes. Zero-length packets repeat the
// previous picture and produce no frame.
type FrameProbe struct {
	log    *slog.Logger
	planes [3]media.Plane
	info   codec.TheoraInfo
}

// NewFrameProbe creates a FrameProbe for the stream described by t. If log
// is nil, slog.Default() is used.
func NewFrameProbe(t *codec.Theora, log *slog.Logger) (*FrameProbe, error) {
	if log == nil {
		log = slog.Default()
	}
	info := t.Info
	if info.FrameWidth == 0 || info.FrameHeight == 0 {
		return nil, fmt.Errorf("headless: empty frame size %dx%d", info.FrameWidth, info.FrameHeight)
	}

	w, h := int(info.FrameWidth), int(info.FrameHeight)
	cw, ch := w, h
	switch info.PixelFormat {
	case pixelFormat420:
		cw, ch = (w+1)/2, (h+1)/2
	case pixelFormat422:
		cw = (w + 1) / 2
	case pixelFormat444:
	default:
		return nil, fmt.Errorf("headless: unsupported pixel format %d", info.PixelFormat)
	}

	p := &FrameProbe{log: log.With("component", "frame-probe"), info: info}
	p.planes[0] = gray(w, h)
	p.planes[1] = gray(cw, ch)
	p.planes[2] = gray(cw, ch)
	p.log.Debug("frame geometry", "width", w, "height", h, "chroma_width", cw, "chroma_height", ch,
		"picture", fmt.Sprintf("%dx%d+%d+%d", info.PictureWidth, info.PictureHeight, info.PictureX, info.PictureY))
	return p, nil
}

func gray(w, h int) media.Plane {
	data := make([]byte, w*h)
	for i := range data {
		data[i] = 0x80
	}
	return media.Plane{Width: w, Height: h, Stride: w, Data: data}
}

// Decode implements player.VideoDecoder. The planes are shared between
// frames and must not be modified.
func (p *FrameProbe) Decode(pkt *ogg.Packet) (*media.VideoFrame, error) {
	if len(pkt.Data) == 0 {
		return nil, nil
	}
	if pkt.Data[0]&0x80 != 0 {
		return nil, fmt.Errorf("headless: header packet %d in data", pkt.PacketNo)
	}
	return &media.VideoFrame{
		Planes:        p.planes,
		PictureX:      int(p.info.PictureX),
		PictureY:      int(p.info.PictureY),
		PictureWidth:  int(p.info.PictureWidth),
		PictureHeight: int(p.info.PictureHeight),
	}, nil
}

// Renderer logs every presented frame at debug level.
type Renderer struct {
	log        *slog.Logger
	fullscreen bool
	presented  int64
}

// NewRenderer creates a Renderer. If log is nil, slog.Default() is used.
func NewRenderer(log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.Default()
	}
	return &Renderer{log: log.With("component", "renderer")}
}

// Present implements player.Renderer.
func (r *Renderer) Present(f *media.VideoFrame) error {
	y := f.Planes[0]
	if f.PictureX < 0 || f.PictureY < 0 ||
		f.PictureX+f.PictureWidth > y.Width || f.PictureY+f.PictureHeight > y.Height {
		return fmt.Errorf("%w: %dx%d+%d+%d in %dx%d", ErrCrop,
			f.PictureWidth, f.PictureHeight, f.PictureX, f.PictureY, y.Width, y.Height)
	}
	r.presented++
	r.log.Debug("present",
		"granule", f.Granule,
		"time", f.Time,
		"keyframe", f.IsKeyframe,
		"fullscreen", r.fullscreen,
	)
	return nil
}

// ToggleFullscreen implements player.Fullscreener.
func (r *Renderer) ToggleFullscreen() error {
	r.fullscreen = !r.fullscreen
	r.log.Info("fullscreen", "enabled", r.fullscreen)
	return nil
}

// Presented returns the number of frames presented.
func (r *Renderer) Presented() int64 {
	return r.presented
}
