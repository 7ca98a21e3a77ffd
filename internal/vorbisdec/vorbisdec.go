// Package vorbisdec decodes Vorbis audio packets into 16-bit PCM blocks
// using github.com/jfreymuth/vorbis.
package vorbisdec

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/jfreymuth/vorbis"

	"github.com/zsiec/plogg/codec"
	"github.com/zsiec/plogg/media"
	"github.com/zsiec/plogg/ogg"
)

// ErrHeaders means the stream's header packets were rejected by the decoder.
var ErrHeaders = errors.New("vorbisdec: invalid headers")

// Decoder decodes the packets of one Vorbis stream. It implements
// granule.AudioDecoder.
type Decoder struct {
	log      *slog.Logger
	dec      vorbis.Decoder
	channels int
	buf      []float32
	packets  int64
}

// New creates a Decoder primed with the header packets collected by the
// demultiplexer. If log is nil, slog.Default() is used.
func New(v *codec.Vorbis, log *slog.Logger) (*Decoder, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &Decoder{log: log.With("component", "vorbisdec")}
	for i, h := range v.Headers {
		if err := d.dec.ReadHeader(h); err != nil {
			return nil, fmt.Errorf("%w: header %d: %w", ErrHeaders, i, err)
		}
	}
	if !d.dec.HeadersRead() {
		return nil, fmt.Errorf("%w: %d of 3 headers present", ErrHeaders, len(v.Headers))
	}
	d.channels = d.dec.Channels()
	d.buf = make([]float32, d.dec.BufferSize())
	d.log.Debug("decoder ready", "rate", d.dec.SampleRate(), "channels", d.channels)
	return d, nil
}

// Decode decodes one packet. The first packet after a reset only primes
// the overlap window and yields no block.
func (d *Decoder) Decode(pkt *ogg.Packet) ([]*media.AudioSample, error) {
	d.packets++
	if len(pkt.Data) == 0 {
		return nil, nil
	}
	out, err := d.dec.DecodeInto(pkt.Data, d.buf)
	if err != nil {
		return nil, fmt.Errorf("vorbisdec: packet %d: %w", pkt.PacketNo, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return []*media.AudioSample{{
		PCM:      toPCM(out),
		Samples:  len(out) / d.channels,
		Channels: d.channels,
		Granule:  ogg.UnknownGranule,
	}}, nil
}

// Reset discards the overlap carried from the previous packet.
func (d *Decoder) Reset() {
	d.dec.Clear()
}

// toPCM converts interleaved float samples to signed 16-bit, rounding and
// clamping to the representable range.
func toPCM(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		s := math.Floor(0.5 + float64(v)*32767)
		out[i] = int16(max(min(s, 32767), -32768))
	}
	return out
}
