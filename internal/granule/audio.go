package granule

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/plogg/media"
	"github.com/zsiec/plogg/ogg"
)

// AudioDecoder turns compressed audio packets into PCM blocks.
type AudioDecoder interface {
	// Decode returns zero or more blocks with Granule set to -1.
	Decode(pkt *ogg.Packet) ([]*media.AudioSample, error)
	// Reset discards decoder state carried between packets.
	Reset()
}

// AudioTimeline yields decoded sample blocks in stream order, each tagged
// with the granule position of its last sample. It owns the queue of
// decoded blocks until they are dequeued.
type AudioTimeline struct {
	log   *slog.Logger
	src   PacketSource
	dec   AudioDecoder
	queue []*media.AudioSample

	// lastEnd is the granule of the last block returned by Next, or -1.
	lastEnd int64
}

// NewAudioTimeline creates a timeline decoding packets from src with dec. If
// log is nil, slog.Default() is used.
func NewAudioTimeline(src PacketSource, dec AudioDecoder, log *slog.Logger) *AudioTimeline {
	if log == nil {
		log = slog.Default()
	}
	return &AudioTimeline{
		log: log.With("component", "audio-timeline"),
		src: src,
		dec: dec,

		lastEnd: ogg.UnknownGranule,
	}
}

// Next removes and returns the next block. Returns io.EOF once the stream
// is exhausted.
func (a *AudioTimeline) Next() (*media.AudioSample, error) {
	for len(a.queue) == 0 || a.queue[0].Granule < 0 {
		if err := a.decodePage(); err != nil {
			if errors.Is(err, io.EOF) && len(a.queue) > 0 {
				a.log.Warn("input ended before a timed audio packet, dropping untimed tail", "blocks", len(a.queue))
				clear(a.queue)
				a.queue = a.queue[:0]
			}
			return nil, err
		}
	}
	s := a.queue[0]
	a.queue[0] = nil
	a.queue = a.queue[1:]
	a.lastEnd = s.Granule
	return s, nil
}

// PushFront returns a block to the head of the queue.
func (a *AudioTimeline) PushFront(s *media.AudioSample) {
	a.queue = append([]*media.AudioSample{s}, a.queue...)
}

// StartGranule returns the granule position of the first sample of the
// next block, leaving the block queued.
func (a *AudioTimeline) StartGranule() (int64, error) {
	s, err := a.Next()
	if err != nil {
		return 0, err
	}
	a.PushFront(s)
	return s.Granule - int64(s.Samples), nil
}

// Buffered returns the number of queued blocks.
func (a *AudioTimeline) Buffered() int {
	return len(a.queue)
}

// Reset discards queued blocks and decoder state, as after a seek.
func (a *AudioTimeline) Reset() {
	clear(a.queue)
	a.queue = a.queue[:0]
	a.lastEnd = ogg.UnknownGranule
	a.dec.Reset()
}

// decodePage pulls one packet, then drains every packet already
// reassembled, decoding each and tagging granules.
func (a *AudioTimeline) decodePage() error {
	pkt, err := a.src.NextPacket()
	if err != nil {
		return err
	}
	for {
		if err := a.decode(pkt); err != nil {
			return err
		}
		var ok bool
		if pkt, ok = a.src.BufferedPacket(); !ok {
			return nil
		}
	}
}

func (a *AudioTimeline) decode(pkt *ogg.Packet) error {
	blocks, err := a.dec.Decode(pkt)
	if err != nil {
		return fmt.Errorf("granule: decode audio packet %d: %w", pkt.PacketNo, err)
	}
	for _, b := range blocks {
		b.Granule = ogg.UnknownGranule
		a.queue = append(a.queue, b)
	}
	if pkt.Granule < 0 || len(a.queue) == 0 {
		return nil
	}

	last := a.queue[len(a.queue)-1]
	if last.Granule >= 0 {
		// The packet produced nothing and everything queued is timed.
		return nil
	}
	return a.anchor(len(a.queue)-1, pkt.Granule, pkt.EOS)
}

// anchor assigns granule to the block at index i and walks backward,
// giving each earlier untimed block the position where its successor
// starts. An end of stream anchor may be smaller than the sample count
// implies; the walk then stops at the first timed block and the final block
// is trimmed to fit.
func (a *AudioTimeline) anchor(i int, granule int64, eos bool) error {
	s := a.queue[i]
	end := a.lastEnd
	if i > 0 {
		end = a.queue[i-1].Granule
	}
	if eos && end >= 0 {
		if keep := granule - end; keep >= 0 && keep < int64(s.Samples) {
			s.PCM = s.PCM[:int(keep)*s.Channels]
			s.Samples = int(keep)
		}
	}
	s.Granule = granule

	prev := granule - int64(s.Samples)
	lowest := i
	for j := i - 1; j >= 0; j-- {
		b := a.queue[j]
		if b.Granule >= 0 {
			if eos || b.Granule == prev {
				break
			}
			return fmt.Errorf("%w: block ends at %d, successor starts at %d", ErrGranuleInconsistent, b.Granule, prev)
		}
		b.Granule = prev
		prev -= int64(b.Samples)
		lowest = j
	}

	// Blocks reconstructed to end at or before time zero are dropped.
	if lowest == 0 {
		n := 0
		for n < i && a.queue[n].Granule <= 0 {
			n++
		}
		if n > 0 {
			a.log.Debug("dropped audio before time zero", "blocks", n)
			clear(a.queue[:n])
			a.queue = a.queue[n:]
		}
	}
	return nil
}
