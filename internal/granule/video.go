// Package granule assigns a definite granule position to every packet and
// decoded sample block even when the container omits it. Positions are
// filled forward from the last known value, or reconstructed backward from
// the next known value after a seek or at stream start.
package granule

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/plogg/codec"
	"github.com/zsiec/plogg/ogg"
)

// ErrGranuleInconsistent means a reconstructed granule position conflicts
// with one read from the container. It indicates malformed input.
var ErrGranuleInconsistent = errors.New("granule: inconsistent granule position")

// PacketSource yields the packets of one logical stream.
type PacketSource interface {
	// NextPacket returns the next packet, reading from the source as
	// needed, or io.EOF.
	NextPacket() (*ogg.Packet, error)
	// BufferedPacket returns the next packet only if no read is needed.
	BufferedPacket() (*ogg.Packet, bool)
}

type timedPacket struct {
	pkt      *ogg.Packet
	inferred bool
}

// VideoTimeline yields Theora packets with granule positions assigned. It
// owns a queue of packet clones; every queued packet already carries its
// final granule position.
type VideoTimeline struct {
	log    *slog.Logger
	src    PacketSource
	theora *codec.Theora
	queue  []timedPacket

	last         int64
	lastInferred bool
}

// NewVideoTimeline creates a timeline over src. If log is nil,
// slog.Default() is used.
func NewVideoTimeline(src PacketSource, theora *codec.Theora, log *slog.Logger) *VideoTimeline {
	if log == nil {
		log = slog.Default()
	}
	return &VideoTimeline{
		log:    log.With("component", "video-timeline"),
		src:    src,
		theora: theora,
		last:   ogg.UnknownGranule,
	}
}

// Next removes and returns the next packet. The packet is owned by the
// caller.
func (v *VideoTimeline) Next() (*ogg.Packet, error) {
	if err := v.fill(); err != nil {
		return nil, err
	}
	tp := v.queue[0]
	v.queue[0] = timedPacket{}
	v.queue = v.queue[1:]
	v.last = tp.pkt.Granule
	v.lastInferred = tp.inferred
	return tp.pkt, nil
}

// Peek returns the next packet without removing it. The packet stays owned
// by the timeline.
func (v *VideoTimeline) Peek() (*ogg.Packet, error) {
	if err := v.fill(); err != nil {
		return nil, err
	}
	return v.queue[0].pkt, nil
}

// Last returns the granule position of the last packet returned by Next,
// or -1.
func (v *VideoTimeline) Last() int64 {
	return v.last
}

// Buffered returns the number of queued packets.
func (v *VideoTimeline) Buffered() int {
	return len(v.queue)
}

// Reset discards queued packets and the last known position, as after a
// seek.
func (v *VideoTimeline) Reset() {
	clear(v.queue)
	v.queue = v.queue[:0]
	v.last = ogg.UnknownGranule
	v.lastInferred = false
}

// fill makes sure the queue holds at least one packet.
func (v *VideoTimeline) fill() error {
	if len(v.queue) > 0 {
		return nil
	}
	pkt, err := v.src.NextPacket()
	if err != nil {
		return err
	}

	if pkt.Granule >= 0 {
		if err := v.check(pkt.Granule); err != nil {
			return err
		}
		v.queue = append(v.queue, timedPacket{pkt: pkt.Clone()})
		return nil
	}

	if v.last >= 0 {
		c := pkt.Clone()
		if codec.TheoraIsKeyframe(c.Data) {
			units := v.theora.FrameUnits(v.last) + 1
			c.Granule = v.theora.EncodeGranule(units, units)
		} else {
			c.Granule = v.last + 1
		}
		v.queue = append(v.queue, timedPacket{pkt: c, inferred: true})
		return nil
	}

	return v.reconstruct(pkt)
}

// check verifies a granule read from the container against the last known
// position. A position inferred by forward fill must be immediately
// followed by the next frame.
func (v *VideoTimeline) check(granule int64) error {
	if v.last < 0 {
		return nil
	}
	units := v.theora.FrameUnits(granule)
	lastUnits := v.theora.FrameUnits(v.last)
	if v.lastInferred && units != lastUnits+1 {
		return fmt.Errorf("%w: frame %d follows inferred frame %d", ErrGranuleInconsistent, units, lastUnits)
	}
	if units <= lastUnits {
		return fmt.Errorf("%w: frame %d does not advance past %d", ErrGranuleInconsistent, units, lastUnits)
	}
	return nil
}

// reconstruct buffers untimed packets until one with a known granule
// arrives, then assigns positions backward from it: each packet is one frame
// before its successor. A packet's keyframe base is the nearest buffered
// keyframe at or before it, or the anchor's keyframe if none lies between
// them. Packets whose keyframe precedes the run get the lowest legal base.
func (v *VideoTimeline) reconstruct(first *ogg.Packet) error {
	run := []*ogg.Packet{first.Clone()}
	var anchor *ogg.Packet
	for anchor == nil {
		pkt, err := v.src.NextPacket()
		if errors.Is(err, io.EOF) {
			v.log.Warn("input ended before a timed video packet, dropping untimed tail", "packets", len(run))
			return io.EOF
		}
		if err != nil {
			return err
		}
		if pkt.Granule >= 0 {
			anchor = pkt.Clone()
			break
		}
		run = append(run, pkt.Clone())
	}

	shift := v.theora.Shift()
	anchorUnits := v.theora.FrameUnits(anchor.Granule)
	anchorBase := anchor.Granule >> shift
	n := int64(len(run))
	if anchorUnits-n < 0 {
		return fmt.Errorf("%w: %d untimed packets precede frame %d", ErrGranuleInconsistent, n, anchorUnits)
	}

	// Keyframe base for each packet, scanning forward.
	bases := make([]int64, n)
	current := int64(-1)
	for i, pkt := range run {
		units := anchorUnits - (n - int64(i))
		if codec.TheoraIsKeyframe(pkt.Data) {
			current = units
		}
		bases[i] = current
	}

	// Packets before the first buffered keyframe belong to the anchor's
	// group only if no keyframe lies between them and the anchor.
	laterKeyframe := codec.TheoraIsKeyframe(anchor.Data)
	for i := n - 1; i >= 0; i-- {
		units := anchorUnits - (n - i)
		if bases[i] < 0 {
			if laterKeyframe {
				bases[i] = max(units-(int64(1)<<shift-1), 0)
			} else {
				bases[i] = anchorBase
			}
		}
		if codec.TheoraIsKeyframe(run[i].Data) {
			laterKeyframe = true
		}
	}

	for i, pkt := range run {
		units := anchorUnits - (n - int64(i))
		if bases[i] > units || units-bases[i] >= int64(1)<<shift {
			return fmt.Errorf("%w: frame %d cannot refer to keyframe %d", ErrGranuleInconsistent, units, bases[i])
		}
		pkt.Granule = v.theora.EncodeGranule(bases[i], units)
		v.queue = append(v.queue, timedPacket{pkt: pkt})
	}
	v.queue = append(v.queue, timedPacket{pkt: anchor})
	v.log.Debug("reconstructed video granules", "packets", n, "anchor", anchor.Granule)
	return nil
}
