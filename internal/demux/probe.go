package demux

import (
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/plogg/internal/seek"
)

// Probe implements seek.Prober. It repositions to offset, resynchronizes to
// the next page and reads forward, feeding pages to their streams, until
// every primary stream has produced a page with a known granule position.
// The sample time is the minimum of the streams' times. At end of input the
// known times are used; if there are none, io.ErrUnexpectedEOF is returned.
func (s *Session) Probe(offset int64) (seek.Sample, error) {
	if err := s.Reposition(offset); err != nil {
		return seek.Sample{}, err
	}

	audioMS, videoMS := int64(-1), int64(-1)
	first := int64(-1)
	for audioMS < 0 || (s.video != nil && videoMS < 0) {
		p, err := s.readPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return seek.Sample{}, err
		}
		if first < 0 {
			first = p.Offset
		}
		g := p.Granule()
		if g < 0 {
			continue
		}
		switch {
		case p.Serial() == s.audio.Serial && audioMS < 0:
			audioMS = seek.MS(s.audio.GranuleTime(g))
		case s.video != nil && p.Serial() == s.video.Serial && videoMS < 0:
			videoMS = seek.MS(s.video.GranuleTime(g))
		}
	}

	t := audioMS
	if videoMS >= 0 && (t < 0 || videoMS < t) {
		t = videoMS
	}
	if t < 0 {
		return seek.Sample{Offset: first}, fmt.Errorf("demux: probe at %d: %w", offset, io.ErrUnexpectedEOF)
	}
	return seek.Sample{Offset: first, TimeMS: t}, nil
}

// Reposition implements seek.Prober. It moves the read cursor to offset and
// discards the page synchronization state. Bytes skipped before the next
// page are recorded as a resync.
func (s *Session) Reposition(offset int64) error {
	if err := s.reader.SeekTo(offset); err != nil {
		return err
	}
	s.nextOffset = offset
	return nil
}

// ResetDecode implements seek.Prober. It discards the buffered data of every
// stream.
func (s *Session) ResetDecode() {
	for _, st := range s.streams.streams {
		st.Reset()
	}
}
