package ogg

import "fmt"

// pending describes one reassembled packet inside the working buffer.
type pending struct {
	start, end int
	granule    int64
	bos, eos   bool
}

// StreamState reassembles the packets of one logical stream from its pages.
//
// Packets returned by PacketOut and PacketPeek alias the state's working
// buffer and are only valid until the next PageIn or Reset. Use
// Packet.Clone to keep one longer.
type StreamState struct {
	serial   uint32
	body     []byte
	packets  []pending
	next     int
	partial  int // start of the unfinished packet in body, -1 if none
	seq      uint32
	haveSeq  bool
	bosSeen  bool
	packetNo int64
}

// NewStreamState creates the reassembly state for the stream with the given
// serial number.
func NewStreamState(serial uint32) *StreamState {
	return &StreamState{serial: serial, partial: -1}
}

// Serial returns the logical stream serial number.
func (s *StreamState) Serial() uint32 {
	return s.serial
}

// PageIn adds a page to the stream. Lost continuation data (after a reset or
// a sequence gap) is dropped up to the next packet boundary.
func (s *StreamState) PageIn(p *Page) error {
	if p.Serial() != s.serial {
		return fmt.Errorf("%w: got %d, want %d", ErrSerialMismatch, p.Serial(), s.serial)
	}
	if p.Version() != 0 {
		return fmt.Errorf("%w: version %d", ErrBadPage, p.Version())
	}
	segs := p.Segments()
	total := 0
	for _, l := range segs {
		total += int(l)
	}
	if total != len(p.Body) {
		return fmt.Errorf("%w: segment table covers %d bytes, body has %d", ErrBadPage, total, len(p.Body))
	}

	s.compact()

	if s.haveSeq && p.Sequence() != s.seq {
		s.dropPartial()
	}
	s.seq = p.Sequence() + 1
	s.haveSeq = true

	skipping := false
	if p.Continued() {
		skipping = s.partial < 0
	} else {
		s.dropPartial()
	}

	bos := p.BOS() && !s.bosSeen
	if p.BOS() {
		s.bosSeen = true
	}

	first := len(s.packets)
	pos := 0
	for _, l := range segs {
		chunk := p.Body[pos : pos+int(l)]
		pos += int(l)

		if skipping {
			if l < 255 {
				skipping = false
			}
			continue
		}

		if s.partial < 0 {
			s.partial = len(s.body)
		}
		s.body = append(s.body, chunk...)

		if l < 255 {
			s.packets = append(s.packets, pending{
				start:   s.partial,
				end:     len(s.body),
				granule: UnknownGranule,
			})
			s.partial = -1
		}
	}

	if len(s.packets) > first {
		if bos {
			s.packets[first].bos = true
		}
		last := &s.packets[len(s.packets)-1]
		last.granule = p.Granule()
		last.eos = p.EOS()
	}
	return nil
}

// PacketOut removes and returns the next complete packet.
func (s *StreamState) PacketOut() (*Packet, bool) {
	pkt, ok := s.PacketPeek()
	if ok {
		s.next++
		s.packetNo++
	}
	return pkt, ok
}

// PacketPeek returns the next complete packet without removing it.
func (s *StreamState) PacketPeek() (*Packet, bool) {
	if s.next >= len(s.packets) {
		return nil, false
	}
	pd := s.packets[s.next]
	return &Packet{
		Data:     s.body[pd.start:pd.end:pd.end],
		Granule:  pd.granule,
		BOS:      pd.bos,
		EOS:      pd.eos,
		PacketNo: s.packetNo,
	}, true
}

// Pending returns the number of complete packets not yet taken.
func (s *StreamState) Pending() int {
	return len(s.packets) - s.next
}

// Reset discards all buffered data, as after a seek. The serial number is
// kept.
func (s *StreamState) Reset() {
	s.body = s.body[:0]
	s.packets = s.packets[:0]
	s.next = 0
	s.partial = -1
	s.haveSeq = false
}

func (s *StreamState) dropPartial() {
	if s.partial >= 0 {
		s.body = s.body[:s.partial]
		s.partial = -1
	}
}

// compact drops bytes of packets that were already taken.
func (s *StreamState) compact() {
	keep := len(s.body)
	if s.next < len(s.packets) {
		keep = s.packets[s.next].start
	}
	if s.partial >= 0 && s.partial < keep {
		keep = s.partial
	}

	n := copy(s.packets, s.packets[s.next:])
	s.packets = s.packets[:n]
	s.next = 0

	if keep == 0 {
		return
	}
	m := copy(s.body, s.body[keep:])
	s.body = s.body[:m]
	for i := range s.packets {
		s.packets[i].start -= keep
		s.packets[i].end -= keep
	}
	if s.partial >= 0 {
		s.partial -= keep
	}
}
