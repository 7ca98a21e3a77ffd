package ogg

import (
	"bytes"
	"encoding/binary"
)

// syncer accumulates raw bytes and captures pages from them. It tolerates
// garbage between pages and resynchronizes on the next capture pattern.
type syncer struct {
	data  []byte
	start int
}

func (s *syncer) write(b []byte) {
	if s.start > 0 && s.start >= len(s.data)/2 {
		n := copy(s.data, s.data[s.start:])
		s.data = s.data[:n]
		s.start = 0
	}
	s.data = append(s.data, b...)
}

func (s *syncer) buffered() int {
	return len(s.data) - s.start
}

func (s *syncer) reset() {
	s.data = s.data[:0]
	s.start = 0
}

func (s *syncer) consume(n int) {
	s.start += n
	if s.start >= len(s.data) {
		s.reset()
	}
}

// pageSeek tries to capture one page from the front of the buffer.
// It returns the page and its length when one is available, 0 when more
// data is needed, and -n after discarding n bytes that cannot start a
// valid page.
func (s *syncer) pageSeek() (*Page, int) {
	b := s.data[s.start:]

	n := len(b)
	if n > len(capturePrefix) {
		n = len(capturePrefix)
	}
	if !bytes.Equal(b[:n], []byte(capturePrefix[:n])) {
		return nil, -s.skip(b)
	}
	if len(b) < headerSize {
		return nil, 0
	}
	if b[4] != 0 {
		return nil, -s.skip(b)
	}

	hlen := headerSize + int(b[26])
	if len(b) < hlen {
		return nil, 0
	}
	blen := 0
	for _, l := range b[headerSize:hlen] {
		blen += int(l)
	}
	if len(b) < hlen+blen {
		return nil, 0
	}

	header := b[:hlen]
	body := b[hlen : hlen+blen]
	if binary.LittleEndian.Uint32(header[22:26]) != pageChecksum(header, body) {
		return nil, -s.skip(b)
	}

	p := &Page{
		Header: append([]byte(nil), header...),
		Body:   append([]byte(nil), body...),
	}
	s.consume(hlen + blen)
	return p, hlen + blen
}

// skip discards bytes up to the next possible capture pattern and returns
// the number of bytes discarded.
func (s *syncer) skip(b []byte) int {
	n := bytes.IndexByte(b[1:], capturePrefix[0])
	if n < 0 {
		n = len(b)
	} else {
		n++
	}
	s.consume(n)
	return n
}
