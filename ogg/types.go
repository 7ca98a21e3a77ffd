// Package ogg implements the Ogg container's framing layer: page capture and
// checksum verification from a raw byte stream, per-stream packet
// reassembly, and a page writer. It has no knowledge of the codecs carried
// inside the packets.
//
// The central types are [Reader], which yields pages and their file
// offsets from an [io.ReadSeeker], and [StreamState], which turns the pages
// of one logical stream back into packets.
package ogg

import (
	"encoding/binary"
	"errors"
)

// Page header flags.
const (
	FlagContinued = 0x01
	FlagBOS       = 0x02
	FlagEOS       = 0x04
)

const (
	headerSize    = 27
	maxSegments   = 255
	maxPageSize   = headerSize + maxSegments + maxSegments*255
	capturePrefix = "OggS"
)

// UnknownGranule marks a page or packet without a meaningful granule position.
const UnknownGranule int64 = -1

var (
	// ErrSerialMismatch is returned when a page is fed into the stream state
	// of a different logical stream.
	ErrSerialMismatch = errors.New("ogg: page serial does not match stream")
	// ErrBadPage is returned for pages with an unsupported version or an
	// inconsistent segment table.
	ErrBadPage = errors.New("ogg: malformed page")
)

// Page is one captured Ogg page. Header and Body are owned by the page.
type Page struct {
	// Offset is the byte offset of the page's capture pattern in the source.
	Offset int64

	Header []byte
	Body   []byte
}

// HeaderLen returns the length of the page header including the segment table.
func (p *Page) HeaderLen() int { return len(p.Header) }

// BodyLen returns the length of the page body.
func (p *Page) BodyLen() int { return len(p.Body) }

// Len returns the total on-disk length of the page.
func (p *Page) Len() int { return len(p.Header) + len(p.Body) }

// Version returns the stream structure version (always 0).
func (p *Page) Version() byte { return p.Header[4] }

// Flags returns the header type flags.
func (p *Page) Flags() byte { return p.Header[5] }

// Continued reports whether the page begins with the continuation of a
// packet started on a previous page.
func (p *Page) Continued() bool { return p.Header[5]&FlagContinued != 0 }

// BOS reports whether this is the first page of a logical stream.
func (p *Page) BOS() bool { return p.Header[5]&FlagBOS != 0 }

// EOS reports whether this is the last page of a logical stream.
func (p *Page) EOS() bool { return p.Header[5]&FlagEOS != 0 }

// Granule returns the page granule position, or UnknownGranule when no
// packet finishes on this page.
func (p *Page) Granule() int64 { return int64(binary.LittleEndian.Uint64(p.Header[6:14])) }

// Serial returns the logical stream serial number.
func (p *Page) Serial() uint32 { return binary.LittleEndian.Uint32(p.Header[14:18]) }

// Sequence returns the page sequence number within its logical stream.
func (p *Page) Sequence() uint32 { return binary.LittleEndian.Uint32(p.Header[18:22]) }

// Checksum returns the stored page checksum.
func (p *Page) Checksum() uint32 { return binary.LittleEndian.Uint32(p.Header[22:26]) }

// Segments returns the lacing values of the page.
func (p *Page) Segments() []byte { return p.Header[headerSize:] }

// Packets returns the number of packets that finish on this page.
func (p *Page) Packets() int {
	n := 0
	for _, l := range p.Segments() {
		if l < 255 {
			n++
		}
	}
	return n
}

// Packet is a reassembled logical packet.
type Packet struct {
	Data []byte
	// Granule is the page granule position when this is the last packet
	// finishing on its page, UnknownGranule otherwise.
	Granule  int64
	BOS      bool
	EOS      bool
	PacketNo int64
}

// Len returns the payload length in bytes.
func (p *Packet) Len() int { return len(p.Data) }

// Clone returns a copy of the packet that owns an independent payload.
func (p *Packet) Clone() *Packet {
	c := *p
	c.Data = append([]byte(nil), p.Data...)
	return &c
}
