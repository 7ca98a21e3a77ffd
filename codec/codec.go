// Package codec identifies the logical streams carried in an Ogg container
// and interprets their header packets and granule positions. It covers the
// container-facing half of Theora, Vorbis and Skeleton: identification and
// setup headers, comment headers, keyframe detection and granule-to-time
// conversion. Sample and pixel decoding are out of scope.
//
// A stream's codec is represented by [State], a closed set of variants:
// [*Theora], [*Vorbis], [*Skeleton] and [*Unknown]. Dispatch over the variant
// is done with type switches in [HeaderIn] and [GranuleTime].
package codec

import (
	"errors"
	"fmt"

	"github.com/zsiec/plogg/ogg"
)

// Kind tags the content type of a logical stream.
type Kind int

// Content types.
const (
	KindUnknown Kind = iota
	KindTheora
	KindVorbis
	KindSkeleton
)

func (k Kind) String() string {
	switch k {
	case KindTheora:
		return "theora"
	case KindVorbis:
		return "vorbis"
	case KindSkeleton:
		return "skeleton"
	default:
		return "unknown"
	}
}

// Sentinel errors for header handling.
var (
	// ErrNotFormat means a packet does not belong to the codec it was
	// offered to.
	ErrNotFormat = errors.New("codec: packet not in this format")
	// ErrHeaderOrder means header packets arrived out of sequence or data
	// arrived before the headers were complete.
	ErrHeaderOrder = errors.New("codec: header packets out of order")
)

// HeaderError indicates a header packet that could not be parsed. It
// records the codec and the field being parsed.
type HeaderError struct {
	Codec string
	Field string
	Err   error
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("codec: %s header %s: %v", e.Codec, e.Field, e.Err)
}

func (e *HeaderError) Unwrap() error {
	return e.Err
}

// State is the codec variant of a logical stream.
type State interface {
	Kind() Kind
	isState()
}

// Unknown is the variant of streams no identifier recognized, including
// streams that ended before being typed.
type Unknown struct{}

// Kind implements State.
func (*Unknown) Kind() Kind { return KindUnknown }
func (*Unknown) isState()   {}

// Identify offers a stream's first header packet to each identifier in
// priority order (Theora, Vorbis, Skeleton) and returns a fresh variant for
// the first that recognizes it, or nil.
func Identify(data []byte) State {
	switch {
	case IsTheoraHeader(data):
		return &Theora{}
	case IsVorbisHeader(data):
		return &Vorbis{}
	case IsSkeletonHeader(data):
		return &Skeleton{}
	}
	return nil
}

// HeaderIn feeds a packet to the stream's codec state. It returns true when
// the packet is the first data packet rather than a header.
func HeaderIn(s State, pkt *ogg.Packet) (bool, error) {
	switch st := s.(type) {
	case *Theora:
		return st.headerIn(pkt.Data)
	case *Vorbis:
		return st.headerIn(pkt.Data)
	case *Skeleton:
		return st.headerIn(pkt)
	case *Unknown:
		return false, ErrNotFormat
	default:
		panic(fmt.Sprintf("codec: unhandled state %T", s))
	}
}

// GranuleTime converts a granule position to seconds on the stream's time
// line. It returns -1 for unknown granules and for streams without a time
// base.
func GranuleTime(s State, granule int64) float64 {
	if granule < 0 {
		return -1
	}
	switch st := s.(type) {
	case *Theora:
		return st.GranuleTime(granule)
	case *Vorbis:
		return st.GranuleTime(granule)
	case *Skeleton, *Unknown:
		return -1
	default:
		panic(fmt.Sprintf("codec: unhandled state %T", s))
	}
}

// HeadersDone reports whether the stream's codec has seen all of its
// header packets.
func HeadersDone(s State) bool {
	switch st := s.(type) {
	case *Theora:
		return st.headers == 3
	case *Vorbis:
		return st.headers == 3
	case *Skeleton:
		return st.Head != nil
	case *Unknown:
		return false
	default:
		panic(fmt.Sprintf("codec: unhandled state %T", s))
	}
}
