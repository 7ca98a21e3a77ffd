package demux

import (
	"fmt"
	"sort"

	"github.com/zsiec/plogg/codec"
	"github.com/zsiec/plogg/ogg"
)

// Stream is one logical stream of the container.
type Stream struct {
	Serial uint32
	// Active is false for streams not selected for playback. Their pages
	// are still routed but their packets are dropped.
	Active bool
	// Context is an opaque decode context owned by the codec collaborator.
	Context any

	codec codec.State
	state *ogg.StreamState
	sess  *Session
}

// Codec returns the stream's codec variant, or nil while unclassified.
func (st *Stream) Codec() codec.State {
	return st.codec
}

// Kind returns the stream's content type.
func (st *Stream) Kind() codec.Kind {
	if st.codec == nil {
		return codec.KindUnknown
	}
	return st.codec.Kind()
}

// Theora returns the stream's Theora state, or nil for other content.
func (st *Stream) Theora() *codec.Theora {
	t, _ := st.codec.(*codec.Theora)
	return t
}

// Vorbis returns the stream's Vorbis state, or nil for other content.
func (st *Stream) Vorbis() *codec.Vorbis {
	v, _ := st.codec.(*codec.Vorbis)
	return v
}

// GranuleTime converts a granule position of this stream to seconds, or
// returns -1 when it has no time base.
func (st *Stream) GranuleTime(granule int64) float64 {
	if st.codec == nil {
		return -1
	}
	return codec.GranuleTime(st.codec, granule)
}

// NextPacket returns the stream's next packet, reading pages from the
// session as needed. Pages of other streams read along the way are routed
// to them. The packet aliases the stream's working buffer and is valid until
// the next read on the session. Returns io.EOF at end of input.
func (st *Stream) NextPacket() (*ogg.Packet, error) {
	for {
		if pkt, ok := st.state.PacketOut(); ok {
			return pkt, nil
		}
		if _, err := st.sess.readPage(); err != nil {
			return nil, err
		}
	}
}

// BufferedPacket returns the next packet only if it is already reassembled,
// without reading from the source.
func (st *Stream) BufferedPacket() (*ogg.Packet, bool) {
	return st.state.PacketOut()
}

// Reset discards the stream's buffered data.
func (st *Stream) Reset() {
	st.state.Reset()
}

// setCodec assigns the content type. It is assigned at most once.
func (st *Stream) setCodec(c codec.State) error {
	if st.codec != nil {
		return fmt.Errorf("demux: stream %d already classified as %v", st.Serial, st.codec.Kind())
	}
	st.codec = c
	return nil
}

func (st *Stream) drop() {
	for {
		if _, ok := st.state.PacketOut(); !ok {
			return
		}
	}
}

// streamTable is the session's mapping from serial number to stream.
type streamTable struct {
	streams map[uint32]*Stream
}

func newStreamTable() streamTable {
	return streamTable{streams: make(map[uint32]*Stream)}
}

// create registers a new stream. It returns nil and false if a stream with
// this serial already exists.
func (t *streamTable) create(s *Session, serial uint32) (*Stream, bool) {
	if _, ok := t.streams[serial]; ok {
		return nil, false
	}
	st := &Stream{
		Serial: serial,
		Active: true,
		state:  ogg.NewStreamState(serial),
		sess:   s,
	}
	t.streams[serial] = st
	return st, true
}

func (t *streamTable) get(serial uint32) (*Stream, bool) {
	st, ok := t.streams[serial]
	return st, ok
}

// sorted returns the streams in ascending serial order.
func (t *streamTable) sorted() []*Stream {
	out := make([]*Stream, 0, len(t.streams))
	for _, st := range t.streams {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

func (t *streamTable) len() int {
	return len(t.streams)
}
