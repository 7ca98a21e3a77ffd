package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/plogg/codec"
	"github.com/zsiec/plogg/internal/seek"
	"github.com/zsiec/plogg/ogg"
)

const defaultEndScanStep = 5000

// StatsRecorder is the interface accepted by Session for recording
// container telemetry. The stats package's Playback implements it.
type StatsRecorder interface {
	RecordPage(bytes int)
	RecordResync(skipped int64)
}

// Session is the aggregate root of one opened container: the stream table,
// the page reader cursor, the data offset and the primary stream pair.
type Session struct {
	log         *slog.Logger
	reader      *ogg.Reader
	streams     streamTable
	stats       StatsRecorder
	chunkSize   int
	endScanStep int64

	dataOffset int64
	startTime  float64
	startSet   bool
	endTime    float64
	nextOffset int64

	audio *Stream
	video *Stream
}

// SessionOptLogger sets the logger. If nil, slog.Default() is used.
func SessionOptLogger(log *slog.Logger) func(*Session) {
	return func(s *Session) {
		s.log = log
	}
}

// SessionOptChunkSize sets the page reader's read size.
func SessionOptChunkSize(n int) func(*Session) {
	return func(s *Session) {
		s.chunkSize = n
	}
}

// SessionOptEndScanStep sets the initial window of the backward scan for
// the last page (default 5000 bytes).
func SessionOptEndScanStep(n int64) func(*Session) {
	return func(s *Session) {
		if n > 0 {
			s.endScanStep = n
		}
	}
}

// SessionOptStats sets a recorder for page telemetry.
func SessionOptStats(r StatsRecorder) func(*Session) {
	return func(s *Session) {
		s.stats = r
	}
}

// Open reads the headers of every stream in src, records the data offset,
// selects the primary streams, determines the end time and leaves the
// session positioned at the data offset.
func Open(ctx context.Context, src io.ReadSeeker, opts ...func(*Session)) (*Session, error) {
	s := &Session{
		streams:     newStreamTable(),
		endScanStep: defaultEndScanStep,
		dataOffset:  -1,
		nextOffset:  -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "demux")

	var ropts []func(*ogg.Reader)
	if s.chunkSize > 0 {
		ropts = append(ropts, ogg.ReaderOptChunkSize(s.chunkSize))
	}
	r, err := ogg.NewReader(ctx, src, ropts...)
	if err != nil {
		return nil, err
	}
	s.reader = r
	s.nextOffset = r.Offset()

	if err := s.readHeaders(); err != nil {
		return nil, err
	}
	if err := s.selectPrimary(); err != nil {
		return nil, err
	}
	if err := s.findEndTime(); err != nil {
		return nil, err
	}

	s.ResetDecode()
	if err := s.Reposition(s.dataOffset); err != nil {
		return nil, err
	}
	return s, nil
}

// readHeaders feeds pages to their streams and offers each header packet to
// the stream's codec until the first data packet of any stream is found.
func (s *Session) readHeaders() error {
	for s.dataOffset < 0 {
		p, err := s.reader.ReadPage()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w: input ended before the first data packet", ErrMalformed, ErrNoHeaders)
		}
		if err != nil {
			return err
		}
		s.record(p)

		serial := p.Serial()
		if p.BOS() {
			if _, ok := s.streams.create(s, serial); !ok {
				return &StreamError{Serial: serial, Offset: p.Offset, Err: ErrDuplicateStream}
			}
			s.log.Debug("stream discovered", "serial", serial, "offset", p.Offset)
		}
		st, ok := s.streams.get(serial)
		if !ok {
			return &StreamError{Serial: serial, Offset: p.Offset, Err: ErrUnknownStream}
		}
		if err := st.state.PageIn(p); err != nil {
			return &StreamError{Serial: serial, Offset: p.Offset, Err: err}
		}

		for {
			pkt, ok := st.state.PacketPeek()
			if !ok {
				break
			}
			data, err := s.classify(st, pkt)
			if err != nil {
				return &StreamError{Serial: serial, Offset: p.Offset, Err: err}
			}
			if data {
				s.dataOffset = p.Offset
				s.log.Info("headers complete", "data_offset", p.Offset, "streams", s.streams.len())
				break
			}
			st.state.PacketOut()
		}
	}
	return nil
}

// classify offers a packet to the stream's codec, identifying the codec from
// the first packet. Streams no identifier recognizes are metadata and their
// packets are consumed without interpretation. It reports whether the
// packet is the first data packet.
func (s *Session) classify(st *Stream, pkt *ogg.Packet) (bool, error) {
	if st.codec == nil {
		c := codec.Identify(pkt.Data)
		if c == nil {
			c = &codec.Unknown{}
			if pkt.EOS {
				s.log.Debug("stream ended before classification", "serial", st.Serial)
			} else {
				s.log.Debug("unrecognized stream ignored", "serial", st.Serial)
			}
		}
		if err := st.setCodec(c); err != nil {
			return false, err
		}
		s.log.Debug("stream classified", "serial", st.Serial, "kind", c.Kind())
	}
	if _, ok := st.codec.(*codec.Unknown); ok {
		return false, nil
	}
	return codec.HeaderIn(st.codec, pkt)
}

// selectPrimary makes the first Theora stream the video stream and the
// first Vorbis stream the audio stream. Every other stream is deactivated.
func (s *Session) selectPrimary() error {
	for _, st := range s.streams.sorted() {
		switch c := st.codec.(type) {
		case *codec.Theora:
			if s.video == nil {
				if !codec.HeadersDone(c) {
					return &StreamError{Serial: st.Serial, Offset: s.dataOffset, Err: ErrNoHeaders}
				}
				s.video = st
				s.log.Info("video stream selected", "serial", st.Serial,
					"width", c.Info.PictureWidth, "height", c.Info.PictureHeight,
					"fps", fmt.Sprintf("%d/%d", c.Info.FPSNumerator, c.Info.FPSDenominator),
					"granule_shift", c.Info.KeyframeGranuleShift)
				s.logComments(st, c.Comments)
				continue
			}
		case *codec.Vorbis:
			if s.audio == nil {
				if !codec.HeadersDone(c) {
					return &StreamError{Serial: st.Serial, Offset: s.dataOffset, Err: ErrNoHeaders}
				}
				s.audio = st
				s.log.Info("audio stream selected", "serial", st.Serial,
					"channels", c.Info.Channels, "rate", c.Info.SampleRate)
				s.logComments(st, c.Comments)
				continue
			}
		case *codec.Skeleton:
			s.log.Debug("skeleton stream", "serial", st.Serial, "bones", len(c.Bones))
		case *codec.Unknown, nil:
		default:
			panic(fmt.Sprintf("demux: unhandled codec state %T", c))
		}
		st.Active = false
		st.drop()
	}

	if s.audio == nil {
		return ErrNoAudio
	}
	if s.video == nil {
		s.log.Info("no video stream, audio only")
	}
	return nil
}

func (s *Session) logComments(st *Stream, c *codec.Comments) {
	if c == nil {
		return
	}
	s.log.Debug("stream comments", "serial", st.Serial, "vendor", c.Vendor, "tags", c.Tags)
}

// findEndTime scans backward for the last page of a primary stream that
// carries a granule position.
func (s *Session) findEndTime() error {
	p, err := s.reader.LastPage(s.endScanStep, func(p *ogg.Page) bool {
		if p.Granule() < 0 {
			return false
		}
		st, ok := s.streams.get(p.Serial())
		return ok && (st == s.audio || st == s.video)
	})
	if errors.Is(err, io.EOF) {
		s.log.Warn("no timed page found, end time unknown")
		return nil
	}
	if err != nil {
		return err
	}
	st, _ := s.streams.get(p.Serial())
	s.endTime = st.GranuleTime(p.Granule())
	s.log.Info("end time determined", "end", s.endTime, "length", s.reader.Length())
	return nil
}

// readPage reads the next page and routes it to its stream. Pages of
// inactive streams are accepted and their packets dropped. A beginning of
// stream page for a new serial after the headers adds an inactive stream.
func (s *Session) readPage() (*ogg.Page, error) {
	p, err := s.reader.ReadPage()
	if err != nil {
		return nil, err
	}
	s.record(p)

	serial := p.Serial()
	st, ok := s.streams.get(serial)
	if !ok {
		if !p.BOS() {
			return nil, &StreamError{Serial: serial, Offset: p.Offset, Err: ErrUnknownStream}
		}
		st, _ = s.streams.create(s, serial)
		st.Active = false
		s.log.Debug("stream added after headers, ignored", "serial", serial, "offset", p.Offset)
	}
	if err := st.state.PageIn(p); err != nil {
		return nil, &StreamError{Serial: serial, Offset: p.Offset, Err: err}
	}
	if !st.Active {
		st.drop()
	}
	return p, nil
}

func (s *Session) record(p *ogg.Page) {
	if s.nextOffset >= 0 && p.Offset > s.nextOffset {
		s.log.Debug("resynchronized", "skipped", p.Offset-s.nextOffset, "offset", p.Offset)
		if s.stats != nil {
			s.stats.RecordResync(p.Offset - s.nextOffset)
		}
	}
	s.nextOffset = p.Offset + int64(p.Len())
	if s.stats != nil {
		s.stats.RecordPage(p.Len())
	}
}

// Stream returns the stream with the given serial.
func (s *Session) Stream(serial uint32) (*Stream, bool) {
	return s.streams.get(serial)
}

// Streams returns every stream in ascending serial order.
func (s *Session) Streams() []*Stream {
	return s.streams.sorted()
}

// Audio returns the primary audio stream.
func (s *Session) Audio() *Stream {
	return s.audio
}

// Video returns the primary video stream, or nil for audio-only input.
func (s *Session) Video() *Stream {
	return s.video
}

// HasVideo reports whether a primary video stream was found.
func (s *Session) HasVideo() bool {
	return s.video != nil
}

// DataOffset returns the offset of the first data page, time zero.
func (s *Session) DataOffset() int64 {
	return s.dataOffset
}

// Length returns the byte length of the source.
func (s *Session) Length() int64 {
	return s.reader.Length()
}

// Offset returns the current read cursor.
func (s *Session) Offset() int64 {
	return s.reader.Offset()
}

// StartTime returns the presentation time of the first audio sample, or 0
// until it has been set.
func (s *Session) StartTime() float64 {
	return s.startTime
}

// SetStartTime records the start time. Only the first call has an effect.
func (s *Session) SetStartTime(t float64) {
	if s.startSet {
		return
	}
	s.startTime = t
	s.startSet = true
	s.log.Info("playback range", "start", s.startTime, "end", s.endTime)
}

// EndTime returns the time of the last timed page, in seconds.
func (s *Session) EndTime() float64 {
	return s.endTime
}

// Bounds implements seek.Prober.
func (s *Session) Bounds() seek.Bounds {
	return seek.Bounds{
		DataOffset: s.dataOffset,
		Length:     s.reader.Length(),
		Start:      s.startTime,
		End:        s.endTime,
	}
}
