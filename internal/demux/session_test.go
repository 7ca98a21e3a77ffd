package demux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/zsiec/plogg/codec"
	"github.com/zsiec/plogg/internal/seek"
	"github.com/zsiec/plogg/ogg"
	"github.com/zsiec/plogg/test/tools/oggutil"
)

func build(t *testing.T, p oggutil.FileParams) *oggutil.File {
	t.Helper()
	f, err := oggutil.Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return f
}

func avParams() oggutil.FileParams {
	return oggutil.FileParams{
		Video:          oggutil.DefaultVideo(7),
		Audio:          oggutil.DefaultAudio(3),
		Skeleton:       true,
		SkeletonSerial: 11,
		Duration:       10,
		PacketsPerPage: 1,
		PacketPadding:  300,
	}
}

func open(t *testing.T, data []byte, opts ...func(*Session)) *Session {
	t.Helper()
	s, err := Open(context.Background(), bytes.NewReader(data), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

// rawPage returns a single page of serial holding packets. Pages after the
// first are not beginning of stream pages.
func rawPage(t *testing.T, serial uint32, index int, packet []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := ogg.NewWriter(&buf)
	var start int64
	for i := 0; i <= index; i++ {
		start = w.Offset()
		if err := w.WritePacket(serial, packet, 0); err != nil {
			t.Fatal(err)
		}
		if err := w.Flush(serial); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()[start:]
}

func splice(data []byte, at int64, insert []byte) []byte {
	out := make([]byte, 0, len(data)+len(insert))
	out = append(out, data[:at]...)
	out = append(out, insert...)
	return append(out, data[at:]...)
}

func TestOpen_AudioVideo(t *testing.T) {
	t.Parallel()
	f := build(t, avParams())
	s := open(t, f.Data)

	streams := s.Streams()
	if len(streams) != 3 {
		t.Fatalf("streams = %d, want 3", len(streams))
	}
	for i, want := range []uint32{3, 7, 11} {
		if streams[i].Serial != want {
			t.Errorf("stream %d serial = %d, want %d", i, streams[i].Serial, want)
		}
	}
	if s.Audio() == nil || s.Audio().Serial != 3 {
		t.Errorf("audio = %v, want serial 3", s.Audio())
	}
	if !s.HasVideo() || s.Video().Serial != 7 {
		t.Errorf("video = %v, want serial 7", s.Video())
	}
	skel, ok := s.Stream(11)
	if !ok || skel.Kind() != codec.KindSkeleton || skel.Active {
		t.Errorf("skeleton stream = %+v", skel)
	}
	if s.DataOffset() != f.DataOffset {
		t.Errorf("DataOffset = %d, want %d", s.DataOffset(), f.DataOffset)
	}
	if s.Offset() != f.DataOffset {
		t.Errorf("Offset after Open = %d, want %d", s.Offset(), f.DataOffset)
	}
	if math.Abs(s.EndTime()-10) > 1e-9 {
		t.Errorf("EndTime = %v, want 10", s.EndTime())
	}
	if s.Length() != int64(len(f.Data)) {
		t.Errorf("Length = %d, want %d", s.Length(), len(f.Data))
	}

	th := s.Video().Theora()
	if th == nil || th.Info.PictureWidth != 64 || th.Comments == nil {
		t.Fatalf("theora state = %+v", th)
	}
	if title, _ := th.Comments.Get("TITLE"); title != "synthetic" {
		t.Errorf("TITLE = %q", title)
	}
	if v := s.Audio().Vorbis(); v == nil || v.Info.SampleRate != 8000 {
		t.Errorf("vorbis state = %+v", v)
	}
}

func TestOpen_FirstPacketsAreData(t *testing.T) {
	t.Parallel()
	f := build(t, avParams())
	s := open(t, f.Data)

	pkt, err := s.Video().NextPacket()
	if err != nil {
		t.Fatalf("video NextPacket: %v", err)
	}
	if n := oggutil.VideoPacketFrame(pkt.Data); n != 1 || pkt.Granule != f.VideoGranules[0] {
		t.Errorf("first video packet frame %d granule %d", n, pkt.Granule)
	}
	pkt, err = s.Audio().NextPacket()
	if err != nil {
		t.Fatalf("audio NextPacket: %v", err)
	}
	if n := oggutil.AudioPacketSamples(pkt.Data); n != 800 || pkt.Granule != 800 {
		t.Errorf("first audio packet %d samples granule %d", n, pkt.Granule)
	}
}

func TestOpen_AudioOnly(t *testing.T) {
	t.Parallel()
	f := build(t, oggutil.FileParams{Audio: oggutil.DefaultAudio(1), Duration: 3})
	s := open(t, f.Data)
	if s.HasVideo() || s.Video() != nil {
		t.Error("HasVideo = true for audio-only input")
	}
	if math.Abs(s.EndTime()-3) > 1e-9 {
		t.Errorf("EndTime = %v, want 3", s.EndTime())
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()
	audioOnly := build(t, oggutil.FileParams{Audio: oggutil.DefaultAudio(1), Duration: 2})
	vorbisBOS := rawPage(t, 1, 0, oggutil.VorbisHeaders(oggutil.DefaultAudio(1))[0])

	tests := []struct {
		name string
		data []byte
		want []error
	}{
		{
			name: "no audio",
			data: build(t, oggutil.FileParams{Video: oggutil.DefaultVideo(1), Duration: 2}).Data,
			want: []error{ErrNoAudio},
		},
		{
			name: "unknown stream",
			data: splice(audioOnly.Data, audioOnly.DataOffset, rawPage(t, 99, 1, []byte("stray"))),
			want: []error{ErrMalformed, ErrUnknownStream},
		},
		{
			name: "duplicate stream",
			data: splice(audioOnly.Data, audioOnly.DataOffset, vorbisBOS),
			want: []error{ErrMalformed, ErrDuplicateStream},
		},
		{
			name: "truncated headers",
			data: vorbisBOS,
			want: []error{ErrMalformed, ErrNoHeaders},
		},
		{
			name: "empty",
			want: []error{ErrMalformed, ErrNoHeaders},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Open(context.Background(), bytes.NewReader(tt.data))
			for _, want := range tt.want {
				if !errors.Is(err, want) {
					t.Errorf("err = %v, want %v", err, want)
				}
			}
		})
	}
}

func TestOpen_StreamErrorDetails(t *testing.T) {
	t.Parallel()
	f := build(t, oggutil.FileParams{Audio: oggutil.DefaultAudio(1), Duration: 2})
	data := splice(f.Data, f.DataOffset, rawPage(t, 99, 1, []byte("stray")))
	_, err := Open(context.Background(), bytes.NewReader(data))
	var se *StreamError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StreamError", err)
	}
	if se.Serial != 99 || se.Offset != f.DataOffset {
		t.Errorf("StreamError = serial %d offset %d, want 99 at %d", se.Serial, se.Offset, f.DataOffset)
	}
}

func TestOpen_UnrecognizedStreamIgnored(t *testing.T) {
	t.Parallel()
	f := build(t, oggutil.FileParams{Audio: oggutil.DefaultAudio(5), Duration: 2})
	data := splice(f.Data, 0, rawPage(t, 2, 0, []byte("not a codec")))
	s := open(t, data)

	st, ok := s.Stream(2)
	if !ok {
		t.Fatal("unrecognized stream not registered")
	}
	if st.Kind() != codec.KindUnknown || st.Active {
		t.Errorf("stream 2 kind %v active %v", st.Kind(), st.Active)
	}
	if s.Audio().Serial != 5 {
		t.Errorf("audio serial = %d, want 5", s.Audio().Serial)
	}
}

func TestOpen_PrimaryIsLowestSerial(t *testing.T) {
	t.Parallel()
	f := build(t, oggutil.FileParams{Audio: oggutil.DefaultAudio(9), Duration: 2})
	second := oggutil.VorbisHeaders(oggutil.DefaultAudio(4))
	var buf bytes.Buffer
	w := ogg.NewWriter(&buf)
	for _, h := range second {
		if err := w.WritePacket(4, h, 0); err != nil {
			t.Fatal(err)
		}
		if err := w.Flush(4); err != nil {
			t.Fatal(err)
		}
	}
	s := open(t, splice(f.Data, 0, buf.Bytes()))

	if s.Audio().Serial != 4 {
		t.Errorf("audio serial = %d, want 4", s.Audio().Serial)
	}
	other, _ := s.Stream(9)
	if other.Active {
		t.Error("secondary audio stream still active")
	}
}

func TestStream_ClassifiedOnce(t *testing.T) {
	t.Parallel()
	s := open(t, build(t, avParams()).Data)
	if err := s.Audio().setCodec(&codec.Vorbis{}); err == nil {
		t.Error("second classification succeeded")
	}
	if s.Audio().Kind() != codec.KindVorbis {
		t.Errorf("kind = %v after rejected reclassification", s.Audio().Kind())
	}
}

// pageOffsets returns the offset of every page in data.
func pageOffsets(t *testing.T, data []byte) []int64 {
	t.Helper()
	r, err := ogg.NewReader(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	var out []int64
	for {
		p, err := r.ReadPage()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, p.Offset)
	}
}

func TestReadPage_StreamAddedAfterHeaders(t *testing.T) {
	t.Parallel()
	f := build(t, oggutil.FileParams{Audio: oggutil.DefaultAudio(1), Duration: 2, PacketPadding: 100})
	var at int64
	for _, off := range pageOffsets(t, f.Data) {
		if off > f.DataOffset {
			at = off
			break
		}
	}
	s := open(t, splice(f.Data, at, rawPage(t, 50, 0, []byte("late"))))
	if _, ok := s.Stream(50); ok {
		t.Fatal("stream after the headers registered during Open")
	}

	var samples int
	for {
		pkt, err := s.Audio().NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("NextPacket: %v", err)
		}
		samples += oggutil.AudioPacketSamples(pkt.Data)
	}
	if int64(samples) != f.AudioSamples {
		t.Errorf("read %d samples, want %d", samples, f.AudioSamples)
	}
	late, ok := s.Stream(50)
	if !ok || late.Active {
		t.Errorf("late stream = %+v, want registered and inactive", late)
	}
}

type recorder struct {
	pages   int
	bytes   int
	resyncs []int64
}

func (r *recorder) RecordPage(n int) {
	r.pages++
	r.bytes += n
}

func (r *recorder) RecordResync(skipped int64) {
	r.resyncs = append(r.resyncs, skipped)
}

func TestProbe(t *testing.T) {
	t.Parallel()
	f := build(t, avParams())
	rec := &recorder{}
	s := open(t, f.Data, SessionOptStats(rec))

	sample, err := s.Probe(f.DataOffset)
	if err != nil {
		t.Fatalf("Probe(data offset): %v", err)
	}
	if sample.Offset != f.DataOffset || sample.TimeMS != 100 {
		t.Errorf("Probe(data offset) = %+v, want offset %d at 100 ms", sample, f.DataOffset)
	}

	mid := (f.DataOffset + int64(len(f.Data))) / 2
	sample, err = s.Probe(mid + 1)
	if err != nil {
		t.Fatalf("Probe(mid): %v", err)
	}
	if sample.Offset <= mid || sample.TimeMS < 4000 || sample.TimeMS > 6000 {
		t.Errorf("Probe(mid) = %+v", sample)
	}
	if skipped := sample.Offset - (mid + 1); skipped > 0 {
		if len(rec.resyncs) == 0 || rec.resyncs[len(rec.resyncs)-1] != skipped {
			t.Errorf("resyncs = %v, want last %d", rec.resyncs, skipped)
		}
	}

	if _, err := s.Probe(int64(len(f.Data)) - 1); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Probe(end) err = %v, want io.ErrUnexpectedEOF", err)
	}
	if rec.pages == 0 || rec.bytes == 0 {
		t.Errorf("recorder saw %d pages, %d bytes", rec.pages, rec.bytes)
	}
}

func TestSeek_LandsBeforeTarget(t *testing.T) {
	t.Parallel()
	p := avParams()
	p.Duration = 30
	f := build(t, p)
	s := open(t, f.Data)
	b := seek.NewBisector(s, nil)

	for _, target := range []float64{2.5, 15, 27.3} {
		res, err := b.Seek(context.Background(), target)
		if err != nil {
			t.Fatalf("Seek(%v): %v", target, err)
		}
		if res.Offset < f.DataOffset || res.Offset >= int64(len(f.Data)) {
			t.Fatalf("Seek(%v) offset %d outside data", target, res.Offset)
		}

		var end float64
		for end <= 0 {
			pkt, err := s.Audio().NextPacket()
			if err != nil {
				t.Fatalf("Seek(%v): NextPacket: %v", target, err)
			}
			end = s.Audio().GranuleTime(pkt.Granule)
		}
		if end <= target-1.5 || end > target+0.5 {
			t.Errorf("Seek(%v): first audio packet ends at %v", target, end)
		}
	}
}

func TestSeek_ZeroReturnsToDataOffset(t *testing.T) {
	t.Parallel()
	f := build(t, avParams())
	s := open(t, f.Data)
	if _, err := s.Audio().NextPacket(); err != nil {
		t.Fatal(err)
	}
	if _, err := seek.NewBisector(s, nil).Seek(context.Background(), 0); err != nil {
		t.Fatalf("Seek(0): %v", err)
	}
	pkt, err := s.Audio().NextPacket()
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Granule != 800 {
		t.Errorf("granule after Seek(0) = %d, want 800", pkt.Granule)
	}
}

func TestSetStartTime_FirstCallWins(t *testing.T) {
	t.Parallel()
	s := open(t, build(t, avParams()).Data)
	s.SetStartTime(1.5)
	s.SetStartTime(3)
	if s.StartTime() != 1.5 || s.Bounds().Start != 1.5 {
		t.Errorf("StartTime = %v, Bounds().Start = %v, want 1.5", s.StartTime(), s.Bounds().Start)
	}
}
