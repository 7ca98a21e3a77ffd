package player

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/plogg/internal/audio"
	"github.com/zsiec/plogg/internal/demux"
	"github.com/zsiec/plogg/media"
	"github.com/zsiec/plogg/ogg"
	"github.com/zsiec/plogg/test/tools/oggutil"
)

type fakeAudioDecoder struct{}

func (fakeAudioDecoder) Decode(pkt *ogg.Packet) ([]*media.AudioSample, error) {
	n := oggutil.AudioPacketSamples(pkt.Data)
	if n == 0 {
		return nil, nil
	}
	return []*media.AudioSample{{PCM: make([]int16, n), Samples: n, Channels: 1, Granule: -1}}, nil
}

func (fakeAudioDecoder) Reset() {}

// fakeSink plays instantly: its position is everything written since Open.
type fakeSink struct {
	open     bool
	opens    int
	closes   int
	drains   int
	channels int
	frames   int64
	total    int64
}

func (s *fakeSink) Open(rate, channels int) error {
	s.open = true
	s.opens++
	s.channels = channels
	s.frames = 0
	return nil
}

func (s *fakeSink) Write(pcm []int16) error {
	if !s.open {
		return errors.New("sink not open")
	}
	n := int64(len(pcm) / s.channels)
	s.frames += n
	s.total += n
	return nil
}

func (s *fakeSink) Position() (int64, error) {
	return s.frames, nil
}

func (s *fakeSink) Drain() error {
	if !s.open {
		return errors.New("sink not open")
	}
	s.drains++
	return nil
}

func (s *fakeSink) Close() error {
	s.open = false
	s.closes++
	return nil
}

// fakeVideo decodes oggutil video packets into frames carrying the packet
// payload and records what was decoded and presented.
type fakeVideo struct {
	decoded     []int
	decodedKeys []bool
	presented   []int
	frames      []*media.VideoFrame
	toggles     int
}

func (v *fakeVideo) Decode(pkt *ogg.Packet) (*media.VideoFrame, error) {
	n := oggutil.VideoPacketFrame(pkt.Data)
	if n < 0 {
		return nil, nil
	}
	v.decoded = append(v.decoded, n)
	v.decodedKeys = append(v.decodedKeys, pkt.Data[0]&0x40 == 0)
	return &media.VideoFrame{Planes: [3]media.Plane{{Data: append([]byte(nil), pkt.Data...)}}}, nil
}

func (v *fakeVideo) Present(f *media.VideoFrame) error {
	v.presented = append(v.presented, oggutil.VideoPacketFrame(f.Planes[0].Data))
	v.frames = append(v.frames, f)
	return nil
}

func (v *fakeVideo) ToggleFullscreen() error {
	v.toggles++
	return nil
}

type seekRecord struct {
	target float64
	err    error
}

type fakeStats struct {
	nopStats
	seeks     []seekRecord
	presented int
}

func (s *fakeStats) RecordSeek(target float64, hops int, err error) {
	s.seeks = append(s.seeks, seekRecord{target: target, err: err})
}

func (s *fakeStats) RecordVideoFrame(bool) { s.presented++ }

func buildFile(t *testing.T, video bool, perPage int) *oggutil.File {
	t.Helper()
	p := oggutil.FileParams{
		Audio:          oggutil.DefaultAudio(3),
		Duration:       10,
		PacketsPerPage: perPage,
		PacketPadding:  300,
	}
	if video {
		p.Video = oggutil.DefaultVideo(7)
	}
	f, err := oggutil.Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return f
}

func openSession(t *testing.T, f *oggutil.File) *demux.Session {
	t.Helper()
	s, err := demux.Open(context.Background(), bytes.NewReader(f.Data))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

type harness struct {
	p      *Player
	sink   *fakeSink
	video  *fakeVideo
	stats  *fakeStats
	events chan Event
}

func newHarness(t *testing.T, f *oggutil.File) *harness {
	t.Helper()
	h := &harness{
		sink:   &fakeSink{},
		video:  &fakeVideo{},
		stats:  &fakeStats{},
		events: make(chan Event, 8),
	}
	sess := openSession(t, f)
	p, err := New(sess, fakeAudioDecoder{}, h.sink,
		PlayerOptVideo(h.video, h.video),
		PlayerOptEvents(h.events),
		PlayerOptStats(h.stats),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.p = p
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	if err := h.p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_PlaysEverything(t *testing.T) {
	t.Parallel()
	f := buildFile(t, true, 3)
	h := newHarness(t, f)
	h.run(t)

	if h.sink.total != f.AudioSamples {
		t.Errorf("samples played = %d, want %d", h.sink.total, f.AudioSamples)
	}
	if len(h.video.presented) != f.VideoFrames {
		t.Fatalf("presented %d frames, want %d", len(h.video.presented), f.VideoFrames)
	}
	for i, n := range h.video.presented {
		if n != i+1 {
			t.Fatalf("presented[%d] = frame %d, want %d", i, n, i+1)
		}
	}
	last := h.video.frames[len(h.video.frames)-1]
	if last.Granule != f.VideoGranules[len(f.VideoGranules)-1] || math.Abs(last.Time-10) > 1e-9 {
		t.Errorf("last frame granule %d time %v", last.Granule, last.Time)
	}
	if !h.video.frames[0].IsKeyframe || h.video.frames[1].IsKeyframe {
		t.Error("keyframe flags not set from the packets")
	}
	if h.stats.presented != f.VideoFrames {
		t.Errorf("stats presented = %d", h.stats.presented)
	}
	if h.sink.opens != 1 || h.sink.closes != 1 || h.sink.open {
		t.Errorf("sink opens %d closes %d open %v", h.sink.opens, h.sink.closes, h.sink.open)
	}
	if h.sink.drains != 1 {
		t.Errorf("sink drains = %d, want 1 before close", h.sink.drains)
	}

	pr := h.p.Progress()
	if pr.Start != 0 || math.Abs(pr.Current-10) > 1e-9 || pr.End != 10 {
		t.Errorf("Progress = %+v", pr)
	}
}

func TestRun_AudioOnly(t *testing.T) {
	t.Parallel()
	f := buildFile(t, false, 3)
	sink := &fakeSink{}
	p, err := New(openSession(t, f), fakeAudioDecoder{}, sink)
	if err != nil {
		t.Fatal(err)
	}
	p.Seek(4.05)
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Blocks ending at or before 4.05s are skipped.
	if want := f.AudioSamples - 40*800; sink.total != want {
		t.Errorf("samples played = %d, want %d", sink.total, want)
	}
	if got := p.Progress().Start; math.Abs(got-4.0) > 1e-9 {
		t.Errorf("start = %v, want 4.0", got)
	}
}

func TestRun_SeekRestartsAtKeyframe(t *testing.T) {
	t.Parallel()
	f := buildFile(t, true, 3)

	// Keyframes fall on frames 1, 11, 21, ... with a granule shift of 6.
	tests := []struct {
		name   string
		target float64
		// keyframe whose time minus one frame is the corrective target
		keyframe       int64
		firstDecoded   int
		firstPresented int
		start          float64
	}{
		{
			// The landing packets are timed through a later packet of the
			// same group, so their keyframe is read from the container.
			name:           "keyframe known from the container",
			target:         7.9,
			keyframe:       71,
			firstDecoded:   71,
			firstPresented: 80,
			start:          7.9,
		},
		{
			// The landing packets precede the keyframe 51 anchor, so their
			// keyframe is only bounded to at most 63 frames back, which
			// floors at the first frame.
			name:           "keyframe bounded by the granule shift",
			target:         5.55,
			keyframe:       0,
			firstDecoded:   1,
			firstPresented: 56,
			start:          5.5,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, f)
			h.p.Seek(tt.target)
			h.run(t)

			th := h.p.theora
			correction := max(th.GranuleTime(tt.keyframe<<th.Shift())-th.FrameDuration(), 0)
			if len(h.stats.seeks) != 2 {
				t.Fatalf("seeks = %+v, want the requested seek and one correction", h.stats.seeks)
			}
			if got := h.stats.seeks[0].target; got != tt.target {
				t.Errorf("first seek target = %v, want %v", got, tt.target)
			}
			if got := h.stats.seeks[1].target; got != correction {
				t.Errorf("corrective seek target = %v, want %v", got, correction)
			}
			for _, s := range h.stats.seeks {
				if s.err != nil {
					t.Errorf("seek to %v failed: %v", s.target, s.err)
				}
			}

			if len(h.video.decoded) == 0 || h.video.decoded[0] != tt.firstDecoded || !h.video.decodedKeys[0] {
				t.Fatalf("decoded %v, want keyframe %d first", h.video.decoded, tt.firstDecoded)
			}
			if len(h.video.presented) == 0 || h.video.presented[0] != tt.firstPresented {
				t.Fatalf("first presented frame = %v, want %d", h.video.presented, tt.firstPresented)
			}
			if got, want := len(h.video.presented), f.VideoFrames-tt.firstPresented+1; got != want {
				t.Errorf("presented %d frames, want %d", got, want)
			}
			if want := f.AudioSamples - int64(tt.firstPresented-1)*800; h.sink.total != want {
				t.Errorf("samples played = %d, want %d", h.sink.total, want)
			}
			if got := h.p.Progress().Start; math.Abs(got-tt.start) > 1e-9 {
				t.Errorf("start = %v, want %v", got, tt.start)
			}
		})
	}
}

func TestRun_Events(t *testing.T) {
	t.Parallel()
	f := buildFile(t, true, 1)

	t.Run("quit", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, f)
		h.events <- EventToggleFullscreen{}
		h.events <- EventQuit{}
		h.run(t)
		if h.sink.total != 800 {
			t.Errorf("samples played = %d, want one block", h.sink.total)
		}
		if h.video.toggles != 1 {
			t.Errorf("toggles = %d, want 1", h.video.toggles)
		}
		if h.sink.drains != 0 {
			t.Errorf("sink drained %d times on quit, want 0", h.sink.drains)
		}
	})

	t.Run("home", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, f)
		h.events <- EventHome{}
		h.run(t)
		if want := f.AudioSamples + 800; h.sink.total != want {
			t.Errorf("samples played = %d, want %d", h.sink.total, want)
		}
		if h.sink.opens != 2 {
			t.Errorf("sink opens = %d, want 2", h.sink.opens)
		}
	})

	t.Run("seek event is clamped", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, f)
		h.events <- EventSeek{Time: -3}
		h.run(t)
		if len(h.stats.seeks) != 1 || h.stats.seeks[0].target != 0 {
			t.Errorf("seeks = %+v, want one seek to 0", h.stats.seeks)
		}
	})
}

// slowDevice takes a while per write so that writes back up in the audio
// worker's queue. It plays instantly once written.
type slowDevice struct {
	mu      sync.Mutex
	frames  int64
	played  int64
	drained bool
}

func (d *slowDevice) Open(rate, channels int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = 0
	return nil
}

func (d *slowDevice) Write(pcm []int16) error {
	time.Sleep(200 * time.Microsecond)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames += int64(len(pcm))
	d.played += int64(len(pcm))
	return nil
}

func (d *slowDevice) Position() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames, nil
}

func (d *slowDevice) Drain() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drained = true
	return nil
}

func (d *slowDevice) Close() error { return nil }

func TestRun_DrainsWorkerAtEnd(t *testing.T) {
	t.Parallel()
	f := buildFile(t, false, 3)
	dev := &slowDevice{}
	w := audio.NewWorker(dev, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	p, err := New(openSession(t, f), fakeAudioDecoder{}, w)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker Run: %v", err)
	}

	dev.mu.Lock()
	played, drained := dev.played, dev.drained
	dev.mu.Unlock()
	if played != f.AudioSamples {
		t.Errorf("device played %d of %d frames", played, f.AudioSamples)
	}
	if !drained {
		t.Error("device was not drained")
	}
	if got := p.Progress().Current; math.Abs(got-10) > 1e-9 {
		t.Errorf("position at end = %v, want 10", got)
	}
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, buildFile(t, true, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.p.Run(ctx); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if h.sink.total != 0 || h.sink.open || h.sink.drains != 0 {
		t.Errorf("sink total %d open %v drains %d", h.sink.total, h.sink.open, h.sink.drains)
	}
}

func TestNew_VideoNeedsOutput(t *testing.T) {
	t.Parallel()
	sess := openSession(t, buildFile(t, true, 1))
	if _, err := New(sess, fakeAudioDecoder{}, &fakeSink{}); !errors.Is(err, ErrNoVideoOutput) {
		t.Errorf("New err = %v, want ErrNoVideoOutput", err)
	}
}
