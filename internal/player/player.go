// Package player runs playback of an opened session: audio is decoded and
// written to the sink as fast as the sink accepts it, the sink's position is
// the clock, and video frames are presented when the clock passes their
// display time. Seeks are bisection seeks refined so that video decoding
// restarts at a keyframe, followed by a skip forward to the exact target.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/plogg/codec"
	"github.com/zsiec/plogg/internal/demux"
	"github.com/zsiec/plogg/internal/granule"
	"github.com/zsiec/plogg/internal/seek"
	"github.com/zsiec/plogg/media"
	"github.com/zsiec/plogg/ogg"
)

// ErrNoVideoOutput means the session has video but no decoder or renderer
// was supplied.
var ErrNoVideoOutput = errors.New("player: video stream without decoder or renderer")

// VideoDecoder turns compressed video packets into pictures. A nil frame
// means the packet repeats the previous picture.
type VideoDecoder interface {
	Decode(pkt *ogg.Packet) (*media.VideoFrame, error)
}

// AudioSink plays interleaved 16-bit PCM. Position is the number of frames
// played since Open. Drain waits for everything written to be played;
// Close discards whatever is still queued.
type AudioSink interface {
	Open(rate, channels int) error
	Write(pcm []int16) error
	Position() (int64, error)
	Drain() error
	Close() error
}

// Renderer presents decoded pictures.
type Renderer interface {
	Present(frame *media.VideoFrame) error
}

// Fullscreener is implemented by renderers that can toggle fullscreen.
type Fullscreener interface {
	ToggleFullscreen() error
}

// StatsRecorder is the interface accepted by Player for recording
// playback telemetry. The stats package's Playback implements it.
type StatsRecorder interface {
	RecordSeek(target float64, hops int, err error)
	RecordVideoFrame(keyframe bool)
	RecordDuplicateFrame()
	RecordVideoSkipped()
	RecordAudioBlock(samples int)
	RecordAudioSkipped(samples int)
}

// Progress is the playback position within the presentation, in seconds.
type Progress struct {
	Start   float64
	Current float64
	End     float64
}

// Player drives playback of one session. Run must be called from a single
// goroutine; Seek and Progress may be called from any goroutine.
type Player struct {
	log      *slog.Logger
	sess     *demux.Session
	adec     granule.AudioDecoder
	sink     AudioSink
	vdec     VideoDecoder
	render   Renderer
	events   <-chan Event
	stats    StatsRecorder
	bisector *seek.Bisector

	seekStep      int64
	maxHops       int
	statsInterval time.Duration

	vorbis *codec.Vorbis
	theora *codec.Theora
	audio  *granule.AudioTimeline
	video  *granule.VideoTimeline

	audioOpen     bool
	videoDone     bool
	playbackStart float64
	startKnown    bool

	mu         sync.Mutex
	pending    float64
	hasPending bool

	start   atomic.Uint64
	current atomic.Uint64
}

// PlayerOptLogger sets the logger. If nil, slog.Default() is used.
func PlayerOptLogger(log *slog.Logger) func(*Player) {
	return func(p *Player) {
		p.log = log
	}
}

// PlayerOptVideo sets the video decoder and renderer. Both are required
// when the session has a video stream.
func PlayerOptVideo(dec VideoDecoder, r Renderer) func(*Player) {
	return func(p *Player) {
		p.vdec = dec
		p.render = r
	}
}

// PlayerOptEvents sets the channel user events are read from.
func PlayerOptEvents(ch <-chan Event) func(*Player) {
	return func(p *Player) {
		p.events = ch
	}
}

// PlayerOptStats sets a recorder for playback telemetry.
func PlayerOptStats(r StatsRecorder) func(*Player) {
	return func(p *Player) {
		p.stats = r
	}
}

// PlayerOptSeekStep sets the bisection stop threshold in bytes.
func PlayerOptSeekStep(n int64) func(*Player) {
	return func(p *Player) {
		p.seekStep = n
	}
}

// PlayerOptMaxHops bounds the probes of one bisection; zero is unbounded.
func PlayerOptMaxHops(n int) func(*Player) {
	return func(p *Player) {
		p.maxHops = n
	}
}

// PlayerOptStatsInterval sets how often progress is logged; zero disables
// it.
func PlayerOptStatsInterval(d time.Duration) func(*Player) {
	return func(p *Player) {
		p.statsInterval = d
	}
}

// New creates a Player for sess. adec decodes the primary audio stream and
// sink plays it.
func New(sess *demux.Session, adec granule.AudioDecoder, sink AudioSink, opts ...func(*Player)) (*Player, error) {
	p := &Player{
		sess:     sess,
		adec:     adec,
		sink:     sink,
		seekStep: seek.DefaultStep,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("component", "player")

	p.vorbis = sess.Audio().Vorbis()
	p.audio = granule.NewAudioTimeline(sess.Audio(), adec, p.log)
	if sess.HasVideo() {
		if p.vdec == nil || p.render == nil {
			return nil, ErrNoVideoOutput
		}
		p.theora = sess.Video().Theora()
		p.video = granule.NewVideoTimeline(sess.Video(), p.theora, p.log)
	}
	if p.stats == nil {
		p.stats = nopStats{}
	}

	bopts := []func(*seek.Bisector){seek.BisectorOptStep(p.seekStep)}
	if p.maxHops > 0 {
		bopts = append(bopts, seek.BisectorOptMaxHops(p.maxHops))
	}
	p.bisector = seek.NewBisector(prober{Session: sess, p: p}, p.log, bopts...)
	return p, nil
}

// prober extends the session's seek primitives so that discarding stream
// data also discards the timelines' queues and the audio decoder state.
type prober struct {
	*demux.Session
	p *Player
}

func (pr prober) ResetDecode() {
	pr.Session.ResetDecode()
	pr.p.resetTimelines()
}

func (p *Player) resetTimelines() {
	p.audio.Reset()
	if p.video != nil {
		p.video.Reset()
	}
}

// Seek requests a seek to t seconds. It takes effect at the next iteration
// of the loop; a later request replaces an earlier pending one. t is
// clamped to the presentation.
func (p *Player) Seek(t float64) {
	t = max(0, min(t, p.sess.EndTime()))
	p.mu.Lock()
	p.pending = t
	p.hasPending = true
	p.mu.Unlock()
}

func (p *Player) takePending() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.pending, p.hasPending
	p.hasPending = false
	return t, ok
}

// Progress returns the current playback position.
func (p *Player) Progress() Progress {
	return Progress{
		Start:   math.Float64frombits(p.start.Load()),
		Current: math.Float64frombits(p.current.Load()),
		End:     p.sess.EndTime(),
	}
}

// Run plays until the audio stream ends, a quit event arrives or ctx is
// cancelled. Reaching the end of input is not an error; the sink is drained
// before it is closed. On quit or cancellation queued audio is discarded.
func (p *Player) Run(ctx context.Context) error {
	defer p.closeAudio()
	if err := p.openAudio(); err != nil {
		return err
	}

	lastReport := time.Now()
	for {
		if ctx.Err() != nil {
			p.log.Info("playback cancelled")
			return nil
		}

		if target, ok := p.takePending(); ok {
			if err := p.seekTo(ctx, target); err != nil {
				if errors.Is(err, io.EOF) {
					p.log.Info("seek target past the end of audio")
					return p.drainAudio()
				}
				return err
			}
		}

		if !p.startKnown {
			if err := p.findStart(); err != nil {
				if errors.Is(err, io.EOF) {
					p.log.Info("no audio to play")
					return p.drainAudio()
				}
				return err
			}
		}

		if err := p.step(); err != nil {
			if errors.Is(err, io.EOF) {
				if err := p.drainAudio(); err != nil {
					return err
				}
				p.log.Info("playback finished", "position", p.Progress().Current)
				return nil
			}
			return err
		}

		if quit := p.pollEvents(); quit {
			p.log.Info("quit requested")
			return nil
		}

		if p.statsInterval > 0 && time.Since(lastReport) >= p.statsInterval {
			pr := p.Progress()
			p.log.Info("progress", "current", pr.Current, "start", pr.Start, "end", pr.End)
			lastReport = time.Now()
		}
	}
}

// findStart takes the playback start from the first queued audio block.
// The session's start time is set from the first one found.
func (p *Player) findStart() error {
	g, err := p.audio.StartGranule()
	if err != nil {
		return err
	}
	p.playbackStart = p.vorbis.GranuleTime(g)
	p.startKnown = true
	p.sess.SetStartTime(p.playbackStart)
	p.start.Store(math.Float64bits(p.sess.StartTime()))
	p.current.Store(math.Float64bits(p.playbackStart))
	p.log.Debug("playback start", "time", p.playbackStart)
	return nil
}

// step plays one audio block and presents at most one video frame.
func (p *Player) step() error {
	s, err := p.audio.Next()
	if err != nil {
		return err
	}
	if err := p.sink.Write(s.PCM); err != nil {
		return fmt.Errorf("player: audio write: %w", err)
	}
	p.stats.RecordAudioBlock(s.Samples)

	pos, err := p.sink.Position()
	if err != nil {
		return fmt.Errorf("player: audio position: %w", err)
	}
	current := float64(pos)/float64(p.vorbis.Info.SampleRate) + p.playbackStart
	p.current.Store(math.Float64bits(current))

	if p.video == nil || p.videoDone {
		return nil
	}
	videoTime := p.theora.GranuleTime(p.video.Last())
	if seek.MS(current) <= seek.MS(videoTime) {
		return nil
	}

	pkt, err := p.video.Next()
	if errors.Is(err, io.EOF) {
		p.log.Debug("video stream ended")
		p.videoDone = true
		return nil
	}
	if err != nil {
		return err
	}
	return p.present(pkt)
}

func (p *Player) present(pkt *ogg.Packet) error {
	frame, err := p.vdec.Decode(pkt)
	if err != nil {
		return fmt.Errorf("player: video decode packet %d: %w", pkt.PacketNo, err)
	}
	if frame == nil {
		p.stats.RecordDuplicateFrame()
		return nil
	}
	frame.Granule = pkt.Granule
	frame.Time = p.theora.GranuleTime(pkt.Granule)
	frame.IsKeyframe = codec.TheoraIsKeyframe(pkt.Data)
	if err := p.render.Present(frame); err != nil {
		return fmt.Errorf("player: present: %w", err)
	}
	p.stats.RecordVideoFrame(frame.IsKeyframe)
	return nil
}

// seekTo runs a bisection seek, refines it so video decoding restarts at a
// keyframe, and skips both streams forward to target. A failed bisection is
// logged and playback resumes from the start.
func (p *Player) seekTo(ctx context.Context, target float64) error {
	p.closeAudio()
	defer func() {
		p.startKnown = false
		p.videoDone = false
	}()

	if err := p.bisect(ctx, target); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.log.Warn("seek failed, resuming from start", "target", target, "error", err)
		p.resetTimelines()
		p.sess.ResetDecode()
		if err := p.sess.Reposition(p.sess.DataOffset()); err != nil {
			return err
		}
		return p.openAudio()
	}

	if target > 0 {
		if p.video != nil {
			if err := p.refine(ctx, target); err != nil {
				return err
			}
		}
		if err := p.skipForward(target); err != nil {
			return err
		}
	}
	return p.openAudio()
}

func (p *Player) bisect(ctx context.Context, target float64) error {
	res, err := p.bisector.Seek(ctx, target)
	p.stats.RecordSeek(target, res.Hops, err)
	if err != nil {
		return err
	}
	p.log.Debug("seek landed", "target", target, "offset", res.Offset, "hops", res.Hops)
	return nil
}

// refine seeks again if the first video packet after the seek is not a
// keyframe: the new target is one frame before the keyframe that packet
// refers to. Leading packets before that keyframe are discarded.
func (p *Player) refine(ctx context.Context, target float64) error {
	pkt, err := p.video.Peek()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	if !codec.TheoraIsKeyframe(pkt.Data) {
		kgp := p.theora.KeyframeGranule(pkt.Granule)
		corrected := max(p.theora.GranuleTime(kgp)-p.theora.FrameDuration(), 0)
		p.log.Debug("seek landed inside a keyframe interval",
			"target", target, "granule", pkt.Granule, "keyframe_time", corrected)
		if err := p.bisect(ctx, corrected); err != nil {
			return err
		}
	}

	for {
		pkt, err := p.video.Peek()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if codec.TheoraIsKeyframe(pkt.Data) {
			return nil
		}
		if _, err := p.video.Next(); err != nil {
			return err
		}
		p.stats.RecordVideoSkipped()
	}
}

// skipForward discards audio ending at or before target, keeping the first
// block that ends after it, and decodes without presenting every video
// frame whose display time is at or before target.
func (p *Player) skipForward(target float64) error {
	for {
		s, err := p.audio.Next()
		if err != nil {
			return err
		}
		if p.vorbis.GranuleTime(s.Granule) > target {
			p.audio.PushFront(s)
			break
		}
		p.stats.RecordAudioSkipped(s.Samples)
	}

	if p.video == nil {
		return nil
	}
	for {
		pkt, err := p.video.Peek()
		if errors.Is(err, io.EOF) {
			p.videoDone = true
			return nil
		}
		if err != nil {
			return err
		}
		if seek.MS(p.theora.GranuleTime(pkt.Granule)) > seek.MS(target) {
			return nil
		}
		pkt, err = p.video.Next()
		if err != nil {
			return err
		}
		if _, err := p.vdec.Decode(pkt); err != nil {
			return fmt.Errorf("player: video decode packet %d: %w", pkt.PacketNo, err)
		}
		p.stats.RecordVideoSkipped()
	}
}

func (p *Player) openAudio() error {
	if p.audioOpen {
		return nil
	}
	info := p.vorbis.Info
	if err := p.sink.Open(info.SampleRate, info.Channels); err != nil {
		return fmt.Errorf("player: open audio: %w", err)
	}
	p.audioOpen = true
	return nil
}

// drainAudio waits for the sink to play out everything written and moves
// the clock to the end of it.
func (p *Player) drainAudio() error {
	if !p.audioOpen {
		return nil
	}
	if err := p.sink.Drain(); err != nil {
		return fmt.Errorf("player: audio drain: %w", err)
	}
	if !p.startKnown {
		return nil
	}
	pos, err := p.sink.Position()
	if err != nil {
		return fmt.Errorf("player: audio position: %w", err)
	}
	p.current.Store(math.Float64bits(float64(pos)/float64(p.vorbis.Info.SampleRate) + p.playbackStart))
	return nil
}

func (p *Player) closeAudio() {
	if !p.audioOpen {
		return
	}
	if err := p.sink.Close(); err != nil {
		p.log.Warn("audio close failed", "error", err)
	}
	p.audioOpen = false
}

type nopStats struct{}

func (nopStats) RecordSeek(float64, int, error) {}
func (nopStats) RecordVideoFrame(bool)          {}
func (nopStats) RecordDuplicateFrame()          {}
func (nopStats) RecordVideoSkipped()            {}
func (nopStats) RecordAudioBlock(int)           {}
func (nopStats) RecordAudioSkipped(int)         {}
