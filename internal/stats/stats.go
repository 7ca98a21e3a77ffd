// Package stats accumulates playback telemetry from the demuxer and the
// player and produces JSON-serializable snapshots of it.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/plogg/internal/demux"
	"github.com/zsiec/plogg/internal/player"
)

// Compile-time interface checks.
var (
	_ demux.StatsRecorder  = (*Playback)(nil)
	_ player.StatsRecorder = (*Playback)(nil)
)

const (
	fpsWindow     = 2 * time.Second
	maxRecentSeek = 10
)

// ContainerStats holds page-level counters.
type ContainerStats struct {
	Pages        int64 `json:"pages"`
	Bytes        int64 `json:"bytes"`
	Resyncs      int64 `json:"resyncs"`
	SkippedBytes int64 `json:"skippedBytes"`
}

// VideoStats holds presentation counters.
type VideoStats struct {
	Presented     int64   `json:"presented"`
	KeyFrames     int64   `json:"keyFrames"`
	Duplicates    int64   `json:"duplicates"`
	Skipped       int64   `json:"skipped"`
	CurrentGOPLen int     `json:"currentGOPLen"`
	FrameRate     float64 `json:"frameRate"`
}

// AudioStats holds sample counters.
type AudioStats struct {
	Blocks         int64 `json:"blocks"`
	Samples        int64 `json:"samples"`
	SkippedSamples int64 `json:"skippedSamples"`
}

// SeekEvent records one bisection seek.
type SeekEvent struct {
	Timestamp int64   `json:"ts"`
	Target    float64 `json:"target"`
	Hops      int     `json:"hops"`
	Error     string  `json:"error,omitempty"`
}

// SeekStats summarizes seek activity.
type SeekStats struct {
	Total  int64       `json:"total"`
	Failed int64       `json:"failed"`
	Hops   int64       `json:"hops"`
	Recent []SeekEvent `json:"recent,omitempty"`
}

// Snapshot is a point-in-time view of one playback session.
type Snapshot struct {
	SessionID string         `json:"sessionId"`
	Timestamp int64          `json:"ts"`
	UptimeMs  int64          `json:"uptimeMs"`
	Container ContainerStats `json:"container"`
	Video     VideoStats     `json:"video"`
	Audio     AudioStats     `json:"audio"`
	Seeks     SeekStats      `json:"seeks"`
}

// Playback accumulates telemetry with atomic counters. It implements both
// demux.StatsRecorder and player.StatsRecorder and is safe for concurrent
// use.
type Playback struct {
	id      string
	started time.Time
	now     func() time.Time

	pages        atomic.Int64
	bytes        atomic.Int64
	resyncs      atomic.Int64
	skippedBytes atomic.Int64

	presented     atomic.Int64
	keyframes     atomic.Int64
	duplicates    atomic.Int64
	videoSkipped  atomic.Int64
	currentGOPLen atomic.Int32

	audioBlocks  atomic.Int64
	audioSamples atomic.Int64
	audioSkipped atomic.Int64

	seeksTotal  atomic.Int64
	seeksFailed atomic.Int64
	seekHops    atomic.Int64

	// seekMu guards seekLog
	seekMu  sync.Mutex
	seekLog []SeekEvent

	// fpsMu guards fps
	fpsMu sync.Mutex
	fps   []time.Time
}

// New creates a Playback for the session identified by id.
func New(id string) *Playback {
	return &Playback{id: id, started: time.Now(), now: time.Now}
}

// RecordPage records one page read from the container.
func (p *Playback) RecordPage(bytes int) {
	p.pages.Add(1)
	p.bytes.Add(int64(bytes))
}

// RecordResync records bytes skipped to find the next page.
func (p *Playback) RecordResync(skipped int64) {
	p.resyncs.Add(1)
	p.skippedBytes.Add(skipped)
}

// RecordSeek records a finished bisection.
func (p *Playback) RecordSeek(target float64, hops int, err error) {
	p.seeksTotal.Add(1)
	p.seekHops.Add(int64(hops))
	ev := SeekEvent{Timestamp: p.now().UnixMilli(), Target: target, Hops: hops}
	if err != nil {
		p.seeksFailed.Add(1)
		ev.Error = err.Error()
	}
	p.seekMu.Lock()
	p.seekLog = append(p.seekLog, ev)
	if len(p.seekLog) > maxRecentSeek {
		p.seekLog = p.seekLog[len(p.seekLog)-maxRecentSeek:]
	}
	p.seekMu.Unlock()
}

// RecordVideoFrame records a presented frame and updates the frame rate
// window.
func (p *Playback) RecordVideoFrame(keyframe bool) {
	p.presented.Add(1)
	if keyframe {
		p.keyframes.Add(1)
		p.currentGOPLen.Store(1)
	} else {
		p.currentGOPLen.Add(1)
	}

	now := p.now()
	p.fpsMu.Lock()
	p.fps = append(p.fps, now)
	cutoff := now.Add(-fpsWindow)
	i := 0
	for i < len(p.fps) && p.fps[i].Before(cutoff) {
		i++
	}
	p.fps = p.fps[i:]
	p.fpsMu.Unlock()
}

// RecordDuplicateFrame records a packet that repeated the previous picture.
func (p *Playback) RecordDuplicateFrame() {
	p.duplicates.Add(1)
}

// RecordVideoSkipped records a video packet dropped or decoded without
// presentation during a seek.
func (p *Playback) RecordVideoSkipped() {
	p.videoSkipped.Add(1)
}

// RecordAudioBlock records a block written to the sink.
func (p *Playback) RecordAudioBlock(samples int) {
	p.audioBlocks.Add(1)
	p.audioSamples.Add(int64(samples))
}

// RecordAudioSkipped records samples discarded while skipping to a seek
// target.
func (p *Playback) RecordAudioSkipped(samples int) {
	p.audioSkipped.Add(int64(samples))
}

// FrameRate computes the presentation rate over the last two seconds.
func (p *Playback) FrameRate() float64 {
	p.fpsMu.Lock()
	defer p.fpsMu.Unlock()

	if len(p.fps) < 2 {
		return 0
	}
	dur := p.fps[len(p.fps)-1].Sub(p.fps[0]).Seconds()
	if dur <= 0 {
		return 0
	}
	return float64(len(p.fps)-1) / dur
}

// Snapshot returns the current counters.
func (p *Playback) Snapshot() Snapshot {
	now := p.now()

	p.seekMu.Lock()
	recent := make([]SeekEvent, len(p.seekLog))
	copy(recent, p.seekLog)
	p.seekMu.Unlock()

	return Snapshot{
		SessionID: p.id,
		Timestamp: now.UnixMilli(),
		UptimeMs:  now.Sub(p.started).Milliseconds(),
		Container: ContainerStats{
			Pages:        p.pages.Load(),
			Bytes:        p.bytes.Load(),
			Resyncs:      p.resyncs.Load(),
			SkippedBytes: p.skippedBytes.Load(),
		},
		Video: VideoStats{
			Presented:     p.presented.Load(),
			KeyFrames:     p.keyframes.Load(),
			Duplicates:    p.duplicates.Load(),
			Skipped:       p.videoSkipped.Load(),
			CurrentGOPLen: int(p.currentGOPLen.Load()),
			FrameRate:     p.FrameRate(),
		},
		Audio: AudioStats{
			Blocks:         p.audioBlocks.Load(),
			Samples:        p.audioSamples.Load(),
			SkippedSamples: p.audioSkipped.Load(),
		},
		Seeks: SeekStats{
			Total:  p.seeksTotal.Load(),
			Failed: p.seeksFailed.Load(),
			Hops:   p.seekHops.Load(),
			Recent: recent,
		},
	}
}
