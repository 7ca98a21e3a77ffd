// Package audio provides audio sinks for the playback loop: a worker that
// owns a device in its own goroutine, and a paced sink that consumes
// samples in real time without an output device.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrNotOpen is returned by sink operations before Open or after Close.
	ErrNotOpen = errors.New("audio: sink not open")
	// ErrClosed is returned by Worker operations after Run has returned.
	ErrClosed = errors.New("audio: worker stopped")
)

// Clock abstracts wall time so pacing can be tested without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// PacedSink plays samples into nothing at the rate a device would. Writes
// block while more than the buffer's worth of frames is waiting, so a
// writer runs at real time. The position is the number of frames that
// would have reached the speaker.
type PacedSink struct {
	log    *slog.Logger
	clock  Clock
	buffer time.Duration

	open     bool
	rate     int
	channels int
	started  time.Time
	written  int64
}

// PacedSinkOptClock sets the clock (default wall time).
func PacedSinkOptClock(c Clock) func(*PacedSink) {
	return func(s *PacedSink) {
		s.clock = c
	}
}

// PacedSinkOptBuffer sets how far writes may run ahead of playback
// (default 250ms).
func PacedSinkOptBuffer(d time.Duration) func(*PacedSink) {
	return func(s *PacedSink) {
		if d > 0 {
			s.buffer = d
		}
	}
}

// NewPacedSink creates a closed PacedSink. If log is nil, slog.Default()
// is used.
func NewPacedSink(log *slog.Logger, opts ...func(*PacedSink)) *PacedSink {
	if log == nil {
		log = slog.Default()
	}
	s := &PacedSink{
		log:    log.With("component", "paced-sink"),
		clock:  realClock{},
		buffer: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open starts a new playback run at rate frames per second. The position
// restarts at zero.
func (s *PacedSink) Open(rate, channels int) error {
	if rate <= 0 || channels <= 0 {
		return fmt.Errorf("audio: invalid format %d Hz, %d channels", rate, channels)
	}
	s.open = true
	s.rate = rate
	s.channels = channels
	s.started = time.Time{}
	s.written = 0
	s.log.Debug("opened", "rate", rate, "channels", channels)
	return nil
}

// Write queues interleaved samples, blocking until they fit in the buffer.
func (s *PacedSink) Write(pcm []int16) error {
	if !s.open {
		return ErrNotOpen
	}
	if len(pcm)%s.channels != 0 {
		return fmt.Errorf("audio: %d samples is not a multiple of %d channels", len(pcm), s.channels)
	}
	if s.started.IsZero() {
		s.started = s.clock.Now()
	}
	s.written += int64(len(pcm) / s.channels)

	limit := int64(s.buffer.Seconds() * float64(s.rate))
	for {
		ahead := s.written - s.played()
		if ahead <= limit {
			return nil
		}
		s.clock.Sleep(time.Duration(float64(ahead-limit) / float64(s.rate) * float64(time.Second)))
	}
}

// Position returns the number of frames played since Open.
func (s *PacedSink) Position() (int64, error) {
	if !s.open {
		return 0, ErrNotOpen
	}
	return s.played(), nil
}

// Drain blocks until every written frame has been played.
func (s *PacedSink) Drain() error {
	if !s.open {
		return ErrNotOpen
	}
	for {
		rem := s.written - s.played()
		if rem <= 0 {
			return nil
		}
		s.clock.Sleep(time.Duration(float64(rem) / float64(s.rate) * float64(time.Second)))
	}
}

// Close stops playback. Queued frames are discarded.
func (s *PacedSink) Close() error {
	if !s.open {
		return nil
	}
	s.open = false
	s.log.Debug("closed", "written", s.written)
	return nil
}

func (s *PacedSink) played() int64 {
	if s.started.IsZero() {
		return 0
	}
	elapsed := s.clock.Now().Sub(s.started)
	return min(int64(elapsed.Seconds()*float64(s.rate)), s.written)
}
