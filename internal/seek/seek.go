// Package seek implements time-based random access over an Ogg byte source
// by bisection: a bounded binary search over byte offsets that uses the
// granule times of probed pages to narrow a bracket around the target.
package seek

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	// DefaultStep is the bracket width below which the search stops. The
	// mean page length is a little under this.
	DefaultStep = 5000

	maxBacksteps = 40
)

var (
	// ErrSeekFailed means a probe could not determine a time, typically
	// because it ran into the end of input. The session stays usable.
	ErrSeekFailed = errors.New("seek: failed")
	// ErrOutOfRange means the target lies outside [0, end time].
	ErrOutOfRange = errors.New("seek: target out of range")
	// ErrSeekStalled means the bracket stopped shrinking, which only
	// happens on inconsistent input.
	ErrSeekStalled = errors.New("seek: bisection stalled")
)

// Bounds describes the searchable region of a source.
type Bounds struct {
	DataOffset int64
	Length     int64
	Start      float64
	End        float64
}

// Sample is the outcome of one probe: the offset of the first page found
// and the probed time in milliseconds.
type Sample struct {
	Offset int64
	TimeMS int64
}

// Prober is the probing primitive the search runs on.
type Prober interface {
	Bounds() Bounds
	// Probe repositions to offset, resynchronizes to the next page and
	// reads forward until the time at that position is known.
	Probe(offset int64) (Sample, error)
	// Reposition moves the read cursor to offset.
	Reposition(offset int64) error
	// ResetDecode discards every stream's buffered data.
	ResetDecode()
}

// Bracket is the search state at the start of one iteration.
type Bracket struct {
	Hop         int
	OffsetStart int64
	OffsetEnd   int64
	TimeStart   int64
	TimeEnd     int64
	Target      int64
	Guess       int64
}

// Result reports where a seek landed.
type Result struct {
	Hops   int
	Offset int64
}

// Bisector searches a Prober for the byte offset of a target time.
type Bisector struct {
	log      *slog.Logger
	prober   Prober
	step     int64
	maxHops  int
	observer func(Bracket)
}

// BisectorOptStep sets the stop threshold in bytes (default 5000).
func BisectorOptStep(step int64) func(*Bisector) {
	return func(b *Bisector) {
		if step > 0 {
			b.step = step
		}
	}
}

// BisectorOptMaxHops bounds the number of probes; zero means unbounded.
func BisectorOptMaxHops(n int) func(*Bisector) {
	return func(b *Bisector) {
		b.maxHops = n
	}
}

// BisectorOptObserver registers a function called with the bracket before
// every probe.
func BisectorOptObserver(fn func(Bracket)) func(*Bisector) {
	return func(b *Bisector) {
		b.observer = fn
	}
}

// NewBisector creates a Bisector over p. If log is nil, slog.Default() is
// used.
func NewBisector(p Prober, log *slog.Logger, opts ...func(*Bisector)) *Bisector {
	if log == nil {
		log = slog.Default()
	}
	b := &Bisector{
		log:    log.With("component", "seek"),
		prober: p,
		step:   DefaultStep,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MS converts seconds to whole milliseconds, rounding half up.
func MS(s float64) int64 {
	return int64(s*1000 + 0.5)
}

// Seek repositions the source so that sequential reads recover packets at
// or slightly before target seconds. A target of zero, or at or before the
// start time, repositions to the data offset without probing.
func (b *Bisector) Seek(ctx context.Context, target float64) (Result, error) {
	bounds := b.prober.Bounds()
	if target < 0 || target > bounds.End {
		return Result{}, fmt.Errorf("%w: %.3fs not in [0, %.3fs]", ErrOutOfRange, target, bounds.End)
	}

	seekTarget := MS(target)
	offsetStart, offsetEnd := bounds.DataOffset, bounds.Length
	timeStart, timeEnd := MS(bounds.Start), MS(bounds.End)

	if target == 0 || seekTarget <= timeStart {
		b.prober.ResetDecode()
		if err := b.prober.Reposition(bounds.DataOffset); err != nil {
			return Result{}, err
		}
		b.log.Debug("seek to data offset", "target", target, "offset", bounds.DataOffset)
		return Result{Offset: bounds.DataOffset}, nil
	}

	hops := 0
	previousGuess := int64(-1)
	backsteps := 1
	for {
		if err := ctx.Err(); err != nil {
			return Result{Hops: hops}, err
		}
		b.prober.ResetDecode()

		interval := offsetEnd - offsetStart
		if interval < b.step {
			if err := b.prober.Reposition(offsetStart); err != nil {
				return Result{Hops: hops}, err
			}
			b.log.Debug("seek complete", "target", target, "hops", hops, "offset", offsetStart)
			return Result{Hops: hops, Offset: offsetStart}, nil
		}

		frac := float64(seekTarget-timeStart) / float64(timeEnd-timeStart)
		guess := max(offsetStart+int64(float64(interval)*frac), offsetStart+1)
		if guess+b.step > offsetEnd {
			// Don't probe right below the upper end, back off from it.
			backoff := b.step << backsteps
			if backsteps < maxBacksteps {
				backsteps++
			}
			guess = max(offsetEnd-backoff, offsetStart+b.step/2)
		} else {
			backsteps = 0
		}

		if guess < offsetStart || guess > offsetEnd || guess == previousGuess {
			return Result{Hops: hops}, fmt.Errorf("%w: guess %d in [%d, %d], previous %d",
				ErrSeekStalled, guess, offsetStart, offsetEnd, previousGuess)
		}
		previousGuess = guess

		hops++
		if b.maxHops > 0 && hops > b.maxHops {
			return Result{Hops: hops}, fmt.Errorf("%w: more than %d probes", ErrSeekStalled, b.maxHops)
		}
		if b.observer != nil {
			b.observer(Bracket{
				Hop:         hops,
				OffsetStart: offsetStart,
				OffsetEnd:   offsetEnd,
				TimeStart:   timeStart,
				TimeEnd:     timeEnd,
				Target:      seekTarget,
				Guess:       guess,
			})
		}

		s, err := b.prober.Probe(guess)
		if err != nil {
			return Result{Hops: hops}, fmt.Errorf("%w: probe at %d: %w", ErrSeekFailed, guess, err)
		}
		b.log.Debug("probe", "hop", hops, "guess", guess, "page", s.Offset, "time_ms", s.TimeMS)

		if s.TimeMS >= seekTarget {
			offsetEnd = guess
			timeEnd = s.TimeMS
		} else {
			offsetStart = s.Offset
			timeStart = s.TimeMS
		}

		if timeStart >= seekTarget || timeEnd < seekTarget || offsetStart >= offsetEnd {
			return Result{Hops: hops}, fmt.Errorf("%w: bracket [%d, %d] ms [%d, %d] for target %d",
				ErrSeekStalled, offsetStart, offsetEnd, timeStart, timeEnd, seekTarget)
		}
	}
}
