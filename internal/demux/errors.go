package demux

import (
	"errors"
	"fmt"
)

// ErrMalformed is matched by every structural violation of the container.
var ErrMalformed = errors.New("demux: malformed container")

// Structural violations. Each is reported wrapped in a *StreamError, which
// also matches ErrMalformed.
var (
	ErrUnknownStream   = errors.New("demux: page for unknown stream")
	ErrDuplicateStream = errors.New("demux: duplicate beginning of stream")
	ErrNoHeaders       = errors.New("demux: incomplete header sequence")
)

// ErrNoAudio means no audio stream was found. Audio is the playback clock,
// so a session cannot proceed without it.
var ErrNoAudio = errors.New("demux: no audio stream")

// StreamError records the stream and page offset of a structural violation.
type StreamError struct {
	Serial uint32
	Offset int64
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("demux: stream %d at offset %d: %v", e.Serial, e.Offset, e.Err)
}

func (e *StreamError) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}
