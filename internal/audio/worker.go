package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/plogg/media"
)

// Device is an audio output. Only the worker goroutine calls it.
type Device interface {
	Open(rate, channels int) error
	Write(pcm []int16) error
	Position() (int64, error)
	// Drain blocks until every written frame has been played.
	Drain() error
	Close() error
}

type taskKind int

const (
	taskOpen taskKind = iota
	taskWrite
	taskDrain
	taskClose
)

type task struct {
	kind     taskKind
	rate     int
	channels int
	pcm      []int16
	gen      int64
	reply    chan error
}

// Worker owns a Device and feeds it from a FIFO queue in its own goroutine,
// so the playback loop never blocks on the device. It implements the
// player's audio sink: Open and Close wait for the device, Write only
// enqueues. The device position and the number of queued frames are
// published through atomics.
type Worker struct {
	log    *slog.Logger
	dev    Device
	tasks  chan task
	done   chan struct{}
	closed sync.Once

	// gen advances on Close; writes queued under an older gen are dropped.
	gen      atomic.Int64
	channels atomic.Int32
	position atomic.Int64
	queued   atomic.Int64

	errMu sync.Mutex
	err   error
}

// WorkerOptQueueDepth sets the number of writes that may be queued
// (default media.AudioQueueSize).
func WorkerOptQueueDepth(n int) func(*Worker) {
	return func(w *Worker) {
		if n > 0 {
			w.tasks = make(chan task, n)
		}
	}
}

// NewWorker creates a Worker for dev. Run must be started before any other
// method is called. If log is nil, slog.Default() is used.
func NewWorker(dev Device, log *slog.Logger, opts ...func(*Worker)) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		log:   log.With("component", "audio-worker"),
		dev:   dev,
		tasks: make(chan task, media.AudioQueueSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes queued tasks in order until ctx is cancelled. The device is
// closed on return.
func (w *Worker) Run(ctx context.Context) error {
	defer w.closed.Do(func() { close(w.done) })
	defer func() {
		if err := w.dev.Close(); err != nil {
			w.log.Warn("device close failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("worker stopped", "queued", w.queued.Load())
			return nil
		case t := <-w.tasks:
			w.handle(t)
		}
	}
}

func (w *Worker) handle(t task) {
	switch t.kind {
	case taskOpen:
		err := w.dev.Open(t.rate, t.channels)
		if err == nil {
			w.channels.Store(int32(t.channels))
			w.position.Store(0)
			w.setErr(nil)
		}
		t.reply <- err
	case taskWrite:
		frames := int64(len(t.pcm)) / int64(max(w.channels.Load(), 1))
		if t.gen != w.gen.Load() {
			w.queued.Add(-frames)
			return
		}
		if err := w.dev.Write(t.pcm); err != nil {
			w.log.Warn("device write failed", "error", err)
			w.setErr(err)
		}
		w.queued.Add(-frames)
		w.updatePosition()
	case taskDrain:
		err := w.dev.Drain()
		w.updatePosition()
		t.reply <- err
	case taskClose:
		err := w.dev.Close()
		w.queued.Store(0)
		t.reply <- err
	default:
		panic(fmt.Sprintf("audio: unhandled task kind %d", t.kind))
	}
}

func (w *Worker) updatePosition() {
	pos, err := w.dev.Position()
	if err != nil {
		w.log.Debug("device position unavailable", "error", err)
		return
	}
	w.position.Store(pos)
}

func (w *Worker) setErr(err error) {
	w.errMu.Lock()
	w.err = err
	w.errMu.Unlock()
}

// call enqueues a task and waits for the device's answer.
func (w *Worker) call(t task) error {
	t.reply = make(chan error, 1)
	select {
	case w.tasks <- t:
	case <-w.done:
		return ErrClosed
	}
	select {
	case err := <-t.reply:
		return err
	case <-w.done:
		return ErrClosed
	}
}

// Open opens the device after every previously queued task has run.
func (w *Worker) Open(rate, channels int) error {
	return w.call(task{kind: taskOpen, rate: rate, channels: channels})
}

// Write copies pcm onto the queue. It blocks only while the queue is full.
// A device failure from an earlier write is returned here.
func (w *Worker) Write(pcm []int16) error {
	w.errMu.Lock()
	err := w.err
	w.errMu.Unlock()
	if err != nil {
		return err
	}

	frames := int64(len(pcm)) / int64(max(w.channels.Load(), 1))
	w.queued.Add(frames)
	t := task{kind: taskWrite, pcm: append([]int16(nil), pcm...), gen: w.gen.Load()}
	select {
	case w.tasks <- t:
		return nil
	case <-w.done:
		w.queued.Add(-frames)
		return ErrClosed
	}
}

// Position returns the device position as of the last completed write.
func (w *Worker) Position() (int64, error) {
	select {
	case <-w.done:
		return 0, ErrClosed
	default:
	}
	return w.position.Load(), nil
}

// Queued returns the number of frames accepted by Write but not yet handed
// to the device.
func (w *Worker) Queued() int64 {
	return w.queued.Load()
}

// Drain waits until every queued write has reached the device and the
// device has played it.
func (w *Worker) Drain() error {
	return w.call(task{kind: taskDrain})
}

// Close discards queued writes and closes the device.
func (w *Worker) Close() error {
	w.gen.Add(1)
	return w.call(task{kind: taskClose})
}
