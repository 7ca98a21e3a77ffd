package ogg

import (
	"encoding/binary"
	"fmt"
	"io"
)

type writeStream struct {
	serial    uint32
	seq       uint32
	lacing    []byte
	body      []byte
	granule   int64
	completed int
	started   bool
	continued bool
}

// Writer multiplexes packets of one or more logical streams into pages.
// Pages are emitted when their segment table fills up or when Flush or
// Close is called for the stream, so callers control the interleaving.
type Writer struct {
	w       io.Writer
	streams map[uint32]*writeStream
	written int64
}

// NewWriter creates a Writer that emits pages to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, streams: make(map[uint32]*writeStream)}
}

// Offset returns the number of bytes written so far, which is the offset
// of the next page.
func (w *Writer) Offset() int64 {
	return w.written
}

// WritePacket appends a packet to the stream's pending page. granule is
// recorded as the page granule if this is the last packet finishing on the
// page.
func (w *Writer) WritePacket(serial uint32, data []byte, granule int64) error {
	st := w.stream(serial)
	rem := data
	for {
		n := len(rem)
		if n > 255 {
			n = 255
		}
		st.lacing = append(st.lacing, byte(n))
		st.body = append(st.body, rem[:n]...)
		rem = rem[n:]

		done := n < 255
		if done {
			st.granule = granule
			st.completed++
		}
		if len(st.lacing) == maxSegments {
			if err := w.emit(st, false); err != nil {
				return err
			}
			st.continued = !done
		}
		if done {
			return nil
		}
	}
}

// Flush emits the stream's pending page, if any.
func (w *Writer) Flush(serial uint32) error {
	st := w.stream(serial)
	if len(st.lacing) == 0 {
		return nil
	}
	err := w.emit(st, false)
	st.continued = false
	return err
}

// Close emits the stream's final page with the end-of-stream flag set.
func (w *Writer) Close(serial uint32) error {
	st := w.stream(serial)
	err := w.emit(st, true)
	delete(w.streams, serial)
	return err
}

func (w *Writer) stream(serial uint32) *writeStream {
	st, ok := w.streams[serial]
	if !ok {
		st = &writeStream{serial: serial, granule: UnknownGranule}
		w.streams[serial] = st
	}
	return st
}

func (w *Writer) emit(st *writeStream, eos bool) error {
	header := make([]byte, headerSize+len(st.lacing))
	copy(header, capturePrefix)
	var flags byte
	if st.continued {
		flags |= FlagContinued
	}
	if !st.started {
		flags |= FlagBOS
	}
	if eos {
		flags |= FlagEOS
	}
	header[5] = flags

	granule := UnknownGranule
	if st.completed > 0 {
		granule = st.granule
	}
	binary.LittleEndian.PutUint64(header[6:14], uint64(granule))
	binary.LittleEndian.PutUint32(header[14:18], st.serial)
	binary.LittleEndian.PutUint32(header[18:22], st.seq)
	header[26] = byte(len(st.lacing))
	copy(header[headerSize:], st.lacing)
	binary.LittleEndian.PutUint32(header[22:26], pageChecksum(header, st.body))

	if _, err := w.w.Write(header); err != nil {
		return fmt.Errorf("ogg: write page header: %w", err)
	}
	if _, err := w.w.Write(st.body); err != nil {
		return fmt.Errorf("ogg: write page body: %w", err)
	}
	w.written += int64(len(header) + len(st.body))

	st.started = true
	st.seq++
	st.lacing = st.lacing[:0]
	st.body = st.body[:0]
	st.completed = 0
	st.granule = UnknownGranule
	return nil
}
