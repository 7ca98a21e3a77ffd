package ogg

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const defaultChunkSize = 4096

// Reader pulls pages out of a seekable byte source and tracks the byte
// offset of each page it yields.
type Reader struct {
	ctx    context.Context
	src    io.ReadSeeker
	sync   syncer
	chunk  []byte
	offset int64
	length int64
	eof    bool
}

// NewReader creates a Reader positioned at the current offset of src.
// The total length of the source is determined once, here.
func NewReader(ctx context.Context, src io.ReadSeeker, opts ...func(*Reader)) (*Reader, error) {
	cur, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("ogg: determine offset: %w", err)
	}
	length, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("ogg: determine length: %w", err)
	}
	if _, err := src.Seek(cur, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ogg: restore offset: %w", err)
	}

	r := &Reader{
		ctx:    ctx,
		src:    src,
		offset: cur,
		length: length,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.chunk == nil {
		r.chunk = make([]byte, defaultChunkSize)
	}
	return r, nil
}

// ReaderOptChunkSize sets how many bytes are read from the source at a time
// (default 4096).
func ReaderOptChunkSize(size int) func(*Reader) {
	return func(r *Reader) {
		if size > 0 {
			r.chunk = make([]byte, size)
		}
	}
}

// Length returns the total byte length of the source.
func (r *Reader) Length() int64 {
	return r.length
}

// Offset returns the byte offset at which the next page search begins.
func (r *Reader) Offset() int64 {
	return r.offset
}

// ReadPage returns the next page. Bytes that do not belong to a valid page
// are skipped and accounted for, so Page.Offset is always the page's true
// position in the source. Returns io.EOF once the source is exhausted and
// every buffered page has been returned.
func (r *Reader) ReadPage() (*Page, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return nil, err
		}

		p, n := r.sync.pageSeek()
		if n > 0 {
			p.Offset = r.offset
			r.offset += int64(n)
			return p, nil
		}
		if n < 0 {
			r.offset += int64(-n)
			continue
		}

		if r.eof {
			return nil, io.EOF
		}

		k, err := r.src.Read(r.chunk)
		if k > 0 {
			r.sync.write(r.chunk[:k])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.eof = true
				continue
			}
			return nil, fmt.Errorf("ogg: read: %w", err)
		}
	}
}

// SeekTo discards all buffered state and resumes page extraction at off.
func (r *Reader) SeekTo(off int64) error {
	if off < 0 || off > r.length {
		return fmt.Errorf("ogg: seek offset %d outside [0, %d]", off, r.length)
	}
	if _, err := r.src.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("ogg: seek: %w", err)
	}
	r.sync.reset()
	r.offset = off
	r.eof = false
	return nil
}

// LastPage scans backward from the end of the source for the last page
// satisfying accept. The scan window starts at step bytes and doubles until
// a page is found or the whole source has been covered, in which case
// io.EOF is returned. The read cursor is left unspecified; callers must
// SeekTo before reading again.
func (r *Reader) LastPage(step int64, accept func(*Page) bool) (*Page, error) {
	if step <= 0 {
		step = int64(len(r.chunk))
	}
	for window := step; ; window *= 2 {
		start := r.length - window
		if start < 0 {
			start = 0
		}
		if err := r.SeekTo(start); err != nil {
			return nil, err
		}

		var last *Page
		for {
			p, err := r.ReadPage()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, err
			}
			if accept(p) {
				last = p
			}
		}
		if last != nil {
			return last, nil
		}
		if start == 0 {
			return nil, io.EOF
		}
	}
}
