package ogg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

// buildStreams writes count packets for each serial, one page per packet,
// interleaving the streams. It returns the file and the offset of every page.
func buildStreams(t *testing.T, serials []uint32, count int) ([]byte, []int64) {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	var offsets []int64
	for i := 0; i < count; i++ {
		for _, s := range serials {
			offsets = append(offsets, w.Offset())
			data := bytes.Repeat([]byte{byte(s), byte(i)}, 50+i)
			if err := w.WritePacket(s, data, int64(i+1)); err != nil {
				t.Fatal(err)
			}
			if err := w.Flush(s); err != nil {
				t.Fatal(err)
			}
		}
	}
	for _, s := range serials {
		offsets = append(offsets, w.Offset())
		if err := w.Close(s); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes(), offsets
}

func readAll(t *testing.T, r *Reader) []*Page {
	t.Helper()
	var pages []*Page
	for {
		p, err := r.ReadPage()
		if errors.Is(err, io.EOF) {
			return pages
		}
		if err != nil {
			t.Fatal(err)
		}
		pages = append(pages, p)
	}
}

func TestReader_Sequential(t *testing.T) {
	t.Parallel()
	data, offsets := buildStreams(t, []uint32{7, 9}, 5)

	r, err := NewReader(context.Background(), bytes.NewReader(data), ReaderOptChunkSize(100))
	if err != nil {
		t.Fatal(err)
	}
	if r.Length() != int64(len(data)) {
		t.Errorf("Length = %d, want %d", r.Length(), len(data))
	}

	pages := readAll(t, r)
	if len(pages) != len(offsets) {
		t.Fatalf("pages = %d, want %d", len(pages), len(offsets))
	}
	bos := map[uint32]int{}
	for i, p := range pages {
		if p.Offset != offsets[i] {
			t.Errorf("page %d offset = %d, want %d", i, p.Offset, offsets[i])
		}
		if p.BOS() {
			bos[p.Serial()]++
		}
	}
	if len(bos) != 2 || bos[7] != 1 || bos[9] != 1 {
		t.Errorf("BOS pages per serial = %v, want one each for 7 and 9", bos)
	}
	last := pages[len(pages)-1]
	if !last.EOS() {
		t.Error("last page should carry EOS")
	}
	if pages[0].Granule() != 1 {
		t.Errorf("first page granule = %d, want 1", pages[0].Granule())
	}
}

func TestReader_SkipsGarbageAndCorruptPages(t *testing.T) {
	t.Parallel()
	data, offsets := buildStreams(t, []uint32{1}, 3)

	garbage := []byte("not an ogg page OggX")
	corrupt := append([]byte(nil), data...)
	// Flip a body byte of the second page so its checksum fails.
	corrupt[offsets[1]+30] ^= 0xFF
	input := append(append([]byte(nil), garbage...), corrupt...)

	r, err := NewReader(context.Background(), bytes.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	pages := readAll(t, r)
	if len(pages) != len(offsets)-1 {
		t.Fatalf("pages = %d, want %d", len(pages), len(offsets)-1)
	}
	if pages[0].Offset != int64(len(garbage)) {
		t.Errorf("first offset = %d, want %d", pages[0].Offset, len(garbage))
	}
	if pages[1].Offset != offsets[2]+int64(len(garbage)) {
		t.Errorf("offset after corrupt page = %d, want %d", pages[1].Offset, offsets[2]+int64(len(garbage)))
	}
}

func TestReader_SeekToResyncs(t *testing.T) {
	t.Parallel()
	data, offsets := buildStreams(t, []uint32{3, 4}, 4)

	r, err := NewReader(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	// Land inside the third page; the next page found is the fourth.
	if err := r.SeekTo(offsets[2] + 5); err != nil {
		t.Fatal(err)
	}
	p, err := r.ReadPage()
	if err != nil {
		t.Fatal(err)
	}
	if p.Offset != offsets[3] {
		t.Errorf("offset after seek = %d, want %d", p.Offset, offsets[3])
	}

	if err := r.SeekTo(r.Length() + 1); err == nil {
		t.Error("expected error seeking past the end")
	}
}

func TestReader_LastPage(t *testing.T) {
	t.Parallel()
	data, _ := buildStreams(t, []uint32{3, 4}, 20)

	r, err := NewReader(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	p, err := r.LastPage(64, func(p *Page) bool {
		return p.Serial() == 3 && p.Granule() != UnknownGranule
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Granule() != 20 {
		t.Errorf("last granule = %d, want 20", p.Granule())
	}

	_, err = r.LastPage(64, func(p *Page) bool { return false })
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF when nothing matches, got %v", err)
	}
}

func TestReader_ContextCancellation(t *testing.T) {
	t.Parallel()
	data, _ := buildStreams(t, []uint32{1}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := NewReader(ctx, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadPage(); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestReader_Empty(t *testing.T) {
	t.Parallel()
	r, err := NewReader(context.Background(), bytes.NewReader(nil))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadPage(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}
