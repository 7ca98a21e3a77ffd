// Package oggutil builds synthetic Ogg files shaped like Theora/Vorbis
// streams. Headers are real identification headers; data packets carry a
// small self-describing payload (frame number, sample count) instead of
// compressed media, so tests can use fake decoders.
package oggutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/zsiec/plogg/ogg"
)

// VideoParams describes a synthetic Theora stream.
type VideoParams struct {
	Serial           uint32
	Width, Height    int
	FPSNum, FPSDen   uint32
	Shift            uint8
	KeyframeInterval int
}

// AudioParams describes a synthetic Vorbis stream.
type AudioParams struct {
	Serial       uint32
	Rate         int
	Channels     int
	BlockSamples int
}

// FileParams describes a synthetic file. Either stream may be nil.
type FileParams struct {
	Video          *VideoParams
	Audio          *AudioParams
	Skeleton       bool
	SkeletonSerial uint32
	Duration       float64
	// PacketsPerPage controls how many packets share a page; only the last
	// packet on each page carries a granule position.
	PacketsPerPage int
	// PacketPadding pads every data packet to this many bytes.
	PacketPadding int
}

// File is a built synthetic file.
type File struct {
	Data         []byte
	DataOffset   int64
	VideoFrames  int
	AudioSamples int64
	// VideoGranules holds the granule of every video frame in order.
	VideoGranules []int64
	// Keyframes marks which video frames are keyframes.
	Keyframes []bool
}

// DefaultVideo returns 10 fps video with a keyframe every 10 frames.
func DefaultVideo(serial uint32) *VideoParams {
	return &VideoParams{Serial: serial, Width: 64, Height: 48, FPSNum: 10, FPSDen: 1, Shift: 6, KeyframeInterval: 10}
}

// DefaultAudio returns 8 kHz mono audio in 800-sample blocks.
func DefaultAudio(serial uint32) *AudioParams {
	return &AudioParams{Serial: serial, Rate: 8000, Channels: 1, BlockSamples: 800}
}

// TheoraHeaders returns identification, comment and setup packets for a
// version 3.2.1 stream.
func TheoraHeaders(p *VideoParams) [][]byte {
	id := make([]byte, 42)
	id[0] = 0x80
	copy(id[1:], "theora")
	id[7], id[8], id[9] = 3, 2, 1
	binary.BigEndian.PutUint16(id[10:], uint16((p.Width+15)/16))
	binary.BigEndian.PutUint16(id[12:], uint16((p.Height+15)/16))
	put24(id[14:], uint32(p.Width))
	put24(id[17:], uint32(p.Height))
	binary.BigEndian.PutUint32(id[22:], p.FPSNum)
	binary.BigEndian.PutUint32(id[26:], p.FPSDen)
	put24(id[30:], 1)
	put24(id[33:], 1)
	binary.BigEndian.PutUint16(id[40:], uint16(32)<<10|uint16(p.Shift)<<5)

	comment := append([]byte{0x81}, "theora"...)
	comment = append(comment, commentBody("oggutil", "TITLE=synthetic")...)

	setup := append([]byte{0x82}, "theora"...)
	setup = append(setup, bytes.Repeat([]byte{0x5A}, 16)...)
	return [][]byte{id, comment, setup}
}

// VorbisHeaders returns identification, comment and setup packets.
func VorbisHeaders(p *AudioParams) [][]byte {
	id := make([]byte, 30)
	id[0] = 0x01
	copy(id[1:], "vorbis")
	id[11] = byte(p.Channels)
	binary.LittleEndian.PutUint32(id[12:], uint32(p.Rate))
	id[28] = 0xB8
	id[29] = 0x01

	comment := append([]byte{0x03}, "vorbis"...)
	comment = append(comment, commentBody("oggutil", "ARTIST=nobody")...)
	comment = append(comment, 0x01)

	setup := append([]byte{0x05}, "vorbis"...)
	setup = append(setup, bytes.Repeat([]byte{0xA5}, 16)...)
	return [][]byte{id, comment, setup}
}

// SkeletonHeaders returns a version 3.0 fishead followed by one fisbone per
// described serial.
func SkeletonHeaders(bones map[uint32]string) [][]byte {
	head := make([]byte, 64)
	copy(head, "fishead\x00")
	binary.LittleEndian.PutUint16(head[8:], 3)
	binary.LittleEndian.PutUint64(head[20:], 1000)
	binary.LittleEndian.PutUint64(head[36:], 1000)
	out := [][]byte{head}

	serials := make([]int, 0, len(bones))
	for s := range bones {
		serials = append(serials, int(s))
	}
	sort.Ints(serials)
	for _, s := range serials {
		bone := make([]byte, 52)
		copy(bone, "fisbone\x00")
		binary.LittleEndian.PutUint32(bone[8:], 44)
		binary.LittleEndian.PutUint32(bone[12:], uint32(s))
		binary.LittleEndian.PutUint32(bone[16:], 1)
		binary.LittleEndian.PutUint64(bone[20:], 1)
		binary.LittleEndian.PutUint64(bone[28:], 1)
		bone = append(bone, fmt.Sprintf("Content-Type: %s\r\n", bones[uint32(s)])...)
		out = append(out, bone)
	}
	return out
}

// VideoPacket returns a data packet for frame number n.
func VideoPacket(n int, keyframe bool, padding int) []byte {
	b := make([]byte, 5, max(5, padding))
	if !keyframe {
		b[0] = 0x40
	}
	binary.BigEndian.PutUint32(b[1:], uint32(n))
	return pad(b, padding)
}

// VideoPacketFrame returns the frame number stored in a VideoPacket.
func VideoPacketFrame(data []byte) int {
	if len(data) < 5 {
		return -1
	}
	return int(binary.BigEndian.Uint32(data[1:5]))
}

// AudioPacket returns a data packet that decodes to samples samples.
func AudioPacket(samples int, padding int) []byte {
	b := make([]byte, 3, max(3, padding))
	binary.LittleEndian.PutUint16(b[1:], uint16(samples))
	return pad(b, padding)
}

// AudioPacketSamples returns the sample count stored in an AudioPacket.
func AudioPacketSamples(data []byte) int {
	if len(data) < 3 {
		return 0
	}
	return int(binary.LittleEndian.Uint16(data[1:3]))
}

type event struct {
	t      float64
	serial uint32
	data   []byte
	gp     int64
}

// Build writes a synthetic file: BOS pages (skeleton first), secondary
// headers, then data packets of both streams interleaved in time order.
func Build(p FileParams) (*File, error) {
	var buf bytes.Buffer
	w := ogg.NewWriter(&buf)
	f := &File{}
	perPage := p.PacketsPerPage
	if perPage <= 0 {
		perPage = 1
	}

	var vh, ah, sh [][]byte
	if p.Skeleton {
		bones := map[uint32]string{}
		if p.Video != nil {
			bones[p.Video.Serial] = "video/theora"
		}
		if p.Audio != nil {
			bones[p.Audio.Serial] = "audio/vorbis"
		}
		sh = SkeletonHeaders(bones)
		if err := writePage(w, p.SkeletonSerial, sh[0]); err != nil {
			return nil, err
		}
	}
	if p.Video != nil {
		vh = TheoraHeaders(p.Video)
		if err := writePage(w, p.Video.Serial, vh[0]); err != nil {
			return nil, err
		}
	}
	if p.Audio != nil {
		ah = VorbisHeaders(p.Audio)
		if err := writePage(w, p.Audio.Serial, ah[0]); err != nil {
			return nil, err
		}
	}
	if p.Skeleton {
		for _, b := range sh[1:] {
			if err := writePage(w, p.SkeletonSerial, b); err != nil {
				return nil, err
			}
		}
	}
	if p.Video != nil {
		if err := writePage(w, p.Video.Serial, vh[1], vh[2]); err != nil {
			return nil, err
		}
	}
	if p.Audio != nil {
		if err := writePage(w, p.Audio.Serial, ah[1], ah[2]); err != nil {
			return nil, err
		}
	}
	if p.Skeleton {
		if err := w.Close(p.SkeletonSerial); err != nil {
			return nil, err
		}
	}
	f.DataOffset = w.Offset()

	var events []event
	if v := p.Video; v != nil {
		interval := v.KeyframeInterval
		if interval <= 0 {
			interval = 1
		}
		frames := int(p.Duration * float64(v.FPSNum) / float64(v.FPSDen))
		var base int64
		for k := 1; k <= frames; k++ {
			key := (k-1)%interval == 0
			if key {
				base = int64(k)
			}
			gp := base<<v.Shift + (int64(k) - base)
			f.VideoGranules = append(f.VideoGranules, gp)
			f.Keyframes = append(f.Keyframes, key)
			events = append(events, event{
				t:      float64(k-1) * float64(v.FPSDen) / float64(v.FPSNum),
				serial: v.Serial,
				data:   VideoPacket(k, key, p.PacketPadding),
				gp:     gp,
			})
		}
		f.VideoFrames = frames
	}
	if a := p.Audio; a != nil {
		total := int64(p.Duration * float64(a.Rate))
		var gp int64
		for gp < total {
			n := int64(a.BlockSamples)
			if gp+n > total {
				n = total - gp
			}
			t := float64(gp) / float64(a.Rate)
			gp += n
			events = append(events, event{
				t:      t,
				serial: a.Serial,
				data:   AudioPacket(int(n), p.PacketPadding),
				gp:     gp,
			})
		}
		f.AudioSamples = gp
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].t < events[j].t })

	counts := map[uint32]int{}
	for _, e := range events {
		if err := w.WritePacket(e.serial, e.data, e.gp); err != nil {
			return nil, err
		}
		counts[e.serial]++
		if counts[e.serial]%perPage == 0 {
			if err := w.Flush(e.serial); err != nil {
				return nil, err
			}
		}
	}
	if p.Video != nil {
		if err := w.Close(p.Video.Serial); err != nil {
			return nil, err
		}
	}
	if p.Audio != nil {
		if err := w.Close(p.Audio.Serial); err != nil {
			return nil, err
		}
	}

	f.Data = buf.Bytes()
	return f, nil
}

func writePage(w *ogg.Writer, serial uint32, packets ...[]byte) error {
	for _, pkt := range packets {
		if err := w.WritePacket(serial, pkt, 0); err != nil {
			return err
		}
	}
	return w.Flush(serial)
}

func commentBody(vendor string, tags ...string) []byte {
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, uint32(len(vendor)))
	b = append(b, vendor...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(tags)))
	for _, t := range tags {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(t)))
		b = append(b, t...)
	}
	return b
}

func put24(b []byte, v uint32) {
	b[0], b[1], b[2] = byte(v>>16), byte(v>>8), byte(v)
}

func pad(b []byte, n int) []byte {
	for len(b) < n {
		b = append(b, byte(len(b)))
	}
	return b
}
