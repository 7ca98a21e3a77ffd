package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/zsiec/plogg/ogg"
)

var (
	fisheadMagic = []byte("fishead\x00")
	fisboneMagic = []byte("fisbone\x00")
	indexMagic   = []byte("index\x00")
)

// SkeletonHead is the parsed fishead packet.
type SkeletonHead struct {
	VersionMajor    uint16
	VersionMinor    uint16
	PresentationNum int64
	PresentationDen int64
	BasetimeNum     int64
	BasetimeDen     int64
	SegmentLength   uint64 // version 4 and later
	ContentOffset   uint64 // version 4 and later
}

// SkeletonBone is the parsed fisbone packet describing another stream.
type SkeletonBone struct {
	Serial         uint32
	GranuleNum     int64
	GranuleDen     int64
	BaseGranule    int64
	Preroll        uint32
	GranuleShift   uint8
	MessageHeaders map[string]string
}

// Skeleton is the codec state of a Skeleton metadata stream.
type Skeleton struct {
	Head    *SkeletonHead
	Bones   []SkeletonBone
	Indexes int
}

// Kind implements State.
func (*Skeleton) Kind() Kind { return KindSkeleton }
func (*Skeleton) isState()   {}

// IsSkeletonHeader reports whether data is a Skeleton fishead packet.
func IsSkeletonHeader(data []byte) bool {
	return bytes.HasPrefix(data, fisheadMagic)
}

func (s *Skeleton) headerIn(pkt *ogg.Packet) (bool, error) {
	data := pkt.Data
	switch {
	case bytes.HasPrefix(data, fisheadMagic):
		head, err := parseFishead(data)
		if err != nil {
			return false, err
		}
		s.Head = head
		return false, nil
	case bytes.HasPrefix(data, fisboneMagic):
		bone, err := parseFisbone(data)
		if err != nil {
			return false, err
		}
		s.Bones = append(s.Bones, *bone)
		return false, nil
	case bytes.HasPrefix(data, indexMagic):
		s.Indexes++
		return false, nil
	case pkt.EOS || len(data) == 0:
		return false, nil
	}
	return true, nil
}

// Bone returns the fisbone describing the stream with the given serial.
func (s *Skeleton) Bone(serial uint32) (SkeletonBone, bool) {
	for _, b := range s.Bones {
		if b.Serial == serial {
			return b, true
		}
	}
	return SkeletonBone{}, false
}

func parseFishead(data []byte) (*SkeletonHead, error) {
	if len(data) < 64 {
		return nil, &HeaderError{Codec: "skeleton", Field: "fishead", Err: fmt.Errorf("%d bytes, need 64", len(data))}
	}
	le := binary.LittleEndian
	h := &SkeletonHead{
		VersionMajor:    le.Uint16(data[8:10]),
		VersionMinor:    le.Uint16(data[10:12]),
		PresentationNum: int64(le.Uint64(data[12:20])),
		PresentationDen: int64(le.Uint64(data[20:28])),
		BasetimeNum:     int64(le.Uint64(data[28:36])),
		BasetimeDen:     int64(le.Uint64(data[36:44])),
	}
	if h.VersionMajor >= 4 && len(data) >= 80 {
		h.SegmentLength = le.Uint64(data[64:72])
		h.ContentOffset = le.Uint64(data[72:80])
	}
	return h, nil
}

func parseFisbone(data []byte) (*SkeletonBone, error) {
	if len(data) < 52 {
		return nil, &HeaderError{Codec: "skeleton", Field: "fisbone", Err: fmt.Errorf("%d bytes, need 52", len(data))}
	}
	le := binary.LittleEndian
	b := &SkeletonBone{
		Serial:         le.Uint32(data[12:16]),
		GranuleNum:     int64(le.Uint64(data[20:28])),
		GranuleDen:     int64(le.Uint64(data[28:36])),
		BaseGranule:    int64(le.Uint64(data[36:44])),
		Preroll:        le.Uint32(data[44:48]),
		GranuleShift:   data[48],
		MessageHeaders: make(map[string]string),
	}
	start := 8 + int(le.Uint32(data[8:12]))
	if start > len(data) {
		return nil, &HeaderError{Codec: "skeleton", Field: "fisbone", Err: fmt.Errorf("message header offset %d beyond packet", start)}
	}
	for _, line := range strings.Split(string(data[start:]), "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		b.MessageHeaders[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return b, nil
}
