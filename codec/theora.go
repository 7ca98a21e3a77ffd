package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	theoraIdentHeader   = 0x80
	theoraCommentHeader = 0x81
	theoraSetupHeader   = 0x82
	theoraIdentLen      = 42
)

var theoraMagic = []byte("theora")

// TheoraInfo holds the fields of a Theora identification header.
type TheoraInfo struct {
	VersionMajor    uint8
	VersionMinor    uint8
	VersionRevision uint8

	FrameWidth    uint32
	FrameHeight   uint32
	PictureWidth  uint32
	PictureHeight uint32
	PictureX      uint32
	PictureY      uint32

	FPSNumerator      uint32
	FPSDenominator    uint32
	AspectNumerator   uint32
	AspectDenominator uint32

	ColorSpace           uint8
	TargetBitrate        uint32
	Quality              uint8
	KeyframeGranuleShift uint8
	PixelFormat          uint8
}

// Theora is the codec state of a Theora video stream.
type Theora struct {
	Info     TheoraInfo
	Comments *Comments
	// Headers holds copies of the three header packets, in order, for the
	// pixel decoder's setup.
	Headers [][]byte

	headers int
}

// Kind implements State.
func (*Theora) Kind() Kind { return KindTheora }
func (*Theora) isState()   {}

// IsTheoraHeader reports whether data is a Theora header packet.
func IsTheoraHeader(data []byte) bool {
	return len(data) >= 7 && data[0]&0x80 != 0 && bytes.Equal(data[1:7], theoraMagic)
}

// TheoraIsKeyframe reports whether a Theora data packet is an intra frame.
// Zero-length packets repeat the previous frame and are not keyframes.
func TheoraIsKeyframe(data []byte) bool {
	return len(data) > 0 && data[0]&0x80 == 0 && data[0]&0x40 == 0
}

func (t *Theora) headerIn(data []byte) (bool, error) {
	if len(data) > 0 && data[0]&0x80 == 0 {
		if t.headers < 3 {
			return false, fmt.Errorf("%w: theora data before setup header", ErrHeaderOrder)
		}
		return true, nil
	}
	if len(data) == 0 {
		if t.headers < 3 {
			return false, fmt.Errorf("%w: empty theora packet before setup header", ErrHeaderOrder)
		}
		return true, nil
	}
	if !IsTheoraHeader(data) {
		return false, ErrNotFormat
	}

	switch data[0] {
	case theoraIdentHeader:
		if t.headers != 0 {
			return false, fmt.Errorf("%w: repeated theora identification header", ErrHeaderOrder)
		}
		info, err := ParseTheoraIdentification(data)
		if err != nil {
			return false, err
		}
		t.Info = *info
	case theoraCommentHeader:
		if t.headers != 1 {
			return false, fmt.Errorf("%w: theora comment header at position %d", ErrHeaderOrder, t.headers)
		}
		c, err := ParseComments(data[7:], false)
		if err != nil {
			return false, &HeaderError{Codec: "theora", Field: "comment", Err: err}
		}
		t.Comments = c
	case theoraSetupHeader:
		if t.headers != 2 {
			return false, fmt.Errorf("%w: theora setup header at position %d", ErrHeaderOrder, t.headers)
		}
	default:
		return false, &HeaderError{Codec: "theora", Field: "type", Err: fmt.Errorf("unknown header type %#x", data[0])}
	}
	t.headers++
	t.Headers = append(t.Headers, append([]byte(nil), data...))
	return false, nil
}

// ParseTheoraIdentification parses a Theora identification header packet.
func ParseTheoraIdentification(data []byte) (*TheoraInfo, error) {
	if len(data) < theoraIdentLen {
		return nil, &HeaderError{Codec: "theora", Field: "identification", Err: fmt.Errorf("%d bytes, need %d", len(data), theoraIdentLen)}
	}
	if data[0] != theoraIdentHeader || !bytes.Equal(data[1:7], theoraMagic) {
		return nil, ErrNotFormat
	}

	info := &TheoraInfo{
		VersionMajor:      data[7],
		VersionMinor:      data[8],
		VersionRevision:   data[9],
		FrameWidth:        uint32(binary.BigEndian.Uint16(data[10:12])) << 4,
		FrameHeight:       uint32(binary.BigEndian.Uint16(data[12:14])) << 4,
		PictureWidth:      be24(data[14:17]),
		PictureHeight:     be24(data[17:20]),
		PictureX:          uint32(data[20]),
		PictureY:          uint32(data[21]),
		FPSNumerator:      binary.BigEndian.Uint32(data[22:26]),
		FPSDenominator:    binary.BigEndian.Uint32(data[26:30]),
		AspectNumerator:   be24(data[30:33]),
		AspectDenominator: be24(data[33:36]),
		ColorSpace:        data[36],
		TargetBitrate:     be24(data[37:40]),
	}
	tail := binary.BigEndian.Uint16(data[40:42])
	info.Quality = uint8(tail >> 10)
	info.KeyframeGranuleShift = uint8(tail>>5) & 0x1F
	info.PixelFormat = uint8(tail>>3) & 0x03

	if info.VersionMajor != 3 || info.VersionMinor > 2 {
		return nil, &HeaderError{Codec: "theora", Field: "version", Err: fmt.Errorf("unsupported %d.%d.%d", info.VersionMajor, info.VersionMinor, info.VersionRevision)}
	}
	if info.FPSNumerator == 0 || info.FPSDenominator == 0 {
		return nil, &HeaderError{Codec: "theora", Field: "frame rate", Err: fmt.Errorf("%d/%d", info.FPSNumerator, info.FPSDenominator)}
	}
	if info.PictureWidth+info.PictureX > info.FrameWidth || info.PictureHeight+info.PictureY > info.FrameHeight {
		return nil, &HeaderError{Codec: "theora", Field: "picture region", Err: fmt.Errorf("%dx%d+%d+%d exceeds %dx%d",
			info.PictureWidth, info.PictureHeight, info.PictureX, info.PictureY, info.FrameWidth, info.FrameHeight)}
	}
	return info, nil
}

func be24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// Shift returns the keyframe granule shift.
func (t *Theora) Shift() uint {
	return uint(t.Info.KeyframeGranuleShift)
}

// FrameDuration returns the duration of one frame in seconds.
func (t *Theora) FrameDuration() float64 {
	return float64(t.Info.FPSDenominator) / float64(t.Info.FPSNumerator)
}

// FrameUnits returns the frame position encoded in a granule: the keyframe
// number plus the frames since that keyframe.
func (t *Theora) FrameUnits(granule int64) int64 {
	iframe := granule >> t.Shift()
	return iframe + (granule - iframe<<t.Shift())
}

// EncodeGranule builds a granule position for the frame at units whose
// most recent keyframe is at base.
func (t *Theora) EncodeGranule(base, units int64) int64 {
	return base<<t.Shift() + (units - base)
}

// KeyframeGranule returns the granule of the keyframe a granule refers to.
func (t *Theora) KeyframeGranule(granule int64) int64 {
	return (granule >> t.Shift()) << t.Shift()
}

// GranuleFrame returns the zero-based frame index for a granule position,
// or -1 for an unknown granule. Bitstreams from 3.2.1 on store a frame count
// rather than an index.
func (t *Theora) GranuleFrame(granule int64) int64 {
	if granule < 0 {
		return -1
	}
	frame := t.FrameUnits(granule)
	if t.versionAtLeast(3, 2, 1) {
		frame--
	}
	return frame
}

// GranuleTime returns the end of the display interval of the frame at
// granule, in seconds.
func (t *Theora) GranuleTime(granule int64) float64 {
	if granule < 0 {
		return -1
	}
	return float64(t.GranuleFrame(granule)+1) * float64(t.Info.FPSDenominator) / float64(t.Info.FPSNumerator)
}

func (t *Theora) versionAtLeast(major, minor, rev uint8) bool {
	i := t.Info
	if i.VersionMajor != major {
		return i.VersionMajor > major
	}
	if i.VersionMinor != minor {
		return i.VersionMinor > minor
	}
	return i.VersionRevision >= rev
}
