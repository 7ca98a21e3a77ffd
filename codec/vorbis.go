package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	vorbisIdentHeader   = 0x01
	vorbisCommentHeader = 0x03
	vorbisSetupHeader   = 0x05
	vorbisIdentLen      = 30
)

var vorbisMagic = []byte("vorbis")

// VorbisInfo holds the fields of a Vorbis identification header.
type VorbisInfo struct {
	Version        uint32
	Channels       int
	SampleRate     int
	BitrateMaximum int32
	BitrateNominal int32
	BitrateMinimum int32
	BlockSize0     int
	BlockSize1     int
}

// Vorbis is the codec state of a Vorbis audio stream.
type Vorbis struct {
	Info     VorbisInfo
	Comments *Comments
	// Headers holds copies of the three header packets, in order, for the
	// sample decoder's setup.
	Headers [][]byte

	headers int
}

// Kind implements State.
func (*Vorbis) Kind() Kind { return KindVorbis }
func (*Vorbis) isState()   {}

// IsVorbisHeader reports whether data is a Vorbis header packet.
func IsVorbisHeader(data []byte) bool {
	return len(data) >= 7 && data[0]&0x01 != 0 && bytes.Equal(data[1:7], vorbisMagic)
}

func (v *Vorbis) headerIn(data []byte) (bool, error) {
	if !IsVorbisHeader(data) {
		if v.headers < 3 {
			return false, fmt.Errorf("%w: vorbis data before setup header", ErrHeaderOrder)
		}
		return true, nil
	}

	switch data[0] {
	case vorbisIdentHeader:
		if v.headers != 0 {
			return false, fmt.Errorf("%w: repeated vorbis identification header", ErrHeaderOrder)
		}
		info, err := ParseVorbisIdentification(data)
		if err != nil {
			return false, err
		}
		v.Info = *info
	case vorbisCommentHeader:
		if v.headers != 1 {
			return false, fmt.Errorf("%w: vorbis comment header at position %d", ErrHeaderOrder, v.headers)
		}
		c, err := ParseComments(data[7:], true)
		if err != nil {
			return false, &HeaderError{Codec: "vorbis", Field: "comment", Err: err}
		}
		v.Comments = c
	case vorbisSetupHeader:
		if v.headers != 2 {
			return false, fmt.Errorf("%w: vorbis setup header at position %d", ErrHeaderOrder, v.headers)
		}
	default:
		return false, &HeaderError{Codec: "vorbis", Field: "type", Err: fmt.Errorf("unknown header type %#x", data[0])}
	}
	v.headers++
	v.Headers = append(v.Headers, append([]byte(nil), data...))
	return false, nil
}

// ParseVorbisIdentification parses a Vorbis identification header packet.
func ParseVorbisIdentification(data []byte) (*VorbisInfo, error) {
	if len(data) < vorbisIdentLen {
		return nil, &HeaderError{Codec: "vorbis", Field: "identification", Err: fmt.Errorf("%d bytes, need %d", len(data), vorbisIdentLen)}
	}
	if data[0] != vorbisIdentHeader || !bytes.Equal(data[1:7], vorbisMagic) {
		return nil, ErrNotFormat
	}

	info := &VorbisInfo{
		Version:        binary.LittleEndian.Uint32(data[7:11]),
		Channels:       int(data[11]),
		SampleRate:     int(binary.LittleEndian.Uint32(data[12:16])),
		BitrateMaximum: int32(binary.LittleEndian.Uint32(data[16:20])),
		BitrateNominal: int32(binary.LittleEndian.Uint32(data[20:24])),
		BitrateMinimum: int32(binary.LittleEndian.Uint32(data[24:28])),
		BlockSize0:     1 << (data[28] & 0x0F),
		BlockSize1:     1 << (data[28] >> 4),
	}

	switch {
	case info.Version != 0:
		return nil, &HeaderError{Codec: "vorbis", Field: "version", Err: fmt.Errorf("unsupported %d", info.Version)}
	case info.Channels == 0:
		return nil, &HeaderError{Codec: "vorbis", Field: "channels", Err: fmt.Errorf("zero channels")}
	case info.SampleRate == 0:
		return nil, &HeaderError{Codec: "vorbis", Field: "sample rate", Err: fmt.Errorf("zero sample rate")}
	case data[29]&0x01 == 0:
		return nil, &HeaderError{Codec: "vorbis", Field: "framing", Err: fmt.Errorf("framing bit not set")}
	}
	return info, nil
}

// GranuleTime returns the time in seconds of the sample at granule.
func (v *Vorbis) GranuleTime(granule int64) float64 {
	if granule < 0 || v.Info.SampleRate == 0 {
		return -1
	}
	return float64(granule) / float64(v.Info.SampleRate)
}
