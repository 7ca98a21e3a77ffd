package codec

import (
	"encoding/binary"
	"errors"
	"strings"
)

var errShortComment = errors.New("truncated comment header")

// Comments holds a Vorbis-style comment header: a vendor string and a list of
// KEY=value tags.
type Comments struct {
	Vendor string
	Tags   []string
}

// Get returns the first value for key, compared case-insensitively.
func (c *Comments) Get(key string) (string, bool) {
	for _, tag := range c.Tags {
		k, v, ok := strings.Cut(tag, "=")
		if ok && strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// ParseComments parses a comment header body (after the 7-byte packet type
// and magic). Vorbis comment headers end with a framing bit.
func ParseComments(data []byte, framing bool) (*Comments, error) {
	vendor, rest, err := readLengthPrefixed(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 4 {
		return nil, errShortComment
	}
	count := binary.LittleEndian.Uint32(rest)
	rest = rest[4:]

	c := &Comments{Vendor: string(vendor)}
	for i := uint32(0); i < count; i++ {
		var tag []byte
		tag, rest, err = readLengthPrefixed(rest)
		if err != nil {
			return nil, err
		}
		c.Tags = append(c.Tags, string(tag))
	}
	if framing && (len(rest) < 1 || rest[0]&0x01 == 0) {
		return nil, errors.New("framing bit not set")
	}
	return c, nil
}

func readLengthPrefixed(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, errShortComment
	}
	n := binary.LittleEndian.Uint32(b)
	b = b[4:]
	if uint64(n) > uint64(len(b)) {
		return nil, nil, errShortComment
	}
	return b[:n], b[n:], nil
}
