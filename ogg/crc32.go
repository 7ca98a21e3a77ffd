package ogg

// Ogg page checksum: CRC32 with polynomial 0x04C11DB7, zero initial value,
// no reflection and no final xor, computed with the checksum field zeroed.
var crcTable [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

func updateCRC(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// pageChecksum computes the checksum of a page split into header and body.
// Bytes 22..25 of the header are treated as zero.
func pageChecksum(header, body []byte) uint32 {
	var crc uint32
	crc = updateCRC(crc, header[:22])
	crc = updateCRC(crc, []byte{0, 0, 0, 0})
	crc = updateCRC(crc, header[26:])
	return updateCRC(crc, body)
}
