package tcf

import "encoding/binary"

func encodeHeader(h *Header) []byte {
	b := make([]byte, headerSize)
	copy(b[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(b[4:], h.Major)
	binary.LittleEndian.PutUint16(b[6:], h.Minor)
	binary.LittleEndian.PutUint32(b[8:], h.HeaderSize)
	binary.LittleEndian.PutUint32(b[12:], h.ChecksumSize)
	binary.LittleEndian.PutUint32(b[16:], h.RecordCount)
	binary.LittleEndian.PutUint32(b[20:], h.Flags)
	binary.LittleEndian.PutUint64(b[24:], h.PayloadOffset)
	binary.LittleEndian.PutUint64(b[32:], h.PayloadSize)
	binary.LittleEndian.PutUint32(b[40:], h.PayloadCRC)
	binary.LittleEndian.PutUint32(b[44:], h.Reserved)
	return b
}

func decodeHeader(b []byte) (Header, bool) {
	if len(b) < headerSize {
		return Header{}, false
	}
	var h Header
	copy(h.Magic[:], b[0:4])
	h.Major = binary.LittleEndian.Uint16(b[4:])
	h.Minor = binary.LittleEndian.Uint16(b[6:])
	h.HeaderSize = binary.LittleEndian.Uint32(b[8:])
	h.ChecksumSize = binary.LittleEndian.Uint32(b[12:])
	h.RecordCount = binary.LittleEndian.Uint32(b[16:])
	h.Flags = binary.LittleEndian.Uint32(b[20:])
	h.PayloadOffset = binary.LittleEndian.Uint64(b[24:])
	h.PayloadSize = binary.LittleEndian.Uint64(b[32:])
	h.PayloadCRC = binary.LittleEndian.Uint32(b[40:])
	h.Reserved = binary.LittleEndian.Uint32(b[44:])
	return h, true
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
