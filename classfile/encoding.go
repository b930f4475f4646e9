package classfile

// ---------------------------------------------------------------------------
// Little-endian encoding helpers
// ---------------------------------------------------------------------------

// WriteUint32 writes a uint32 in little-endian order.
func WriteUint32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

// ReadUint32 reads a uint32 in little-endian order.
func ReadUint32(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}
