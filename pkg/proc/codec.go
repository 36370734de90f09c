package proc

import "encoding/binary"

// Fixed is the set of fixed width values that can be transferred to and
// from the target. Values are laid out little endian with no padding.
type Fixed interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64 | ~float32 | ~float64
}

// SizeOf returns the width in bytes of T.
func SizeOf[T Fixed]() int {
	var v T
	return binary.Size(v)
}

// EncodeFixed returns the little endian representation of v.
func EncodeFixed[T Fixed](v T) []byte {
	buf := make([]byte, SizeOf[T]())
	_, _ = binary.Encode(buf, binary.LittleEndian, v)
	return buf
}

// DecodeFixed decodes a little endian T from the start of buf.
func DecodeFixed[T Fixed](buf []byte) (T, error) {
	var v T
	_, err := binary.Decode(buf, binary.LittleEndian, &v)
	return v, err
}
