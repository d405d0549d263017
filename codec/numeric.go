package codec

import (
	"encoding/binary"
	"fmt"
)

// Fixed width values are always big endian on disk. Record counts and byte
// offsets are derived arithmetically from file sizes, so the width of each
// encoding below is part of the durable format and must not change.

// Unsigned constrains the fixed width integer widths the store persists.
type Unsigned interface {
	~uint16 | ~uint32 | ~uint64
}

// EncodeUint returns the big endian encoding of v at its natural width.
func EncodeUint[T Unsigned](v T) []byte {
	switch n := any(v).(type) {
	case uint16:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, n)
		return b
	case uint32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, n)
		return b
	default:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v))
		return b
	}
}

// DecodeUint reads a big endian value of exactly the natural width of T.
func DecodeUint[T Unsigned](data []byte) (T, error) {
	var zero T
	switch any(zero).(type) {
	case uint16:
		if len(data) != 2 {
			return zero, fmt.Errorf("%w: want 2 bytes got %d", ErrDecode, len(data))
		}
		return T(binary.BigEndian.Uint16(data)), nil
	case uint32:
		if len(data) != 4 {
			return zero, fmt.Errorf("%w: want 4 bytes got %d", ErrDecode, len(data))
		}
		return T(binary.BigEndian.Uint32(data)), nil
	default:
		if len(data) != 8 {
			return zero, fmt.Errorf("%w: want 8 bytes got %d", ErrDecode, len(data))
		}
		return T(binary.BigEndian.Uint64(data)), nil
	}
}
