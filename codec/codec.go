// Package codec defines the binary encode/decode contract shared by every
// storage layer in this module. All on-disk formats route through it so the
// persisted layout is decoupled from the in-memory representation.
package codec

import "errors"

var (
	// ErrEncode indicates a value could not be serialized. This is a
	// resource or serialization fault, never a data fault.
	ErrEncode = errors.New("failed to encode value")
	// ErrDecode indicates the input bytes are malformed for the requested
	// type. Callers may treat the offending record as corrupt and continue.
	ErrDecode = errors.New("failed to decode value")
)

// Encoder is implemented by values that know their own binary format.
type Encoder interface {
	Encode() ([]byte, error)
}

// Decoder is implemented by values that can reconstruct themselves from
// their binary format. Implementations use a pointer receiver.
type Decoder interface {
	Decode(data []byte) error
}

// Codec is the combined contract required of anything stored durably.
type Codec interface {
	Encoder
	Decoder
}
