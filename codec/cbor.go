package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EncOptions is the deterministic encoding profile used for every structured
// record the store persists. Content addressing hashes the encoded bytes, so
// two logically equal values must always serialize identically: map keys are
// sorted, floats are shortest-form, indefinite lengths are forbidden.
var EncOptions = cbor.CoreDetEncOptions()

// DecOptions rejects duplicate map keys so a hash can never be satisfied by
// two distinct byte strings decoding to the same value.
var DecOptions = cbor.DecOptions{
	DupMapKey: cbor.DupMapKeyEnforcedAPF,
}

// CBORCodec pairs a deterministic encode mode with a strict decode mode.
// The zero value is not usable, construct with NewCBORCodec.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBORCodec() (CBORCodec, error) {
	enc, err := EncOptions.EncMode()
	if err != nil {
		return CBORCodec{}, err
	}
	dec, err := DecOptions.DecMode()
	if err != nil {
		return CBORCodec{}, err
	}
	return CBORCodec{enc: enc, dec: dec}, nil
}

// MarshalCBOR encodes v deterministically.
func (c CBORCodec) MarshalCBOR(v any) ([]byte, error) {
	data, err := c.enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

// UnmarshalCBOR decodes data into v, mapping malformed input onto ErrDecode.
func (c CBORCodec) UnmarshalCBOR(data []byte, v any) error {
	if err := c.dec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
