package commitlog

import (
	"fmt"

	"github.com/mambisi/contextstore/codec"
)

// Location precisely identifies one record in a commit log: its zero based
// record index and its byte length.
type Location struct {
	Offset uint64
	Length uint64
}

func (l Location) String() string {
	return fmt.Sprintf("Location(%d,%d)", l.Offset, l.Length)
}

// IsConsecutive reports whether l immediately follows prev.
func (l Location) IsConsecutive(prev Location) bool {
	return prev.Offset < l.Offset && l.Offset-prev.Offset == 1
}

// Encode serializes the location as two big endian u64 fields, so locations
// can themselves be persisted in other stores.
func (l Location) Encode() ([]byte, error) {
	out := make([]byte, 0, IndexRecordBytes)
	out = append(out, codec.EncodeUint(l.Offset)...)
	out = append(out, codec.EncodeUint(l.Length)...)
	return out, nil
}

func (l *Location) Decode(data []byte) error {
	if len(data) != IndexRecordBytes {
		return fmt.Errorf("%w: location must be %d bytes, got %d", codec.ErrDecode, IndexRecordBytes, len(data))
	}
	offset, err := codec.DecodeUint[uint64](data[:8])
	if err != nil {
		return err
	}
	length, err := codec.DecodeUint[uint64](data[8:])
	if err != nil {
		return err
	}
	l.Offset = offset
	l.Length = length
	return nil
}

// Range identifies several consecutive records read in one I/O call: the
// first record index, the total byte length, and the record count.
type Range struct {
	Offset uint64
	Length uint64
	Count  uint32
}

// FoldConsecutiveLocations merges runs of index-adjacent single locations
// into multi record ranges, preserving input order. Non-adjacent locations
// are never merged; a location is adjacent when its record index is exactly
// one past the previous location's.
func FoldConsecutiveLocations(locations []Location) []Range {
	if len(locations) == 0 {
		return nil
	}
	ranges := make([]Range, 0, len(locations))
	prev := locations[0]
	r := Range{Offset: prev.Offset, Length: prev.Length, Count: 1}
	for _, cur := range locations[1:] {
		if cur.IsConsecutive(prev) {
			r.Length += cur.Length
			r.Count++
		} else {
			ranges = append(ranges, r)
			r = Range{Offset: cur.Offset, Length: cur.Length, Count: 1}
		}
		prev = cur
	}
	return append(ranges, r)
}

// Logged is the typed wrapper over one named log: values are encoded with
// the deterministic CBOR codec on append and decoded on read.
type Logged[V any] struct {
	logs  *Logs
	name  string
	codec codec.CBORCodec
}

func NewLogged[V any](logs *Logs, name string) (*Logged[V], error) {
	c, err := codec.NewCBORCodec()
	if err != nil {
		return nil, err
	}
	return &Logged[V]{logs: logs, name: name, codec: c}, nil
}

// Append encodes value and appends it to the underlying log.
func (t *Logged[V]) Append(value V) (Location, error) {
	data, err := t.codec.MarshalCBOR(value)
	if err != nil {
		return Location{}, err
	}
	return t.logs.Append(t.name, data)
}

// Get retrieves and decodes the record at loc.
func (t *Logged[V]) Get(loc Location) (V, error) {
	var value V
	data, err := t.logs.Get(t.name, loc)
	if err != nil {
		return value, err
	}
	if err := t.codec.UnmarshalCBOR(data, &value); err != nil {
		return value, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	return value, nil
}

// GetRange retrieves and decodes the consecutive records covered by r.
func (t *Logged[V]) GetRange(r Range) ([]V, error) {
	msgs, err := t.logs.GetRange(t.name, r)
	if err != nil {
		return nil, err
	}
	out := make([]V, 0, len(msgs))
	for _, msg := range msgs {
		var value V
		if err := t.codec.UnmarshalCBOR(msg, &value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
		}
		out = append(out, value)
	}
	return out, nil
}
