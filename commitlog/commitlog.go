// Package commitlog implements a durable append-only log for large
// immutable records. Each named log is a file pair under its own
// subdirectory: a data file holding the raw concatenation of payload bytes
// in write order, and an index file holding one fixed width record per
// write. Record counts, byte offsets and lengths are all derivable from the
// index file alone.
package commitlog

import (
	"errors"
	"fmt"
	"math"

	"github.com/mambisi/contextstore/codec"
)

const (
	IndexFileName = "index"
	DataFileName  = "data"

	// IndexRecordBytes is the fixed width of one index record:
	// position:u64 || length:u64, big endian.
	IndexRecordBytes = 16

	// MaxPayloadBytes bounds a single record. The index length field is 64
	// bits wide, but a single read materializes whole records in memory, so
	// records are capped well below the representable size.
	MaxPayloadBytes = math.MaxUint32
)

var (
	ErrOutOfRange       = errors.New("the requested record range exceeds the log")
	ErrPayloadTooLarge  = errors.New("the payload exceeds the maximum record size")
	ErrPathNotDirectory = errors.New("the commit log path exists and is not a directory")
	ErrMissingLog       = errors.New("no commit log is registered under the name")
	ErrCorruptData      = errors.New("the stored record failed to decode")
)

// Index locates one record inside the data file.
type Index struct {
	// Position is the byte offset of the record in the data file.
	Position uint64
	// Length is the record's size in bytes.
	Length uint64
}

func (i Index) encode() []byte {
	out := make([]byte, 0, IndexRecordBytes)
	out = append(out, codec.EncodeUint(i.Position)...)
	out = append(out, codec.EncodeUint(i.Length)...)
	return out
}

func decodeIndex(data []byte) (Index, error) {
	if len(data) != IndexRecordBytes {
		return Index{}, fmt.Errorf("%w: index record must be %d bytes, got %d", codec.ErrDecode, IndexRecordBytes, len(data))
	}
	pos, err := codec.DecodeUint[uint64](data[:8])
	if err != nil {
		return Index{}, err
	}
	length, err := codec.DecodeUint[uint64](data[8:])
	if err != nil {
		return Index{}, err
	}
	return Index{Position: pos, Length: length}, nil
}

// MessageSet is one contiguous raw read of the data file paired with the
// index records needed to split it back into messages.
type MessageSet struct {
	indexes []Index
	data    []byte
}

func NewMessageSet(indexes []Index, data []byte) *MessageSet {
	return &MessageSet{indexes: indexes, data: data}
}

func (m *MessageSet) Indexes() []Index {
	out := make([]Index, len(m.indexes))
	copy(out, m.indexes)
	return out
}

// Bytes returns the raw contiguous read.
func (m *MessageSet) Bytes() []byte {
	return m.data
}

func (m *MessageSet) Count() int {
	return len(m.indexes)
}

// Messages splits the raw read back into the individual records.
func (m *MessageSet) Messages() ([][]byte, error) {
	if len(m.indexes) == 0 {
		return nil, nil
	}
	base := m.indexes[0].Position
	out := make([][]byte, 0, len(m.indexes))
	for _, idx := range m.indexes {
		start := idx.Position - base
		end := start + idx.Length
		if idx.Position < base || end > uint64(len(m.data)) {
			return nil, fmt.Errorf("%w: index record outside read range", ErrCorruptData)
		}
		out = append(out, m.data[start:end])
	}
	return out, nil
}
