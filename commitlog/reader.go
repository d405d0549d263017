package commitlog

import (
	"fmt"
	"os"
)

// Reader serves range reads against an immutable snapshot of a log: the
// index captured at ToReader time and a read-only handle on the data file.
// Reads are safe concurrently; ReadAt carries no seek state.
type Reader struct {
	indexes  []Index
	dataFile *os.File
}

func NewReader(indexes []Index, dataFile *os.File) *Reader {
	return &Reader{indexes: indexes, dataFile: dataFile}
}

// Indexes returns the definitive record of what exists in the snapshot.
func (r *Reader) Indexes() []Index {
	out := make([]Index, len(r.indexes))
	copy(out, r.indexes)
	return out
}

func (r *Reader) Count() uint64 {
	return uint64(len(r.indexes))
}

// Range reads limit records starting at record index from in a single I/O
// call and returns them as a MessageSet. The bounds check is phrased to stay
// correct when from+limit overflows a uint64.
func (r *Reader) Range(from, limit uint64) (*MessageSet, error) {
	count := uint64(len(r.indexes))
	if from > count || limit > count-from {
		return nil, fmt.Errorf("%w: [%d, +%d) of %d records", ErrOutOfRange, from, limit, count)
	}
	rng := make([]Index, limit)
	copy(rng, r.indexes[from:from+limit])

	var total uint64
	for _, idx := range rng {
		total += idx.Length
	}
	data := make([]byte, total)
	if total > 0 {
		if _, err := r.dataFile.ReadAt(data, int64(rng[0].Position)); err != nil {
			return nil, err
		}
	}
	return NewMessageSet(rng, data), nil
}

func (r *Reader) Close() error {
	return r.dataFile.Close()
}
