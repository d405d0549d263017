package merkle

import (
	"sync/atomic"
	"time"
)

// opCounter accumulates call counts and total latency for one operation.
// Counters are atomic so read operations can record themselves while holding
// only the read lock.
type opCounter struct {
	count atomic.Uint64
	nanos atomic.Int64
}

func (c *opCounter) snapshot() OpStats {
	return OpStats{
		Count:         c.count.Load(),
		TotalDuration: time.Duration(c.nanos.Load()),
	}
}

// OpStats is a snapshot of the per operation counters.
type OpStats struct {
	Count         uint64
	TotalDuration time.Duration
}

func (o OpStats) AvgDuration() time.Duration {
	if o.Count == 0 {
		return 0
	}
	return o.TotalDuration / time.Duration(o.Count)
}

// Stats aggregates the store's observability counters.
type Stats struct {
	Sets      opCounter
	Gets      opCounter
	Checkouts opCounter
	Commits   opCounter

	newEntries    atomic.Uint64
	newEntryBytes atomic.Uint64
}

// MerkleStats is the snapshot returned to callers.
type MerkleStats struct {
	Sets      OpStats
	Gets      OpStats
	Checkouts OpStats
	Commits   OpStats

	// NewEntries and NewEntryBytes count entries first written by this
	// store instance; deduplicated writes are excluded.
	NewEntries    uint64
	NewEntryBytes uint64

	Backend []BackendStats
}

func (s *MerkleStorage) observe(op *opCounter, start time.Time) {
	op.count.Add(1)
	op.nanos.Add(int64(time.Since(start)))
}

func (s *MerkleStorage) accountPut(valueBytes int) {
	s.stats.newEntries.Add(1)
	s.stats.newEntryBytes.Add(HashBytes + uint64(valueBytes))
}

// GetMerkleStats returns a snapshot of the store and backend counters.
func (s *MerkleStorage) GetMerkleStats() MerkleStats {
	return MerkleStats{
		Sets:          s.stats.Sets.snapshot(),
		Gets:          s.stats.Gets.snapshot(),
		Checkouts:     s.stats.Checkouts.snapshot(),
		Commits:       s.stats.Commits.snapshot(),
		NewEntries:    s.stats.newEntries.Load(),
		NewEntryBytes: s.stats.newEntryBytes.Load(),
		Backend:       s.db.Stats(),
	}
}
