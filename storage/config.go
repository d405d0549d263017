package storage

import (
	"errors"
	"fmt"

	"github.com/mambisi/contextstore/commitlog"
)

// BackendKind selects the raw key value store under the merkle backend.
type BackendKind int

const (
	// BackendMemory keeps everything in process memory. Useful for tests
	// and replay tooling.
	BackendMemory BackendKind = iota
	// BackendSQLite persists entries in a single sqlite database file
	// inside the storage directory.
	BackendSQLite
)

// GCKind selects the garbage collection strategy layered over the raw store.
type GCKind int

const (
	// GCMarkSweep batches per-commit reachability records and reclaims by
	// marking from every retained commit.
	GCMarkSweep GCKind = iota
	// GCCycled keeps per-cycle introduction sets and drops whole aged
	// cycles, pulling forward anything referenced since.
	GCCycled
)

const (
	DefaultCycleThreshold    = 7
	DefaultCycleBlockCount   = 4096
	DefaultSequenceBatchSize = 1000
)

var (
	ErrCycleThreshold  = errors.New("gc cycle threshold must be at least 1")
	ErrCycleBlockCount = errors.New("gc cycle block count must be at least 1")
)

// Config describes everything Open needs to assemble a storage instance.
type Config struct {
	Backend BackendKind
	GC      GCKind

	// CycleThreshold is how many full cycles stay reachable before the
	// oldest becomes a candidate for collection.
	CycleThreshold int
	// CycleBlockCount is how many commits make up one cycle.
	CycleBlockCount int

	// CommitLogs names the append-only logs registered at open time.
	CommitLogs []commitlog.Descriptor

	// SequenceBatchSize is how many IDs a sequence generator reserves per
	// store round trip.
	SequenceBatchSize uint64
}

// DefaultConfig returns a persistent sqlite + mark sweep configuration.
func DefaultConfig() Config {
	return Config{
		Backend:           BackendSQLite,
		GC:                GCMarkSweep,
		CycleThreshold:    DefaultCycleThreshold,
		CycleBlockCount:   DefaultCycleBlockCount,
		SequenceBatchSize: DefaultSequenceBatchSize,
	}
}

func (c Config) validate() error {
	if c.CycleThreshold < 1 {
		return ErrCycleThreshold
	}
	if c.CycleBlockCount < 1 {
		return ErrCycleBlockCount
	}
	if c.SequenceBatchSize < 1 {
		return fmt.Errorf("sequence batch size must be at least 1, got %d", c.SequenceBatchSize)
	}
	return nil
}
