// Package storage assembles the persistent context store: a raw key value
// backend, a garbage collected merkle backend over it, the merkle working
// tree, the named commit logs and the ID sequences, all opened under one
// directory and torn down together.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mambisi/contextstore/codec"
	"github.com/mambisi/contextstore/commitlog"
	"github.com/mambisi/contextstore/gc"
	"github.com/mambisi/contextstore/kvstore"
	"github.com/mambisi/contextstore/merkle"
	"github.com/mambisi/contextstore/sequence"
)

var ErrClosed = errors.New("the storage has been shut down")

const (
	sqliteFileName   = "context.db"
	commitLogDirName = "commit_logs"
)

// PersistentStorage bundles the storage subsystems opened from one directory.
type PersistentStorage struct {
	log *zap.Logger

	kv      kvstore.Store
	backend merkle.Backend
	tree    *merkle.MerkleStorage
	clogs   *commitlog.Logs
	seqs    *sequence.Sequences

	mu     sync.Mutex
	closed bool
}

// Open creates dir if necessary and wires the configured backend, garbage
// collector, merkle storage, commit logs and sequences.
func Open(dir string, cfg Config, opts ...Option) (*PersistentStorage, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	options := &openOptions{log: zap.NewNop()}
	for _, o := range opts {
		o(options)
	}
	log := options.log

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	kv, err := openBackend(dir, cfg.Backend)
	if err != nil {
		return nil, err
	}

	backend, err := openGC(kv, cfg, log)
	if err != nil {
		kv.Close()
		return nil, err
	}

	c, err := codec.NewCBORCodec()
	if err != nil {
		kv.Close()
		return nil, err
	}

	clogs, err := commitlog.NewLogs(filepath.Join(dir, commitLogDirName), cfg.CommitLogs, log)
	if err != nil {
		kv.Close()
		return nil, err
	}

	seqs, err := sequence.NewSequences(kv, cfg.SequenceBatchSize)
	if err != nil {
		clogs.Close()
		kv.Close()
		return nil, err
	}

	log.Info("storage opened",
		zap.String("dir", dir),
		zap.Int("backend", int(cfg.Backend)),
		zap.Int("gc", int(cfg.GC)),
		zap.Int("commit_logs", len(cfg.CommitLogs)),
	)

	return &PersistentStorage{
		log:     log,
		kv:      kv,
		backend: backend,
		tree:    merkle.NewMerkleStorage(backend, c, log),
		clogs:   clogs,
		seqs:    seqs,
	}, nil
}

func openBackend(dir string, kind BackendKind) (kvstore.Store, error) {
	switch kind {
	case BackendMemory:
		return kvstore.NewMemoryStore(), nil
	case BackendSQLite:
		return kvstore.OpenSQLiteStore(filepath.Join(dir, sqliteFileName))
	default:
		return nil, fmt.Errorf("unknown backend kind %d", kind)
	}
}

func openGC(kv kvstore.Store, cfg Config, log *zap.Logger) (merkle.Backend, error) {
	switch cfg.GC {
	case GCMarkSweep:
		return gc.NewMarkSweepStore(kv, cfg.CycleThreshold, cfg.CycleBlockCount, log)
	case GCCycled:
		return gc.NewCycledStore(kv, cfg.CycleThreshold, log)
	default:
		return nil, fmt.Errorf("unknown gc kind %d", cfg.GC)
	}
}

// Merkle returns the working tree.
func (p *PersistentStorage) Merkle() *merkle.MerkleStorage { return p.tree }

// KV returns the raw key value store shared by the subsystems.
func (p *PersistentStorage) KV() kvstore.Store { return p.kv }

// CommitLogs returns the registered append-only logs.
func (p *PersistentStorage) CommitLogs() *commitlog.Logs { return p.clogs }

// Sequences returns the named ID generators.
func (p *PersistentStorage) Sequences() *sequence.Sequences { return p.seqs }

// Flush pushes buffered state in every subsystem to disk. Failures are
// aggregated rather than short circuited so one bad log does not hide the
// state of the others.
func (p *PersistentStorage) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	err := multierr.Append(p.clogs.Flush(), p.kv.Flush())
	if err != nil {
		p.log.Error("storage flush", zap.Error(err))
	}
	return err
}

// Close waits for any running collection, flushes and releases every
// subsystem. Calling Close twice returns ErrClosed.
func (p *PersistentStorage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true

	p.tree.WaitForGCFinish()
	err := multierr.Append(p.clogs.Close(), p.kv.Close())
	if err != nil {
		p.log.Error("storage close", zap.Error(err))
		return err
	}
	p.log.Info("storage closed")
	return nil
}
