// Package sequence provides named monotonic ID generators backed by the raw
// key value store. Generators hand out IDs from a preallocated batch and only
// touch the store when a batch is exhausted, so the common path is a single
// mutex acquisition.
package sequence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mambisi/contextstore/codec"
	"github.com/mambisi/contextstore/kvstore"
)

var (
	ErrBatchSize = errors.New("sequence batch size must be at least 1")
)

const keyPrefix = "seq/"

// Sequences owns the set of named generators sharing one store. Asking twice
// for the same name returns the same generator, so IDs stay unique per name
// within a process.
type Sequences struct {
	store     kvstore.Store
	batchSize uint64

	mu         sync.Mutex
	generators map[string]*Generator
}

func NewSequences(store kvstore.Store, batchSize uint64) (*Sequences, error) {
	if batchSize < 1 {
		return nil, ErrBatchSize
	}
	return &Sequences{
		store:      store,
		batchSize:  batchSize,
		generators: make(map[string]*Generator),
	}, nil
}

// Generator returns the generator for name, creating it on first use.
func (s *Sequences) Generator(name string) *Generator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.generators[name]; ok {
		return g
	}
	g := &Generator{
		store:     s.store,
		key:       []byte(keyPrefix + name),
		batchSize: s.batchSize,
	}
	s.generators[name] = g
	return g
}

// Generator hands out strictly increasing uint64 IDs. The persisted value is
// the first ID of the next unallocated batch, so a crash can skip IDs but
// never repeat them.
type Generator struct {
	mu        sync.Mutex
	store     kvstore.Store
	key       []byte
	batchSize uint64

	next    uint64
	ceiling uint64
}

func (g *Generator) NextID() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next >= g.ceiling {
		if err := g.allocateBatch(); err != nil {
			return 0, err
		}
	}
	id := g.next
	g.next++
	return id, nil
}

// allocateBatch reserves the next batchSize IDs by persisting the new high
// water mark before any of them is handed out.
func (g *Generator) allocateBatch() error {
	data, err := g.store.Get(g.key)
	if err != nil {
		return fmt.Errorf("read sequence %q: %w", g.key, err)
	}
	var base uint64
	if data != nil {
		base, err = codec.DecodeUint[uint64](data)
		if err != nil {
			return fmt.Errorf("decode sequence %q: %w", g.key, err)
		}
	}
	if _, err := g.store.Put(g.key, codec.EncodeUint(base+g.batchSize)); err != nil {
		return fmt.Errorf("persist sequence %q: %w", g.key, err)
	}
	g.next = base
	g.ceiling = base + g.batchSize
	return nil
}
