package gc

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mambisi/contextstore/kvstore"
	"github.com/mambisi/contextstore/merkle"
)

// CycledStore is the generational reference accounting strategy. Each cycle
// records the hashes introduced in it; MarkReused pulls a hash forward into
// the newest cycle. When a cycle ages past the retention threshold, its
// hashes are deleted unless some newer cycle has referenced them since.
//
// The strategy never inspects reachability: entries that stay live only
// through an unchanged interior tree are not found, which is the precision
// the mark sweep strategy exists to recover.
type CycledStore struct {
	mu    sync.RWMutex
	store kvstore.Store
	log   *zap.Logger

	cycleThreshold int
	cycles         []*merkle.HashSet
	stats          []merkle.BackendStats
}

func NewCycledStore(store kvstore.Store, cycleThreshold int, log *zap.Logger) (*CycledStore, error) {
	if cycleThreshold < 1 {
		return nil, fmt.Errorf("cycle threshold must be positive: %d", cycleThreshold)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CycledStore{
		store:          store,
		log:            log,
		cycleThreshold: cycleThreshold,
		cycles:         []*merkle.HashSet{merkle.NewHashSet()},
		stats:          make([]merkle.BackendStats, 1),
	}, nil
}

func (c *CycledStore) Get(hash merkle.EntryHash) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Get(hash[:])
}

func (c *CycledStore) Put(hash merkle.EntryHash, value []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fresh, err := c.store.Put(hash[:], value)
	if err != nil {
		return false, err
	}
	if fresh {
		c.cycles[len(c.cycles)-1].Add(hash)
		cur := &c.stats[len(c.stats)-1]
		cur.KeyBytes += merkle.HashBytes
		cur.ValueBytes += uint64(len(value))
	}
	return fresh, nil
}

func (c *CycledStore) Contains(hash merkle.EntryHash) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Contains(hash[:])
}

func (c *CycledStore) Delete(hash merkle.EntryHash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Delete(hash[:])
}

// MarkReused records hash into the current cycle, keeping it out of the
// reclaimable set for another full retention window.
func (c *CycledStore) MarkReused(hash merkle.EntryHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycles[len(c.cycles)-1].Add(hash)
	c.stats[len(c.stats)-1].ReusedKeyBytes += merkle.HashBytes
}

// StoreCommitTree is a no-op for this strategy: retention is driven purely
// by introduction cycle and reuse notifications.
func (c *CycledStore) StoreCommitTree(commit merkle.EntryHash, reachable *merkle.HashSet) {
}

func (c *CycledStore) StartNewCycle(lastCommit *merkle.EntryHash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cycles = append(c.cycles, merkle.NewHashSet())
	c.stats = append(c.stats, merkle.BackendStats{})
	if len(c.cycles) <= c.cycleThreshold+1 {
		return nil
	}

	aged := c.cycles[0]
	c.cycles = append([]*merkle.HashSet{}, c.cycles[1:]...)

	swept := 0
	for _, h := range aged.Values() {
		if c.referencedSince(h) {
			continue
		}
		if err := c.store.Delete(h[:]); err != nil {
			return fmt.Errorf("cycle delete %s: %w", h, err)
		}
		swept++
	}
	c.log.Info("aged cycle reclaimed",
		zap.Int("introduced", aged.Len()),
		zap.Int("swept", swept),
	)
	return nil
}

func (c *CycledStore) referencedSince(hash merkle.EntryHash) bool {
	for _, cycle := range c.cycles {
		if cycle.Contains(hash) {
			return true
		}
	}
	return false
}

func (c *CycledStore) WaitForGCFinish() {
	c.mu.Lock()
	defer c.mu.Unlock()
}

func (c *CycledStore) Stats() []merkle.BackendStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]merkle.BackendStats, len(c.stats))
	copy(out, c.stats)
	return out
}
