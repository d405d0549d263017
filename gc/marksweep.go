package gc

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mambisi/contextstore/codec"
	"github.com/mambisi/contextstore/kvstore"
	"github.com/mambisi/contextstore/merkle"
)

// commitRecord is the per commit entry of the cycle window: the commit hash
// and the full set of hashes reachable from it, as registered by
// StoreCommitTree.
type commitRecord struct {
	commit    merkle.EntryHash
	reachable *merkle.HashSet
}

// MarkSweepStore collects garbage by marking every hash reachable from the
// retained commits and sweeping the remainder of the aged out window.
//
// Collection triggers inside StartNewCycle once
// (cycleThreshold+1)*cycleBlockCount commit records have accumulated, and
// runs synchronously while holding the write lock.
type MarkSweepStore struct {
	mu    sync.RWMutex
	store kvstore.Store
	codec codec.CBORCodec
	log   *zap.Logger

	cycleThreshold  int
	cycleBlockCount int
	commitStore     []commitRecord

	stats []merkle.BackendStats
}

func NewMarkSweepStore(store kvstore.Store, cycleThreshold, cycleBlockCount int, log *zap.Logger) (*MarkSweepStore, error) {
	if cycleThreshold < 1 || cycleBlockCount < 1 {
		return nil, fmt.Errorf("cycle threshold and block count must be positive: %d, %d", cycleThreshold, cycleBlockCount)
	}
	c, err := codec.NewCBORCodec()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MarkSweepStore{
		store:           store,
		codec:           c,
		log:             log,
		cycleThreshold:  cycleThreshold,
		cycleBlockCount: cycleBlockCount,
		stats:           make([]merkle.BackendStats, 1),
	}, nil
}

func (m *MarkSweepStore) Get(hash merkle.EntryHash) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Get(hash[:])
}

func (m *MarkSweepStore) Put(hash merkle.EntryHash, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fresh, err := m.store.Put(hash[:], value)
	if err != nil {
		return false, err
	}
	if fresh {
		cur := &m.stats[len(m.stats)-1]
		cur.KeyBytes += merkle.HashBytes
		cur.ValueBytes += uint64(len(value))
	}
	return fresh, nil
}

func (m *MarkSweepStore) Contains(hash merkle.EntryHash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Contains(hash[:])
}

func (m *MarkSweepStore) Delete(hash merkle.EntryHash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Delete(hash[:])
}

// MarkReused only contributes to accounting; reachability is derived from
// the commit records, not from reuse notifications.
func (m *MarkSweepStore) MarkReused(hash merkle.EntryHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[len(m.stats)-1].ReusedKeyBytes += merkle.HashBytes
}

func (m *MarkSweepStore) StoreCommitTree(commit merkle.EntryHash, reachable *merkle.HashSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitStore = append(m.commitStore, commitRecord{commit: commit, reachable: reachable})
}

func (m *MarkSweepStore) StartNewCycle(lastCommit *merkle.EntryHash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = append(m.stats, merkle.BackendStats{})
	if len(m.commitStore) >= (m.cycleThreshold+1)*m.cycleBlockCount {
		return m.collect(lastCommit)
	}
	return nil
}

// WaitForGCFinish returns once no collection is running. Collection is
// synchronous, so acquiring the lock is sufficient.
func (m *MarkSweepStore) WaitForGCFinish() {
	m.mu.Lock()
	defer m.mu.Unlock()
}

func (m *MarkSweepStore) Stats() []merkle.BackendStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]merkle.BackendStats, len(m.stats))
	copy(out, m.stats)
	return out
}

// collect implements the mark and sweep pass over the oldest window of
// commit records. Candidate garbage is the union of the aged out records'
// reachability sets; subtracting the boundary records is a fast first cut,
// and the mark walk from every retained commit is the correctness
// mechanism: no hash reachable from a retained commit may remain in the
// candidate set when the sweep runs. Any fault before the sweep aborts the
// pass with nothing deleted.
func (m *MarkSweepStore) collect(_ *merkle.EntryHash) error {
	aged := m.commitStore[:m.cycleBlockCount]
	retained := m.commitStore[m.cycleBlockCount:]

	garbage := merkle.NewHashSet()
	for _, rec := range aged {
		garbage.AddAll(rec.reachable)
	}
	candidates := garbage.Len()

	if len(retained) > 0 {
		for _, h := range retained[0].reachable.Values() {
			garbage.Remove(h)
		}
		for _, h := range retained[len(retained)-1].reachable.Values() {
			garbage.Remove(h)
		}
	}

	for _, rec := range retained {
		if err := m.markEntries(rec.commit, garbage); err != nil {
			return err
		}
	}

	swept := 0
	for _, h := range garbage.Values() {
		if err := m.store.Delete(h[:]); err != nil {
			return fmt.Errorf("sweep delete %s: %w", h, err)
		}
		swept++
	}
	m.commitStore = append([]commitRecord{}, retained...)

	m.log.Info("garbage collection finished",
		zap.Int("candidates", candidates),
		zap.Int("swept", swept),
		zap.Int("retained_commits", len(retained)),
	)
	return nil
}

// markEntries removes from garbage every hash reachable from commit. The
// walk uses an explicit work list and a visited set: the entry graph is a
// DAG, not a tree, because copies create shared subtrees, and retained
// trees can be arbitrarily deep. Any hash that cannot be resolved to an
// entry aborts the pass: the subtree below it cannot be marked.
func (m *MarkSweepStore) markEntries(commit merkle.EntryHash, garbage *merkle.HashSet) error {
	entry, err := m.getEntry(commit)
	if err != nil {
		return fmt.Errorf("%w: commit %s: %v", ErrGCAborted, commit, err)
	}
	if entry == nil {
		return fmt.Errorf("%w: retained commit %s is missing", ErrGCAborted, commit)
	}
	if entry.Kind != merkle.EntryKindCommit || entry.Commit == nil {
		return fmt.Errorf("%w: %s", merkle.ErrNotACommit, commit)
	}

	garbage.Remove(commit)
	work := []merkle.EntryHash{entry.Commit.RootHash}
	visited := map[merkle.EntryHash]struct{}{commit: {}}
	for len(work) > 0 {
		h := work[len(work)-1]
		work = work[:len(work)-1]
		if _, ok := visited[h]; ok {
			continue
		}
		visited[h] = struct{}{}
		garbage.Remove(h)

		e, err := m.getEntry(h)
		if err != nil {
			return fmt.Errorf("%w: entry %s: %v", ErrGCAborted, h, err)
		}
		if e == nil {
			// A hole hides everything reachable below it, so the mark set
			// is incomplete and nothing may be swept against it.
			return fmt.Errorf("%w: entry %s reachable from commit %s is missing", ErrGCAborted, h, commit)
		}
		switch e.Kind {
		case merkle.EntryKindBlob:
		case merkle.EntryKindTree:
			for _, te := range e.Tree {
				work = append(work, te.Node.EntryHash)
			}
		case merkle.EntryKindCommit:
			work = append(work, e.Commit.RootHash)
		}
	}
	return nil
}

func (m *MarkSweepStore) getEntry(hash merkle.EntryHash) (*merkle.Entry, error) {
	data, err := m.store.Get(hash[:])
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return merkle.DecodeEntry(m.codec, data)
}
