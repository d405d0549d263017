package merkle

// BackendStats is a per cycle accounting snapshot maintained by the garbage
// collected backends.
type BackendStats struct {
	// KeyBytes counts hash bytes introduced in the cycle.
	KeyBytes uint64
	// ValueBytes counts encoded entry bytes introduced in the cycle.
	ValueBytes uint64
	// ReusedKeyBytes counts hash bytes re-referenced into the cycle.
	ReusedKeyBytes uint64
}

// Backend is the garbage collected key value contract the store persists
// entries through. It is implemented by the gc package's strategies over a
// raw kvstore.Store.
type Backend interface {
	// Get returns the encoded entry stored at hash, or nil when absent.
	Get(hash EntryHash) ([]byte, error)
	// Put stores value at hash and reports whether the hash was new,
	// which is how deduplication is accounted.
	Put(hash EntryHash, value []byte) (bool, error)
	Contains(hash EntryHash) (bool, error)
	Delete(hash EntryHash) error

	// MarkReused records that an existing entry was referenced again in the
	// current cycle. Reference accounting strategies use this to keep
	// re-touched entries out of the reclaimable set.
	MarkReused(hash EntryHash)
	// StoreCommitTree records the full set of entry hashes reachable from a
	// commit produced in the current cycle, keyed by the commit hash. The
	// commit hash is carried explicitly because the mark phase must start
	// from every retained commit.
	StoreCommitTree(commit EntryHash, reachable *HashSet)
	// StartNewCycle closes the current cycle; once enough cycles have
	// accumulated it triggers collection before returning.
	StartNewCycle(lastCommit *EntryHash) error
	// WaitForGCFinish blocks until any in-flight collection completes. The
	// current strategies collect synchronously so it returns immediately;
	// it exists as the hook for a future asynchronous design.
	WaitForGCFinish()
	Stats() []BackendStats
}
