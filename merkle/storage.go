package merkle

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mambisi/contextstore/codec"
)

// Key addresses a value in the context tree. Each element names one tree
// level, mirroring filesystem paths.
type Key []string

// stagedNode is one node of the in-memory working tree. A node with a hash
// and no materialized payload is an unchanged view onto the persisted entry;
// any mutation clears the hashes along the affected path, and Commit
// recomputes them bottom up.
type stagedNode struct {
	kind     NodeKind
	blob     []byte                 // blob payload, nil until loaded or staged
	children map[string]*stagedNode // tree children, nil until loaded
	hash     *EntryHash             // set only while the subtree matches the store
}

// MerkleStorage is the staged working tree over a garbage collected backend.
// A single read/write lock guards it: reads may proceed concurrently, while
// mutations and commits take exclusive access.
type MerkleStorage struct {
	mu    sync.RWMutex
	db    Backend
	codec codec.CBORCodec
	log   *zap.Logger

	root       *stagedNode
	lastCommit *EntryHash

	stats Stats
}

func NewMerkleStorage(db Backend, c codec.CBORCodec, log *zap.Logger) *MerkleStorage {
	if log == nil {
		log = zap.NewNop()
	}
	return &MerkleStorage{db: db, codec: c, log: log}
}

// LastCommitHash returns the hash of the most recent commit or checkout
// target, if any.
func (s *MerkleStorage) LastCommitHash() *EntryHash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastCommit == nil {
		return nil
	}
	h := *s.lastCommit
	return &h
}

// Checkout loads the commit's root tree as the new working tree, discarding
// any staged edits.
func (s *MerkleStorage) Checkout(commitHash EntryHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(&s.stats.Checkouts, time.Now())

	data, err := s.db.Get(commitHash)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: commit %s", ErrNotFound, commitHash)
	}
	entry, err := DecodeEntry(s.codec, data)
	if err != nil {
		return err
	}
	if entry.Kind != EntryKindCommit || entry.Commit == nil {
		return fmt.Errorf("%w: %s", ErrNotACommit, commitHash)
	}
	rootHash := entry.Commit.RootHash
	s.root = &stagedNode{kind: NodeKindTree, hash: &rootHash}
	lc := commitHash
	s.lastCommit = &lc
	return nil
}

// Set stages value at key, creating intermediate tree levels as needed. A
// blob on the path is replaced by a tree, matching the original semantics.
func (s *MerkleStorage) Set(key Key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(&s.stats.Sets, time.Now())

	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if s.root == nil {
		s.root = &stagedNode{kind: NodeKindTree, children: map[string]*stagedNode{}}
	}
	parent, err := s.navigateMut(key[:len(key)-1], true)
	if err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)
	parent.children[key[len(key)-1]] = &stagedNode{kind: NodeKindBlob, blob: v}
	return nil
}

// Get resolves key through the staged tree, falling back to persisted
// entries for unchanged subtrees.
func (s *MerkleStorage) Get(key Key) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.observe(&s.stats.Gets, time.Now())

	if len(key) == 0 {
		return nil, ErrKeyEmpty
	}
	if s.root == nil {
		return nil, ErrNotReady
	}
	value, kind, found, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	if !found || kind != NodeKindBlob {
		return nil, fmt.Errorf("%w: /%s", ErrNotFound, joinKey(key))
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Mem reports whether key resolves to a value.
func (s *MerkleStorage) Mem(key Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(key) == 0 {
		return false, ErrKeyEmpty
	}
	if s.root == nil {
		return false, ErrNotReady
	}
	_, kind, found, err := s.lookup(key)
	if err != nil {
		return false, err
	}
	return found && kind == NodeKindBlob, nil
}

// DirMem reports whether key resolves to a subtree.
func (s *MerkleStorage) DirMem(key Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(key) == 0 {
		return false, ErrKeyEmpty
	}
	if s.root == nil {
		return false, ErrNotReady
	}
	_, kind, found, err := s.lookup(key)
	if err != nil {
		return false, err
	}
	return found && kind == NodeKindTree, nil
}

// Copy aliases the subtree or value at from under to. Storage is not
// duplicated: unchanged parts keep their hashes and deduplicate on commit.
func (s *MerkleStorage) Copy(from, to Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(from) == 0 || len(to) == 0 {
		return ErrKeyEmpty
	}
	if s.root == nil {
		return ErrNotReady
	}
	src, err := s.navigateLoad(from)
	if err != nil {
		return err
	}
	clone := cloneNode(src)
	parent, err := s.navigateMut(to[:len(to)-1], true)
	if err != nil {
		return err
	}
	parent.children[to[len(to)-1]] = clone
	return nil
}

// Delete removes the value staged or stored at key. Deleting a subtree
// requires RemoveRecursively.
func (s *MerkleStorage) Delete(key Key) error {
	return s.remove(key, false)
}

// RemoveRecursively removes the value or entire subtree at key.
func (s *MerkleStorage) RemoveRecursively(key Key) error {
	return s.remove(key, true)
}

func (s *MerkleStorage) remove(key Key, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if s.root == nil {
		return ErrNotReady
	}
	parent, err := s.navigateMut(key[:len(key)-1], false)
	if err != nil {
		return err
	}
	name := key[len(key)-1]
	child, ok := parent.children[name]
	if !ok {
		return fmt.Errorf("%w: /%s", ErrNotFound, joinKey(key))
	}
	if !recursive && child.kind != NodeKindBlob {
		return fmt.Errorf("%w: /%s is a subtree", ErrNotFound, joinKey(key))
	}
	delete(parent.children, name)
	return nil
}

// Commit hashes the staged tree bottom up, persisting children strictly
// before their parents, writes the commit entry and registers the commit's
// full reachable hash set with the backend. The returned hash is verified
// against a re-encoding of the persisted bytes; a divergence aborts the
// commit as a corruption fault.
func (s *MerkleStorage) Commit(timestamp uint64, author, message string) (EntryHash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(&s.stats.Commits, time.Now())

	if s.root == nil {
		return EntryHash{}, ErrNotReady
	}

	reachable := NewHashSet()
	rootHash, err := s.persistNode(s.root, reachable)
	if err != nil {
		return EntryHash{}, err
	}

	commit := &Commit{
		RootHash:   rootHash,
		ParentHash: s.lastCommit,
		Time:       timestamp,
		Author:     author,
		Message:    message,
	}
	data, commitHash, err := EncodeEntry(s.codec, NewCommitEntry(commit))
	if err != nil {
		return EntryHash{}, err
	}
	// Self consistency check: the hash handed back to the caller must be
	// recomputable from the canonical encoding alone.
	if err := verifyCanonical(s.codec, data); err != nil {
		return EntryHash{}, err
	}
	fresh, err := s.db.Put(commitHash, data)
	if err != nil {
		return EntryHash{}, err
	}
	if !fresh {
		s.db.MarkReused(commitHash)
	} else {
		s.accountPut(len(data))
	}
	reachable.Add(commitHash)
	s.db.StoreCommitTree(commitHash, reachable)

	lc := commitHash
	s.lastCommit = &lc

	s.log.Debug("context committed",
		zap.String("commit", commitHash.String()),
		zap.Int("reachable", reachable.Len()),
	)
	return commitHash, nil
}

// StartNewCycle forwards the cycle boundary to the backend. Callers invoke
// this at fixed block count boundaries.
func (s *MerkleStorage) StartNewCycle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.StartNewCycle(s.lastCommit)
}

// WaitForGCFinish blocks until the backend has no collection in flight.
func (s *MerkleStorage) WaitForGCFinish() {
	s.db.WaitForGCFinish()
}

// navigateMut walks to the tree node at key, materializing and dirtying
// every node on the path. With create set, missing levels are created and
// blobs on the path are replaced by trees.
func (s *MerkleStorage) navigateMut(key Key, create bool) (*stagedNode, error) {
	cur := s.root
	// children must be materialized before the hash is dropped: the hash is
	// what links an unloaded stub to its persisted entry
	if err := s.materializeTree(cur, create); err != nil {
		return nil, err
	}
	cur.hash = nil
	for i, name := range key {
		child, ok := cur.children[name]
		if !ok {
			if !create {
				return nil, fmt.Errorf("%w: /%s", ErrNotFound, joinKey(key[:i+1]))
			}
			child = &stagedNode{kind: NodeKindTree, children: map[string]*stagedNode{}}
			cur.children[name] = child
		}
		if err := s.materializeTree(child, create); err != nil {
			return nil, err
		}
		child.hash = nil
		cur = child
	}
	return cur, nil
}

// navigateLoad walks to the node at key, materializing but not dirtying.
func (s *MerkleStorage) navigateLoad(key Key) (*stagedNode, error) {
	cur := s.root
	for i, name := range key {
		if err := s.materializeTree(cur, false); err != nil {
			return nil, err
		}
		child, ok := cur.children[name]
		if !ok {
			return nil, fmt.Errorf("%w: /%s", ErrNotFound, joinKey(key[:i+1]))
		}
		cur = child
	}
	return cur, nil
}

// materializeTree ensures n has a loaded children map. Blobs are converted
// to empty trees only when create is set.
func (s *MerkleStorage) materializeTree(n *stagedNode, create bool) error {
	if n.kind == NodeKindBlob {
		if !create {
			return ErrNotFound
		}
		n.kind = NodeKindTree
		n.blob = nil
		n.hash = nil
		n.children = map[string]*stagedNode{}
		return nil
	}
	if n.children != nil {
		return nil
	}
	n.children = map[string]*stagedNode{}
	if n.hash == nil {
		return nil
	}
	entry, err := s.getEntry(*n.hash)
	if err != nil {
		return err
	}
	if entry.Kind != EntryKindTree {
		return fmt.Errorf("%w: tree entry expected at %s", codec.ErrDecode, n.hash)
	}
	for _, te := range entry.Tree {
		h := te.Node.EntryHash
		n.children[te.Name] = &stagedNode{kind: te.Node.Kind, hash: &h}
	}
	return nil
}

// lookup resolves key without mutating the staged tree, so it can run under
// the read lock. Unloaded subtrees are resolved directly against the backend.
func (s *MerkleStorage) lookup(key Key) ([]byte, NodeKind, bool, error) {
	cur := s.root
	for i, name := range key {
		if cur.kind == NodeKindBlob {
			return nil, 0, false, nil
		}
		if cur.children == nil {
			if cur.hash == nil {
				return nil, 0, false, nil
			}
			return s.lookupPersisted(*cur.hash, key[i:])
		}
		child, ok := cur.children[name]
		if !ok {
			return nil, 0, false, nil
		}
		cur = child
	}
	if cur.kind == NodeKindTree {
		return nil, NodeKindTree, true, nil
	}
	if cur.blob != nil || cur.hash == nil {
		return cur.blob, NodeKindBlob, true, nil
	}
	value, err := s.getBlobValue(*cur.hash)
	if err != nil {
		return nil, 0, false, err
	}
	return value, NodeKindBlob, true, nil
}

// lookupPersisted resolves the remainder of a key against persisted tree
// entries starting at hash.
func (s *MerkleStorage) lookupPersisted(hash EntryHash, rest Key) ([]byte, NodeKind, bool, error) {
	kind := NodeKindTree
	for _, name := range rest {
		if kind != NodeKindTree {
			return nil, 0, false, nil
		}
		entry, err := s.getEntry(hash)
		if err != nil {
			return nil, 0, false, err
		}
		if entry.Kind != EntryKindTree {
			return nil, 0, false, fmt.Errorf("%w: tree entry expected at %s", codec.ErrDecode, hash)
		}
		idx := sort.Search(len(entry.Tree), func(i int) bool { return entry.Tree[i].Name >= name })
		if idx >= len(entry.Tree) || entry.Tree[idx].Name != name {
			return nil, 0, false, nil
		}
		hash = entry.Tree[idx].Node.EntryHash
		kind = entry.Tree[idx].Node.Kind
	}
	if kind == NodeKindTree {
		return nil, NodeKindTree, true, nil
	}
	value, err := s.getBlobValue(hash)
	if err != nil {
		return nil, 0, false, err
	}
	return value, NodeKindBlob, true, nil
}

func (s *MerkleStorage) getEntry(hash EntryHash) (*Entry, error) {
	data, err := s.db.Get(hash)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: entry %s", ErrNotFound, hash)
	}
	return DecodeEntry(s.codec, data)
}

func (s *MerkleStorage) getBlobValue(hash EntryHash) ([]byte, error) {
	entry, err := s.getEntry(hash)
	if err != nil {
		return nil, err
	}
	if entry.Kind != EntryKindBlob {
		return nil, fmt.Errorf("%w: blob entry expected at %s", codec.ErrDecode, hash)
	}
	if entry.Blob == nil {
		return []byte{}, nil
	}
	return entry.Blob, nil
}

// persistNode writes the dirty parts of the subtree rooted at n into the
// backend, children before parents, and accumulates every reachable hash
// into reachable. Unchanged subtrees contribute their hashes without being
// rewritten.
func (s *MerkleStorage) persistNode(n *stagedNode, reachable *HashSet) (EntryHash, error) {
	if n.hash != nil {
		if err := s.collectReachable(*n.hash, reachable); err != nil {
			return EntryHash{}, err
		}
		return *n.hash, nil
	}

	var entry *Entry
	switch n.kind {
	case NodeKindBlob:
		entry = NewBlobEntry(n.blob)
	case NodeKindTree:
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Strings(names)
		entries := make([]TreeEntry, 0, len(names))
		for _, name := range names {
			child := n.children[name]
			childHash, err := s.persistNode(child, reachable)
			if err != nil {
				return EntryHash{}, err
			}
			entries = append(entries, TreeEntry{
				Name: name,
				Node: Node{Kind: child.kind, EntryHash: childHash},
			})
		}
		entry = NewTreeEntry(entries)
	default:
		return EntryHash{}, fmt.Errorf("%w: staged node has no kind", codec.ErrEncode)
	}

	data, hash, err := EncodeEntry(s.codec, entry)
	if err != nil {
		return EntryHash{}, err
	}
	fresh, err := s.db.Put(hash, data)
	if err != nil {
		return EntryHash{}, err
	}
	if !fresh {
		s.db.MarkReused(hash)
	} else {
		s.accountPut(len(data))
	}
	reachable.Add(hash)
	h := hash
	n.hash = &h
	return hash, nil
}

// collectReachable walks the persisted entry graph from hash with an
// explicit work list, adding every visited hash to reachable and marking it
// reused in the backend. The graph is a DAG (copies create shared subtrees)
// so visited hashes are skipped via set membership.
func (s *MerkleStorage) collectReachable(hash EntryHash, reachable *HashSet) error {
	work := []EntryHash{hash}
	for len(work) > 0 {
		h := work[len(work)-1]
		work = work[:len(work)-1]
		if reachable.Contains(h) {
			continue
		}
		reachable.Add(h)
		s.db.MarkReused(h)

		entry, err := s.getEntry(h)
		if err != nil {
			return err
		}
		switch entry.Kind {
		case EntryKindBlob:
		case EntryKindTree:
			for _, te := range entry.Tree {
				work = append(work, te.Node.EntryHash)
			}
		case EntryKindCommit:
			work = append(work, entry.Commit.RootHash)
		}
	}
	return nil
}

// cloneNode deep copies the materialized part of a subtree. Hash-bearing
// stubs copy only the reference, which is what lets Copy alias storage
// without duplicating it.
func cloneNode(n *stagedNode) *stagedNode {
	out := &stagedNode{kind: n.kind}
	if n.hash != nil {
		h := *n.hash
		out.hash = &h
	}
	if n.blob != nil {
		out.blob = make([]byte, len(n.blob))
		copy(out.blob, n.blob)
	}
	if n.children != nil {
		out.children = make(map[string]*stagedNode, len(n.children))
		for name, child := range n.children {
			out.children[name] = cloneNode(child)
		}
	}
	return out
}

func joinKey(key Key) string {
	out := ""
	for i, part := range key {
		if i > 0 {
			out += "/"
		}
		out += part
	}
	return out
}
