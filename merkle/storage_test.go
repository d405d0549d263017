package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

// testBackend is a plain map Backend with no collection, recording enough to
// assert deduplication and reachability registration.
type testBackend struct {
	entries  map[EntryHash][]byte
	reused   map[EntryHash]int
	commits  []EntryHash
	trees    []*HashSet
	newPuts  int
	cycleLen int
}

func newTestBackend() *testBackend {
	return &testBackend{
		entries: make(map[EntryHash][]byte),
		reused:  make(map[EntryHash]int),
	}
}

func (b *testBackend) Get(hash EntryHash) ([]byte, error) {
	v, ok := b.entries[hash]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (b *testBackend) Put(hash EntryHash, value []byte) (bool, error) {
	if _, ok := b.entries[hash]; ok {
		return false, nil
	}
	b.entries[hash] = value
	b.newPuts++
	return true, nil
}

func (b *testBackend) Contains(hash EntryHash) (bool, error) {
	_, ok := b.entries[hash]
	return ok, nil
}

func (b *testBackend) Delete(hash EntryHash) error {
	delete(b.entries, hash)
	return nil
}

func (b *testBackend) MarkReused(hash EntryHash) { b.reused[hash]++ }

func (b *testBackend) StoreCommitTree(commit EntryHash, reachable *HashSet) {
	b.commits = append(b.commits, commit)
	b.trees = append(b.trees, reachable)
}

func (b *testBackend) StartNewCycle(*EntryHash) error {
	b.cycleLen++
	return nil
}

func (b *testBackend) WaitForGCFinish() {}

func (b *testBackend) Stats() []BackendStats { return nil }

func newTestStorage(t *testing.T) (*MerkleStorage, *testBackend) {
	t.Helper()
	backend := newTestBackend()
	return NewMerkleStorage(backend, testCodec(t), zap.NewNop()), backend
}

func TestStorageNotReady(t *testing.T) {
	s, _ := newTestStorage(t)

	_, err := s.Get(Key{"a"})
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.Commit(0, "tester", "empty")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, s.Copy(Key{"a"}, Key{"b"}), ErrNotReady)
	assert.ErrorIs(t, s.Delete(Key{"a"}), ErrNotReady)
	assert.Nil(t, s.LastCommitHash())
}

func TestStorageEmptyKey(t *testing.T) {
	s, _ := newTestStorage(t)
	assert.ErrorIs(t, s.Set(nil, []byte("v")), ErrKeyEmpty)
	_, err := s.Get(Key{})
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestSetGetCommitCheckout(t *testing.T) {
	s, _ := newTestStorage(t)

	require.NoError(t, s.Set(Key{"data", "rolls", "0"}, []byte{1, 2}))
	require.NoError(t, s.Set(Key{"data", "rolls", "1"}, []byte{3, 4}))
	require.NoError(t, s.Set(Key{"protocol"}, []byte("v1")))

	v, err := s.Get(Key{"data", "rolls", "1"})
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4}, v)

	commit1, err := s.Commit(100, "tester", "first")
	require.NoError(t, err)
	require.NotNil(t, s.LastCommitHash())
	assert.Equal(t, commit1, *s.LastCommitHash())

	// mutate and commit again
	require.NoError(t, s.Set(Key{"protocol"}, []byte("v2")))
	commit2, err := s.Commit(200, "tester", "second")
	require.NoError(t, err)
	assert.NotEqual(t, commit1, commit2)

	// checkout the first commit and observe its state
	require.NoError(t, s.Checkout(commit1))
	v, err = s.Get(Key{"protocol"})
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	v, err = s.Get(Key{"data", "rolls", "0"})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, v)

	// back to the second commit
	require.NoError(t, s.Checkout(commit2))
	v, err = s.Get(Key{"protocol"})
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
}

func TestSetAfterCheckoutKeepsSiblings(t *testing.T) {
	s, _ := newTestStorage(t)

	require.NoError(t, s.Set(Key{"data", "a"}, []byte("1")))
	require.NoError(t, s.Set(Key{"data", "b"}, []byte("2")))
	commit, err := s.Commit(1, "tester", "base")
	require.NoError(t, err)

	// a fresh checkout holds only an unloaded root stub; mutating through
	// it must load the persisted tree, not shadow it
	require.NoError(t, s.Checkout(commit))
	require.NoError(t, s.Set(Key{"data", "c"}, []byte("3")))

	for name, want := range map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")} {
		v, err := s.Get(Key{"data", name})
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
}

func TestCommitDeterministicHash(t *testing.T) {
	build := func(t *testing.T) EntryHash {
		s, _ := newTestStorage(t)
		require.NoError(t, s.Set(Key{"a", "x"}, []byte("1")))
		require.NoError(t, s.Set(Key{"a", "y"}, []byte("2")))
		h, err := s.Commit(42, "author", "msg")
		require.NoError(t, err)
		return h
	}
	assert.Equal(t, build(t), build(t))
}

func TestCommitDeduplicatesEntries(t *testing.T) {
	s, backend := newTestStorage(t)

	require.NoError(t, s.Set(Key{"a"}, []byte("same")))
	require.NoError(t, s.Set(Key{"b"}, []byte("same")))
	_, err := s.Commit(1, "tester", "dedup")
	require.NoError(t, err)

	// one blob, one tree, one commit: the identical blob is stored once
	assert.Equal(t, 3, backend.newPuts)
}

func TestCommitRegistersReachableSet(t *testing.T) {
	s, backend := newTestStorage(t)

	require.NoError(t, s.Set(Key{"a", "b"}, []byte("v")))
	commit, err := s.Commit(1, "tester", "reach")
	require.NoError(t, err)

	require.Len(t, backend.commits, 1)
	assert.Equal(t, commit, backend.commits[0])

	reachable := backend.trees[0]
	// blob + subtree + root tree + commit entry
	assert.Equal(t, 4, reachable.Len())
	assert.True(t, reachable.Contains(commit))
	for h := range backend.entries {
		assert.True(t, reachable.Contains(h))
	}
}

func TestUnchangedSubtreeNotRewritten(t *testing.T) {
	s, backend := newTestStorage(t)

	require.NoError(t, s.Set(Key{"stable", "k"}, []byte("fixed")))
	require.NoError(t, s.Set(Key{"hot"}, []byte("a")))
	_, err := s.Commit(1, "tester", "first")
	require.NoError(t, err)

	before := backend.newPuts
	require.NoError(t, s.Set(Key{"hot"}, []byte("b")))
	_, err = s.Commit(2, "tester", "second")
	require.NoError(t, err)

	// the stable subtree is reused: only the new blob, the new root tree
	// and the new commit are written
	assert.Equal(t, before+3, backend.newPuts)
}

func TestCopyAliasesSubtree(t *testing.T) {
	s, _ := newTestStorage(t)

	require.NoError(t, s.Set(Key{"src", "one"}, []byte("1")))
	require.NoError(t, s.Set(Key{"src", "two"}, []byte("2")))
	require.NoError(t, s.Copy(Key{"src"}, Key{"dst"}))

	v, err := s.Get(Key{"dst", "two"})
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	// mutating the copy leaves the source alone
	require.NoError(t, s.Set(Key{"dst", "two"}, []byte("22")))
	v, err = s.Get(Key{"src", "two"})
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestCopyAcrossCommit(t *testing.T) {
	s, backend := newTestStorage(t)

	require.NoError(t, s.Set(Key{"src", "k"}, []byte("v")))
	_, err := s.Commit(1, "tester", "base")
	require.NoError(t, err)

	before := backend.newPuts
	require.NoError(t, s.Copy(Key{"src"}, Key{"dst"}))
	_, err = s.Commit(2, "tester", "copied")
	require.NoError(t, err)

	// the copy shares storage: only root tree and commit are new
	assert.Equal(t, before+2, backend.newPuts)

	v, err := s.Get(Key{"dst", "k"})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestDeleteAndRemoveRecursively(t *testing.T) {
	s, _ := newTestStorage(t)

	require.NoError(t, s.Set(Key{"dir", "a"}, []byte("1")))
	require.NoError(t, s.Set(Key{"dir", "b"}, []byte("2")))
	require.NoError(t, s.Set(Key{"top"}, []byte("3")))

	// Delete refuses subtrees
	assert.ErrorIs(t, s.Delete(Key{"dir"}), ErrNotFound)

	require.NoError(t, s.Delete(Key{"dir", "a"}))
	_, err := s.Get(Key{"dir", "a"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RemoveRecursively(Key{"dir"}))
	ok, err := s.DirMem(Key{"dir"})
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting an absent key reports not found
	assert.ErrorIs(t, s.Delete(Key{"gone"}), ErrNotFound)

	v, err := s.Get(Key{"top"})
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), v)
}

func TestMemAndDirMem(t *testing.T) {
	s, _ := newTestStorage(t)

	require.NoError(t, s.Set(Key{"dir", "leaf"}, []byte("v")))

	ok, err := s.Mem(Key{"dir", "leaf"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Mem(Key{"dir"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DirMem(Key{"dir"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DirMem(Key{"dir", "leaf"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Mem(Key{"absent"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetReplacesBlobWithTree(t *testing.T) {
	s, _ := newTestStorage(t)

	require.NoError(t, s.Set(Key{"node"}, []byte("blob")))
	require.NoError(t, s.Set(Key{"node", "child"}, []byte("nested")))

	v, err := s.Get(Key{"node", "child"})
	require.NoError(t, err)
	assert.Equal(t, []byte("nested"), v)

	// the old blob is gone, node is a tree now
	ok, err := s.DirMem(Key{"node"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckoutUnknownAndNonCommit(t *testing.T) {
	s, _ := newTestStorage(t)

	assert.ErrorIs(t, s.Checkout(EntryHash{0xaa}), ErrNotFound)

	// persist a blob and try to check it out as a commit
	require.NoError(t, s.Set(Key{"k"}, []byte("v")))
	_, err := s.Commit(1, "tester", "c")
	require.NoError(t, err)

	c := testCodec(t)
	blobHash, err := HashEntry(c, NewBlobEntry([]byte("v")))
	require.NoError(t, err)
	assert.ErrorIs(t, s.Checkout(blobHash), ErrNotACommit)
}

func TestCommitParentChain(t *testing.T) {
	s, _ := newTestStorage(t)
	c := testCodec(t)

	require.NoError(t, s.Set(Key{"k"}, []byte("1")))
	first, err := s.Commit(1, "tester", "first")
	require.NoError(t, err)

	require.NoError(t, s.Set(Key{"k"}, []byte("2")))
	second, err := s.Commit(2, "tester", "second")
	require.NoError(t, err)

	data, err := s.db.Get(second)
	require.NoError(t, err)
	entry, err := DecodeEntry(c, data)
	require.NoError(t, err)
	require.Equal(t, EntryKindCommit, entry.Kind)
	require.NotNil(t, entry.Commit.ParentHash)
	assert.Equal(t, first, *entry.Commit.ParentHash)

	data, err = s.db.Get(first)
	require.NoError(t, err)
	entry, err = DecodeEntry(c, data)
	require.NoError(t, err)
	assert.Nil(t, entry.Commit.ParentHash)
}

func TestStatsCounters(t *testing.T) {
	s, _ := newTestStorage(t)

	require.NoError(t, s.Set(Key{"a"}, []byte("1")))
	require.NoError(t, s.Set(Key{"b"}, []byte("2")))
	_, err := s.Get(Key{"a"})
	require.NoError(t, err)
	_, err = s.Commit(1, "tester", "stats")
	require.NoError(t, err)

	stats := s.GetMerkleStats()
	assert.Equal(t, uint64(2), stats.Sets.Count)
	assert.Equal(t, uint64(1), stats.Gets.Count)
	assert.Equal(t, uint64(1), stats.Commits.Count)
	assert.NotZero(t, stats.NewEntries)
	assert.NotZero(t, stats.NewEntryBytes)
}
