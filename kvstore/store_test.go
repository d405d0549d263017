package kvstore

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContract exercises the behavior every Store implementation must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()

	// absent key reads as nil without error
	v, err := s.Get([]byte("missing"))
	require.NoError(t, err)
	assert.Nil(t, v)

	ok, err := s.Contains([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := s.Put([]byte("k"), []byte("v1"))
	require.NoError(t, err)
	assert.True(t, fresh)

	v, err = s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	// second put of the same key is not fresh but does take the new value
	fresh, err = s.Put([]byte("k"), []byte("v2"))
	require.NoError(t, err)
	assert.False(t, fresh)

	v, err = s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	ok, err = s.Contains([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	// delete is idempotent
	require.NoError(t, s.Delete([]byte("k")))
	require.NoError(t, s.Delete([]byte("k")))

	v, err = s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.Flush())
}

func TestMemoryStoreContract(t *testing.T) {
	s := NewMemoryStore()
	storeContract(t, s)
	require.NoError(t, s.Close())
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Put([]byte("k"), []byte("v"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Delete([]byte("k")), ErrClosed)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	in := []byte("value")
	_, err := s.Put([]byte("k"), in)
	require.NoError(t, err)
	in[0] = 'X'

	out, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), out)

	// mutating the returned slice must not poison the store
	out[0] = 'Y'
	again, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestSQLiteStoreContract(t *testing.T) {
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	storeContract(t, s)
	require.NoError(t, s.Close())
}

func TestSQLiteStoreConcurrentPutSameKey(t *testing.T) {
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer s.Close()

	const writers = 8
	fresh := make(chan bool, writers)
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Put([]byte("contended"), []byte{byte(i)})
			if err != nil {
				errs <- err
				return
			}
			fresh <- ok
		}(i)
	}
	wg.Wait()
	close(fresh)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// exactly one writer observes the key as new
	freshCount := 0
	for ok := range fresh {
		if ok {
			freshCount++
		}
	}
	assert.Equal(t, 1, freshCount)

	// the stored value is one writer's value in full, never a torn state
	v, err := s.Get([]byte("contended"))
	require.NoError(t, err)
	require.Len(t, v, 1)
	assert.Less(t, int(v[0]), writers)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")

	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.Put([]byte("durable"), []byte("yes"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get([]byte("durable"))
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), v)
}
