package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mambisi/contextstore/actionlog"
)

func TestApplyReplaysRecordedActions(t *testing.T) {
	s, _ := newTestStorage(t)

	actions := []actionlog.Action{
		{Kind: actionlog.KindSet, Key: []string{"data", "a"}, Value: []byte("1")},
		{Kind: actionlog.KindSet, Key: []string{"data", "b"}, Value: []byte("2")},
		{Kind: actionlog.KindCopy, FromKey: []string{"data"}, Key: []string{"backup"}},
		{Kind: actionlog.KindDelete, Key: []string{"data", "a"}},
		{Kind: actionlog.KindCommit, Time: 7, Author: "baker", Message: "replayed"},
	}
	for _, a := range actions {
		require.NoError(t, s.Apply(a))
	}

	// the delete happened after the copy, so the backup keeps both keys
	v, err := s.Get(Key{"backup", "a"})
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	_, err = s.Get(Key{"data", "a"})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NotNil(t, s.LastCommitHash())
}

func TestApplyCheckout(t *testing.T) {
	s, _ := newTestStorage(t)

	require.NoError(t, s.Set(Key{"k"}, []byte("v")))
	commit, err := s.Commit(1, "tester", "base")
	require.NoError(t, err)

	require.NoError(t, s.Set(Key{"k"}, []byte("changed")))
	require.NoError(t, s.Apply(actionlog.Action{Kind: actionlog.KindCheckout, Hash: commit[:]}))

	v, err := s.Get(Key{"k"})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	// a malformed hash is rejected before touching the store
	assert.Error(t, s.Apply(actionlog.Action{Kind: actionlog.KindCheckout, Hash: []byte{1, 2, 3}}))
}

func TestApplyIgnoredAndTolerantReads(t *testing.T) {
	s, _ := newTestStorage(t)

	// ignored actions never touch the store
	require.NoError(t, s.Apply(actionlog.Action{
		Kind: actionlog.KindSet, Key: []string{"k"}, Value: []byte("v"), Ignored: true,
	}))
	_, err := s.Get(Key{"k"})
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, s.Set(Key{"other"}, []byte("x")))

	// recorded reads of state that has since aged out replay cleanly
	require.NoError(t, s.Apply(actionlog.Action{Kind: actionlog.KindGet, Key: []string{"long", "gone"}}))
	require.NoError(t, s.Apply(actionlog.Action{Kind: actionlog.KindFold, Key: []string{"long", "gone"}}))

	assert.Error(t, s.Apply(actionlog.Action{Kind: actionlog.Kind(42)}))
}
