package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/toboggan/pkg/db"
	"github.com/eigerco/toboggan/pkg/db/dbtest"
	"github.com/eigerco/toboggan/pkg/db/mergeop"
)

func newTestStore(t *testing.T) *Store {
	store, err := OpenDir(t.TempDir(), DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func TestConformance(t *testing.T) {
	dbtest.Run[*Tree](t, func(t *testing.T) db.Store[*Tree] {
		return newTestStore(t)
	})
}

func TestStore(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{
			name: "reopen_keeps_data_and_tree_ids",
			fn:   testReopen,
		},
		{
			name: "store_closure",
			fn:   testStoreClosure,
		},
		{
			name: "in_memory",
			fn:   testInMemory,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, tc.fn)
	}
}

func testReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenDir(dir, DefaultOptions())
	require.NoError(t, err)
	beasts, err := store.OpenTree([]byte("beasts"))
	require.NoError(t, err)
	plants, err := store.OpenTree([]byte("plants"))
	require.NoError(t, err)
	require.NoError(t, beasts.Insert([]byte("meow"), []byte("cat")))
	require.NoError(t, plants.Insert([]byte("oak"), []byte("tree")))
	require.NoError(t, beasts.Flush())
	require.NoError(t, store.Close())

	store, err = OpenDir(dir, DefaultOptions())
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck // closed at the end of the test

	plants, err = store.OpenTree([]byte("plants"))
	require.NoError(t, err)
	beasts, err = store.OpenTree([]byte("beasts"))
	require.NoError(t, err)
	dbtest.RequirePairs(t, beasts, [2]string{"meow", "cat"})
	dbtest.RequirePairs(t, plants, [2]string{"oak", "tree"})
}

func testStoreClosure(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	tree, err := store.OpenTree([]byte("t"))
	require.NoError(t, err)

	require.NoError(t, store.Close())

	_, err = store.OpenTree([]byte("t"))
	assert.ErrorIs(t, err, db.ErrClosed)
	assert.ErrorIs(t, tree.Insert([]byte("k"), []byte("v")), db.ErrClosed)
	assert.ErrorIs(t, tree.Merge([]byte("k"), []byte("v")), db.ErrClosed)
	assert.ErrorIs(t, tree.Clear(), db.ErrClosed)
	assert.ErrorIs(t, tree.Flush(), db.ErrClosed)
	_, _, err = tree.Get([]byte("k"))
	assert.ErrorIs(t, err, db.ErrClosed)

	assert.NoError(t, store.Close())
}

func testInMemory(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck // closed at the end of the test

	tree, err := store.OpenTree([]byte("counter"))
	require.NoError(t, err)
	tree.SetMergeOperator(mergeop.AddUint64)
	for i := 0; i < 3; i++ {
		require.NoError(t, tree.Merge([]byte("hits"), mergeop.EncodeCounter(2)))
	}
	require.NoError(t, tree.Flush())

	got, found, err := tree.Get([]byte("hits"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(6), mergeop.DecodeCounter(got))
}
