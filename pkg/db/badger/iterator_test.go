package badger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/toboggan/internal/keyspace"
	"github.com/eigerco/toboggan/pkg/db"
)

var errValueLog = errors.New("value log truncated")

// scriptedCursor fails the value read at position failAt.
type scriptedCursor struct {
	keys   [][]byte
	pos    int
	failAt int
	closed bool
}

func (c *scriptedCursor) Rewind()     { c.pos = 0 }
func (c *scriptedCursor) Next()       { c.pos++ }
func (c *scriptedCursor) Valid() bool { return c.pos < len(c.keys) }
func (c *scriptedCursor) Key() []byte { return c.keys[c.pos] }
func (c *scriptedCursor) Close()      { c.closed = true }

func (c *scriptedCursor) Value() ([]byte, error) {
	if c.pos == c.failAt {
		return nil, errValueLog
	}
	return []byte("v"), nil
}

func TestIteratorValueFailureEndsIteration(t *testing.T) {
	id := keyspace.TreeID(1)
	cur := &scriptedCursor{
		keys:   [][]byte{id.Key([]byte("a")), id.Key([]byte("b")), id.Key([]byte("c"))},
		failAt: 1,
	}
	iter := &Iterator{cur: cur, id: id}

	require.True(t, iter.Next())
	value, err := iter.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), iter.Key())
	assert.Equal(t, []byte("v"), value)

	require.True(t, iter.Next())
	_, err = iter.Value()
	assert.ErrorIs(t, err, errValueLog)
	assert.True(t, db.IsBackendError(err))
	assert.True(t, iter.Valid())
	assert.Nil(t, iter.Key())

	// "c" is never reached
	assert.False(t, iter.Next())
	assert.False(t, iter.Valid())
	assert.Equal(t, 1, cur.pos)

	require.NoError(t, iter.Close())
	assert.True(t, cur.closed)
	assert.NoError(t, iter.Close())
}

func TestIteratorWithoutFailure(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck // closed at the end of the test

	tree, err := store.OpenTree([]byte("t"))
	require.NoError(t, err)
	require.NoError(t, tree.Insert([]byte("b"), []byte("2")))
	require.NoError(t, tree.Insert([]byte("a"), []byte("1")))

	pairs, err := db.Collect(tree)
	require.NoError(t, err)
	assert.Equal(t, []db.Pair{{Key: []byte("a"), Value: []byte("1")}, {Key: []byte("b"), Value: []byte("2")}}, pairs)
}
