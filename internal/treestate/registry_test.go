package treestate

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/toboggan/internal/keyspace"
)

func TestRegistryOpenAliases(t *testing.T) {
	r := NewRegistry()
	calls := 0
	assign := func([]byte) (keyspace.TreeID, error) {
		calls++
		return keyspace.TreeID(calls), nil
	}

	a, err := r.Open([]byte("beasts"), assign)
	require.NoError(t, err)
	b, err := r.Open([]byte("beasts"), assign)
	require.NoError(t, err)
	c, err := r.Open([]byte("plants"), assign)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, calls)
	assert.Equal(t, keyspace.TreeID(1), a.ID)
	assert.Equal(t, keyspace.TreeID(2), c.ID)
}

func TestRegistryAssignFailureIsNotCached(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")

	_, err := r.Open([]byte("t"), func([]byte) (keyspace.TreeID, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	s, err := r.Open([]byte("t"), func([]byte) (keyspace.TreeID, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, keyspace.TreeID(3), s.ID)
}

func TestRegistryConcurrentOpen(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	results := make([]*Shared, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Open([]byte("same"), nil)
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range results[1:] {
		assert.Same(t, results[0], s)
	}
}

func TestMerge(t *testing.T) {
	concat := func(_, existing, operand []byte) []byte {
		return append(append([]byte{}, existing...), operand...)
	}
	drop := func(_, _, _ []byte) []byte { return nil }

	assert.Equal(t, []byte("pup"), Merge(nil, []byte("k"), []byte("dog"), []byte("pup")))
	assert.Equal(t, []byte("dogpup"), Merge(concat, []byte("k"), []byte("dog"), []byte("pup")))
	assert.Nil(t, Merge(drop, []byte("k"), []byte("dog"), []byte("pup")))

	empty := Merge(nil, []byte("k"), nil, nil)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSharedMergeOperatorReplaced(t *testing.T) {
	s := &Shared{}
	assert.Nil(t, s.MergeOperator())

	s.SetMergeOperator(func(_, _, _ []byte) []byte { return []byte("first") })
	s.SetMergeOperator(func(_, _, _ []byte) []byte { return []byte("second") })
	assert.Equal(t, []byte("second"), s.MergeOperator()(nil, nil, nil))

	s.SetMergeOperator(nil)
	assert.Nil(t, s.MergeOperator())
}
