// Package dbtest is the conformance suite every db backend is run against.
package dbtest

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/eigerco/toboggan/internal/testutils"
	"github.com/eigerco/toboggan/pkg/db"
	"github.com/eigerco/toboggan/pkg/db/mergeop"
)

// Opener returns a fresh, empty store. It registers its own cleanup with t.
type Opener[T db.Tree] func(t *testing.T) db.Store[T]

type testCase[T db.Tree] struct {
	name string
	fn   func(t *testing.T, store db.Store[T])
}

// Run runs every conformance test against stores produced by open.
func Run[T db.Tree](t *testing.T, open Opener[T]) {
	tests := []testCase[T]{
		{name: "end_to_end_scenario", fn: testScenario[T]},
		{name: "open_tree_aliasing", fn: testOpenTreeAliasing[T]},
		{name: "merge_operator_shared_by_handles", fn: testMergeOperatorShared[T]},
		{name: "trees_are_isolated", fn: testTreesIsolated[T]},
		{name: "insert_overwrite", fn: testInsertOverwrite[T]},
		{name: "empty_keys_and_values", fn: testEmptyKeysAndValues[T]},
		{name: "get_absent_key", fn: testGetAbsent[T]},
		{name: "values_are_copies", fn: testValuesAreCopies[T]},
		{name: "merge_with_operator", fn: testMergeWithOperator[T]},
		{name: "merge_absent_key", fn: testMergeAbsentKey[T]},
		{name: "merge_sees_empty_value", fn: testMergeSeesEmptyValue[T]},
		{name: "merge_without_operator", fn: testMergeWithoutOperator[T]},
		{name: "merge_to_delete", fn: testMergeToDelete[T]},
		{name: "merge_operator_replaced", fn: testMergeOperatorReplaced[T]},
		{name: "merge_operator_unregistered", fn: testMergeOperatorUnregistered[T]},
		{name: "clear", fn: testClear[T]},
		{name: "clear_keeps_operator", fn: testClearKeepsOperator[T]},
		{name: "iteration_order", fn: testIterationOrder[T]},
		{name: "random_keys_match_model", fn: testRandomKeysMatchModel[T]},
		{name: "iteration_snapshot", fn: testIterationSnapshot[T]},
		{name: "iterator_exhaustion", fn: testIteratorExhaustion[T]},
		{name: "flush", fn: testFlush[T]},
		{name: "concurrent_merge", fn: testConcurrentMerge[T]},
		{name: "concurrent_open_tree", fn: testConcurrentOpenTree[T]},
		{name: "concurrent_mixed_operations", fn: testConcurrentMixedOperations[T]},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

func openTree[T db.Tree](t *testing.T, store db.Store[T], name string) T {
	t.Helper()
	tree, err := store.OpenTree([]byte(name))
	require.NoError(t, err)
	return tree
}

func requireValue(t *testing.T, tree db.Tree, key, want string) {
	t.Helper()
	got, found, err := tree.Get([]byte(key))
	require.NoError(t, err)
	require.True(t, found, "key %q not found", key)
	assert.Equal(t, []byte(want), got)
}

func requireAbsent(t *testing.T, tree db.Tree, key string) {
	t.Helper()
	got, found, err := tree.Get([]byte(key))
	require.NoError(t, err)
	assert.False(t, found, "key %q unexpectedly present", key)
	assert.Nil(t, got)
}

// RequirePairs asserts that the tree holds exactly want, in order.
func RequirePairs(t *testing.T, tree db.Tree, want ...[2]string) {
	t.Helper()
	pairs, err := db.Collect(tree)
	require.NoError(t, err)

	got := make([][2]string, 0, len(pairs))
	for _, p := range pairs {
		got = append(got, [2]string{string(p.Key), string(p.Value)})
	}
	if want == nil {
		want = [][2]string{}
	}
	assert.Equal(t, want, got)
}

func testScenario[T db.Tree](t *testing.T, store db.Store[T]) {
	foo := openTree(t, store, "foo")
	require.NoError(t, foo.Insert([]byte("meow"), []byte("cat")))
	require.NoError(t, foo.Insert([]byte("woof"), []byte("dog")))

	iter := foo.Iter()
	require.True(t, iter.Next())
	value, err := iter.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("meow"), iter.Key())
	assert.Equal(t, []byte("cat"), value)

	require.True(t, iter.Next())
	value, err = iter.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("woof"), iter.Key())
	assert.Equal(t, []byte("dog"), value)

	assert.False(t, iter.Next())
	require.NoError(t, iter.Close())

	// Merge
	foo.SetMergeOperator(mergeop.Concat)
	require.NoError(t, foo.Merge([]byte("woof"), []byte("pup")))
	requireValue(t, foo, "woof", "dogpup")

	// Overwrite
	require.NoError(t, foo.Insert([]byte("woof"), []byte("dawg")))
	requireValue(t, foo, "woof", "dawg")

	// Clear
	require.NoError(t, foo.Clear())
	iter = foo.Iter()
	assert.False(t, iter.Next())
	require.NoError(t, iter.Close())
}

func testOpenTreeAliasing[T db.Tree](t *testing.T, store db.Store[T]) {
	a := openTree(t, store, "beasts")
	b := openTree(t, store, "beasts")

	require.NoError(t, a.Insert([]byte("meow"), []byte("cat")))
	requireValue(t, b, "meow", "cat")

	require.NoError(t, b.Insert([]byte("meow"), []byte("kitten")))
	requireValue(t, a, "meow", "kitten")

	require.NoError(t, b.Clear())
	requireAbsent(t, a, "meow")
}

func testMergeOperatorShared[T db.Tree](t *testing.T, store db.Store[T]) {
	a := openTree(t, store, "beasts")
	b := openTree(t, store, "beasts")

	a.SetMergeOperator(mergeop.Concat)
	require.NoError(t, b.Insert([]byte("woof"), []byte("dog")))
	require.NoError(t, b.Merge([]byte("woof"), []byte("pup")))
	requireValue(t, a, "woof", "dogpup")
}

func testTreesIsolated[T db.Tree](t *testing.T, store db.Store[T]) {
	// names that are prefixes of each other must not share keys
	a := openTree(t, store, "a")
	ab := openTree(t, store, "ab")

	require.NoError(t, a.Insert([]byte("bc"), []byte("from-a")))
	require.NoError(t, ab.Insert([]byte("c"), []byte("from-ab")))

	RequirePairs(t, a, [2]string{"bc", "from-a"})
	RequirePairs(t, ab, [2]string{"c", "from-ab"})
	requireAbsent(t, a, "c")
	requireAbsent(t, ab, "bc")

	a.SetMergeOperator(func(_, _, _ []byte) []byte { return nil })
	require.NoError(t, ab.Merge([]byte("c"), []byte("replaced")))
	requireValue(t, ab, "c", "replaced")

	require.NoError(t, a.Clear())
	RequirePairs(t, a)
	RequirePairs(t, ab, [2]string{"c", "replaced"})
}

func testInsertOverwrite[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "overwrite")
	for i := 0; i < 5; i++ {
		require.NoError(t, tree.Insert([]byte("k"), []byte(fmt.Sprintf("v%d", i))))
		requireValue(t, tree, "k", fmt.Sprintf("v%d", i))
	}
	RequirePairs(t, tree, [2]string{"k", "v4"})
}

func testEmptyKeysAndValues[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "")

	require.NoError(t, tree.Insert([]byte{}, []byte("empty-key")))
	require.NoError(t, tree.Insert([]byte("empty-value"), []byte{}))

	requireValue(t, tree, "", "empty-key")

	value, found, err := tree.Get([]byte("empty-value"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotNil(t, value, "a present empty value must not read back as nil")
	assert.Empty(t, value)

	RequirePairs(t, tree, [2]string{"", "empty-key"}, [2]string{"empty-value", ""})
}

func testGetAbsent[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "absent")
	requireAbsent(t, tree, "nope")
	require.NoError(t, tree.Insert([]byte("nope2"), []byte("x")))
	requireAbsent(t, tree, "nope")
}

func testValuesAreCopies[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "copies")

	key := []byte("key")
	value := []byte("value")
	require.NoError(t, tree.Insert(key, value))
	key[0], value[0] = 'X', 'X'
	requireValue(t, tree, "key", "value")

	got, _, err := tree.Get([]byte("key"))
	require.NoError(t, err)
	got[0] = 'Y'
	requireValue(t, tree, "key", "value")
}

func testMergeWithOperator[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "merge")
	tree.SetMergeOperator(mergeop.Concat)

	require.NoError(t, tree.Insert([]byte("woof"), []byte("dog")))
	require.NoError(t, tree.Merge([]byte("woof"), []byte("pup")))
	requireValue(t, tree, "woof", "dogpup")

	require.NoError(t, tree.Merge([]byte("woof"), []byte("py")))
	requireValue(t, tree, "woof", "dogpuppy")
}

func testMergeAbsentKey[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "merge")

	var sawExisting []byte
	called := false
	tree.SetMergeOperator(func(key, existing, operand []byte) []byte {
		called = true
		sawExisting = existing
		assert.Equal(t, []byte("new"), key)
		return mergeop.Concat(key, existing, operand)
	})

	require.NoError(t, tree.Merge([]byte("new"), []byte("first")))
	assert.True(t, called)
	assert.Nil(t, sawExisting)
	requireValue(t, tree, "new", "first")
}

func testMergeSeesEmptyValue[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "merge")
	require.NoError(t, tree.Insert([]byte("k"), []byte{}))

	var sawExisting []byte
	tree.SetMergeOperator(func(key, existing, operand []byte) []byte {
		sawExisting = existing
		return mergeop.Concat(key, existing, operand)
	})

	require.NoError(t, tree.Merge([]byte("k"), []byte("x")))
	assert.NotNil(t, sawExisting, "an empty stored value is present, not absent")
	assert.Empty(t, sawExisting)
	requireValue(t, tree, "k", "x")
}

func testMergeWithoutOperator[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "fallback")

	require.NoError(t, tree.Merge([]byte("k"), []byte("v")))
	requireValue(t, tree, "k", "v")

	require.NoError(t, tree.Merge([]byte("k"), []byte("w")))
	requireValue(t, tree, "k", "w")
}

func testMergeToDelete[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "delete")
	require.NoError(t, tree.Insert([]byte("keep"), []byte("1")))
	require.NoError(t, tree.Insert([]byte("drop"), []byte("2")))

	tree.SetMergeOperator(func(_, _, _ []byte) []byte { return nil })
	require.NoError(t, tree.Merge([]byte("drop"), []byte("anything")))
	require.NoError(t, tree.Merge([]byte("never-existed"), []byte("anything")))

	requireAbsent(t, tree, "drop")
	requireAbsent(t, tree, "never-existed")
	RequirePairs(t, tree, [2]string{"keep", "1"})
}

func testMergeOperatorReplaced[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "replace")
	tree.SetMergeOperator(mergeop.Concat)
	require.NoError(t, tree.Insert([]byte("n"), mergeop.EncodeCounter(1)))

	tree.SetMergeOperator(mergeop.AddUint64)
	require.NoError(t, tree.Merge([]byte("n"), mergeop.EncodeCounter(2)))

	got, found, err := tree.Get([]byte("n"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(3), mergeop.DecodeCounter(got), "the last registered operator wins")
}

func testMergeOperatorUnregistered[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "unregister")
	tree.SetMergeOperator(mergeop.Concat)
	require.NoError(t, tree.Merge([]byte("k"), []byte("a")))
	require.NoError(t, tree.Merge([]byte("k"), []byte("b")))
	requireValue(t, tree, "k", "ab")

	tree.SetMergeOperator(nil)
	require.NoError(t, tree.Merge([]byte("k"), []byte("c")))
	requireValue(t, tree, "k", "c")
}

func testClear[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "clear")
	for i := 0; i < 100; i++ {
		require.NoError(t, tree.Insert([]byte(fmt.Sprintf("key-%03d", i)), []byte("v")))
	}

	require.NoError(t, tree.Clear())
	RequirePairs(t, tree)
	requireAbsent(t, tree, "key-000")

	// the tree is emptied, not destroyed
	require.NoError(t, tree.Insert([]byte("again"), []byte("v")))
	RequirePairs(t, tree, [2]string{"again", "v"})

	require.NoError(t, tree.Clear())
	require.NoError(t, tree.Clear())
	RequirePairs(t, tree)
}

func testClearKeepsOperator[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "clear")
	tree.SetMergeOperator(mergeop.Concat)
	require.NoError(t, tree.Insert([]byte("k"), []byte("a")))
	require.NoError(t, tree.Clear())

	require.NoError(t, tree.Merge([]byte("k"), []byte("b")))
	require.NoError(t, tree.Merge([]byte("k"), []byte("c")))
	requireValue(t, tree, "k", "bc")
}

func testIterationOrder[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "order")
	require.NoError(t, tree.Insert([]byte("woof"), []byte("dog")))
	require.NoError(t, tree.Insert([]byte("meow"), []byte("cat")))
	RequirePairs(t, tree, [2]string{"meow", "cat"}, [2]string{"woof", "dog"})

	// unsigned byte order, shorter prefix first
	bin := openTree(t, store, "binary")
	keys := [][]byte{{0xff}, {0x00, 0x01}, {0x7f}, {0x80}, {0x00}, {}}
	for _, k := range keys {
		require.NoError(t, bin.Insert(k, k))
	}

	pairs, err := db.Collect(bin)
	require.NoError(t, err)
	require.Len(t, pairs, len(keys))
	for i := 1; i < len(pairs); i++ {
		assert.Equal(t, -1, bytes.Compare(pairs[i-1].Key, pairs[i].Key),
			"keys out of order: %x before %x", pairs[i-1].Key, pairs[i].Key)
		assert.Equal(t, pairs[i].Key, pairs[i].Value)
	}
	assert.Equal(t, []byte{}, pairs[0].Key)
	assert.Equal(t, []byte{0xff}, pairs[len(pairs)-1].Key)
}

func testRandomKeysMatchModel[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "random")
	tree.SetMergeOperator(mergeop.DeleteOnEmpty)

	model := make(map[string][]byte)
	for i := 0; i < 200; i++ {
		key := testutils.RandomLenBytes(t, 4)
		value := testutils.RandomLenBytes(t, 16)

		switch i % 3 {
		case 0, 1:
			require.NoError(t, tree.Insert(key, value))
			model[string(key)] = value
		case 2:
			require.NoError(t, tree.Merge(key, value))
			if len(value) == 0 {
				delete(model, string(key))
			} else {
				model[string(key)] = append(append([]byte{}, model[string(key)]...), value...)
			}
		}
	}

	pairs, err := db.Collect(tree)
	require.NoError(t, err)
	require.Len(t, pairs, len(model))
	for i, p := range pairs {
		if i > 0 {
			require.Equal(t, -1, bytes.Compare(pairs[i-1].Key, p.Key))
		}
		want, ok := model[string(p.Key)]
		require.True(t, ok, "unexpected key %x", p.Key)
		assert.Equal(t, want, p.Value, "key %x", p.Key)
	}
}

func testIterationSnapshot[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "snapshot")
	require.NoError(t, tree.Insert([]byte("a"), []byte("1")))
	require.NoError(t, tree.Insert([]byte("b"), []byte("2")))

	iter := tree.Iter()
	defer iter.Close() //nolint:errcheck // checked below

	require.NoError(t, tree.Insert([]byte("c"), []byte("3")))
	require.NoError(t, tree.Insert([]byte("a"), []byte("changed")))

	var got [][2]string
	for iter.Next() {
		v, err := iter.Value()
		require.NoError(t, err)
		got = append(got, [2]string{string(iter.Key()), string(v)})
	}
	assert.Equal(t, [][2]string{{"a", "1"}, {"b", "2"}}, got)
	require.NoError(t, iter.Close())

	// a new iteration observes the new state
	RequirePairs(t, tree, [2]string{"a", "changed"}, [2]string{"b", "2"}, [2]string{"c", "3"})
}

func testIteratorExhaustion[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "exhaust")
	require.NoError(t, tree.Insert([]byte("only"), []byte("one")))

	iter := tree.Iter()
	assert.False(t, iter.Valid(), "iterator starts before the first element")

	require.True(t, iter.Next())
	assert.True(t, iter.Valid())

	assert.False(t, iter.Next())
	assert.False(t, iter.Next(), "iteration is not restartable")
	assert.False(t, iter.Valid())

	_, err := iter.Value()
	assert.ErrorIs(t, err, db.ErrIteratorInvalid)
	assert.Nil(t, iter.Key())

	require.NoError(t, iter.Close())
	assert.NoError(t, iter.Close())
}

func testFlush[T db.Tree](t *testing.T, store db.Store[T]) {
	tree := openTree(t, store, "flush")
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Insert([]byte("k"), []byte("v")))
	require.NoError(t, tree.Flush())
	requireValue(t, tree, "k", "v")
}

func testConcurrentMerge[T db.Tree](t *testing.T, store db.Store[T]) {
	const (
		workers = 8
		merges  = 50
	)
	tree := openTree(t, store, "counter")
	tree.SetMergeOperator(mergeop.AddUint64)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			handle, err := store.OpenTree([]byte("counter"))
			if err != nil {
				return err
			}
			for i := 0; i < merges; i++ {
				if err := handle.Merge([]byte("hits"), mergeop.EncodeCounter(1)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got, found, err := tree.Get([]byte("hits"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(workers*merges), mergeop.DecodeCounter(got), "no merge may be lost")
}

func testConcurrentOpenTree[T db.Tree](t *testing.T, store db.Store[T]) {
	const workers = 16

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			tree, err := store.OpenTree([]byte("shared"))
			if err != nil {
				return err
			}
			return tree.Insert([]byte(fmt.Sprintf("worker-%02d", w)), []byte("here"))
		})
	}
	require.NoError(t, g.Wait())

	pairs, err := db.Collect(openTree(t, store, "shared"))
	require.NoError(t, err)
	assert.Len(t, pairs, workers)
}

func testConcurrentMixedOperations[T db.Tree](t *testing.T, store db.Store[T]) {
	const (
		workers = 6
		rounds  = 40
	)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			tree, err := store.OpenTree([]byte("mixed"))
			if err != nil {
				return err
			}
			tree.SetMergeOperator(mergeop.AddUint64)
			key := []byte(fmt.Sprintf("worker-%d", w%3))

			for i := 0; i < rounds; i++ {
				switch i % 4 {
				case 0, 1:
					if err := tree.Merge(key, mergeop.EncodeCounter(1)); err != nil {
						return err
					}
				case 2:
					pairs, err := db.Collect(tree)
					if err != nil {
						return err
					}
					for _, p := range pairs {
						if len(p.Value) != mergeop.CounterSize {
							return fmt.Errorf("torn counter under %q: %x", p.Key, p.Value)
						}
					}
				case 3:
					if w == 0 && i%8 == 3 {
						if err := tree.Clear(); err != nil {
							return err
						}
						continue
					}
					if _, _, err := tree.Get(key); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	tree := openTree(t, store, "mixed")
	require.NoError(t, tree.Clear())
	require.NoError(t, tree.Merge([]byte("after"), mergeop.EncodeCounter(7)))
	got, found, err := tree.Get([]byte("after"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(7), mergeop.DecodeCounter(got))
}
