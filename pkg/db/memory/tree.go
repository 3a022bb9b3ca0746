package memory

import (
	"bytes"
	"sync"

	"github.com/tidwall/btree"

	"github.com/eigerco/toboggan/pkg/db"
)

// The approximate number of items and children per B-tree node.
const bTreeDegree = 32

var _ db.Tree = (*Tree)(nil)

type item struct {
	key   []byte
	value []byte
}

func byKeys(a, b item) bool {
	return bytes.Compare(a.key, b.key) == -1
}

// Tree is an in-memory ordered map. The whole map is locked for the duration
// of each operation, so Merge is atomic with respect to every other call.
type Tree struct {
	mu      sync.Mutex
	items   *btree.BTreeG[item]
	mergeOp db.MergeOperator
}

func newTree() *Tree {
	return &Tree{
		items: btree.NewBTreeGOptions[item](byKeys, btree.Options{
			Degree:  bTreeDegree,
			NoLocks: true,
		}),
	}
}

func (t *Tree) Insert(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.items.Set(item{key: db.Clone(key), value: db.Clone(value)})
	return nil
}

func (t *Tree) SetMergeOperator(op db.MergeOperator) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.mergeOp = op
}

func (t *Tree) Merge(key, operand []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mergeOp == nil {
		t.items.Set(item{key: db.Clone(key), value: db.Clone(operand)})
		return nil
	}

	var existing []byte
	if cur, ok := t.items.Get(item{key: key}); ok {
		existing = db.Clone(cur.value)
	}

	merged := t.mergeOp(key, existing, operand)
	if merged == nil {
		t.items.Delete(item{key: key})
		return nil
	}
	t.items.Set(item{key: db.Clone(key), value: db.Clone(merged)})
	return nil
}

func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.items.Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	return db.Clone(cur.value), true, nil
}

// Iter copies the current contents of the tree and iterates over the copy.
// Mutations made after Iter returns are not observed by the iterator.
func (t *Tree) Iter() db.Iterator {
	t.mu.Lock()
	defer t.mu.Unlock()

	pairs := make([]db.Pair, 0, t.items.Len())
	t.items.Scan(func(it item) bool {
		pairs = append(pairs, db.Pair{Key: db.Clone(it.key), Value: db.Clone(it.value)})
		return true
	})
	return db.NewSliceIterator(pairs)
}

// Flush is a no-op, there is nothing to persist.
func (t *Tree) Flush() error {
	return nil
}

func (t *Tree) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.items.Clear()
	return nil
}

// Len returns the number of keys currently stored.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.items.Len()
}
