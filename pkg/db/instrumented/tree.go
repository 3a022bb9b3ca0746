package instrumented

import (
	"sync/atomic"
	"time"

	"github.com/eigerco/toboggan/pkg/db"
)

var _ db.Tree = (*Tree[db.Tree])(nil)

type Tree[T db.Tree] struct {
	inner       T
	name        string
	metrics     *Metrics
	hasOperator *atomic.Bool
}

// Unwrap returns the backend tree.
func (t *Tree[T]) Unwrap() T {
	return t.inner
}

func (t *Tree[T]) observe(op string, start time.Time, err error) {
	t.metrics.observe(t.name, op, time.Since(start).Seconds(), err)
}

func (t *Tree[T]) Insert(key, value []byte) error {
	start := time.Now()
	err := t.inner.Insert(key, value)
	t.observe("insert", start, err)
	return err
}

func (t *Tree[T]) SetMergeOperator(op db.MergeOperator) {
	t.inner.SetMergeOperator(op)
	t.hasOperator.Store(op != nil)
}

// Merge is counted as "merge_fallback" when no operator is registered and the
// merge therefore behaves like an insert.
func (t *Tree[T]) Merge(key, operand []byte) error {
	op := "merge"
	if !t.hasOperator.Load() {
		op = "merge_fallback"
	}
	start := time.Now()
	err := t.inner.Merge(key, operand)
	t.observe(op, start, err)
	return err
}

func (t *Tree[T]) Get(key []byte) ([]byte, bool, error) {
	start := time.Now()
	value, found, err := t.inner.Get(key)
	t.observe("get", start, err)
	return value, found, err
}

func (t *Tree[T]) Iter() db.Iterator {
	start := time.Now()
	it := t.inner.Iter()
	t.observe("iter", start, nil)
	return &iterator{Iterator: it, tree: t}
}

func (t *Tree[T]) Flush() error {
	start := time.Now()
	err := t.inner.Flush()
	t.observe("flush", start, err)
	return err
}

func (t *Tree[T]) Clear() error {
	start := time.Now()
	err := t.inner.Clear()
	t.observe("clear", start, err)
	return err
}

// iterator counts element errors reported by the backend.
type iterator struct {
	db.Iterator
	tree interface {
		observe(op string, start time.Time, err error)
	}
}

func (it *iterator) Value() ([]byte, error) {
	v, err := it.Iterator.Value()
	if err != nil && it.Iterator.Valid() {
		it.tree.observe("iter_element", time.Now(), err)
	}
	return v, err
}
