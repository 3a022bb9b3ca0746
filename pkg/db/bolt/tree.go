package bolt

import (
	"bytes"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/eigerco/toboggan/internal/treestate"
	"github.com/eigerco/toboggan/pkg/db"
	"github.com/eigerco/toboggan/pkg/log"
)

var _ db.Tree = (*Tree)(nil)

type Tree struct {
	store  *Store
	shared *treestate.Shared
	bucket []byte
}

func (t *Tree) Insert(key, value []byte) error {
	return t.update("insert", func(b *bolt.Bucket) error {
		return b.Put(engineKey(key), db.Clone(value))
	})
}

func (t *Tree) SetMergeOperator(op db.MergeOperator) {
	t.shared.SetMergeOperator(op)
}

func (t *Tree) Merge(key, operand []byte) error {
	op := t.shared.MergeOperator()
	return t.update("merge", func(b *bolt.Bucket) error {
		k := engineKey(key)
		var existing []byte
		if op != nil {
			existing, _ = lookup(b, k)
		}

		merged := treestate.Merge(op, key, existing, operand)
		if merged == nil {
			return b.Delete(k)
		}
		return b.Put(k, merged)
	})
}

func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := t.view("get", func(b *bolt.Bucket) error {
		value, found = lookup(b, engineKey(key))
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Iter copies the tree inside one read transaction and iterates over the copy.
func (t *Tree) Iter() db.Iterator {
	var pairs []db.Pair
	err := t.view("iter", func(b *bolt.Bucket) error {
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			pairs = append(pairs, db.Pair{Key: db.Clone(k[1:]), Value: db.Clone(v)})
		}
		return nil
	})
	if err != nil {
		return db.ErrIterator(err)
	}
	return db.NewSliceIterator(pairs)
}

// Flush fsyncs the file. It only has work to do when SyncWrites is off.
func (t *Tree) Flush() error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return db.ErrClosed
	}

	if err := t.store.db.Sync(); err != nil {
		return db.NewBackendError("flush", err)
	}
	log.Storage.Debug().Str("engine", "bolt").Bytes("tree", t.shared.Name).Msg("flushed")
	return nil
}

// Clear drops and recreates the tree's bucket in one transaction.
func (t *Tree) Clear() error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return db.ErrClosed
	}

	err := t.store.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(t.bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(t.bucket)
		return err
	})
	if err != nil {
		return db.NewBackendError("clear", err)
	}
	log.Storage.Debug().Str("engine", "bolt").Bytes("tree", t.shared.Name).Msg("cleared")
	return nil
}

func (t *Tree) update(op string, fn func(b *bolt.Bucket) error) error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return db.ErrClosed
	}

	err := t.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.bucket)
		if b == nil {
			return fmt.Errorf("bucket for tree %q: %w", t.shared.Name, bolt.ErrBucketNotFound)
		}
		return fn(b)
	})
	return db.NewBackendError(op, err)
}

func (t *Tree) view(op string, fn func(b *bolt.Bucket) error) error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return db.ErrClosed
	}

	err := t.store.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.bucket)
		if b == nil {
			return fmt.Errorf("bucket for tree %q: %w", t.shared.Name, bolt.ErrBucketNotFound)
		}
		return fn(b)
	})
	return db.NewBackendError(op, err)
}

// lookup returns a copy of the value stored under the engine key k. Memory
// returned by bolt is only valid inside the transaction.
func lookup(b *bolt.Bucket, k []byte) ([]byte, bool) {
	ck, v := b.Cursor().Seek(k)
	if ck == nil || !bytes.Equal(ck, k) {
		return nil, false
	}
	return db.Clone(v), true
}
