package pebble

import (
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/toboggan/internal/treestate"
	"github.com/eigerco/toboggan/pkg/db"
	"github.com/eigerco/toboggan/pkg/log"
)

var _ db.Tree = (*Tree)(nil)

// Tree is a handle to one named tree. Handles of the same name share their
// writer lock and merge operator.
type Tree struct {
	store  *Store
	shared *treestate.Shared
}

func (t *Tree) Insert(key, value []byte) error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return db.ErrClosed
	}

	t.shared.Lock()
	defer t.shared.Unlock()

	return db.NewBackendError("insert", t.store.db.Set(t.shared.ID.Key(key), value, t.store.writeOpts))
}

func (t *Tree) SetMergeOperator(op db.MergeOperator) {
	t.shared.SetMergeOperator(op)
}

func (t *Tree) Merge(key, operand []byte) error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return db.ErrClosed
	}

	t.shared.Lock()
	defer t.shared.Unlock()

	engineKey := t.shared.ID.Key(key)
	op := t.shared.MergeOperator()
	if op == nil {
		return db.NewBackendError("merge", t.store.db.Set(engineKey, operand, t.store.writeOpts))
	}

	existing, _, err := t.get(engineKey)
	if err != nil {
		return db.NewBackendError("merge", err)
	}

	merged := treestate.Merge(op, key, existing, operand)
	if merged == nil {
		return db.NewBackendError("merge", t.store.db.Delete(engineKey, t.store.writeOpts))
	}
	return db.NewBackendError("merge", t.store.db.Set(engineKey, merged, t.store.writeOpts))
}

func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return nil, false, db.ErrClosed
	}

	value, found, err := t.get(t.shared.ID.Key(key))
	if err != nil {
		return nil, false, db.NewBackendError("get", err)
	}
	return value, found, nil
}

func (t *Tree) get(engineKey []byte) ([]byte, bool, error) {
	value, closer, err := t.store.db.Get(engineKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close() //nolint:errcheck // closing releases the read buffer only

	return db.Clone(value), true, nil
}

// Iter returns a lazy iterator reading from a consistent point-in-time view
// of the tree taken when Iter is called.
func (t *Tree) Iter() db.Iterator {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return db.ErrIterator(db.ErrClosed)
	}
	return t.store.newIterator(t.shared.ID)
}

// Flush flushes the memtable to disk so every write so far is durable.
func (t *Tree) Flush() error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return db.ErrClosed
	}

	if err := t.store.db.Flush(); err != nil {
		return db.NewBackendError("flush", err)
	}
	log.Storage.Debug().Str("engine", "pebble").Bytes("tree", t.shared.Name).Msg("flushed")
	return nil
}

func (t *Tree) Clear() error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return db.ErrClosed
	}

	t.shared.Lock()
	defer t.shared.Unlock()

	id := t.shared.ID
	if err := t.store.db.DeleteRange(id.Prefix(), id.UpperBound(), t.store.writeOpts); err != nil {
		return db.NewBackendError("clear", err)
	}
	log.Storage.Debug().Str("engine", "pebble").Bytes("tree", t.shared.Name).Msg("cleared")
	return nil
}
