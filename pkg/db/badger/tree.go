package badger

import (
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/eigerco/toboggan/internal/treestate"
	"github.com/eigerco/toboggan/pkg/db"
	"github.com/eigerco/toboggan/pkg/log"
)

var _ db.Tree = (*Tree)(nil)

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

	err := t.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(t.shared.ID.Key(key), db.Clone(value))
	})
	return db.NewBackendError("insert", err)
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

	op := t.shared.MergeOperator()
	err := t.store.db.Update(func(txn *badger.Txn) error {
		engineKey := t.shared.ID.Key(key)

		var existing []byte
		if op != nil {
			var err error
			existing, _, err = get(txn, engineKey)
			if err != nil {
				return err
			}
		}

		merged := treestate.Merge(op, key, existing, operand)
		if merged == nil {
			return txn.Delete(engineKey)
		}
		return txn.Set(engineKey, merged)
	})
	return db.NewBackendError("merge", err)
}

func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return nil, false, db.ErrClosed
	}

	var (
		value []byte
		found bool
	)
	err := t.store.db.View(func(txn *badger.Txn) error {
		var err error
		value, found, err = get(txn, t.shared.ID.Key(key))
		return err
	})
	if err != nil {
		return nil, false, db.NewBackendError("get", err)
	}
	return value, found, nil
}

func get(txn *badger.Txn, engineKey []byte) ([]byte, bool, error) {
	item, err := txn.Get(engineKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return db.Clone(value), true, nil
}

// Iter returns a lazy iterator inside a read-only transaction; it observes the
// tree as of the call to Iter.
func (t *Tree) Iter() db.Iterator {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return db.ErrIterator(db.ErrClosed)
	}
	return newIterator(t.store.db, t.shared.ID)
}

func (t *Tree) Flush() error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if t.store.closed {
		return db.ErrClosed
	}
	if t.store.inMemory {
		return nil
	}

	if err := t.store.db.Sync(); err != nil {
		return db.NewBackendError("flush", err)
	}
	log.Storage.Debug().Str("engine", "badger").Bytes("tree", t.shared.Name).Msg("flushed")
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
	t.store.dropMu.Lock()
	defer t.store.dropMu.Unlock()

	if err := t.store.db.DropPrefix(t.shared.ID.Prefix()); err != nil {
		return db.NewBackendError("clear", err)
	}
	log.Storage.Debug().Str("engine", "badger").Bytes("tree", t.shared.Name).Msg("cleared")
	return nil
}
