package badger

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/eigerco/toboggan/internal/keyspace"
	"github.com/eigerco/toboggan/pkg/db"
)

// cursor is the view of a badger iterator the tree iterator drives.
type cursor interface {
	Rewind()
	Next()
	Valid() bool
	Key() []byte
	Value() ([]byte, error)
	Close()
}

// txnCursor iterates inside a read-only transaction it owns.
type txnCursor struct {
	txn  *badger.Txn
	iter *badger.Iterator
}

func (c *txnCursor) Rewind()                { c.iter.Rewind() }
func (c *txnCursor) Next()                  { c.iter.Next() }
func (c *txnCursor) Valid() bool            { return c.iter.Valid() }
func (c *txnCursor) Key() []byte            { return c.iter.Item().Key() }
func (c *txnCursor) Value() ([]byte, error) { return c.iter.Item().ValueCopy(nil) }

func (c *txnCursor) Close() {
	c.iter.Close()
	c.txn.Discard()
}

type Iterator struct {
	cur cursor
	id  keyspace.TreeID

	started bool
	done    bool
	// err is the current element when a value read failed, iteration ends after it.
	err        error
	errCurrent bool
}

func newIterator(bdb *badger.DB, id keyspace.TreeID) *Iterator {
	txn := bdb.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = id.Prefix()
	return &Iterator{
		cur: &txnCursor{txn: txn, iter: txn.NewIterator(opts)},
		id:  id,
	}
}

func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if it.errCurrent {
		it.errCurrent = false
		it.done = true
		return false
	}
	if !it.started {
		it.started = true
		it.cur.Rewind()
	} else {
		it.cur.Next()
	}
	if it.cur.Valid() {
		return true
	}
	it.done = true
	return false
}

func (it *Iterator) Key() []byte {
	if it.errCurrent || !it.Valid() {
		return nil
	}
	return it.id.UserKey(it.cur.Key())
}

func (it *Iterator) Value() ([]byte, error) {
	if it.errCurrent {
		return nil, it.err
	}
	if !it.Valid() {
		return nil, db.ErrIteratorInvalid
	}
	value, err := it.cur.Value()
	if err != nil {
		it.err = db.NewBackendError("iter", err)
		it.errCurrent = true
		return nil, it.err
	}
	return db.Clone(value), nil
}

func (it *Iterator) Valid() bool {
	if it.errCurrent {
		return true
	}
	return it.started && !it.done && it.cur.Valid()
}

func (it *Iterator) Close() error {
	if it.cur == nil {
		return nil
	}
	it.cur.Close()
	it.cur = nil
	it.done = true
	it.errCurrent = false
	return nil
}
