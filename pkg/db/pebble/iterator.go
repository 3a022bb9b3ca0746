package pebble

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/toboggan/internal/keyspace"
	"github.com/eigerco/toboggan/pkg/db"
)

// engineIterator is the part of *pebble.Iterator the tree iterator drives.
type engineIterator interface {
	First() bool
	Next() bool
	Valid() bool
	Key() []byte
	ValueAndErr() ([]byte, error)
	Error() error
	Close() error
}

var _ engineIterator = (*pebble.Iterator)(nil)

type Iterator struct {
	iter engineIterator
	id   keyspace.TreeID

	started bool
	done    bool
	// err is the current element when the engine failed, iteration ends after it.
	err        error
	errCurrent bool
}

func (s *Store) newIterator(id keyspace.TreeID) db.Iterator {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: id.Prefix(),
		UpperBound: id.UpperBound(),
	})
	if err != nil {
		return db.ErrIterator(db.NewBackendError("iter", fmt.Errorf(ErrInIteratorCreation, err)))
	}
	return &Iterator{iter: iter, id: id}
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

	var ok bool
	if !it.started {
		it.started = true
		ok = it.iter.First()
	} else {
		ok = it.iter.Next()
	}
	if ok {
		return true
	}

	if err := it.iter.Error(); err != nil {
		it.fail(err)
		return true
	}
	it.done = true
	return false
}

// fail turns the current position into an error element.
func (it *Iterator) fail(err error) {
	it.err = db.NewBackendError("iter", err)
	it.errCurrent = true
}

func (it *Iterator) Key() []byte {
	if it.errCurrent || !it.Valid() {
		return nil
	}
	return it.id.UserKey(it.iter.Key())
}

func (it *Iterator) Value() ([]byte, error) {
	if it.errCurrent {
		return nil, it.err
	}
	if !it.Valid() {
		return nil, db.ErrIteratorInvalid
	}

	val, err := it.iter.ValueAndErr()
	if err != nil {
		it.fail(err)
		return nil, it.err
	}
	return db.Clone(val), nil
}

func (it *Iterator) Valid() bool {
	if it.errCurrent {
		return true
	}
	return it.started && !it.done && it.iter.Valid()
}

func (it *Iterator) Close() error {
	if it.iter == nil {
		return nil
	}
	err := it.iter.Close()
	it.iter = nil
	it.done = true
	it.errCurrent = false
	return db.NewBackendError("iter", err)
}
