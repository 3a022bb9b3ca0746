package db

import "iter"

// Pair is a single key-value element of a tree.
type Pair struct {
	Key   []byte
	Value []byte
}

// All adapts it into a range-over-func sequence. Every yielded element is
// either a pair or the error the backend reported for that position. The
// iterator is closed once the sequence is exhausted or the caller stops.
func All(it Iterator) iter.Seq2[Pair, error] {
	return func(yield func(Pair, error) bool) {
		defer it.Close() //nolint:errcheck // close errors surface as elements
		for it.Next() {
			v, err := it.Value()
			if err != nil {
				yield(Pair{}, err)
				return
			}
			if !yield(Pair{Key: it.Key(), Value: v}, nil) {
				return
			}
		}
	}
}

// Collect reads the whole tree into memory, stopping at the first error.
func Collect(t Tree) ([]Pair, error) {
	var pairs []Pair
	for p, err := range All(t.Iter()) {
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// errIterator is a one-element sequence holding err. Bindings return it when
// the engine fails to create an iterator.
type errIterator struct {
	err     error
	yielded bool
	current bool
}

// ErrIterator returns an iterator whose only element is err.
func ErrIterator(err error) Iterator {
	return &errIterator{err: err}
}

func (it *errIterator) Next() bool {
	if it.yielded {
		it.current = false
		return false
	}
	it.yielded = true
	it.current = true
	return true
}

func (it *errIterator) Key() []byte { return nil }

func (it *errIterator) Value() ([]byte, error) {
	if !it.current {
		return nil, ErrIteratorInvalid
	}
	return nil, it.err
}

func (it *errIterator) Valid() bool { return it.current }

func (it *errIterator) Close() error { return nil }

// SliceIterator iterates over an already materialised, sorted slice of pairs.
type SliceIterator struct {
	pairs  []Pair
	offset int
}

// NewSliceIterator returns an iterator positioned before the first pair.
func NewSliceIterator(pairs []Pair) *SliceIterator {
	return &SliceIterator{pairs: pairs, offset: -1}
}

func (it *SliceIterator) Next() bool {
	if it.offset < len(it.pairs) {
		it.offset++
	}
	return it.offset < len(it.pairs)
}

func (it *SliceIterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.pairs[it.offset].Key
}

func (it *SliceIterator) Value() ([]byte, error) {
	if !it.Valid() {
		return nil, ErrIteratorInvalid
	}
	return it.pairs[it.offset].Value, nil
}

func (it *SliceIterator) Valid() bool {
	return it.offset >= 0 && it.offset < len(it.pairs)
}

func (it *SliceIterator) Close() error {
	it.pairs = nil
	it.offset = 0
	return nil
}
