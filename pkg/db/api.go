package db

// Store hands out trees by name. Opening the same name twice returns handles
// that alias the same underlying data, never a copy.
type Store[T Tree] interface {
	OpenTree(name []byte) (T, error)
}

// MergeOperator combines the value currently stored under key with an incoming
// operand. existing is nil when the key is absent; a stored empty value is
// passed as a non-nil empty slice. Returning nil deletes the key.
//
// Operators must be deterministic and free of side effects.
type MergeOperator func(key, existing, operand []byte) []byte

// Tree represents an ordered mapping of byte keys to byte values.
// Keys are ordered by unsigned lexicographic comparison.
type Tree interface {
	// Insert overwrites the value stored under key.
	Insert(key, value []byte) error
	// SetMergeOperator replaces the operator used by subsequent Merge calls.
	// Registration is not additive: the last operator wins. Passing nil
	// unregisters the current operator.
	SetMergeOperator(op MergeOperator)
	// Merge applies the registered operator to the current value and operand.
	// Without a registered operator Merge behaves exactly like Insert.
	Merge(key, operand []byte) error
	// Get returns the value stored under key, found is false if it is absent.
	Get(key []byte) (value []byte, found bool, err error)
	// Iter returns the tree contents in ascending key order.
	Iter() Iterator
	// Flush makes buffered writes durable. It is a no-op for transient trees.
	Flush() error
	// Clear removes every key from the tree.
	Clear() error
}

// Iterator provides sequential access over the key-value pairs of a tree.
// Each element is either a pair or an error: when the backend fails mid-way
// Next reports one more element whose Value returns that error, and the
// iteration ends after it. Iterators must be closed after use.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() ([]byte, error)
	Valid() bool
	Close() error
}

// Erase converts a statically typed store into one handing out the Tree
// interface, for callers that choose the backend at runtime.
func Erase[T Tree](s Store[T]) Store[Tree] {
	return erased[T]{s}
}

type erased[T Tree] struct {
	s Store[T]
}

func (e erased[T]) OpenTree(name []byte) (Tree, error) {
	t, err := e.s.OpenTree(name)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Clone returns a copy of b that is never nil, so that present empty values
// stay distinguishable from absent ones.
func Clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
