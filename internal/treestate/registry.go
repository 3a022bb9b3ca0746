// Package treestate keeps the in-process state of durable trees: the writer
// lock and the registered merge operator. Engines persist only keys and
// values, so this state is shared by every handle opened for the same name.
package treestate

import (
	"sync"

	"github.com/eigerco/toboggan/internal/keyspace"
	"github.com/eigerco/toboggan/pkg/db"
)

// Shared is the state aliased by every handle of one tree.
type Shared struct {
	Name []byte
	ID   keyspace.TreeID

	// writeMu serialises writers so that a read-modify-write merge cannot
	// interleave with another write to the same tree.
	writeMu sync.Mutex

	opMu    sync.RWMutex
	mergeOp db.MergeOperator
}

// Lock acquires the tree's writer lock.
func (s *Shared) Lock() { s.writeMu.Lock() }

// Unlock releases the tree's writer lock.
func (s *Shared) Unlock() { s.writeMu.Unlock() }

func (s *Shared) SetMergeOperator(op db.MergeOperator) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mergeOp = op
}

func (s *Shared) MergeOperator() db.MergeOperator {
	s.opMu.RLock()
	defer s.opMu.RUnlock()
	return s.mergeOp
}

// Registry maps tree names to their shared state.
type Registry struct {
	mu    sync.Mutex
	trees map[string]*Shared
}

func NewRegistry() *Registry {
	return &Registry{trees: make(map[string]*Shared)}
}

// Open returns the state registered under name. On first use assign is called,
// while the registry lock is held, to resolve the tree's id in the engine.
func (r *Registry) Open(name []byte, assign func(name []byte) (keyspace.TreeID, error)) (*Shared, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.trees[string(name)]; ok {
		return s, nil
	}

	var id keyspace.TreeID
	if assign != nil {
		var err error
		id, err = assign(name)
		if err != nil {
			return nil, err
		}
	}
	s := &Shared{Name: db.Clone(name), ID: id}
	r.trees[string(name)] = s
	return s, nil
}

// Merge computes the value a merge of operand into existing produces.
// With a nil op the operand replaces the value. A nil result means delete.
func Merge(op db.MergeOperator, key, existing, operand []byte) []byte {
	if op == nil {
		return db.Clone(operand)
	}
	merged := op(key, existing, operand)
	if merged == nil {
		return nil
	}
	return db.Clone(merged)
}
