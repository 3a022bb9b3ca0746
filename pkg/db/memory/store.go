// Package memory is a transient reference implementation of the db contract.
// Every tree is an ordered map guarded by a single mutex.
package memory

import (
	"bytes"
	"sort"
	"sync"

	"github.com/eigerco/toboggan/pkg/db"
)

var _ db.Store[*Tree] = (*Store)(nil)

// Store is a registry of in-memory trees keyed by name.
type Store struct {
	mu    sync.Mutex
	trees map[string]*Tree
}

func NewStore() *Store {
	return &Store{trees: make(map[string]*Tree)}
}

// OpenTree returns the tree registered under name, creating an empty one on
// first use. Every call with an equal name returns the same *Tree.
func (s *Store) OpenTree(name []byte) (*Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.trees[string(name)]; ok {
		return t, nil
	}
	t := newTree()
	s.trees[string(name)] = t
	return t, nil
}

// TreeNames lists the names of every opened tree in ascending order.
func (s *Store) TreeNames() [][]byte {
	s.mu.Lock()
	names := make([][]byte, 0, len(s.trees))
	for name := range s.trees {
		names = append(names, []byte(name))
	}
	s.mu.Unlock()

	sort.Slice(names, func(i, j int) bool {
		return bytes.Compare(names[i], names[j]) < 0
	})
	return names
}
