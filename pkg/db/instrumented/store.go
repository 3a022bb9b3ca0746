// Package instrumented decorates any db.Store with prometheus metrics.
//
// Operations are counted per tree name. The tree label takes whatever names
// callers open, so its cardinality is only bounded when the set of tree names
// is.
//
// A merge is labelled "merge" or "merge_fallback" from the operator state read
// just before the backend merge runs. A SetMergeOperator racing with the merge
// can therefore get it counted under the other label; the merge itself still
// uses whichever operator the backend observes.
package instrumented

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eigerco/toboggan/pkg/db"
)

type Store[T db.Tree] struct {
	inner   db.Store[T]
	metrics *Metrics

	mu sync.Mutex
	// hasOperator tracks, per tree name, whether a merge operator is
	// registered, so merges that silently degrade to inserts can be counted.
	hasOperator map[string]*atomic.Bool
}

var _ db.Store[*Tree[db.Tree]] = (*Store[db.Tree])(nil)

// Wrap instruments inner, registering its collectors with reg. A nil reg
// leaves the collectors unregistered.
func Wrap[T db.Tree](inner db.Store[T], reg prometheus.Registerer) (*Store[T], error) {
	m, err := NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &Store[T]{
		inner:       inner,
		metrics:     m,
		hasOperator: make(map[string]*atomic.Bool),
	}, nil
}

func (s *Store[T]) OpenTree(name []byte) (*Tree[T], error) {
	start := time.Now()
	inner, err := s.inner.OpenTree(name)
	s.metrics.observe(string(name), "open_tree", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	flag, ok := s.hasOperator[string(name)]
	if !ok {
		flag = new(atomic.Bool)
		s.hasOperator[string(name)] = flag
		s.metrics.openTrees.Inc()
	}
	s.mu.Unlock()

	return &Tree[T]{
		inner:       inner,
		name:        string(name),
		metrics:     s.metrics,
		hasOperator: flag,
	}, nil
}
