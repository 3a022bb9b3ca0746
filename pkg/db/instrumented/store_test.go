package instrumented

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/toboggan/pkg/db"
	"github.com/eigerco/toboggan/pkg/db/dbtest"
	"github.com/eigerco/toboggan/pkg/db/memory"
	"github.com/eigerco/toboggan/pkg/db/mergeop"
)

func TestConformance(t *testing.T) {
	dbtest.Run[*Tree[*memory.Tree]](t, func(t *testing.T) db.Store[*Tree[*memory.Tree]] {
		s, err := Wrap[*memory.Tree](memory.NewStore(), prometheus.NewRegistry())
		require.NoError(t, err)
		return s
	})
}

func TestOperationsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := Wrap[*memory.Tree](memory.NewStore(), reg)
	require.NoError(t, err)

	tree, err := s.OpenTree([]byte("beasts"))
	require.NoError(t, err)
	_, err = s.OpenTree([]byte("beasts"))
	require.NoError(t, err)

	require.NoError(t, tree.Insert([]byte("woof"), []byte("dog")))
	require.NoError(t, tree.Merge([]byte("woof"), []byte("pup")))
	tree.SetMergeOperator(mergeop.Concat)
	require.NoError(t, tree.Merge([]byte("woof"), []byte("py")))
	_, _, err = tree.Get([]byte("woof"))
	require.NoError(t, err)

	ops := s.metrics.operations
	assert.Equal(t, 2.0, testutil.ToFloat64(ops.WithLabelValues("beasts", "open_tree", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("beasts", "insert", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("beasts", "merge_fallback", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("beasts", "merge", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("beasts", "get", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.openTrees))

	assert.Equal(t, []byte("puppy"), mustGet(t, tree, "woof"))
}

func TestOperatorStateSharedByHandles(t *testing.T) {
	s, err := Wrap[*memory.Tree](memory.NewStore(), nil)
	require.NoError(t, err)

	a, err := s.OpenTree([]byte("t"))
	require.NoError(t, err)
	b, err := s.OpenTree([]byte("t"))
	require.NoError(t, err)

	a.SetMergeOperator(mergeop.Concat)
	require.NoError(t, b.Merge([]byte("k"), []byte("v")))

	ops := s.metrics.operations
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("t", "merge", resultOK)))
	assert.Equal(t, 0.0, testutil.ToFloat64(ops.WithLabelValues("t", "merge_fallback", resultOK)))
}

func TestRegisteringTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := Wrap[*memory.Tree](memory.NewStore(), reg)
	require.NoError(t, err)
	second, err := Wrap[*memory.Tree](memory.NewStore(), reg)
	require.NoError(t, err)

	assert.Same(t, first.metrics.operations, second.metrics.operations)
}

// failingTree is a db.Tree whose calls are scripted with testify's mock.
type failingTree struct {
	mock.Mock
}

func (m *failingTree) Insert(key, value []byte) error {
	return m.Called(key, value).Error(0)
}

func (m *failingTree) SetMergeOperator(op db.MergeOperator) {
	m.Called(op)
}

func (m *failingTree) Merge(key, operand []byte) error {
	return m.Called(key, operand).Error(0)
}

func (m *failingTree) Get(key []byte) ([]byte, bool, error) {
	args := m.Called(key)
	v, _ := args.Get(0).([]byte)
	return v, args.Bool(1), args.Error(2)
}

func (m *failingTree) Iter() db.Iterator {
	return m.Called().Get(0).(db.Iterator)
}

func (m *failingTree) Flush() error {
	return m.Called().Error(0)
}

func (m *failingTree) Clear() error {
	return m.Called().Error(0)
}

type singleTreeStore struct {
	tree *failingTree
}

func (s singleTreeStore) OpenTree([]byte) (*failingTree, error) {
	return s.tree, nil
}

func TestBackendErrorsCountedAndPropagated(t *testing.T) {
	engineErr := &db.BackendError{Op: "insert", Err: errors.New("disk on fire")}

	backend := &failingTree{}
	backend.On("Insert", []byte("k"), []byte("v")).Return(engineErr)
	backend.On("Get", []byte("k")).Return(nil, false, engineErr)
	backend.On("Flush").Return(nil)
	backend.On("Iter").Return(db.ErrIterator(engineErr))

	s, err := Wrap[*failingTree](singleTreeStore{tree: backend}, prometheus.NewRegistry())
	require.NoError(t, err)
	tree, err := s.OpenTree([]byte("t"))
	require.NoError(t, err)
	assert.Same(t, backend, tree.Unwrap())

	err = tree.Insert([]byte("k"), []byte("v"))
	assert.ErrorIs(t, err, engineErr)
	assert.True(t, db.IsBackendError(err))

	_, found, err := tree.Get([]byte("k"))
	assert.False(t, found)
	assert.ErrorIs(t, err, engineErr)

	require.NoError(t, tree.Flush())

	_, err = db.Collect(tree)
	assert.ErrorIs(t, err, engineErr)

	ops := s.metrics.operations
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("t", "insert", resultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("t", "get", resultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("t", "flush", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("t", "iter_element", resultError)))
	backend.AssertExpectations(t)
}

func mustGet(t *testing.T, tree db.Tree, key string) []byte {
	t.Helper()
	v, found, err := tree.Get([]byte(key))
	require.NoError(t, err)
	require.True(t, found)
	return v
}
