package mergeop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcat(t *testing.T) {
	assert.Equal(t, []byte("dogpup"), Concat([]byte("woof"), []byte("dog"), []byte("pup")))
	assert.Equal(t, []byte("pup"), Concat([]byte("woof"), nil, []byte("pup")))

	empty := Concat(nil, nil, nil)
	assert.NotNil(t, empty, "an empty result must still be a value, not a delete")
	assert.Empty(t, empty)
}

func TestConcatDoesNotAliasExisting(t *testing.T) {
	existing := make([]byte, 3, 16)
	copy(existing, "dog")

	merged := Concat(nil, existing, []byte("pup"))
	merged[0] = 'x'
	assert.Equal(t, []byte("dog"), existing)
}

func TestReplace(t *testing.T) {
	operand := []byte("new")
	got := Replace(nil, []byte("old"), operand)
	assert.Equal(t, operand, got)

	got[0] = 'x'
	assert.Equal(t, []byte("new"), operand)
}

func TestAddUint64(t *testing.T) {
	tests := []struct {
		name     string
		existing []byte
		operand  []byte
		want     uint64
	}{
		{name: "absent", existing: nil, operand: EncodeCounter(5), want: 5},
		{name: "sum", existing: EncodeCounter(40), operand: EncodeCounter(2), want: 42},
		{name: "malformed_existing", existing: []byte("junk"), operand: EncodeCounter(1), want: 1},
		{name: "saturates", existing: EncodeCounter(^uint64(0) - 1), operand: EncodeCounter(10), want: ^uint64(0)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := AddUint64(nil, tc.existing, tc.operand)
			require.Len(t, got, CounterSize)
			assert.Equal(t, tc.want, DecodeCounter(got))
		})
	}
}

func TestDeleteOnEmpty(t *testing.T) {
	assert.Nil(t, DeleteOnEmpty(nil, []byte("dog"), nil))
	assert.Nil(t, DeleteOnEmpty(nil, []byte("dog"), []byte{}))
	assert.Equal(t, []byte("dogpup"), DeleteOnEmpty(nil, []byte("dog"), []byte("pup")))
}

func TestByName(t *testing.T) {
	for _, name := range []string{"concat", "replace", "add", "delete-on-empty"} {
		op, err := ByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, op, name)
	}

	_, err := ByName("xor")
	assert.Error(t, err)
}
