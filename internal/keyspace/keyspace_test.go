package keyspace

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeIDRoundTrip(t *testing.T) {
	for _, id := range []TreeID{0, 1, 255, 1 << 40, ^TreeID(0)} {
		got, err := DecodeTreeID(EncodeTreeID(id))
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	_, err := DecodeTreeID([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidTreeID)
}

func TestTreeKeysStayInsideBounds(t *testing.T) {
	id := TreeID(7)
	lower, upper := id.Prefix(), id.UpperBound()

	for _, userKey := range [][]byte{{}, {0x00}, {0xff, 0xff, 0xff}, []byte("woof")} {
		key := id.Key(userKey)
		assert.True(t, bytes.Compare(key, lower) >= 0, "key %x below lower bound", key)
		assert.True(t, bytes.Compare(key, upper) < 0, "key %x not below upper bound", key)
		assert.Equal(t, userKey, id.UserKey(key))
	}

	// neighbouring trees never overlap
	assert.True(t, bytes.Compare(TreeID(8).Key(nil), upper) >= 0)
	assert.True(t, bytes.Compare(TreeID(6).Key([]byte{0xff, 0xff}), lower) < 0)
}

func TestLastTreeIDUpperBound(t *testing.T) {
	id := ^TreeID(0)
	key := id.Key([]byte{0xff})
	assert.True(t, bytes.Compare(key, id.UpperBound()) < 0)
}

func TestMetadataKeysOutsideTreeData(t *testing.T) {
	lowest := TreeID(0).Prefix()
	assert.True(t, bytes.Compare(NextTreeIDKey(), lowest) < 0)
	assert.True(t, bytes.Compare(TreeNameKey([]byte{0xff, 0xff}), lowest) < 0)
}
