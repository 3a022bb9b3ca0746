package testutils

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

// RandomBytes returns n random bytes.
func RandomBytes(t testing.TB, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// RandomLenBytes returns between 0 and maxLen random bytes.
func RandomLenBytes(t testing.TB, maxLen int) []byte {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxLen)+1))
	require.NoError(t, err)
	return RandomBytes(t, int(n.Int64()))
}
