package zero_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/rbfwallet/internal/zero"
	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 31, 32, 33, 64, 127, 128, 129, 513} {
		b := bytes.Repeat([]byte{0xff}, n)
		zero.Bytes(b)
		require.Equal(t, make([]byte, n), b, "n=%d", n)
	}
}
