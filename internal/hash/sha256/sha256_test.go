package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherFullDigest(t *testing.T) {
	t.Parallel()

	h := New(0)
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)

	other, err := h.Hash([]byte("<html></html>"))
	require.NoError(t, err)
	require.NotEqual(t, got, other)
}

func TestHasherTruncates(t *testing.T) {
	t.Parallel()

	got, err := New(16).Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08", got)

	full, err := New(100).Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Len(t, full, 64)
}

func TestHasherRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := New(16).Hash(nil)
	require.Error(t, err)
}
