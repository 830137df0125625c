package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("<html></html>")
	uri, err := store.PutObject(context.Background(), "widgets/mask-1/job-1.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://widgets/mask-1/job-1.html", uri)

	payload[0] = 'X'
	got, ok := store.Object("widgets/mask-1/job-1.html")
	require.True(t, ok)
	require.Equal(t, "<html></html>", string(got))
	require.Equal(t, "text/html", store.ContentType("widgets/mask-1/job-1.html"))
}
