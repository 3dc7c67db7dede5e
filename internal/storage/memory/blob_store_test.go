package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStoreKeepsPrivateCopy(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("id,name\n")
	uri, err := store.PutObject(context.Background(), "reviews-app/stores.csv", "text/csv", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://reviews-app/stores.csv", uri)

	payload[0] = 'X'
	body, contentType, ok := store.Object("reviews-app/stores.csv")
	require.True(t, ok)
	require.Equal(t, "text/csv", contentType)
	require.Equal(t, "id,name\n", string(body))

	body[0] = 'Y'
	again, _, _ := store.Object("reviews-app/stores.csv")
	require.Equal(t, "id,name\n", string(again))

	_, _, ok = store.Object("missing.csv")
	require.False(t, ok)
}
