//go:build integration

package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-queryflow/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type firestoreTestValue struct {
	Name  string
	Count int
}

// Requires the Firestore emulator, e.g. FIRESTORE_EMULATOR_HOST=localhost:8080.
func TestFirestoreCache_Integration(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	const projectID = "test-project"
	client, err := firestore.NewClient(ctx, projectID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := &cache.FirestoreConfig{
		ProjectID:      projectID,
		CollectionName: "queryflow-snapshots",
	}
	c, err := cache.NewFirestoreCache[string, firestoreTestValue](cfg, client, zerolog.Nop())
	require.NoError(t, err)

	t.Run("Write then Fetch", func(t *testing.T) {
		value := firestoreTestValue{Name: "test-item", Count: 42}
		require.NoError(t, c.WriteToCache(ctx, "snapshot:dog", value))

		retrieved, err := c.FetchFromCache(ctx, "snapshot:dog")
		require.NoError(t, err)
		assert.Equal(t, value, retrieved)
	})

	t.Run("Fetch Miss", func(t *testing.T) {
		_, err := c.FetchFromCache(ctx, "non-existent-doc")
		require.Error(t, err)
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
	})
}
