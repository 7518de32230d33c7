package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// charEmbed is a trivial deterministic embedding for tests: counts of a few
// letters, normalized enough for cosine similarity to separate the fixtures.
func charEmbed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 26)
	for _, r := range text {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		}
	}
	return vec, nil
}

func TestStoreAddAndSearch(t *testing.T) {
	store, err := NewStore(Config{Collection: "test"}, charEmbed)
	require.NoError(t, err)

	err = store.Add(context.Background(), []Document{
		{ID: "d1", Content: "vat reconciliation rules", Metadata: map[string]string{"kind": "policy"}},
		{ID: "d2", Content: "zzz zzz zzz"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, store.Count())

	results, err := store.Search(context.Background(), "vat rules", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].Document.ID)
	assert.Equal(t, "policy", results[0].Document.Metadata["kind"])
}

func TestSearchEmptyStore(t *testing.T) {
	store, err := NewStore(Config{Collection: "empty"}, charEmbed)
	require.NoError(t, err)

	results, err := store.Search(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchClampsTopK(t *testing.T) {
	store, err := NewStore(Config{Collection: "clamp"}, charEmbed)
	require.NoError(t, err)
	require.NoError(t, store.Add(context.Background(), []Document{{ID: "only", Content: "alpha beta"}}))

	results, err := store.Search(context.Background(), "alpha", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
