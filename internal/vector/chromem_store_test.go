package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemStore(t *testing.T) {
	s, err := NewChromemStore("", "chunks_test", 3)
	require.NoError(t, err)
	testIndexContract(t, s)
}

func TestChromemStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewChromemStore(dir, "chunks", 3)
	require.NoError(t, err)
	require.NoError(t, s.Insert(context.Background(), sampleChunks()[:2]))

	reopened, err := NewChromemStore(dir, "chunks", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Count())
}

func TestChromemStore_SearchEmptyCollection(t *testing.T) {
	s, err := NewChromemStore("", "empty", 3)
	require.NoError(t, err)
	hits, err := s.Search(context.Background(), []float32{1, 0, 0}, Eq(FieldTenantID, "u1"), 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
