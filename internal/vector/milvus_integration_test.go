package vector

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chongs12/learning-rag/internal/common/errs"
)

func TestMilvusStore_Integration(t *testing.T) {
	addr := os.Getenv("MILVUS_ADDR")
	if addr == "" {
		t.Skip("skip integration: missing MILVUS_ADDR")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cli, err := DialMilvus(ctx, addr, os.Getenv("MILVUS_USERNAME"), os.Getenv("MILVUS_PASSWORD"))
	require.NoError(t, err)

	collection := fmt.Sprintf("chunks_it_%d", time.Now().UnixNano())
	store := NewMilvusStore(cli, MilvusOptions{Collection: collection, Dimension: 3})
	defer func() {
		_ = cli.DropCollection(context.Background(), collection)
		_ = store.Close()
	}()

	hits, err := store.Search(ctx, []float32{1, 0, 0}, Eq(FieldTenantID, "u1"), 3)
	require.NoError(t, err)
	assert.Empty(t, hits, "search before the collection exists")

	require.NoError(t, store.DeleteByDocument(ctx, "d1"), "delete before the collection exists")

	testIndexContract(t, store)

	wrongDim := NewMilvusStore(cli, MilvusOptions{Collection: collection, Dimension: 4})
	err = wrongDim.EnsureCollection(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err), "got %v", err)
}
