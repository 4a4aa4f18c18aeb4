package ingestion

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chongs12/learning-rag/internal/chunker"
	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/internal/vector"
)

const testDim = 4

func docFilter(id string) vector.Filter {
	return vector.Eq(vector.FieldDocumentID, id)
}

func newTestPipeline(store Store, ext Extractor, emb *fakeEmbedder, idx vector.Index, size int, opts ...PipelineOption) *Pipeline {
	splitter := chunker.New(chunker.WithChunkSize(size), chunker.WithOverlap(0))
	return NewPipeline(store, ext, splitter, emb, idx, opts...)
}

func TestPipelineSingleChunkDocumentCompletes(t *testing.T) {
	text := "Paragraph one.\n\nParagraph two about photosynthesis."
	store := newFakeStore()
	idx := newCountingIndex(testDim)
	emb := &fakeEmbedder{dim: testDim}
	p := newTestPipeline(store, mapExtractor{"/u/a.txt": text}, emb, idx, 500)

	job := Job{DocumentID: "doc-a", TenantID: "u1", SubjectID: "s1", FilePath: "/u/a.txt", Run: store.begin("doc-a")}
	require.NoError(t, p.Run(context.Background(), job))

	assert.EqualValues(t, 1, emb.calls.Load())
	assert.EqualValues(t, 1, idx.inserts.Load())

	got := store.get("doc-a")
	assert.Equal(t, "COMPLETED", got.status)
	assert.Equal(t, text, got.content)
	assert.Equal(t, 1, got.chunks)

	chunks := idx.Chunks(docFilter("doc-a"))
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Content)
	assert.Equal(t, "u1", chunks[0].TenantID)
	assert.Equal(t, "s1", chunks[0].SubjectID)
	assert.Equal(t, job.Run, chunks[0].Run)
}

func TestPipelineEmbeddingFailureIndexesNothing(t *testing.T) {
	store := newFakeStore()
	idx := newCountingIndex(testDim)
	emb := &fakeEmbedder{dim: testDim, err: &errs.EmbeddingError{Provider: "ark", Err: errors.New("provider down")}}
	p := newTestPipeline(store, mapExtractor{"/u/b.txt": strings.Repeat("cells divide. ", 40)}, emb, idx, 100)

	job := Job{DocumentID: "doc-b", TenantID: "u1", FilePath: "/u/b.txt", Run: store.begin("doc-b")}
	err := p.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errs.IsEmbedding(err))

	got := store.get("doc-b")
	assert.Equal(t, "ERROR", got.status)
	assert.Contains(t, got.content, "provider down")
	assert.Zero(t, idx.inserts.Load())
	assert.Zero(t, idx.Len())
}

func TestPipelineBlankTextFails(t *testing.T) {
	store := newFakeStore()
	idx := newCountingIndex(testDim)
	p := newTestPipeline(store, mapExtractor{"/u/blank.txt": " \n\t "}, &fakeEmbedder{dim: testDim}, idx, 100)

	job := Job{DocumentID: "doc-c", TenantID: "u1", FilePath: "/u/blank.txt", Run: store.begin("doc-c")}
	err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, errs.ErrEmptyDocument)

	got := store.get("doc-c")
	assert.Equal(t, "ERROR", got.status)
	assert.Equal(t, errs.ErrEmptyDocument.Error(), got.content)
}

func TestPipelineExtractionFailure(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store, mapExtractor{}, &fakeEmbedder{dim: testDim}, newCountingIndex(testDim), 100)

	job := Job{DocumentID: "doc-x", TenantID: "u1", FilePath: "/u/missing.pdf", Run: store.begin("doc-x")}
	err := p.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errs.IsExtraction(err))
	assert.Equal(t, "ERROR", store.get("doc-x").status)
	assert.Contains(t, store.get("doc-x").content, "/u/missing.pdf")
}

func TestPipelineReingestReplacesChunks(t *testing.T) {
	store := newFakeStore()
	idx := newCountingIndex(testDim)
	ext := mapExtractor{"/u/d.txt": strings.Repeat("alpha beta gamma delta. ", 20)}
	p := newTestPipeline(store, ext, &fakeEmbedder{dim: testDim}, idx, 120)

	first := Job{DocumentID: "doc-d", TenantID: "u1", FilePath: "/u/d.txt", Run: store.begin("doc-d")}
	require.NoError(t, p.Run(context.Background(), first))
	firstCount := store.get("doc-d").chunks
	require.Greater(t, firstCount, 1)

	ext["/u/d.txt"] = "short replacement text"
	second := first
	second.Run = store.begin("doc-d")
	require.NoError(t, p.Run(context.Background(), second))

	chunks := idx.Chunks(docFilter("doc-d"))
	require.Len(t, chunks, 1)
	assert.Equal(t, second.Run, chunks[0].Run)
	assert.Equal(t, 1, store.get("doc-d").chunks)
}

func TestPipelineCompletedCountMatchesIndex(t *testing.T) {
	store := newFakeStore()
	idx := newCountingIndex(testDim)
	p := newTestPipeline(store, mapExtractor{"/u/e.txt": strings.Repeat("Mitochondria make energy.\n\n", 30)}, &fakeEmbedder{dim: testDim}, idx, 90)

	job := Job{DocumentID: "doc-e", TenantID: "tenant-7", FilePath: "/u/e.txt", Run: store.begin("doc-e")}
	require.NoError(t, p.Run(context.Background(), job))

	got := store.get("doc-e")
	chunks := idx.Chunks(docFilter("doc-e"))
	assert.Equal(t, got.chunks, len(chunks))
	for _, c := range chunks {
		assert.Equal(t, "tenant-7", c.TenantID)
	}
}

func TestPipelinePreservesChunkOrderUnderConcurrency(t *testing.T) {
	store := newFakeStore()
	idx := newCountingIndex(testDim)
	rng := rand.New(rand.NewSource(7))
	var jitter []time.Duration
	for i := 0; i < 64; i++ {
		jitter = append(jitter, time.Duration(rng.Intn(3))*time.Millisecond)
	}
	emb := &fakeEmbedder{dim: testDim}
	emb.hook = func(inputs []string) {
		time.Sleep(jitter[len(inputs[0])%len(jitter)])
	}

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString(strings.Repeat("x", 1+i%7))
		b.WriteString(" ")
	}
	p := newTestPipeline(store, mapExtractor{"/u/f.txt": b.String()}, emb, idx, 16, WithEmbedBatching(1, 8))

	job := Job{DocumentID: "doc-f", TenantID: "u1", FilePath: "/u/f.txt", Run: store.begin("doc-f")}
	require.NoError(t, p.Run(context.Background(), job))

	chunks := idx.Chunks(docFilter("doc-f"))
	require.Greater(t, len(chunks), 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, float32(len(c.Content)), c.Vector[0], "chunk %d carries another chunk's vector", i)
		if i > 0 {
			assert.GreaterOrEqual(t, c.Start, chunks[i-1].Start)
		}
	}
}

func TestPipelineStaleRunRemovesItsChunks(t *testing.T) {
	store := newFakeStore()
	idx := newCountingIndex(testDim)
	p := newTestPipeline(store, mapExtractor{"/u/g.txt": "some text"}, &fakeEmbedder{dim: testDim}, idx, 100)

	stale := Job{DocumentID: "doc-g", TenantID: "u1", FilePath: "/u/g.txt", Run: store.begin("doc-g")}
	store.begin("doc-g")

	err := p.Run(context.Background(), stale)
	require.ErrorIs(t, err, ErrStaleRun)
	assert.Empty(t, idx.Chunks(docFilter("doc-g")))
	assert.Equal(t, "PROCESSING", store.get("doc-g").status)
}

func TestPipelineInsertFailureCleansUp(t *testing.T) {
	store := newFakeStore()
	idx := newCountingIndex(testDim)
	idx.insertErr = &errs.IndexUnavailableError{Op: "insert", Err: errors.New("flush timed out")}
	p := newTestPipeline(store, mapExtractor{"/u/h.txt": "text that will be inserted"}, &fakeEmbedder{dim: testDim}, idx, 100)

	job := Job{DocumentID: "doc-h", TenantID: "u1", FilePath: "/u/h.txt", Run: store.begin("doc-h")}
	err := p.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errs.IsIndexUnavailable(err))
	assert.Zero(t, idx.Len())
	assert.Equal(t, "ERROR", store.get("doc-h").status)
}

func TestPipelineDimensionMismatchIsConfigurationError(t *testing.T) {
	store := newFakeStore()
	idx := newCountingIndex(testDim)
	p := newTestPipeline(store, mapExtractor{"/u/i.txt": "text"}, &fakeEmbedder{dim: testDim + 2}, idx, 100)

	job := Job{DocumentID: "doc-i", TenantID: "u1", FilePath: "/u/i.txt", Run: store.begin("doc-i")}
	err := p.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
	assert.Zero(t, idx.inserts.Load())
}

func TestPipelineCancelledRunStillRecordsError(t *testing.T) {
	store := newFakeStore()
	idx := newCountingIndex(testDim)
	ctx, cancel := context.WithCancel(context.Background())
	emb := &fakeEmbedder{dim: testDim}
	emb.hook = func([]string) { cancel() }
	emb.err = context.Canceled
	p := newTestPipeline(store, mapExtractor{"/u/j.txt": "text"}, emb, idx, 100)

	job := Job{DocumentID: "doc-j", TenantID: "u1", FilePath: "/u/j.txt", Run: store.begin("doc-j")}
	require.ErrorIs(t, p.Run(ctx, job), context.Canceled)
	assert.Equal(t, "ERROR", store.get("doc-j").status)
}

func TestPipelineFailRemovesRunChunks(t *testing.T) {
	store := newFakeStore()
	idx := newCountingIndex(testDim)
	p := newTestPipeline(store, mapExtractor{}, &fakeEmbedder{dim: testDim}, idx, 100)

	run := store.begin("doc-k")
	require.NoError(t, idx.Insert(context.Background(), []vector.Chunk{
		{ID: "old", TenantID: "u1", DocumentID: "doc-k", Run: run - 1, Vector: []float32{1, 0, 0, 0}},
		{ID: "new", TenantID: "u1", DocumentID: "doc-k", Run: run, Vector: []float32{1, 0, 0, 0}},
	}))

	job := Job{DocumentID: "doc-k", TenantID: "u1", FilePath: "/u/k.txt", Run: run}
	require.NoError(t, p.Fail(context.Background(), job, "watchdog"))

	left := idx.Chunks(docFilter("doc-k"))
	require.Len(t, left, 1)
	assert.Equal(t, "old", left[0].ID)
	assert.Equal(t, "ERROR", store.get("doc-k").status)
	assert.Equal(t, "watchdog", store.get("doc-k").content)
}
