package ingestion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/internal/vector"
)

type docState struct {
	run     int64
	status  string
	content string
	chunks  int
}

// fakeStore mirrors the run guard of the gorm repository.
type fakeStore struct {
	mu   sync.Mutex
	docs map[string]*docState
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]*docState)}
}

func (s *fakeStore) begin(docID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		d = &docState{}
		s.docs[docID] = d
	}
	d.run++
	d.status = "PROCESSING"
	return d.run
}

func (s *fakeStore) current(docID string, run int64) (*docState, error) {
	d, ok := s.docs[docID]
	if !ok || d.run != run || d.status != "PROCESSING" {
		return nil, ErrStaleRun
	}
	return d, nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, docID string, run int64, content string, chunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.current(docID, run)
	if err != nil {
		return err
	}
	d.status, d.content, d.chunks = "COMPLETED", content, chunks
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, docID string, run int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.current(docID, run)
	if err != nil {
		return err
	}
	d.status, d.content = "ERROR", reason
	return nil
}

func (s *fakeStore) get(docID string) docState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[docID]; ok {
		return *d
	}
	return docState{}
}

type mapExtractor map[string]string

func (m mapExtractor) Extract(ctx context.Context, path string) (string, error) {
	text, ok := m[path]
	if !ok {
		return "", &errs.ExtractionError{Path: path, Err: errors.New("no such file")}
	}
	return text, nil
}

// fakeEmbedder encodes the byte length of each input in the first component.
type fakeEmbedder struct {
	dim   int
	calls atomic.Int32
	err   error
	hook  func(inputs []string)
}

func (e *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.hook != nil {
		e.hook(inputs)
	}
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v := make([]float32, e.dim)
		v[0] = float32(len(in))
		v[1] = 1
		out[i] = v
	}
	return out, nil
}

func (e *fakeEmbedder) Dimension() int { return e.dim }

// countingIndex counts inserts and can fail them after the write landed.
type countingIndex struct {
	*vector.MemoryStore
	inserts   atomic.Int32
	insertErr error
}

func newCountingIndex(dim int) *countingIndex {
	return &countingIndex{MemoryStore: vector.NewMemoryStore(dim)}
}

func (c *countingIndex) Insert(ctx context.Context, chunks []vector.Chunk) error {
	c.inserts.Add(1)
	if err := c.MemoryStore.Insert(ctx, chunks); err != nil {
		return err
	}
	return c.insertErr
}

type failCall struct {
	job    Job
	reason string
}

type fakeRunner struct {
	run func(ctx context.Context, job Job) error

	mu    sync.Mutex
	ran   []Job
	fails []failCall
}

func (r *fakeRunner) Run(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.ran = append(r.ran, job)
	r.mu.Unlock()
	if r.run != nil {
		return r.run(ctx, job)
	}
	return nil
}

func (r *fakeRunner) Fail(ctx context.Context, job Job, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fails = append(r.fails, failCall{job: job, reason: reason})
	return nil
}

func (r *fakeRunner) failures() []failCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]failCall(nil), r.fails...)
}

func (r *fakeRunner) runs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Job(nil), r.ran...)
}
