package embedding

import (
	"context"
	"errors"
	"sync"
	"time"
)

// countingEmbedder returns [len(text), index-in-call, 1] and records every call.
type countingEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	dim   int
	err   error
}

func (f *countingEmbedder) Dimension() int { return f.dim }

func (f *countingEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), inputs...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = []float32{float32(len(in)), float32(i), 1}
	}
	return out, nil
}

func (f *countingEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (m *mapCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if m.failGet {
		return nil, false, errors.New("cache down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}
