package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/pkg/logger"
	"github.com/chongs12/learning-rag/pkg/metrics"
)

// CacheStore is a byte-oriented key/value store with expiry.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cached serves repeated inputs from a CacheStore. Cache failures are logged and
// fall through to the wrapped embedder.
type Cached struct {
	inner     Embedder
	store     CacheStore
	namespace string
	ttl       time.Duration
}

func NewCached(inner Embedder, store CacheStore, namespace string, ttl time.Duration) *Cached {
	return &Cached{inner: inner, store: store, namespace: namespace, ttl: ttl}
}

func (c *Cached) Dimension() int { return c.inner.Dimension() }

func (c *Cached) key(text string) string {
	h := sha256.Sum256([]byte(text))
	return "emb:" + c.namespace + ":" + hex.EncodeToString(h[:])
}

func (c *Cached) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(inputs))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, text := range inputs {
		raw, ok, err := c.store.Get(ctx, c.key(text))
		if err != nil {
			logger.WithFieldsCtx(ctx, logrus.Fields{"error": err.Error()}).Warn("embedding cache read failed")
		}
		if ok {
			if v, derr := BytesToFloat32Slice(raw); derr == nil && len(v) == c.Dimension() {
				out[i] = v
				c.observe("hit")
				continue
			}
		}
		c.observe("miss")
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.store.Set(ctx, c.key(missTexts[j]), Float32SliceToBytes(vecs[j]), c.ttl); err != nil {
			logger.WithFieldsCtx(ctx, logrus.Fields{"error": err.Error()}).Warn("embedding cache write failed")
		}
	}
	return out, nil
}

func (c *Cached) observe(result string) {
	metrics.Business().EmbedCache.WithLabelValues(result).Inc()
}

// RedisCache adapts a go-redis client to CacheStore.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

// Float32SliceToBytes encodes little-endian IEEE 754 values.
func Float32SliceToBytes(f []float32) []byte {
	buf := make([]byte, len(f)*4)
	for i, v := range f {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func BytesToFloat32Slice(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid byte length for float32 slice: %d", len(b))
	}
	f := make([]float32, len(b)/4)
	for i := range f {
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return f, nil
}
