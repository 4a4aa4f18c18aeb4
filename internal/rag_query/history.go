package rag_query

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/chongs12/learning-rag/pkg/logger"
)

// RedisHistory 按租户与会话把对话轮次存为有长度上限的 Redis 列表
type RedisHistory struct {
	rdb      *redis.Client
	maxTurns int
	ttl      time.Duration
}

func NewRedisHistory(rdb *redis.Client, maxTurns int, ttl time.Duration) *RedisHistory {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisHistory{rdb: rdb, maxTurns: maxTurns, ttl: ttl}
}

func historyKey(tenantID, sessionID string) string {
	return fmt.Sprintf("rag:hist:%s:%s", tenantID, sessionID)
}

func (h *RedisHistory) Load(ctx context.Context, tenantID, sessionID string) []*schema.Message {
	vals, err := h.rdb.LRange(ctx, historyKey(tenantID, sessionID), 0, -1).Result()
	if err != nil {
		logger.WithError(err).Warn("failed to load conversation history")
		return nil
	}
	msgs := make([]*schema.Message, 0, len(vals))
	for _, v := range vals {
		var m schema.Message
		if err := sonic.UnmarshalString(v, &m); err != nil {
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs
}

func (h *RedisHistory) Append(ctx context.Context, tenantID, sessionID string, msgs ...*schema.Message) {
	key := historyKey(tenantID, sessionID)
	values := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		s, err := sonic.MarshalString(m)
		if err != nil {
			continue
		}
		values = append(values, s)
	}
	if len(values) == 0 {
		return
	}
	pipe := h.rdb.TxPipeline()
	pipe.RPush(ctx, key, values...)
	// 一轮包含一问一答
	pipe.LTrim(ctx, key, int64(-2*h.maxTurns), -1)
	pipe.Expire(ctx, key, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.WithError(err).Warn("failed to save conversation history")
	}
}
