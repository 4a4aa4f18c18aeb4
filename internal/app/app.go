// Package app wires configuration into the services shared by the api, worker and
// ragctl binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	arkmodel "github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/internal/chunker"
	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/internal/common/models"
	"github.com/chongs12/learning-rag/internal/document"
	"github.com/chongs12/learning-rag/internal/embedding"
	"github.com/chongs12/learning-rag/internal/extraction"
	"github.com/chongs12/learning-rag/internal/ingestion"
	"github.com/chongs12/learning-rag/internal/rag_query"
	"github.com/chongs12/learning-rag/internal/vector"
	"github.com/chongs12/learning-rag/pkg/config"
	"github.com/chongs12/learning-rag/pkg/database"
	"github.com/chongs12/learning-rag/pkg/logger"
	"github.com/chongs12/learning-rag/pkg/metrics"
	"github.com/chongs12/learning-rag/pkg/rabbitmq"
	"github.com/chongs12/learning-rag/pkg/tracing"
)

// Role selects which optional pieces a binary needs.
type Role int

const (
	RoleAPI Role = iota
	RoleWorker
	RoleCLI
)

// Container owns every long-lived dependency. Close releases them in reverse order.
type Container struct {
	Config *config.Config

	DB       *database.Database
	Redis    *redis.Client
	Broker   *rabbitmq.Client
	Index    vector.Index
	Embedder embedding.Embedder

	Repository *document.Repository
	Vectors    *vector.VectorService
	Pipeline   *ingestion.Pipeline
	Dispatcher ingestion.Dispatcher
	Documents  *document.DocumentService
	Query      *rag_query.QueryService
	Ask        *rag_query.AskService

	closers []func() error
}

func (c *Container) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// New loads configuration and builds the container for role. On error everything
// opened so far is closed.
func New(ctx context.Context, role Role) (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.Server.LogLevel)

	c := &Container{Config: cfg}
	ready := false
	defer func() {
		if !ready {
			c.Close()
		}
	}()

	if cfg.Tracing.Enabled && role != RoleCLI {
		shutdown, terr := tracing.InitTracer(ctx, cfg.Tracing.ServiceName, cfg.Tracing.OTLPEndpoint)
		if terr != nil {
			return nil, terr
		}
		c.onClose(func() error { return shutdown(context.Background()) })
	}

	if c.DB, err = database.Open(ctx, &cfg.Database, cfg.Server.Mode); err != nil {
		return nil, err
	}
	c.onClose(c.DB.Close)
	if err = c.DB.AutoMigrate(&models.Subject{}, &models.Document{}); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if perr := c.Redis.Ping(ctx).Err(); perr != nil {
			// 缓存与会话历史均为可选
			logger.WithError(perr).Warn("redis unavailable, continuing without cache")
			c.Redis.Close()
			c.Redis = nil
		} else {
			c.onClose(c.Redis.Close)
		}
	}

	if c.Embedder, err = embedding.New(ctx, cfg, c.Redis); err != nil {
		return nil, err
	}
	if role != RoleCLI {
		if err = embedding.Probe(ctx, c.Embedder); err != nil {
			return nil, err
		}
	}

	if c.Index, err = openIndex(ctx, cfg); err != nil {
		return nil, err
	}
	c.onClose(c.Index.Close)
	if cerr := c.Index.EnsureCollection(ctx); cerr != nil {
		// 下次操作时存储会自行修复
		logger.WithError(cerr).Warn("vector collection not ready")
	}

	c.Repository = document.NewRepository(c.DB.DB)
	c.Vectors = vector.NewVectorService(c.Index, c.Embedder)

	splitter := chunker.New(
		chunker.WithChunkSize(cfg.Chunking.Size),
		chunker.WithOverlap(cfg.Chunking.Overlap),
	)
	c.Pipeline = ingestion.NewPipeline(c.Repository, extraction.New(), splitter, c.Embedder, c.Index,
		ingestion.WithEmbedBatching(cfg.Embedding.BatchSize, cfg.Ingestion.EmbedConcurrency),
		ingestion.WithMetrics(metrics.Business()),
	)

	if err = c.openDispatcher(cfg, role); err != nil {
		return nil, err
	}

	if c.Documents, err = document.NewDocumentService(c.Repository, c.Vectors, c.Dispatcher,
		cfg.Storage.UploadPath, cfg.Storage.MaxFileSize, cfg.Storage.AllowedTypes); err != nil {
		return nil, err
	}

	c.Query = rag_query.NewQueryService(c.Repository, c.Embedder, c.Index, cfg.Query.TopK, cfg.Query.Timeout)
	if role == RoleAPI {
		if c.Ask, err = c.openAsk(ctx, cfg); err != nil {
			return nil, err
		}
	}

	logger.WithFields(logrus.Fields{
		"event_type": "startup",
		"vector":     cfg.Vector.Backend,
		"queue":      cfg.Ingestion.Queue,
		"embedding":  cfg.Embedding.Provider,
		"chunk_size": splitter.Size(),
		"overlap":    splitter.Overlap(),
		"redis":      c.Redis != nil,
		"ask":        c.Ask != nil,
	}).Info("services initialized")
	ready = true
	return c, nil
}

func openIndex(ctx context.Context, cfg *config.Config) (vector.Index, error) {
	switch cfg.Vector.Backend {
	case "milvus":
		cli, err := vector.DialMilvus(ctx, cfg.Milvus.Addr, cfg.Milvus.Username, cfg.Milvus.Password)
		if err != nil {
			return nil, err
		}
		return vector.NewMilvusStore(cli, vector.MilvusOptions{
			Collection:     cfg.Milvus.Collection,
			VectorField:    cfg.Milvus.VectorField,
			Dimension:      cfg.Milvus.VectorDim,
			IndexM:         cfg.Milvus.IndexM,
			EfConstruction: cfg.Milvus.EfConstruction,
			SearchEf:       cfg.Milvus.SearchEf,
		}), nil
	case "chromem":
		return vector.NewChromemStore(cfg.Vector.ChromemPath, cfg.Milvus.Collection, cfg.Milvus.VectorDim)
	case "memory":
		return vector.NewMemoryStore(cfg.Milvus.VectorDim), nil
	}
	return nil, &errs.ConfigurationError{Field: "vector.backend", Err: fmt.Errorf("unknown backend %q", cfg.Vector.Backend)}
}

// openDispatcher runs ingestion in-process for the pool queue, inline for the cli so
// runs finish before it exits. With rabbitmq every binary publishes and the worker
// also consumes from the same client.
func (c *Container) openDispatcher(cfg *config.Config, role Role) error {
	switch cfg.Ingestion.Queue {
	case "pool":
		if role == RoleCLI {
			c.Dispatcher = ingestion.NewInline(c.Pipeline, cfg.Ingestion.MaxDuration)
			return nil
		}
		pool := ingestion.NewPool(c.Pipeline, cfg.Ingestion.Workers, cfg.Ingestion.QueueSize, cfg.Ingestion.MaxDuration)
		c.Dispatcher = pool
		c.onClose(pool.Close)
		return nil
	case "rabbitmq":
		broker, err := rabbitmq.NewClient(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			return err
		}
		c.Broker = broker
		c.onClose(func() error { broker.Close(); return nil })
		c.Dispatcher = ingestion.NewQueueDispatcher(broker)
		return nil
	}
	return &errs.ConfigurationError{Field: "ingestion.queue", Err: fmt.Errorf("unknown queue %q", cfg.Ingestion.Queue)}
}

// openAsk 初始化 Ark ChatModel 作为 LLM；未配置模型时返回 nil，生成接口返回 503
func (c *Container) openAsk(ctx context.Context, cfg *config.Config) (*rag_query.AskService, error) {
	if cfg.Ark.APIKey == "" || cfg.RagQuery.Model == "" {
		logger.Warn("ark api key or rag model not set, answer generation disabled")
		return nil, nil
	}
	maxTokens := cfg.RagQuery.Parameters.MaxTokens
	temperature := float32(cfg.RagQuery.Parameters.Temperature)
	chat, err := arkmodel.NewChatModel(ctx, &arkmodel.ChatModelConfig{
		APIKey:      cfg.Ark.APIKey,
		Model:       cfg.RagQuery.Model,
		BaseURL:     cfg.Ark.BaseURL,
		Region:      cfg.Ark.Region,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("init ark chat model: %w", err)
	}

	var history rag_query.History
	if c.Redis != nil {
		history = rag_query.NewRedisHistory(c.Redis, cfg.RagQuery.HistoryTurns, cfg.RagQuery.HistoryTTL)
	}
	return rag_query.NewAskService(c.Query, chat, history, temperature, maxTokens), nil
}

// Close stops the dispatcher first so in-flight ingestion records its outcome while
// the database is still open.
func (c *Container) Close() error {
	var errList []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errList = append(errList, err)
		}
	}
	c.closers = nil
	return errors.Join(errList...)
}
