package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/internal/app"
	"github.com/chongs12/learning-rag/internal/ingestion"
	"github.com/chongs12/learning-rag/pkg/logger"
)

// The worker drains the ingestion queue when ingestion.queue is rabbitmq.
func main() {
	logger.Init()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.New(ctx, app.RoleWorker)
	if err != nil {
		fmt.Printf("Failed to initialize services: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()
	cfg := c.Config

	if c.Broker == nil {
		logger.Errorf("worker requires ingestion.queue=rabbitmq, got %q", cfg.Ingestion.Queue)
		return
	}

	consumer := ingestion.NewConsumer(c.Broker, c.Pipeline, cfg.RabbitMQ.Prefetch, cfg.Ingestion.MaxDuration)
	logger.WithFields(logrus.Fields{
		"event_type": "startup",
		"queue":      c.Broker.Queue(),
		"prefetch":   cfg.RabbitMQ.Prefetch,
	}).Info("ingestion worker started")

	if err := consumer.Run(ctx); err != nil {
		logger.WithError(err).Error("ingestion worker stopped")
		return
	}
	logger.Info("ingestion worker exited")
}
