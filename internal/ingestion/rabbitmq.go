package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, messageID string, body []byte) error
}

// QueueDispatcher hands jobs to a durable broker queue drained by Consumer.
type QueueDispatcher struct {
	pub Publisher
}

func NewQueueDispatcher(pub Publisher) *QueueDispatcher {
	return &QueueDispatcher{pub: pub}
}

func (d *QueueDispatcher) Submit(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	body, err := EncodeJob(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := d.pub.Publish(ctx, fmt.Sprintf("%s:%d", job.DocumentID, job.Run), body); err != nil {
		return fmt.Errorf("publish ingestion job: %w", err)
	}
	logger.WithFieldsCtx(ctx, withEvent(jobFields(job), "ingestion_queued")).Info("ingestion job published")
	return nil
}

// Close is a no-op; the broker client is owned by the caller.
func (d *QueueDispatcher) Close() error { return nil }

type DeliverySource interface {
	Consume(prefetchCount int, consumer string) (<-chan amqp.Delivery, error)
}

// Consumer drains the broker queue into a local Pool. Deliveries are acked once
// their run has recorded a terminal status. Undecodable messages go to the dead
// letter queue, and deliveries the pool cannot take right now are requeued.
type Consumer struct {
	src      DeliverySource
	pool     *Pool
	prefetch int
	name     string
}

func NewConsumer(src DeliverySource, runner Runner, prefetch int, maxDuration time.Duration) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{
		src: src,
		// every shard can hold the full prefetch window, so Submit only fails while closing
		pool:     NewPool(runner, prefetch, prefetch, maxDuration),
		prefetch: prefetch,
		name:     "ingestion-worker",
	}
}

// Run blocks until ctx is done or the delivery channel closes, then drains the pool.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.src.Consume(c.prefetch, c.name)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	defer c.pool.Close()

	logger.WithFieldsCtx(ctx, logrus.Fields{
		"event_type": "consumer_started",
		"prefetch":   c.prefetch,
	}).Info("ingestion consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	job, err := DecodeJob(d.Body)
	if err != nil {
		logger.WithFieldsCtx(ctx, logrus.Fields{
			"event_type": "job_rejected",
			"message_id": d.MessageId,
		}).WithError(err).Error("undecodable ingestion job, dead-lettering")
		if nerr := d.Nack(false, false); nerr != nil {
			logger.WithError(nerr).Error("nack failed")
		}
		return
	}

	err = c.pool.submit(ctx, job, func(runErr error) {
		if runErr != nil && !errors.Is(runErr, ErrStaleRun) {
			logger.WithFieldsCtx(ctx, withEvent(jobFields(job), "ingestion_acked")).WithError(runErr).Warn("acking failed run, status recorded")
		}
		if aerr := d.Ack(false); aerr != nil {
			logger.WithFieldsCtx(ctx, withEvent(jobFields(job), "ack_failed")).WithError(aerr).Error("ack failed")
		}
	})
	if err != nil {
		logger.WithFieldsCtx(ctx, withEvent(jobFields(job), "job_requeued")).WithError(err).Warn("pool unavailable, requeueing")
		if nerr := d.Nack(false, true); nerr != nil {
			logger.WithError(nerr).Error("nack failed")
		}
	}
}
