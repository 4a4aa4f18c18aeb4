package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	id   string
	body []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, id string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{id: id, body: body})
	return nil
}

type ackRecord struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, ack: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) get() []ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackRecord(nil), a.records...)
}

type fakeSource struct {
	ch chan amqp.Delivery
}

func (s *fakeSource) Consume(prefetch int, consumer string) (<-chan amqp.Delivery, error) {
	return s.ch, nil
}

func TestQueueDispatcherPublishesJob(t *testing.T) {
	pub := &fakePublisher{}
	d := NewQueueDispatcher(pub)
	job := Job{DocumentID: "doc-1", TenantID: "u1", SubjectID: "s1", FilePath: "/uploads/doc-1.pdf", Run: 3}

	require.NoError(t, d.Submit(context.Background(), job))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "doc-1:3", pub.msgs[0].id)

	decoded, err := DecodeJob(pub.msgs[0].body)
	require.NoError(t, err)
	assert.Equal(t, job, decoded)
}

func TestQueueDispatcherWrapsPublishError(t *testing.T) {
	d := NewQueueDispatcher(&fakePublisher{err: errors.New("channel closed")})
	err := d.Submit(context.Background(), testJob("doc", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")

	assert.ErrorIs(t, d.Submit(context.Background(), Job{}), ErrInvalidJob)
}

func TestConsumerAcksProcessedAndDeadLettersGarbage(t *testing.T) {
	runner := &fakeRunner{}
	src := &fakeSource{ch: make(chan amqp.Delivery, 2)}
	acker := &fakeAcknowledger{}

	body, err := EncodeJob(testJob("doc-ok", 1))
	require.NoError(t, err)
	src.ch <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: body}
	src.ch <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte("{not json")}

	c := NewConsumer(src, runner, 2, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(acker.get()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	byTag := map[uint64]ackRecord{}
	for _, r := range acker.get() {
		byTag[r.tag] = r
	}
	assert.True(t, byTag[1].ack)
	assert.False(t, byTag[2].ack)
	assert.False(t, byTag[2].requeue)

	runs := runner.runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "doc-ok", runs[0].DocumentID)
}

func TestConsumerStopsWhenChannelCloses(t *testing.T) {
	src := &fakeSource{ch: make(chan amqp.Delivery)}
	close(src.ch)
	c := NewConsumer(src, &fakeRunner{}, 1, 0)
	assert.Error(t, c.Run(context.Background()))
}

func TestDecodeJobValidates(t *testing.T) {
	_, err := DecodeJob([]byte(`{"document_id":"d","tenant_id":"t","file_path":"/f"}`))
	assert.ErrorIs(t, err, ErrInvalidJob)

	_, err = DecodeJob([]byte(`[]`))
	assert.ErrorIs(t, err, ErrInvalidJob)

	job, err := DecodeJob([]byte(`{"document_id":"d","tenant_id":"t","file_path":"/f","run":2}`))
	require.NoError(t, err)
	assert.Empty(t, job.SubjectID)
	assert.EqualValues(t, 2, job.Run)
}
