package ingestion

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/pkg/logger"
)

type task struct {
	ctx  context.Context
	job  Job
	done func(error)
}

// Pool runs jobs on a fixed set of workers. Jobs are sharded by document ID, so
// runs of the same document execute one after another in submission order.
type Pool struct {
	runner      Runner
	maxDuration time.Duration
	shards      []chan task

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool starts workers immediately. queueSize bounds each shard's backlog.
func NewPool(runner Runner, workers, queueSize int, maxDuration time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		runner:      runner,
		maxDuration: maxDuration,
		shards:      make([]chan task, workers),
		cancel:      cancel,
	}
	for i := range p.shards {
		p.shards[i] = make(chan task, queueSize)
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// Submit queues the job without blocking. The caller's context contributes its
// request-scoped values only; its cancellation does not stop the run.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	return p.submit(ctx, job, nil)
}

func (p *Pool) submit(ctx context.Context, job Job, done func(error)) error {
	if err := job.Validate(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	t := task{ctx: context.WithoutCancel(ctx), job: job, done: done}
	select {
	case p.shards[shardFor(job.DocumentID, len(p.shards))] <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs, cancels running ones and waits for the workers.
// Cancelled runs still record their terminal status.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, ch := range p.shards {
		close(ch)
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	return nil
}

func (p *Pool) worker(ctx context.Context, shard int) {
	defer p.wg.Done()
	for t := range p.shards[shard] {
		if ctx.Err() != nil {
			p.abandon(t, ctx.Err())
			continue
		}
		err := execute(ctx, t.ctx, p.runner, t.job, p.maxDuration)
		if t.done != nil {
			t.done(err)
		}
	}
}

// abandon fails a queued job that will never run because the pool is shutting down.
func (p *Pool) abandon(t task, cause error) {
	reason := fmt.Sprintf("ingestion aborted before start: %v", cause)
	if err := p.runner.Fail(t.ctx, t.job, reason); err != nil {
		logger.WithFieldsCtx(t.ctx, withEvent(jobFields(t.job), "abandon_failed")).WithError(err).Error("failed to record aborted ingestion")
	}
	if t.done != nil {
		t.done(errors.New(reason))
	}
}

// execute runs one job under the watchdog. When maxDuration elapses first the
// document is forced to ERROR at once; the worker still waits for the run to
// unwind so the shard never overlaps two runs of a document.
func execute(parent, values context.Context, runner Runner, job Job, maxDuration time.Duration) error {
	ctx, stop := mergeCancel(values, parent)
	defer stop()
	if maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.WithFieldsCtx(ctx, withEvent(jobFields(job), "ingestion_panic")).
					WithField("stack", string(debug.Stack())).
					Errorf("ingestion panicked: %v", r)
				reason := fmt.Sprintf("ingestion panicked: %v", r)
				if err := runner.Fail(values, job, reason); err != nil {
					logger.WithFieldsCtx(values, withEvent(jobFields(job), "status_write_failed")).WithError(err).Error("failed to record panic")
				}
				done <- errors.New(reason)
			}
		}()
		done <- runner.Run(ctx, job)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.WithFieldsCtx(values, withEvent(jobFields(job), "ingestion_watchdog")).WithFields(logrus.Fields{
				"max_duration": maxDuration.String(),
			}).Error("ingestion exceeded max duration, forcing ERROR")
			if err := runner.Fail(values, job, errWatchdogHit.Error()); err != nil {
				logger.WithFieldsCtx(values, withEvent(jobFields(job), "status_write_failed")).WithError(err).Error("failed to record watchdog failure")
			}
			<-done
			return errWatchdogHit
		}
		return <-done
	}
}

// mergeCancel keeps the values of one context and the cancellation of another.
func mergeCancel(values, cancelSrc context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(values)
	stop := context.AfterFunc(cancelSrc, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func shardFor(documentID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(documentID))
	return int(h.Sum32() % uint32(n))
}

// Inline runs each job on the caller's goroutine under the same watchdog as Pool.
// Submit returns once the run has recorded its status.
type Inline struct {
	runner      Runner
	maxDuration time.Duration
}

func NewInline(runner Runner, maxDuration time.Duration) *Inline {
	return &Inline{runner: runner, maxDuration: maxDuration}
}

func (d *Inline) Submit(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := execute(ctx, ctx, d.runner, job, d.maxDuration); err != nil && !errors.Is(err, ErrStaleRun) {
		logger.WithFieldsCtx(ctx, withEvent(jobFields(job), "ingestion_failed")).WithError(err).Warn("inline ingestion failed, status recorded")
	}
	return nil
}

func (d *Inline) Close() error { return nil }
