package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
	"github.com/drblury/queueflow/internal/runtime/handlers"
	"github.com/drblury/queueflow/internal/runtime/logging"
	"github.com/drblury/queueflow/internal/runtime/queue"
)

const DefaultFailureBackoff = 5 * time.Second

// InlineConfig configures the single-process consumer.
type InlineConfig struct {
	QueueName   string
	Concurrency int
	BatchSize   int
	WaitTime    time.Duration
	// FailureBackoff is the visibility applied after an unhandled handler
	// error. Defaults to DefaultFailureBackoff.
	FailureBackoff time.Duration
	Queue          queue.Queue
	Registry       *handlers.Registry
	Logger         logging.ServiceLogger
	Metrics        *Metrics
	Hooks          JobHooks
	DebugMode      bool
}

// InlineConsumer receives and executes messages in one process. Retries and
// failures rely on the queue's visibility timeout for redelivery.
type InlineConsumer struct {
	cfg    InlineConfig
	proc   *processor
	logger logging.ServiceLogger
}

func NewInlineConsumer(cfg InlineConfig) (*InlineConsumer, error) {
	if cfg.Queue == nil {
		return nil, qferrors.ErrQueueRequired
	}
	if cfg.Registry == nil {
		return nil, qferrors.ErrRegistryRequired
	}
	if cfg.Logger == nil {
		return nil, qferrors.ErrLoggerRequired
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.WaitTime < 0 {
		cfg.WaitTime = DefaultWaitTime
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = DefaultFailureBackoff
	}

	logger := cfg.Logger.With(logging.LogFields{"queue": cfg.QueueName})
	proc := newProcessor(cfg.Queue, cfg.Registry, logger, cfg.Metrics, cfg.Hooks)
	proc.failureBackoff = cfg.FailureBackoff
	proc.debug = cfg.DebugMode

	return &InlineConsumer{cfg: cfg, proc: proc, logger: logger}, nil
}

// Run resolves the queue and processes batches until ctx is done. A poll in
// progress when ctx is cancelled runs to its wait time and the batch it
// returns is finished before Run returns.
func (c *InlineConsumer) Run(ctx context.Context) error {
	if c.cfg.QueueName == "" {
		return qferrors.ErrQueueNameRequired
	}
	url, err := c.cfg.Queue.Resolve(ctx, c.cfg.QueueName)
	if err != nil {
		c.logger.Fatal("unable to resolve queue", err, nil)
		if errors.Is(err, qferrors.ErrQueueUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", qferrors.ErrQueueUnavailable, err)
	}
	c.logger.Info("inline consumer started", logging.LogFields{
		"queue_url":   url,
		"concurrency": c.cfg.Concurrency,
	})

	// Receive is not cancelled so a batch the queue already hid is never
	// dropped mid-call; cancellation is observed between polls.
	workCtx := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		msgs, err := c.cfg.Queue.Receive(workCtx, url, c.cfg.BatchSize, c.cfg.WaitTime)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, qferrors.ErrQueueUnavailable) {
				c.logger.Fatal("queue is no longer available", err, logging.LogFields{"queue_url": url})
				return err
			}
			c.logger.Error("unable to receive messages", err, logging.LogFields{"queue_url": url})
			select {
			case <-ctx.Done():
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}
		c.cfg.Metrics.RecordReceived(url, len(msgs))

		var g errgroup.Group
		g.SetLimit(c.cfg.Concurrency)
		for _, msg := range msgs {
			g.Go(func() error {
				// Outcomes are logged and settled by Process; they never
				// abort the batch.
				_ = c.Process(workCtx, url, msg)
				return nil
			})
		}
		g.Wait()
	}

	c.logger.Info("inline consumer stopped", nil)
	return nil
}

// Process runs the per-message algorithm for one received message. It
// returns nil when the message was deleted, the *handlers.RetryDirective
// when a retry was scheduled and the handler error on failure.
func (c *InlineConsumer) Process(ctx context.Context, queueURL string, msg queue.Message) error {
	if msg.ReceiveCount < 1 {
		msg.ReceiveCount = 1
	}
	evt, hs, ok := c.proc.prepare(ctx, queueURL, msg)
	if !ok {
		return nil
	}
	return c.proc.execute(ctx, queueURL, msg, evt, hs)
}

// Snapshot reports no worker processes; the inline consumer has none.
func (c *InlineConsumer) Snapshot() []WorkerStatus { return nil }

// Handlers describes the registered event handlers.
func (c *InlineConsumer) Handlers() map[string][]string {
	return c.cfg.Registry.Describe()
}
