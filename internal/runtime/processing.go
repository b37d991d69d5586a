package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
	"github.com/drblury/queueflow/internal/runtime/event"
	"github.com/drblury/queueflow/internal/runtime/handlers"
	"github.com/drblury/queueflow/internal/runtime/logging"
	"github.com/drblury/queueflow/internal/runtime/queue"
)

// Log messages of the per-message algorithm.
const (
	msgMalformed     = "unable to parse event, deleting message"
	msgNoHandler     = "no event handler registered, deleting message"
	msgRetry         = "retry event execution"
	msgGivingUp      = "event will not be retried, giving up"
	msgHandlerFailed = "event handler failed"
)

// processor holds the per-message algorithm shared by workers and the inline
// consumer. It settles every message: delete, extend visibility or leave it.
type processor struct {
	queue    queue.Queue
	registry *handlers.Registry
	logger   logging.ServiceLogger
	metrics  *Metrics
	// relay, when set, also receives outcomes and handler durations.
	relay StatsRecorder
	hooks JobHooks
	// failureBackoff is applied after an unhandled error; zero leaves the
	// message to its current visibility timeout.
	failureBackoff time.Duration
	debug          bool
}

func newProcessor(q queue.Queue, registry *handlers.Registry, logger logging.ServiceLogger, metrics *Metrics, hooks JobHooks) *processor {
	return &processor{
		queue:    q,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		hooks:    metrics.Hooks().Merge(hooks),
	}
}

// prepare parses the body and resolves handlers. ok is false when the message
// was terminal (malformed or unroutable) and has already been settled.
func (p *processor) prepare(ctx context.Context, queueURL string, msg queue.Message) (event.Event, []handlers.Handler, bool) {
	if p.debug {
		p.logger.Debug("incoming event", logging.LogFields{"body": string(msg.Body), "receipt": msg.ReceiptHandle})
	}

	evt, err := event.Parse(msg.Body)
	if err != nil {
		p.logger.Fatal(msgMalformed, err, logging.LogFields{
			"message_id":    msg.MessageID,
			"receipt":       msg.ReceiptHandle,
			"receive_count": msg.ReceiveCount,
			"event_body":    string(msg.Body),
		})
		p.delete(ctx, queueURL, msg, "")
		p.recordOutcome("", outcomeMalformed)
		return event.Event{}, nil, false
	}

	hs := p.registry.Resolve(evt.Name())
	if len(hs) == 0 {
		p.logger.Warn(msgNoHandler, logging.LogFields{
			"event":   eventFields(evt),
			"receipt": msg.ReceiptHandle,
			"error":   qferrors.ErrNoHandlerRegistered.Error(),
		})
		p.delete(ctx, queueURL, msg, evt.Name())
		p.recordOutcome(evt.Name(), outcomeUnroutable)
		return event.Event{}, nil, false
	}
	return evt, hs, true
}

// execute runs the handler chain and settles the message. It returns nil when
// the message was deleted, the *handlers.RetryDirective when a retry was
// scheduled, and the handler error on failure.
func (p *processor) execute(ctx context.Context, queueURL string, msg queue.Message, evt event.Event, hs []handlers.Handler) error {
	job := JobContext{
		EventID:      evt.ID(),
		EventName:    evt.Name(),
		QueueURL:     queueURL,
		MessageID:    msg.MessageID,
		Receipt:      msg.ReceiptHandle,
		ReceiveCount: msg.ReceiveCount,
		Context:      ctx,
		StartedAt:    time.Now(),
	}
	p.hooks.start(job)

	outcome := handlers.Invoke(ctx, evt, hs)

	job.Duration = time.Since(job.StartedAt)
	job.Outcome = outcome.Kind.String()
	if p.relay != nil {
		p.relay.ObserveHandler(evt.Name(), job.Duration)
	}
	p.hooks.finish(job, outcome.Err)

	switch outcome.Kind {
	case handlers.OutcomeSuccess:
		if err := p.delete(ctx, queueURL, msg, evt.Name()); err != nil {
			return err
		}
		p.recordOutcome(evt.Name(), outcomeSuccess)
		return nil
	case handlers.OutcomeRetry:
		return p.retry(ctx, queueURL, msg, evt, outcome.Retry)
	default:
		return p.fail(ctx, queueURL, msg, evt, outcome)
	}
}

func (p *processor) retry(ctx context.Context, queueURL string, msg queue.Message, evt event.Event, directive *handlers.RetryDirective) error {
	if !directive.Allows(msg.ReceiveCount) {
		p.logger.Warn(msgGivingUp, logging.LogFields{
			"event":       eventFields(evt),
			"reason":      directive.Reason,
			"retries":     msg.ReceiveCount,
			"max_retries": directive.MaxRetries,
		})
		p.delete(ctx, queueURL, msg, evt.Name())
		p.recordOutcome(evt.Name(), outcomeGaveUp)
		return nil
	}

	p.logger.Warn(msgRetry, logging.LogFields{
		"event":    eventFields(evt),
		"reason":   directive.Reason,
		"retry_in": directive.Delay().String(),
		"attempt":  msg.ReceiveCount,
	})
	if err := p.queue.ExtendVisibility(ctx, queueURL, msg.ReceiptHandle, directive.Delay()); err != nil {
		p.logger.Error("unable to extend message visibility", err, logging.LogFields{"receipt": msg.ReceiptHandle})
	}
	p.recordOutcome(evt.Name(), outcomeRetry)
	return directive
}

func (p *processor) fail(ctx context.Context, queueURL string, msg queue.Message, evt event.Event, outcome handlers.Outcome) error {
	fields := logging.LogFields{
		"event":             eventFields(evt),
		"handler":           outcome.HandlerName,
		"exception_klass":   fmt.Sprintf("%T", outcome.Err),
		"receive_count":     msg.ReceiveCount,
		"event_body":        string(msg.Body),
		"exception_message": outcome.Err.Error(),
	}
	var panicErr *handlers.PanicError
	if errors.As(outcome.Err, &panicErr) {
		fields["exception_backtrace"] = string(panicErr.Stack)
	}
	p.logger.Fatal(msgHandlerFailed, outcome.Err, fields)

	if p.failureBackoff > 0 {
		if err := p.queue.ExtendVisibility(ctx, queueURL, msg.ReceiptHandle, p.failureBackoff); err != nil {
			p.logger.Error("unable to extend message visibility", err, logging.LogFields{"receipt": msg.ReceiptHandle})
		}
	}
	p.recordOutcome(evt.Name(), outcomeFailure)
	return outcome.Err
}

func (p *processor) delete(ctx context.Context, queueURL string, msg queue.Message, eventName string) error {
	if err := p.queue.Delete(ctx, queueURL, msg.ReceiptHandle); err != nil {
		p.logger.Error("unable to delete message", err, logging.LogFields{
			"receipt":    msg.ReceiptHandle,
			"event_name": eventName,
		})
		return err
	}
	return nil
}

func (p *processor) recordOutcome(eventName, outcome string) {
	p.metrics.RecordOutcome(eventName, outcome)
	if p.relay != nil {
		p.relay.RecordOutcome(eventName, outcome)
	}
}

func eventFields(evt event.Event) logging.LogFields {
	return logging.LogFields{
		"id":        evt.ID(),
		"name":      evt.Name(),
		"timestamp": evt.Timestamp().UnixMilli(),
	}
}
