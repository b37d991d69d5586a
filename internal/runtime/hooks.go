package runtime

import (
	"context"
	"time"

	"github.com/drblury/queueflow/internal/runtime/logging"
)

// JobContext describes one message's handler chain execution.
type JobContext struct {
	// EventID and EventName identify the parsed event.
	EventID   string
	EventName string
	// QueueURL is the queue the message was received from.
	QueueURL  string
	MessageID string
	Receipt   string
	// ReceiveCount is the approximate number of deliveries, starting at 1.
	ReceiveCount int
	// Context is the context handlers run with.
	Context context.Context
	// StartedAt is when the handler chain started.
	StartedAt time.Time
	// Duration is how long the chain took (only set in OnJobDone and OnJobError).
	Duration time.Duration
	// Outcome is "success", "retry" or "failure" once the chain has finished.
	Outcome string
}

// JobHooks defines callbacks for job lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type JobHooks struct {
	// OnJobStart is called before the first handler is invoked.
	OnJobStart func(ctx JobContext)

	// OnJobDone is called when every handler succeeded.
	OnJobDone func(ctx JobContext)

	// OnJobError is called when a handler asked for a retry or failed. For
	// retries err is the *handlers.RetryDirective.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks, creating a new JobHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func (h JobHooks) start(job JobContext) {
	if h.OnJobStart != nil {
		h.OnJobStart(job)
	}
}

func (h JobHooks) finish(job JobContext, err error) {
	if err == nil {
		if h.OnJobDone != nil {
			h.OnJobDone(job)
		}
		return
	}
	if h.OnJobError != nil {
		h.OnJobError(job, err)
	}
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks returns pre-built hooks that log job lifecycle events at debug.
func LoggingHooks(logger logging.ServiceLogger) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", logging.LogFields{
				"event_id":      ctx.EventID,
				"event_name":    ctx.EventName,
				"receive_count": ctx.ReceiveCount,
			})
		},
		OnJobDone: func(ctx JobContext) {
			logger.Debug("Job completed", logging.LogFields{
				"event_id":    ctx.EventID,
				"event_name":  ctx.EventName,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnJobError: func(ctx JobContext, err error) {
			logger.Debug("Job did not complete", logging.LogFields{
				"event_id":      ctx.EventID,
				"event_name":    ctx.EventName,
				"outcome":       ctx.Outcome,
				"duration_ms":   ctx.Duration.Milliseconds(),
				"receive_count": ctx.ReceiveCount,
				"error":         err.Error(),
			})
		},
	}
}

// MetricsHooks returns hooks that forward to the given callbacks.
func MetricsHooks(onStart, onDone, onError func(ctx JobContext)) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			if onStart != nil {
				onStart(ctx)
			}
		},
		OnJobDone: func(ctx JobContext) {
			if onDone != nil {
				onDone(ctx)
			}
		},
		OnJobError: func(ctx JobContext, err error) {
			if onError != nil {
				onError(ctx)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on job errors.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{
		OnJobError: alertFunc,
	}
}
