package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/queueflow/internal/runtime/logging/logtest"
)

func TestJobHooks_StartAndDone(t *testing.T) {
	var started, done JobContext
	hooks := JobHooks{
		OnJobStart: func(ctx JobContext) { started = ctx },
		OnJobDone:  func(ctx JobContext) { done = ctx },
	}

	job := JobContext{EventID: "evt-1", EventName: "user:created", StartedAt: time.Now()}
	hooks.start(job)
	job.Duration = 10 * time.Millisecond
	job.Outcome = "success"
	hooks.finish(job, nil)

	assert.Equal(t, "evt-1", started.EventID)
	assert.Zero(t, started.Duration)
	assert.Equal(t, 10*time.Millisecond, done.Duration)
	assert.Equal(t, "success", done.Outcome)
}

func TestJobHooks_OnJobError(t *testing.T) {
	var doneCalled bool
	var captured error
	hooks := JobHooks{
		OnJobDone:  func(JobContext) { doneCalled = true },
		OnJobError: func(_ JobContext, err error) { captured = err },
	}
	boom := errors.New("handler error")

	hooks.finish(JobContext{Outcome: "failure"}, boom)

	assert.False(t, doneCalled)
	assert.ErrorIs(t, captured, boom)
}

func TestJobHooks_NilHooksAreSkipped(t *testing.T) {
	var hooks JobHooks
	assert.NotPanics(t, func() {
		hooks.start(JobContext{})
		hooks.finish(JobContext{}, nil)
		hooks.finish(JobContext{}, errors.New("x"))
	})
}

func TestJobHooks_Merge(t *testing.T) {
	var order []string
	first := JobHooks{
		OnJobStart: func(JobContext) { order = append(order, "first-start") },
		OnJobError: func(JobContext, error) { order = append(order, "first-error") },
	}
	second := JobHooks{
		OnJobStart: func(JobContext) { order = append(order, "second-start") },
		OnJobDone:  func(JobContext) { order = append(order, "second-done") },
	}

	merged := first.Merge(second)
	merged.start(JobContext{})
	merged.finish(JobContext{}, nil)
	merged.finish(JobContext{}, errors.New("x"))

	assert.Equal(t, []string{"first-start", "second-start", "second-done", "first-error"}, order)
	assert.Nil(t, JobHooks{}.Merge(JobHooks{}).OnJobStart)
}

func TestLoggingHooks(t *testing.T) {
	logger := logtest.New()
	hooks := LoggingHooks(logger)

	job := JobContext{EventID: "evt-1", EventName: "user:created", ReceiveCount: 2}
	hooks.start(job)
	hooks.finish(job, nil)
	job.Outcome = "retry"
	hooks.finish(job, errors.New("later"))

	entries := logger.Level("debug")
	require.Len(t, entries, 3)
	assert.Equal(t, "user:created", entries[0].Fields["event_name"])
	assert.Equal(t, "retry", entries[2].Fields["outcome"])
	assert.Equal(t, "later", entries[2].Fields["error"])
}

func TestMetricsHooks(t *testing.T) {
	var starts, dones, errs int
	hooks := MetricsHooks(
		func(JobContext) { starts++ },
		func(JobContext) { dones++ },
		func(JobContext) { errs++ },
	)
	hooks.start(JobContext{})
	hooks.finish(JobContext{}, nil)
	hooks.finish(JobContext{}, errors.New("x"))

	assert.Equal(t, []int{1, 1, 1}, []int{starts, dones, errs})

	partial := MetricsHooks(nil, nil, nil)
	assert.NotPanics(t, func() {
		partial.start(JobContext{})
		partial.finish(JobContext{}, errors.New("x"))
	})
}

func TestAlertingHooks(t *testing.T) {
	var alerted string
	hooks := AlertingHooks(func(job JobContext, err error) {
		alerted = job.EventName + ": " + err.Error()
	})
	hooks.finish(JobContext{EventName: "user:created"}, nil)
	assert.Empty(t, alerted)

	hooks.finish(JobContext{EventName: "user:created"}, errors.New("boom"))
	assert.Equal(t, "user:created: boom", alerted)
}
