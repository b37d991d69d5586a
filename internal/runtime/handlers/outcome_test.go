package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/drblury/queueflow/internal/runtime/event"
)

func newEvent(t *testing.T) event.Event {
	t.Helper()
	evt, err := event.New("user:created", map[string]any{"user_id": 42}, event.WithID("evt-1"))
	require.NoError(t, err)
	return evt
}

func TestInvokeSuccessRunsAllHandlersInOrder(t *testing.T) {
	var calls []string
	hs := []Handler{
		HandlerFunc(func(context.Context, event.Event) error { calls = append(calls, "a"); return nil }),
		HandlerFunc(func(context.Context, event.Event) error { calls = append(calls, "b"); return nil }),
	}

	outcome := Invoke(context.Background(), newEvent(t), hs)

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.Equal(t, -1, outcome.HandlerIndex)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestInvokeStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	var calls []string
	hs := []Handler{
		HandlerFunc(func(context.Context, event.Event) error { calls = append(calls, "a"); return nil }),
		WithName("failing", HandlerFunc(func(context.Context, event.Event) error { calls = append(calls, "b"); return boom })),
		HandlerFunc(func(context.Context, event.Event) error { calls = append(calls, "c"); return nil }),
	}

	outcome := Invoke(context.Background(), newEvent(t), hs)

	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, boom)
	assert.Equal(t, 1, outcome.HandlerIndex)
	assert.Equal(t, "failing", outcome.HandlerName)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestInvokeRetryDirective(t *testing.T) {
	hs := []Handler{HandlerFunc(func(context.Context, event.Event) error {
		return Retry(2, 3*time.Second, "downstream busy")
	})}

	outcome := Invoke(context.Background(), newEvent(t), hs)

	require.Equal(t, OutcomeRetry, outcome.Kind)
	assert.Equal(t, 2, outcome.Retry.MaxRetries)
	assert.Equal(t, 3*time.Second, outcome.Retry.Delay())
	assert.Equal(t, "downstream busy", outcome.Retry.Reason)
}

func TestInvokeWrappedRetryDirective(t *testing.T) {
	hs := []Handler{HandlerFunc(func(context.Context, event.Event) error {
		return errors.Join(errors.New("context"), Retry(0, 0, ""))
	})}

	outcome := Invoke(context.Background(), newEvent(t), hs)

	require.Equal(t, OutcomeRetry, outcome.Kind)
	assert.Equal(t, DefaultRetryIn, outcome.Retry.Delay())
}

func TestInvokeRecoversPanics(t *testing.T) {
	hs := []Handler{HandlerFunc(func(context.Context, event.Event) error {
		panic("kaboom")
	})}

	outcome := Invoke(context.Background(), newEvent(t), hs)

	require.Equal(t, OutcomeFailure, outcome.Kind)
	var panicErr *PanicError
	require.ErrorAs(t, outcome.Err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.Contains(t, outcome.Err.Error(), "kaboom")
}

func TestInvokeRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	hs := []Handler{
		WithName("ok", HandlerFunc(noop)),
		WithName("bad", HandlerFunc(func(context.Context, event.Event) error { return errors.New("bad") })),
	}
	Invoke(context.Background(), newEvent(t), hs)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "queueflow.handle user:created", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "retry", OutcomeRetry.String())
	assert.Equal(t, "failure", OutcomeFailure.String())
	assert.Equal(t, "outcome(9)", OutcomeKind(9).String())
}
