package queueflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAndInvokeExports(t *testing.T) {
	type signup struct {
		Email string `json:"email"`
	}
	var got string
	registry := NewRegistry().MustRegister("user:created", WithName("welcome-mail", HandleJSON(func(ctx context.Context, evt Event, data signup) error {
		got = data.Email
		return nil
	})))
	registry.Seal()
	assert.ErrorIs(t, registry.Register("user:created", HandlerFunc(func(context.Context, Event) error { return nil })), ErrRegistrySealed)

	evt, err := NewEvent("user:created", map[string]any{"email": "a@b.c"}, WithEventID("evt-1"))
	require.NoError(t, err)

	outcome := Invoke(context.Background(), evt, registry.Resolve("user:created"))
	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.Equal(t, "a@b.c", got)
	assert.Equal(t, map[string][]string{"user:created": {"welcome-mail"}}, registry.Describe())
}

func TestEventExportsRoundTrip(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	evt, err := NewEvent("order:paid", map[string]any{"total": 12.5}, WithTimestamp(ts))
	require.NoError(t, err)

	body, err := MarshalEvent(evt)
	require.NoError(t, err)
	parsed, err := ParseEvent(body)
	require.NoError(t, err)

	assert.Equal(t, evt.ID(), parsed.ID())
	assert.True(t, ts.Equal(parsed.Timestamp()))
	assert.Equal(t, "order", parsed.Source())

	_, err = ParseEvent([]byte(`[]`))
	assert.ErrorIs(t, err, ErrEventMalformed)
}

func TestRetryExport(t *testing.T) {
	directive := Retry(2, 0, "later")
	var target *RetryDirective
	require.True(t, errors.As(error(directive), &target))
	assert.Equal(t, time.Second, target.Delay())
}

func TestConsumerConstructorsValidate(t *testing.T) {
	_, err := NewInlineConsumer(InlineConfig{QueueName: "events"})
	assert.Error(t, err)

	_, err = NewSupervisor(SupervisorConfig{})
	assert.ErrorIs(t, err, ErrQueueNameRequired)

	_, err = NewEmitter(EmitterConfig{Topic: "users", Source: "user"})
	assert.ErrorIs(t, err, ErrPublisherRequired)
}

func TestMemoryQueueExport(t *testing.T) {
	q := NewMemoryQueue()
	url := q.CreateQueue("events")
	resolved, err := q.Resolve(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, url, resolved)

	var _ Queue = q
}
