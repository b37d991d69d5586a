package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
	"github.com/drblury/queueflow/internal/runtime/event"
	"github.com/drblury/queueflow/internal/runtime/handlers"
	"github.com/drblury/queueflow/internal/runtime/logging/logtest"
	"github.com/drblury/queueflow/internal/runtime/queue"
)

type inlineFixture struct {
	clock    *testClock
	queue    *queue.Memory
	url      string
	registry *handlers.Registry
	logger   *logtest.Recorder
	metrics  *Metrics
}

func newInlineFixture(t *testing.T) *inlineFixture {
	t.Helper()
	clock := newTestClock()
	q := queue.NewMemory(queue.WithClock(clock.Now))
	return &inlineFixture{
		clock:    clock,
		queue:    q,
		url:      q.CreateQueue("events"),
		registry: handlers.NewRegistry(),
		logger:   logtest.New(),
		metrics:  NewMetrics(nil),
	}
}

func (f *inlineFixture) consumer(t *testing.T) *InlineConsumer {
	t.Helper()
	f.registry.Seal()
	c, err := NewInlineConsumer(InlineConfig{
		QueueName: "events",
		Queue:     f.queue,
		Registry:  f.registry,
		Logger:    f.logger,
		Metrics:   f.metrics,
		WaitTime:  20 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNewInlineConsumerRequiresCollaborators(t *testing.T) {
	_, err := NewInlineConsumer(InlineConfig{})
	assert.ErrorIs(t, err, qferrors.ErrQueueRequired)

	_, err = NewInlineConsumer(InlineConfig{Queue: queue.NewMemory()})
	assert.ErrorIs(t, err, qferrors.ErrRegistryRequired)

	_, err = NewInlineConsumer(InlineConfig{Queue: queue.NewMemory(), Registry: handlers.NewRegistry()})
	assert.ErrorIs(t, err, qferrors.ErrLoggerRequired)
}

func TestProcessUserCreated(t *testing.T) {
	f := newInlineFixture(t)
	var got event.Event
	require.NoError(t, f.registry.RegisterFunc("user:created", func(ctx context.Context, evt event.Event) error {
		got = evt
		return nil
	}))
	c := f.consumer(t)

	body := []byte(`{"id":"01HQ0000000000000000000000","name":"user:created","timestamp":1700000000000,"data":{"user_id":42}}`)
	msg := receiveOne(t, f.queue, f.url, body)

	require.NoError(t, c.Process(context.Background(), f.url, msg))

	assert.Equal(t, "01HQ0000000000000000000000", got.ID())
	assert.Equal(t, "user", got.Source())
	assert.Equal(t, "created", got.Verb())
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), got.Timestamp())
	assert.Equal(t, map[string]any{"user_id": json.Number("42")}, got.Data())
	assert.Equal(t, []string{msg.ReceiptHandle}, f.queue.Deleted(f.url))
	assert.Zero(t, f.queue.Pending(f.url))
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Events["user:created"].Outcomes[outcomeSuccess])
}

func TestProcessRunsHandlersInOrder(t *testing.T) {
	f := newInlineFixture(t)
	var order []string
	record := func(name string) handlers.HandlerFunc {
		return func(ctx context.Context, evt event.Event) error {
			order = append(order, name)
			return nil
		}
	}
	require.NoError(t, f.registry.Register("order:placed", record("reserve"), record("notify")))
	c := f.consumer(t)

	msg := receiveOne(t, f.queue, f.url, eventBody(t, "order:placed", nil))
	require.NoError(t, c.Process(context.Background(), f.url, msg))
	assert.Equal(t, []string{"reserve", "notify"}, order)
}

func TestProcessMalformedIsTerminal(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     "definitely not json",
		"array":        `[1,2,3]`,
		"missing name": `{"data":{}}`,
		"missing data": `{"name":"user:created"}`,
	} {
		t.Run(name, func(t *testing.T) {
			f := newInlineFixture(t)
			called := false
			require.NoError(t, f.registry.RegisterFunc("user:created", func(context.Context, event.Event) error {
				called = true
				return nil
			}))
			c := f.consumer(t)

			msg := receiveOne(t, f.queue, f.url, []byte(body))
			require.NoError(t, c.Process(context.Background(), f.url, msg))

			assert.False(t, called)
			assert.Equal(t, []string{msg.ReceiptHandle}, f.queue.Deleted(f.url))
			fatal := f.logger.Level("fatal")
			require.Len(t, fatal, 1)
			assert.ErrorIs(t, fatal[0].Err, qferrors.ErrEventMalformed)
			assert.Equal(t, body, fatal[0].Fields["event_body"])
		})
	}
}

func TestProcessWithoutHandlerIsTerminal(t *testing.T) {
	f := newInlineFixture(t)
	c := f.consumer(t)

	msg := receiveOne(t, f.queue, f.url, eventBody(t, "user:deleted", map[string]any{"id": 1}))
	require.NoError(t, c.Process(context.Background(), f.url, msg))

	assert.Equal(t, []string{msg.ReceiptHandle}, f.queue.Deleted(f.url))
	assert.Equal(t, 1, f.logger.Count("warn", msgNoHandler))
	assert.Empty(t, f.logger.Level("fatal"))
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Events["user:deleted"].Outcomes[outcomeUnroutable])
}

func TestProcessBoundedRetry(t *testing.T) {
	f := newInlineFixture(t)
	attempts := 0
	require.NoError(t, f.registry.RegisterFunc("user:created", func(context.Context, event.Event) error {
		attempts++
		return handlers.Retry(2, time.Second, "profile not replicated")
	}))
	c := f.consumer(t)
	ctx := context.Background()

	_, err := f.queue.Send(f.url, eventBody(t, "user:created", map[string]any{"user_id": 7}))
	require.NoError(t, err)

	var receipts []string
	for i := 1; i <= 3; i++ {
		msgs, err := f.queue.Receive(ctx, f.url, 1, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1, "delivery %d", i)
		assert.Equal(t, i, msgs[0].ReceiveCount)
		receipts = append(receipts, msgs[0].ReceiptHandle)

		err = c.Process(ctx, f.url, msgs[0])
		if i < 3 {
			var directive *handlers.RetryDirective
			require.ErrorAs(t, err, &directive)
			assert.Equal(t, time.Second, directive.Delay())
		} else {
			require.NoError(t, err)
		}
		f.clock.Advance(time.Second)
	}

	assert.Equal(t, 3, attempts)
	ext := f.queue.Extensions(f.url)
	require.Len(t, ext, 2)
	assert.Equal(t, time.Second, ext[0].Timeout)
	assert.Equal(t, receipts[1], ext[1].Receipt)
	assert.Equal(t, []string{receipts[2]}, f.queue.Deleted(f.url))
	assert.Equal(t, 2, f.logger.Count("warn", msgRetry))

	gaveUp := f.logger.Level("warn")
	require.Equal(t, 1, f.logger.Count("warn", msgGivingUp))
	last := gaveUp[len(gaveUp)-1]
	assert.Equal(t, "profile not replicated", last.Fields["reason"])
	assert.Equal(t, 3, last.Fields["retries"])
	assert.Equal(t, uint64(1), f.metrics.Snapshot().Events["user:created"].Outcomes[outcomeGaveUp])
}

func TestProcessUnboundedRetryNeverGivesUp(t *testing.T) {
	f := newInlineFixture(t)
	require.NoError(t, f.registry.RegisterFunc("user:created", func(context.Context, event.Event) error {
		return handlers.Retry(0, 0, "")
	}))
	c := f.consumer(t)

	msg := receiveOne(t, f.queue, f.url, eventBody(t, "user:created", nil))
	msg.ReceiveCount = 500

	var directive *handlers.RetryDirective
	require.ErrorAs(t, c.Process(context.Background(), f.url, msg), &directive)
	assert.Empty(t, f.queue.Deleted(f.url))
	require.Len(t, f.queue.Extensions(f.url), 1)
	assert.Equal(t, handlers.DefaultRetryIn, f.queue.Extensions(f.url)[0].Timeout)
}

func TestProcessFailureBacksOff(t *testing.T) {
	f := newInlineFixture(t)
	boom := errors.New("database down")
	secondCalled := false
	require.NoError(t, f.registry.Register("user:created",
		handlers.HandlerFunc(func(context.Context, event.Event) error { return boom }),
		handlers.HandlerFunc(func(context.Context, event.Event) error { secondCalled = true; return nil }),
	))
	c := f.consumer(t)

	msg := receiveOne(t, f.queue, f.url, eventBody(t, "user:created", nil))
	err := c.Process(context.Background(), f.url, msg)

	require.ErrorIs(t, err, boom)
	assert.False(t, secondCalled)
	assert.Empty(t, f.queue.Deleted(f.url))
	ext := f.queue.Extensions(f.url)
	require.Len(t, ext, 1)
	assert.Equal(t, DefaultFailureBackoff, ext[0].Timeout)

	fatal := f.logger.Level("fatal")
	require.Len(t, fatal, 1)
	assert.Equal(t, msgHandlerFailed, fatal[0].Msg)
	assert.Equal(t, 1, fatal[0].Fields["receive_count"])
}

func TestProcessRecoversPanics(t *testing.T) {
	f := newInlineFixture(t)
	require.NoError(t, f.registry.RegisterFunc("user:created", func(context.Context, event.Event) error {
		panic("nil map")
	}))
	c := f.consumer(t)

	msg := receiveOne(t, f.queue, f.url, eventBody(t, "user:created", nil))
	err := c.Process(context.Background(), f.url, msg)

	var panicErr *handlers.PanicError
	require.ErrorAs(t, err, &panicErr)
	fatal := f.logger.Level("fatal")
	require.Len(t, fatal, 1)
	assert.NotEmpty(t, fatal[0].Fields["exception_backtrace"])
}

func TestProcessRunsHooks(t *testing.T) {
	f := newInlineFixture(t)
	require.NoError(t, f.registry.RegisterFunc("user:created", func(context.Context, event.Event) error { return nil }))
	f.registry.Seal()

	var mu sync.Mutex
	var seen []string
	c, err := NewInlineConsumer(InlineConfig{
		QueueName: "events",
		Queue:     f.queue,
		Registry:  f.registry,
		Logger:    f.logger,
		Hooks: JobHooks{
			OnJobStart: func(job JobContext) { mu.Lock(); seen = append(seen, "start:"+job.EventName); mu.Unlock() },
			OnJobDone:  func(job JobContext) { mu.Lock(); seen = append(seen, "done:"+job.Outcome); mu.Unlock() },
		},
	})
	require.NoError(t, err)

	msg := receiveOne(t, f.queue, f.url, eventBody(t, "user:created", nil))
	require.NoError(t, c.Process(context.Background(), f.url, msg))
	assert.Equal(t, []string{"start:user:created", "done:success"}, seen)
}

func TestInlineRunProcessesUntilCancelled(t *testing.T) {
	f := newInlineFixture(t)
	var mu sync.Mutex
	handled := 0
	require.NoError(t, f.registry.RegisterFunc("user:created", func(context.Context, event.Event) error {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	}))
	c := f.consumer(t)

	for i := 0; i < 5; i++ {
		_, err := f.queue.Send(f.url, eventBody(t, "user:created", map[string]any{"n": i}))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.queue.Deleted(f.url)) == 5 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("inline consumer did not stop")
	}
	mu.Lock()
	assert.Equal(t, 5, handled)
	mu.Unlock()
	assert.Equal(t, uint64(5), f.metrics.Snapshot().Received)
}

func TestInlineRunUnknownQueue(t *testing.T) {
	c, err := NewInlineConsumer(InlineConfig{
		QueueName: "missing",
		Queue:     queue.NewMemory(),
		Registry:  handlers.NewRegistry(),
		Logger:    logtest.New(),
	})
	require.NoError(t, err)

	err = c.Run(context.Background())
	require.ErrorIs(t, err, qferrors.ErrQueueUnavailable)
}

// cancellingQueue cancels the consumer's context during the first poll.
type cancellingQueue struct {
	*queue.Memory
	cancel context.CancelFunc

	mu       sync.Mutex
	polls    int
	pollErrs []error
}

func (q *cancellingQueue) Receive(ctx context.Context, queueURL string, max int, wait time.Duration) ([]queue.Message, error) {
	q.mu.Lock()
	q.polls++
	first := q.polls == 1
	q.mu.Unlock()
	if first {
		q.cancel()
	}
	msgs, err := q.Memory.Receive(ctx, queueURL, max, wait)
	q.mu.Lock()
	q.pollErrs = append(q.pollErrs, ctx.Err())
	q.mu.Unlock()
	return msgs, err
}

func TestInlineRunFinishesBatchReceivedDuringCancel(t *testing.T) {
	f := newInlineFixture(t)
	var handled atomic.Int32
	require.NoError(t, f.registry.RegisterFunc("user:created", func(context.Context, event.Event) error {
		handled.Add(1)
		return nil
	}))
	f.registry.Seal()
	_, err := f.queue.Send(f.url, eventBody(t, "user:created", nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := &cancellingQueue{Memory: f.queue, cancel: cancel}
	c, err := NewInlineConsumer(InlineConfig{
		QueueName: "events",
		Queue:     q,
		Registry:  f.registry,
		Logger:    f.logger,
		WaitTime:  20 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, c.Run(ctx))

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, 1, q.polls, "no poll starts after cancellation")
	assert.Equal(t, []error{nil}, q.pollErrs)
	assert.Equal(t, int32(1), handled.Load())
	assert.Len(t, f.queue.Deleted(f.url), 1)
}
