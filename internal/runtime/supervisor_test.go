package runtime

import (
	"context"
	"encoding/json"
	"sync"
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

type supervisorFixture struct {
	queue    *queue.Memory
	url      string
	registry *handlers.Registry
	logger   *logtest.Recorder
	metrics  *Metrics
	spawner  *pipeSpawner
}

func newSupervisorFixture() *supervisorFixture {
	q := queue.NewMemory()
	f := &supervisorFixture{
		queue:    q,
		url:      q.CreateQueue("events"),
		registry: handlers.NewRegistry(),
		logger:   logtest.New(),
		metrics:  NewMetrics(nil),
	}
	f.spawner = &pipeSpawner{queue: q, registry: f.registry, logger: f.logger}
	return f
}

func (f *supervisorFixture) start(t *testing.T) (*Supervisor, chan error) {
	t.Helper()
	f.registry.Seal()
	sup, err := NewSupervisor(SupervisorConfig{
		QueueName:          "events",
		Workers:            2,
		Concurrency:        2,
		WaitTime:           20 * time.Millisecond,
		HealthCheckTimeout: 100 * time.Millisecond,
		Queue:              f.queue,
		Spawner:            f.spawner,
		Registry:           f.registry,
		Logger:             f.logger,
		Metrics:            f.metrics,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()
	return sup, done
}

func waitRun(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
		return nil
	}
}

func TestNewSupervisorValidates(t *testing.T) {
	_, err := NewSupervisor(SupervisorConfig{})
	assert.ErrorIs(t, err, qferrors.ErrQueueNameRequired)

	_, err = NewSupervisor(SupervisorConfig{QueueName: "events", Queue: queue.NewMemory()})
	assert.ErrorIs(t, err, qferrors.ErrSpawnerRequired)

	sup, err := NewSupervisor(SupervisorConfig{
		QueueName: "events",
		Queue:     queue.NewMemory(),
		Spawner:   &pipeSpawner{},
		Logger:    logtest.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, sup.cfg.Workers)
	assert.Equal(t, DefaultWaitTime, sup.cfg.WaitTime)
	assert.NotEmpty(t, sup.InstanceID())
}

func TestSupervisorUnknownQueueIsFatal(t *testing.T) {
	f := newSupervisorFixture()
	sup, err := NewSupervisor(SupervisorConfig{
		QueueName: "missing",
		Queue:     f.queue,
		Spawner:   f.spawner,
		Logger:    f.logger,
	})
	require.NoError(t, err)

	err = sup.Run(context.Background())
	require.ErrorIs(t, err, qferrors.ErrQueueUnavailable)
	assert.Empty(t, f.spawner.Specs())
	assert.Len(t, f.logger.Level("fatal"), 1)
}

func TestSupervisorDispatchesUserCreated(t *testing.T) {
	f := newSupervisorFixture()
	var mu sync.Mutex
	var seen []event.Event
	require.NoError(t, f.registry.RegisterFunc("user:created", func(ctx context.Context, evt event.Event) error {
		mu.Lock()
		seen = append(seen, evt)
		mu.Unlock()
		return nil
	}))
	sup, done := f.start(t)

	_, err := f.queue.Send(f.url, []byte(`{"id":"evt-1","name":"user:created","timestamp":1700000000000,"data":{"user_id":42}}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.queue.Deleted(f.url)) == 1 }, 3*time.Second, 10*time.Millisecond)
	// Outcomes and durations arrive from the worker over its liveness stream.
	require.Eventually(t, func() bool {
		stats, ok := f.metrics.Snapshot().Events["user:created"]
		return ok && stats.Outcomes["success"] == 1
	}, 3*time.Second, 10*time.Millisecond)
	stats := f.metrics.Snapshot().Events["user:created"]
	assert.Equal(t, 1, stats.Latency.Samples)
	assert.Equal(t, "success", stats.LastOutcome)
	sup.Stop()
	require.NoError(t, waitRun(t, done))

	mu.Lock()
	require.Len(t, seen, 1)
	assert.Equal(t, "evt-1", seen[0].ID())
	assert.Equal(t, json.Number("42"), seen[0].Data()["user_id"])
	mu.Unlock()

	specs := f.spawner.Specs()
	require.Len(t, specs, 2)
	for i, spec := range specs {
		assert.Equal(t, i, spec.Index)
		assert.Equal(t, f.url, spec.QueueURL)
		assert.Equal(t, 2, spec.Concurrency)
	}
	assert.Zero(t, f.metrics.Snapshot().WorkerReplacements)
	assert.Zero(t, f.queue.Pending(f.url))
}

func TestSupervisorStopsOnContextCancel(t *testing.T) {
	f := newSupervisorFixture()
	f.registry.Seal()
	sup, err := NewSupervisor(SupervisorConfig{
		QueueName: "events",
		Workers:   1,
		WaitTime:  20 * time.Millisecond,
		Queue:     f.queue,
		Spawner:   f.spawner,
		Logger:    f.logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sup.Snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, waitRun(t, done))
}

func TestSupervisorReplacesUnresponsiveWorker(t *testing.T) {
	f := newSupervisorFixture()
	f.spawner.hang = func(n int) bool { return n == 1 }
	require.NoError(t, f.registry.RegisterFunc("user:created", func(context.Context, event.Event) error { return nil }))
	sup, done := f.start(t)

	require.Eventually(t, func() bool {
		st := sup.Snapshot()
		return len(st) == 2 && st[1].Replacements == 1
	}, 3*time.Second, 10*time.Millisecond)

	for i := 0; i < 4; i++ {
		_, err := f.queue.Send(f.url, eventBody(t, "user:created", map[string]any{"n": i}))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return len(f.queue.Deleted(f.url)) == 4 }, 3*time.Second, 10*time.Millisecond)

	sup.Stop()
	require.NoError(t, waitRun(t, done))

	st := sup.Snapshot()
	assert.Equal(t, 4002, st[1].PID)
	assert.Zero(t, st[0].Replacements)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().WorkerReplacements)
	assert.Len(t, f.spawner.Specs(), 3)
	assert.Equal(t, 1, f.logger.Count("error", "worker is unresponsive, replacing it"))
}

func TestSupervisorHandlersDescribeRegistry(t *testing.T) {
	f := newSupervisorFixture()
	require.NoError(t, f.registry.RegisterFunc("user:created", func(context.Context, event.Event) error { return nil }))
	sup, err := NewSupervisor(SupervisorConfig{
		QueueName: "events",
		Queue:     f.queue,
		Spawner:   f.spawner,
		Registry:  f.registry,
		Logger:    f.logger,
	})
	require.NoError(t, err)

	assert.Contains(t, sup.Handlers(), "user:created")
	assert.Empty(t, sup.Snapshot())
}
