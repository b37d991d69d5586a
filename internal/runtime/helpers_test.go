package runtime

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drblury/queueflow/internal/runtime/event"
	"github.com/drblury/queueflow/internal/runtime/handlers"
	"github.com/drblury/queueflow/internal/runtime/logging"
	"github.com/drblury/queueflow/internal/runtime/queue"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func eventBody(t *testing.T, name string, data map[string]any) []byte {
	t.Helper()
	evt, err := event.New(name, data)
	require.NoError(t, err)
	body, err := event.Marshal(evt)
	require.NoError(t, err)
	return body
}

// receiveOne sends body to url and receives it back so the receipt is known
// to the memory queue.
func receiveOne(t *testing.T, q *queue.Memory, url string, body []byte) queue.Message {
	t.Helper()
	_, err := q.Send(url, body)
	require.NoError(t, err)
	msgs, err := q.Receive(context.Background(), url, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return msgs[0]
}

// pipeProcess is a worker running on goroutines of the test process.
type pipeProcess struct {
	pid      int
	commands *os.File
	liveness *os.File
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	once     sync.Once
}

func (p *pipeProcess) Pid() int            { return p.pid }
func (p *pipeProcess) Commands() io.Writer { return p.commands }
func (p *pipeProcess) Liveness() io.Reader { return p.liveness }

func (p *pipeProcess) Kill() error {
	p.cancel()
	p.closeCommands()
	return nil
}

func (p *pipeProcess) Wait() error {
	p.closeCommands()
	<-p.done
	p.liveness.Close()
	return p.err
}

func (p *pipeProcess) closeCommands() {
	p.once.Do(func() { p.commands.Close() })
}

// pipeSpawner starts in-process workers. Spawns for which hang returns true
// read commands but never answer.
type pipeSpawner struct {
	queue    queue.Queue
	registry *handlers.Registry
	logger   logging.ServiceLogger
	hang     func(n int) bool

	mu    sync.Mutex
	specs []WorkerSpec
}

func (s *pipeSpawner) Spawn(ctx context.Context, spec WorkerSpec) (Process, error) {
	s.mu.Lock()
	n := len(s.specs)
	s.specs = append(s.specs, spec)
	hung := s.hang != nil && s.hang(n)
	s.mu.Unlock()

	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	liveR, liveW, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p := &pipeProcess{
		pid:      4000 + n,
		commands: cmdW,
		liveness: liveR,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	if hung {
		go func() {
			defer close(p.done)
			io.Copy(io.Discard, cmdR)
			cmdR.Close()
			liveW.Close()
		}()
		return p, nil
	}

	w, err := NewWorker(WorkerConfig{
		QueueURL:     spec.QueueURL,
		Concurrency:  spec.Concurrency,
		Queue:        s.queue,
		Registry:     s.registry,
		Logger:       s.logger,
		PollInterval: 20 * time.Millisecond,
		PID:          p.pid,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	go func() {
		defer close(p.done)
		p.err = w.Run(runCtx, cmdR, liveW)
		cmdR.Close()
		liveW.Close()
	}()
	return p, nil
}

func (s *pipeSpawner) Specs() []WorkerSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WorkerSpec(nil), s.specs...)
}
