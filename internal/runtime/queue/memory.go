package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
	"github.com/drblury/queueflow/internal/runtime/ids"
)

const (
	memoryScheme             = "memory://"
	DefaultVisibilityTimeout = 30 * time.Second
)

// Extension records one ExtendVisibility call on the in-memory queue.
type Extension struct {
	MessageID string
	Receipt   string
	Timeout   time.Duration
}

// MemoryOption configures a Memory queue.
type MemoryOption func(*Memory)

// WithVisibilityTimeout sets how long received messages stay hidden.
func WithVisibilityTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) { m.visibility = d }
}

// WithClock replaces time.Now, letting tests move visibility deadlines.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// Memory is an in-process Queue with SQS-like visibility timeouts and receive
// counts. It backs local runs and tests.
type Memory struct {
	mu         sync.Mutex
	queues     map[string]*memoryQueue
	visibility time.Duration
	now        func() time.Time
	arrived    chan struct{}
}

type memoryQueue struct {
	messages   []*memoryMessage
	receipts   map[string]*memoryMessage
	deleted    []string
	extensions []Extension
}

type memoryMessage struct {
	id           string
	body         []byte
	receiveCount int
	visibleAt    time.Time
	deleted      bool
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		queues:     make(map[string]*memoryQueue),
		visibility: DefaultVisibilityTimeout,
		now:        time.Now,
		arrived:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateQueue registers name and returns its URL.
func (m *Memory) CreateQueue(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[name]; !ok {
		m.queues[name] = &memoryQueue{receipts: make(map[string]*memoryMessage)}
	}
	return memoryScheme + name
}

// Send enqueues body and returns the message id.
func (m *Memory) Send(queueURL string, body []byte) (string, error) {
	m.mu.Lock()
	q, err := m.queue(queueURL)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	id := ids.CreateULID()
	q.messages = append(q.messages, &memoryMessage{id: id, body: append([]byte(nil), body...)})
	m.broadcastLocked()
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) Resolve(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[name]; !ok {
		return "", fmt.Errorf("resolve queue %s: %w", name, qferrors.ErrQueueUnavailable)
	}
	return memoryScheme + name, nil
}

func (m *Memory) Receive(ctx context.Context, queueURL string, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		msgs, err := m.takeLocked(queueURL, max)
		arrived := m.arrived
		m.mu.Unlock()
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-arrived:
		case <-time.After(50 * time.Millisecond):
			// visibility deadlines expire without a send
		}
	}
}

func (m *Memory) Delete(ctx context.Context, queueURL, receipt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queueURL)
	if err != nil {
		return err
	}
	q.deleted = append(q.deleted, receipt)
	if msg, ok := q.receipts[receipt]; ok {
		msg.deleted = true
	}
	return nil
}

func (m *Memory) ExtendVisibility(ctx context.Context, queueURL, receipt string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queueURL)
	if err != nil {
		return err
	}
	msg, ok := q.receipts[receipt]
	if !ok {
		return fmt.Errorf("change visibility: unknown receipt %q", receipt)
	}
	timeout := time.Duration(VisibilitySeconds(d)) * time.Second
	msg.visibleAt = m.now().Add(timeout)
	q.extensions = append(q.extensions, Extension{MessageID: msg.id, Receipt: receipt, Timeout: timeout})
	return nil
}

// Deleted lists every receipt passed to Delete, in call order.
func (m *Memory) Deleted(queueURL string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queueURL)
	if err != nil {
		return nil
	}
	return append([]string(nil), q.deleted...)
}

// Extensions lists every ExtendVisibility call, in call order.
func (m *Memory) Extensions(queueURL string) []Extension {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queueURL)
	if err != nil {
		return nil
	}
	return append([]Extension(nil), q.extensions...)
}

// Pending counts messages that have not been deleted, visible or not.
func (m *Memory) Pending(queueURL string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queueURL)
	if err != nil {
		return 0
	}
	n := 0
	for _, msg := range q.messages {
		if !msg.deleted {
			n++
		}
	}
	return n
}

func (m *Memory) takeLocked(queueURL string, max int) ([]Message, error) {
	q, err := m.queue(queueURL)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var out []Message
	for _, msg := range q.messages {
		if len(out) == max {
			break
		}
		if msg.deleted || now.Before(msg.visibleAt) {
			continue
		}
		msg.receiveCount++
		msg.visibleAt = now.Add(m.visibility)
		receipt := fmt.Sprintf("%s#%d", msg.id, msg.receiveCount)
		q.receipts[receipt] = msg
		out = append(out, Message{
			ReceiptHandle: receipt,
			MessageID:     msg.id,
			Body:          append([]byte(nil), msg.body...),
			ReceiveCount:  msg.receiveCount,
		})
	}
	return out, nil
}

func (m *Memory) queue(queueURL string) (*memoryQueue, error) {
	name := strings.TrimPrefix(queueURL, memoryScheme)
	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("queue %s: %w", queueURL, qferrors.ErrQueueUnavailable)
	}
	return q, nil
}

func (m *Memory) broadcastLocked() {
	close(m.arrived)
	m.arrived = make(chan struct{})
}
