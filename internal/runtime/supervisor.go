package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
	"github.com/drblury/queueflow/internal/runtime/handlers"
	"github.com/drblury/queueflow/internal/runtime/ids"
	"github.com/drblury/queueflow/internal/runtime/ipc"
	"github.com/drblury/queueflow/internal/runtime/logging"
	"github.com/drblury/queueflow/internal/runtime/queue"
)

const (
	DefaultWorkers            = 2
	DefaultBatchSize          = 10
	DefaultWaitTime           = 8 * time.Second
	DefaultHealthCheckTimeout = 2 * time.Second

	receiveErrorBackoff = time.Second
	replacementReason   = "unresponsive"
)

// SupervisorConfig configures the multi-process consumer.
type SupervisorConfig struct {
	QueueName   string
	Workers     int
	Concurrency int
	BatchSize   int
	// WaitTime is the long-poll duration of each receive call.
	WaitTime time.Duration
	// HealthCheckTimeout is how long each worker gets to answer a ping.
	HealthCheckTimeout time.Duration
	Queue              queue.Queue
	Spawner            Spawner
	// Registry is only used for status reporting; workers build their own.
	Registry *handlers.Registry
	Logger   logging.ServiceLogger
	Metrics  *Metrics
}

// WorkerStatus is a point-in-time view of one worker slot.
type WorkerStatus struct {
	Index        int       `json:"index"`
	PID          int       `json:"pid"`
	StartedAt    time.Time `json:"started_at"`
	LastPong     time.Time `json:"last_pong,omitempty"`
	Replacements int       `json:"replacements"`
}

type workerHandle struct {
	index int

	mu           sync.Mutex
	proc         Process
	commands     *ipc.Encoder
	pongs        chan int
	startedAt    time.Time
	lastPong     time.Time
	replacements int
}

func (h *workerHandle) status() WorkerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := WorkerStatus{
		Index:        h.index,
		StartedAt:    h.startedAt,
		LastPong:     h.lastPong,
		Replacements: h.replacements,
	}
	if h.proc != nil {
		st.PID = h.proc.Pid()
	}
	return st
}

// Supervisor owns the queue receive path and a fixed set of worker processes.
type Supervisor struct {
	cfg        SupervisorConfig
	logger     logging.ServiceLogger
	instanceID string

	queueURL    string
	slotsMu     sync.RWMutex
	workers     []*workerHandle
	idle        chan *workerHandle
	terminating atomic.Bool
	stopped     chan struct{}
	stopOnce    sync.Once
}

func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.QueueName == "" {
		return nil, qferrors.ErrQueueNameRequired
	}
	if cfg.Queue == nil {
		return nil, qferrors.ErrQueueRequired
	}
	if cfg.Spawner == nil {
		return nil, qferrors.ErrSpawnerRequired
	}
	if cfg.Logger == nil {
		return nil, qferrors.ErrLoggerRequired
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
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
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = DefaultHealthCheckTimeout
	}

	instanceID := ids.CreateInstanceID()
	return &Supervisor{
		cfg:        cfg,
		instanceID: instanceID,
		logger: cfg.Logger.With(logging.LogFields{
			"queue":       cfg.QueueName,
			"instance_id": instanceID,
		}),
		stopped: make(chan struct{}),
	}, nil
}

// InstanceID identifies this supervisor run in logs and status output.
func (s *Supervisor) InstanceID() string { return s.instanceID }

// Stop asks Run to finish its current iteration and shut down.
func (s *Supervisor) Stop() {
	s.terminating.Store(true)
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Snapshot reports the current worker slots in index order.
func (s *Supervisor) Snapshot() []WorkerStatus {
	s.slotsMu.RLock()
	slots := s.workers
	s.slotsMu.RUnlock()

	out := make([]WorkerStatus, 0, len(slots))
	for _, h := range slots {
		out = append(out, h.status())
	}
	return out
}

// Handlers describes the registered event handlers, if a registry was given.
func (s *Supervisor) Handlers() map[string][]string {
	if s.cfg.Registry == nil {
		return map[string][]string{}
	}
	return s.cfg.Registry.Describe()
}

// Run consumes until Stop is called or ctx is cancelled, then shuts every
// worker down gracefully. A queue that cannot be resolved is fatal and
// reported as ErrQueueUnavailable.
func (s *Supervisor) Run(ctx context.Context) error {
	url, err := s.cfg.Queue.Resolve(ctx, s.cfg.QueueName)
	if err != nil {
		s.logger.Fatal("unable to resolve queue", err, nil)
		if errors.Is(err, qferrors.ErrQueueUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", qferrors.ErrQueueUnavailable, err)
	}
	s.queueURL = url
	defer s.Stop()

	// Cancellation only flips the flag; the loop notices it at its boundary.
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopped:
		}
	}()

	if err := s.spawnAll(ctx); err != nil {
		return err
	}
	s.logger.Info("supervisor started", logging.LogFields{
		"queue_url":   url,
		"workers":     s.cfg.Workers,
		"concurrency": s.cfg.Concurrency,
	})
	s.healthCheck(ctx)

	var runErr error
	receiveCtx := context.WithoutCancel(ctx)
	for !s.terminating.Load() {
		msgs, err := s.cfg.Queue.Receive(receiveCtx, url, s.cfg.BatchSize, s.cfg.WaitTime)
		if err != nil {
			if errors.Is(err, qferrors.ErrQueueUnavailable) {
				s.logger.Fatal("queue is no longer available", err, logging.LogFields{"queue_url": url})
				runErr = err
				break
			}
			s.logger.Error("unable to receive messages", err, logging.LogFields{"queue_url": url})
			s.pause(receiveErrorBackoff)
			continue
		}
		s.cfg.Metrics.RecordReceived(url, len(msgs))
		for _, msg := range msgs {
			s.dispatch(msg)
		}
		s.healthCheck(ctx)
	}

	s.shutdown()
	return runErr
}

func (s *Supervisor) pause(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.stopped:
	}
}

func (s *Supervisor) spawnAll(ctx context.Context) error {
	slots := make([]*workerHandle, s.cfg.Workers)
	s.idle = make(chan *workerHandle, s.cfg.Workers)
	for i := range slots {
		h := &workerHandle{index: i}
		if err := s.start(ctx, h); err != nil {
			s.logger.Fatal("unable to spawn worker", err, logging.LogFields{"index": i})
			for _, started := range slots[:i] {
				started.proc.Kill()
				started.proc.Wait()
			}
			return err
		}
		slots[i] = h
		s.idle <- h
	}
	s.slotsMu.Lock()
	s.workers = slots
	s.slotsMu.Unlock()
	s.cfg.Metrics.SetWorkersAlive(s.queueURL, len(s.workers))
	return nil
}

// start spawns a process into h and starts reading its liveness stream.
func (s *Supervisor) start(ctx context.Context, h *workerHandle) error {
	proc, err := s.cfg.Spawner.Spawn(ctx, WorkerSpec{
		Index:       h.index,
		QueueURL:    s.queueURL,
		Concurrency: s.cfg.Concurrency,
	})
	if err != nil {
		return err
	}
	pongs := make(chan int, 1)
	go readLiveness(proc, pongs, s.cfg.Metrics)

	h.mu.Lock()
	h.proc = proc
	h.commands = ipc.NewEncoder(proc.Commands())
	h.pongs = pongs
	h.startedAt = time.Now()
	h.lastPong = time.Time{}
	h.mu.Unlock()

	s.logger.Debug("worker spawned", logging.LogFields{"index": h.index, "pid": proc.Pid()})
	return nil
}

// readLiveness forwards pong pids and applies worker stats to metrics until
// the liveness stream ends.
func readLiveness(proc Process, pongs chan<- int, metrics *Metrics) {
	defer close(pongs)
	dec := ipc.NewDecoder(proc.Liveness())
	for {
		f, err := dec.Read()
		if err != nil {
			return
		}
		switch f.Op {
		case ipc.OpPong:
			var pong ipc.PongPayload
			if err := f.DecodeJSON(&pong); err != nil {
				continue
			}
			select {
			case pongs <- pong.PID:
			default:
			}
		case ipc.OpStats:
			var stats ipc.StatsPayload
			if err := f.DecodeJSON(&stats); err != nil {
				continue
			}
			if stats.Outcome != "" {
				metrics.RecordOutcome(stats.Event, stats.Outcome)
			} else {
				metrics.ObserveHandler(stats.Event, time.Duration(stats.DurationNS))
			}
		}
	}
}

func (s *Supervisor) dispatch(msg queue.Message) {
	h := <-s.idle
	defer func() { s.idle <- h }()

	h.mu.Lock()
	enc := h.commands
	pid := h.proc.Pid()
	h.mu.Unlock()

	err := enc.WriteJSON(ipc.OpWork, ipc.WorkPayload{
		Receipt:      msg.ReceiptHandle,
		Body:         string(msg.Body),
		ReceiveCount: msg.ReceiveCount,
	}, s.cfg.HealthCheckTimeout)
	if err != nil {
		// The message becomes visible again after its timeout.
		s.logger.Error("unable to dispatch message to worker", err, logging.LogFields{
			"index":      h.index,
			"pid":        pid,
			"message_id": msg.MessageID,
		})
	}
}

func (s *Supervisor) healthCheck(ctx context.Context) {
	started := time.Now()
	for _, h := range s.workers {
		if err := s.ping(h); err != nil {
			if s.terminating.Load() {
				return
			}
			s.replace(ctx, h, err)
		}
	}
	s.cfg.Metrics.ObserveHealthCheck(s.queueURL, time.Since(started))
}

func (s *Supervisor) ping(h *workerHandle) error {
	h.mu.Lock()
	enc, pongs, pid := h.commands, h.pongs, h.proc.Pid()
	h.mu.Unlock()

	// Discard a late answer to an earlier ping.
	select {
	case <-pongs:
	default:
	}

	if err := enc.Write(ipc.OpPing, nil, s.cfg.HealthCheckTimeout); err != nil {
		return fmt.Errorf("%w: ping: %w", qferrors.ErrWorkerUnresponsive, err)
	}

	deadline := time.NewTimer(s.cfg.HealthCheckTimeout)
	defer deadline.Stop()
	for {
		select {
		case got, ok := <-pongs:
			if !ok {
				return qferrors.ErrWorkerUnresponsive
			}
			if got != pid {
				continue
			}
			h.mu.Lock()
			h.lastPong = time.Now()
			h.mu.Unlock()
			return nil
		case <-deadline.C:
			return fmt.Errorf("%w: no pong within %s", qferrors.ErrWorkerUnresponsive, s.cfg.HealthCheckTimeout)
		}
	}
}

func (s *Supervisor) replace(ctx context.Context, h *workerHandle, cause error) {
	h.mu.Lock()
	old := h.proc
	h.mu.Unlock()

	s.logger.Error("worker is unresponsive, replacing it", cause, logging.LogFields{
		"index": h.index,
		"pid":   old.Pid(),
	})
	if err := old.Kill(); err != nil {
		s.logger.Error("unable to kill worker", err, logging.LogFields{"pid": old.Pid()})
	}
	old.Wait()

	if err := s.start(ctx, h); err != nil {
		// The dead process stays in the slot so the next round retries.
		s.logger.Fatal("unable to spawn replacement worker", err, logging.LogFields{"index": h.index})
		return
	}
	h.mu.Lock()
	h.replacements++
	h.mu.Unlock()
	s.cfg.Metrics.RecordReplacement(replacementReason)
}

func (s *Supervisor) shutdown() {
	s.logger.Info("supervisor shutting down", nil)
	for range s.workers {
		h := <-s.idle
		h.mu.Lock()
		enc := h.commands
		h.mu.Unlock()
		if err := enc.Write(ipc.OpExit, nil, s.cfg.HealthCheckTimeout); err != nil {
			s.logger.Warn("unable to send exit to worker", logging.LogFields{"index": h.index, "error": err.Error()})
		}
	}
	for _, h := range s.workers {
		h.mu.Lock()
		proc := h.proc
		h.mu.Unlock()
		if err := proc.Wait(); err != nil {
			s.logger.Warn("worker exited with error", logging.LogFields{"pid": proc.Pid(), "error": err.Error()})
		}
	}
	s.cfg.Metrics.SetWorkersAlive(s.queueURL, 0)
	s.logger.Info("supervisor stopped", nil)
}
