package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
	"github.com/drblury/queueflow/internal/runtime/handlers"
	"github.com/drblury/queueflow/internal/runtime/ipc"
	"github.com/drblury/queueflow/internal/runtime/logging"
	"github.com/drblury/queueflow/internal/runtime/pool"
	"github.com/drblury/queueflow/internal/runtime/queue"
)

const (
	DefaultConcurrency  = 2
	DefaultPollInterval = 2 * time.Second
	pongWriteTimeout    = time.Second
)

// WorkerConfig configures one worker process.
type WorkerConfig struct {
	// QueueURL is the resolved queue URL handed over by the supervisor.
	QueueURL    string
	Concurrency int
	Queue       queue.Queue
	Registry    *handlers.Registry
	Logger      logging.ServiceLogger
	Metrics     *Metrics
	Hooks       JobHooks
	// PollInterval bounds how long the command loop waits before it rechecks
	// whether the worker is terminating.
	PollInterval time.Duration
	// PID is reported in pongs. Defaults to os.Getpid().
	PID       int
	DebugMode bool
}

// Worker executes work commands received from a supervisor on a goroutine pool.
type Worker struct {
	cfg         WorkerConfig
	proc        *processor
	logger      logging.ServiceLogger
	terminating atomic.Bool
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, qferrors.ErrQueueRequired
	}
	if cfg.Registry == nil {
		return nil, qferrors.ErrRegistryRequired
	}
	if cfg.Logger == nil {
		return nil, qferrors.ErrLoggerRequired
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}

	logger := cfg.Logger.With(logging.LogFields{"worker_pid": cfg.PID})
	proc := newProcessor(cfg.Queue, cfg.Registry, logger, cfg.Metrics, cfg.Hooks)
	proc.debug = cfg.DebugMode

	return &Worker{cfg: cfg, proc: proc, logger: logger}, nil
}

// Stop asks the command loop to exit at its next poll boundary.
func (w *Worker) Stop() {
	w.terminating.Store(true)
}

type frameResult struct {
	frame ipc.Frame
	err   error
}

// Run reads commands until exit, end of input, ctx cancellation or Stop. In
// every case the pool is drained before Run returns; running handlers are
// never cancelled.
func (w *Worker) Run(ctx context.Context, commands io.Reader, liveness io.Writer) error {
	p := pool.New(w.cfg.Concurrency)
	live := ipc.NewEncoder(liveness)
	w.proc.relay = &statsRelay{enc: live, logger: w.logger}
	frames := make(chan frameResult, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		dec := ipc.NewDecoder(commands)
		for {
			f, err := dec.Read()
			select {
			case frames <- frameResult{frame: f, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	w.logger.Info("worker started", logging.LogFields{
		"queue_url":   w.cfg.QueueURL,
		"concurrency": w.cfg.Concurrency,
	})

	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	var runErr error
loop:
	for !w.terminating.Load() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.cfg.PollInterval)

		select {
		case <-ctx.Done():
			break loop
		case <-timer.C:
			continue
		case res := <-frames:
			if res.err != nil {
				if !errors.Is(res.err, io.EOF) {
					runErr = fmt.Errorf("read command: %w", res.err)
					w.logger.Error("unable to read command", res.err, nil)
				}
				break loop
			}
			switch res.frame.Op {
			case ipc.OpWork:
				w.work(context.WithoutCancel(ctx), p, res.frame)
			case ipc.OpPing:
				if err := live.WriteJSON(ipc.OpPong, ipc.PongPayload{PID: w.cfg.PID}, pongWriteTimeout); err != nil {
					w.logger.Error("unable to answer ping", err, nil)
				}
			case ipc.OpExit:
				break loop
			default:
				w.logger.Warn("ignoring command", logging.LogFields{
					"op":    res.frame.Op.String(),
					"error": qferrors.ErrUnknownCommand.Error(),
				})
			}
		}
	}

	queued, running := p.Stats()
	w.logger.Info("worker shutting down", logging.LogFields{"queued": queued, "running": running})
	p.Shutdown()
	w.logger.Info("worker stopped", nil)
	return runErr
}

func (w *Worker) work(ctx context.Context, p *pool.Pool, f ipc.Frame) {
	var payload ipc.WorkPayload
	if err := f.DecodeJSON(&payload); err != nil {
		w.logger.Error("unable to decode work command", err, nil)
		return
	}
	msg := queue.Message{
		ReceiptHandle: payload.Receipt,
		Body:          []byte(payload.Body),
		ReceiveCount:  payload.ReceiveCount,
	}
	if msg.ReceiveCount < 1 {
		msg.ReceiveCount = 1
	}

	evt, hs, ok := w.proc.prepare(ctx, w.cfg.QueueURL, msg)
	if !ok {
		return
	}
	err := p.Submit(func() {
		_ = w.proc.execute(ctx, w.cfg.QueueURL, msg, evt, hs)
	})
	if err != nil {
		w.logger.Error("unable to schedule event", err, logging.LogFields{"event": eventFields(evt)})
	}
}

// statsRelay forwards per-message statistics to the supervisor over the
// liveness stream. Write failures are logged and dropped.
type statsRelay struct {
	enc    *ipc.Encoder
	logger logging.ServiceLogger
}

func (r *statsRelay) RecordOutcome(eventName, outcome string) {
	r.send(ipc.StatsPayload{Event: eventName, Outcome: outcome})
}

func (r *statsRelay) ObserveHandler(eventName string, d time.Duration) {
	r.send(ipc.StatsPayload{Event: eventName, DurationNS: d.Nanoseconds()})
}

func (r *statsRelay) send(stats ipc.StatsPayload) {
	if err := r.enc.WriteJSON(ipc.OpStats, stats, pongWriteTimeout); err != nil {
		r.logger.Warn("unable to forward stats", logging.LogFields{"error": err.Error(), "event": stats.Event})
	}
}
