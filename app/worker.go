package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drblury/queueflow/internal/runtime"
	"github.com/drblury/queueflow/internal/runtime/logging"
)

func (a *App) workerCommand() *cobra.Command {
	var (
		queueURL    string
		concurrency int
		index       int
	)
	cmd := &cobra.Command{
		Use:    runtime.WorkerCommand,
		Short:  "Run one worker process (spawned by consume)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if queueURL == "" {
				return errors.New("--queue-url is required")
			}
			cfg := a.cfg

			q, err := a.NewQueue(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			a.Registry.Seal()

			w, err := runtime.NewWorker(runtime.WorkerConfig{
				QueueURL:     queueURL,
				Concurrency:  concurrency,
				Queue:        q,
				Registry:     a.Registry,
				Logger:       a.logger.With(logging.LogFields{"worker_index": index}),
				PollInterval: cfg.CommandPollInterval,
				DebugMode:    cfg.DebugMode,
			})
			if err != nil {
				return err
			}
			finished := make(chan struct{})
			defer close(finished)
			go a.stopWorkerOnTerm(cmd.Context(), w, finished)

			// Handlers are never cancelled; Stop drains the pool instead.
			return w.Run(context.WithoutCancel(cmd.Context()), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&queueURL, "queue-url", "", "resolved queue URL")
	cmd.Flags().IntVar(&concurrency, "concurrency", runtime.DefaultConcurrency, "handler goroutines")
	cmd.Flags().IntVar(&index, "index", 0, "worker slot index")
	return cmd
}

// stopWorkerOnTerm stops w on SIGTERM or when ctx ends for any reason other
// than SIGINT. A terminal SIGINT reaches the whole process group, so the
// worker leaves it to the supervisor's exit command.
func (a *App) stopWorkerOnTerm(ctx context.Context, w *runtime.Worker, finished <-chan struct{}) {
	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM)
	defer signal.Stop(term)

	done := ctx.Done()
	for {
		var cause error
		select {
		case <-finished:
			return
		case sig := <-term:
			cause = signalCause{sig: sig}
		case <-done:
			if interrupted(ctx) {
				done = nil
				continue
			}
			cause = context.Cause(ctx)
		}
		a.logger.Info("worker terminating", logging.LogFields{"cause": cause.Error()})
		w.Stop()
		return
	}
}
