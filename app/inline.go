package app

import (
	"github.com/spf13/cobra"

	"github.com/drblury/queueflow/internal/runtime"
	"github.com/drblury/queueflow/internal/runtime/logging"
)

func (a *App) inlineCommand() *cobra.Command {
	var flags consumerFlags
	cmd := &cobra.Command{
		Use:   "inline",
		Short: "Consume the queue in this process, with handler driven retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := flags.apply(a.cfg)
			if err := validate(cfg.ValidateConsumer()); err != nil {
				return err
			}

			q, err := a.NewQueue(ctx, cfg)
			if err != nil {
				return err
			}
			metrics, err := a.metrics(cfg)
			if err != nil {
				return err
			}
			a.Registry.Seal()

			consumer, err := runtime.NewInlineConsumer(runtime.InlineConfig{
				QueueName:      cfg.QueueName,
				Concurrency:    cfg.Concurrency,
				BatchSize:      cfg.BatchSize,
				WaitTime:       cfg.WaitTime,
				FailureBackoff: cfg.FailureBackoff,
				Queue:          q,
				Registry:       a.Registry,
				Logger:         a.logger,
				Metrics:        metrics,
				Hooks:          runtime.LoggingHooks(a.logger),
				DebugMode:      cfg.DebugMode,
			})
			if err != nil {
				return err
			}

			stop, err := a.startStatus(cfg, consumer, metrics)
			if err != nil {
				return err
			}
			defer stop()

			a.logger.Info("inline consumer starting", logging.LogFields{
				"queue":       cfg.QueueName,
				"concurrency": cfg.Concurrency,
			})
			return consumer.Run(ctx)
		},
	}
	flags.bind(cmd)
	cmd.Flags().DurationVar(&flags.failureBackoff, "failure-backoff", 0, "visibility applied after an unhandled handler error")
	return cmd
}
