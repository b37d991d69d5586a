package app

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/queueflow/internal/runtime"
	"github.com/drblury/queueflow/internal/runtime/config"
	"github.com/drblury/queueflow/internal/runtime/logging"
)

// consumerFlags are shared by consume and inline. Zero values keep the
// configuration file's setting.
type consumerFlags struct {
	queueName      string
	concurrency    int
	batchSize      int
	waitTime       time.Duration
	statusPort     int
	metrics        bool
	debug          bool
	workers        int
	healthTimeout  time.Duration
	failureBackoff time.Duration
}

func (f *consumerFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.queueName, "queue", "", "queue name")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "concurrent handler invocations per process")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "messages requested per receive (1-10)")
	cmd.Flags().DurationVar(&f.waitTime, "wait-time", 0, "long-poll duration of each receive")
	cmd.Flags().IntVar(&f.statusPort, "status-port", 0, "serve /api/workers, /api/handlers and /metrics on this port")
	cmd.Flags().BoolVar(&f.metrics, "metrics", false, "record Prometheus metrics")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "log incoming event bodies")
}

func (f *consumerFlags) apply(cfg config.Config) config.Config {
	if f.queueName != "" {
		cfg.QueueName = f.queueName
	}
	if f.concurrency != 0 {
		cfg.Concurrency = f.concurrency
	}
	if f.batchSize != 0 {
		cfg.BatchSize = f.batchSize
	}
	if f.waitTime != 0 {
		cfg.WaitTime = f.waitTime
	}
	if f.statusPort != 0 {
		cfg.StatusPort = f.statusPort
	}
	if f.workers != 0 {
		cfg.Workers = f.workers
	}
	if f.healthTimeout != 0 {
		cfg.HealthCheckTimeout = f.healthTimeout
	}
	if f.failureBackoff != 0 {
		cfg.FailureBackoff = f.failureBackoff
	}
	cfg.MetricsEnabled = cfg.MetricsEnabled || f.metrics
	cfg.DebugMode = cfg.DebugMode || f.debug
	return cfg
}

func (a *App) consumeCommand() *cobra.Command {
	var flags consumerFlags
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Supervise worker processes consuming the queue",
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

			sup, err := runtime.NewSupervisor(runtime.SupervisorConfig{
				QueueName:          cfg.QueueName,
				Workers:            cfg.Workers,
				Concurrency:        cfg.Concurrency,
				BatchSize:          cfg.BatchSize,
				WaitTime:           cfg.WaitTime,
				HealthCheckTimeout: cfg.HealthCheckTimeout,
				Queue:              q,
				Spawner:            runtime.ExecSpawner{Args: a.globalArgs(), Stderr: a.Stderr},
				Registry:           a.Registry,
				Logger:             a.logger,
				Metrics:            metrics,
			})
			if err != nil {
				return err
			}

			stop, err := a.startStatus(cfg, sup, metrics)
			if err != nil {
				return err
			}
			defer stop()

			a.logger.Info("supervisor starting", logging.LogFields{
				"queue":       cfg.QueueName,
				"workers":     cfg.Workers,
				"concurrency": cfg.Concurrency,
				"instance_id": sup.InstanceID(),
			})
			return sup.Run(ctx)
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "number of worker processes")
	cmd.Flags().DurationVar(&flags.healthTimeout, "health-check-timeout", 0, "how long a worker gets to answer a ping")
	return cmd
}

func (a *App) metrics(cfg config.Config) (*runtime.Metrics, error) {
	if !cfg.MetricsEnabled && cfg.StatusPort == 0 {
		return nil, nil
	}
	m := runtime.NewMetrics(nil)
	if err := m.Register(); err != nil {
		return nil, err
	}
	return m, nil
}

// startStatus serves the status API when a port is configured and returns
// its shutdown func.
func (a *App) startStatus(cfg config.Config, source runtime.StatusSource, metrics *runtime.Metrics) (func(), error) {
	if cfg.StatusPort == 0 {
		return func() {}, nil
	}
	srv := runtime.NewStatusServer(runtime.StatusConfig{
		Port:               cfg.StatusPort,
		CORSAllowedOrigins: cfg.StatusCORSAllowedOrigins,
		Source:             source,
		Metrics:            metrics,
		Logger:             a.logger,
	})
	if err := srv.Start(); err != nil {
		return nil, err
	}
	a.logger.Info("status server listening", logging.LogFields{"port": cfg.StatusPort})
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Error("status server shutdown failed", err, nil)
		}
	}, nil
}
