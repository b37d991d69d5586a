// Package app is the queueflow command line: a supervisor with worker
// processes, an inline consumer and an event emitter, all built around an
// application's handler registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drblury/queueflow/internal/runtime/awscfg"
	"github.com/drblury/queueflow/internal/runtime/config"
	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
	"github.com/drblury/queueflow/internal/runtime/handlers"
	"github.com/drblury/queueflow/internal/runtime/logging"
	"github.com/drblury/queueflow/internal/runtime/queue"
)

// Environment variables consulted for the global flag defaults.
const (
	EnvConfig    = "QUEUEFLOW_CONFIG"
	EnvLogLevel  = "QUEUEFLOW_LOG_LEVEL"
	EnvLogFormat = "QUEUEFLOW_LOG_FORMAT"
)

// QueueFactory builds the queue client for a loaded configuration.
type QueueFactory func(ctx context.Context, cfg config.Config) (queue.Queue, error)

// App holds what the commands share. Only Registry is required.
type App struct {
	Name     string
	Registry *handlers.Registry

	// NewQueue defaults to an SQS client configured from Config.
	NewQueue QueueFactory

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	configPath string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger logging.ServiceLogger
	sync   func() error
}

// New returns an App for registry with the process's standard streams.
func New(name string, registry *handlers.Registry) *App {
	return &App{
		Name:     name,
		Registry: registry,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
}

// SQSQueue builds an SQS client through the shared AWS configuration.
func SQSQueue(ctx context.Context, cfg config.Config) (queue.Queue, error) {
	awsCfg, err := awscfg.Load(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return queue.NewSQS(awsCfg), nil
}

// Command builds the root command.
func (a *App) Command() *cobra.Command {
	name := a.Name
	if name == "" {
		name = "queueflow"
	}

	root := &cobra.Command{
		Use:           name + " <command>",
		Short:         "Consume and emit application events",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.sync != nil {
				_ = a.sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv(EnvConfig), "TOML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", os.Getenv(EnvLogLevel), "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", os.Getenv(EnvLogFormat), "log format (json, text or zap)")

	root.AddCommand(a.consumeCommand())
	root.AddCommand(a.workerCommand())
	root.AddCommand(a.inlineCommand())
	root.AddCommand(a.emitCommand())
	return root
}

// signalCause is the cancellation cause Execute records for a signal.
type signalCause struct{ sig os.Signal }

func (c signalCause) Error() string { return "received " + c.sig.String() }

// interrupted reports whether ctx was cancelled by SIGINT.
func interrupted(ctx context.Context) bool {
	var sc signalCause
	return errors.As(context.Cause(ctx), &sc) && sc.sig == os.Interrupt
}

// Execute runs the command line until it finishes or SIGINT/SIGTERM arrives.
// The signal is recorded as the context's cancellation cause.
func (a *App) Execute(args []string) error {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			cancel(signalCause{sig: sig})
		case <-ctx.Done():
		}
	}()

	cmd := a.Command()
	cmd.SetArgs(args)
	cmd.SetIn(a.Stdin)
	cmd.SetOut(a.Stdout)
	cmd.SetErr(a.Stderr)
	return cmd.ExecuteContext(ctx)
}

// Main runs Execute with os.Args and exits non-zero on failure.
func (a *App) Main() {
	if err := a.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(a.Stderr, "%s: %v\n", a.Name, err)
		os.Exit(1)
	}
}

func (a *App) setup() error {
	if a.Registry == nil {
		return qferrors.ErrRegistryRequired
	}
	if a.NewQueue == nil {
		a.NewQueue = SQSQueue
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}

	cfg := config.Config{}
	if a.configPath != "" {
		loaded, err := config.LoadFile(a.configPath, cfg)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	a.cfg = cfg.WithDefaults()

	logger, sync, err := newLogger(a.Stderr, a.cfg.LogFormat, a.cfg.LogLevel)
	if err != nil {
		return err
	}
	a.logger = logger
	a.sync = sync
	return nil
}

// newLogger writes to w, never stdout: workers use stdout for liveness frames.
func newLogger(w io.Writer, format, level string) (logging.ServiceLogger, func() error, error) {
	if strings.EqualFold(format, "zap") {
		zl, err := logging.NewZapLogger(level)
		if err != nil {
			return nil, nil, fmt.Errorf("build zap logger: %w", err)
		}
		return logging.NewZapServiceLogger(zl), zl.Sync, nil
	}
	return logging.NewSlogServiceLogger(logging.NewSlogLogger(w, format, level)), nil, nil
}

// validate wraps config failures so callers can match ConfigValidationError.
func validate(err error) error {
	if err == nil {
		return nil
	}
	var cve qferrors.ConfigValidationError
	if errors.As(err, &cve) {
		return err
	}
	return qferrors.NewConfigValidationError(err)
}

// globalArgs are the root flags a re-executed worker needs to load the same
// configuration as its supervisor.
func (a *App) globalArgs() []string {
	args := []string{"--log-level", a.cfg.LogLevel, "--log-format", a.cfg.LogFormat}
	if a.configPath != "" {
		args = append(args, "--config", a.configPath)
	}
	return args
}
