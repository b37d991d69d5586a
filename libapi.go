package queueflow

import (
	"context"

	"github.com/drblury/queueflow/app"
	runtimepkg "github.com/drblury/queueflow/internal/runtime"
	configpkg "github.com/drblury/queueflow/internal/runtime/config"
	errspkg "github.com/drblury/queueflow/internal/runtime/errors"
	eventpkg "github.com/drblury/queueflow/internal/runtime/event"
	handlerpkg "github.com/drblury/queueflow/internal/runtime/handlers"
	idspkg "github.com/drblury/queueflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/queueflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/queueflow/internal/runtime/metadata"
	queuepkg "github.com/drblury/queueflow/internal/runtime/queue"
	"github.com/drblury/queueflow/transport"
)

type (
	Config = configpkg.Config
	App    = app.App

	Event       = eventpkg.Event
	EventOption = eventpkg.Option

	Handler        = handlerpkg.Handler
	HandlerFunc    = handlerpkg.HandlerFunc
	Registry       = handlerpkg.Registry
	RetryDirective = handlerpkg.RetryDirective
	Outcome        = handlerpkg.Outcome
	OutcomeKind    = handlerpkg.OutcomeKind
	PanicError     = handlerpkg.PanicError

	Queue        = queuepkg.Queue
	QueueMessage = queuepkg.Message
	MemoryQueue  = queuepkg.Memory
	SQSQueue     = queuepkg.SQS

	Supervisor       = runtimepkg.Supervisor
	SupervisorConfig = runtimepkg.SupervisorConfig
	Worker           = runtimepkg.Worker
	WorkerConfig     = runtimepkg.WorkerConfig
	WorkerStatus     = runtimepkg.WorkerStatus
	Spawner          = runtimepkg.Spawner
	ExecSpawner      = runtimepkg.ExecSpawner
	InlineConsumer   = runtimepkg.InlineConsumer
	InlineConfig     = runtimepkg.InlineConfig

	Emitter       = runtimepkg.Emitter
	EmitterConfig = runtimepkg.EmitterConfig
	Metadata      = metadatapkg.Metadata

	Metrics         = runtimepkg.Metrics
	MetricsSnapshot = runtimepkg.MetricsSnapshot
	StatusServer    = runtimepkg.StatusServer
	StatusConfig    = runtimepkg.StatusConfig

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

const (
	OutcomeSuccess = handlerpkg.OutcomeSuccess
	OutcomeRetry   = handlerpkg.OutcomeRetry
	OutcomeFailure = handlerpkg.OutcomeFailure
)

var (
	NewApp = app.New

	NewEvent      = eventpkg.New
	WithEventID   = eventpkg.WithID
	WithTimestamp = eventpkg.WithTimestamp
	ParseEvent    = eventpkg.Parse
	MarshalEvent  = eventpkg.Marshal

	NewRegistry = handlerpkg.NewRegistry
	WithName    = handlerpkg.WithName
	Retry       = handlerpkg.Retry
	Invoke      = handlerpkg.Invoke

	NewMemoryQueue = queuepkg.NewMemory
	NewSQSQueue    = queuepkg.NewSQS

	NewSupervisor      = runtimepkg.NewSupervisor
	NewWorker          = runtimepkg.NewWorker
	NewInlineConsumer  = runtimepkg.NewInlineConsumer
	NewEmitter         = runtimepkg.NewEmitter
	NewEventMessage    = runtimepkg.NewEventMessage
	NewMetrics         = runtimepkg.NewMetrics
	NewStatusServer    = runtimepkg.NewStatusServer
	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks
	LoadConfigFile     = configpkg.LoadFile
	ValidateConfig     = configpkg.ValidateConfig
	CreateULID         = idspkg.CreateULID
	NewSlogLogger      = loggingpkg.NewSlogServiceLogger
	NewZapLogger       = loggingpkg.NewZapServiceLogger
	NewWatermillLogger = loggingpkg.NewWatermillServiceLogger

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.RegisterWithCapabilities
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities
)

// HandleJSON adapts fn to a Handler that decodes the event data into T.
func HandleJSON[T any](fn func(ctx context.Context, evt Event, data T) error) Handler {
	return handlerpkg.JSON(fn)
}

// Sentinel errors.
var (
	ErrQueueUnavailable    = errspkg.ErrQueueUnavailable
	ErrQueueNameRequired   = errspkg.ErrQueueNameRequired
	ErrEventMalformed      = errspkg.ErrEventMalformed
	ErrEventNameRequired   = errspkg.ErrEventNameRequired
	ErrNoHandlerRegistered = errspkg.ErrNoHandlerRegistered
	ErrRegistrySealed      = errspkg.ErrRegistrySealed
	ErrHandlerRequired     = errspkg.ErrHandlerRequired
	ErrWorkerUnresponsive  = errspkg.ErrWorkerUnresponsive
	ErrPublisherRequired   = errspkg.ErrPublisherRequired
)
