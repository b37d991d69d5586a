package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrQueueRequired       = sterrors.New("queueflow: queue client is required")
	ErrQueueNameRequired   = sterrors.New("queueflow: queue name is required")
	ErrQueueUnavailable    = sterrors.New("queueflow: queue is unavailable")
	ErrRegistryRequired    = sterrors.New("queueflow: handler registry is required")
	ErrRegistrySealed      = sterrors.New("queueflow: handler registry is sealed")
	ErrHandlerRequired     = sterrors.New("queueflow: handler is required")
	ErrEventNameRequired   = sterrors.New("queueflow: event name is required")
	ErrEventMalformed      = sterrors.New("queueflow: event is malformed")
	ErrNoHandlerRegistered = sterrors.New("queueflow: no handler registered for event")
	ErrSpawnerRequired     = sterrors.New("queueflow: worker spawner is required")
	ErrLoggerRequired      = sterrors.New("queueflow: logger is required")
	ErrPublisherRequired   = sterrors.New("queueflow: publisher is required")
	ErrTopicRequired       = sterrors.New("queueflow: topic is required")
	ErrConfigRequired      = sterrors.New("queueflow: configuration is required")
	ErrWorkerUnresponsive  = sterrors.New("queueflow: worker is unresponsive")
	ErrFrameTooLarge       = sterrors.New("queueflow: ipc frame exceeds maximum size")
	ErrUnknownCommand      = sterrors.New("queueflow: unknown ipc command")
)

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("queueflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
