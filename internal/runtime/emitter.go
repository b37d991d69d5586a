package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
	"github.com/drblury/queueflow/internal/runtime/event"
	"github.com/drblury/queueflow/internal/runtime/logging"
	"github.com/drblury/queueflow/internal/runtime/metadata"
	"github.com/drblury/queueflow/transport"
)

// EmitterConfig configures an Emitter.
type EmitterConfig struct {
	// Source is the namespace of emitted event names ("<source>:<verb>").
	Source    string
	Topic     string
	Publisher message.Publisher
	Logger    logging.ServiceLogger
	// Capabilities of the publisher's transport. A non-zero MaxMessageSize
	// rejects oversized events before they are sent.
	Capabilities transport.Capabilities
}

// Emitter publishes events to the event stream.
type Emitter struct {
	cfg EmitterConfig
}

func NewEmitter(cfg EmitterConfig) (*Emitter, error) {
	if cfg.Publisher == nil {
		return nil, qferrors.ErrPublisherRequired
	}
	if cfg.Topic == "" {
		return nil, qferrors.ErrTopicRequired
	}
	if cfg.Source == "" {
		return nil, fmt.Errorf("%w: source is empty", qferrors.ErrEventNameRequired)
	}
	return &Emitter{cfg: cfg}, nil
}

// Emit builds a "<source>:<verb>" event from data and publishes it.
func (e *Emitter) Emit(ctx context.Context, verb string, data map[string]any) (event.Event, error) {
	if verb == "" {
		return event.Event{}, qferrors.ErrEventNameRequired
	}
	evt, err := event.New(e.cfg.Source+":"+verb, data)
	if err != nil {
		return event.Event{}, err
	}
	if err := e.Publish(ctx, evt); err != nil {
		return event.Event{}, err
	}
	return evt, nil
}

// Publish sends an already built event.
func (e *Emitter) Publish(ctx context.Context, evt event.Event) error {
	msg, err := NewEventMessage(evt)
	if err != nil {
		return err
	}
	if err := e.cfg.Capabilities.CheckSize(len(msg.Payload)); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Name(), err)
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	if err := e.cfg.Publisher.Publish(e.cfg.Topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Name(), err)
	}
	if e.cfg.Logger != nil {
		e.cfg.Logger.Debug("event emitted", logging.LogFields{
			"event": eventFields(evt),
			"topic": e.cfg.Topic,
		})
	}
	return nil
}

// Close closes the underlying publisher.
func (e *Emitter) Close() error {
	return e.cfg.Publisher.Close()
}

// NewEventMessage encodes evt as a Watermill message carrying the stream
// attributes. The message UUID is the event ID.
func NewEventMessage(evt event.Event) (*message.Message, error) {
	payload, err := event.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := message.NewMessage(evt.ID(), payload)
	msg.Metadata = metadata.ToWatermill(metadata.ForEvent(evt))
	return msg, nil
}
