// Package jetstream publishes events into a NATS JetStream stream.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/queueflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when Config.StreamName is empty.
	DefaultStreamName = "QUEUEFLOW"

	// DefaultMaxAge bounds how long the stream retains events.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// JetStream is the subset of nats.JetStreamContext the publisher uses.
type JetStream interface {
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// ConnectFactory allows overriding the connection for testing. The returned
// func closes the underlying connection.
var ConnectFactory = func(url string) (JetStream, func(), error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("open JetStream context: %w", err)
	}
	return js, nc.Close, nil
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build connects to NATS and makes sure the stream exists.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return nil, errors.New("nats-jetstream: url is required")
	}
	js, closer, err := ConnectFactory(url)
	if err != nil {
		return nil, err
	}
	pub, err := NewPublisher(js, Config{}, logger, closer)
	if err != nil {
		closer()
		return nil, err
	}
	return pub, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds stream settings.
type Config struct {
	StreamName string
	MaxAge     time.Duration
	Replicas   int
	// RetentionPolicy is "limits" (default), "interest" or "workqueue".
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

func (c Config) streamConfig() *nats.StreamConfig {
	sc := &nats.StreamConfig{
		Name:     c.StreamName,
		Subjects: []string{c.StreamName + ".>"},
		MaxAge:   c.MaxAge,
		Replicas: c.Replicas,
	}
	switch c.RetentionPolicy {
	case "interest":
		sc.Retention = nats.InterestPolicy
	case "workqueue":
		sc.Retention = nats.WorkQueuePolicy
	default:
		sc.Retention = nats.LimitsPolicy
	}
	return sc
}

// Publisher publishes to <stream>.<topic> subjects.
type Publisher struct {
	js     JetStream
	config Config
	logger watermill.LoggerAdapter
	closer func()

	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates or updates the stream and returns a publisher for it.
func NewPublisher(js JetStream, cfg Config, logger watermill.LoggerAdapter, closer func()) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	p := &Publisher{js: js, config: cfg.withDefaults(), logger: logger, closer: closer}
	if err := p.ensureStream(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) ensureStream() error {
	sc := p.config.streamConfig()
	if _, err := p.js.AddStream(sc); err == nil {
		return nil
	}
	if _, err := p.js.UpdateStream(sc); err != nil {
		return fmt.Errorf("ensure stream %s: %w", sc.Name, err)
	}
	p.logger.Info("JetStream stream updated", watermill.LogFields{"stream": sc.Name})
	return nil
}

// Subject maps a topic to its stream subject.
func (p *Publisher) Subject(topic string) string {
	return p.config.StreamName + "." + topic
}

// Publish sends each message with its metadata as NATS headers.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("nats-jetstream: publisher is closed")
	}

	subject := p.Subject(topic)
	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		// Lets JetStream drop duplicates within its dedup window.
		headers.Set(nats.MsgIdHdr, msg.UUID)

		if _, err := p.js.PublishMsg(&nats.Msg{Subject: subject, Data: msg.Payload, Header: headers}); err != nil {
			return fmt.Errorf("publish to %s: %w", subject, err)
		}
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.closer != nil {
		p.closer()
	}
	return nil
}
