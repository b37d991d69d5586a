// Package transport builds the Watermill publishers events are emitted
// through. Each backend lives in its own sub-package and registers a Builder
// with the default registry; import transport/transports to get all of them.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Builder creates a publisher from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error)

// Config provides the values transports need, without depending on the full
// config package.
type Config interface {
	// GetStreamTransport returns the registered transport name.
	GetStreamTransport() string

	// Kafka
	GetKafkaBrokers() []string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS and JetStream
	GetNATSURL() string

	// HTTP webhook
	GetHTTPPublisherURL() string

	// File
	GetIOFile() string

	// AWS SNS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}
