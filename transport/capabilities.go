package transport

import "fmt"

// Capabilities describes what a stream transport offers to publishers and the
// subscribers behind it.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// SupportsOrdering indicates messages on a topic keep their publish order.
	SupportsOrdering bool

	// SupportsAttributes indicates event metadata travels as native message
	// attributes or headers rather than only inside the payload.
	SupportsAttributes bool

	// SupportsFiltering indicates subscribers can filter on those attributes
	// (SNS filter policies, AMQP header bindings).
	SupportsFiltering bool

	// Durable indicates the broker persists published messages.
	Durable bool

	// MaxMessageSize is the payload limit in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// CheckSize returns an error when a payload of size bytes exceeds the limit.
func (c Capabilities) CheckSize(size int) error {
	if c.MaxMessageSize > 0 && int64(size) > c.MaxMessageSize {
		return fmt.Errorf("%s: message of %d bytes exceeds limit of %d bytes", c.Name, size, c.MaxMessageSize)
	}
	return nil
}

// Predefined capability sets of the built-in transports.
var (
	AWSCapabilities = Capabilities{
		Name:               "aws",
		SupportsAttributes: true,
		SupportsFiltering:  true,
		Durable:            true,
		MaxMessageSize:     262144, // SNS publish limit
	}

	ChannelCapabilities = Capabilities{
		Name:               "channel",
		SupportsOrdering:   true,
		SupportsAttributes: true,
	}

	KafkaCapabilities = Capabilities{
		Name:               "kafka",
		SupportsOrdering:   true,
		SupportsAttributes: true,
		Durable:            true,
		MaxMessageSize:     1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:               "rabbitmq",
		SupportsOrdering:   true,
		SupportsAttributes: true,
		SupportsFiltering:  true,
		Durable:            true,
	}

	NATSCapabilities = Capabilities{
		Name:               "nats",
		SupportsAttributes: true,
		MaxMessageSize:     1048576,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:               "nats-jetstream",
		SupportsOrdering:   true,
		SupportsAttributes: true,
		Durable:            true,
		MaxMessageSize:     1048576,
	}

	HTTPCapabilities = Capabilities{
		Name:               "http",
		SupportsAttributes: true,
	}

	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		Durable:          true,
	}
)

// GetCapabilities looks a transport up in the default registry. Unknown
// names yield a Capabilities with only Name set.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
