// Package transports registers every built-in event stream publisher.
// Import it for side effects.
package transports

import (
	_ "github.com/drblury/queueflow/transport/aws"
	_ "github.com/drblury/queueflow/transport/channel"
	_ "github.com/drblury/queueflow/transport/http"
	_ "github.com/drblury/queueflow/transport/io"
	_ "github.com/drblury/queueflow/transport/jetstream"
	_ "github.com/drblury/queueflow/transport/kafka"
	_ "github.com/drblury/queueflow/transport/nats"
	_ "github.com/drblury/queueflow/transport/rabbitmq"
)
