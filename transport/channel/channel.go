// Package channel publishes events to an in-process Go channel pub/sub, for
// tests and local development.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/queueflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

var (
	sharedMu sync.Mutex
	shared   *gochannel.GoChannel
)

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build returns the process-wide pub/sub, creating it on first use, so
// subscribers obtained through PubSub see what the emitter publishes.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return PubSub(logger), nil
}

// PubSub returns the process-wide pub/sub.
func PubSub(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		if logger == nil {
			logger = watermill.NopLogger{}
		}
		shared = Factory(gochannel.Config{Persistent: true}, logger)
	}
	return shared
}

// Reset closes and forgets the process-wide pub/sub.
func Reset() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		return nil
	}
	err := shared.Close()
	shared = nil
	return err
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
