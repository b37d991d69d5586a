// Package queueflow is the core of an event-driven service: it consumes
// events from an AWS SQS queue, dispatches them to registered handlers and
// publishes events to a stream.
//
// Handlers are registered by event name ("<source>:<verb>") on a Registry
// and run in registration order. A handler returning a *RetryDirective asks
// for a bounded, delayed redelivery; any other error leaves the message for
// the queue's visibility timeout.
//
// # Consumers
//
// Supervisor spawns worker processes by re-executing the current binary with
// the hidden "worker" command and feeds them messages over framed pipes. Each
// worker runs a fixed goroutine pool. Workers that stop answering pings are
// killed and replaced. InlineConsumer does the same work in one process.
//
// The app package wires both into a cobra command line:
//
//	registry := queueflow.NewRegistry().
//		MustRegister("user:created", queueflow.HandlerFunc(sendWelcomeMail))
//	queueflow.NewApp("billing", registry).Main()
//
// # Publishing
//
// Emitter publishes events through any transport registered with the
// transport package: aws (SNS), kafka, rabbitmq, nats, nats-jetstream, http,
// io and channel. Import transport/transports to register all of them.
package queueflow
