/*
Package runtime consumes application events from a queue and dispatches them
to registered handlers.

# Architecture Overview

Two consumers share one processing path (processing.go):

  - Supervisor: long-polls the queue and hands each message to an idle
    worker process over a framed pipe protocol (package ipc). After every
    batch it pings each worker and replaces any that fail to answer in time.
  - Worker: the child side of that protocol. It runs handlers on a bounded
    goroutine pool (package pool) and answers pings with its pid.
  - InlineConsumer: receives and processes in the current process, with
    optional retries driven by handlers.RetryDirective.

Per message the processor parses the event, resolves its handlers from a
handlers.Registry, runs them in registration order and settles the message:
delete on success, extend visibility on retry, delete on give-up, malformed
or unroutable events, and leave or back off failures.

# Observability

Metrics (metrics.go) records Prometheus counters plus an in-memory snapshot
with per-event latency percentiles. JobHooks run around each handler chain.
StatusServer serves /api/workers, /api/handlers, /api/stats and /metrics.

# Publishing

Emitter builds "<source>:<verb>" events and publishes them through any
Watermill publisher, normally one built by the transport registry.

# Sub-packages

  - awscfg/: AWS SDK configuration shared by SQS and SNS
  - config/: consumer and stream settings, TOML loading and validation
  - errors/: sentinel errors
  - event/: the event envelope and its JSON codec
  - handlers/: handler registry, retry directive and traced invocation
  - ids/: ULID generation
  - ipc/: supervisor to worker framing
  - jsoncodec/: JSON marshaling
  - logging/: ServiceLogger and its slog, zap and Watermill adapters
  - metadata/: event message attributes
  - pool/: bounded goroutine pool
  - queue/: SQS and in-memory queue clients
*/
package runtime
