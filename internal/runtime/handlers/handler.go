// Package handlers resolves event names to handlers and turns every handler
// run into an explicit Outcome.
package handlers

import (
	"context"

	"github.com/drblury/queueflow/internal/runtime/event"
)

// Handler processes one event. Returning a *RetryDirective asks for a bounded
// delayed redelivery; any other error is an unhandled failure.
type Handler interface {
	Handle(ctx context.Context, evt event.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt event.Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// Named is implemented by handlers that want a readable name in logs and spans.
type Named interface {
	Name() string
}

type namedHandler struct {
	Handler
	name string
}

func (n namedHandler) Name() string { return n.name }

// WithName attaches a display name to h.
func WithName(name string, h Handler) Handler {
	return namedHandler{Handler: h, name: name}
}

// NameOf returns the display name of h, falling back to its Go type.
func NameOf(h Handler) string {
	if named, ok := h.(Named); ok && named.Name() != "" {
		return named.Name()
	}
	return typeName(h)
}
