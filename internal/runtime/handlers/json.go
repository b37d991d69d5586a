package handlers

import (
	"context"
	"fmt"

	"github.com/drblury/queueflow/internal/runtime/event"
	"github.com/drblury/queueflow/internal/runtime/jsoncodec"
)

// JSON adapts fn to a Handler that decodes the event data into T first.
// A decode failure is an unhandled failure, so the message is redelivered.
func JSON[T any](fn func(ctx context.Context, evt event.Event, data T) error) Handler {
	return HandlerFunc(func(ctx context.Context, evt event.Event) error {
		raw, err := jsoncodec.Marshal(evt.Data())
		if err != nil {
			return fmt.Errorf("encode %s data: %w", evt.Name(), err)
		}
		var data T
		if err := jsoncodec.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("decode %s data into %T: %w", evt.Name(), data, err)
		}
		return fn(ctx, evt, data)
	})
}
