// Command queueflow runs the consumer and emitter with a demo handler set.
// Services embed the app package with their own registry instead.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/drblury/queueflow/app"
	"github.com/drblury/queueflow/internal/runtime/event"
	"github.com/drblury/queueflow/internal/runtime/handlers"
	_ "github.com/drblury/queueflow/transport/transports"
)

type userCreated struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	registry := handlers.NewRegistry().
		MustRegister("user:created",
			handlers.WithName("log-signup", handlers.JSON(func(ctx context.Context, evt event.Event, data userCreated) error {
				logger.InfoContext(ctx, "user created", "event_id", evt.ID(), "user_id", data.ID)
				return nil
			})),
			handlers.WithName("welcome-mail", handlers.JSON(func(ctx context.Context, evt event.Event, data userCreated) error {
				if data.Email == "" {
					return handlers.Retry(3, 30*time.Second, "email not yet confirmed")
				}
				return nil
			})),
		)

	app.New("queueflow", registry).Main()
}
