package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drblury/queueflow/internal/runtime"
	"github.com/drblury/queueflow/internal/runtime/event"
	"github.com/drblury/queueflow/internal/runtime/jsoncodec"
	"github.com/drblury/queueflow/internal/runtime/logging"
	"github.com/drblury/queueflow/transport"
)

func (a *App) emitCommand() *cobra.Command {
	var source, topic, transportName string
	cmd := &cobra.Command{
		Use:   "emit <verb> [json-data]",
		Short: "Publish one event to the event stream",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg
			if source != "" {
				cfg.EventSource = source
			}
			if topic != "" {
				cfg.StreamTopic = topic
			}
			if transportName != "" {
				cfg.StreamTransport = transportName
			}
			if cfg.StreamTopic == "" {
				return validate(fmt.Errorf("stream: topic is required"))
			}
			if err := validate(cfg.Validate()); err != nil {
				return err
			}

			var data map[string]any
			if len(args) == 2 {
				if err := jsoncodec.Unmarshal([]byte(args[1]), &data); err != nil {
					return fmt.Errorf("parse event data: %w", err)
				}
			}

			name := strings.ToLower(cfg.StreamTransport)
			cfg.StreamTransport = name
			pub, err := transport.Build(ctx, &cfg, logging.NewWatermillAdapter(a.logger))
			if err != nil {
				return fmt.Errorf("build %s publisher: %w", name, err)
			}

			emitter, err := runtime.NewEmitter(runtime.EmitterConfig{
				Source:       cfg.EventSource,
				Topic:        cfg.StreamTopic,
				Publisher:    pub,
				Logger:       a.logger,
				Capabilities: transport.GetCapabilities(name),
			})
			if err != nil {
				_ = pub.Close()
				return err
			}
			defer emitter.Close()

			evt, err := emitter.Emit(ctx, args[0], data)
			if err != nil {
				return err
			}
			body, err := event.Marshal(evt)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return err
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "event source, the part before ':' in the event name")
	cmd.Flags().StringVar(&topic, "topic", "", "stream topic")
	cmd.Flags().StringVar(&transportName, "transport", "", "stream transport ("+strings.Join(transport.DefaultRegistry.Names(), ", ")+")")
	return cmd
}
