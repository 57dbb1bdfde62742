package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/generator"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/history"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/relay"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/store"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/style"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/ui"
)

func newChatCmd() *cobra.Command {
	var auto bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run the message relay for the configured contact",
		Long: `Connect to Telegram, learn the contact's style from stored history,
and relay replies to their incoming messages.

Each message gets a drafted reply you can send, edit, regenerate,
browse alternatives for, or skip. With --auto (or relay.auto_reply in
the config), replies are sent unattended after the configured delay.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := app.connectTelegram(ctx)
			if err != nil {
				return err
			}
			defer client.Disconnect()

			contact, err := app.resolveContact(ctx, client)
			if err != nil {
				return err
			}

			if err := app.provider.EnsureValidToken(ctx); err != nil {
				return fmt.Errorf("provider not authorized (run \"tgagent auth login\"): %w", err)
			}

			messages, err := app.store.GetMessages(ctx, contact.TelegramID, store.MessageQuery{})
			if err != nil {
				return err
			}
			analyzer := style.NewAnalyzer(app.store, app.provider, app.logger)
			profile, err := analyzer.Analyze(ctx, contact.TelegramID, messages, false)
			if err != nil {
				return fmt.Errorf("analyzing style: %w", err)
			}

			gen := generator.New(app.provider, style.Prompt(profile), app.logger)
			recorder := history.NewRecorder(app.store, app.logger)

			cfg := relay.Config{
				AutoReply:          app.cfg.Relay.AutoReply || auto,
				AutoReplyDelay:     app.cfg.AutoReplyDelay(),
				AutoReplyStartSpec: app.cfg.Relay.AutoReplyStart,
				AutoReplyStopSpec:  app.cfg.Relay.AutoReplyStop,
				ContextLimit:       app.cfg.Relay.ContextLimit,
				AlternativeCount:   app.cfg.Relay.AlternativeCount,
			}
			engine := relay.New(contact, client, recorder, gen, ui.NewPrompter(), cfg, app.logger)

			fmt.Printf("Relaying messages from %s. Press Ctrl+C to stop.\n", contact.DisplayName())
			go engine.Listen(ctx, client.Messages())

			if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "reply automatically without prompting")
	return cmd
}
