package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/history"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/store"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent stored conversation history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := cmd.Context()

			client, err := app.connectTelegram(ctx)
			if err != nil {
				return err
			}
			defer client.Disconnect()

			contact, err := app.resolveContact(ctx, client)
			if err != nil {
				return err
			}

			recorder := history.NewRecorder(app.store, app.logger)
			messages, err := recorder.RecentContext(ctx, contact.TelegramID, limit)
			if err != nil {
				return err
			}
			if len(messages) == 0 {
				fmt.Println("No stored messages yet; history accumulates while \"tgagent chat\" runs.")
				return nil
			}

			printMessages(contact, messages)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of messages to show")
	return cmd
}

func printMessages(contact *store.Contact, messages []*store.Message) {
	for _, m := range messages {
		who := contact.DisplayName()
		if m.IsOutgoing {
			who = "me"
		}
		fmt.Printf("%s  %-12s %s\n", m.Timestamp.Local().Format("2006-01-02 15:04"), who, m.Text)
	}
}
