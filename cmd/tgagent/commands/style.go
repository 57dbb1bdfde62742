package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/store"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/style"
)

func newStyleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "style",
		Short: "Inspect the learned communication style",
	}
	cmd.AddCommand(newStyleAnalyzeCmd())
	return cmd
}

func newStyleAnalyzeCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze the contact's style from stored history",
		Long: `Compute the style profile (message length, emoji and punctuation
habits, common phrases, plus an AI reading of tone and formality) from
the contact's stored outgoing messages. The result is cached; --refresh
forces recomputation.`,
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

			messages, err := app.store.GetMessages(ctx, contact.TelegramID, store.MessageQuery{})
			if err != nil {
				return err
			}
			analyzer := style.NewAnalyzer(app.store, app.provider, app.logger)
			profile, err := analyzer.Analyze(ctx, contact.TelegramID, messages, refresh)
			if err != nil {
				return err
			}

			m := profile.Metrics
			q := profile.Qualitative
			fmt.Printf("Style profile for %s (%d messages analyzed)\n\n", contact.DisplayName(), m.MessagesAnalyzed)
			fmt.Printf("  Avg length:     %.1f chars, %.1f words\n", m.AvgMessageLength, m.AvgWordsPerMsg)
			fmt.Printf("  Capitalization: %.0f%%\n", m.CapitalizedRatio*100)
			fmt.Printf("  Emoji per msg:  %.2f", m.EmojiFrequency)
			if len(m.TopEmojis) > 0 {
				fmt.Printf("  (%s)", strings.Join(m.TopEmojis, " "))
			}
			fmt.Println()
			if len(m.CommonPhrases) > 0 {
				fmt.Printf("  Phrases:        %s\n", strings.Join(m.CommonPhrases, ", "))
			}
			fmt.Printf("\n  Formality:  %s\n", q.Formality)
			fmt.Printf("  Tone:       %s\n", strings.Join(q.Tone, ", "))
			fmt.Printf("  Directness: %s\n", q.Directness)
			fmt.Printf("  Humor:      %s\n", q.HumorLevel)
			if len(q.LanguageFeatures) > 0 {
				fmt.Printf("  Features:   %s\n", strings.Join(q.LanguageFeatures, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore the cached profile and recompute")
	return cmd
}
