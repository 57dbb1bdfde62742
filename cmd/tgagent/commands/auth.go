package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/config"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/oauth"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage AI provider and Telegram credentials",
		Long: `Manage OAuth credentials for the configured AI provider and the
Telegram bot token.

Examples:
  tgagent auth login
  tgagent auth status
  tgagent auth logout
  tgagent auth set-bot-token`,
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthStatusCmd(),
		newAuthLogoutCmd(),
		newAuthSetBotTokenCmd(),
	)
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Run the interactive authorization flow",
		Long: `Authorize against the configured provider.

For qwen, a device code URL is shown; complete it in any browser.
For google, a local browser window opens for consent.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := cmd.Context()

			// Drop any stored record so a fresh interactive flow runs.
			if err := app.manager.Clear(ctx); err != nil {
				return err
			}
			if _, err := app.manager.EnsureValid(ctx); err != nil {
				return err
			}
			fmt.Printf("Authorized with %s.\n", app.cfg.Provider.Name)
			return nil
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored credential status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			token, err := app.tokens.GetToken(cmd.Context(), app.cfg.Provider.Name)
			if err != nil {
				return err
			}
			if token == nil {
				fmt.Printf("%s: not authorized\n", app.cfg.Provider.Name)
				return nil
			}

			remaining := time.Until(token.ExpiresAt).Round(time.Second)
			switch {
			case remaining <= 0:
				fmt.Printf("%s: token expired %s ago (will refresh on next use)\n",
					app.cfg.Provider.Name, -remaining)
			case remaining < oauth.DefaultRefreshMargin:
				fmt.Printf("%s: token expiring in %s (will refresh on next use)\n",
					app.cfg.Provider.Name, remaining)
			default:
				fmt.Printf("%s: token valid for %s\n", app.cfg.Provider.Name, remaining)
			}
			return nil
		},
	}
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.manager.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("Logged out of %s.\n", app.cfg.Provider.Name)
			return nil
		},
	}
}

func newAuthSetBotTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-bot-token",
		Short: "Store the Telegram bot token in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			token, err := oauth.ReadPassword("Bot token: ")
			if err != nil {
				return fmt.Errorf("reading bot token: %w", err)
			}
			if token == "" {
				return fmt.Errorf("empty token")
			}
			if err := config.StoreKeyring(config.KeyringBotToken, token); err != nil {
				return fmt.Errorf("storing bot token: %w", err)
			}
			fmt.Println("Bot token stored in the OS keyring.")
			return nil
		},
	}
}
