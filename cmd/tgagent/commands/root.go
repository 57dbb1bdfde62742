// Package commands implements the tgagent CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tgagent",
		Short: "Telegram assistant that replies in your own style",
		Long: `tgagent learns a contact's conversation style from history and relays
AI-generated replies to their incoming Telegram messages, interactively
or on a timer.

Examples:
  tgagent auth login
  tgagent chat
  tgagent chat --auto
  tgagent style analyze --refresh
  tgagent history --limit 30`,
		Version: version,
	}

	rootCmd.AddCommand(
		newAuthCmd(),
		newChatCmd(),
		newStyleCmd(),
		newHistoryCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
