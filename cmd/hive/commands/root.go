// Package commands implements the hive CLI's subcommands, the
// composition root where every package built under pkg/hive is wired
// into a running daemon or a one-shot setup flow.
//
// Grounded on cmd/devclaw/main.go's thin main-delegates-to-NewRootCmd
// shape and cmd/copilot/commands's per-file newXCmd() constructors
// (serve.go/config.go/setup.go), neither of which had a NewRootCmd of
// its own in the retrieved pack — this file is authored fresh from that
// pattern rather than adapted line-for-line.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the hive root command with every subcommand attached.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "hive",
		Short:   "Hive — a personal chat assistant daemon",
		Version: version,
		Long: `Hive is a personal assistant that listens on Telegram and WhatsApp,
routes each message to a skill and a model tier, executes it with tool
access (scripts, reminders, RSS, email, web fetch), and replies back on
the same channel.`,
	}

	cmd.PersistentFlags().String("config", "", "path to config.yaml (default: auto-discover)")
	cmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newConfigCmd(),
	)

	return cmd
}
