// Package cmd holds the pai-slack-bridge CLI, following the teacher's
// thin-root-command-plus-init()-registration layout (internal/cli/root.go).
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pai-slack-bridge",
	Short: "Bridge Slack conversations to a locally-invoked agent CLI",
	Long: "pai-slack-bridge listens for Slack messages and app mentions, " +
		"queues them as durable on-disk jobs, and hands each one to a " +
		"locally-invoked agent CLI, posting the result back to the " +
		"originating thread.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queueCmd)
}
