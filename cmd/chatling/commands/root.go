package commands

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatling",
	Short: "Conversational voice assistant backend",
	Long: `chatling serves chat turns over HTTP, streams per-sentence synthesized
audio, and keeps long-term per-session memory extracted from past
conversations.

Usage:
  chatling serve --config chatling.yaml`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
