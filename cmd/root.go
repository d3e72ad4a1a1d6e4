// Package cmd defines the parlor command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "parlor",
	Short: "Parlor - multi-agent chat backend",
	Long: `Parlor is a chat backend that forwards user turns to LLM agents,
runs the tools they request, and persists the resulting conversation.

Run "parlor serve" to start the HTTP API server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
}
