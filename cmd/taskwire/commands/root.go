// Package commands implements the taskwire CLI using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "taskwire",
	Short: "Turn-based task orchestration for unattended devices",
	Long: `Taskwire lets a single operator drive remote automation devices
through a turn-based chat dialogue. Devices poll over HTTP for queued
tasks and report completions back asynchronously.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (JSON or YAML)")
}
