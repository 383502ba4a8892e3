package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drey",
	Short: "Drey - Event-sourced delivery coordination",
	Long: `Drey coordinates autonomous software-delivery workers around a durable
event log. Workers emit delivery events (reviews, deployments); Drey folds
them into merge readiness, serializes merges to the canonical branch behind
a fenced lease, and keeps humans informed through deduplicated notifications.

All state lives in Redis and every decision is replayable from the log.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}
