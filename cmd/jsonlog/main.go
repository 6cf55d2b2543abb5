package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jsonlog",
		Short: "jsonlog - structured logs kept as a JSON array file",
		Long: `jsonlog keeps structured log entries in a single file that is always a
valid JSON array, bounded to a maximum number of entries.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add configuration flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("log-file", "f", "./jsonlog.json", "JSON log file path")
	rootCmd.PersistentFlags().String("label", "jsonlog", "Category written on entries")
	rootCmd.PersistentFlags().Int("max-entries", 2000, "Number of entries the log file retains")
	rootCmd.PersistentFlags().String("flush-policy", "always", "When to sync the log file (always, manual)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warning, error)")
	rootCmd.PersistentFlags().String("targets-db", "", "SQLite database with additional log targets")

	rootCmd.AddCommand(
		newServeCommand(),
		newWriteCommand(),
		newShowCommand(),
		newClearCommand(),
		newTruncateCommand(),
		newTargetsCommand(),
	)

	return rootCmd
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logrus.SetOutput(os.Stderr)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}
