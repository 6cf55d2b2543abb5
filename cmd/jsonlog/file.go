package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maxiofs/jsonlog/internal/config"
	"github.com/maxiofs/jsonlog/internal/logging"
)

// openConfiguredFile opens the log file named by the configuration
func openConfiguredFile(cmd *cobra.Command) (*logging.JSONFileOutput, *config.Config, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	policy, err := logging.ParseFlushPolicy(cfg.FlushPolicy)
	if err != nil {
		return nil, nil, err
	}

	output, err := logging.OpenJSONFile(cfg.LogFile,
		logging.WithMaxEntries(cfg.MaxEntries),
		logging.WithFlushPolicy(policy),
	)
	if err != nil {
		return nil, nil, err
	}
	return output, cfg, nil
}

func newWriteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write MESSAGE",
		Short: "Append one entry to the log file",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWrite,
	}
	cmd.Flags().String("level", "info", "Entry level")
	cmd.Flags().String("category", "", "Entry category (defaults to the configured label)")
	cmd.Flags().StringArray("field", nil, "Structured field as key=value, repeatable")
	return cmd
}

func runWrite(cmd *cobra.Command, args []string) error {
	levelName, _ := cmd.Flags().GetString("level")
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return err
	}
	rawFields, _ := cmd.Flags().GetStringArray("field")
	fields, err := parseFields(rawFields)
	if err != nil {
		return err
	}

	output, cfg, err := openConfiguredFile(cmd)
	if err != nil {
		return err
	}

	category, _ := cmd.Flags().GetString("category")
	if category == "" {
		category = cfg.Label
	}

	hook := logging.NewJSONLogHook(category, output, logging.WithLevel(logrus.TraceLevel))
	entry := &logrus.Entry{
		Time:    time.Now(),
		Level:   level,
		Message: strings.Join(args, " "),
		Data:    fields,
	}
	if err := hook.Fire(entry); err != nil {
		output.Close()
		return err
	}
	return output.Close()
}

// parseFields turns key=value arguments into logrus fields
func parseFields(raw []string) (logrus.Fields, error) {
	fields := make(logrus.Fields, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", kv)
		}
		fields[key] = value
	}
	return fields, nil
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the entries of the log file",
		Args:  cobra.NoArgs,
		RunE:  runShow,
	}
	cmd.Flags().String("level", "", "Only show entries with this level")
	cmd.Flags().String("category", "", "Only show entries with this category")
	cmd.Flags().IntP("limit", "n", 0, "Only show the newest N entries (0 shows all)")
	cmd.Flags().Bool("json", false, "Print entries as a JSON array")
	return cmd
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Read-only: opening the file would repair and truncate it
	entries, err := logging.ReadEntries(cfg.LogFile)
	if err != nil {
		return err
	}

	level, _ := cmd.Flags().GetString("level")
	category, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	selected, err := logging.FilterEntries(entries, level, category, limit)
	if err != nil {
		return err
	}
	return printEntries(cmd.OutOrStdout(), selected, asJSON)
}

func printEntries(w io.Writer, entries []logging.LogEntry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, e.ComposedMessage()); err != nil {
			return err
		}
	}
	return nil
}

func newClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from the log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _, err := openConfiguredFile(cmd)
			if err != nil {
				return err
			}
			output.Clear()
			return output.Close()
		},
	}
}

func newTruncateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "truncate",
		Short: "Drop the oldest entries beyond --max-entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _, err := openConfiguredFile(cmd)
			if err != nil {
				return err
			}
			output.Truncate()
			return output.Close()
		},
	}
}
