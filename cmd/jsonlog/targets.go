package main

import (
	"database/sql"
	"fmt"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maxiofs/jsonlog/internal/config"
	"github.com/maxiofs/jsonlog/internal/logging"
)

func newTargetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage additional JSON log targets stored in --targets-db",
	}

	add := &cobra.Command{
		Use:   "add NAME PATH",
		Short: "Add a log target",
		Args:  cobra.ExactArgs(2),
		RunE:  runTargetsAdd,
	}
	add.Flags().String("target-label", "", "Category written on entries (defaults to NAME)")
	add.Flags().Int("target-max-entries", logging.DefaultMaxEntries, "Number of entries the target retains")
	add.Flags().String("target-flush-policy", string(logging.FlushAlways), "When to sync the target (always, manual)")
	add.Flags().String("target-level", "info", "Lowest level recorded by the target")
	add.Flags().Bool("disabled", false, "Store the target without enabling it")

	list := &cobra.Command{
		Use:   "list",
		Short: "List log targets",
		Args:  cobra.NoArgs,
		RunE:  runTargetsList,
	}

	remove := &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a log target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTargetStore(cmd, func(store *logging.TargetStore) error {
				return store.Delete(args[0])
			})
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

// withTargetStore opens the configured target database for the duration of fn
func withTargetStore(cmd *cobra.Command, fn func(store *logging.TargetStore) error) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.TargetsDB == "" {
		return fmt.Errorf("no targets database configured: specify --targets-db")
	}

	db, err := logging.OpenTargetDB(cfg.TargetsDB)
	if err != nil {
		return err
	}
	defer func(db *sql.DB) { _ = db.Close() }(db)

	store, err := logging.NewTargetStore(db, logrus.StandardLogger())
	if err != nil {
		return err
	}
	return fn(store)
}

func runTargetsAdd(cmd *cobra.Command, args []string) error {
	label, _ := cmd.Flags().GetString("target-label")
	if label == "" {
		label = args[0]
	}
	maxEntries, _ := cmd.Flags().GetInt("target-max-entries")
	policy, _ := cmd.Flags().GetString("target-flush-policy")
	level, _ := cmd.Flags().GetString("target-level")
	disabled, _ := cmd.Flags().GetBool("disabled")

	target := &logging.TargetConfig{
		Name:        args[0],
		Label:       label,
		Path:        args[1],
		MaxEntries:  maxEntries,
		FlushPolicy: logging.FlushPolicy(policy),
		FilterLevel: level,
		Enabled:     !disabled,
	}

	return withTargetStore(cmd, func(store *logging.TargetStore) error {
		if err := store.Create(target); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), target.ID)
		return nil
	})
}

func runTargetsList(cmd *cobra.Command, args []string) error {
	return withTargetStore(cmd, func(store *logging.TargetStore) error {
		targets, err := store.List()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tLEVEL\tMAX\tFLUSH\tENABLED\tPATH")
		for _, t := range targets {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%t\t%s\n",
				t.ID, t.Name, t.FilterLevel, t.MaxEntries, t.FlushPolicy, t.Enabled, t.Path)
		}
		return tw.Flush()
	})
}
