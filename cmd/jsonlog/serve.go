package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maxiofs/jsonlog/internal/config"
	"github.com/maxiofs/jsonlog/internal/logging"
	"github.com/maxiofs/jsonlog/internal/metrics"
	"github.com/maxiofs/jsonlog/internal/server"
)

const defaultOutput = "default"

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Record process logs and serve the inspection API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringP("listen", "l", ":9400", "Listen address")
	cmd.Flags().Int("trim-interval", 0, "Seconds between retention passes (0 disables)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogging(cfg.LogLevel)

	manager, err := logging.BootstrapStandard()
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	metricsManager := metrics.NewManager(cfg.Metrics)
	manager.SetRecorder(metricsManager)

	if err := openDefaultOutput(manager, cfg); err != nil {
		return err
	}

	if cfg.TargetsDB != "" {
		db, err := logging.OpenTargetDB(cfg.TargetsDB)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := manager.InitTargetStore(db); err != nil {
			return fmt.Errorf("failed to initialize target store: %w", err)
		}
	}

	metricsManager.UpdateActiveOutputs(manager.GetActiveOutputs())

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("Starting jsonlog")

	srv, err := server.New(cfg, manager, metricsManager)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logrus.Info("Received shutdown signal")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logrus.Info("jsonlog stopped")
	return nil
}

// openDefaultOutput opens the configured log file as the output every process
// log line is recorded in
func openDefaultOutput(manager *logging.Manager, cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	policy, err := logging.ParseFlushPolicy(cfg.FlushPolicy)
	if err != nil {
		return err
	}

	_, err = manager.AddOutput(defaultOutput, cfg.Label, cfg.LogFile, level,
		logging.WithMaxEntries(cfg.MaxEntries),
		logging.WithFlushPolicy(policy),
	)
	return err
}
