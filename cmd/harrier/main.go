// Harrier - Fraud classification with an auditable verdict trail.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfgFile string
	loader  = config.NewLoader()
	cfg     *domain.Config
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "harrier",
		Short:         "Fraud classification service for PaySim-style transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./harrier.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	flags.String("tier", "community", "deployment tier (community, pro)")

	_ = loader.BindFlag("logging.level", flags.Lookup("log-level"))
	_ = loader.BindFlag("logging.format", flags.Lookup("log-format"))
	_ = loader.BindFlag("tier", flags.Lookup("tier"))

	root.AddCommand(serveCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(replayCmd())
	root.AddCommand(oracleCmd())
	root.AddCommand(versionCmd())

	return root
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	err := rootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() error {
	loaded, err := loader.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logger, err := config.NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)

	slog.Debug("configuration loaded",
		"file", loader.ConfigFileUsed(),
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"classifier", cfg.Classifier.Type,
	)
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "harrier %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}
