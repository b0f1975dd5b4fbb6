package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/c360/mediacompose/config"
)

func newRootCommand() *cobra.Command {
	flags := defaultFlags()

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Media composition node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return flags.validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", flags.ConfigPath,
		"Configuration file, .json, .yaml or .toml (env: MEDIACOMPOSE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", flags.LogLevel,
		"Log level: debug, info, warn, error (env: MEDIACOMPOSE_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flags.LogFormat, "log-format", flags.LogFormat,
		"Log format: json, text (env: MEDIACOMPOSE_LOG_FORMAT)")

	rootCmd.AddCommand(newRunCommand(flags))
	rootCmd.AddCommand(newValidateCommand(flags))
	rootCmd.AddCommand(newOptionsCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newRunCommand(flags *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the composition node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := setupLogger(cmd.ErrOrStderr(), flags.LogLevel, flags.LogFormat, uuid.NewString())
			slog.SetDefault(logger)
			logger.Info("Starting mediacompose",
				"build_time", BuildTime,
				"config_path", flags.ConfigPath,
				"node", cfg.Instance)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cfg, logger, flags.ShutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", flags.ShutdownTimeout,
		"Graceful shutdown timeout (env: MEDIACOMPOSE_SHUTDOWN_TIMEOUT)")
	return cmd
}

func newValidateCommand(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Configuration valid: %s\n", flags.ConfigPath)
			_, _ = fmt.Fprintf(out, "  instance: %s\n", cfg.Instance)
			_, _ = fmt.Fprintf(out, "  inputs:   %d\n", len(cfg.Inputs))
			_, _ = fmt.Fprintf(out, "  outputs:  %d\n", len(cfg.Outputs))
			_, _ = fmt.Fprintf(out, "  nats:     %t\n", cfg.NeedsNATS())
			return nil
		},
	}
}

func newOptionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List compositor options and their defaults",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), renderOptionReference(config.Reference()))
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build %s)\n", appName, Version, BuildTime)
			return err
		},
	}
}

func runNode(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	n, err := newNode(cfg, logger)
	if err != nil {
		return err
	}
	if err := n.start(ctx); err != nil {
		_ = n.stop(shutdownTimeout)
		return err
	}
	logger.Info("mediacompose started")

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case <-n.done():
		logger.Info("Presentation finished")
	}

	if err := n.stop(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("mediacompose shutdown complete")
	return nil
}
