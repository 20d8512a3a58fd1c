// Package main is the ashleyd daemon entrypoint: a cobra root command that
// loads config, builds the Runtime, starts the HTTP router and channel
// poller, and shuts down cleanly on signal. Logging setup mirrors the
// teacher's cmd/cortex/main.go (configureLogger: JSON by default, text
// under --dev), restructured as cobra persistent flags instead of the
// teacher's bare flag package, per SPEC_FULL.md §4's cobra adoption.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nrlabs/ashleyd/internal/config"
)

var (
	configPath string
	devLogs    bool
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ashleyd",
		Short: "ashleyd runs the chat-routed personal assistant control plane",
		RunE:  runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "ashleyd.toml", "path to config file")
	root.PersistentFlags().BoolVar(&devLogs, "dev", false, "use text log format (default is JSON)")
	root.AddCommand(newMigrateBookmarksCmd())
	return root
}

func runServe(cmd *cobra.Command, args []string) error {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(bootLogger)
	bootLogger.Info("ashleyd starting", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := configureLogger(cfg.General.LogLevel, devLogs)
	slog.SetDefault(logger)

	rt, err := NewRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("constructing runtime: %w", err)
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.Start(ctx)
	}()

	logger.Info("ashleyd running", "port", cfg.General.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		shutdownStart := time.Now()
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		if err := <-errCh; err != nil {
			logger.Error("router stopped with error", "error", err)
		}
		logger.Info("ashleyd stopped", "shutdown_duration", time.Since(shutdownStart).String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("router exited: %w", err)
		}
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
