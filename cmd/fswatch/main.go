// Command fswatch is a thin demonstrator for the fswatch library: it
// watches one directory tree and prints the correlated event stream as
// JSON, one object per line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/fswatch"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}

var (
	flagPath      string
	flagRecursive bool
	flagTimeoutMs int
	flagVerbose   bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "fswatch",
		Short:        "Watch a directory tree and print correlated filesystem events",
		SilenceUsage: true,
		RunE:         runWatch,
	}

	cmd.Flags().StringVar(&flagPath, "path", "", "root path to watch (required)")
	cmd.Flags().BoolVar(&flagRecursive, "recursive", true, "watch subdirectories")
	cmd.Flags().IntVar(&flagTimeoutMs, "timeout", 500, "move-detector correlation timeout in milliseconds")
	cmd.Flags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if flagPath == "" {
		return fmt.Errorf("%w: --path is required", errConfig)
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := fswatch.DefaultConfig()
	cfg.Path = flagPath
	cfg.Recursive = flagRecursive
	cfg.MoveDetector.Timeout = time.Duration(flagTimeoutMs) * time.Millisecond
	cfg.Store.DatabasePath = defaultDatabasePath(flagPath)

	handle, stream, err := fswatch.New(cfg, logger)
	if err != nil {
		if errors.Is(err, fswatch.ErrConfiguration) {
			return fmt.Errorf("%w: %v", errConfig, err)
		}
		return fmt.Errorf("%w: %v", errIO, err)
	}

	ctx := shutdownContext(cmd.Context(), logger)

	enc := json.NewEncoder(os.Stdout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range stream {
			if encErr := enc.Encode(ev); encErr != nil {
				logger.Warn("failed to encode event", slog.Any("error", encErr))
			}
		}
	}()

	<-ctx.Done()
	if flagVerbose {
		if stats, statsErr := handle.Stats(context.Background()); statsErr == nil {
			logger.Debug("final stats", slog.String("summary", stats.String()))
		}
	}
	handle.Stop()
	<-done

	return nil
}

func defaultDatabasePath(root string) string {
	return root + "/.fswatch.db"
}

// shutdownContext cancels on the first SIGINT/SIGTERM and force-exits on
// the second, giving the watcher time to drain pending Removes.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case <-sigCh:
			logger.Warn("received second signal, forcing exit")
			os.Exit(exitInterrupted)
		case <-parent.Done():
		}
	}()

	return ctx
}

var (
	errConfig = errors.New("configuration error")
	errIO     = errors.New("i/o error")
)

const (
	exitOK          = 0
	exitConfigError = 2
	exitIOError     = 3
	exitInterrupted = 130
)

func exitOnError(err error) {
	fmt.Fprintln(os.Stderr, "fswatch:", err)

	switch {
	case errors.Is(err, errConfig):
		os.Exit(exitConfigError)
	case errors.Is(err, errIO):
		os.Exit(exitIOError)
	default:
		os.Exit(exitIOError)
	}
}
