// Package main provides the CLI entry point for the Agent Execution
// Core daemon.
//
// nexusd exposes the Public API facade (REST + /run_live WebSocket) over
// the Run Controller, and runs the cron-triggered task scheduler
// alongside it.
//
// # Basic Usage
//
//	nexusd serve --config nexus.yaml
//	nexusd migrate up
//	nexusd reap --config nexus.yaml
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "nexusd",
		Short:        "Agent Execution Core daemon",
		Version:      version + " (commit: " + commit + ", built: " + date + ")",
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildMigrateCmd(), buildReapCmd())
	return root
}
