// Package main provides the CLI entry point for the RANTS gateway.
//
// RANTS serves an OpenAI-compatible API over a pair of cooperating models:
// a generator that emits user-facing text plus plain-English tool intents,
// and a tool compiler that deterministically turns intents into validated
// tool calls executed in a sandboxed workspace.
//
// # Basic Usage
//
// Start the server:
//
//	rants serve --config rants.yaml
//
// # Environment Variables
//
// Any configuration key can be overridden with RANTS_<SECTION>__<KEY>
// variables, e.g. RANTS_SERVER__PORT=9000.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/rants/internal/observability"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := observability.NewLogger(observability.LogConfig{Output: os.Stderr})
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rants",
		Short: "RANTS - recursive two-model inference gateway",
		Long: `RANTS serves OpenAI-compatible /v1/responses and /v1/chat/completions
endpoints over a recursive language model loop: a generator model produces
text and tool intents, a compiler model turns intents into validated tool
calls, and the gateway executes them in a sandboxed workspace.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rants %s (commit: %s)\n", version, commit)
		},
	}
}
