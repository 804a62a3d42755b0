package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/rants/internal/audit"
	"github.com/haasonsaas/rants/internal/backend"
	"github.com/haasonsaas/rants/internal/compiler"
	"github.com/haasonsaas/rants/internal/config"
	"github.com/haasonsaas/rants/internal/gateway"
	"github.com/haasonsaas/rants/internal/observability"
	"github.com/haasonsaas/rants/internal/orchestrator"
	"github.com/haasonsaas/rants/internal/ratelimit"
	"github.com/haasonsaas/rants/internal/store"
	"github.com/haasonsaas/rants/internal/tools"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the RANTS gateway server",
		Long: `Start the gateway: load configuration, open the SQLite state store,
wire the generator and tool-compiler backends, and serve the API until
SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  rants serve

  # Start with custom config
  rants serve --config /etc/rants/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "rants.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging")
	return cmd
}

// runServe is the composition root: everything the gateway needs gets
// constructed here and nowhere else.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := "info"
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Output: os.Stderr})
	metrics := observability.NewMetrics()

	st, err := store.Open(cfg.State.SQLitePath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	registry := tools.NewDefaultRegistry(tools.Config{
		WorkspaceRoot:    cfg.Limits.WorkspaceRoot,
		OutputMaxBytes:   cfg.Limits.ToolOutputMaxBytes,
		WebfetchMaxBytes: cfg.Limits.WebfetchMaxBytes,
	})

	generator := backend.NewOpenAI(cfg.Models.Generator, cfg.Resilience, logger)
	toolCompiler := backend.NewOpenAI(cfg.Models.ToolCompiler, cfg.Resilience, logger)

	orch := orchestrator.New(cfg, st, registry,
		generator,
		compiler.New(toolCompiler, registry, logger).WithMetrics(metrics),
		audit.NewRecorder(st, logger),
		metrics, logger)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Enabled:           cfg.RateLimits.Enabled,
		RequestsPerMinute: cfg.RateLimits.RequestsPerMinute,
		Burst:             cfg.RateLimits.Burst,
	})

	server := gateway.New(cfg, orch, limiter, metrics, logger, version)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		server.Shutdown(context.Background())
		return nil
	}
}
