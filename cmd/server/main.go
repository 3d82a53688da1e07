package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/vinodismyname/leadfunnel/config"
	"github.com/vinodismyname/leadfunnel/internal/insights"
	"github.com/vinodismyname/leadfunnel/internal/leads"
	"github.com/vinodismyname/leadfunnel/internal/registry"
	"github.com/vinodismyname/leadfunnel/internal/runtime"
	"github.com/vinodismyname/leadfunnel/internal/security"
	"github.com/vinodismyname/leadfunnel/internal/telemetry"
	"github.com/vinodismyname/leadfunnel/internal/workbooks"
	"github.com/vinodismyname/leadfunnel/pkg/version"
)

func main() {
	stdio := flag.Bool("stdio", false, "serve MCP over stdin/stdout")
	shutdownTimeout := flag.Duration("shutdown-timeout", 5*time.Second, "time allowed to close cached workbooks on exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// stdout carries the MCP stream; logs go to stderr.
	logger := zlog.Output(os.Stderr).With().Str("service", "leadfunnel-server").Logger()

	if !*stdio {
		fmt.Fprintln(os.Stderr, "no transport selected; use --stdio to run over stdio")
		os.Exit(2)
	}
	os.Exit(run(logger, *shutdownTimeout))
}

func run(logger zerolog.Logger, shutdownTimeout time.Duration) int {
	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("config: failed to load")
		fmt.Fprintln(os.Stderr, "invalid configuration; check LEADFUNNEL_* environment variables")
		return 1
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	} else {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level; keeping default")
	}

	allow, err := security.NewManager(cfg.AllowedDirs, nil)
	if err == nil {
		err = allow.ValidateConfig()
	}
	if err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list")
		fmt.Fprintln(os.Stderr, "set LEADFUNNEL_ALLOWED_DIRS to the directories holding lead exports")
		return 1
	}

	limits := runtime.LimitsFromConfig(cfg)
	ctrl := runtime.NewController(limits)

	cache := workbooks.NewManager(cfg.WorkbookIdleTTL, cfg.WorkbookCleanupPeriod, ctrl, nil,
		workbooks.WithValidator(allow),
		workbooks.WithLogger(logger),
	)
	cache.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := cache.Close(ctx); err != nil {
			logger.Error().Err(err).Msg("closing workbook cache")
		}
	}()

	funneler := insights.NewFunneler(limits, cache)
	funneler.Catalog = leads.DefaultCatalog().WithMaxStage(cfg.MaxStage)

	tools := registry.New().WithSummaryBudget(cfg.SummaryModel, cfg.SummaryTokenBudget)
	hooks := telemetry.NewHooks(logger)
	srv := server.NewMCPServer(
		"Lead Funnel Analysis Server",
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks.Server()),
		server.WithToolHandlerMiddleware(hooks.ToolMiddleware),
		server.WithToolHandlerMiddleware(runtime.NewMiddleware(ctrl, logger).ToolMiddleware),
		server.WithToolFilter(registry.NewWriteToolFilter(tools, cfg.EnableWrites).FilterTools),
	)
	registry.RegisterTools(srv, tools, registry.Deps{
		Limits:      limits,
		Mgr:         cache,
		Funneler:    funneler,
		AllowWrites: cfg.EnableWrites,
	})

	logger.Info().
		Str("version", version.Version()).
		Str("revision", version.Revision()).
		Strs("allowed_dirs", allow.AllowedDirectories()).
		Strs("tools", tools.Names()).
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("max_open_workbooks", limits.MaxOpenWorkbooks).
		Int("max_rows_per_op", limits.MaxRowsPerOp).
		Int("max_stage", cfg.MaxStage).
		Bool("writes_enabled", cfg.EnableWrites).
		Str("summary_model", cfg.SummaryModel).
		Int("model_context_size", tools.ContextWindow()).
		Msg("server configured")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hooks.OnServerStart()
	defer hooks.OnServerStop()

	served := make(chan error, 1)
	go func() { served <- server.ServeStdio(srv) }()

	select {
	case err := <-served:
		if err != nil {
			// stderr, so the client never reads it as protocol output
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	}
	return 0
}
