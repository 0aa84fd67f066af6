package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/shiko-ai/shiko/internal/config"
	"github.com/shiko-ai/shiko/internal/kaizen"
	"github.com/shiko-ai/shiko/internal/llm"
	"github.com/shiko-ai/shiko/internal/mcp"
	"github.com/shiko-ai/shiko/internal/metrics"
	"github.com/shiko-ai/shiko/internal/overrides"
	"github.com/shiko-ai/shiko/internal/ratelimit"
	"github.com/shiko-ai/shiko/internal/reasoning"
	"github.com/shiko-ai/shiko/internal/server"
	"github.com/shiko-ai/shiko/internal/storage"
	"github.com/shiko-ai/shiko/internal/telemetry"
	"github.com/shiko-ai/shiko/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("SHIKO_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("shiko starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and apply embedded migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Runtime configuration overlay. Loading first means overrides written by
	// the loop before a restart keep applying after it.
	resolver := overrides.NewResolver(db, logger)
	if err := resolver.Load(ctx); err != nil {
		return fmt.Errorf("overrides: %w", err)
	}

	// Language-model gateway, shared by the reasoning engine and the loop.
	completer := llm.NewCompleter(cfg, logger)
	gateway := llm.NewGateway(completer)

	// Invocation recording pipeline.
	recorder := metrics.NewRecorder(db, logger, cfg.InvocationBufSize, cfg.InvocationFlushInt)
	recorder.Start(ctx)

	// Request rate limiter. The rate reads through the resolver so the loop's
	// adjust_rate_limit action takes effect without a restart.
	limiter := ratelimit.NewMemoryLimiter(func() float64 {
		return resolver.Float("server.rate_limit_rps", cfg.RateLimitRPS)
	}, cfg.RateLimitBurst)
	defer func() { _ = limiter.Close() }()

	// Reasoning engine behind the MCP tools.
	engine := reasoning.NewEngine(completer, resolver, logger, reasoning.Defaults{
		BudgetTokens: 2048,
		RetryCount:   1,
		Timeout:      cfg.LLMTimeout,
	})

	// The self-improvement loop.
	kaizenSvc := kaizen.NewService(cfg.Kaizen, db, resolver, gateway, logger)

	// MCP server, mounted at /mcp by the HTTP server.
	mcpSrv := mcp.New(engine, recorder, kaizenSvc, db, logger)

	srv := server.New(server.ServerConfig{
		Store:        db,
		Kaizen:       kaizenSvc,
		Logger:       logger,
		Limiter:      limiter,
		MCPServer:    mcpSrv.MCPServer(),
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
	})

	g, gctx := errgroup.WithContext(ctx)

	if kaizenSvc.Enabled() {
		g.Go(func() error {
			return kaizenSvc.Orchestrator.Run(gctx)
		})
	} else {
		logger.Info("kaizen loop disabled")
	}

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Stop accepting new requests and drain in-flight ones; they may
		// still append to the invocation buffer, so the buffer drains after.
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpCancel()
		return srv.Shutdown(httpCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("shiko shutting down")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	recorder.Drain(drainCtx)
	drainCancel()

	slog.Info("shiko stopped")
	return nil
}
