package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	fshttp "github.com/finsight-ai/finsight/internal/adapter/http"
	"github.com/finsight-ai/finsight/internal/adapter/llmproxy"
	"github.com/finsight-ai/finsight/internal/adapter/marketdata"
	fsmcp "github.com/finsight-ai/finsight/internal/adapter/mcp"
	fsnats "github.com/finsight-ai/finsight/internal/adapter/nats"
	fsotel "github.com/finsight-ai/finsight/internal/adapter/otel"
	"github.com/finsight-ai/finsight/internal/adapter/postgres"
	"github.com/finsight-ai/finsight/internal/adapter/ristretto"
	"github.com/finsight-ai/finsight/internal/adapter/ws"
	"github.com/finsight-ai/finsight/internal/analyst"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/logger"
	"github.com/finsight-ai/finsight/internal/port/messagequeue"
	"github.com/finsight-ai/finsight/internal/port/specialist"
	"github.com/finsight-ai/finsight/internal/resilience"
	"github.com/finsight-ai/finsight/internal/service"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"small_model", cfg.LLMProxy.SmallModel,
		"large_model", cfg.LLMProxy.LargeModel,
	)

	ctx := context.Background()

	// --- Telemetry ---
	if cfg.Telemetry.Enabled {
		shutdown, err := fsotel.Init(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
		slog.Info("telemetry exporter started", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}

	// --- Infrastructure ---

	// PostgreSQL trace store
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS trace mirror (optional)
	var queue messagequeue.Queue
	if cfg.NATS.Enabled {
		nq, err := fsnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = nq.Close() }()
		queue = nq
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	// Quote cache and outbound breakers
	quoteCache, err := ristretto.New(cfg.Cache.MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer quoteCache.Close()

	mdBreaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	llmBreaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	md := marketdata.NewClient(cfg.MarketData, quoteCache, mdBreaker)

	gen := llmproxy.NewClient(
		cfg.LLMProxy.URL,
		cfg.LLMProxy.APIKey,
		cfg.LLMProxy.LogprobsTopK,
		cfg.LLMProxy.RequestTimeout,
		cfg.LLMProxy.MaxInFlight,
	)
	gen.SetBreaker(llmBreaker)

	// --- Specialist panel ---
	registry := specialist.NewRegistry()
	for _, s := range []specialist.Specialist{
		analyst.NewQuant(md),
		analyst.NewWhale(md),
		analyst.NewSentiment(gen, &cfg.LLMProxy),
		analyst.NewForecast(gen, &cfg.LLMProxy),
		analyst.NewResearch(gen, &cfg.LLMProxy),
	} {
		if err := registry.Register(s); err != nil {
			return fmt.Errorf("register specialist: %w", err)
		}
	}

	// --- Services ---
	sessions := service.NewSessionManager(cfg.Stream)
	gcCtx, gcCancel := context.WithCancel(ctx)
	defer gcCancel()
	go sessions.Run(gcCtx)

	recorder := service.NewTraceRecorder(postgres.NewTraceStore(pool), queue, cfg.Stream.BufferSize)
	defer recorder.Close()

	gate := service.NewActionGate(cfg.Gate.SecretHash)
	if cfg.Gate.SecretHash == "" {
		slog.Warn("action gate disabled: no secret hash configured")
	}

	orch := service.NewOrchestrator(
		&cfg.Orchestrator,
		service.NewIntentClassifier(gen, &cfg.LLMProxy),
		registry,
		service.NewStitchRouter(gen, &cfg.LLMProxy),
		service.NewCritic(gen, &cfg.LLMProxy),
		service.NewConfidenceEstimator(&cfg.Orchestrator),
		sessions,
		sessions,
		recorder,
		gate,
	)
	go orch.Run(gcCtx)

	if cfg.Telemetry.Enabled {
		metrics, err := fsotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		orch.SetMetrics(metrics)
	}

	// --- HTTP ---
	handlers := fshttp.NewHandlers(orch, recorder, gate, sessions)
	streamHandler := ws.NewHandler(sessions)

	r := chi.NewRouter()
	r.Use(fshttp.CORS(cfg.Server.CORSOrigin))
	r.Use(fshttp.SecurityHeaders)
	r.Use(fshttp.CorrelationID)
	r.Use(fshttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Telemetry.Enabled {
		r.Use(fsotel.HTTPMiddleware(cfg.Logging.Service))
	}

	fshttp.MountRoutes(r, handlers, streamHandler)

	// --- MCP ---
	if cfg.MCP.Enabled {
		mcpSrv := fsmcp.NewServer(
			fsmcp.ServerConfig{Addr: ":" + cfg.MCP.Port, Name: "finsight", Version: version},
			fsmcp.ServerDeps{Advisor: orch, Traces: recorder},
		)
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(stopCtx)
		}()
	}

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
