package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/quantlab/quantagent/internal/agent"
	"github.com/quantlab/quantagent/internal/cache"
	cachepg "github.com/quantlab/quantagent/internal/cache/postgres"
	cachesqlite "github.com/quantlab/quantagent/internal/cache/sqlite"
	"github.com/quantlab/quantagent/internal/config"
	"github.com/quantlab/quantagent/internal/fetcher"
	"github.com/quantlab/quantagent/internal/fetcher/brave"
	"github.com/quantlab/quantagent/internal/fetcher/yahoo"
	"github.com/quantlab/quantagent/internal/llm"
	"github.com/quantlab/quantagent/internal/llm/openai"
	"github.com/quantlab/quantagent/internal/observability"
	"github.com/quantlab/quantagent/internal/secrets"
	"github.com/quantlab/quantagent/internal/tools"
	"github.com/quantlab/quantagent/internal/tools/marketnews"
	mcptools "github.com/quantlab/quantagent/internal/tools/mcp"
	"github.com/quantlab/quantagent/internal/tools/quote"
	"github.com/quantlab/quantagent/internal/tools/websearch"
)

// SharedComponents holds all initialized subsystems that server and one-shot
// modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger

	Store         cache.Store
	Metrics       *observability.MetricsCollector
	HealthChecker *observability.HealthChecker
	Tracer        *observability.TracerSetup // nil = tracing disabled.
	Provider      llm.Provider
	ToolReg       *tools.Registry
	MCPBridge     *mcptools.Bridge // nil = no MCP servers configured.
	AgentCore     agent.Agent

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// initShared performs all common initialization shared between server and
// one-shot modes. Callers must call sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", cfg.DataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", cfg.DataDir))

	// Observability.
	sc.Metrics = observability.NewMetricsCollector()
	sc.HealthChecker = observability.NewHealthChecker(logger)

	tracer, err := observability.NewTracerSetup(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	if tracer != nil {
		sc.Tracer = tracer
		sc.addCleanup(func() {
			if err := tracer.Shutdown(context.Background()); err != nil {
				logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
			}
		})
	}

	// Cache store.
	store, err := openCacheStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Warn("cache store close failed", slog.String("error", err.Error()))
		}
	})
	sc.HealthChecker.AddCheck("cache", func(ctx context.Context) error {
		_, err := store.Size(ctx)
		return err
	})
	logger.Debug("cache store initialized", slog.String("driver", cfg.Cache.CacheDriver()))

	// Data fetchers, each wrapped with the cache.
	ttl := cfg.Cache.TTL()
	sp := secrets.NewEnvProvider()

	// Missing credential still fails soft per call, but flag it once up front.
	if _, err := sp.Resolve(ctx, cfg.Tools.BraveCredentialRef()); err != nil {
		logger.Warn("web search credential not resolved; web_search will return empty results",
			slog.String("credential", cfg.Tools.BraveCredentialRef()),
		)
	}

	search := fetcher.NewCached(
		brave.NewClient(cfg.Tools.BraveCredentialRef(), sp, logger),
		store, ttl, logger,
	).WithMetrics(sc.Metrics)
	news := fetcher.NewCached(yahoo.NewNewsClient(logger), store, ttl, logger).WithMetrics(sc.Metrics)
	quotes := fetcher.NewCached(yahoo.NewQuoteClient(logger), store, ttl, logger).WithMetrics(sc.Metrics)

	// Tool registry.
	sc.ToolReg = tools.NewRegistry()
	registerTool(sc.ToolReg, websearch.NewTool(search), cfg.Tools.CallLimits)
	registerTool(sc.ToolReg, marketnews.NewTool(news), cfg.Tools.CallLimits)
	registerTool(sc.ToolReg, quote.NewTool(quotes), cfg.Tools.CallLimits)

	// External MCP tools.
	if len(cfg.MCP) > 0 {
		sc.MCPBridge = mcptools.NewBridge(logger)
		sc.addCleanup(sc.MCPBridge.Close)

		for _, serverCfg := range cfg.MCP {
			discovered, err := sc.MCPBridge.ConnectAndDiscover(ctx, serverCfg)
			if err != nil {
				logger.Warn("mcp server connection failed",
					slog.String("server", serverCfg.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			for _, t := range discovered {
				if serverCfg.CallLimit > 0 {
					sc.ToolReg.RegisterWithLimit(t, serverCfg.CallLimit)
				} else {
					sc.ToolReg.Register(t)
				}
			}
			logger.Info("mcp server connected",
				slog.String("server", serverCfg.Name),
				slog.Int("tools", len(discovered)),
			)
		}
	}

	// LLM provider.
	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	sc.Provider = provider

	// Agent core.
	orch := agent.NewOrchestrator(provider, cfg.Agent.SystemPrompt, logger).
		WithTools(sc.ToolReg).
		WithMetrics(sc.Metrics).
		WithMemory(agent.NewConversationMemory(cfg.Agent.MaxHistory))
	if sc.Tracer != nil {
		orch = orch.WithTracer(sc.Tracer)
	}
	if cfg.Agent.MaxIterations > 0 {
		orch = orch.WithMaxIterations(cfg.Agent.MaxIterations)
	}
	sc.AgentCore = orch

	return sc, nil
}

func registerTool(reg *tools.Registry, t tools.Tool, limits map[string]int) {
	if limit, ok := limits[t.Name()]; ok && limit > 0 {
		reg.RegisterWithLimit(t, limit)
		return
	}
	reg.Register(t)
}

// openCacheStore builds the configured cache backend.
func openCacheStore(cfg *config.Config, logger *slog.Logger) (cache.Store, error) {
	switch cfg.Cache.CacheDriver() {
	case "postgres":
		return cachepg.Open(cachepg.Config{
			DSN:      cfg.Cache.DSN,
			MaxBytes: cfg.Cache.Ceiling(),
		}, logger)
	case "memory":
		return cache.NewMemory(cfg.Cache.Ceiling()), nil
	default:
		path := cfg.CachePath()
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, err
		}
		return cachesqlite.Open(cachesqlite.Config{
			Path:     path,
			MaxBytes: cfg.Cache.Ceiling(),
		}, logger)
	}
}

func buildProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	p := &cfg.Provider
	switch p.ProviderName() {
	case "openai":
		var opts []openai.Option
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.NewClient(p.APIKey, p.ModelName(), logger, opts...), nil
	case "ollama":
		baseURL := p.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient("", p.ModelName(), logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}
}
