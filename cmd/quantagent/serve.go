package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	goutils "github.com/jkaninda/go-utils"

	"github.com/quantlab/quantagent/internal/config"
	"github.com/quantlab/quantagent/internal/gateway/httpapi"
	"github.com/quantlab/quantagent/internal/gateway/ws"
	"github.com/quantlab/quantagent/internal/ratelimit"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `quantagent --config path` and `quantagent serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// loadConfig reads the config file, falling back to built-in defaults when
// nothing exists at the conventional location.
func loadConfig(path string) (*config.Config, error) {
	if path == config.DefaultConfigPath() {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// sweeper is implemented by cache stores that support bulk expired-entry removal.
type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(goutils.Env("QUANTAGENT_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Server.Addr = servePort
	}

	logger := newLogger(cfg.Logging)
	logger.Info("starting server", slog.String("config", serveConfigPath))

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Periodic cache sweep.
	if schedule := cfg.Cache.Schedule(); schedule != "" {
		if sw, ok := sc.Store.(sweeper); ok {
			c := cron.New()
			if _, err := c.AddFunc(schedule, func() {
				sweepCache(ctx, sw, sc)
			}); err != nil {
				return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
			}
			c.Start()
			defer c.Stop()
			logger.Debug("cache sweep scheduled", slog.String("schedule", schedule))
		}
	}

	// Rate limiter shared by HTTP and WebSocket gateways.
	var limiter *ratelimit.Limiter
	if cfg.Server.RequestsPerMinute > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Server.RequestsPerMinute,
			BurstSize:         cfg.Server.RateBurst,
		})
	}

	apiKeys := apiKeyMap(cfg.Server.APIKeys)

	wsServer := ws.NewServer(sc.AgentCore, apiKeys, limiter, logger)

	gw := httpapi.NewGateway(httpapi.Config{
		ListenAddr:      cfg.Server.ListenAddr(),
		APIKeys:         apiKeys,
		MetricsRegistry: sc.Metrics.Registry,
		HealthChecker:   sc.HealthChecker,
		Metrics:         sc.Metrics,
		Tracer:          tracerOrNil(sc),
	}, sc.AgentCore, limiter, logger).
		WithHandler("/v1/chat/ws", wsServer.Handler())

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return gw.Stop(shutdownCtx)
}

func sweepCache(ctx context.Context, sw sweeper, sc *SharedComponents) {
	swept, err := sw.Sweep(ctx)
	if err != nil {
		sc.Logger.Warn("cache sweep failed", slog.String("error", err.Error()))
		return
	}
	sc.Metrics.CacheSweptTotal.Add(float64(swept))
	if size, err := sc.Store.Size(ctx); err == nil {
		sc.Metrics.CacheSizeBytes.Set(float64(size))
	}
	if swept > 0 {
		sc.Logger.Info("cache sweep completed", slog.Int("swept", swept))
	}
}

// apiKeyMap assigns each configured key a stable user identity by position.
func apiKeyMap(keys []string) map[string]string {
	if len(keys) == 0 {
		return nil
	}
	m := make(map[string]string, len(keys))
	for i, key := range keys {
		m[key] = fmt.Sprintf("user-%d", i+1)
	}
	return m
}

func tracerOrNil(sc *SharedComponents) trace.Tracer {
	if sc.Tracer == nil {
		return nil
	}
	return sc.Tracer.Tracer()
}
