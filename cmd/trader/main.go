package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alphatrader/internal/adapters/config"
	"alphatrader/internal/adapters/errors/noop"
	"alphatrader/internal/adapters/errors/sentry"
	"alphatrader/internal/adapters/exchangefactory"
	"alphatrader/internal/adapters/exchanges"
	"alphatrader/internal/metrics"
	"alphatrader/pkg/errors"
	"alphatrader/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	// Initialize error tracker
	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		metrics.Init()
		go serveMetrics(cfg.Metrics.Addr, log)
	}

	// Exchange factory
	factory := exchangefactory.New(cfg)
	exchangefactory.SetGlobal(factory)
	defer factory.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enabled := factory.ListEnabled()
	if len(enabled) == 0 {
		log.Fatalf("No exchanges enabled")
	}
	log.Infof("Enabled exchanges: %v", enabled)

	for _, name := range enabled {
		reportExchange(ctx, factory, name, log)
	}

	log.Info("System initialized successfully")

	waitForShutdown(ctx, cancel, errorTracker, log)
}

// reportExchange logs health and account state for one exchange at
// startup so misconfigured credentials surface immediately.
func reportExchange(ctx context.Context, factory exchanges.Factory, name string, log *logger.Logger) {
	trader, err := factory.Get(name)
	if err != nil {
		log.Errorf("Failed to initialize %s: %v", name, err)
		return
	}

	health := trader.HealthCheck(ctx)
	log.Infof("%s health: %s (%s)", name, health.Status, health.ResponseTime)
	if health.Status == exchanges.HealthUnreachable {
		return
	}

	balance, err := trader.GetBalance(ctx)
	if err != nil {
		log.Errorf("Failed to fetch %s balance: %v", name, err)
		return
	}
	log.Infof("%s balance: %s %s available of %s", name, balance.AvailableBalance, balance.Currency, balance.TotalBalance)

	positions, err := trader.GetPositions(ctx)
	if err != nil {
		log.Errorf("Failed to fetch %s positions: %v", name, err)
		return
	}
	for _, p := range positions {
		log.Infof("%s position: %s %s %s @ %s (uPnL %s)", name, p.Side, p.Size, p.Symbol, p.EntryPrice, p.UnrealizedPnL)
	}
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || !cfg.ErrorTracking.SentryDSN.IsSet() {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN.Value(), cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

func serveMetrics(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	log.Infof("Metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("Metrics server stopped: %v", err)
	}
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, tracker errors.Tracker, log *logger.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Infof("Received signal %s, shutting down", sig)

	cancel()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := tracker.Flush(flushCtx); err != nil {
		log.Warnf("Error tracker flush failed: %v", err)
	}

	log.Info("Shutdown complete")
}
