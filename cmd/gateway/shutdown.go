package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aigw/internal/config"
	"aigw/internal/observability"
)

// runGateway starts all servers and background loops, then blocks
// until a shutdown signal arrives.
func runGateway(app *application, configPath string, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if app.config.HealthMonitor.Enabled {
		app.monitor.Start(ctx)
	}

	startServer(app.healthServer, "health server", logger)
	if app.metricsServer != nil {
		startServer(app.metricsServer, "metrics server", logger)
	}

	go func() {
		if err := app.server.Start(); err != nil {
			fatalWithSync(logger, "gateway server failed", observability.Error(err))
		}
	}()

	watcher := startConfigWatcher(app, configPath, logger)

	waitForShutdown(app, watcher, logger)
}

// startServer runs an auxiliary HTTP server in the background.
func startServer(server *http.Server, name string, logger observability.Logger) {
	go func() {
		logger.Info(name+" listening", observability.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(name+" failed", observability.Error(err))
		}
	}()
}

// startConfigWatcher enables hot reload of the backend topology and
// breaker settings. Listener and cache changes need a restart.
func startConfigWatcher(app *application, configPath string, logger observability.Logger) *config.Watcher {
	resolved, err := config.ResolveConfigPath(configPath)
	if err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(resolved, func(cfg *config.GatewayConfig) {
		logger.Info("configuration reloaded, applying backend topology")
		app.backends.Update(cfg.Backends)
		app.breakers.UpdateConfig(breakerConfig(cfg.CircuitBreaker))
	}, config.WithLogger(logger))
	if err != nil {
		logger.Warn("config watcher unavailable", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("config watcher failed to start", observability.Error(err))
		return nil
	}
	return watcher
}

// waitForShutdown blocks on a termination signal and drains the
// gateway: readiness flips first so load balancers stop routing here,
// then servers drain, then background loops stop.
func waitForShutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	app.checker.SetDraining(true)

	timeout := app.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop gateway server gracefully", observability.Error(err))
	}

	if app.metricsServer != nil {
		if err := app.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}
	if err := app.healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop health server gracefully", observability.Error(err))
	}

	app.engine.Stop()
	if app.config.HealthMonitor.Enabled {
		app.monitor.Stop()
	}

	if err := app.cache.Close(); err != nil {
		logger.Error("failed to close cache", observability.Error(err))
	}

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("gateway stopped")
}
