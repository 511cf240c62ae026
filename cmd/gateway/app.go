package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aigw/internal/backend"
	"aigw/internal/cache"
	"aigw/internal/circuitbreaker"
	"aigw/internal/config"
	"aigw/internal/fallback"
	"aigw/internal/gateway"
	"aigw/internal/health"
	"aigw/internal/observability"
	"aigw/internal/prefetch"
	"aigw/internal/retry"
	"aigw/internal/util"
)

// application holds all wired gateway components.
type application struct {
	config        *config.GatewayConfig
	logger        observability.Logger
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	backends      *backend.Registry
	breakers      *circuitbreaker.Registry
	monitor       *backend.Monitor
	cache         *cache.MultiLevel
	gateway       *gateway.Gateway
	engine        *prefetch.Engine
	checker       *health.Checker
	server        *gateway.Server
	metricsServer *http.Server
	healthServer  *http.Server
}

// initApplication wires all components together.
func initApplication(cfg *config.GatewayConfig, logger observability.Logger) *application {
	metrics := observability.NewMetrics("gateway")
	metrics.InitVecMetrics()
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	cache.GetCacheMetrics().Init()

	tracer := initTracer(cfg, logger)

	backends := backend.NewRegistry(cfg.Backends)
	breakers := circuitbreaker.NewRegistry(breakerConfig(cfg.CircuitBreaker), observability.Zap(logger))
	balancer := backend.NewBalancer(cfg.Balancer, logger)
	client := backend.NewClient(backend.WithClientLogger(logger))
	executor := retry.NewExecutor(retryConfig(cfg.Retry), logger)

	ml, err := cache.NewMultiLevel(&cfg.Cache, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize cache", observability.Error(err))
		return nil
	}

	monitor := backend.NewMonitor(backends, cfg.HealthMonitor,
		backend.WithMonitorLogger(logger),
		backend.WithStateChangeCallback(func(service, instance string, from, to backend.HealthState) {
			metrics.RecordBackendHealth(service, instance, int(to))
		}),
	)

	gw := gateway.New(gateway.Deps{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Backends: backends,
		Breakers: breakers,
		Balancer: balancer,
		Client:   client,
		Executor: executor,
		Cache:    ml,
	})

	gw.SetFallbackChain(buildFallbackChain(cfg, gw, ml, logger, metrics))

	engine := prefetch.NewEngine(cfg.Prefetch, gw.PrefetchFetch, gw.PrefetchCached,
		prefetch.WithEngineLogger(logger),
		prefetch.WithEngineMetrics(metrics),
		prefetch.WithPredictors(prefetch.DefaultPredictors()...),
	)
	gw.SetPrefetchEngine(engine)

	checker := health.NewChecker(version)
	checker.RegisterCheck("backends", health.BackendsCheck(backends))
	checker.RegisterCheck("cache", health.CacheCheck(ml))

	server := gateway.NewServer(gw, cfg.Server,
		gateway.WithServerLogger(logger),
		gateway.WithAccessLog(cfg.Observability.AccessLogEnabled),
	)

	app := &application{
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		backends: backends,
		breakers: breakers,
		monitor:  monitor,
		cache:    ml,
		gateway:  gw,
		engine:   engine,
		checker:  checker,
		server:   server,
	}

	if cfg.Observability.MetricsEnabled {
		app.metricsServer = buildMetricsServer(cfg, metrics)
	}
	app.healthServer = buildHealthServer(cfg, checker)

	return app
}

// breakerConfig translates the YAML breaker section. A disabled
// breaker section still creates breakers, but nothing ever counts as a
// failure so no circuit opens.
func breakerConfig(cfg config.CircuitBreakerConfig) *circuitbreaker.Config {
	cb := &circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		MonitoringPeriod: cfg.MonitoringPeriod.Duration(),
		RecoveryTimeout:  cfg.RecoveryTimeout.Duration(),
		HalfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		IsFailure:        util.CountsAsBreakerFailure,
	}
	if !cfg.Enabled {
		cb.IsFailure = func(error) bool { return false }
	}
	return cb
}

// retryConfig translates the YAML retry section. Disabled retries mean
// a single attempt.
func retryConfig(cfg config.RetryConfig) *retry.Config {
	rc := &retry.Config{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay.Duration(),
		MaxDelay:    cfg.MaxDelay.Duration(),
		Multiplier:  cfg.Multiplier,
		JitterMax:   cfg.JitterMax.Duration(),
		MinBudget:   cfg.MinBudget.Duration(),
	}
	if !cfg.Enabled {
		rc.MaxAttempts = 1
	}
	return rc
}

// buildFallbackChain assembles the standard strategy ordering:
// alternate backend, stale cache, degraded local answer.
func buildFallbackChain(
	cfg *config.GatewayConfig,
	gw *gateway.Gateway,
	ml *cache.MultiLevel,
	logger observability.Logger,
	metrics *observability.Metrics,
) *fallback.Chain {
	queueDir := ""
	if store := cfg.BackendByKind(config.ServiceStore); store != nil {
		queueDir = store.QueueDir
	}

	strategies := []fallback.Strategy{
		fallback.NewAlternateBackend(gw.AlternateInvoke),
		fallback.NewStaleCache(ml),
		fallback.NewDegradedLocal(queueDir),
	}

	return fallback.NewChain(strategies,
		fallback.WithChainLogger(logger),
		fallback.WithChainMetrics(metrics),
	)
}

// initTracer creates the OTLP tracer from configuration.
func initTracer(cfg *config.GatewayConfig, logger observability.Logger) *observability.Tracer {
	serviceName := cfg.Observability.ServiceName
	if serviceName == "" {
		serviceName = "aigw"
	}

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		SamplingRate: cfg.Observability.TracingSampleRate,
		Enabled:      cfg.Observability.TracingEnabled,
		Insecure:     cfg.Observability.TracingInsecure,
	})
	if err != nil {
		fatalWithSync(logger, "failed to initialize tracer", observability.Error(err))
		return nil
	}
	return tracer
}

// buildMetricsServer serves the gateway registry and the default
// registry together on one endpoint. Subsystem metrics auto-register
// with the default registry via promauto; the gateway registry holds
// only its own collectors, so the combined gather never sees a family
// twice.
func buildMetricsServer(cfg *config.GatewayConfig, metrics *observability.Metrics) *http.Server {
	path := cfg.Observability.MetricsPath
	if path == "" {
		path = "/metrics"
	}

	gatherers := prometheus.Gatherers{
		metrics.Registry(),
		prometheus.DefaultGatherer,
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
}

// buildHealthServer serves the liveness and readiness probes.
func buildHealthServer(cfg *config.GatewayConfig, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.HealthHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())

	return &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
}
