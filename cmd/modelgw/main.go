// Command modelgw runs the model gateway HTTP server.
//
// Configuration comes from a YAML/JSON file named by GATEWAY_CONFIG; provider
// credentials come from environment variables (OPENAI_API_KEY, AWS_REGION,
// and friends). The server exposes routing, aggregation, provider status, and
// Prometheus metrics endpoints.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	modelgateway "github.com/corvid-labs/model-gateway"
	"github.com/corvid-labs/model-gateway/internal/logging"
	"github.com/corvid-labs/model-gateway/internal/metrics"
	"github.com/corvid-labs/model-gateway/internal/ratelimit"
	"github.com/corvid-labs/model-gateway/internal/requestlog"
	"github.com/corvid-labs/model-gateway/internal/tracing"
	"github.com/corvid-labs/model-gateway/internal/version"
	"github.com/corvid-labs/model-gateway/providers"
)

func main() {
	logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	log := slog.Default()

	cfg := loadConfig(log)

	shutdownTracing, err := tracing.Init("modelgw", os.Stderr)
	if err != nil {
		log.Warn("tracing init failed", slog.String("error", err.Error()))
		shutdownTracing = func(context.Context) error { return nil }
	}

	var opts []modelgateway.GatewayOption
	if dsn := os.Getenv("ATTEMPT_LOG_SQLITE"); dsn != "" {
		w, err := requestlog.NewSQLiteWriter(dsn)
		if err != nil {
			log.Error("attempt log open failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer w.Close()
		opts = append(opts, modelgateway.WithAttemptLog(w))
	} else if dsn := os.Getenv("ATTEMPT_LOG_POSTGRES"); dsn != "" {
		w, err := requestlog.NewPostgresWriter(dsn)
		if err != nil {
			log.Error("attempt log open failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer w.Close()
		opts = append(opts, modelgateway.WithAttemptLog(w))
	}

	gw, err := modelgateway.New(*cfg, opts...)
	if err != nil {
		log.Error("gateway init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	registerInvokers(gw, cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Discovery.Enabled {
		if err := gw.StartDiscovery(ctx); err != nil {
			log.Error("discovery start failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer gw.StopDiscovery()
	}
	gw.Metrics().StartCleanup(ctx, time.Minute)

	mw := modelgateway.NewMiddleware(gw)

	var corsOrigins []string
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}

	limits := ratelimit.NewStore(20, 40)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limits.Prune(10 * time.Minute)
			}
		}
	}()

	srv := &http.Server{
		Addr:         listenAddr(),
		Handler:      newRouter(gw, mw, limits, corsOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown error", slog.String("error", err.Error()))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown error", slog.String("error", err.Error()))
		}
	}()

	log.Info("modelgw listening",
		slog.String("version", version.Short()),
		slog.String("addr", srv.Addr),
		slog.Int("providers", len(cfg.Providers)))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1) //nolint:gocritic
	}
	log.Info("server stopped")
}

func loadConfig(log *slog.Logger) *modelgateway.Config {
	path := os.Getenv("GATEWAY_CONFIG")
	if path == "" {
		log.Error("GATEWAY_CONFIG is required")
		os.Exit(1)
	}
	cfg, err := modelgateway.LoadConfig(path)
	if err != nil {
		log.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("config loaded",
		slog.Int("providers", len(cfg.Providers)),
		slog.String("load_balancing", string(cfg.LoadBalancing)),
		slog.Bool("discovery", cfg.Discovery.Enabled))
	return cfg
}

// registerInvokers wires provider integrations from environment credentials.
// OPENAI_BASE_URL_<ID> entries register extra OpenAI-compatible providers
// under custom ids.
func registerInvokers(gw *modelgateway.Gateway, cfg *modelgateway.Config, log *slog.Logger) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		f := providers.NewOpenAIFactory("openai", key, os.Getenv("OPENAI_BASE_URL"))
		gw.RegisterInvoker("openai", func(model string) providers.InvokeFunc {
			return f.Handle(model, nil).Invoke
		})
		log.Info("invoker registered", slog.String("provider", "openai"))
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		f, err := providers.NewBedrockFactory(context.Background(), "bedrock", region,
			os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"))
		if err != nil {
			log.Warn("bedrock init failed", slog.String("error", err.Error()))
		} else {
			gw.RegisterInvoker("bedrock", func(model string) providers.InvokeFunc {
				return f.Handle(model, nil, 0).Invoke
			})
			log.Info("invoker registered", slog.String("provider", "bedrock"))
		}
	}
	// Any configured provider without a dedicated integration but with an
	// OPENAI_COMPAT_KEY_<ID> env var is treated as OpenAI-compatible.
	for _, p := range cfg.Providers {
		id := strings.ToUpper(strings.ReplaceAll(p.ID, "-", "_"))
		key := os.Getenv("OPENAI_COMPAT_KEY_" + id)
		base := os.Getenv("OPENAI_COMPAT_URL_" + id)
		if key == "" || base == "" {
			continue
		}
		f := providers.NewOpenAIFactory(p.ID, key, base)
		gw.RegisterInvoker(p.ID, func(model string) providers.InvokeFunc {
			return f.Handle(model, nil).Invoke
		})
		log.Info("invoker registered", slog.String("provider", p.ID))
	}
}

func listenAddr() string {
	if p := os.Getenv("PORT"); p != "" {
		return ":" + p
	}
	return ":8080"
}

// newRouter builds the HTTP router.
func newRouter(gw *modelgateway.Gateway, mw *modelgateway.Middleware, limits *ratelimit.Store, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(corsMiddleware(corsOrigins...))
	r.Use(rateLimitMiddleware(limits))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/route", routeHandler(mw))
	r.Post("/v1/route/aggregate", aggregateHandler(mw))
	r.Get("/v1/providers", providersHandler(gw))
	r.Get("/v1/providers/health", providerHealthHandler(gw))
	r.Get("/v1/circuit-breakers", circuitBreakersHandler(mw))
	r.Get("/v1/cache/stats", cacheStatsHandler(mw))
	r.Delete("/v1/cache", clearCacheHandler(mw))

	return r
}

// rateLimitMiddleware rejects requests over the per-client budget with 429.
func rateLimitMiddleware(store *ratelimit.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.Allow(r.RemoteAddr) {
				metrics.RateLimitRejections.WithLabelValues("client_ip").Inc()
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
