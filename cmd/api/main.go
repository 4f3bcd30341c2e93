package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cardpay-gateway/internal/audit"
	"github.com/noah-isme/cardpay-gateway/internal/config"
	"github.com/noah-isme/cardpay-gateway/internal/credential"
	"github.com/noah-isme/cardpay-gateway/internal/health"
	"github.com/noah-isme/cardpay-gateway/internal/obs"
	"github.com/noah-isme/cardpay-gateway/internal/payment"
	"github.com/noah-isme/cardpay-gateway/internal/ratelimit"
	"github.com/noah-isme/cardpay-gateway/internal/resilience"
	"github.com/noah-isme/cardpay-gateway/internal/security"
)

const (
	serviceName     = "cardpay-gateway"
	rateLimitPrefix = "cardpay:ratelimit:"
	shutdownGrace   = 15 * time.Second
)

func main() {
	cfg := config.MustLoad()
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("service", serviceName).Logger()
	zerolog.DefaultContextLogger = &logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.EnableTracing {
		shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   serviceName,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("init tracer")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("tracer shutdown")
			}
		}()
	}

	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, prometheus.DefaultRegisterer)
	var (
		httpMetrics *obs.HTTPMetrics
		gatherer    prometheus.Gatherer
	)
	if cfg.Obs.EnablePrometheus {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), prometheus.DefaultRegisterer)
		if err := resilience.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			logger.Fatal().Err(err).Msg("register breaker metrics")
		}
		gatherer = prometheus.DefaultGatherer
	}

	probes := map[string]health.Probe{}
	redisClient, err := openRedis(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
		probes["ratelimit_redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	limiter, err := newLimiter(cfg.RateLimit, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("init rate limiter")
	}

	store := credential.NewStore(credential.WithLogger(logger))
	go store.Run(ctx, cfg.Credential.SweepInterval)

	processor := payment.NewPayPal(payment.PayPalConfig{
		SandboxBaseURL:      cfg.PayPal.SandboxBaseURL,
		LiveBaseURL:         cfg.PayPal.LiveBaseURL,
		Timeout:             cfg.PayPal.Timeout,
		MaxAttempts:         cfg.PayPal.MaxAttempts,
		BreakerMinRequests:  cfg.PayPal.BreakerMinRequests,
		BreakerFailureRatio: cfg.PayPal.BreakerFailureRatio,
		BreakerOpenFor:      cfg.PayPal.BreakerOpenFor,
		Logger:              logger,
	})
	svc := &payment.Service{
		Store:              store,
		Processor:          processor,
		StrictVerification: cfg.Credential.StrictVerification,
	}

	router := newRouter(routerDeps{
		Logger:      logger,
		Payments:    payment.NewHandler(svc),
		Limiter:     limiter,
		RateLimit:   cfg.RateLimit,
		BodyLimit:   cfg.HTTPBodyLimitBytes,
		Headers:     security.Headers{Enable: cfg.SecurityHeadersEnabled, EnableHSTS: cfg.IsProduction()},
		CORSOrigins: cfg.CORSAllowedOrigins,
		HTTPMetrics: httpMetrics,
		Tracing:     cfg.Obs.EnableTracing,
		Gatherer:    gatherer,
		Health:      health.Handler{Probes: probes, Timeout: 500 * time.Millisecond},
		Audit: &audit.Service{
			Store:        audit.LogStore{Logger: logger.With().Str("channel", "audit").Logger()},
			Enabled:      cfg.Audit.Enabled,
			SamplingRate: cfg.Audit.SamplingRate,
		},

		TrustedProxies: cfg.TrustedProxies,
		PprofEnabled:   cfg.PprofEnabled,
		PprofUser:      cfg.PprofUser,
		PprofPass:      cfg.PprofPass,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.AppEnv).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

// openRedis connects when REDIS_URL is set. A nil client means the service
// runs without shared rate limit state.
func openRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("REDIS_URL not set, rate limits are kept in memory")
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if cfg.Obs.EnableTracing {
		if err := redisotel.InstrumentTracing(client); err != nil {
			logger.Warn().Err(err).Msg("redis tracing instrumentation")
		}
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		logger.Warn().Err(err).Msg("redis metrics instrumentation")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func newLimiter(cfg config.RateLimitConfig, client *redis.Client) (ratelimit.Limiter, error) {
	if client == nil {
		return ratelimit.NewMemoryFixedWindow(rateLimitPrefix), nil
	}
	if cfg.Strategy == "fixed" {
		return ratelimit.NewRedisFixedWindow(client, rateLimitPrefix)
	}
	return ratelimit.SlidingWindow{Client: client, Prefix: rateLimitPrefix}, nil
}
