package main

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cardpay-gateway/internal/audit"
	"github.com/noah-isme/cardpay-gateway/internal/config"
	"github.com/noah-isme/cardpay-gateway/internal/health"
	"github.com/noah-isme/cardpay-gateway/internal/obs"
	"github.com/noah-isme/cardpay-gateway/internal/payment"
	"github.com/noah-isme/cardpay-gateway/internal/ratelimit"
	"github.com/noah-isme/cardpay-gateway/internal/security"
)

type routerDeps struct {
	Logger      zerolog.Logger
	Payments    *payment.Handler
	Limiter     ratelimit.Limiter
	RateLimit   config.RateLimitConfig
	BodyLimit   int64
	Headers     security.Headers
	CORSOrigins []string
	HTTPMetrics *obs.HTTPMetrics
	Tracing     bool
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Health   health.Handler
	Audit    *audit.Service

	// TrustedProxies may set the client address via forwarding headers.
	TrustedProxies []netip.Prefix
	PprofEnabled   bool
	PprofUser      string
	PprofPass      string
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(security.RealIP{TrustedProxies: d.TrustedProxies}.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if d.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(d.Headers.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(d.CORSOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	if d.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), d.PprofUser, d.PprofPass))
	}

	r.Get("/health/live", d.Health.Live)
	r.Get("/health/ready", d.Health.Ready)

	onLimitError := func(req *http.Request, err error) {
		zerolog.Ctx(req.Context()).Warn().Err(err).Msg("rate limiter unavailable, admitting request")
	}
	limit := func(scope string, max int) func(http.Handler) http.Handler {
		return ratelimit.Handler{
			Limiter: d.Limiter,
			Config:  ratelimit.Config{Key: ratelimit.ByClientIP(scope), Window: d.RateLimit.Window, Max: max},
			OnError: onLimitError,
		}.Middleware
	}

	recorder := audit.HTTPRecorder{
		Service: d.Audit,
		OnError: func(req *http.Request, err error) {
			zerolog.Ctx(req.Context()).Warn().Err(err).Msg("audit record failed")
		},
	}
	audited := func(action, resource string) func(http.Handler) http.Handler {
		return recorder.Middleware(audit.HTTPConfig{Action: action, ResourceType: resource, MetadataFunc: outcomeMetadata})
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(security.BodyLimit{Max: d.BodyLimit}.Middleware)
		api.With(audited("credentials.validate", "credential"), limit("credentials", d.RateLimit.CredentialsMax)).
			Post("/credentials/validate", d.Payments.ValidateCredentials)
		api.With(audited("payment.process", "payment"), limit("payments", d.RateLimit.PaymentsMax)).
			Post("/payment/process", d.Payments.ProcessPayment)
	})
	return r
}

func outcomeMetadata(_ *http.Request, status int) map[string]any {
	outcome := "ok"
	switch {
	case status == http.StatusTooManyRequests:
		outcome = "rate_limited"
	case status == http.StatusPaymentRequired:
		outcome = "declined"
	case status >= http.StatusInternalServerError:
		outcome = "failed"
	case status >= http.StatusBadRequest:
		outcome = "rejected"
	}
	return map[string]any{"outcome": outcome}
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// protectPprof gates the profiler behind basic auth. Config validation
// guarantees both values are set when profiling is enabled.
func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || user == "" || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
