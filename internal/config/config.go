package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv                 string
	Port                   string
	RedisURL               string
	CORSAllowedOrigins     []string
	TrustedProxies         []netip.Prefix
	HTTPBodyLimitBytes     int64
	SecurityHeadersEnabled bool
	PprofEnabled           bool
	PprofUser              string
	PprofPass              string

	PayPal     PayPalConfig
	Credential CredentialConfig
	RateLimit  RateLimitConfig
	Audit      AuditConfig
	Obs        ObsConfig
}

// PayPalConfig controls the upstream processor client.
type PayPalConfig struct {
	SandboxBaseURL      string
	LiveBaseURL         string
	Timeout             time.Duration
	MaxAttempts         int
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
}

// CredentialConfig controls credential verification and the token store.
type CredentialConfig struct {
	StrictVerification bool
	SweepInterval      time.Duration
}

// RateLimitConfig holds per-client request budgets for each endpoint.
// Strategy selects "sliding" or "fixed" windows when Redis is configured;
// without Redis a fixed in-memory window is used.
type RateLimitConfig struct {
	Strategy       string
	Window         time.Duration
	CredentialsMax int
	PaymentsMax    int
}

// AuditConfig controls the API call audit trail.
type AuditConfig struct {
	Enabled      bool
	SamplingRate float64
}

// ObsConfig groups logging, metrics and tracing settings.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	EnablePrometheus bool
	MetricsNamespace string
	MetricsBuckets   string
	EnableTracing    bool
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	proxies, proxyErr := parseTrustedProxies(k.String("TRUSTED_PROXIES"))

	cfg := &Config{
		AppEnv:                 valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                   valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:               strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins:     splitAndTrim(valueOrDefault(k.String("CORS_ALLOWED_ORIGINS"), "*")),
		TrustedProxies:         proxies,
		HTTPBodyLimitBytes:     int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 64<<10)),
		SecurityHeadersEnabled: parseBool(k.String("SECURITY_HEADERS_ENABLED"), true),
		PprofEnabled:           parseBool(k.String("PPROF_ENABLED"), false),
		PprofUser:              strings.TrimSpace(k.String("PPROF_USER")),
		PprofPass:              k.String("PPROF_PASS"),
		PayPal: PayPalConfig{
			SandboxBaseURL:      valueOrDefault(k.String("PAYPAL_SANDBOX_BASE_URL"), "https://api-m.sandbox.paypal.com"),
			LiveBaseURL:         valueOrDefault(k.String("PAYPAL_LIVE_BASE_URL"), "https://api-m.paypal.com"),
			Timeout:             parseDuration(k.String("PAYPAL_TIMEOUT"), "20s"),
			MaxAttempts:         parseInt(k.String("PAYPAL_MAX_ATTEMPTS"), 1),
			BreakerMinRequests:  parseInt(k.String("PAYPAL_BREAKER_MIN_REQUESTS"), 5),
			BreakerFailureRatio: parseFloat(k.String("PAYPAL_BREAKER_FAILURE_RATIO"), 0.5),
			BreakerOpenFor:      parseDuration(k.String("PAYPAL_BREAKER_OPEN_FOR"), "30s"),
		},
		Credential: CredentialConfig{
			StrictVerification: parseBool(k.String("CREDENTIAL_STRICT_VERIFICATION"), false),
			SweepInterval:      parseDuration(k.String("CREDENTIAL_SWEEP_INTERVAL"), "10m"),
		},
		RateLimit: RateLimitConfig{
			Strategy:       strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), "sliding")),
			Window:         parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
			CredentialsMax: parseInt(k.String("RATE_LIMIT_CREDENTIALS_MAX"), 10),
			PaymentsMax:    parseInt(k.String("RATE_LIMIT_PAYMENTS_MAX"), 30),
		},
		Audit: AuditConfig{
			Enabled:      parseBool(k.String("AUDIT_ENABLED"), true),
			SamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1.0),
		},
		Obs: ObsConfig{
			LogFormat:        strings.ToLower(valueOrDefault(k.String("OBS_LOG_FORMAT"), "json")),
			LogLevel:         strings.ToLower(valueOrDefault(k.String("OBS_LOG_LEVEL"), "info")),
			EnablePrometheus: parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "cardpay"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING"), false),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		},
	}

	if err := errors.Join(proxyErr, cfg.validate()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.HTTPBodyLimitBytes <= 0 {
		errs = append(errs, errors.New("HTTP_BODY_LIMIT_BYTES must be positive"))
	}
	if c.PayPal.Timeout <= 0 {
		errs = append(errs, errors.New("PAYPAL_TIMEOUT must be positive"))
	}
	if c.PayPal.MaxAttempts < 1 {
		errs = append(errs, errors.New("PAYPAL_MAX_ATTEMPTS must be at least 1"))
	}
	if r := c.PayPal.BreakerFailureRatio; r <= 0 || r > 1 {
		errs = append(errs, errors.New("PAYPAL_BREAKER_FAILURE_RATIO must be within (0, 1]"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	switch c.RateLimit.Strategy {
	case "sliding", "fixed":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_STRATEGY %q is not supported", c.RateLimit.Strategy))
	}
	if c.PprofEnabled && (c.PprofUser == "" || c.PprofPass == "") {
		errs = append(errs, errors.New("PPROF_USER and PPROF_PASS are required when PPROF_ENABLED is set"))
	}
	if c.RateLimit.CredentialsMax < 0 || c.RateLimit.PaymentsMax < 0 {
		errs = append(errs, errors.New("rate limit budgets must not be negative"))
	}
	if r := c.Audit.SamplingRate; r < 0 || r > 1 {
		errs = append(errs, errors.New("AUDIT_SAMPLING_RATE must be within [0, 1]"))
	}
	if r := c.Obs.SamplingRatio; r < 0 || r > 1 {
		errs = append(errs, errors.New("OBS_TRACING_SAMPLING_RATIO must be within [0, 1]"))
	}
	switch c.Obs.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("OBS_LOG_FORMAT %q is not supported", c.Obs.LogFormat))
	}
	return errors.Join(errs...)
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.AppEnv) {
	case "production", "prod":
		return true
	default:
		return false
	}
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseTrustedProxies reads a comma separated list of CIDRs or bare addresses.
func parseTrustedProxies(value string) ([]netip.Prefix, error) {
	var (
		prefixes []netip.Prefix
		errs     []error
	)
	for _, part := range splitAndTrim(value) {
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				errs = append(errs, fmt.Errorf("TRUSTED_PROXIES entry %q: %w", part, err))
				continue
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES entry %q: %w", part, err))
			continue
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, errors.Join(errs...)
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
