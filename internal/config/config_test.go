package config

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "PORT", "REDIS_URL", "CORS_ALLOWED_ORIGINS", "HTTP_BODY_LIMIT_BYTES",
		"PAYPAL_TIMEOUT", "PAYPAL_MAX_ATTEMPTS", "OBS_LOG_FORMAT", "OBS_ENABLE_TRACING",
		"RATE_LIMIT_STRATEGY", "PPROF_ENABLED", "AUDIT_ENABLED", "AUDIT_SAMPLING_RATE",
		"TRUSTED_PROXIES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	require.EqualValues(t, 65536, cfg.HTTPBodyLimitBytes)
	require.True(t, cfg.SecurityHeadersEnabled)
	require.Empty(t, cfg.TrustedProxies)

	require.Equal(t, "https://api-m.sandbox.paypal.com", cfg.PayPal.SandboxBaseURL)
	require.Equal(t, "https://api-m.paypal.com", cfg.PayPal.LiveBaseURL)
	require.Equal(t, 20*time.Second, cfg.PayPal.Timeout)
	require.Equal(t, 1, cfg.PayPal.MaxAttempts)
	require.Equal(t, 5, cfg.PayPal.BreakerMinRequests)

	require.False(t, cfg.Credential.StrictVerification)
	require.Equal(t, 10*time.Minute, cfg.Credential.SweepInterval)
	require.Equal(t, "sliding", cfg.RateLimit.Strategy)
	require.Equal(t, time.Minute, cfg.RateLimit.Window)
	require.Equal(t, 10, cfg.RateLimit.CredentialsMax)
	require.Equal(t, 30, cfg.RateLimit.PaymentsMax)

	require.True(t, cfg.Audit.Enabled)
	require.Equal(t, 1.0, cfg.Audit.SamplingRate)
	require.Equal(t, "json", cfg.Obs.LogFormat)
	require.Equal(t, "cardpay", cfg.Obs.MetricsNamespace)
	require.False(t, cfg.Obs.EnableTracing)
	require.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("PORT", ":9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("PAYPAL_TIMEOUT", "5s")
	t.Setenv("PAYPAL_MAX_ATTEMPTS", "3")
	t.Setenv("CREDENTIAL_STRICT_VERIFICATION", "true")
	t.Setenv("SECURITY_HEADERS_ENABLED", "off")
	t.Setenv("RATE_LIMIT_PAYMENTS_MAX", "0")
	t.Setenv("OBS_LOG_FORMAT", "CONSOLE")
	t.Setenv("RATE_LIMIT_STRATEGY", "Fixed")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.10 ,::ffff:172.16.0.1")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, ":9000", cfg.HTTPAddr())
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, 5*time.Second, cfg.PayPal.Timeout)
	require.Equal(t, 3, cfg.PayPal.MaxAttempts)
	require.True(t, cfg.Credential.StrictVerification)
	require.False(t, cfg.SecurityHeadersEnabled)
	require.Zero(t, cfg.RateLimit.PaymentsMax)
	require.Equal(t, "console", cfg.Obs.LogFormat)
	require.Equal(t, "fixed", cfg.RateLimit.Strategy)
	require.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.10/32"),
		netip.MustParsePrefix("172.16.0.1/32"),
	}, cfg.TrustedProxies)
}

func TestLoadFallsBackOnUnparseableValues(t *testing.T) {
	t.Setenv("PAYPAL_TIMEOUT", "soon")
	t.Setenv("RATE_LIMIT_CREDENTIALS_MAX", "many")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 20*time.Second, cfg.PayPal.Timeout)
	require.Equal(t, 10, cfg.RateLimit.CredentialsMax)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("PAYPAL_BREAKER_FAILURE_RATIO", "1.5")
	t.Setenv("PAYPAL_MAX_ATTEMPTS", "0")
	t.Setenv("OBS_LOG_FORMAT", "xml")
	t.Setenv("RATE_LIMIT_STRATEGY", "token-bucket")
	t.Setenv("PPROF_ENABLED", "true")
	t.Setenv("PPROF_USER", "")
	t.Setenv("AUDIT_SAMPLING_RATE", "2")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,proxy.internal")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "PAYPAL_BREAKER_FAILURE_RATIO")
	require.Contains(t, err.Error(), "PAYPAL_MAX_ATTEMPTS")
	require.Contains(t, err.Error(), "OBS_LOG_FORMAT")
	require.Contains(t, err.Error(), "RATE_LIMIT_STRATEGY")
	require.Contains(t, err.Error(), "PPROF_USER")
	require.Contains(t, err.Error(), "AUDIT_SAMPLING_RATE")
	require.Contains(t, err.Error(), `TRUSTED_PROXIES entry "proxy.internal"`)
}
