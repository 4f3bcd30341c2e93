package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cardpay-gateway/internal/audit"
	"github.com/noah-isme/cardpay-gateway/internal/config"
	"github.com/noah-isme/cardpay-gateway/internal/credential"
	"github.com/noah-isme/cardpay-gateway/internal/health"
	"github.com/noah-isme/cardpay-gateway/internal/obs"
	"github.com/noah-isme/cardpay-gateway/internal/payment"
	"github.com/noah-isme/cardpay-gateway/internal/ratelimit"
	"github.com/noah-isme/cardpay-gateway/internal/security"
)

func newPayPalStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if id, secret, ok := r.BasicAuth(); !ok || id != "merchant" || secret != "top-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"Client Authentication failed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ORDER-9","status":"APPROVED"}`))
	})
	mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"` + r.PathValue("id") + `","status":"COMPLETED"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testRouter struct {
	http.Handler
	store *credential.Store
	audit *memoryAudit
}

type memoryAudit struct {
	entries []audit.Entry
}

func (m *memoryAudit) Insert(_ context.Context, e audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func newTestRouter(t *testing.T, rl config.RateLimitConfig) testRouter {
	t.Helper()
	stub := newPayPalStub(t)
	store := credential.NewStore()
	svc := &payment.Service{
		Store: store,
		Processor: payment.NewPayPal(payment.PayPalConfig{
			SandboxBaseURL:      stub.URL,
			LiveBaseURL:         stub.URL,
			Timeout:             2 * time.Second,
			MaxAttempts:         1,
			BreakerMinRequests:  5,
			BreakerFailureRatio: 0.5,
			BreakerOpenFor:      time.Minute,
		}),
	}
	reg := prometheus.NewRegistry()
	trail := &memoryAudit{}
	h := newRouter(routerDeps{
		Logger:      zerolog.Nop(),
		Payments:    payment.NewHandler(svc),
		Limiter:     ratelimit.NewMemoryFixedWindow("test"),
		RateLimit:   rl,
		BodyLimit:   4 << 10,
		Headers:     security.Headers{Enable: true},
		HTTPMetrics: obs.NewHTTPMetrics("cardpay_test", nil, reg),
		Gatherer:    reg,
		Health:      health.Handler{},
		Audit:       &audit.Service{Store: trail, Enabled: true},
	})
	return testRouter{Handler: h, store: store, audit: trail}
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:5000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterValidateThenPay(t *testing.T) {
	rt := newTestRouter(t, config.RateLimitConfig{Window: time.Minute, CredentialsMax: 5, PaymentsMax: 5})

	rr := post(rt, "/api/credentials/validate", `{"clientId":"merchant","clientSecret":"top-secret","environment":"sandbox"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotContains(t, rr.Body.String(), "top-secret")
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	var validated struct {
		Valid           bool   `json:"valid"`
		CredentialToken string `json:"credentialToken"`
		Environment     string `json:"environment"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &validated))
	require.True(t, validated.Valid)
	require.Equal(t, "sandbox", validated.Environment)
	require.Equal(t, 1, rt.store.Len())

	rr = post(rt, "/api/payment/process", `{"credentialToken":"`+validated.CredentialToken+`","amount":"19.99","cardNumber":"4111 1111 1111 1111","expiry":"05/30","securityCode":"123"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var paid struct {
		Status  string `json:"status"`
		OrderID string `json:"orderId"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &paid))
	require.Equal(t, "COMPLETED", paid.Status)
	require.Equal(t, "ORDER-9", paid.OrderID)

	require.Len(t, rt.audit.entries, 2)
	require.Equal(t, "credentials.validate", rt.audit.entries[0].Action)
	require.Equal(t, "payment.process", rt.audit.entries[1].Action)
	require.Equal(t, map[string]any{"outcome": "ok"}, rt.audit.entries[1].Metadata)
	require.NotEmpty(t, rt.audit.entries[1].RequestID)
}

func TestRouterRejectsBadCredentials(t *testing.T) {
	rt := newTestRouter(t, config.RateLimitConfig{Window: time.Minute, CredentialsMax: 5, PaymentsMax: 5})

	rr := post(rt, "/api/credentials/validate", `{"clientId":"merchant","clientSecret":"wrong"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_CREDENTIALS")
	require.Zero(t, rt.store.Len())
}

func TestRouterUnknownTokenIsRejected(t *testing.T) {
	rt := newTestRouter(t, config.RateLimitConfig{Window: time.Minute, CredentialsMax: 5, PaymentsMax: 5})

	rr := post(rt, "/api/payment/process", `{"credentialToken":"missing","amount":1,"cardNumber":"4111111111111111","expiry":"05/30","securityCode":"123"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_CREDENTIAL_TOKEN")
}

func TestRouterRateLimitsPerEndpoint(t *testing.T) {
	rt := newTestRouter(t, config.RateLimitConfig{Window: time.Minute, CredentialsMax: 1, PaymentsMax: 5})

	require.Equal(t, http.StatusBadRequest, post(rt, "/api/credentials/validate", `{}`).Code)
	rr := post(rt, "/api/credentials/validate", `{}`)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Contains(t, rr.Body.String(), "RATE_LIMITED")

	rr = post(rt, "/api/payment/process", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code, "payments keep their own budget")

	require.Len(t, rt.audit.entries, 3)
	require.Equal(t, map[string]any{"outcome": "rate_limited"}, rt.audit.entries[1].Metadata)
}

func TestRouterRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	rt := newTestRouter(t, config.RateLimitConfig{Window: time.Minute, CredentialsMax: 1, PaymentsMax: 1})

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/credentials/validate", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwarded)
		req.Header.Set("X-Real-IP", forwarded)
		req.RemoteAddr = "198.51.100.7:5000"
		rr := httptest.NewRecorder()
		rt.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusBadRequest, send("203.0.113.1"))
	require.Equal(t, http.StatusTooManyRequests, send("203.0.113.2"))
	require.Equal(t, http.StatusTooManyRequests, send("203.0.113.3"))
	require.Equal(t, "198.51.100.7", rt.audit.entries[2].IP)
}

func TestRouterBodyLimit(t *testing.T) {
	rt := newTestRouter(t, config.RateLimitConfig{Window: time.Minute, CredentialsMax: 5, PaymentsMax: 5})

	body := `{"clientId":"` + strings.Repeat("a", 8<<10) + `","clientSecret":"x"}`
	rr := post(rt, "/api/credentials/validate", body)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	rt := newTestRouter(t, config.RateLimitConfig{Window: time.Minute})

	rr := httptest.NewRecorder()
	rt.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())

	rr = httptest.NewRecorder()
	rt.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "cardpay_test_http_requests_total")
	require.Contains(t, rr.Body.String(), `route="/health/live"`)
}

func TestRouterPprofRequiresBasicAuth(t *testing.T) {
	h := newRouter(routerDeps{
		Logger:       zerolog.Nop(),
		Payments:     payment.NewHandler(&payment.Service{}),
		PprofEnabled: true,
		PprofUser:    "ops",
		PprofPass:    "pw",
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.SetBasicAuth("ops", "pw")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}
