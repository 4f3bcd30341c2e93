package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/noah-isme/cardpay-gateway/internal/credential"
	"github.com/noah-isme/cardpay-gateway/internal/obs"
	"github.com/noah-isme/cardpay-gateway/internal/resilience"
)

const (
	DefaultSandboxBaseURL = "https://api-m.sandbox.paypal.com"
	DefaultLiveBaseURL    = "https://api-m.paypal.com"

	maxResponseBytes = 1 << 20
)

// PayPalConfig configures the PayPal REST client.
type PayPalConfig struct {
	SandboxBaseURL string
	LiveBaseURL    string
	Timeout        time.Duration
	// MaxAttempts above one enables retries of 5xx answers; each attempt
	// reuses the same PayPal-Request-Id so the processor deduplicates them.
	MaxAttempts         int
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
	// Transport overrides the base round tripper, mainly for tests.
	Transport http.RoundTripper
	Logger    zerolog.Logger
}

type paypalEndpoint struct {
	baseURL string
	breaker *resilience.Breaker
}

// PayPal implements Processor against the PayPal Orders v2 API. Access
// tokens are obtained with the client-credentials grant and cached per
// credential until they expire.
type PayPal struct {
	endpoints   map[credential.Mode]paypalEndpoint
	client      *http.Client
	tokenClient *http.Client
	timeout     time.Duration
	maxAttempts int
	tokens      *tokenCache
	logger      zerolog.Logger
}

// NewPayPal builds a client with one circuit breaker per environment.
func NewPayPal(cfg PayPalConfig) *PayPal {
	if cfg.SandboxBaseURL == "" {
		cfg.SandboxBaseURL = DefaultSandboxBaseURL
	}
	if cfg.LiveBaseURL == "" {
		cfg.LiveBaseURL = DefaultLiveBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	transport := otelhttp.NewTransport(base)

	newBreaker := func(target string) *resilience.Breaker {
		return resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
			WithTarget(target).
			WithLogger(cfg.Logger)
	}
	return &PayPal{
		endpoints: map[credential.Mode]paypalEndpoint{
			credential.ModeSandbox: {baseURL: strings.TrimRight(cfg.SandboxBaseURL, "/"), breaker: newBreaker("paypal_sandbox")},
			credential.ModeLive:    {baseURL: strings.TrimRight(cfg.LiveBaseURL, "/"), breaker: newBreaker("paypal_live")},
		},
		client:      &http.Client{Transport: transport},
		tokenClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		tokens:      newTokenCache(),
		logger:      cfg.Logger,
	}
}

// Verify submits the minimal probe order with the credential. The error, if
// any, is returned unclassified.
func (p *PayPal) Verify(ctx context.Context, cred credential.Credential) error {
	_, err := p.postOrder(ctx, cred, "verify", "/v2/checkout/orders", ProbeOrderPayload())
	return err
}

func (p *PayPal) CreateOrder(ctx context.Context, cred credential.Credential, payload OrderPayload) (Order, error) {
	return p.postOrder(ctx, cred, "create_order", "/v2/checkout/orders", payload)
}

func (p *PayPal) CaptureOrder(ctx context.Context, cred credential.Credential, orderID string) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, errors.New("paypal capture: order id is empty")
	}
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	return p.postOrder(ctx, cred, "capture_order", path, struct{}{})
}

// BreakerState reports the breaker state for the given environment.
func (p *PayPal) BreakerState(mode credential.Mode) resilience.State {
	return p.endpoint(mode).breaker.State()
}

func (p *PayPal) endpoint(mode credential.Mode) paypalEndpoint {
	if ep, ok := p.endpoints[mode]; ok {
		return ep
	}
	return p.endpoints[credential.ModeSandbox]
}

func (p *PayPal) postOrder(ctx context.Context, cred credential.Credential, op, path string, body any) (order Order, err error) {
	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		if obs.ProcessorCallDuration != nil {
			obs.ProcessorCallDuration.WithLabelValues(op, result).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	ep := p.endpoint(cred.Mode())
	tok, err := p.token(ctx, cred, ep)
	if err != nil {
		return Order{}, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Order{}, fmt.Errorf("encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Order{}, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	req.Header.Set("PayPal-Request-Id", uuid.NewString())
	tok.SetAuthHeader(req)

	hc := resilience.HTTPClient{
		Client:      p.client,
		Breaker:     ep.breaker,
		MaxAttempts: p.maxAttempts,
		Timeout:     p.timeout,
		Jitter:      0.2,
	}
	resp, err := hc.Do(ctx, req)
	if err != nil {
		return Order{}, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Order{}, &TransportError{Op: op, Err: err}
	}

	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &p.logger
	}
	logger.Debug().
		Str("op", op).
		Int("status_code", resp.StatusCode).
		Str("paypal_debug_id", resp.Header.Get("Paypal-Debug-Id")).
		Msg("paypal_call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			p.tokens.forget(tokenKey(cred))
		}
		perr := decodeProcessorError(resp.StatusCode, data)
		if perr.DebugID == "" {
			perr.DebugID = resp.Header.Get("Paypal-Debug-Id")
		}
		return Order{}, perr
	}

	var head struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Order{}, fmt.Errorf("decode %s response: %w", op, err)
	}
	return Order{ID: head.ID, Status: head.Status, Raw: json.RawMessage(data)}, nil
}

func (p *PayPal) token(ctx context.Context, cred credential.Credential, ep paypalEndpoint) (*oauth2.Token, error) {
	key := tokenKey(cred)
	if tok := p.tokens.get(key); tok != nil {
		return tok, nil
	}
	cc := clientcredentials.Config{
		ClientID:     cred.ClientID(),
		ClientSecret: cred.ClientSecret(),
		TokenURL:     ep.baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, p.tokenClient))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			perr := &ProcessorError{Name: re.ErrorCode, Message: re.ErrorDescription}
			if re.Response != nil {
				perr.StatusCode = re.Response.StatusCode
			}
			if perr.Name == "" && perr.Message == "" {
				perr.Message = "access token request rejected"
			}
			return nil, perr
		}
		return nil, &TransportError{Op: "token", Err: err}
	}
	p.tokens.put(key, tok)
	return tok, nil
}

func decodeProcessorError(status int, data []byte) *ProcessorError {
	var body struct {
		Name             string `json:"name"`
		Message          string `json:"message"`
		DebugID          string `json:"debug_id"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Details          []struct {
			Issue string `json:"issue"`
		} `json:"details"`
	}
	_ = json.Unmarshal(data, &body)

	perr := &ProcessorError{
		StatusCode: status,
		Name:       body.Name,
		Message:    body.Message,
		DebugID:    body.DebugID,
	}
	if perr.Name == "" {
		perr.Name = body.Error
	}
	if perr.Message == "" {
		perr.Message = body.ErrorDescription
	}
	for _, d := range body.Details {
		if d.Issue != "" {
			perr.Issues = append(perr.Issues, d.Issue)
		}
	}
	if perr.Name == "" && perr.Message == "" {
		perr.Message = http.StatusText(status)
	}
	return perr
}

// tokenKey identifies a credential without keeping its secret in memory.
func tokenKey(cred credential.Credential) string {
	sum := sha256.Sum256([]byte(cred.ClientSecret()))
	return string(cred.Mode()) + ":" + cred.ClientID() + ":" + hex.EncodeToString(sum[:8])
}

type tokenCache struct {
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

func newTokenCache() *tokenCache {
	return &tokenCache{tokens: make(map[string]*oauth2.Token)}
}

func (c *tokenCache) get(key string) *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[key]
	if !ok {
		return nil
	}
	if !tok.Valid() {
		delete(c.tokens, key)
		return nil
	}
	return tok
}

func (c *tokenCache) put(key string, tok *oauth2.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, t := range c.tokens {
		if !t.Valid() {
			delete(c.tokens, k)
		}
	}
	c.tokens[key] = tok
}

func (c *tokenCache) forget(key string) {
	c.mu.Lock()
	delete(c.tokens, key)
	c.mu.Unlock()
}
