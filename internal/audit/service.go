package audit

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/noah-isme/cardpay-gateway/internal/common"
	"github.com/noah-isme/cardpay-gateway/internal/obs"
)

// Entry is one audited API call. It never carries request bodies, so
// credentials and card data stay out of the trail.
type Entry struct {
	ID           string         `json:"id"`
	At           time.Time      `json:"at"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	Method       string         `json:"method"`
	Path         string         `json:"path"`
	Route        string         `json:"route,omitempty"`
	Status       int            `json:"status"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, entry Entry) error
}

// Service records audit entries for credential and payment calls.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
	Now          func() time.Time
}

// Record stores an audit entry when auditing is enabled and the call is
// sampled in.
func (s Service) Record(ctx context.Context, action, resourceType string, req *http.Request, status int, metadata map[string]any) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 {
		if rand.Float64() > s.SamplingRate {
			return nil
		}
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}
	action = strings.TrimSpace(action)
	resourceType = strings.TrimSpace(resourceType)
	if action == "" || resourceType == "" {
		return errors.New("audit: action and resource type are required")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	requestID := middleware.GetReqID(req.Context())
	if requestID == "" {
		requestID = strings.TrimSpace(req.Header.Get(middleware.RequestIDHeader))
	}
	if status == 0 {
		status = http.StatusOK
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	return s.Store.Insert(ctx, Entry{
		ID:           uuid.NewString(),
		At:           now().UTC(),
		Action:       action,
		ResourceType: resourceType,
		Method:       req.Method,
		Path:         req.URL.Path,
		Route:        route,
		Status:       status,
		IP:           common.ClientIP(req),
		UserAgent:    strings.TrimSpace(req.Header.Get("User-Agent")),
		RequestID:    requestID,
		Metadata:     withQuery(metadata, req.URL.RawQuery),
	})
}

func withQuery(metadata map[string]any, query string) map[string]any {
	if strings.TrimSpace(query) == "" {
		return metadata
	}
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["query"] = query
	return out
}
