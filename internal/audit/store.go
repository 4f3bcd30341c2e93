package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// LogStore writes audit entries as structured log lines on a dedicated
// logger, which keeps the trail shippable without a database.
type LogStore struct {
	Logger zerolog.Logger
}

func (s LogStore) Insert(_ context.Context, e Entry) error {
	evt := s.Logger.Info().
		Str("audit_id", e.ID).
		Time("at", e.At).
		Str("action", e.Action).
		Str("resource_type", e.ResourceType).
		Str("method", e.Method).
		Str("path", e.Path).
		Str("route", e.Route).
		Int("status", e.Status).
		Str("ip", e.IP).
		Str("user_agent", e.UserAgent).
		Str("request_id", e.RequestID)
	if len(e.Metadata) > 0 {
		evt = evt.Interface("metadata", e.Metadata)
	}
	evt.Msg("audit")
	return nil
}
