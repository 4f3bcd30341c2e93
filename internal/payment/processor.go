package payment

import (
	"context"
	"encoding/json"

	"github.com/noah-isme/cardpay-gateway/internal/credential"
)

// Order status values the orchestrator acts on. Other statuses pass through.
const (
	StatusCreated   = "CREATED"
	StatusApproved  = "APPROVED"
	StatusCompleted = "COMPLETED"
	StatusDeclined  = "DECLINED"
	StatusFailed    = "FAILED"
)

// Order is the processor's representation of one payment transaction.
type Order struct {
	ID     string
	Status string
	// Raw holds the full JSON representation returned by the processor.
	Raw json.RawMessage
}

// Processor abstracts the calls made against the upstream payment processor.
// Every call authenticates with the supplied credential and blocks until the
// processor answers or ctx ends.
type Processor interface {
	Verify(ctx context.Context, cred credential.Credential) error
	CreateOrder(ctx context.Context, cred credential.Credential, payload OrderPayload) (Order, error)
	CaptureOrder(ctx context.Context, cred credential.Credential, orderID string) (Order, error)
}

// CredentialStore is the subset of the credential store used by the orchestrator.
type CredentialStore interface {
	Save(cred credential.Credential) string
	Find(token string) (credential.Credential, bool)
}
