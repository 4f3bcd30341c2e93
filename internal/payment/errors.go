package payment

import (
	"errors"
	"fmt"
)

// Kind classifies orchestration failures so the transport boundary can map
// them without inspecting messages.
type Kind int

const (
	// KindUnclassified covers unexpected failures during orchestration.
	KindUnclassified Kind = iota
	// KindInvalidCredentialToken means the token is missing, unknown or expired.
	KindInvalidCredentialToken
	// KindInvalidCredentials means the processor rejected the credential.
	KindInvalidCredentials
	// KindPaymentDeclined means the order ended in DECLINED or FAILED.
	KindPaymentDeclined
	// KindTransportFailure means the processor could not be reached or errored.
	KindTransportFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentialToken:
		return "invalid_credential_token"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindPaymentDeclined:
		return "payment_declined"
	case KindTransportFailure:
		return "transport_failure"
	default:
		return "unclassified_failure"
	}
}

// Error is the single error type surfaced by the orchestrator.
type Error struct {
	Kind    Kind
	Message string
	// Status and Detail are set for declines.
	Status string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf reports the Kind carried by err, or KindUnclassified when err is not
// an orchestration error.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnclassified
}

func errInvalidCredentialToken() *Error {
	return &Error{Kind: KindInvalidCredentialToken, Message: "invalid or expired credential token"}
}

func errInvalidCredentials(cause error) *Error {
	return &Error{Kind: KindInvalidCredentials, Message: "invalid PayPal credentials", Err: cause}
}

func errCredentialValidation(cause error) *Error {
	return &Error{Kind: KindTransportFailure, Message: "credential validation failed: " + causeMessage(cause), Err: cause}
}

func errPaymentDeclined(status, detail string) *Error {
	msg := "payment declined: " + status
	if detail != "" {
		msg += " - " + detail
	}
	return &Error{Kind: KindPaymentDeclined, Message: msg, Status: status, Detail: detail}
}

func errPaymentFailed(cause error) *Error {
	return &Error{Kind: KindTransportFailure, Message: "payment failed: " + causeMessage(cause), Err: cause}
}

func errPaymentProcessing(cause error) *Error {
	return &Error{Kind: KindUnclassified, Message: "payment processing error: " + causeMessage(cause), Err: cause}
}

func causeMessage(err error) string {
	if err == nil || err.Error() == "" {
		return "unknown error"
	}
	return err.Error()
}

// ProcessorError is a non-success HTTP answer from the processor API.
type ProcessorError struct {
	StatusCode int
	Name       string
	Message    string
	DebugID    string
	Issues     []string
}

func (e *ProcessorError) Error() string {
	msg := fmt.Sprintf("paypal: %d", e.StatusCode)
	if e.Name != "" {
		msg += " " + e.Name
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if len(e.Issues) > 0 {
		msg += fmt.Sprintf(" %v", e.Issues)
	}
	if e.DebugID != "" {
		msg += " (debug_id " + e.DebugID + ")"
	}
	return msg
}

// TransportError wraps network-level failures talking to the processor.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("paypal %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
