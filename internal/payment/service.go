package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/cardpay-gateway/internal/credential"
	"github.com/noah-isme/cardpay-gateway/internal/obs"
)

var authIndicators = []string{"401", "unauthorized", "authentication", "invalid_client"}

const maxRawDetail = 512

// Service verifies processor credentials and drives the create/capture flow
// for direct card payments.
type Service struct {
	Store     CredentialStore
	Processor Processor
	// StrictVerification rejects a credential when the verification probe
	// fails for any reason, not only on an authentication signal.
	StrictVerification bool
}

// StoredCredential is the outcome of a successful credential validation.
type StoredCredential struct {
	Token string
	Mode  credential.Mode
}

// VerifyCredential checks the credential against the processor. An
// authentication failure yields KindInvalidCredentials. Other failures are
// logged and tolerated unless StrictVerification is set.
func (s *Service) VerifyCredential(ctx context.Context, cred credential.Credential) error {
	if s == nil || s.Processor == nil {
		return errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.VerifyCredential")
	defer span.End()
	span.SetAttributes(attribute.String("payment.mode", string(cred.Mode())))

	err := s.Processor.Verify(ctx, cred)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	if isAuthFailure(err) {
		span.SetStatus(codes.Error, "invalid credentials")
		return errInvalidCredentials(err)
	}
	if s.StrictVerification {
		span.SetStatus(codes.Error, "verification failed")
		return errCredentialValidation(err)
	}
	zerolog.Ctx(ctx).Warn().
		Err(err).
		Object("credential", cred).
		Msg("credential_probe_non_auth_failure")
	span.SetAttributes(attribute.Bool("payment.verification.tolerated", true))
	return nil
}

// ValidateAndStoreCredential builds a credential from raw input, verifies it
// and stores it. Nothing is stored when verification fails.
func (s *Service) ValidateAndStoreCredential(ctx context.Context, clientID, clientSecret, environment string) (StoredCredential, error) {
	if s == nil || s.Store == nil {
		return StoredCredential{}, errors.New("payment service not configured")
	}
	cred := credential.New(clientID, clientSecret, credential.ParseMode(environment))
	modeLabel := strings.ToLower(string(cred.Mode()))

	if err := s.VerifyCredential(ctx, cred); err != nil {
		recordCredentialValidation(modeLabel, KindOf(err).String())
		return StoredCredential{}, err
	}
	token := s.Store.Save(cred)
	recordCredentialValidation(modeLabel, "success")
	zerolog.Ctx(ctx).Info().Object("credential", cred).Msg("credential_stored")
	return StoredCredential{Token: token, Mode: cred.Mode()}, nil
}

// ProcessDirectCardPayment resolves the credential token, creates the order,
// captures it when the processor left it CREATED or APPROVED and classifies
// the final status. COMPLETED and any status other than DECLINED or FAILED
// are returned without error.
func (s *Service) ProcessDirectCardPayment(ctx context.Context, req CardPaymentRequest) (Order, error) {
	if s == nil || s.Store == nil || s.Processor == nil {
		return Order{}, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.ProcessDirectCardPayment")
	defer span.End()

	start := time.Now()
	modeLabel := "unknown"
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.mode", modeLabel),
			attribute.String("payment.result", result),
			attribute.Float64("payment.duration_ms", obs.DurationMillis(time.Since(start))),
		)
		if obs.PaymentProcessTotal != nil {
			obs.PaymentProcessTotal.WithLabelValues(modeLabel, result).Inc()
		}
	}()

	cred, ok := s.Store.Find(req.CredentialToken)
	if !ok {
		err := errInvalidCredentialToken()
		result = err.Kind.String()
		span.SetStatus(codes.Error, err.Message)
		return Order{}, err
	}
	modeLabel = strings.ToLower(string(cred.Mode()))
	logger := zerolog.Ctx(ctx).With().Str("mode", string(cred.Mode())).Logger()

	order, err := s.runOrderFlow(ctx, cred, req)
	if err != nil {
		err = classifyFailure(err)
		result = KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		logger.Warn().Err(err).Str("kind", result).Msg("payment_failed")
		return Order{}, err
	}

	span.SetAttributes(
		attribute.String("payment.order_id", order.ID),
		attribute.String("payment.order_status", order.Status),
	)
	if strings.EqualFold(order.Status, StatusCompleted) {
		result = "completed"
	} else {
		result = "pass_through"
	}
	logger.Info().
		Str("order_id", order.ID).
		Str("status", order.Status).
		Msg("payment_processed")
	return order, nil
}

func (s *Service) runOrderFlow(ctx context.Context, cred credential.Credential, req CardPaymentRequest) (Order, error) {
	order, err := s.Processor.CreateOrder(ctx, cred, BuildOrderPayload(req))
	if err != nil {
		return Order{}, err
	}
	if needsCapture(order.Status) {
		captured, err := s.Processor.CaptureOrder(ctx, cred, order.ID)
		if err != nil {
			return Order{}, err
		}
		if captured.ID == "" {
			captured.ID = order.ID
		}
		order = captured
	}

	switch strings.ToUpper(order.Status) {
	case StatusDeclined, StatusFailed:
		return Order{}, errPaymentDeclined(order.Status, declineDetail(order.Raw))
	default:
		return order, nil
	}
}

func needsCapture(status string) bool {
	return strings.EqualFold(status, StatusCreated) || strings.EqualFold(status, StatusApproved)
}

// classifyFailure re-raises orchestration errors unchanged and wraps the
// rest as transport or unclassified failures.
func classifyFailure(err error) error {
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	var terr *TransportError
	var procErr *ProcessorError
	switch {
	case errors.As(err, &terr), errors.As(err, &procErr),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errPaymentFailed(err)
	default:
		return errPaymentProcessing(err)
	}
}

func isAuthFailure(err error) bool {
	var procErr *ProcessorError
	if errors.As(err, &procErr) && procErr.StatusCode == 401 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range authIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

type orderDocument struct {
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
	PurchaseUnits []struct {
		Payments struct {
			Captures       []paymentDocument `json:"captures"`
			Authorizations []paymentDocument `json:"authorizations"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type paymentDocument struct {
	Status        string `json:"status"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
	ProcessorResponse struct {
		ResponseCode string `json:"response_code"`
	} `json:"processor_response"`
}

// declineDetail extracts a human readable reason from a declined order. It
// never fails: unparseable input yields an empty string.
func declineDetail(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var doc orderDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}

	var parts []string
	for _, d := range doc.Details {
		switch {
		case d.Issue != "" && d.Description != "":
			parts = append(parts, d.Issue+": "+d.Description)
		case d.Issue != "":
			parts = append(parts, d.Issue)
		case d.Description != "":
			parts = append(parts, d.Description)
		}
	}
	for _, pu := range doc.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			parts = appendPaymentDetail(parts, "capture", c)
		}
		for _, a := range pu.Payments.Authorizations {
			parts = appendPaymentDetail(parts, "authorization", a)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "; ")
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return ""
	}
	detail := buf.String()
	if len(detail) > maxRawDetail {
		cut := maxRawDetail
		for cut > 0 && !utf8.RuneStart(detail[cut]) {
			cut--
		}
		detail = detail[:cut] + "..."
	}
	return detail
}

func appendPaymentDetail(parts []string, kind string, p paymentDocument) []string {
	var attrs []string
	if p.StatusDetails.Reason != "" {
		attrs = append(attrs, "reason "+p.StatusDetails.Reason)
	}
	if p.ProcessorResponse.ResponseCode != "" {
		attrs = append(attrs, "response code "+p.ProcessorResponse.ResponseCode)
	}
	if p.Status == "" && len(attrs) == 0 {
		return parts
	}
	entry := strings.TrimSpace(kind + " " + p.Status)
	if len(attrs) > 0 {
		entry += fmt.Sprintf(" (%s)", strings.Join(attrs, ", "))
	}
	return append(parts, entry)
}

func recordCredentialValidation(mode, result string) {
	if obs.CredentialValidationTotal != nil {
		obs.CredentialValidationTotal.WithLabelValues(mode, result).Inc()
	}
}
