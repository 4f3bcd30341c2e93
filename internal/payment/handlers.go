package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cardpay-gateway/internal/common"
	"github.com/noah-isme/cardpay-gateway/internal/credential"
)

// Handler exposes credential validation and direct card payment endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// NewHandler wires a handler with the shared request validator.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc, Validate: common.NewValidator()}
}

type validateCredentialsReq struct {
	ClientID     string `json:"clientId" validate:"required,max=256"`
	ClientSecret string `json:"clientSecret" validate:"required,max=256"`
	Environment  string `json:"environment,omitempty" validate:"omitempty,max=16"`
}

type validateCredentialsResp struct {
	Valid           bool            `json:"valid"`
	CredentialToken string          `json:"credentialToken"`
	Environment     credential.Mode `json:"environment"`
	Message         string          `json:"message"`
}

type processPaymentResp struct {
	Status      string          `json:"status"`
	OrderID     string          `json:"orderId"`
	RawResponse json.RawMessage `json:"rawResponse,omitempty"`
}

// ValidateCredentials verifies raw processor credentials and returns a token
// that later payment requests reference instead of the secret.
func (h *Handler) ValidateCredentials(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req validateCredentialsReq
	if !h.decode(w, r, &req) {
		return
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ClientSecret = strings.TrimSpace(req.ClientSecret)
	if !h.validate(w, req) {
		return
	}

	stored, err := h.Svc.ValidateAndStoreCredential(r.Context(), req.ClientID, req.ClientSecret, req.Environment)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, validateCredentialsResp{
		Valid:           true,
		CredentialToken: stored.Token,
		Environment:     stored.Mode,
		Message:         "Credential validated",
	})
}

// ProcessPayment charges a card using a previously validated credential token.
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req CardPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.CredentialToken = strings.TrimSpace(req.CredentialToken)
	req.CurrencyCode = strings.TrimSpace(req.CurrencyCode)
	if req.CurrencyCode == "" {
		req.CurrencyCode = DefaultCurrency
	}
	if !h.validate(w, req) {
		return
	}

	order, err := h.Svc.ProcessDirectCardPayment(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, processPaymentResp{
		Status:      order.Status,
		OrderID:     order.ID,
		RawResponse: order.Raw,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return false
		}
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return false
	}
	return true
}

func (h *Handler) validate(w http.ResponseWriter, req any) bool {
	v := h.Validate
	if v == nil {
		v = common.NewValidator()
	}
	if err := v.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "request validation failed", common.ValidationDetails(err))
		return false
	}
	return true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	evt := zerolog.Ctx(r.Context()).Warn()
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		evt = zerolog.Ctx(r.Context()).Error()
	}
	evt.Err(err).Str("code", appErr.Code).Msg("payment_request_failed")
	common.WriteError(w, appErr)
}

// toAppError maps orchestration failures onto HTTP statuses and codes.
func toAppError(err error) *common.AppError {
	var perr *Error
	if !errors.As(err, &perr) {
		return common.NewAppError("INTERNAL", "internal server error", http.StatusInternalServerError, err)
	}
	switch perr.Kind {
	case KindInvalidCredentialToken:
		return common.NewAppError("INVALID_CREDENTIAL_TOKEN", perr.Message, http.StatusBadRequest, err)
	case KindInvalidCredentials:
		return common.NewAppError("INVALID_CREDENTIALS", perr.Message, http.StatusBadRequest, err)
	case KindPaymentDeclined:
		details := map[string]string{"status": perr.Status}
		if perr.Detail != "" {
			details["detail"] = perr.Detail
		}
		return common.NewAppError("PAYMENT_DECLINED", perr.Message, http.StatusPaymentRequired, err).WithDetails(details)
	case KindTransportFailure:
		return common.NewAppError("PAYMENT_FAILED", perr.Message, http.StatusBadGateway, err)
	default:
		return common.NewAppError("PAYMENT_ERROR", perr.Message, http.StatusBadGateway, err)
	}
}
