package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type sampleAddress struct {
	CountryCode string `json:"countryCode" validate:"omitempty,len=2,alpha"`
}

type sampleRequest struct {
	Amount     decimal.Decimal `json:"amount" validate:"required,amount"`
	Expiry     string          `json:"expiry" validate:"required,expiry"`
	CardNumber string          `json:"cardNumber" validate:"required,cardnumber"`
	Address    *sampleAddress  `json:"billingAddress"`
}

func TestValidatorAcceptsSupportedShapes(t *testing.T) {
	v := NewValidator()
	for _, expiry := range []string{"2027-05", "05/27", "0527"} {
		req := sampleRequest{
			Amount:     decimal.RequireFromString("0.01"),
			Expiry:     expiry,
			CardNumber: "4111 1111-1111 1111",
		}
		require.NoError(t, v.Struct(req), expiry)
	}
}

func TestValidatorReportsJSONFieldNames(t *testing.T) {
	v := NewValidator()
	err := v.Struct(sampleRequest{
		Amount:     decimal.RequireFromString("0.009"),
		Expiry:     "May 2027",
		CardNumber: "4111-abcd",
		Address:    &sampleAddress{CountryCode: "USA"},
	})
	require.Error(t, err)

	details := ValidationDetails(err)
	require.Equal(t, "amount", details["amount"])
	require.Equal(t, "expiry", details["expiry"])
	require.Equal(t, "cardnumber", details["cardNumber"])
	require.Equal(t, "len=2", details["billingAddress.countryCode"])
}

func TestValidatorRequiresAmount(t *testing.T) {
	v := NewValidator()
	err := v.Struct(sampleRequest{Expiry: "2027-05", CardNumber: "4111111111111111"})
	require.Equal(t, map[string]string{"amount": "required"}, ValidationDetails(err))
}

func TestValidAmountBounds(t *testing.T) {
	for in, want := range map[string]bool{
		"0.01":            true,
		"10.005":          true,
		"9999999999.99":   true,
		"0.009":           false,
		"-5":              false,
		"10000000000":     false,
		"1e13":            false,
		"1e30000000":      false,
		"1e-30000000":     false,
		"0.0000000000001": false,
	} {
		require.Equal(t, want, ValidAmount(decimal.RequireFromString(in)), in)
	}
}

func TestValidatorRejectsHugeExponentQuickly(t *testing.T) {
	v := NewValidator()
	start := time.Now()
	err := v.Struct(sampleRequest{
		Amount:     decimal.RequireFromString("1e2147483000"),
		Expiry:     "2027-05",
		CardNumber: "4111111111111111",
	})
	require.Equal(t, map[string]string{"amount": "amount"}, ValidationDetails(err))
	require.Less(t, time.Since(start), time.Second)
}

func TestValidationDetailsIgnoresOtherErrors(t *testing.T) {
	require.Nil(t, ValidationDetails(errors.New("boom")))
}

func TestWriteErrorUsesAppErrorShape(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, NewAppError("PAYMENT_DECLINED", "payment declined: DECLINED", http.StatusPaymentRequired, nil))
	require.Equal(t, http.StatusPaymentRequired, rr.Code)

	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "PAYMENT_DECLINED", body.Error.Code)
	require.Equal(t, "payment declined: DECLINED", body.Error.Message)

	rr = httptest.NewRecorder()
	WriteError(rr, errors.New("raw"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "raw")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	require.Equal(t, "198.51.100.7", ClientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.1")
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	require.Equal(t, "198.51.100.7", ClientIP(req), "forwarding headers are ignored")

	req.RemoteAddr = "2001:db8::1"
	require.Equal(t, "2001:db8::1", ClientIP(req))
}
