package payment

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

const (
	IntentCapture                = "CAPTURE"
	ProcessingCompleteOnApproval = "ORDER_COMPLETE_ON_PAYMENT_APPROVAL"
	DefaultCurrency              = "USD"
	DefaultCardholderName        = "Cardholder"

	purchaseDescription = "Direct card payment"
	brandName           = "Payment Service"
	landingPage         = "NO_PREFERENCE"
	userAction          = "PAY_NOW"
	returnURL           = "https://example.com/return"
	cancelURL           = "https://example.com/cancel"
)

// CardPaymentRequest is the normalised input for one direct card payment.
type CardPaymentRequest struct {
	CredentialToken string          `json:"credentialToken" validate:"max=64"`
	Amount          decimal.Decimal `json:"amount" validate:"required,amount"`
	CurrencyCode    string          `json:"currencyCode" validate:"omitempty,len=3,alpha"`
	CardNumber      string          `json:"cardNumber" validate:"required,cardnumber"`
	Expiry          string          `json:"expiry" validate:"required,expiry"`
	SecurityCode    string          `json:"securityCode" validate:"required,number,min=3,max=4"`
	CardholderName  string          `json:"cardholderName,omitempty" validate:"omitempty,max=300"`
	BillingAddress  *BillingAddress `json:"billingAddress,omitempty"`
}

// BillingAddress is the optional cardholder address. Every field may be blank.
type BillingAddress struct {
	AddressLine1 string `json:"addressLine1,omitempty" validate:"omitempty,max=300"`
	AddressLine2 string `json:"addressLine2,omitempty" validate:"omitempty,max=300"`
	AdminArea1   string `json:"adminArea1,omitempty" validate:"omitempty,max=300"`
	AdminArea2   string `json:"adminArea2,omitempty" validate:"omitempty,max=120"`
	PostalCode   string `json:"postalCode,omitempty" validate:"omitempty,max=60"`
	CountryCode  string `json:"countryCode,omitempty" validate:"omitempty,len=2,alpha"`
}

// OrderPayload is the order-create body in the processor's wire shape.
type OrderPayload struct {
	Intent                string              `json:"intent"`
	PurchaseUnits         []PurchaseUnit      `json:"purchase_units"`
	PaymentSource         *PaymentSource      `json:"payment_source,omitempty"`
	ProcessingInstruction string              `json:"processing_instruction,omitempty"`
	ApplicationContext    *ApplicationContext `json:"application_context,omitempty"`
}

type PurchaseUnit struct {
	Amount      Amount `json:"amount"`
	Description string `json:"description,omitempty"`
}

type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type PaymentSource struct {
	Card *CardSource `json:"card,omitempty"`
}

type CardSource struct {
	Number         string  `json:"number"`
	Expiry         string  `json:"expiry"`
	SecurityCode   string  `json:"security_code"`
	Name           string  `json:"name"`
	BillingAddress Address `json:"billing_address"`
}

// Address is a sparse billing address; blank fields are omitted on the wire.
type Address struct {
	AddressLine1 string `json:"address_line_1,omitempty"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	AdminArea2   string `json:"admin_area_2,omitempty"`
	AdminArea1   string `json:"admin_area_1,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
}

type ApplicationContext struct {
	BrandName   string `json:"brand_name"`
	LandingPage string `json:"landing_page"`
	UserAction  string `json:"user_action"`
	ReturnURL   string `json:"return_url"`
	CancelURL   string `json:"cancel_url"`
}

// DefaultBillingAddress is sent when the caller supplies no usable address;
// the processor authorises noticeably fewer cards without one.
func DefaultBillingAddress() Address {
	return Address{
		AddressLine1: "123 Main St",
		AdminArea2:   "San Jose",
		AdminArea1:   "CA",
		PostalCode:   "95131",
		CountryCode:  "US",
	}
}

// NormalizeAmount rounds half up to two fraction digits and renders a plain
// decimal string, e.g. 10 -> "10.00", 10.005 -> "10.01".
func NormalizeAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// NormalizeCurrency upper-cases the code without checking it against ISO 4217.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(code)
}

// SanitizeCardNumber strips whitespace and hyphens.
func SanitizeCardNumber(number string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, number)
}

// NormalizeExpiry converts MM/YY and MMYY into YYYY-MM. Two-digit years below
// 50 land in the 2000s, the rest in the 1900s. YYYY-MM and any unrecognised
// shape are returned unchanged.
func NormalizeExpiry(expiry string) string {
	switch {
	case len(expiry) == 7 && expiry[4] == '-' && allDigits(expiry[:4]) && allDigits(expiry[5:]):
		return expiry
	case len(expiry) == 5 && expiry[2] == '/' && allDigits(expiry[:2]) && allDigits(expiry[3:]):
		return fmt.Sprintf("%d-%s", fullYear(expiry[3:]), expiry[:2])
	case len(expiry) == 4 && allDigits(expiry):
		return fmt.Sprintf("%d-%s", fullYear(expiry[2:]), expiry[:2])
	default:
		return expiry
	}
}

// CardholderName substitutes a placeholder for a blank name.
func CardholderName(name string) string {
	if strings.TrimSpace(name) == "" {
		return DefaultCardholderName
	}
	return name
}

// BuildBillingAddress keeps only non-blank fields and falls back to
// DefaultBillingAddress when nothing usable was supplied.
func BuildBillingAddress(in *BillingAddress) Address {
	var out Address
	if in != nil {
		out = Address{
			AddressLine1: nonBlank(in.AddressLine1),
			AddressLine2: nonBlank(in.AddressLine2),
			AdminArea1:   nonBlank(in.AdminArea1),
			AdminArea2:   nonBlank(in.AdminArea2),
			PostalCode:   nonBlank(in.PostalCode),
			CountryCode:  strings.ToUpper(nonBlank(in.CountryCode)),
		}
	}
	if out == (Address{}) {
		return DefaultBillingAddress()
	}
	return out
}

// BuildOrderPayload assembles the capture-intent order for a direct card payment.
func BuildOrderPayload(req CardPaymentRequest) OrderPayload {
	return OrderPayload{
		Intent: IntentCapture,
		PurchaseUnits: []PurchaseUnit{{
			Amount: Amount{
				CurrencyCode: NormalizeCurrency(req.CurrencyCode),
				Value:        NormalizeAmount(req.Amount),
			},
			Description: purchaseDescription,
		}},
		PaymentSource: &PaymentSource{Card: &CardSource{
			Number:         SanitizeCardNumber(req.CardNumber),
			Expiry:         NormalizeExpiry(req.Expiry),
			SecurityCode:   req.SecurityCode,
			Name:           CardholderName(req.CardholderName),
			BillingAddress: BuildBillingAddress(req.BillingAddress),
		}},
		ProcessingInstruction: ProcessingCompleteOnApproval,
		ApplicationContext: &ApplicationContext{
			BrandName:   brandName,
			LandingPage: landingPage,
			UserAction:  userAction,
			ReturnURL:   returnURL,
			CancelURL:   cancelURL,
		},
	}
}

// ProbeOrderPayload is the minimal order used to check that a credential is
// accepted by the processor.
func ProbeOrderPayload() OrderPayload {
	return OrderPayload{
		Intent: IntentCapture,
		PurchaseUnits: []PurchaseUnit{{
			Amount: Amount{CurrencyCode: DefaultCurrency, Value: "0.01"},
		}},
	}
}

func fullYear(twoDigits string) int {
	y, _ := strconv.Atoi(twoDigits)
	if y < 50 {
		return 2000 + y
	}
	return 1900 + y
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func nonBlank(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
