package common

import (
	"errors"
	"math"
	"reflect"
	"regexp"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	minAmount = decimal.New(1, -2)
	maxAmount = decimal.New(1, 10)
)

// maxAmountScale bounds the decimal exponent in both directions. Checking it
// first keeps comparisons and conversions from expanding huge exponents.
const maxAmountScale = 12

var (
	expiryPattern     = regexp.MustCompile(`^(\d{4}-\d{2}|\d{2}/\d{2}|\d{4})$`)
	cardNumberPattern = regexp.MustCompile(`^[0-9][0-9 \-]{10,26}[0-9]$`)
)

// NewValidator returns a validator that understands decimal amounts and the
// card-specific tags used by request payloads:
//
//	amount      decimal within [0.01, 1e10) with at most 12 fraction digits
//	expiry      YYYY-MM, MM/YY or MMYY
//	cardnumber  digits optionally separated by spaces or hyphens
//
// Field names in errors follow the json tag.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		d, ok := field.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		if d.IsZero() {
			return 0.0
		}
		if !ValidAmount(d) {
			return math.NaN()
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})
	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		switch fl.Field().Kind() {
		case reflect.Float32, reflect.Float64:
			return !math.IsNaN(fl.Field().Float())
		default:
			return false
		}
	})
	_ = v.RegisterValidation("expiry", func(fl validator.FieldLevel) bool {
		return expiryPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("cardnumber", func(fl validator.FieldLevel) bool {
		return cardNumberPattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidAmount reports whether d is a payable amount. The exponent is checked
// before any arithmetic on d.
func ValidAmount(d decimal.Decimal) bool {
	if exp := d.Exponent(); exp > maxAmountScale || exp < -maxAmountScale {
		return false
	}
	return d.Cmp(minAmount) >= 0 && d.Cmp(maxAmount) < 0
}

// ValidationDetails flattens validator errors into field -> rule pairs
// suitable for an error response. It returns nil for other errors.
func ValidationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		key := fe.Namespace()
		if idx := strings.Index(key, "."); idx >= 0 {
			key = key[idx+1:]
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[key] = rule
	}
	return out
}
