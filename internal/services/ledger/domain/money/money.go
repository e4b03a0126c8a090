// Package money provides an exact-decimal monetary value object.
//
// Amounts are immutable and carry their currency; arithmetic across
// currencies is rejected rather than silently converted. Scale is bounded by
// the currency's fractional digits so journal payloads round-trip exactly.
package money

import (
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
)

// fractionDigits maps supported ISO 4217 codes to their minor-unit scale.
var fractionDigits = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CHF": 2,
	"CAD": 2,
	"AUD": 2,
	"SGD": 2,
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"KWD": 3,
}

// CurrencyDigits returns the fractional digits for a currency code.
func CurrencyDigits(code string) (int32, bool) {
	digits, ok := fractionDigits[NormalizeCurrency(code)]
	return digits, ok
}

// NormalizeCurrency returns the canonical upper-case currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Money is an immutable amount in a single currency.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New builds a Money value, validating the currency and the amount's scale.
func New(amount decimal.Decimal, currency string) (Money, error) {
	code := NormalizeCurrency(currency)
	digits, ok := fractionDigits[code]
	if !ok {
		return Money{}, apperrors.WithMetadata(apperrors.CodeMoneyCurrencyUnknown,
			"currency is not supported", map[string]string{"currency": currency})
	}
	if !amount.Round(digits).Equal(amount) {
		return Money{}, apperrors.WithMetadata(apperrors.CodeMoneyAmountInvalid,
			"amount has more fractional digits than the currency allows",
			map[string]string{"amount": amount.String(), "currency": code})
	}
	return Money{amount: amount, currency: code}, nil
}

// Parse builds a Money value from a decimal string.
func Parse(value, currency string) (Money, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Money{}, apperrors.Wrap(apperrors.CodeMoneyAmountInvalid, "amount is not a valid decimal", err)
	}
	return New(amount, currency)
}

// MustParse builds a Money value and panics on invalid input. Test helper.
func MustParse(value, currency string) Money {
	m, err := Parse(value, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns the zero amount in the given currency. The currency is
// normalized but not validated; callers pass codes already vetted by New.
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: NormalizeCurrency(currency)}
}

// Amount returns the decimal amount.
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// Currency returns the normalized currency code.
func (m Money) Currency() string {
	return m.currency
}

// Add returns m + other, rejecting cross-currency operands.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub returns m - other, rejecting cross-currency operands.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Neg returns the negated amount.
func (m Money) Neg() Money {
	return Money{amount: m.amount.Neg(), currency: m.currency}
}

// Cmp compares m against other: -1 when less, 0 when equal, 1 when greater.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

// IsNegative reports whether the amount is strictly less than zero.
func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// StringFixed renders the amount at the currency's exact scale.
func (m Money) StringFixed() string {
	digits, ok := fractionDigits[m.currency]
	if !ok {
		return m.amount.String()
	}
	return m.amount.StringFixed(digits)
}

// String renders "amount currency" at the currency's exact scale.
func (m Money) String() string {
	return m.StringFixed() + " " + m.currency
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return apperrors.WithMetadata(apperrors.CodeMoneyCurrencyMismatch,
			"operands have different currencies",
			map[string]string{"left": m.currency, "right": other.currency})
	}
	return nil
}
