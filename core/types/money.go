package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCurrencyMismatch is returned when two amounts in different currencies
// are combined.
var ErrCurrencyMismatch = errors.New("types: currency mismatch")

// Amount is a fixed-point monetary value expressed in integer minor units
// (cents, satoshi-equivalents) plus an ISO 4217 currency code. Amounts are
// never represented as floats.
type Amount struct {
	Units    int64  `json:"units"`
	Currency string `json:"currency"`
}

// NewAmount constructs an amount, normalising the currency code.
func NewAmount(units int64, currency string) Amount {
	return Amount{Units: units, Currency: NormalizeCurrency(currency)}
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsZero reports whether the amount carries no value.
func (a Amount) IsZero() bool { return a.Units == 0 }

// Positive reports whether the amount is strictly greater than zero.
func (a Amount) Positive() bool { return a.Units > 0 }

// SameCurrency reports whether both amounts share a currency.
func (a Amount) SameCurrency(b Amount) bool {
	return NormalizeCurrency(a.Currency) == NormalizeCurrency(b.Currency)
}

// Add returns a+b, rejecting mixed currencies.
func (a Amount) Add(b Amount) (Amount, error) {
	if !a.SameCurrency(b) {
		return Amount{}, ErrCurrencyMismatch
	}
	return Amount{Units: a.Units + b.Units, Currency: NormalizeCurrency(a.Currency)}, nil
}

// Sub returns a-b, rejecting mixed currencies.
func (a Amount) Sub(b Amount) (Amount, error) {
	if !a.SameCurrency(b) {
		return Amount{}, ErrCurrencyMismatch
	}
	return Amount{Units: a.Units - b.Units, Currency: NormalizeCurrency(a.Currency)}, nil
}

// Neg returns the negated amount.
func (a Amount) Neg() Amount {
	return Amount{Units: -a.Units, Currency: NormalizeCurrency(a.Currency)}
}

// Cmp compares two amounts of the same currency: -1, 0 or +1.
func (a Amount) Cmp(b Amount) (int, error) {
	if !a.SameCurrency(b) {
		return 0, ErrCurrencyMismatch
	}
	switch {
	case a.Units < b.Units:
		return -1, nil
	case a.Units > b.Units:
		return 1, nil
	}
	return 0, nil
}

// BasisPoints returns amount*bps/10000 rounded toward zero. Fee math is
// always derived from the gross amount so splits remain reproducible.
func (a Amount) BasisPoints(bps int64) Amount {
	return Amount{Units: a.Units * bps / 10_000, Currency: NormalizeCurrency(a.Currency)}
}

func (a Amount) String() string {
	return fmt.Sprintf("%d %s", a.Units, NormalizeCurrency(a.Currency))
}
