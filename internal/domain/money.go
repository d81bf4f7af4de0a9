package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217 alphabetic code.
type Currency string

const (
	RSD Currency = "RSD"
	EUR Currency = "EUR"
	USD Currency = "USD"
)

// DefaultBaseCurrency is the currency payments must be sent from.
const DefaultBaseCurrency = RSD

// ParseCurrency normalises user input ("rsd " -> "RSD").
func ParseCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}

// Valid reports whether the code has the ISO shape.
func (c Currency) Valid() bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Account is the ledger view of a balance holder.
type Account struct {
	Ref           string
	OwnerClientID string
	Currency      Currency
	Balance       decimal.Decimal
	CreatedAt     time.Time
}

// Covers reports whether the balance can pay amount.
func (a Account) Covers(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

// AmountScale is the number of fractional digits every store keeps.
const AmountScale = 4

// FitsScale reports whether d has no more than AmountScale fractional digits.
// Trailing zeros do not count: "1.50000" fits.
func FitsScale(d decimal.Decimal) bool {
	return d.Truncate(AmountScale).Equal(d)
}
