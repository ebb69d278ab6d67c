package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	XOF Currency = "XOF"
	EUR Currency = "EUR"
	USD Currency = "USD"
)

// Scale is the number of minor-unit digits the gateway accepts for the currency.
// XOF has no minor unit.
func (c Currency) Scale() int32 {
	switch c {
	case XOF:
		return 0
	default:
		return 2
	}
}

// Money holds a currency-scaled decimal amount.
// Example: 5000 XOF is 5000, 10.50 EUR is 10.50.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

// NewMoney rounds amount to the currency scale.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	cur := Currency(strings.ToUpper(strings.TrimSpace(currency)))
	if cur == "" {
		return Money{}, errors.New("currency is required")
	}
	if !amount.IsPositive() {
		return Money{}, fmt.Errorf("amount must be positive, got %s", amount)
	}
	return Money{
		Amount:   amount.Round(cur.Scale()),
		Currency: cur,
	}, nil
}

// String renders the amount the way the gateway expects it in item_price.
func (m Money) String() string {
	return m.Amount.StringFixed(m.Currency.Scale())
}

// Matches compares a raw notification amount against m. Unparseable input never matches.
func (m Money) Matches(raw string) bool {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return d.Equal(m.Amount)
}
