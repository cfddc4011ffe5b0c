package domain

import (
	"fmt"
	"time"
)

// Currency tags a price amount with its unit. Marketplace items are priced in
// fiat or in the Roblox soft currency; equities and flights in fiat.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"

	// CurrencyRobux is the Roblox catalog soft currency.
	CurrencyRobux Currency = "RBX"
)

// Symbol returns the display symbol for the currency.
func (c Currency) Symbol() string {
	switch c {
	case CurrencyUSD:
		return "$"
	case CurrencyEUR:
		return "€"
	case CurrencyGBP:
		return "£"
	case CurrencyRobux:
		return "R$"
	default:
		return string(c) + " "
	}
}

// Price is a currency-tagged amount.
type Price struct {
	Amount   float64
	Currency Currency
}

// String renders the price for logs, alerts and the API, e.g. "$12.99" or
// "R$450". Robux amounts are whole numbers.
func (p Price) String() string {
	if p.Currency == CurrencyRobux {
		return fmt.Sprintf("%s%.0f", p.Currency.Symbol(), p.Amount)
	}
	return fmt.Sprintf("%s%.2f", p.Currency.Symbol(), p.Amount)
}

// PriceObservation is the result of one source-adapter fetch for one entity.
// Only the latest observation matters for triggering; older ones are kept in
// price history for display and archival.
type PriceObservation struct {
	EntityID   string
	Title      string
	Price      Price
	ObservedAt time.Time

	// Failed marks an observation that carries no price. A failed
	// observation never changes alert state or the last known price.
	Failed      bool
	ErrorDetail string
}
