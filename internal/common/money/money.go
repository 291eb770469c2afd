// Package money provides helpers for the decimal currency amounts used
// across the wallet ledger. Amounts are carried as float64 major units to
// match the remote financial feed; comparisons tolerate sub-paisa noise.
package money

import (
	"fmt"
	"math"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	INR Currency = "INR"
	USD Currency = "USD"
)

// CurrencyInfo contains metadata about a currency
type CurrencyInfo struct {
	Code        Currency
	Symbol      string
	SymbolFirst bool
}

var currencies = map[Currency]CurrencyInfo{
	INR: {Code: INR, Symbol: "₹", SymbolFirst: true},
	USD: {Code: USD, Symbol: "$", SymbolFirst: true},
}

// GetCurrencyInfo returns info about a currency
func GetCurrencyInfo(c Currency) (CurrencyInfo, bool) {
	info, ok := currencies[c]
	return info, ok
}

// Epsilon is the tolerance for amount comparisons: one hundredth of a
// currency unit.
const Epsilon = 0.01

// Round rounds an amount to two decimal places.
func Round(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// Equal reports whether two amounts agree within Epsilon.
func Equal(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// Exceeds reports whether a is greater than b by more than Epsilon. Balance
// checks use this so float accumulation noise never rejects a spend of the
// exact remaining balance.
func Exceeds(a, b float64) bool {
	return a-b > Epsilon
}

// Sum rounds the total of the given amounts.
func Sum(amounts ...float64) float64 {
	var total float64
	for _, a := range amounts {
		total += a
	}
	return Round(total)
}

// Format renders an amount with its currency symbol.
func Format(amount float64, currency Currency) string {
	info, ok := currencies[currency]
	if !ok {
		return fmt.Sprintf("%.2f %s", Round(amount), currency)
	}
	if info.SymbolFirst {
		return fmt.Sprintf("%s%.2f", info.Symbol, Round(amount))
	}
	return fmt.Sprintf("%.2f%s", Round(amount), info.Symbol)
}
