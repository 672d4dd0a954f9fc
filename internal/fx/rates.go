// Package fx converts expense amounts between currencies using a rate
// snapshot captured at submission time.
package fx

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedCurrency signals a currency code absent from the rate table.
var ErrUnsupportedCurrency = errors.New("fx: unsupported currency")

// RateTable is a snapshot of quotes relative to a declared base currency.
// Rates hold units of the quoted currency per one unit of base.
type RateTable struct {
	Base  string             `json:"base"`
	AsOf  time.Time          `json:"as_of"`
	Rates map[string]float64 `json:"rates"`
}

// Rate returns the multiplier converting one unit of from into to.
func (t RateTable) Rate(from, to string) (float64, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return 1, nil
	}
	fromRate, err := t.lookup(from)
	if err != nil {
		return 0, err
	}
	toRate, err := t.lookup(to)
	if err != nil {
		return 0, err
	}
	return toRate / fromRate, nil
}

// Convert applies the cross rate to amount.
func (t RateTable) Convert(amount float64, from, to string) (float64, error) {
	rate, err := t.Rate(from, to)
	if err != nil {
		return 0, err
	}
	return amount * rate, nil
}

// Missing reports which of the given codes the table cannot serve.
func (t RateTable) Missing(codes ...string) []string {
	var missing []string
	for _, code := range codes {
		if _, err := t.lookup(strings.ToUpper(strings.TrimSpace(code))); err != nil {
			missing = append(missing, code)
		}
	}
	return missing
}

func (t RateTable) lookup(code string) (float64, error) {
	if code == "" {
		return 0, fmt.Errorf("%w: empty code", ErrUnsupportedCurrency)
	}
	if code == strings.ToUpper(t.Base) {
		return 1, nil
	}
	rate, ok := t.Rates[code]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, code)
	}
	return rate, nil
}

// Normalized carries the outcome of normalising an original amount.
type Normalized struct {
	Amount float64
	Rate   float64
}

// Normalize converts amount from the original currency into the reporting
// currency using the table snapshot. The result is deterministic for equal
// inputs; callers persist Amount and Rate on the expense so later table
// changes never alter recorded values.
func Normalize(amount float64, originalCurrency string, table RateTable, reportingCurrency string) (Normalized, error) {
	rate, err := table.Rate(originalCurrency, reportingCurrency)
	if err != nil {
		return Normalized{}, err
	}
	return Normalized{Amount: amount * rate, Rate: rate}, nil
}
