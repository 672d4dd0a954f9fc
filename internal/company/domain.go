// Package company holds the organization record and its approval settings.
package company

import (
	"errors"
	"time"
)

// Settings controls company-wide approval behavior.
type Settings struct {
	// AutoApprovalLimit approves expenses at or below this normalized
	// amount without instantiating a flow. Zero disables auto-approval.
	AutoApprovalLimit float64 `json:"auto_approval_limit"`
	// RequireManagerApproval is the default for rules created without an
	// explicit manager-first flag.
	RequireManagerApproval bool `json:"require_manager_approval"`
}

// Company is the tenant record every user and expense belongs to.
type Company struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Country           string    `json:"country"`
	ReportingCurrency string    `json:"reporting_currency"`
	Settings          Settings  `json:"settings"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

var (
	// ErrNotFound indicates the company record is missing.
	ErrNotFound = errors.New("company: not found")
	// ErrInvalidSettings indicates rejected settings input.
	ErrInvalidSettings = errors.New("company: invalid settings")
)

// countryCurrencies maps registration countries to their reporting
// currency. Unlisted countries default to USD.
var countryCurrencies = map[string]string{
	"India":          "INR",
	"United States":  "USD",
	"United Kingdom": "GBP",
	"Germany":        "EUR",
	"France":         "EUR",
	"Spain":          "EUR",
	"Italy":          "EUR",
	"Japan":          "JPY",
	"Australia":      "AUD",
	"Canada":         "CAD",
	"Singapore":      "SGD",
}

// CurrencyForCountry resolves the reporting currency used when a company
// registers from the given country.
func CurrencyForCountry(country string) string {
	if code, ok := countryCurrencies[country]; ok {
		return code
	}
	return "USD"
}
