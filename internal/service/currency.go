package service

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// CurrencySymbols maps ISO 4217 codes to display symbols.
type CurrencySymbols struct {
	Table   map[string]string
	Default string
}

// DefaultCurrencySymbols returns the symbol table used in emails.
func DefaultCurrencySymbols() CurrencySymbols {
	return CurrencySymbols{
		Table: map[string]string{
			"USD": "$",
			"EUR": "€",
			"GBP": "£",
		},
		Default: "$",
	}
}

// Symbol returns the symbol for code. Unknown or malformed codes get the
// default.
func (c CurrencySymbols) Symbol(code string) string {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return c.Default
	}
	if s, ok := c.Table[unit.String()]; ok {
		return s
	}
	return c.Default
}

// Format renders amount with two decimals behind the code's symbol,
// e.g. "€12.50".
func (c CurrencySymbols) Format(amount decimal.Decimal, code string) string {
	return c.Symbol(code) + amount.StringFixed(2)
}
