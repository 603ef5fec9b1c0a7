package shared

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DefaultCurrency is the platform settlement currency.
const DefaultCurrency = "TZS"

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders an amount with grouping separators, e.g. "TZS 50,000.00".
func FormatAmount(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = DefaultCurrency
	}
	return amountPrinter.Sprintf("%s %v", currency, number.Decimal(amount.InexactFloat64(), number.Scale(2)))
}
