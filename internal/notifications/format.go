package notifications

import (
	"strings"

	"github.com/shopspring/decimal"
)

func formatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func currencyCode(c string) string {
	if c == "" {
		return "USD"
	}
	return strings.ToUpper(c)
}
