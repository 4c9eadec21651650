package textutil

import (
	"golang.org/x/text/currency"

	domain "github.com/yomnaalset/bookstore/internal/domain"
)

// FormatMoney renders an amount with its ISO code, e.g. "USD 26.58".
func FormatMoney(amount domain.Money, unit currency.Unit) string {
	return unit.String() + " " + amount.String()
}
