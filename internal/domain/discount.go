package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountKind discriminates the DiscountApplication variants.
type DiscountKind string

const (
	// DiscountKindInvoice is a percentage off the whole order subtotal.
	DiscountKindInvoice DiscountKind = "invoice"
	// DiscountKindItem is a fixed discounted price for one book.
	DiscountKindItem DiscountKind = "item"
)

// DiscountWindow is the inclusive validity range of a discount, compared by calendar date only.
type DiscountWindow struct {
	StartDate time.Time
	EndDate   time.Time
}

// Contains reports whether now falls on or between the start and end dates.
func (w DiscountWindow) Contains(now time.Time) bool {
	day := CalendarDate(now)
	if !w.StartDate.IsZero() && day.Before(CalendarDate(w.StartDate)) {
		return false
	}
	if !w.EndDate.IsZero() && day.After(CalendarDate(w.EndDate)) {
		return false
	}
	return true
}

// InvoiceDiscount takes a percentage off the subtotal.
type InvoiceDiscount struct {
	Code       string
	Percentage decimal.Decimal
	UsageLimit int
	Window     DiscountWindow
	IsActive   bool
}

// ItemDiscount replaces the price of one book. DiscountedPrice is always below OriginalPrice.
type ItemDiscount struct {
	Code                  string
	BookID                string
	OriginalPrice         Money
	DiscountedPrice       Money
	UsageLimitPerCustomer int
	Window                DiscountWindow
	IsActive              bool
}

// DiscountApplication is a validated discount. Exactly one of Invoice or Item is set, selected by Kind.
type DiscountApplication struct {
	Kind    DiscountKind
	Invoice *InvoiceDiscount
	Item    *ItemDiscount
}

// Code returns the variant's code.
func (a DiscountApplication) Code() string {
	switch a.Kind {
	case DiscountKindInvoice:
		if a.Invoice != nil {
			return a.Invoice.Code
		}
	case DiscountKindItem:
		if a.Item != nil {
			return a.Item.Code
		}
	}
	return ""
}

// Active returns the administrative toggle of the variant.
func (a DiscountApplication) Active() bool {
	switch a.Kind {
	case DiscountKindInvoice:
		return a.Invoice != nil && a.Invoice.IsActive
	case DiscountKindItem:
		return a.Item != nil && a.Item.IsActive
	}
	return false
}

// ValidityWindow returns the variant's validity window.
func (a DiscountApplication) ValidityWindow() DiscountWindow {
	switch a.Kind {
	case DiscountKindInvoice:
		if a.Invoice != nil {
			return a.Invoice.Window
		}
	case DiscountKindItem:
		if a.Item != nil {
			return a.Item.Window
		}
	}
	return DiscountWindow{}
}

// PerCustomerLimit returns the per-customer usage limit. Zero means unlimited.
func (a DiscountApplication) PerCustomerLimit() int {
	switch a.Kind {
	case DiscountKindInvoice:
		if a.Invoice != nil {
			return a.Invoice.UsageLimit
		}
	case DiscountKindItem:
		if a.Item != nil {
			return a.Item.UsageLimitPerCustomer
		}
	}
	return 0
}

// Clone copies the variant payload.
func (a DiscountApplication) Clone() DiscountApplication {
	out := DiscountApplication{Kind: a.Kind}
	if a.Invoice != nil {
		invoice := *a.Invoice
		out.Invoice = &invoice
	}
	if a.Item != nil {
		item := *a.Item
		out.Item = &item
	}
	return out
}
