package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/yomnaalset/bookstore/internal/domain"
)

var (
	// DefaultTaxRate is the storefront's flat sales tax.
	DefaultTaxRate = decimal.RequireFromString("0.08")

	hundred = decimal.NewFromInt(100)
)

// PricingCalculatorDeps configures a PricingCalculator.
type PricingCalculatorDeps struct {
	TaxRate decimal.Decimal
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// PricingCalculator composes subtotal, tax, delivery, discount and fine into a final total.
type PricingCalculator struct {
	taxRate decimal.Decimal
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewPricingCalculator validates the tax rate and returns a calculator. A zero rate is allowed.
func NewPricingCalculator(deps PricingCalculatorDeps) (*PricingCalculator, error) {
	if deps.TaxRate.IsNegative() || deps.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.New("pricing calculator: tax rate must be within [0, 1)")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingCalculator{taxRate: deps.TaxRate, logger: logger}, nil
}

// TaxRate returns the configured rate.
func (c *PricingCalculator) TaxRate() decimal.Decimal {
	return c.taxRate
}

// PriceItems validates items and fills in each LineTotal.
func (c *PricingCalculator) PriceItems(items []domain.OrderItem) ([]domain.OrderItem, error) {
	out := make([]domain.OrderItem, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.BookID) == "" {
			return nil, fmt.Errorf("%w: item %d missing book id", ErrPricingInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %s quantity must be positive", ErrPricingInvalidInput, item.BookID)
		}
		if item.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: item %s unit price must be non-negative", ErrPricingInvalidInput, item.BookID)
		}
		total, ok := item.UnitPrice.Times(item.Quantity)
		if !ok {
			return nil, fmt.Errorf("%w: item %s line total overflows", ErrPricingInvalidInput, item.BookID)
		}
		item.LineTotal = total
		out[i] = item
	}
	return out, nil
}

// Compute prices the items and applies tax, delivery cost, the optional discount and the optional fine.
// Rounding to cents happens once per derived amount, never on intermediate products.
func (c *PricingCalculator) Compute(items []domain.OrderItem, deliveryCost domain.Money, discount *domain.DiscountApplication, fine *domain.Fine) (domain.Pricing, error) {
	priced, err := c.PriceItems(items)
	if err != nil {
		return domain.Pricing{}, err
	}
	if deliveryCost < 0 {
		return domain.Pricing{}, fmt.Errorf("%w: delivery cost must be non-negative", ErrPricingInvalidInput)
	}

	var subtotal domain.Money
	for _, item := range priced {
		var ok bool
		if subtotal, ok = subtotal.AddChecked(item.LineTotal); !ok {
			return domain.Pricing{}, fmt.Errorf("%w: subtotal overflows", ErrPricingInvalidInput)
		}
	}

	pricing := domain.Pricing{
		Subtotal:     subtotal,
		TaxAmount:    subtotal.ApplyRate(c.taxRate),
		DeliveryCost: deliveryCost,
	}

	if discount != nil {
		amount, err := DiscountAmount(*discount, priced, subtotal)
		if err != nil {
			return domain.Pricing{}, err
		}
		if amount > subtotal {
			c.logger(context.Background(), "pricing.discount_clamped", map[string]any{
				"code":     discount.Code(),
				"discount": amount.String(),
				"subtotal": subtotal.String(),
			})
			amount = subtotal
		}
		pricing.DiscountAmount = amount
	}

	if fine != nil {
		if fine.Amount < 0 {
			return domain.Pricing{}, fmt.Errorf("%w: fine amount must be non-negative", ErrPricingInvalidInput)
		}
		pricing.FineAmount = fine.Amount
	}

	total := subtotal
	for _, part := range []domain.Money{pricing.DeliveryCost, pricing.TaxAmount, -pricing.DiscountAmount, pricing.FineAmount} {
		var ok bool
		if total, ok = total.AddChecked(part); !ok {
			return domain.Pricing{}, fmt.Errorf("%w: total overflows", ErrPricingInvalidInput)
		}
	}
	if total < 0 {
		total = 0
	}
	pricing.FinalTotal = total
	return pricing, nil
}

// DiscountAmount is the reduction a discount grants on priced items. Item discounts apply per unit of
// the matching line and never exceed that line's total; a book absent from the order yields zero.
func DiscountAmount(app domain.DiscountApplication, items []domain.OrderItem, subtotal domain.Money) (domain.Money, error) {
	switch app.Kind {
	case domain.DiscountKindInvoice:
		if app.Invoice == nil {
			return 0, fmt.Errorf("%w: invoice discount payload missing", ErrPricingInvalidInput)
		}
		if !validInvoicePercentage(app.Invoice.Percentage) {
			return 0, newDiscountError(DiscountMalformedInvoiceDiscount, app.Invoice.Code, "percentage must be within (0, 100]")
		}
		return subtotal.ApplyRate(app.Invoice.Percentage.Div(hundred)), nil
	case domain.DiscountKindItem:
		if app.Item == nil {
			return 0, fmt.Errorf("%w: item discount payload missing", ErrPricingInvalidInput)
		}
		saving := app.Item.OriginalPrice - app.Item.DiscountedPrice
		if saving <= 0 {
			return 0, newDiscountError(DiscountMalformedItemDiscount, app.Item.Code, "discounted price must be below original price")
		}
		for _, item := range items {
			if item.BookID != app.Item.BookID {
				continue
			}
			amount, ok := saving.Times(item.Quantity)
			if !ok || amount > item.LineTotal {
				amount = item.LineTotal
			}
			return amount, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: unknown discount kind %q", ErrPricingInvalidInput, app.Kind)
	}
}
