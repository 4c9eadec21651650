package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	"github.com/yomnaalset/bookstore/internal/repositories"
)

// DiscountEngineDeps bundles collaborators required by DiscountEngine.
type DiscountEngineDeps struct {
	Catalog repositories.DiscountCatalog
	Usage   repositories.DiscountUsageHistory
	Pricing *PricingCalculator
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
	Meter   metric.Meter
}

// DiscountEngine validates discount codes and applies them to drafts.
type DiscountEngine struct {
	catalog repositories.DiscountCatalog
	usage   repositories.DiscountUsageHistory
	pricing *PricingCalculator
	clock   func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)

	validations metric.Int64Counter
}

// ValidateDiscountCommand asks whether a customer may use a code on a draft.
type ValidateDiscountCommand struct {
	Code       string
	CustomerID string
	Draft      *domain.Order
}

// NewDiscountEngine wires dependencies into a DiscountEngine.
func NewDiscountEngine(deps DiscountEngineDeps) (*DiscountEngine, error) {
	if deps.Catalog == nil {
		return nil, errors.New("discount engine: catalog is required")
	}
	if deps.Usage == nil {
		return nil, errors.New("discount engine: usage history is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("discount engine: pricing calculator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(coordinatorInstrumentation)
	}
	validations, err := meter.Int64Counter(
		"storefront.discount.validations",
		metric.WithDescription("Discount code validations by outcome"),
	)
	if err != nil {
		logger(context.Background(), "discount.metrics.register_failed", map[string]any{"error": err.Error()})
		validations = nil
	}
	return &DiscountEngine{
		catalog: deps.Catalog,
		usage:   deps.Usage,
		pricing: deps.Pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:      logger,
		validations: validations,
	}, nil
}

// NormalizeDiscountCode upper-cases and trims a user supplied code.
func NormalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewInvoiceDiscount builds an invoice discount, requiring a percentage in (0, 100].
func NewInvoiceDiscount(code string, percentage decimal.Decimal, usageLimit int, window domain.DiscountWindow, active bool) (domain.DiscountApplication, error) {
	code = NormalizeDiscountCode(code)
	if code == "" {
		return domain.DiscountApplication{}, newDiscountError(DiscountInvalidCode, code, "code is required")
	}
	if !validInvoicePercentage(percentage) {
		return domain.DiscountApplication{}, newDiscountError(DiscountMalformedInvoiceDiscount, code,
			fmt.Sprintf("percentage %s must be within (0, 100]", percentage))
	}
	if usageLimit < 0 {
		return domain.DiscountApplication{}, fmt.Errorf("%w: usage limit must be non-negative", ErrOrderInvalidInput)
	}
	return domain.DiscountApplication{
		Kind: domain.DiscountKindInvoice,
		Invoice: &domain.InvoiceDiscount{
			Code:       code,
			Percentage: percentage,
			UsageLimit: usageLimit,
			Window:     window,
			IsActive:   active,
		},
	}, nil
}

func validInvoicePercentage(percentage decimal.Decimal) bool {
	return percentage.IsPositive() && !percentage.GreaterThan(hundred)
}

// NewItemDiscount builds a book discount. The discounted price must be strictly below the book's
// current price; anything else is malformed and never reaches the catalog.
func NewItemDiscount(code, bookID string, originalPrice, discountedPrice domain.Money, usageLimitPerCustomer int, window domain.DiscountWindow, active bool) (domain.DiscountApplication, error) {
	code = NormalizeDiscountCode(code)
	if code == "" {
		return domain.DiscountApplication{}, newDiscountError(DiscountInvalidCode, code, "code is required")
	}
	if strings.TrimSpace(bookID) == "" {
		return domain.DiscountApplication{}, fmt.Errorf("%w: book id is required", ErrOrderInvalidInput)
	}
	if discountedPrice < 0 || discountedPrice >= originalPrice {
		return domain.DiscountApplication{}, newDiscountError(DiscountMalformedItemDiscount, code,
			fmt.Sprintf("discounted price %s must be below original price %s", discountedPrice, originalPrice))
	}
	if usageLimitPerCustomer < 0 {
		return domain.DiscountApplication{}, fmt.Errorf("%w: usage limit must be non-negative", ErrOrderInvalidInput)
	}
	return domain.DiscountApplication{
		Kind: domain.DiscountKindItem,
		Item: &domain.ItemDiscount{
			Code:                  code,
			BookID:                strings.TrimSpace(bookID),
			OriginalPrice:         originalPrice,
			DiscountedPrice:       discountedPrice,
			UsageLimitPerCustomer: usageLimitPerCustomer,
			Window:                window,
			IsActive:              active,
		},
	}, nil
}

// Validate resolves a code into a DiscountApplication. Checks run in a fixed order: unknown code,
// inactive, outside the validity window, usage limit reached, already on the draft.
func (e *DiscountEngine) Validate(ctx context.Context, cmd ValidateDiscountCommand) (domain.DiscountApplication, error) {
	code := NormalizeDiscountCode(cmd.Code)
	app, err := e.validate(ctx, code, cmd)
	if err != nil {
		outcome := "error"
		var discountErr *DiscountError
		if errors.As(err, &discountErr) {
			outcome = string(discountErr.Code)
			e.logger(ctx, "discount.validate.rejected", map[string]any{
				"code":   code,
				"reason": outcome,
			})
		}
		e.count(ctx, outcome)
		return domain.DiscountApplication{}, err
	}
	e.count(ctx, "valid")
	return app, nil
}

func (e *DiscountEngine) count(ctx context.Context, outcome string) {
	if e.validations == nil {
		return
	}
	e.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (e *DiscountEngine) validate(ctx context.Context, code string, cmd ValidateDiscountCommand) (domain.DiscountApplication, error) {
	if code == "" {
		return domain.DiscountApplication{}, newDiscountError(DiscountInvalidCode, code, "code is required")
	}

	app, err := e.catalog.FindDiscount(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.DiscountApplication{}, newDiscountError(DiscountInvalidCode, code, "")
		}
		var discountErr *DiscountError
		if errors.As(err, &discountErr) {
			return domain.DiscountApplication{}, discountErr
		}
		return domain.DiscountApplication{}, fmt.Errorf("discount engine: lookup %s: %w", code, err)
	}
	if app.Code() == "" {
		return domain.DiscountApplication{}, newDiscountError(DiscountInvalidCode, code, "catalog entry has no payload")
	}
	if app.Kind == domain.DiscountKindItem && app.Item.DiscountedPrice >= app.Item.OriginalPrice {
		return domain.DiscountApplication{}, newDiscountError(DiscountMalformedItemDiscount, code, "catalog entry is malformed")
	}
	if app.Kind == domain.DiscountKindInvoice && !validInvoicePercentage(app.Invoice.Percentage) {
		return domain.DiscountApplication{}, newDiscountError(DiscountMalformedInvoiceDiscount, code, "catalog entry is malformed")
	}

	if !app.Active() {
		return domain.DiscountApplication{}, newDiscountError(DiscountInactive, code, "")
	}
	if !app.ValidityWindow().Contains(e.clock()) {
		return domain.DiscountApplication{}, newDiscountError(DiscountExpired, code, "")
	}

	if limit := app.PerCustomerLimit(); limit > 0 {
		used, err := e.usage.CountRedemptions(ctx, code, strings.TrimSpace(cmd.CustomerID))
		if err != nil {
			return domain.DiscountApplication{}, fmt.Errorf("discount engine: usage for %s: %w", code, err)
		}
		if used >= limit {
			return domain.DiscountApplication{}, newDiscountError(DiscountUsageLimitExceeded, code,
				fmt.Sprintf("used %d of %d", used, limit))
		}
	}

	if cmd.Draft != nil && NormalizeDiscountCode(cmd.Draft.DiscountCode) == code {
		return domain.DiscountApplication{}, newDiscountError(DiscountAlreadyApplied, code, "")
	}
	return app, nil
}

// Apply attaches the discount to the draft and reprices it. Applying again replaces the previous
// discount rather than stacking.
func (e *DiscountEngine) Apply(draft domain.Order, app domain.DiscountApplication) (domain.Order, error) {
	if draft.Status != InitialStatus(draft.Kind) {
		return draft, fmt.Errorf("%w: discounts can only be applied before approval", ErrOrderInvalidState)
	}
	if app.Code() == "" {
		return draft, newDiscountError(DiscountInvalidCode, "", "discount has no code")
	}
	items, err := e.pricing.PriceItems(draft.Items)
	if err != nil {
		return draft, err
	}
	pricing, err := e.pricing.Compute(items, draft.Pricing.DeliveryCost, &app, draft.Fine)
	if err != nil {
		return draft, err
	}
	next := draft.Clone()
	attached := app.Clone()
	next.Discount = &attached
	next.DiscountCode = app.Code()
	next.Pricing = pricing
	next.Items = items
	next.UpdatedAt = e.clock()
	return next, nil
}

// Remove detaches any discount from the draft and reprices it.
func (e *DiscountEngine) Remove(draft domain.Order) (domain.Order, error) {
	if draft.Status != InitialStatus(draft.Kind) {
		return draft, fmt.Errorf("%w: discounts can only be removed before approval", ErrOrderInvalidState)
	}
	pricing, err := e.pricing.Compute(draft.Items, draft.Pricing.DeliveryCost, nil, draft.Fine)
	if err != nil {
		return draft, err
	}
	next := draft.Clone()
	next.Discount = nil
	next.DiscountCode = ""
	next.Pricing = pricing
	next.UpdatedAt = e.clock()
	return next, nil
}
