package repositories

import (
	"context"
	"time"

	domain "github.com/yomnaalset/bookstore/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// DiscountCatalog looks up discount definitions by code. It is read-only; the catalog is owned by the
// backend. Missing codes return a RepositoryError with IsNotFound.
type DiscountCatalog interface {
	FindDiscount(ctx context.Context, code string) (domain.DiscountApplication, error)
}

// DiscountUsageHistory reports how often a customer has redeemed a code.
type DiscountUsageHistory interface {
	CountRedemptions(ctx context.Context, code string, customerID string) (int, error)
}

// DiscountRedemptionLog records that a customer redeemed a code on a submitted order.
type DiscountRedemptionLog interface {
	RecordRedemption(ctx context.Context, code, customerID, orderID string, at time.Time) error
}
