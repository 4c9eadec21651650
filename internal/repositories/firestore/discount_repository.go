package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/shopspring/decimal"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	pfirestore "github.com/yomnaalset/bookstore/internal/platform/firestore"
	"github.com/yomnaalset/bookstore/internal/repositories"
	"github.com/yomnaalset/bookstore/internal/services"
)

const (
	invoiceDiscountCollection = "discounts"
	itemDiscountCollection    = "book_discounts"
	discountUsageCollection   = "discount_usage"
)

// DiscountRepository reads the discount catalog and redemption history mirrored into Firestore.
// Documents are keyed by the normalised (upper-case) code.
type DiscountRepository struct {
	provider *pfirestore.Provider
}

var (
	_ repositories.DiscountCatalog      = (*DiscountRepository)(nil)
	_ repositories.DiscountUsageHistory = (*DiscountRepository)(nil)
)

// NewDiscountRepository constructs a Firestore-backed discount catalog.
func NewDiscountRepository(provider *pfirestore.Provider) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	return &DiscountRepository{provider: provider}, nil
}

// FindDiscount looks the code up among invoice discounts first, then book discounts.
func (r *DiscountRepository) FindDiscount(ctx context.Context, code string) (domain.DiscountApplication, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.DiscountApplication{}, errors.New("discount repository: code is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.DiscountApplication{}, err
	}

	snap, err := client.Collection(invoiceDiscountCollection).Doc(code).Get(ctx)
	if err == nil {
		var doc invoiceDiscountDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.DiscountApplication{}, fmt.Errorf("discounts.decode: %w", err)
		}
		return doc.toDomain(code)
	}
	if wrapped := pfirestore.WrapError("discounts.get", err); !isNotFound(wrapped) {
		return domain.DiscountApplication{}, wrapped
	}

	snap, err = client.Collection(itemDiscountCollection).Doc(code).Get(ctx)
	if err != nil {
		return domain.DiscountApplication{}, pfirestore.WrapError("book_discounts.get", err)
	}
	var doc itemDiscountDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.DiscountApplication{}, fmt.Errorf("book_discounts.decode: %w", err)
	}
	return doc.toDomain(code)
}

// CountRedemptions counts redemption records for the customer and code.
func (r *DiscountRepository) CountRedemptions(ctx context.Context, code string, customerID string) (int, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	customerID = strings.TrimSpace(customerID)
	if code == "" || customerID == "" {
		return 0, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	query := client.Collection(discountUsageCollection).
		Where("code", "==", code).
		Where("customer_id", "==", customerID)
	result, err := query.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("discount_usage.count", err)
	}
	value, ok := result["total"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("discount_usage.count: unexpected result %T", result["total"])
	}
	return int(value.GetIntegerValue()), nil
}

// RecordRedemption appends a redemption record for the customer.
func (r *DiscountRepository) RecordRedemption(ctx context.Context, code, customerID, orderID string, at time.Time) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, _, err = client.Collection(discountUsageCollection).Add(ctx, discountUsageDocument{
		Code:       strings.ToUpper(strings.TrimSpace(code)),
		CustomerID: strings.TrimSpace(customerID),
		OrderID:    orderID,
		RedeemedAt: at.UTC(),
	})
	return pfirestore.WrapError("discount_usage.add", err)
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

type invoiceDiscountDocument struct {
	Code       string    `firestore:"code"`
	Value      string    `firestore:"value"`
	UsageLimit int64     `firestore:"usage_limit"`
	StartDate  time.Time `firestore:"start_date"`
	EndDate    time.Time `firestore:"end_date"`
	IsActive   bool      `firestore:"is_active"`
}

func (d invoiceDiscountDocument) toDomain(docID string) (domain.DiscountApplication, error) {
	percentage, err := decimal.NewFromString(strings.TrimSpace(d.Value))
	if err != nil {
		return domain.DiscountApplication{}, fmt.Errorf("discounts.decode %s: value: %w", docID, err)
	}
	window := domain.DiscountWindow{StartDate: d.StartDate, EndDate: d.EndDate}
	app, err := services.NewInvoiceDiscount(documentCode(d.Code, docID), percentage, int(d.UsageLimit), window, d.IsActive)
	if err != nil {
		return domain.DiscountApplication{}, fmt.Errorf("discounts.decode %s: %w", docID, err)
	}
	return app, nil
}

type itemDiscountDocument struct {
	Code                  string    `firestore:"code"`
	BookID                string    `firestore:"book_id"`
	BookPrice             string    `firestore:"book_price"`
	DiscountedPrice       string    `firestore:"discounted_price"`
	UsageLimitPerCustomer int64     `firestore:"usage_limit_per_customer"`
	StartDate             time.Time `firestore:"start_date"`
	EndDate               time.Time `firestore:"end_date"`
	IsActive              bool      `firestore:"is_active"`
}

func (d itemDiscountDocument) toDomain(docID string) (domain.DiscountApplication, error) {
	original, err := domain.ParseMoney(d.BookPrice)
	if err != nil {
		return domain.DiscountApplication{}, fmt.Errorf("book_discounts.decode %s: book_price: %w", docID, err)
	}
	discounted, err := domain.ParseMoney(d.DiscountedPrice)
	if err != nil {
		return domain.DiscountApplication{}, fmt.Errorf("book_discounts.decode %s: discounted_price: %w", docID, err)
	}
	// Prices are not re-checked here; the discount engine rejects malformed entries.
	return domain.DiscountApplication{
		Kind: domain.DiscountKindItem,
		Item: &domain.ItemDiscount{
			Code:                  documentCode(d.Code, docID),
			BookID:                strings.TrimSpace(d.BookID),
			OriginalPrice:         original,
			DiscountedPrice:       discounted,
			UsageLimitPerCustomer: int(d.UsageLimitPerCustomer),
			Window:                domain.DiscountWindow{StartDate: d.StartDate, EndDate: d.EndDate},
			IsActive:              d.IsActive,
		},
	}, nil
}

type discountUsageDocument struct {
	Code       string    `firestore:"code"`
	CustomerID string    `firestore:"customer_id"`
	OrderID    string    `firestore:"order_id"`
	RedeemedAt time.Time `firestore:"redeemed_at"`
}

func documentCode(code, docID string) string {
	if trimmed := strings.ToUpper(strings.TrimSpace(code)); trimmed != "" {
		return trimmed
	}
	return docID
}
