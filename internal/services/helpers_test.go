package services

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/yomnaalset/bookstore/internal/domain"
)

var fixedNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type repoError struct {
	notFound bool
}

func (e repoError) Error() string       { return "repository error" }
func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return false }
func (e repoError) IsUnavailable() bool { return !e.notFound }

type stubDiscountCatalog struct {
	discounts map[string]domain.DiscountApplication
	findFn    func(context.Context, string) (domain.DiscountApplication, error)
	lookups   []string
}

func (s *stubDiscountCatalog) FindDiscount(ctx context.Context, code string) (domain.DiscountApplication, error) {
	s.lookups = append(s.lookups, code)
	if s.findFn != nil {
		return s.findFn(ctx, code)
	}
	app, ok := s.discounts[code]
	if !ok {
		return domain.DiscountApplication{}, repoError{notFound: true}
	}
	return app, nil
}

type stubUsageHistory struct {
	counts  map[string]int
	countFn func(context.Context, string, string) (int, error)
	calls   int
}

func (s *stubUsageHistory) CountRedemptions(ctx context.Context, code string, customerID string) (int, error) {
	s.calls++
	if s.countFn != nil {
		return s.countFn(ctx, code, customerID)
	}
	return s.counts[code+"/"+customerID], nil
}

type testServices struct {
	lifecycle  *RequestLifecycle
	pricing    *PricingCalculator
	fines      *FineCalculator
	aggregates *OrderAggregateService
	delivery   *DeliveryAssignmentTracker
}

func newTestServices(t *testing.T) testServices {
	t.Helper()
	lifecycle := NewRequestLifecycle(fixedClock)
	pricing, err := NewPricingCalculator(PricingCalculatorDeps{TaxRate: decimal.RequireFromString("0.08")})
	if err != nil {
		t.Fatalf("NewPricingCalculator: %v", err)
	}
	fines, err := NewFineCalculator(domain.MustParseMoney("1.00"), fixedClock)
	if err != nil {
		t.Fatalf("NewFineCalculator: %v", err)
	}
	var noteSeq, assignmentSeq int
	aggregates, err := NewOrderAggregateService(OrderAggregateDeps{
		Lifecycle: lifecycle,
		Pricing:   pricing,
		Fines:     fines,
		Clock:     fixedClock,
		IDGenerator: func() string {
			noteSeq++
			return "note_" + strconv.Itoa(noteSeq)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderAggregateService: %v", err)
	}
	delivery, err := NewDeliveryAssignmentTracker(DeliveryTrackerDeps{
		Lifecycle: lifecycle,
		Fines:     fines,
		Pricing:   pricing,
		Clock:     fixedClock,
		IDGenerator: func() string {
			assignmentSeq++
			return "dla_" + strconv.Itoa(assignmentSeq)
		},
	})
	if err != nil {
		t.Fatalf("NewDeliveryAssignmentTracker: %v", err)
	}
	return testServices{
		lifecycle:  lifecycle,
		pricing:    pricing,
		fines:      fines,
		aggregates: aggregates,
		delivery:   delivery,
	}
}

func newTestDiscountEngine(t *testing.T, catalog *stubDiscountCatalog, usage *stubUsageHistory, pricing *PricingCalculator) *DiscountEngine {
	t.Helper()
	engine, err := NewDiscountEngine(DiscountEngineDeps{
		Catalog: catalog,
		Usage:   usage,
		Pricing: pricing,
		Clock:   fixedClock,
	})
	if err != nil {
		t.Fatalf("NewDiscountEngine: %v", err)
	}
	return engine
}

// purchaseDraft is two copies of a 9.99 book with 5.00 delivery.
func purchaseDraft(t *testing.T, svc testServices) domain.Order {
	t.Helper()
	draft, err := svc.aggregates.NewDraft(NewDraftCommand{
		Kind:       domain.RequestKindPurchase,
		CustomerID: "cust-1",
		Items: []domain.OrderItem{
			{BookID: "book-1", Title: "Dune", Quantity: 2, UnitPrice: domain.MustParseMoney("9.99")},
		},
		DeliveryCost: domain.MustParseMoney("5.00"),
	})
	if err != nil {
		t.Fatalf("NewDraft: %v", err)
	}
	return draft
}

func persisted(order domain.Order, id string, status domain.Status) domain.Order {
	out := order.Clone()
	out.ID = id
	out.OrderNumber = "ORD-" + id
	out.Status = status
	out.UpdatedAt = fixedNow.Add(-time.Hour)
	return out
}

func mustInvoiceDiscount(t *testing.T, code, percentage string, limit int, window domain.DiscountWindow) domain.DiscountApplication {
	t.Helper()
	app, err := NewInvoiceDiscount(code, decimal.RequireFromString(percentage), limit, window, true)
	if err != nil {
		t.Fatalf("NewInvoiceDiscount: %v", err)
	}
	return app
}

func assertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error %v, got %v", target, err)
	}
}
