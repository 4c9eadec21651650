package firestore

import (
	"errors"
	"testing"
	"time"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	"github.com/yomnaalset/bookstore/internal/services"
)

func TestInvoiceDiscountDocumentToDomain(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := invoiceDiscountDocument{
		Code:       " spring10 ",
		Value:      "12.5",
		UsageLimit: 2,
		StartDate:  start,
		IsActive:   true,
	}

	app, err := doc.toDomain("SPRING10")
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}
	if app.Kind != domain.DiscountKindInvoice || app.Invoice == nil {
		t.Fatalf("expected invoice discount, got %+v", app)
	}
	if app.Code() != "SPRING10" {
		t.Fatalf("expected normalised code, got %s", app.Code())
	}
	if app.Invoice.Percentage.String() != "12.5" {
		t.Fatalf("unexpected percentage %s", app.Invoice.Percentage)
	}
	if app.PerCustomerLimit() != 2 || !app.Active() || !app.ValidityWindow().StartDate.Equal(start) {
		t.Fatalf("unexpected fields %+v", app.Invoice)
	}
}

func TestInvoiceDiscountDocumentRejectsBadValue(t *testing.T) {
	if _, err := (invoiceDiscountDocument{Value: "ten"}).toDomain("X"); err == nil {
		t.Fatalf("expected decode error for non-numeric value")
	}
}

func TestInvoiceDiscountDocumentRejectsOutOfRangePercentage(t *testing.T) {
	for _, value := range []string{"-15", "0", "100.5"} {
		_, err := (invoiceDiscountDocument{Code: "bad", Value: value, IsActive: true}).toDomain("BAD")
		if !errors.Is(err, services.ErrDiscountMalformedInvoiceDiscount) {
			t.Fatalf("expected percentage %s to be rejected as malformed, got %v", value, err)
		}
	}
}

func TestItemDiscountDocumentToDomain(t *testing.T) {
	doc := itemDiscountDocument{
		BookID:                "book-7",
		BookPrice:             "20.00",
		DiscountedPrice:       "15.50",
		UsageLimitPerCustomer: 1,
		IsActive:              true,
	}

	app, err := doc.toDomain("BOOK7")
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}
	if app.Kind != domain.DiscountKindItem || app.Item == nil {
		t.Fatalf("expected item discount, got %+v", app)
	}
	if app.Code() != "BOOK7" {
		t.Fatalf("expected code to fall back to document id, got %s", app.Code())
	}
	if app.Item.OriginalPrice != 2000 || app.Item.DiscountedPrice != 1550 {
		t.Fatalf("unexpected prices %+v", app.Item)
	}
}

func TestItemDiscountDocumentKeepsMalformedPricesForEngine(t *testing.T) {
	doc := itemDiscountDocument{BookID: "b", BookPrice: "10.00", DiscountedPrice: "12.00"}
	app, err := doc.toDomain("BAD")
	if err != nil {
		t.Fatalf("expected decode to succeed, got %v", err)
	}
	if app.Item.DiscountedPrice <= app.Item.OriginalPrice {
		t.Fatalf("expected prices passed through unchanged, got %+v", app.Item)
	}
}
