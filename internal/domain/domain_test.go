package domain

import (
	"testing"
	"time"
)

func TestDiscountWindowIsInclusiveByDate(t *testing.T) {
	window := DiscountWindow{
		StartDate: time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	cases := []struct {
		now  time.Time
		want bool
	}{
		{now: time.Date(2024, 3, 1, 0, 5, 0, 0, time.UTC), want: true},
		{now: time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC), want: true},
		{now: time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC), want: false},
		{now: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), want: false},
	}
	for _, tc := range cases {
		if got := window.Contains(tc.now); got != tc.want {
			t.Fatalf("Contains(%v) = %v, want %v", tc.now, got, tc.want)
		}
	}
	if !(DiscountWindow{}).Contains(time.Now()) {
		t.Fatalf("expected an open window to contain any date")
	}
}

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"customer":         RoleCustomer,
		" ADMIN ":          RoleAdmin,
		"delivery_agent":   RoleDeliveryAgent,
		"delivery_manager": RoleDeliveryAgent,
	}
	for raw, want := range cases {
		got, err := ParseRole(raw)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := ParseRole("librarian"); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
	if _, err := ParseRequestKind("rental"); err == nil {
		t.Fatalf("expected unknown kind to be rejected")
	}
}

func TestOrderCloneIsDeep(t *testing.T) {
	returned := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	discount := DiscountApplication{Kind: DiscountKindItem, Item: &ItemDiscount{Code: "BOOK", BookID: "book-1"}}
	original := Order{
		ID:       "ord_1",
		Items:    []OrderItem{{BookID: "book-1", Quantity: 1}},
		Notes:    []Note{{ID: "note_1", Body: "hello"}},
		Discount: &discount,
		Borrow:   &BorrowTerms{ActualReturnDate: &returned},
		Fine:     &Fine{Amount: 300},
	}

	clone := original.Clone()
	clone.Items[0].Quantity = 5
	clone.Notes[0].Body = "changed"
	clone.Discount.Item.BookID = "book-2"
	*clone.Borrow.ActualReturnDate = returned.AddDate(0, 0, 1)
	clone.Fine.Amount = 0

	if original.Items[0].Quantity != 1 || original.Notes[0].Body != "hello" {
		t.Fatalf("expected slices to be copied")
	}
	if original.Discount.Item.BookID != "book-1" || original.Fine.Amount != 300 {
		t.Fatalf("expected nested pointers to be copied")
	}
	if !original.Borrow.ActualReturnDate.Equal(returned) {
		t.Fatalf("expected return date to be copied")
	}
	if !original.IsPersisted() || (Order{}).IsPersisted() {
		t.Fatalf("unexpected IsPersisted result")
	}
}
