package domain

import (
	"slices"
	"time"
)

// Order is the request/order of record shared by purchases, borrowings and return collections.
type Order struct {
	ID          string
	OrderNumber string
	Kind        RequestKind
	Status      Status
	CustomerID  string
	Items       []OrderItem
	Pricing     Pricing
	// DiscountCode is the reference reported by the backend; Discount carries the validated terms when
	// they were resolved locally.
	DiscountCode       string
	Discount           *DiscountApplication
	DeliveryAddress    *Address
	Payment            *PaymentInfo
	DeliveryAssignment *DeliveryAssignment
	AssignmentHistory  []DeliveryAssignment
	Borrow             *BorrowTerms
	Fine               *Fine
	Notes              []Note
	NotePermissions    NotePermissions
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OrderItem is a single line of an order.
type OrderItem struct {
	BookID    string
	Title     string
	Quantity  int
	UnitPrice Money
	LineTotal Money
}

// Pricing holds the derived monetary totals of an order.
type Pricing struct {
	Subtotal       Money
	TaxAmount      Money
	DeliveryCost   Money
	DiscountAmount Money
	FineAmount     Money
	FinalTotal     Money
}

// Address is the delivery destination.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Phone      string
}

// PaymentInfo records how the customer intends to pay for a purchase.
type PaymentInfo struct {
	Method    PaymentMethod
	Reference string
}

// BorrowTerms carries the loan window of a borrowing order.
type BorrowTerms struct {
	DueDate          time.Time
	DeliveredAt      *time.Time
	ActualReturnDate *time.Time
}

// Note is an entry in the order's append-only notes log.
type Note struct {
	ID         string
	AuthorID   string
	AuthorRole Role
	Body       string
	CreatedAt  time.Time
	EditedAt   *time.Time
}

// NotePermissions are granted by the backend; the client never infers them.
type NotePermissions struct {
	CanEditNotes   bool
	CanDeleteNotes bool
}

// IsPersisted reports whether the backend has accepted the order.
func (o Order) IsPersisted() bool {
	return o.ID != ""
}

// Clone returns a deep copy so snapshots can be handed out without sharing mutable state.
func (o Order) Clone() Order {
	out := o
	out.Items = slices.Clone(o.Items)
	out.AssignmentHistory = slices.Clone(o.AssignmentHistory)
	for i := range out.AssignmentHistory {
		out.AssignmentHistory[i] = out.AssignmentHistory[i].Clone()
	}
	out.Notes = slices.Clone(o.Notes)
	for i := range out.Notes {
		out.Notes[i].EditedAt = cloneTime(out.Notes[i].EditedAt)
	}
	if o.Discount != nil {
		d := o.Discount.Clone()
		out.Discount = &d
	}
	if o.DeliveryAddress != nil {
		addr := *o.DeliveryAddress
		out.DeliveryAddress = &addr
	}
	if o.Payment != nil {
		payment := *o.Payment
		out.Payment = &payment
	}
	if o.DeliveryAssignment != nil {
		assignment := o.DeliveryAssignment.Clone()
		out.DeliveryAssignment = &assignment
	}
	if o.Borrow != nil {
		terms := *o.Borrow
		terms.DeliveredAt = cloneTime(o.Borrow.DeliveredAt)
		terms.ActualReturnDate = cloneTime(o.Borrow.ActualReturnDate)
		out.Borrow = &terms
	}
	if o.Fine != nil {
		fine := o.Fine.Clone()
		out.Fine = &fine
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CalendarDate strips the time of day, keeping the date as observed in t's own location.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
