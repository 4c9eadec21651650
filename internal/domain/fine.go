package domain

import "time"

// FinePaymentStatus tracks settlement of a single fine.
type FinePaymentStatus string

const (
	FinePaymentUnpaid             FinePaymentStatus = "unpaid"
	FinePaymentPendingCashPayment FinePaymentStatus = "pending_cash_payment"
	FinePaymentPaid               FinePaymentStatus = "paid"
	FinePaymentFailed             FinePaymentStatus = "failed"
)

// PaymentMethod enumerates how a customer settles an amount.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodOnline PaymentMethod = "online"
)

// Fine is the overdue charge derived for a borrowing order.
type Fine struct {
	DueDate       time.Time
	AssessedAt    time.Time
	DaysOverdue   int
	PerDayRate    Money
	Amount        Money
	PaymentStatus FinePaymentStatus
	PaymentMethod PaymentMethod
	PaidAt        *time.Time
}

// Clone returns a copy with its own timestamp pointers.
func (f Fine) Clone() Fine {
	out := f
	out.PaidAt = cloneTime(f.PaidAt)
	return out
}
