package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	domain "github.com/yomnaalset/bookstore/internal/domain"
)

// PaymentAttempt is the outcome of a customer's attempt to settle a fine.
type PaymentAttempt struct {
	Method   domain.PaymentMethod
	Approved bool
}

// FineCalculator assesses overdue fines and advances their payment status.
type FineCalculator struct {
	perDayRate domain.Money
	clock      func() time.Time
}

// NewFineCalculator constructs a calculator for the configured per-day rate.
func NewFineCalculator(perDayRate domain.Money, clock func() time.Time) (*FineCalculator, error) {
	if perDayRate < 0 {
		return nil, errors.New("fine calculator: per-day rate must be non-negative")
	}
	if clock == nil {
		clock = time.Now
	}
	return &FineCalculator{
		perDayRate: perDayRate,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// PerDayRate returns the configured rate.
func (c *FineCalculator) PerDayRate() domain.Money {
	return c.perDayRate
}

// Assess returns the fine owed for returning on returnedOn, or nil when the book is not overdue.
// Days are counted between calendar dates; time of day is ignored.
func (c *FineCalculator) Assess(dueDate, returnedOn time.Time) *domain.Fine {
	due := domain.CalendarDate(dueDate)
	returned := domain.CalendarDate(returnedOn)
	if !returned.After(due) {
		return nil
	}
	days := int(returned.Sub(due).Hours() / 24)
	amount, ok := c.perDayRate.Times(days)
	if !ok {
		amount = domain.Money(math.MaxInt64)
	}
	return &domain.Fine{
		DueDate:       due,
		AssessedAt:    returned,
		DaysOverdue:   days,
		PerDayRate:    c.perDayRate,
		Amount:        amount,
		PaymentStatus: domain.FinePaymentUnpaid,
	}
}

// AssessOrder refreshes the fine of a borrowing order using its actual return date, or the current
// time while the book is still out. Fines that already left the unpaid state are kept as they are.
func (c *FineCalculator) AssessOrder(order domain.Order) domain.Order {
	if order.Kind != domain.RequestKindBorrowing || order.Borrow == nil || order.Borrow.DueDate.IsZero() {
		return order
	}
	if order.Fine != nil && order.Fine.PaymentStatus != domain.FinePaymentUnpaid {
		return order
	}
	returnedOn := c.clock()
	if order.Borrow.ActualReturnDate != nil {
		returnedOn = *order.Borrow.ActualReturnDate
	}
	next := order.Clone()
	next.Fine = c.Assess(order.Borrow.DueDate, returnedOn)
	return next
}

// RecordPayment applies a payment attempt. Cash waits for confirmation; approved card and online
// payments settle immediately. A declined attempt leaves the fine unpaid and is rejected.
func (c *FineCalculator) RecordPayment(fine domain.Fine, attempt PaymentAttempt) (domain.Fine, error) {
	if fine.PaymentStatus != domain.FinePaymentUnpaid {
		return fine, fmt.Errorf("%w: fine is %s", ErrInvalidPaymentTransition, fine.PaymentStatus)
	}
	next := fine.Clone()
	switch attempt.Method {
	case domain.PaymentMethodCash:
		next.PaymentStatus = domain.FinePaymentPendingCashPayment
	case domain.PaymentMethodCard, domain.PaymentMethodOnline:
		if !attempt.Approved {
			return fine, fmt.Errorf("%w: %s payment declined", ErrInvalidPaymentTransition, attempt.Method)
		}
		paidAt := c.clock()
		next.PaymentStatus = domain.FinePaymentPaid
		next.PaidAt = &paidAt
	default:
		return fine, fmt.Errorf("%w: unsupported payment method %q", ErrInvalidPaymentTransition, attempt.Method)
	}
	next.PaymentMethod = attempt.Method
	return next, nil
}

// ConfirmCashPayment settles a pending cash payment once an admin or agent reports the outcome.
func (c *FineCalculator) ConfirmCashPayment(fine domain.Fine, collected bool) (domain.Fine, error) {
	if fine.PaymentStatus != domain.FinePaymentPendingCashPayment {
		return fine, fmt.Errorf("%w: fine is %s", ErrInvalidPaymentTransition, fine.PaymentStatus)
	}
	next := fine.Clone()
	if !collected {
		next.PaymentStatus = domain.FinePaymentFailed
		return next, nil
	}
	paidAt := c.clock()
	next.PaymentStatus = domain.FinePaymentPaid
	next.PaidAt = &paidAt
	return next, nil
}
