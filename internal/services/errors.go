package services

import (
	"errors"
	"fmt"

	domain "github.com/yomnaalset/bookstore/internal/domain"
)

var (
	// ErrInvalidTransition is matched by every lifecycle error that rejects a requested status change.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	// ErrAlreadyTerminal indicates the order already reached a terminal status for its kind.
	ErrAlreadyTerminal = errors.New("lifecycle: order is in a terminal state")
	// ErrStaleState indicates the local snapshot no longer matches the authoritative order.
	ErrStaleState = errors.New("lifecycle: stale order state")
	// ErrUnauthorized indicates the actor lacks permission for the requested action.
	ErrUnauthorized = errors.New("lifecycle: unauthorized")

	// ErrInvalidPaymentTransition rejects fine payment changes outside the payment state machine.
	ErrInvalidPaymentTransition = errors.New("fine: invalid payment transition")

	// ErrOrderInvalidInput indicates malformed order data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderInvalidState indicates the order cannot be modified in its current state.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderNotFound indicates the order is unknown locally and remotely.
	ErrOrderNotFound = errors.New("order: not found")

	// ErrPricingInvalidInput indicates items or amounts that cannot be priced.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")

	// ErrDeliveryInvalidState indicates the assignment cannot move as requested.
	ErrDeliveryInvalidState = errors.New("delivery: invalid assignment state")
	// ErrDeliveryInvalidInput indicates missing agent ids or rejection reasons.
	ErrDeliveryInvalidInput = errors.New("delivery: invalid input")
)

// LifecycleErrorCode names a lifecycle failure.
type LifecycleErrorCode string

const (
	LifecycleInvalidTransition LifecycleErrorCode = "invalid_transition"
	LifecycleAlreadyTerminal   LifecycleErrorCode = "already_terminal"
	LifecycleStaleState        LifecycleErrorCode = "stale_state"
	LifecycleUnauthorized      LifecycleErrorCode = "unauthorized"
)

// LifecycleError describes a rejected status change. AlreadyTerminal and role-gated Unauthorized
// errors are also invalid transitions and match ErrInvalidTransition.
type LifecycleError struct {
	Code   LifecycleErrorCode
	Kind   domain.RequestKind
	From   domain.Status
	To     domain.Status
	Role   domain.Role
	Detail string
	Err    error
}

func (e *LifecycleError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("lifecycle: %s", e.Code)
	if e.Kind != "" {
		msg += fmt.Sprintf(" (%s %s -> %s", e.Kind, e.From, e.To)
		if e.Role != "" {
			msg += fmt.Sprintf(" as %s", e.Role)
		}
		msg += ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the transport error a lifecycle error was translated from, if any.
func (e *LifecycleError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match the package sentinels.
func (e *LifecycleError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrInvalidTransition:
		switch e.Code {
		case LifecycleInvalidTransition, LifecycleAlreadyTerminal:
			return true
		case LifecycleUnauthorized:
			return e.To != ""
		}
	case ErrAlreadyTerminal:
		return e.Code == LifecycleAlreadyTerminal
	case ErrStaleState:
		return e.Code == LifecycleStaleState
	case ErrUnauthorized:
		return e.Code == LifecycleUnauthorized
	}
	return false
}

// MessageKey returns the stable localisation key for the error.
func (e *LifecycleError) MessageKey() string {
	return "lifecycle." + string(e.Code)
}

// DiscountErrorCode names a discount failure. The first five values match the backend's wire codes.
type DiscountErrorCode string

const (
	DiscountInvalidCode              DiscountErrorCode = "invalid_code"
	DiscountInactive                 DiscountErrorCode = "code_inactive"
	DiscountExpired                  DiscountErrorCode = "code_expired"
	DiscountAlreadyApplied           DiscountErrorCode = "already_applied"
	DiscountUsageLimitExceeded       DiscountErrorCode = "usage_limit_exceeded"
	DiscountMalformedItemDiscount    DiscountErrorCode = "malformed_item_discount"
	DiscountMalformedInvoiceDiscount DiscountErrorCode = "malformed_invoice_discount"
)

var (
	ErrDiscountInvalidCode              = errors.New("discount: invalid code")
	ErrDiscountInactive                 = errors.New("discount: code inactive")
	ErrDiscountExpired                  = errors.New("discount: code expired")
	ErrDiscountAlreadyApplied           = errors.New("discount: code already applied")
	ErrDiscountUsageLimitExceeded       = errors.New("discount: usage limit exceeded")
	ErrDiscountMalformedItemDiscount    = errors.New("discount: malformed item discount")
	ErrDiscountMalformedInvoiceDiscount = errors.New("discount: malformed invoice discount")
)

var discountSentinels = map[DiscountErrorCode]error{
	DiscountInvalidCode:              ErrDiscountInvalidCode,
	DiscountInactive:                 ErrDiscountInactive,
	DiscountExpired:                  ErrDiscountExpired,
	DiscountAlreadyApplied:           ErrDiscountAlreadyApplied,
	DiscountUsageLimitExceeded:       ErrDiscountUsageLimitExceeded,
	DiscountMalformedItemDiscount:    ErrDiscountMalformedItemDiscount,
	DiscountMalformedInvoiceDiscount: ErrDiscountMalformedInvoiceDiscount,
}

// DiscountError reports why a code cannot be used.
type DiscountError struct {
	Code       DiscountErrorCode
	Discount   string
	Detail     string
	FromServer bool
}

func newDiscountError(code DiscountErrorCode, discountCode, detail string) *DiscountError {
	return &DiscountError{Code: code, Discount: discountCode, Detail: detail}
}

func (e *DiscountError) Error() string {
	if e == nil {
		return ""
	}
	msg := "discount: " + string(e.Code)
	if e.Discount != "" {
		msg += fmt.Sprintf(" (%s)", e.Discount)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is lets errors.Is match the ErrDiscount* sentinels.
func (e *DiscountError) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := discountSentinels[e.Code]
	return ok && sentinel == target
}

// MessageKey returns the stable localisation key for the error.
func (e *DiscountError) MessageKey() string {
	return "discount." + string(e.Code)
}

type messageKeyed interface {
	MessageKey() string
}

var sentinelMessageKeys = []struct {
	err error
	key string
}{
	{ErrInvalidPaymentTransition, "fine.invalid_payment_transition"},
	{ErrOrderInvalidInput, "order.invalid_input"},
	{ErrOrderInvalidState, "order.invalid_state"},
	{ErrOrderNotFound, "order.not_found"},
	{ErrPricingInvalidInput, "pricing.invalid_input"},
	{ErrDeliveryInvalidState, "delivery.invalid_state"},
	{ErrDeliveryInvalidInput, "delivery.invalid_input"},
}

// MessageKey maps any error returned by this package to a stable localisation key. The presentation
// layer owns the wording.
func MessageKey(err error) string {
	if err == nil {
		return ""
	}
	var keyed messageKeyed
	if errors.As(err, &keyed) {
		return keyed.MessageKey()
	}
	for _, entry := range sentinelMessageKeys {
		if errors.Is(err, entry.err) {
			return entry.key
		}
	}
	return "error.unexpected"
}
