package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/yomnaalset/bookstore/internal/domain"
)

// QuoteService prices a prospective order, optionally with a discount code, without submitting it.
type QuoteService struct {
	aggregates *OrderAggregateService
	discounts  *DiscountEngine
}

// QuoteCommand is a draft plus the code the customer typed, if any.
type QuoteCommand struct {
	Draft        NewDraftCommand
	DiscountCode string
}

// NewQuoteService wires the aggregate service and, when discounts are enabled, the discount engine.
func NewQuoteService(aggregates *OrderAggregateService, discounts *DiscountEngine) (*QuoteService, error) {
	if aggregates == nil {
		return nil, errors.New("quote service: aggregate service is required")
	}
	return &QuoteService{aggregates: aggregates, discounts: discounts}, nil
}

// DiscountsEnabled reports whether codes can be redeemed.
func (s *QuoteService) DiscountsEnabled() bool {
	return s.discounts != nil
}

// Quote builds the draft and applies the discount code when one is given.
func (s *QuoteService) Quote(ctx context.Context, cmd QuoteCommand) (domain.Order, error) {
	draft, err := s.aggregates.NewDraft(cmd.Draft)
	if err != nil {
		return domain.Order{}, err
	}
	if strings.TrimSpace(cmd.DiscountCode) == "" {
		return draft, nil
	}
	app, err := s.validate(ctx, cmd.DiscountCode, draft)
	if err != nil {
		return domain.Order{}, err
	}
	return s.discounts.Apply(draft, app)
}

// DraftEditOp names an item edit on an unsubmitted draft.
type DraftEditOp string

const (
	DraftEditAdd         DraftEditOp = "add"
	DraftEditSetQuantity DraftEditOp = "set_quantity"
	DraftEditRemove      DraftEditOp = "remove"
)

// DraftEdit is one item edit. Item is used by add; BookID and Quantity by the other operations.
type DraftEdit struct {
	Op       DraftEditOp
	Item     domain.OrderItem
	BookID   string
	Quantity int
}

// ReviseCommand replays the customer's item edits on top of a quoted draft.
type ReviseCommand struct {
	Quote QuoteCommand
	Role  domain.Role
	Edits []DraftEdit
}

// Revise builds the draft, applies the edits in order and re-applies the discount code to the result.
func (s *QuoteService) Revise(ctx context.Context, cmd ReviseCommand) (domain.Order, error) {
	draft, err := s.aggregates.NewDraft(cmd.Quote.Draft)
	if err != nil {
		return domain.Order{}, err
	}
	for i, edit := range cmd.Edits {
		switch edit.Op {
		case DraftEditAdd:
			draft, err = s.aggregates.AddItem(draft, cmd.Role, edit.Item)
		case DraftEditSetQuantity:
			draft, err = s.aggregates.SetQuantity(draft, cmd.Role, edit.BookID, edit.Quantity)
		case DraftEditRemove:
			draft, err = s.aggregates.RemoveItem(draft, cmd.Role, edit.BookID)
		default:
			err = fmt.Errorf("%w: unknown edit %q", ErrOrderInvalidInput, edit.Op)
		}
		if err != nil {
			return domain.Order{}, fmt.Errorf("edit %d: %w", i, err)
		}
	}
	if len(draft.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Quote.DiscountCode) == "" {
		return draft, nil
	}
	app, err := s.validate(ctx, cmd.Quote.DiscountCode, draft)
	if err != nil {
		return domain.Order{}, err
	}
	return s.discounts.Apply(draft, app)
}

// ValidateDiscount checks a code against the draft described by cmd without applying it.
func (s *QuoteService) ValidateDiscount(ctx context.Context, code string, cmd NewDraftCommand) (domain.DiscountApplication, error) {
	draft, err := s.aggregates.NewDraft(cmd)
	if err != nil {
		return domain.DiscountApplication{}, err
	}
	return s.validate(ctx, code, draft)
}

func (s *QuoteService) validate(ctx context.Context, code string, draft domain.Order) (domain.DiscountApplication, error) {
	if s.discounts == nil {
		return domain.DiscountApplication{}, newDiscountError(DiscountInactive, NormalizeDiscountCode(code), "discounts are disabled")
	}
	return s.discounts.Validate(ctx, ValidateDiscountCommand{
		Code:       code,
		CustomerID: draft.CustomerID,
		Draft:      &draft,
	})
}
