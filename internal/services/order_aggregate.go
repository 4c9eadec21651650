package services

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	"github.com/yomnaalset/bookstore/internal/platform/textutil"
)

const noteIDPrefix = "note_"

// OrderAggregateDeps bundles collaborators for OrderAggregateService.
type OrderAggregateDeps struct {
	Lifecycle   *RequestLifecycle
	Pricing     *PricingCalculator
	Fines       *FineCalculator
	Clock       func() time.Time
	IDGenerator func() string
	Sanitizer   func(string) string
}

// OrderAggregateService builds drafts and applies the order-level edits that are not status changes:
// items, identity, notes and cancellation reasons. Every operation returns a new snapshot.
type OrderAggregateService struct {
	lifecycle *RequestLifecycle
	pricing   *PricingCalculator
	fines     *FineCalculator
	clock     func() time.Time
	newID     func() string
	sanitize  func(string) string
}

// NewDraftCommand describes a customer's checkout, borrow or return request before submission.
type NewDraftCommand struct {
	Kind            domain.RequestKind
	CustomerID      string
	Items           []domain.OrderItem
	DeliveryCost    domain.Money
	DeliveryAddress *domain.Address
	Payment         *domain.PaymentInfo
	DueDate         time.Time
}

// NewOrderAggregateService wires dependencies into the service.
func NewOrderAggregateService(deps OrderAggregateDeps) (*OrderAggregateService, error) {
	if deps.Lifecycle == nil {
		return nil, errors.New("order aggregate: lifecycle is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order aggregate: pricing calculator is required")
	}
	if deps.Fines == nil {
		return nil, errors.New("order aggregate: fine calculator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return noteIDPrefix + ulid.Make().String() }
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = textutil.PlainText
	}
	return &OrderAggregateService{
		lifecycle: deps.Lifecycle,
		pricing:   deps.Pricing,
		fines:     deps.Fines,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
	}, nil
}

// NewDraft validates the command and returns a priced, unsubmitted order.
func (s *OrderAggregateService) NewDraft(cmd NewDraftCommand) (domain.Order, error) {
	if _, err := domain.ParseRequestKind(string(cmd.Kind)); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return domain.Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	draft := domain.Order{
		Kind:       cmd.Kind,
		Status:     InitialStatus(cmd.Kind),
		CustomerID: customerID,
		Items:      mergeItems(cmd.Items),
		Pricing:    domain.Pricing{DeliveryCost: cmd.DeliveryCost},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if cmd.DeliveryAddress != nil {
		addr := *cmd.DeliveryAddress
		draft.DeliveryAddress = &addr
	}
	if cmd.Payment != nil {
		payment := *cmd.Payment
		draft.Payment = &payment
	}
	if cmd.Kind == domain.RequestKindBorrowing {
		if cmd.DueDate.IsZero() {
			return domain.Order{}, fmt.Errorf("%w: borrowing requires a due date", ErrOrderInvalidInput)
		}
		if !domain.CalendarDate(cmd.DueDate).After(domain.CalendarDate(now)) {
			return domain.Order{}, fmt.Errorf("%w: due date must be after today", ErrOrderInvalidInput)
		}
		draft.Borrow = &domain.BorrowTerms{DueDate: cmd.DueDate.UTC()}
	}
	return s.Reprice(draft)
}

// Reprice recomputes line totals, the fine of borrowing orders, and the pricing totals.
func (s *OrderAggregateService) Reprice(order domain.Order) (domain.Order, error) {
	next := s.fines.AssessOrder(order.Clone())
	items, err := s.pricing.PriceItems(next.Items)
	if err != nil {
		return order, err
	}
	pricing, err := s.pricing.Compute(items, next.Pricing.DeliveryCost, next.Discount, next.Fine)
	if err != nil {
		return order, err
	}
	next.Items = items
	next.Pricing = pricing
	return next, nil
}

// AddItem adds a line, merging quantities when the book is already present.
func (s *OrderAggregateService) AddItem(order domain.Order, role domain.Role, item domain.OrderItem) (domain.Order, error) {
	if err := s.ensureEditable(order, role); err != nil {
		return order, err
	}
	if item.Quantity <= 0 {
		return order, fmt.Errorf("%w: quantity must be positive", ErrOrderInvalidInput)
	}
	next := order.Clone()
	next.Items = mergeItems(append(next.Items, item))
	return s.touchAndReprice(order, next)
}

// SetQuantity replaces the quantity of an existing line.
func (s *OrderAggregateService) SetQuantity(order domain.Order, role domain.Role, bookID string, quantity int) (domain.Order, error) {
	if err := s.ensureEditable(order, role); err != nil {
		return order, err
	}
	if quantity <= 0 {
		return order, fmt.Errorf("%w: quantity must be positive, remove the item instead", ErrOrderInvalidInput)
	}
	idx := slices.IndexFunc(order.Items, func(item domain.OrderItem) bool { return item.BookID == bookID })
	if idx < 0 {
		return order, fmt.Errorf("%w: book %s is not in the order", ErrOrderInvalidInput, bookID)
	}
	next := order.Clone()
	next.Items[idx].Quantity = quantity
	return s.touchAndReprice(order, next)
}

// RemoveItem drops a line from the draft.
func (s *OrderAggregateService) RemoveItem(order domain.Order, role domain.Role, bookID string) (domain.Order, error) {
	if err := s.ensureEditable(order, role); err != nil {
		return order, err
	}
	idx := slices.IndexFunc(order.Items, func(item domain.OrderItem) bool { return item.BookID == bookID })
	if idx < 0 {
		return order, fmt.Errorf("%w: book %s is not in the order", ErrOrderInvalidInput, bookID)
	}
	next := order.Clone()
	next.Items = slices.Delete(next.Items, idx, idx+1)
	return s.touchAndReprice(order, next)
}

// AssignIdentity records the backend id and order number. An order number never changes once set.
func (s *OrderAggregateService) AssignIdentity(order domain.Order, id, orderNumber string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	orderNumber = strings.TrimSpace(orderNumber)
	if id == "" || orderNumber == "" {
		return order, fmt.Errorf("%w: id and order number are required", ErrOrderInvalidInput)
	}
	if order.OrderNumber != "" && order.OrderNumber != orderNumber {
		return order, fmt.Errorf("%w: order number %s is immutable", ErrOrderInvalidState, order.OrderNumber)
	}
	if order.ID != "" && order.ID != id {
		return order, fmt.Errorf("%w: order id %s is immutable", ErrOrderInvalidState, order.ID)
	}
	next := order.Clone()
	next.ID = id
	next.OrderNumber = orderNumber
	next.UpdatedAt = s.clock()
	return next, nil
}

// Cancel moves a purchase to cancelled and records the sanitised reason.
func (s *OrderAggregateService) Cancel(order domain.Order, role domain.Role, reason string) (domain.Order, error) {
	next, err := s.lifecycle.Transition(order, domain.StatusCancelled, role)
	if err != nil {
		return order, err
	}
	next.CancellationReason = s.sanitize(reason)
	return next, nil
}

// AppendNote adds a note to the end of the log.
func (s *OrderAggregateService) AppendNote(order domain.Order, authorID string, role domain.Role, body string) (domain.Order, error) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return order, fmt.Errorf("%w: note author is required", ErrOrderInvalidInput)
	}
	body = s.sanitize(body)
	if body == "" {
		return order, fmt.Errorf("%w: note body is required", ErrOrderInvalidInput)
	}
	now := s.clock()
	next := order.Clone()
	next.Notes = append(next.Notes, domain.Note{
		ID:         s.newID(),
		AuthorID:   authorID,
		AuthorRole: role,
		Body:       body,
		CreatedAt:  now,
	})
	next.UpdatedAt = now
	return next, nil
}

// EditNote rewrites a note body when the backend granted edit permission.
func (s *OrderAggregateService) EditNote(order domain.Order, noteID, body string) (domain.Order, error) {
	if !order.NotePermissions.CanEditNotes {
		return order, &LifecycleError{Code: LifecycleUnauthorized, Detail: "editing notes is not permitted"}
	}
	idx := slices.IndexFunc(order.Notes, func(note domain.Note) bool { return note.ID == noteID })
	if idx < 0 {
		return order, fmt.Errorf("%w: note %s not found", ErrOrderInvalidInput, noteID)
	}
	body = s.sanitize(body)
	if body == "" {
		return order, fmt.Errorf("%w: note body is required", ErrOrderInvalidInput)
	}
	now := s.clock()
	next := order.Clone()
	next.Notes[idx].Body = body
	next.Notes[idx].EditedAt = &now
	next.UpdatedAt = now
	return next, nil
}

// DeleteNote removes a note when the backend granted delete permission.
func (s *OrderAggregateService) DeleteNote(order domain.Order, noteID string) (domain.Order, error) {
	if !order.NotePermissions.CanDeleteNotes {
		return order, &LifecycleError{Code: LifecycleUnauthorized, Detail: "deleting notes is not permitted"}
	}
	idx := slices.IndexFunc(order.Notes, func(note domain.Note) bool { return note.ID == noteID })
	if idx < 0 {
		return order, fmt.Errorf("%w: note %s not found", ErrOrderInvalidInput, noteID)
	}
	next := order.Clone()
	next.Notes = slices.Delete(next.Notes, idx, idx+1)
	next.UpdatedAt = s.clock()
	return next, nil
}

// RecordFinePayment applies a payment attempt to the order's fine.
func (s *OrderAggregateService) RecordFinePayment(order domain.Order, attempt PaymentAttempt) (domain.Order, error) {
	if order.Fine == nil {
		return order, fmt.Errorf("%w: order %s has no fine", ErrOrderInvalidState, order.ID)
	}
	fine, err := s.fines.RecordPayment(*order.Fine, attempt)
	if err != nil {
		return order, err
	}
	return s.withFine(order, fine), nil
}

// ConfirmFineCashPayment settles or fails a pending cash payment of the order's fine.
func (s *OrderAggregateService) ConfirmFineCashPayment(order domain.Order, collected bool) (domain.Order, error) {
	if order.Fine == nil {
		return order, fmt.Errorf("%w: order %s has no fine", ErrOrderInvalidState, order.ID)
	}
	fine, err := s.fines.ConfirmCashPayment(*order.Fine, collected)
	if err != nil {
		return order, err
	}
	return s.withFine(order, fine), nil
}

func (s *OrderAggregateService) withFine(order domain.Order, fine domain.Fine) domain.Order {
	next := order.Clone()
	next.Fine = &fine
	next.UpdatedAt = s.clock()
	return next
}

func (s *OrderAggregateService) ensureEditable(order domain.Order, role domain.Role) error {
	if role != domain.RoleCustomer {
		return &LifecycleError{Code: LifecycleUnauthorized, Kind: order.Kind, From: order.Status, Role: role, Detail: "only the customer edits items"}
	}
	if order.IsPersisted() {
		return fmt.Errorf("%w: items are locked once order %s is submitted", ErrOrderInvalidState, order.ID)
	}
	if order.Status != InitialStatus(order.Kind) {
		return fmt.Errorf("%w: items are locked once the request is %s", ErrOrderInvalidState, order.Status)
	}
	return nil
}

func (s *OrderAggregateService) touchAndReprice(original, next domain.Order) (domain.Order, error) {
	next.UpdatedAt = s.clock()
	repriced, err := s.Reprice(next)
	if err != nil {
		return original, err
	}
	return repriced, nil
}

func mergeItems(items []domain.OrderItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		item.BookID = strings.TrimSpace(item.BookID)
		if idx, ok := index[item.BookID]; ok {
			out[idx].Quantity += item.Quantity
			continue
		}
		index[item.BookID] = len(out)
		out = append(out, item)
	}
	return out
}
