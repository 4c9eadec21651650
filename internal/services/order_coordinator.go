package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	"github.com/yomnaalset/bookstore/internal/repositories"
)

const (
	coordinatorInstrumentation = "github.com/yomnaalset/bookstore/internal/services"
	maxChangeAttempts          = 2

	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"
)

var coordinatorTracer = otel.Tracer(coordinatorInstrumentation)

// OrderChangeAction names the kind of mutation sent to the backend.
type OrderChangeAction string

const (
	OrderChangeTransition         OrderChangeAction = "transition"
	OrderChangeAssignDelivery     OrderChangeAction = "assign_delivery"
	OrderChangeRespondDelivery    OrderChangeAction = "respond_delivery"
	OrderChangeStartDelivery      OrderChangeAction = "start_delivery"
	OrderChangeCompleteDelivery   OrderChangeAction = "complete_delivery"
	OrderChangeReassignDelivery   OrderChangeAction = "reassign_delivery"
	OrderChangeRecordFinePayment  OrderChangeAction = "record_fine_payment"
	OrderChangeConfirmCashPayment OrderChangeAction = "confirm_cash_payment"
	OrderChangeAppendNote         OrderChangeAction = "append_note"
	OrderChangeEditNote           OrderChangeAction = "edit_note"
	OrderChangeDeleteNote         OrderChangeAction = "delete_note"
)

// OrderChange is a locally validated mutation handed to the backend. ExpectedUpdatedAt carries the
// snapshot version it was validated against; Proposed is the local projection of the outcome.
// Accept holds the agent's answer, the approval of a fine payment or whether cash was collected.
type OrderChange struct {
	OrderID           string
	Action            OrderChangeAction
	ActorID           string
	ActorRole         domain.Role
	TargetStatus      domain.Status
	AgentID           string
	Accept            bool
	Reason            string
	PaymentMethod     domain.PaymentMethod
	NoteID            string
	NoteBody          string
	ExpectedUpdatedAt time.Time
	Proposed          domain.Order
}

// OrderGateway is the backend system of record.
type OrderGateway interface {
	FetchOrder(ctx context.Context, orderID string) (domain.Order, error)
	CreateOrder(ctx context.Context, draft domain.Order) (domain.Order, error)
	SubmitChange(ctx context.Context, change OrderChange) (domain.Order, error)
}

// GatewayError is implemented by transport errors that expose the HTTP status and backend error body.
type GatewayError interface {
	error
	HTTPStatus() int
	ErrorCode() string
	ErrorMessage() string
}

// OrderEvent is published after the backend accepted a new order or a status change.
type OrderEvent struct {
	Type           string              `json:"type"`
	OrderID        string              `json:"order_id"`
	OrderNumber    string              `json:"order_number"`
	Kind           domain.RequestKind  `json:"order_type"`
	PreviousStatus domain.Status       `json:"previous_status,omitempty"`
	CurrentStatus  domain.Status       `json:"status"`
	ActorRole      domain.Role         `json:"actor_role,omitempty"`
	OccurredAt     time.Time           `json:"occurred_at"`
	Notification   NotificationPayload `json:"notification"`
}

// OrderEventPublisher delivers order events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderCoordinatorDeps bundles collaborators for OrderCoordinator.
type OrderCoordinatorDeps struct {
	Gateway    OrderGateway
	Store      *OrderStore
	Lifecycle  *RequestLifecycle
	Delivery   *DeliveryAssignmentTracker
	Aggregates *OrderAggregateService
	Events     OrderEventPublisher
	// Redemptions is optional; when set, discounted submissions are recorded against the customer.
	Redemptions repositories.DiscountRedemptionLog
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Meter       metric.Meter
}

// OrderCoordinator validates order changes locally, submits them to the backend and reconciles the
// store with the backend's answer. Changes to one order are applied one at a time in issue order.
type OrderCoordinator struct {
	gateway     OrderGateway
	store       *OrderStore
	lifecycle   *RequestLifecycle
	delivery    *DeliveryAssignmentTracker
	aggregates  *OrderAggregateService
	events      OrderEventPublisher
	redemptions repositories.DiscountRedemptionLog
	clock       func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)

	changes        metric.Int64Counter
	changesEnabled bool

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// TransitionCommand requests a plain status change. ActorID must own the order when Role is the
// customer and must hold the assignment when Role is the delivery agent.
type TransitionCommand struct {
	OrderID string
	ActorID string
	To      domain.Status
	Role    domain.Role
	Reason  string
}

// AssignDeliveryCommand assigns or reassigns an agent.
type AssignDeliveryCommand struct {
	OrderID string
	ActorID string
	AgentID string
}

// RespondDeliveryCommand records the agent's answer to an assignment.
type RespondDeliveryCommand struct {
	OrderID string
	ActorID string
	Accept  bool
	Reason  string
}

// DeliveryStepCommand starts or completes the delivery held by ActorID.
type DeliveryStepCommand struct {
	OrderID string
	ActorID string
}

// FinePaymentCommand records the customer's attempt to pay the order's fine.
type FinePaymentCommand struct {
	OrderID string
	ActorID string
	Attempt PaymentAttempt
}

// CashConfirmationCommand reports whether a pending cash payment was collected.
type CashConfirmationCommand struct {
	OrderID   string
	ActorID   string
	Role      domain.Role
	Collected bool
}

// NoteCommand appends, edits or deletes a note. NoteID is ignored when appending.
type NoteCommand struct {
	OrderID string
	NoteID  string
	ActorID string
	Role    domain.Role
	Body    string
}

// NewOrderCoordinator wires dependencies into an OrderCoordinator.
func NewOrderCoordinator(deps OrderCoordinatorDeps) (*OrderCoordinator, error) {
	if deps.Gateway == nil {
		return nil, errors.New("order coordinator: gateway is required")
	}
	if deps.Store == nil {
		return nil, errors.New("order coordinator: store is required")
	}
	if deps.Lifecycle == nil || deps.Delivery == nil || deps.Aggregates == nil {
		return nil, errors.New("order coordinator: lifecycle, delivery tracker and aggregate service are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(coordinatorInstrumentation)
	}
	changes, err := meter.Int64Counter(
		"storefront.lifecycle.transitions",
		metric.WithDescription("Order changes submitted to the backend by outcome"),
	)
	if err != nil {
		logger(context.Background(), "order.metrics.register_failed", map[string]any{"error": err.Error()})
	}
	return &OrderCoordinator{
		gateway:     deps.Gateway,
		store:       deps.Store,
		lifecycle:   deps.Lifecycle,
		delivery:    deps.Delivery,
		aggregates:  deps.Aggregates,
		events:      deps.Events,
		redemptions: deps.Redemptions,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:         logger,
		changes:        changes,
		changesEnabled: err == nil,
		locks:          make(map[string]chan struct{}),
	}, nil
}

// Submit sends a priced draft to the backend and stores the persisted order.
func (c *OrderCoordinator) Submit(ctx context.Context, draft domain.Order) (domain.Order, error) {
	if draft.IsPersisted() {
		return domain.Order{}, fmt.Errorf("%w: order %s was already submitted", ErrOrderInvalidState, draft.ID)
	}
	if draft.Status != InitialStatus(draft.Kind) {
		return domain.Order{}, fmt.Errorf("%w: drafts must be %s", ErrOrderInvalidState, InitialStatus(draft.Kind))
	}
	if len(draft.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	priced, err := c.aggregates.Reprice(draft)
	if err != nil {
		return domain.Order{}, err
	}

	ctx, span := coordinatorTracer.Start(ctx, "orders.submit", trace.WithAttributes(
		attribute.String("order.kind", string(draft.Kind)),
	))
	defer span.End()

	created, err := c.gateway.CreateOrder(ctx, priced)
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.logger(ctx, "order.response.discarded", map[string]any{"operation": "submit", "error": ctxErr.Error()})
		return domain.Order{}, ctxErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return domain.Order{}, c.translateGatewayError(err, priced, domain.StatusPending)
	}
	if created.ID == "" {
		return domain.Order{}, errors.New("order coordinator: backend returned an order without id")
	}
	c.store.Replace(created)
	c.recordRedemption(ctx, priced, created)
	c.publish(ctx, "", created, domain.RoleCustomer)
	span.SetAttributes(attribute.String("order.id", created.ID))
	return created.Clone(), nil
}

// Refresh fetches the authoritative order and replaces the local snapshot.
func (c *OrderCoordinator) Refresh(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := c.gateway.FetchOrder(ctx, orderID)
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.logger(ctx, "order.response.discarded", map[string]any{"operation": "fetch", "orderId": orderID})
		return domain.Order{}, ctxErr
	}
	if err != nil {
		var gwErr GatewayError
		if errors.As(err, &gwErr) && gwErr.HTTPStatus() == http.StatusNotFound {
			c.store.Remove(orderID)
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return domain.Order{}, err
	}
	c.store.Replace(order)
	return order.Clone(), nil
}

// Get returns the backend's current order and refreshes the local snapshot with it.
func (c *OrderCoordinator) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return c.Refresh(ctx, orderID)
}

// snapshot returns the stored order for local validation, fetching it when it is not known locally.
func (c *OrderCoordinator) snapshot(ctx context.Context, orderID string) (domain.Order, error) {
	if order, ok := c.store.Get(orderID); ok {
		return order, nil
	}
	return c.Refresh(ctx, orderID)
}

// RequestTransition validates and submits a status change. Entering an assigned status requires an
// agent and must go through AssignDelivery.
func (c *OrderCoordinator) RequestTransition(ctx context.Context, cmd TransitionCommand) (domain.Order, error) {
	return c.execute(ctx, cmd.OrderID, OrderChangeTransition, cmd.Role, cmd.ActorID, func(current domain.Order) (domain.Order, OrderChange, error) {
		if target, ok := deliveryAssignTargets[current.Kind][current.Status]; ok && target == cmd.To {
			return domain.Order{}, OrderChange{}, fmt.Errorf("%w: moving to %s requires assigning a delivery agent", ErrOrderInvalidInput, cmd.To)
		}
		var (
			next domain.Order
			err  error
		)
		if cmd.To == domain.StatusCancelled {
			next, err = c.aggregates.Cancel(current, cmd.Role, cmd.Reason)
		} else {
			next, err = c.lifecycle.Transition(current, cmd.To, cmd.Role)
		}
		if err != nil {
			return domain.Order{}, OrderChange{}, err
		}
		return next, OrderChange{TargetStatus: cmd.To, Reason: next.CancellationReason}, nil
	})
}

// AssignDelivery assigns an agent to an order in a delivery-eligible status.
func (c *OrderCoordinator) AssignDelivery(ctx context.Context, cmd AssignDeliveryCommand) (domain.Order, error) {
	return c.execute(ctx, cmd.OrderID, OrderChangeAssignDelivery, domain.RoleAdmin, cmd.ActorID, func(current domain.Order) (domain.Order, OrderChange, error) {
		next, err := c.delivery.Assign(current, cmd.AgentID)
		if err != nil {
			return domain.Order{}, OrderChange{}, err
		}
		return next, OrderChange{TargetStatus: next.Status, AgentID: next.DeliveryAssignment.AgentID}, nil
	})
}

// RespondDelivery records the assigned agent's acceptance or rejection.
func (c *OrderCoordinator) RespondDelivery(ctx context.Context, cmd RespondDeliveryCommand) (domain.Order, error) {
	return c.execute(ctx, cmd.OrderID, OrderChangeRespondDelivery, domain.RoleDeliveryAgent, cmd.ActorID, func(current domain.Order) (domain.Order, OrderChange, error) {
		next, err := c.delivery.RespondOnOrder(current, cmd.Accept, cmd.Reason)
		if err != nil {
			return domain.Order{}, OrderChange{}, err
		}
		return next, OrderChange{
			TargetStatus: next.Status,
			AgentID:      next.DeliveryAssignment.AgentID,
			Accept:       cmd.Accept,
			Reason:       next.DeliveryAssignment.RejectionReason,
		}, nil
	})
}

// StartDelivery marks the accepted assignment as under way.
func (c *OrderCoordinator) StartDelivery(ctx context.Context, cmd DeliveryStepCommand) (domain.Order, error) {
	return c.execute(ctx, cmd.OrderID, OrderChangeStartDelivery, domain.RoleDeliveryAgent, cmd.ActorID, func(current domain.Order) (domain.Order, OrderChange, error) {
		next, err := c.delivery.StartOnOrder(current)
		if err != nil {
			return domain.Order{}, OrderChange{}, err
		}
		return next, OrderChange{TargetStatus: next.Status, AgentID: next.DeliveryAssignment.AgentID}, nil
	})
}

// CompleteDelivery finishes the assignment and advances the order.
func (c *OrderCoordinator) CompleteDelivery(ctx context.Context, cmd DeliveryStepCommand) (domain.Order, error) {
	return c.execute(ctx, cmd.OrderID, OrderChangeCompleteDelivery, domain.RoleDeliveryAgent, cmd.ActorID, func(current domain.Order) (domain.Order, OrderChange, error) {
		next, err := c.delivery.CompleteOnOrder(current)
		if err != nil {
			return domain.Order{}, OrderChange{}, err
		}
		return next, OrderChange{TargetStatus: next.Status, AgentID: next.DeliveryAssignment.AgentID}, nil
	})
}

// ReassignDelivery replaces a pending or rejected assignment with one for another agent.
func (c *OrderCoordinator) ReassignDelivery(ctx context.Context, cmd AssignDeliveryCommand) (domain.Order, error) {
	return c.execute(ctx, cmd.OrderID, OrderChangeReassignDelivery, domain.RoleAdmin, cmd.ActorID, func(current domain.Order) (domain.Order, OrderChange, error) {
		next, err := c.delivery.ReassignOnOrder(current, cmd.AgentID)
		if err != nil {
			return domain.Order{}, OrderChange{}, err
		}
		return next, OrderChange{TargetStatus: next.Status, AgentID: next.DeliveryAssignment.AgentID}, nil
	})
}

// RecordFinePayment applies the customer's payment attempt to the fine of their order.
func (c *OrderCoordinator) RecordFinePayment(ctx context.Context, cmd FinePaymentCommand) (domain.Order, error) {
	return c.execute(ctx, cmd.OrderID, OrderChangeRecordFinePayment, domain.RoleCustomer, cmd.ActorID, func(current domain.Order) (domain.Order, OrderChange, error) {
		next, err := c.aggregates.RecordFinePayment(current, cmd.Attempt)
		if err != nil {
			return domain.Order{}, OrderChange{}, err
		}
		return next, OrderChange{
			TargetStatus:  current.Status,
			PaymentMethod: cmd.Attempt.Method,
			Accept:        cmd.Attempt.Approved,
		}, nil
	})
}

// ConfirmCashPayment settles a pending cash fine payment. Admins and the assigned agent may confirm.
func (c *OrderCoordinator) ConfirmCashPayment(ctx context.Context, cmd CashConfirmationCommand) (domain.Order, error) {
	return c.execute(ctx, cmd.OrderID, OrderChangeConfirmCashPayment, cmd.Role, cmd.ActorID, func(current domain.Order) (domain.Order, OrderChange, error) {
		if cmd.Role != domain.RoleAdmin && cmd.Role != domain.RoleDeliveryAgent {
			return domain.Order{}, OrderChange{}, &LifecycleError{
				Code:   LifecycleUnauthorized,
				Kind:   current.Kind,
				From:   current.Status,
				Role:   cmd.Role,
				Detail: "only admins and the assigned agent confirm cash payments",
			}
		}
		next, err := c.aggregates.ConfirmFineCashPayment(current, cmd.Collected)
		if err != nil {
			return domain.Order{}, OrderChange{}, err
		}
		return next, OrderChange{
			TargetStatus:  current.Status,
			PaymentMethod: domain.PaymentMethodCash,
			Accept:        cmd.Collected,
		}, nil
	})
}

// AppendNote adds a note authored by the actor.
func (c *OrderCoordinator) AppendNote(ctx context.Context, cmd NoteCommand) (domain.Order, error) {
	return c.execute(ctx, cmd.OrderID, OrderChangeAppendNote, cmd.Role, cmd.ActorID, func(current domain.Order) (domain.Order, OrderChange, error) {
		next, err := c.aggregates.AppendNote(current, cmd.ActorID, cmd.Role, cmd.Body)
		if err != nil {
			return domain.Order{}, OrderChange{}, err
		}
		added := next.Notes[len(next.Notes)-1]
		return next, OrderChange{TargetStatus: current.Status, NoteID: added.ID, NoteBody: added.Body}, nil
	})
}

// EditNote rewrites a note when the backend granted edit permission.
func (c *OrderCoordinator) EditNote(ctx context.Context, cmd NoteCommand) (domain.Order, error) {
	return c.execute(ctx, cmd.OrderID, OrderChangeEditNote, cmd.Role, cmd.ActorID, func(current domain.Order) (domain.Order, OrderChange, error) {
		next, err := c.aggregates.EditNote(current, cmd.NoteID, cmd.Body)
		if err != nil {
			return domain.Order{}, OrderChange{}, err
		}
		body := ""
		for _, note := range next.Notes {
			if note.ID == cmd.NoteID {
				body = note.Body
			}
		}
		return next, OrderChange{TargetStatus: current.Status, NoteID: cmd.NoteID, NoteBody: body}, nil
	})
}

// DeleteNote removes a note when the backend granted delete permission.
func (c *OrderCoordinator) DeleteNote(ctx context.Context, cmd NoteCommand) (domain.Order, error) {
	return c.execute(ctx, cmd.OrderID, OrderChangeDeleteNote, cmd.Role, cmd.ActorID, func(current domain.Order) (domain.Order, OrderChange, error) {
		next, err := c.aggregates.DeleteNote(current, cmd.NoteID)
		if err != nil {
			return domain.Order{}, OrderChange{}, err
		}
		return next, OrderChange{TargetStatus: current.Status, NoteID: cmd.NoteID}, nil
	})
}

type changePlan func(current domain.Order) (domain.Order, OrderChange, error)

func (c *OrderCoordinator) execute(ctx context.Context, orderID string, action OrderChangeAction, role domain.Role, actorID string, plan changePlan) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	unlock, err := c.acquire(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	ctx, span := coordinatorTracer.Start(ctx, "orders."+string(action), trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("actor.role", string(role)),
	))
	defer span.End()

	fail := func(current domain.Order, change OrderChange, err error) (domain.Order, error) {
		c.record(ctx, action, current, change.TargetStatus, outcomeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(action)+" failed")
		return domain.Order{}, err
	}

	for attempt := 1; ; attempt++ {
		current, err := c.snapshot(ctx, orderID)
		if err != nil {
			return fail(domain.Order{ID: orderID}, OrderChange{}, err)
		}
		if err := authorizeActor(current, role, actorID); err != nil {
			return fail(current, OrderChange{}, err)
		}
		proposed, change, err := plan(current)
		if err != nil {
			return fail(current, change, err)
		}
		change.OrderID = current.ID
		change.Action = action
		change.ActorID = strings.TrimSpace(actorID)
		change.ActorRole = role
		change.ExpectedUpdatedAt = current.UpdatedAt
		change.Proposed = proposed

		result, err := c.gateway.SubmitChange(ctx, change)
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.logger(ctx, "order.response.discarded", map[string]any{
				"orderId": orderID,
				"action":  string(action),
			})
			return domain.Order{}, ctxErr
		}

		if err != nil {
			err = c.translateGatewayError(err, current, change.TargetStatus)
			if errors.Is(err, ErrStaleState) && attempt < maxChangeAttempts {
				c.logStaleRetry(ctx, current, action, "backend rejected snapshot version")
				if _, err := c.Refresh(ctx, orderID); err != nil {
					return fail(current, change, err)
				}
				continue
			}
			return fail(current, change, err)
		}

		// The backend accepted the change; it is never resubmitted. When the store moved while the
		// request was in flight the newer of the two snapshots wins.
		final := result
		if latest, ok := c.store.Get(orderID); ok && !latest.UpdatedAt.Equal(current.UpdatedAt) {
			refreshed, err := c.Refresh(ctx, orderID)
			switch {
			case err != nil:
				c.logger(ctx, "order.transition.reconcile_failed", map[string]any{
					"orderId": orderID,
					"action":  string(action),
					"error":   err.Error(),
				})
			case refreshed.UpdatedAt.After(result.UpdatedAt):
				final = refreshed
			}
			c.logger(ctx, "order.transition.concurrent_update", map[string]any{
				"orderId":   orderID,
				"action":    string(action),
				"accepted":  result.UpdatedAt,
				"updatedAt": final.UpdatedAt,
			})
		}

		c.store.Replace(final)
		c.publish(ctx, current.Status, final, role)
		c.record(ctx, action, current, change.TargetStatus, "applied")
		c.logger(ctx, "order.transition.applied", map[string]any{
			"orderId":  final.ID,
			"action":   string(action),
			"from":     string(current.Status),
			"to":       string(final.Status),
			"attempts": attempt,
		})
		return final.Clone(), nil
	}
}

// authorizeActor ties customer and agent actions to the order's owner and assignee. Admin actions are
// gated by role alone.
func authorizeActor(current domain.Order, role domain.Role, actorID string) error {
	actorID = strings.TrimSpace(actorID)
	var detail string
	switch role {
	case domain.RoleCustomer:
		if actorID != "" && actorID == current.CustomerID {
			return nil
		}
		detail = "order belongs to another customer"
	case domain.RoleDeliveryAgent:
		if actorID != "" && current.DeliveryAssignment != nil && current.DeliveryAssignment.AgentID == actorID {
			return nil
		}
		detail = "order is not assigned to this delivery agent"
	default:
		return nil
	}
	return &LifecycleError{
		Code:   LifecycleUnauthorized,
		Kind:   current.Kind,
		From:   current.Status,
		Role:   role,
		Detail: detail,
	}
}

func (c *OrderCoordinator) translateGatewayError(err error, current domain.Order, target domain.Status) error {
	var gwErr GatewayError
	if !errors.As(err, &gwErr) {
		return err
	}
	switch gwErr.HTTPStatus() {
	case http.StatusConflict:
		code := LifecycleInvalidTransition
		switch strings.ToLower(strings.TrimSpace(gwErr.ErrorCode())) {
		case "stale_state", "version_conflict", "stale":
			code = LifecycleStaleState
		}
		return &LifecycleError{Code: code, Kind: current.Kind, From: current.Status, To: target, Err: err}
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s: %v", ErrOrderNotFound, current.ID, err)
	case http.StatusForbidden:
		return &LifecycleError{Code: LifecycleUnauthorized, Kind: current.Kind, From: current.Status, To: target, Err: err}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if current.DiscountCode != "" {
			if mapped := MapBackendDiscountError(gwErr.ErrorCode(), gwErr.ErrorMessage()); mapped != nil {
				return mapped
			}
		}
	}
	return err
}

func (c *OrderCoordinator) acquire(ctx context.Context, orderID string) (func(), error) {
	c.locksMu.Lock()
	sem, ok := c.locks[orderID]
	if !ok {
		sem = make(chan struct{}, 1)
		c.locks[orderID] = sem
	}
	c.locksMu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *OrderCoordinator) publish(ctx context.Context, previous domain.Status, order domain.Order, role domain.Role) {
	if c.events == nil || (previous != "" && previous == order.Status) {
		return
	}
	eventType := orderEventStatusChanged
	if previous == "" {
		eventType = orderEventCreated
	}
	event := OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Kind:           order.Kind,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		ActorRole:      role,
		OccurredAt:     c.clock(),
		Notification:   orderNotification(order, previous),
	}
	if err := c.events.PublishOrderEvent(ctx, event); err != nil {
		c.logger(ctx, "order.event.publish.failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

func (c *OrderCoordinator) recordRedemption(ctx context.Context, draft, created domain.Order) {
	if c.redemptions == nil {
		return
	}
	code := created.DiscountCode
	if draft.Discount != nil {
		code = draft.Discount.Code()
	}
	if code == "" {
		return
	}
	if err := c.redemptions.RecordRedemption(ctx, code, created.CustomerID, created.ID, c.clock()); err != nil {
		c.logger(ctx, "order.discount.redemption.failed", map[string]any{
			"orderId": created.ID,
			"code":    code,
			"error":   err.Error(),
		})
	}
}

func (c *OrderCoordinator) logStaleRetry(ctx context.Context, current domain.Order, action OrderChangeAction, reason string) {
	c.logger(ctx, "order.transition.stale_retry", map[string]any{
		"orderId":   current.ID,
		"action":    string(action),
		"updatedAt": current.UpdatedAt,
		"reason":    reason,
	})
}

func (c *OrderCoordinator) record(ctx context.Context, action OrderChangeAction, current domain.Order, target domain.Status, outcome string) {
	if !c.changesEnabled {
		return
	}
	c.changes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(current.Kind)),
		attribute.String("action", string(action)),
		attribute.String("from", string(current.Status)),
		attribute.String("to", string(target)),
		attribute.String("outcome", outcome),
	))
}

func outcomeOf(err error) string {
	var lifecycleErr *LifecycleError
	if errors.As(err, &lifecycleErr) {
		return string(lifecycleErr.Code)
	}
	switch {
	case errors.Is(err, ErrDeliveryInvalidState), errors.Is(err, ErrDeliveryInvalidInput):
		return "delivery_rejected"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrOrderInvalidInput), errors.Is(err, ErrOrderInvalidState):
		return "invalid"
	}
	return "error"
}
