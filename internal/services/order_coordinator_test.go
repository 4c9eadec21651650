package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/yomnaalset/bookstore/internal/domain"
)

type gatewayErr struct {
	status  int
	code    string
	message string
}

func (e *gatewayErr) Error() string        { return fmt.Sprintf("backend %d %s", e.status, e.code) }
func (e *gatewayErr) HTTPStatus() int      { return e.status }
func (e *gatewayErr) ErrorCode() string    { return e.code }
func (e *gatewayErr) ErrorMessage() string { return e.message }

type stubGateway struct {
	mu       sync.Mutex
	fetchFn  func(context.Context, string) (domain.Order, error)
	createFn func(context.Context, domain.Order) (domain.Order, error)
	submitFn func(context.Context, OrderChange) (domain.Order, error)
	fetches  int
	changes  []OrderChange
}

func (g *stubGateway) FetchOrder(ctx context.Context, orderID string) (domain.Order, error) {
	g.mu.Lock()
	g.fetches++
	g.mu.Unlock()
	if g.fetchFn != nil {
		return g.fetchFn(ctx, orderID)
	}
	return domain.Order{}, &gatewayErr{status: http.StatusNotFound}
}

func (g *stubGateway) CreateOrder(ctx context.Context, draft domain.Order) (domain.Order, error) {
	if g.createFn != nil {
		return g.createFn(ctx, draft)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (g *stubGateway) SubmitChange(ctx context.Context, change OrderChange) (domain.Order, error) {
	g.mu.Lock()
	g.changes = append(g.changes, change)
	g.mu.Unlock()
	if g.submitFn != nil {
		return g.submitFn(ctx, change)
	}
	return domain.Order{}, errors.New("not implemented")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type recordingRedemptions struct {
	codes []string
}

func (r *recordingRedemptions) RecordRedemption(_ context.Context, code, customerID, orderID string, _ time.Time) error {
	r.codes = append(r.codes, code+"/"+customerID+"/"+orderID)
	return nil
}

type coordinatorFixture struct {
	svc         testServices
	gateway     *stubGateway
	store       *OrderStore
	events      *recordingPublisher
	redemptions *recordingRedemptions
	logged      []string
	coordinator *OrderCoordinator
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	f := &coordinatorFixture{
		svc:         newTestServices(t),
		gateway:     &stubGateway{},
		store:       NewOrderStore(),
		events:      &recordingPublisher{},
		redemptions: &recordingRedemptions{},
	}
	coordinator, err := NewOrderCoordinator(OrderCoordinatorDeps{
		Gateway:     f.gateway,
		Store:       f.store,
		Lifecycle:   f.svc.lifecycle,
		Delivery:    f.svc.delivery,
		Aggregates:  f.svc.aggregates,
		Events:      f.events,
		Redemptions: f.redemptions,
		Clock:       fixedClock,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			f.logged = append(f.logged, event)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderCoordinator: %v", err)
	}
	f.coordinator = coordinator
	return f
}

// serve makes the stub backend answer fetches with the latest accepted version of order.
func (f *coordinatorFixture) serve(order domain.Order) *domain.Order {
	current := order.Clone()
	f.gateway.fetchFn = func(_ context.Context, orderID string) (domain.Order, error) {
		if orderID != current.ID {
			return domain.Order{}, &gatewayErr{status: http.StatusNotFound}
		}
		return current.Clone(), nil
	}
	return &current
}

func acceptChange(version time.Time) func(context.Context, OrderChange) (domain.Order, error) {
	return func(_ context.Context, change OrderChange) (domain.Order, error) {
		out := change.Proposed.Clone()
		out.UpdatedAt = version
		return out, nil
	}
}

func TestNewOrderCoordinatorRequiresDependencies(t *testing.T) {
	if _, err := NewOrderCoordinator(OrderCoordinatorDeps{}); err == nil {
		t.Fatalf("expected missing gateway to be rejected")
	}
	if _, err := NewOrderCoordinator(OrderCoordinatorDeps{Gateway: &stubGateway{}, Store: NewOrderStore()}); err == nil {
		t.Fatalf("expected missing services to be rejected")
	}
}

func TestOrderCoordinatorSubmit(t *testing.T) {
	f := newCoordinatorFixture(t)
	engine := newTestDiscountEngine(t, &stubDiscountCatalog{}, &stubUsageHistory{}, f.svc.pricing)
	draft, err := engine.Apply(purchaseDraft(t, f.svc), mustInvoiceDiscount(t, "save10", "10", 1, domain.DiscountWindow{}))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	var sent domain.Order
	f.gateway.createFn = func(_ context.Context, order domain.Order) (domain.Order, error) {
		sent = order
		out := order.Clone()
		out.ID = "ord_1"
		out.OrderNumber = "ORD-1"
		return out, nil
	}

	created, err := f.coordinator.Submit(context.Background(), draft)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sent.Pricing.FinalTotal.String() != "24.58" {
		t.Fatalf("expected the priced draft to be sent, got %s", sent.Pricing.FinalTotal)
	}
	if stored, ok := f.store.Get("ord_1"); !ok || stored.OrderNumber != created.OrderNumber {
		t.Fatalf("expected created order in store")
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != "order.created" || f.events.events[0].Notification.TemplateID != NotificationTemplateOrderCreated {
		t.Fatalf("unexpected events %+v", f.events.events)
	}
	if len(f.redemptions.codes) != 1 || f.redemptions.codes[0] != "SAVE10/cust-1/ord_1" {
		t.Fatalf("unexpected redemptions %v", f.redemptions.codes)
	}

	if _, err := f.coordinator.Submit(context.Background(), created); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected resubmission to be rejected, got %v", err)
	}
}

func TestOrderCoordinatorSubmitMapsDiscountRejection(t *testing.T) {
	f := newCoordinatorFixture(t)
	draft := purchaseDraft(t, f.svc)
	draft.DiscountCode = "SPRING"
	f.gateway.createFn = func(context.Context, domain.Order) (domain.Order, error) {
		return domain.Order{}, &gatewayErr{status: http.StatusBadRequest, message: "Discount code has expired"}
	}

	_, err := f.coordinator.Submit(context.Background(), draft)
	assertErrorIs(t, err, ErrDiscountExpired)
	if len(f.events.events) != 0 || len(f.redemptions.codes) != 0 {
		t.Fatalf("expected nothing published for a rejected submission")
	}
}

func TestOrderCoordinatorRequestTransition(t *testing.T) {
	f := newCoordinatorFixture(t)
	order := persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending)
	f.serve(order)
	accepted := fixedNow.Add(time.Minute)
	f.gateway.submitFn = acceptChange(accepted)

	result, err := f.coordinator.RequestTransition(context.Background(), TransitionCommand{
		OrderID: "ord_1",
		To:      domain.StatusWaitingForDeliveryManager,
		Role:    domain.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}
	if result.Status != domain.StatusWaitingForDeliveryManager || !result.UpdatedAt.Equal(accepted) {
		t.Fatalf("unexpected result %s %v", result.Status, result.UpdatedAt)
	}
	change := f.gateway.changes[0]
	if change.Action != OrderChangeTransition || change.ActorRole != domain.RoleAdmin || change.TargetStatus != domain.StatusWaitingForDeliveryManager {
		t.Fatalf("unexpected change %+v", change)
	}
	if !change.ExpectedUpdatedAt.Equal(order.UpdatedAt) {
		t.Fatalf("expected change to carry the validated version, got %v", change.ExpectedUpdatedAt)
	}
	if stored, _ := f.store.Get("ord_1"); !stored.UpdatedAt.Equal(accepted) {
		t.Fatalf("expected store to hold the backend answer")
	}
	if len(f.events.events) != 1 || f.events.events[0].PreviousStatus != domain.StatusPending {
		t.Fatalf("unexpected events %+v", f.events.events)
	}
}

func TestOrderCoordinatorCancelCarriesReason(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.serve(persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending))
	f.gateway.submitFn = acceptChange(fixedNow)

	result, err := f.coordinator.RequestTransition(context.Background(), TransitionCommand{
		OrderID: "ord_1",
		ActorID: "cust-1",
		To:      domain.StatusCancelled,
		Role:    domain.RoleCustomer,
		Reason:  " ordered twice ",
	})
	if err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}
	if result.CancellationReason != "ordered twice" || f.gateway.changes[0].Reason != "ordered twice" {
		t.Fatalf("expected sanitised reason on change and result, got %q", result.CancellationReason)
	}
}

func TestOrderCoordinatorRejectsLocallyWithoutCallingBackend(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.serve(persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusDelivered))

	_, err := f.coordinator.RequestTransition(context.Background(), TransitionCommand{OrderID: "ord_1", To: domain.StatusPending, Role: domain.RoleAdmin})
	assertErrorIs(t, err, ErrInvalidTransition)
	if len(f.gateway.changes) != 0 {
		t.Fatalf("expected no backend call, got %d", len(f.gateway.changes))
	}
}

func TestOrderCoordinatorAssignTargetNeedsAgent(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.serve(persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusWaitingForDeliveryManager))

	_, err := f.coordinator.RequestTransition(context.Background(), TransitionCommand{OrderID: "ord_1", To: domain.StatusAssignedToDelivery, Role: domain.RoleAdmin})
	assertErrorIs(t, err, ErrOrderInvalidInput)

	f.gateway.submitFn = acceptChange(fixedNow)
	result, err := f.coordinator.AssignDelivery(context.Background(), AssignDeliveryCommand{OrderID: "ord_1", AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("AssignDelivery: %v", err)
	}
	if result.Status != domain.StatusAssignedToDelivery || f.gateway.changes[0].AgentID != "agent-1" || f.gateway.changes[0].Action != OrderChangeAssignDelivery {
		t.Fatalf("unexpected assignment result %s %+v", result.Status, f.gateway.changes[0])
	}
}

func TestOrderCoordinatorRetriesStaleStateOnce(t *testing.T) {
	f := newCoordinatorFixture(t)
	order := persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending)
	f.serve(order)

	var calls int32
	f.gateway.submitFn = func(ctx context.Context, change OrderChange) (domain.Order, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return domain.Order{}, &gatewayErr{status: http.StatusConflict, code: "stale_state"}
		}
		return acceptChange(fixedNow)(ctx, change)
	}

	if _, err := f.coordinator.RequestTransition(context.Background(), TransitionCommand{OrderID: "ord_1", To: domain.StatusRejectedByAdmin, Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}
	if calls != 2 || f.gateway.fetches != 2 {
		t.Fatalf("expected one refresh and one retry, got %d submits %d fetches", calls, f.gateway.fetches)
	}
	if len(f.logged) == 0 || f.logged[0] != "order.transition.stale_retry" {
		t.Fatalf("expected stale retry to be logged, got %v", f.logged)
	}
}

func TestOrderCoordinatorSurfacesPersistentStaleState(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.serve(persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending))
	f.gateway.submitFn = func(context.Context, OrderChange) (domain.Order, error) {
		return domain.Order{}, &gatewayErr{status: http.StatusConflict, code: "version_conflict"}
	}

	_, err := f.coordinator.RequestTransition(context.Background(), TransitionCommand{OrderID: "ord_1", To: domain.StatusRejectedByAdmin, Role: domain.RoleAdmin})
	assertErrorIs(t, err, ErrStaleState)
	if len(f.gateway.changes) != maxChangeAttempts {
		t.Fatalf("expected %d attempts, got %d", maxChangeAttempts, len(f.gateway.changes))
	}
}

func TestOrderCoordinatorTranslatesBackendErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "conflict", err: &gatewayErr{status: http.StatusConflict, code: "invalid_transition"}, want: ErrInvalidTransition},
		{name: "forbidden", err: &gatewayErr{status: http.StatusForbidden}, want: ErrUnauthorized},
		{name: "gone", err: &gatewayErr{status: http.StatusNotFound}, want: ErrOrderNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newCoordinatorFixture(t)
			f.serve(persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending))
			f.gateway.submitFn = func(context.Context, OrderChange) (domain.Order, error) { return domain.Order{}, tc.err }

			_, err := f.coordinator.RequestTransition(context.Background(), TransitionCommand{OrderID: "ord_1", To: domain.StatusRejectedByAdmin, Role: domain.RoleAdmin})
			assertErrorIs(t, err, tc.want)
			if len(f.gateway.changes) != 1 {
				t.Fatalf("expected no retry, got %d attempts", len(f.gateway.changes))
			}
		})
	}

	f := newCoordinatorFixture(t)
	f.serve(persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending))
	opaque := &gatewayErr{status: http.StatusBadGateway}
	f.gateway.submitFn = func(context.Context, OrderChange) (domain.Order, error) { return domain.Order{}, opaque }
	_, err := f.coordinator.RequestTransition(context.Background(), TransitionCommand{OrderID: "ord_1", To: domain.StatusRejectedByAdmin, Role: domain.RoleAdmin})
	if !errors.Is(err, opaque) {
		t.Fatalf("expected transport error to propagate unchanged, got %v", err)
	}
}

func TestOrderCoordinatorDiscardsResponseAfterCancellation(t *testing.T) {
	f := newCoordinatorFixture(t)
	order := persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending)
	f.serve(order)

	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.submitFn = func(ctx context.Context, change OrderChange) (domain.Order, error) {
		cancel()
		return acceptChange(fixedNow)(ctx, change)
	}

	_, err := f.coordinator.RequestTransition(ctx, TransitionCommand{OrderID: "ord_1", To: domain.StatusRejectedByAdmin, Role: domain.RoleAdmin})
	assertErrorIs(t, err, context.Canceled)
	stored, _ := f.store.Get("ord_1")
	if stored.Status != domain.StatusPending {
		t.Fatalf("expected discarded response not to reach the store, got %s", stored.Status)
	}
	if len(f.events.events) != 0 {
		t.Fatalf("expected no events for a discarded response")
	}
}

func TestOrderCoordinatorReconcilesConcurrentUpdate(t *testing.T) {
	f := newCoordinatorFixture(t)
	order := persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending)
	backend := f.serve(order)
	accepted := fixedNow.Add(time.Minute)

	f.gateway.submitFn = func(ctx context.Context, change OrderChange) (domain.Order, error) {
		// A push notification lands while the request is in flight.
		pushed := order.Clone()
		pushed.UpdatedAt = fixedNow.Add(30 * time.Second)
		f.store.Replace(pushed)

		result, _ := acceptChange(accepted)(ctx, change)
		*backend = result.Clone()
		return result, nil
	}

	result, err := f.coordinator.RequestTransition(context.Background(), TransitionCommand{OrderID: "ord_1", To: domain.StatusWaitingForDeliveryManager, Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}
	if result.Status != domain.StatusWaitingForDeliveryManager || !result.UpdatedAt.Equal(accepted) {
		t.Fatalf("expected refreshed backend state, got %s %v", result.Status, result.UpdatedAt)
	}
	if stored, _ := f.store.Get("ord_1"); !stored.UpdatedAt.Equal(accepted) {
		t.Fatalf("expected store to be replaced wholesale with the backend state")
	}
}

func TestOrderCoordinatorKeepsAcceptedChangeWhenBackendMovesFurther(t *testing.T) {
	f := newCoordinatorFixture(t)
	order := persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending)
	backend := f.serve(order)
	accepted := fixedNow.Add(time.Minute)
	assignedAt := fixedNow.Add(2 * time.Minute)

	f.gateway.submitFn = func(ctx context.Context, change OrderChange) (domain.Order, error) {
		pushed := order.Clone()
		pushed.UpdatedAt = fixedNow.Add(30 * time.Second)
		f.store.Replace(pushed)

		result, _ := acceptChange(accepted)(ctx, change)
		// Another admin assigned an agent before this response arrived.
		further := result.Clone()
		further.Status = domain.StatusAssignedToDelivery
		further.UpdatedAt = assignedAt
		*backend = further
		return result, nil
	}

	result, err := f.coordinator.RequestTransition(context.Background(), TransitionCommand{OrderID: "ord_1", To: domain.StatusWaitingForDeliveryManager, Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}
	if len(f.gateway.changes) != 1 {
		t.Fatalf("expected the accepted change to be submitted once, got %d submits", len(f.gateway.changes))
	}
	if result.Status != domain.StatusAssignedToDelivery || !result.UpdatedAt.Equal(assignedAt) {
		t.Fatalf("expected the newer backend snapshot, got %s %v", result.Status, result.UpdatedAt)
	}
	if stored, _ := f.store.Get("ord_1"); stored.Status != domain.StatusAssignedToDelivery {
		t.Fatalf("expected store to hold the newer snapshot, got %s", stored.Status)
	}
	if len(f.events.events) != 1 || f.events.events[0].PreviousStatus != domain.StatusPending || f.events.events[0].CurrentStatus != domain.StatusAssignedToDelivery {
		t.Fatalf("unexpected events %+v", f.events.events)
	}
}

func TestOrderCoordinatorKeepsResultWhenReconcileFetchFails(t *testing.T) {
	f := newCoordinatorFixture(t)
	order := persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending)
	f.serve(order)
	accepted := fixedNow.Add(time.Minute)

	f.gateway.submitFn = func(ctx context.Context, change OrderChange) (domain.Order, error) {
		pushed := order.Clone()
		pushed.UpdatedAt = fixedNow.Add(30 * time.Second)
		f.store.Replace(pushed)
		f.gateway.fetchFn = func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, &gatewayErr{status: http.StatusBadGateway}
		}
		return acceptChange(accepted)(ctx, change)
	}

	result, err := f.coordinator.RequestTransition(context.Background(), TransitionCommand{OrderID: "ord_1", To: domain.StatusWaitingForDeliveryManager, Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}
	if len(f.gateway.changes) != 1 || !result.UpdatedAt.Equal(accepted) {
		t.Fatalf("expected the accepted result after one submit, got %d submits %v", len(f.gateway.changes), result.UpdatedAt)
	}
	if stored, _ := f.store.Get("ord_1"); !stored.UpdatedAt.Equal(accepted) {
		t.Fatalf("expected store to hold the accepted result")
	}
}

func TestOrderCoordinatorRejectsAnotherCustomersOrder(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.serve(persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending))
	f.gateway.submitFn = acceptChange(fixedNow)

	for _, actorID := range []string{"cust-2", ""} {
		_, err := f.coordinator.RequestTransition(context.Background(), TransitionCommand{
			OrderID: "ord_1",
			ActorID: actorID,
			To:      domain.StatusCancelled,
			Role:    domain.RoleCustomer,
		})
		assertErrorIs(t, err, ErrUnauthorized)
		if errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected an ownership failure, not a transition failure: %v", err)
		}
	}
	if len(f.gateway.changes) != 0 {
		t.Fatalf("expected no backend call, got %d", len(f.gateway.changes))
	}
}

func TestOrderCoordinatorRejectsUnassignedAgent(t *testing.T) {
	f := newCoordinatorFixture(t)
	order := persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusWaitingForDeliveryManager)
	assigned, err := f.svc.delivery.Assign(order, "agent-1")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	accepted, err := f.svc.delivery.RespondOnOrder(assigned, true, "")
	if err != nil {
		t.Fatalf("RespondOnOrder: %v", err)
	}
	f.serve(accepted)
	f.gateway.submitFn = acceptChange(fixedNow)

	_, err = f.coordinator.StartDelivery(context.Background(), DeliveryStepCommand{OrderID: "ord_1", ActorID: "agent-2"})
	assertErrorIs(t, err, ErrUnauthorized)
	_, err = f.coordinator.RespondDelivery(context.Background(), RespondDeliveryCommand{OrderID: "ord_1", ActorID: "agent-2", Accept: true})
	assertErrorIs(t, err, ErrUnauthorized)
	if len(f.gateway.changes) != 0 {
		t.Fatalf("expected no backend call, got %d", len(f.gateway.changes))
	}

	started, err := f.coordinator.StartDelivery(context.Background(), DeliveryStepCommand{OrderID: "ord_1", ActorID: "agent-1"})
	if err != nil {
		t.Fatalf("StartDelivery: %v", err)
	}
	if started.Status != domain.StatusInDelivery || f.gateway.changes[0].ActorID != "agent-1" {
		t.Fatalf("unexpected start result %s %+v", started.Status, f.gateway.changes[0])
	}
}

func TestOrderCoordinatorGetReadsBackend(t *testing.T) {
	f := newCoordinatorFixture(t)
	order := persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending)
	f.store.Replace(order)
	newer := order.Clone()
	newer.Status = domain.StatusWaitingForDeliveryManager
	newer.UpdatedAt = fixedNow
	f.serve(newer)

	got, err := f.coordinator.Get(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusWaitingForDeliveryManager || f.gateway.fetches != 1 {
		t.Fatalf("expected the backend snapshot, got %s after %d fetches", got.Status, f.gateway.fetches)
	}
	if stored, _ := f.store.Get("ord_1"); !stored.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("expected Get to refresh the store")
	}
}

func finedBorrowing(status domain.FinePaymentStatus) domain.Order {
	return domain.Order{
		ID:          "ord_2",
		OrderNumber: "ORD-ord_2",
		Kind:        domain.RequestKindBorrowing,
		Status:      domain.StatusCompleted,
		CustomerID:  "cust-1",
		Items:       []domain.OrderItem{{BookID: "book-1", Quantity: 1, UnitPrice: domain.MustParseMoney("4.00")}},
		Fine: &domain.Fine{
			DaysOverdue:   3,
			PerDayRate:    domain.MustParseMoney("1.00"),
			Amount:        domain.MustParseMoney("3.00"),
			PaymentStatus: status,
		},
		UpdatedAt: fixedNow.Add(-time.Hour),
	}
}

func TestOrderCoordinatorFinePayments(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.serve(finedBorrowing(domain.FinePaymentUnpaid))
	f.gateway.submitFn = acceptChange(fixedNow)

	_, err := f.coordinator.RecordFinePayment(context.Background(), FinePaymentCommand{
		OrderID: "ord_2",
		ActorID: "cust-2",
		Attempt: PaymentAttempt{Method: domain.PaymentMethodCash},
	})
	assertErrorIs(t, err, ErrUnauthorized)

	pending, err := f.coordinator.RecordFinePayment(context.Background(), FinePaymentCommand{
		OrderID: "ord_2",
		ActorID: "cust-1",
		Attempt: PaymentAttempt{Method: domain.PaymentMethodCash},
	})
	if err != nil {
		t.Fatalf("RecordFinePayment: %v", err)
	}
	if pending.Fine.PaymentStatus != domain.FinePaymentPendingCashPayment {
		t.Fatalf("expected pending cash payment, got %s", pending.Fine.PaymentStatus)
	}
	change := f.gateway.changes[0]
	if change.Action != OrderChangeRecordFinePayment || change.PaymentMethod != domain.PaymentMethodCash || change.TargetStatus != domain.StatusCompleted {
		t.Fatalf("unexpected change %+v", change)
	}

	_, err = f.coordinator.ConfirmCashPayment(context.Background(), CashConfirmationCommand{OrderID: "ord_2", ActorID: "cust-1", Role: domain.RoleCustomer, Collected: true})
	assertErrorIs(t, err, ErrUnauthorized)

	paid, err := f.coordinator.ConfirmCashPayment(context.Background(), CashConfirmationCommand{OrderID: "ord_2", ActorID: "admin-1", Role: domain.RoleAdmin, Collected: true})
	if err != nil {
		t.Fatalf("ConfirmCashPayment: %v", err)
	}
	if paid.Fine.PaymentStatus != domain.FinePaymentPaid || paid.Fine.PaidAt == nil {
		t.Fatalf("expected paid fine, got %+v", paid.Fine)
	}
	if len(f.events.events) != 0 {
		t.Fatalf("expected no status events for fine payments, got %+v", f.events.events)
	}

	_, err = f.coordinator.ConfirmCashPayment(context.Background(), CashConfirmationCommand{OrderID: "ord_2", ActorID: "admin-1", Role: domain.RoleAdmin, Collected: true})
	assertErrorIs(t, err, ErrInvalidPaymentTransition)
}

func TestOrderCoordinatorNotes(t *testing.T) {
	f := newCoordinatorFixture(t)
	order := persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusPending)
	order.NotePermissions = domain.NotePermissions{CanEditNotes: true}
	f.serve(order)
	f.gateway.submitFn = acceptChange(fixedNow)

	added, err := f.coordinator.AppendNote(context.Background(), NoteCommand{OrderID: "ord_1", ActorID: "admin-1", Role: domain.RoleAdmin, Body: " fragile "})
	if err != nil {
		t.Fatalf("AppendNote: %v", err)
	}
	if len(added.Notes) != 1 || added.Notes[0].Body != "fragile" || added.Notes[0].AuthorID != "admin-1" {
		t.Fatalf("unexpected notes %+v", added.Notes)
	}
	noteID := added.Notes[0].ID
	if change := f.gateway.changes[0]; change.Action != OrderChangeAppendNote || change.NoteID != noteID || change.NoteBody != "fragile" {
		t.Fatalf("unexpected change %+v", change)
	}

	edited, err := f.coordinator.EditNote(context.Background(), NoteCommand{OrderID: "ord_1", NoteID: noteID, ActorID: "admin-1", Role: domain.RoleAdmin, Body: "handle with care"})
	if err != nil {
		t.Fatalf("EditNote: %v", err)
	}
	if edited.Notes[0].Body != "handle with care" || edited.Notes[0].EditedAt == nil {
		t.Fatalf("unexpected edited note %+v", edited.Notes[0])
	}

	_, err = f.coordinator.DeleteNote(context.Background(), NoteCommand{OrderID: "ord_1", NoteID: noteID, ActorID: "admin-1", Role: domain.RoleAdmin})
	assertErrorIs(t, err, ErrUnauthorized)
	_, err = f.coordinator.AppendNote(context.Background(), NoteCommand{OrderID: "ord_1", ActorID: "cust-2", Role: domain.RoleCustomer, Body: "mine"})
	assertErrorIs(t, err, ErrUnauthorized)
	if len(f.gateway.changes) != 2 {
		t.Fatalf("expected rejected note changes to stay local, got %d submits", len(f.gateway.changes))
	}
}

func TestOrderCoordinatorRefreshRemovesMissingOrders(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.store.Replace(persisted(purchaseDraft(t, f.svc), "ord_gone", domain.StatusPending))

	_, err := f.coordinator.Refresh(context.Background(), "ord_gone")
	assertErrorIs(t, err, ErrOrderNotFound)
	if _, ok := f.store.Get("ord_gone"); ok {
		t.Fatalf("expected missing order to be evicted")
	}
	if _, err := f.coordinator.Get(context.Background(), " "); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected blank id to be rejected, got %v", err)
	}
}

func TestOrderCoordinatorSerialisesChangesPerOrder(t *testing.T) {
	f := newCoordinatorFixture(t)
	backend := f.serve(persisted(purchaseDraft(t, f.svc), "ord_1", domain.StatusWaitingForDeliveryManager))

	var inFlight, maxInFlight int32
	var mu sync.Mutex
	f.gateway.submitFn = func(ctx context.Context, change OrderChange) (domain.Order, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		result, _ := acceptChange(fixedNow)(ctx, change)
		mu.Lock()
		*backend = result.Clone()
		mu.Unlock()
		return result, nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, agent := range []string{"agent-1", "agent-2"} {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			_, err := f.coordinator.AssignDelivery(context.Background(), AssignDeliveryCommand{OrderID: "ord_1", AgentID: agent})
			errs <- err
		}(agent)
	}
	wg.Wait()
	close(errs)

	var failures int
	for err := range errs {
		if err != nil {
			failures++
		}
	}
	if maxInFlight != 1 {
		t.Fatalf("expected changes to one order to run one at a time, saw %d in flight", maxInFlight)
	}
	if failures != 1 {
		t.Fatalf("expected the second assignment to see the first one's result and fail, got %d failures", failures)
	}
}
