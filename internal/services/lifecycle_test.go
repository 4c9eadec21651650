package services

import (
	"errors"
	"slices"
	"testing"

	domain "github.com/yomnaalset/bookstore/internal/domain"
)

func TestRequestLifecycleDeliveredPurchaseCannotReturnToPending(t *testing.T) {
	lifecycle := NewRequestLifecycle(fixedClock)
	order := domain.Order{ID: "ord_1", Kind: domain.RequestKindPurchase, Status: domain.StatusDelivered}

	got, err := lifecycle.Transition(order, domain.StatusPending, domain.RoleAdmin)
	assertErrorIs(t, err, ErrInvalidTransition)
	assertErrorIs(t, err, ErrAlreadyTerminal)
	if got.Status != domain.StatusDelivered {
		t.Fatalf("expected order to stay delivered, got %s", got.Status)
	}
}

func TestRequestLifecycleTransitionHappyPaths(t *testing.T) {
	lifecycle := NewRequestLifecycle(fixedClock)
	paths := map[domain.RequestKind][]struct {
		to   domain.Status
		role domain.Role
	}{
		domain.RequestKindPurchase: {
			{domain.StatusWaitingForDeliveryManager, domain.RoleAdmin},
			{domain.StatusAssignedToDelivery, domain.RoleAdmin},
			{domain.StatusInDelivery, domain.RoleDeliveryAgent},
			{domain.StatusDelivered, domain.RoleDeliveryAgent},
		},
		domain.RequestKindBorrowing: {
			{domain.StatusApproved, domain.RoleAdmin},
			{domain.StatusAssignedToDelivery, domain.RoleAdmin},
			{domain.StatusDelivered, domain.RoleDeliveryAgent},
			{domain.StatusReturnRequested, domain.RoleCustomer},
			{domain.StatusReturnApproved, domain.RoleAdmin},
			{domain.StatusReturnAssigned, domain.RoleAdmin},
			{domain.StatusCompleted, domain.RoleDeliveryAgent},
		},
		domain.RequestKindReturnCollection: {
			{domain.StatusApproved, domain.RoleAdmin},
			{domain.StatusAssigned, domain.RoleAdmin},
			{domain.StatusAccepted, domain.RoleDeliveryAgent},
			{domain.StatusInProgress, domain.RoleDeliveryAgent},
			{domain.StatusCompleted, domain.RoleDeliveryAgent},
		},
	}
	for kind, steps := range paths {
		t.Run(string(kind), func(t *testing.T) {
			order := domain.Order{ID: "ord_1", Kind: kind, Status: InitialStatus(kind)}
			for _, step := range steps {
				next, err := lifecycle.Transition(order, step.to, step.role)
				if err != nil {
					t.Fatalf("%s -> %s as %s: %v", order.Status, step.to, step.role, err)
				}
				if !next.UpdatedAt.Equal(fixedNow) {
					t.Fatalf("expected UpdatedAt to be stamped, got %v", next.UpdatedAt)
				}
				order = next
			}
			if !IsTerminal(kind, order.Status) {
				t.Fatalf("expected %s to be terminal for %s", order.Status, kind)
			}
		})
	}
}

func TestRequestLifecycleRoleGating(t *testing.T) {
	lifecycle := NewRequestLifecycle(fixedClock)
	order := domain.Order{ID: "ord_1", Kind: domain.RequestKindPurchase, Status: domain.StatusPending}

	_, err := lifecycle.Transition(order, domain.StatusWaitingForDeliveryManager, domain.RoleCustomer)
	assertErrorIs(t, err, ErrUnauthorized)
	assertErrorIs(t, err, ErrInvalidTransition)

	var lifecycleErr *LifecycleError
	if !errors.As(err, &lifecycleErr) || lifecycleErr.Code != LifecycleUnauthorized {
		t.Fatalf("expected unauthorized lifecycle error, got %v", err)
	}
	if MessageKey(err) != "lifecycle.unauthorized" {
		t.Fatalf("unexpected message key %q", MessageKey(err))
	}

	for _, role := range []domain.Role{domain.RoleCustomer, domain.RoleAdmin} {
		if !lifecycle.CanTransition(domain.RequestKindPurchase, domain.StatusPending, domain.StatusCancelled, role) {
			t.Fatalf("expected %s to cancel a pending purchase", role)
		}
	}
	if lifecycle.CanTransition(domain.RequestKindPurchase, domain.StatusInDelivery, domain.StatusCancelled, domain.RoleAdmin) {
		t.Fatalf("expected cancellation after dispatch to be rejected")
	}
	if lifecycle.CanTransition(domain.RequestKindBorrowing, domain.StatusPending, domain.StatusCancelled, domain.RoleCustomer) {
		t.Fatalf("expected borrowings to have no cancel edge")
	}
}

func TestRequestLifecycleAllowedTransitions(t *testing.T) {
	lifecycle := NewRequestLifecycle(nil)
	cases := []struct {
		kind domain.RequestKind
		from domain.Status
		role domain.Role
		want []domain.Status
	}{
		{domain.RequestKindPurchase, domain.StatusPending, domain.RoleCustomer, []domain.Status{domain.StatusCancelled}},
		{domain.RequestKindPurchase, domain.StatusConfirmed, domain.RoleAdmin, []domain.Status{domain.StatusCancelled}},
		{domain.RequestKindPurchase, domain.StatusInDelivery, domain.RoleDeliveryAgent, []domain.Status{domain.StatusDelivered, domain.StatusCompleted}},
		{domain.RequestKindBorrowing, domain.StatusDelivered, domain.RoleAdmin, nil},
		{domain.RequestKindReturnCollection, domain.StatusCompleted, domain.RoleAdmin, nil},
	}
	for _, tc := range cases {
		got := lifecycle.AllowedTransitions(tc.kind, tc.from, tc.role)
		if !slices.Equal(got, tc.want) {
			t.Fatalf("%s %s as %s: expected %v, got %v", tc.kind, tc.from, tc.role, tc.want, got)
		}
	}
}

func TestParseStatusIsKindScoped(t *testing.T) {
	status, err := ParseStatus(domain.RequestKindPurchase, " Waiting_For_Delivery_Manager ")
	if err != nil || status != domain.StatusWaitingForDeliveryManager {
		t.Fatalf("expected purchase status, got %q %v", status, err)
	}
	if _, err := ParseStatus(domain.RequestKindReturnCollection, "in_delivery"); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected in_delivery to be foreign to return collections, got %v", err)
	}
	if _, err := ParseStatus(domain.RequestKindBorrowing, "confirmed"); err == nil {
		t.Fatalf("expected confirmed to be foreign to borrowings")
	}
	if _, err := ParseStatus("rental", "pending"); err == nil {
		t.Fatalf("expected unknown kind to be rejected")
	}
}

func TestStatusesVocabulary(t *testing.T) {
	for _, kind := range domain.RequestKinds {
		statuses := Statuses(kind)
		if !slices.Contains(statuses, InitialStatus(kind)) {
			t.Fatalf("%s vocabulary misses its initial status", kind)
		}
		if !slices.IsSorted(statuses) {
			t.Fatalf("%s vocabulary is not sorted", kind)
		}
	}
	if len(Statuses(domain.RequestKindReturnCollection)) != 6 {
		t.Fatalf("unexpected return collection vocabulary %v", Statuses(domain.RequestKindReturnCollection))
	}
}
