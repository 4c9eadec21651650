package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	"github.com/yomnaalset/bookstore/internal/platform/textutil"
)

const assignmentIDPrefix = "dla_"

// deliveryAssignTargets maps each delivery-eligible status to the status assignment moves the order to.
var deliveryAssignTargets = map[domain.RequestKind]map[domain.Status]domain.Status{
	domain.RequestKindPurchase: {
		domain.StatusWaitingForDeliveryManager: domain.StatusAssignedToDelivery,
	},
	domain.RequestKindBorrowing: {
		domain.StatusApproved:       domain.StatusAssignedToDelivery,
		domain.StatusReturnApproved: domain.StatusReturnAssigned,
	},
	domain.RequestKindReturnCollection: {
		domain.StatusApproved: domain.StatusAssigned,
	},
}

var deliveryAcceptTargets = map[domain.RequestKind]map[domain.Status]domain.Status{
	domain.RequestKindReturnCollection: {
		domain.StatusAssigned: domain.StatusAccepted,
	},
}

var deliveryStartTargets = map[domain.RequestKind]map[domain.Status]domain.Status{
	domain.RequestKindPurchase: {
		domain.StatusAssignedToDelivery: domain.StatusInDelivery,
	},
	domain.RequestKindReturnCollection: {
		domain.StatusAccepted: domain.StatusInProgress,
	},
}

var deliveryCompleteTargets = map[domain.RequestKind]map[domain.Status]domain.Status{
	domain.RequestKindPurchase: {
		domain.StatusInDelivery: domain.StatusDelivered,
	},
	domain.RequestKindBorrowing: {
		domain.StatusAssignedToDelivery: domain.StatusDelivered,
		domain.StatusReturnAssigned:     domain.StatusCompleted,
	},
	domain.RequestKindReturnCollection: {
		domain.StatusInProgress: domain.StatusCompleted,
	},
}

// IsDeliveryEligible reports whether an agent may be assigned to an order in status.
func IsDeliveryEligible(kind domain.RequestKind, status domain.Status) bool {
	_, ok := deliveryAssignTargets[kind][status]
	return ok
}

// DeliveryTrackerDeps bundles collaborators for DeliveryAssignmentTracker.
type DeliveryTrackerDeps struct {
	Lifecycle   *RequestLifecycle
	Fines       *FineCalculator
	Pricing     *PricingCalculator
	Clock       func() time.Time
	IDGenerator func() string
	Sanitizer   func(string) string
}

// DeliveryAssignmentTracker drives a delivery agent's assignment and keeps the owning order's
// lifecycle in step with it.
type DeliveryAssignmentTracker struct {
	lifecycle *RequestLifecycle
	fines     *FineCalculator
	pricing   *PricingCalculator
	clock     func() time.Time
	newID     func() string
	sanitize  func(string) string
}

// NewDeliveryAssignmentTracker wires dependencies into a tracker.
func NewDeliveryAssignmentTracker(deps DeliveryTrackerDeps) (*DeliveryAssignmentTracker, error) {
	if deps.Lifecycle == nil {
		return nil, errors.New("delivery tracker: lifecycle is required")
	}
	if deps.Fines == nil {
		return nil, errors.New("delivery tracker: fine calculator is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("delivery tracker: pricing calculator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return assignmentIDPrefix + ulid.Make().String() }
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = textutil.PlainText
	}
	return &DeliveryAssignmentTracker{
		lifecycle: deps.Lifecycle,
		fines:     deps.Fines,
		pricing:   deps.Pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
	}, nil
}

// Assign creates a new assignment for agentID and moves the order to its assigned status. Any earlier
// assignment is kept in the order's history.
func (t *DeliveryAssignmentTracker) Assign(order domain.Order, agentID string) (domain.Order, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return order, fmt.Errorf("%w: agent id is required", ErrDeliveryInvalidInput)
	}
	target, ok := deliveryAssignTargets[order.Kind][order.Status]
	if !ok {
		return order, fmt.Errorf("%w: %s order in %s is not delivery eligible", ErrDeliveryInvalidState, order.Kind, order.Status)
	}
	next, err := t.lifecycle.Transition(order, target, domain.RoleAdmin)
	if err != nil {
		return order, err
	}
	now := t.clock()
	if next.DeliveryAssignment != nil {
		next.AssignmentHistory = append(next.AssignmentHistory, next.DeliveryAssignment.Clone())
	}
	next.DeliveryAssignment = &domain.DeliveryAssignment{
		ID:         t.newID(),
		AgentID:    agentID,
		Status:     domain.AssignmentStatusAssigned,
		AssignedAt: now,
	}
	return next, nil
}

// Respond records the agent's answer. A rejection requires a reason.
func (t *DeliveryAssignmentTracker) Respond(assignment domain.DeliveryAssignment, accept bool, reason string) (domain.DeliveryAssignment, error) {
	if assignment.Status != domain.AssignmentStatusAssigned {
		return assignment, fmt.Errorf("%w: cannot respond to %s assignment", ErrDeliveryInvalidState, assignment.Status)
	}
	next := assignment.Clone()
	now := t.clock()
	next.RespondedAt = &now
	if accept {
		next.Status = domain.AssignmentStatusAccepted
		return next, nil
	}
	reason = t.sanitize(reason)
	if reason == "" {
		return assignment, fmt.Errorf("%w: rejection reason is required", ErrDeliveryInvalidInput)
	}
	next.Status = domain.AssignmentStatusRejected
	next.RejectionReason = reason
	return next, nil
}

// Start marks an accepted assignment as in progress.
func (t *DeliveryAssignmentTracker) Start(assignment domain.DeliveryAssignment) (domain.DeliveryAssignment, error) {
	if assignment.Status != domain.AssignmentStatusAccepted {
		return assignment, fmt.Errorf("%w: cannot start %s assignment", ErrDeliveryInvalidState, assignment.Status)
	}
	next := assignment.Clone()
	now := t.clock()
	next.Status = domain.AssignmentStatusInProgress
	next.StartedAt = &now
	return next, nil
}

// Complete marks an in-progress assignment as completed.
func (t *DeliveryAssignmentTracker) Complete(assignment domain.DeliveryAssignment) (domain.DeliveryAssignment, error) {
	if assignment.Status != domain.AssignmentStatusInProgress {
		return assignment, fmt.Errorf("%w: cannot complete %s assignment", ErrDeliveryInvalidState, assignment.Status)
	}
	next := assignment.Clone()
	now := t.clock()
	next.Status = domain.AssignmentStatusCompleted
	next.CompletedAt = &now
	return next, nil
}

// Reassign returns a fresh assignment for newAgentID. Only assignments that have not been accepted can
// be reassigned; the caller keeps the superseded one for history.
func (t *DeliveryAssignmentTracker) Reassign(assignment domain.DeliveryAssignment, newAgentID string) (domain.DeliveryAssignment, error) {
	newAgentID = strings.TrimSpace(newAgentID)
	if newAgentID == "" {
		return assignment, fmt.Errorf("%w: agent id is required", ErrDeliveryInvalidInput)
	}
	switch assignment.Status {
	case domain.AssignmentStatusAssigned, domain.AssignmentStatusRejected:
	default:
		return assignment, fmt.Errorf("%w: cannot reassign %s assignment", ErrDeliveryInvalidState, assignment.Status)
	}
	return domain.DeliveryAssignment{
		ID:         t.newID(),
		AgentID:    newAgentID,
		Status:     domain.AssignmentStatusAssigned,
		AssignedAt: t.clock(),
	}, nil
}

// RespondOnOrder applies Respond to the order's current assignment. Acceptance advances return
// collections to accepted.
func (t *DeliveryAssignmentTracker) RespondOnOrder(order domain.Order, accept bool, reason string) (domain.Order, error) {
	current, err := currentAssignment(order)
	if err != nil {
		return order, err
	}
	assignment, err := t.Respond(current, accept, reason)
	if err != nil {
		return order, err
	}
	next := order.Clone()
	if target, ok := deliveryAcceptTargets[order.Kind][order.Status]; ok && accept {
		if next, err = t.lifecycle.Transition(next, target, domain.RoleDeliveryAgent); err != nil {
			return order, err
		}
	}
	next.DeliveryAssignment = &assignment
	next.UpdatedAt = t.clock()
	return next, nil
}

// StartOnOrder applies Start and advances the order where its kind has an in-transit status.
func (t *DeliveryAssignmentTracker) StartOnOrder(order domain.Order) (domain.Order, error) {
	current, err := currentAssignment(order)
	if err != nil {
		return order, err
	}
	assignment, err := t.Start(current)
	if err != nil {
		return order, err
	}
	next := order.Clone()
	if target, ok := deliveryStartTargets[order.Kind][order.Status]; ok {
		if next, err = t.lifecycle.Transition(next, target, domain.RoleDeliveryAgent); err != nil {
			return order, err
		}
	}
	next.DeliveryAssignment = &assignment
	next.UpdatedAt = t.clock()
	return next, nil
}

// CompleteOnOrder applies Complete and advances the order to delivered or completed. For borrowings,
// delivery starts the loan and collection finalises the fine.
func (t *DeliveryAssignmentTracker) CompleteOnOrder(order domain.Order) (domain.Order, error) {
	current, err := currentAssignment(order)
	if err != nil {
		return order, err
	}
	target, ok := deliveryCompleteTargets[order.Kind][order.Status]
	if !ok {
		return order, fmt.Errorf("%w: %s order in %s cannot complete a delivery", ErrDeliveryInvalidState, order.Kind, order.Status)
	}
	assignment, err := t.Complete(current)
	if err != nil {
		return order, err
	}
	next, err := t.lifecycle.Transition(order, target, domain.RoleDeliveryAgent)
	if err != nil {
		return order, err
	}
	next.DeliveryAssignment = &assignment
	completedAt := *assignment.CompletedAt

	if order.Kind == domain.RequestKindBorrowing && next.Borrow != nil {
		switch target {
		case domain.StatusDelivered:
			next.Borrow.DeliveredAt = &completedAt
		case domain.StatusCompleted:
			next.Borrow.ActualReturnDate = &completedAt
			next = t.fines.AssessOrder(next)
			pricing, err := t.pricing.Compute(next.Items, next.Pricing.DeliveryCost, next.Discount, next.Fine)
			if err != nil {
				return order, err
			}
			next.Pricing = pricing
		}
	}
	return next, nil
}

// ReassignOnOrder supersedes the order's current assignment with one for newAgentID.
func (t *DeliveryAssignmentTracker) ReassignOnOrder(order domain.Order, newAgentID string) (domain.Order, error) {
	current, err := currentAssignment(order)
	if err != nil {
		return order, err
	}
	replacement, err := t.Reassign(current, newAgentID)
	if err != nil {
		return order, err
	}
	now := t.clock()
	next := order.Clone()
	superseded := current.Clone()
	superseded.SupersededAt = &now
	next.AssignmentHistory = append(next.AssignmentHistory, superseded)
	next.DeliveryAssignment = &replacement
	next.UpdatedAt = now
	return next, nil
}

func currentAssignment(order domain.Order) (domain.DeliveryAssignment, error) {
	if order.DeliveryAssignment == nil {
		return domain.DeliveryAssignment{}, fmt.Errorf("%w: order %s has no delivery assignment", ErrDeliveryInvalidState, order.ID)
	}
	return *order.DeliveryAssignment, nil
}
