package domain

import (
	"fmt"
	"strings"
)

// RequestKind fixes which lifecycle table governs an order. It never changes after creation.
type RequestKind string

const (
	// RequestKindPurchase is a checkout of books the customer keeps.
	RequestKindPurchase RequestKind = "purchase"
	// RequestKindBorrowing is a loan that ends with the book returned to the library.
	RequestKindBorrowing RequestKind = "borrowing"
	// RequestKindReturnCollection tracks a return pickup as its own request.
	RequestKindReturnCollection RequestKind = "return_collection"
)

// RequestKinds lists every kind in a stable order.
var RequestKinds = []RequestKind{RequestKindPurchase, RequestKindBorrowing, RequestKindReturnCollection}

// ParseRequestKind normalises a wire value into a RequestKind.
func ParseRequestKind(raw string) (RequestKind, error) {
	kind := RequestKind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case RequestKindPurchase, RequestKindBorrowing, RequestKindReturnCollection:
		return kind, nil
	}
	return "", fmt.Errorf("unknown request kind %q", raw)
}

// Status is a lifecycle node. Wire values are lower_snake_case. Which values are legal depends on the
// order's RequestKind; see services.ParseStatus.
type Status string

const (
	StatusPending                   Status = "pending"
	StatusConfirmed                 Status = "confirmed"
	StatusWaitingForDeliveryManager Status = "waiting_for_delivery_manager"
	StatusAssignedToDelivery        Status = "assigned_to_delivery"
	StatusInDelivery                Status = "in_delivery"
	StatusDelivered                 Status = "delivered"
	StatusCompleted                 Status = "completed"
	StatusRejectedByAdmin           Status = "rejected_by_admin"
	StatusRejectedByDeliveryManager Status = "rejected_by_delivery_manager"
	StatusCancelled                 Status = "cancelled"

	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusReturnRequested Status = "return_requested"
	StatusReturnApproved  Status = "return_approved"
	StatusReturnAssigned  Status = "return_assigned"

	StatusAssigned   Status = "assigned"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
)

// Role identifies the actor requesting a change.
type Role string

const (
	RoleCustomer      Role = "customer"
	RoleAdmin         Role = "admin"
	RoleDeliveryAgent Role = "delivery_agent"
)

// ParseRole normalises a wire role value.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case RoleCustomer, RoleAdmin, RoleDeliveryAgent:
		return role, nil
	case "delivery_manager":
		return RoleDeliveryAgent, nil
	}
	return "", fmt.Errorf("unknown actor role %q", raw)
}
