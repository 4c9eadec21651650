package services

import (
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/yomnaalset/bookstore/internal/domain"
)

type lifecycleEdge struct {
	to    domain.Status
	roles []domain.Role
}

type lifecycleTable struct {
	initial  domain.Status
	edges    map[domain.Status][]lifecycleEdge
	terminal []domain.Status
}

var (
	customerRoles        = []domain.Role{domain.RoleCustomer}
	adminRoles           = []domain.Role{domain.RoleAdmin}
	agentRoles           = []domain.Role{domain.RoleDeliveryAgent}
	customerOrAdminRoles = []domain.Role{domain.RoleCustomer, domain.RoleAdmin}
)

// lifecycleTables mirrors the backend's transition graph per request kind. Statuses outside a kind's
// table are not part of its vocabulary.
var lifecycleTables = map[domain.RequestKind]lifecycleTable{
	domain.RequestKindPurchase: {
		initial: domain.StatusPending,
		edges: map[domain.Status][]lifecycleEdge{
			domain.StatusPending: {
				{to: domain.StatusWaitingForDeliveryManager, roles: adminRoles},
				{to: domain.StatusRejectedByAdmin, roles: adminRoles},
				{to: domain.StatusCancelled, roles: customerOrAdminRoles},
			},
			domain.StatusConfirmed: {
				{to: domain.StatusCancelled, roles: customerOrAdminRoles},
			},
			domain.StatusWaitingForDeliveryManager: {
				{to: domain.StatusAssignedToDelivery, roles: adminRoles},
				{to: domain.StatusRejectedByDeliveryManager, roles: adminRoles},
			},
			domain.StatusAssignedToDelivery: {
				{to: domain.StatusInDelivery, roles: agentRoles},
			},
			domain.StatusInDelivery: {
				{to: domain.StatusDelivered, roles: agentRoles},
				{to: domain.StatusCompleted, roles: agentRoles},
			},
		},
		terminal: []domain.Status{
			domain.StatusRejectedByAdmin,
			domain.StatusRejectedByDeliveryManager,
			domain.StatusDelivered,
			domain.StatusCompleted,
			domain.StatusCancelled,
		},
	},
	domain.RequestKindBorrowing: {
		initial: domain.StatusPending,
		edges: map[domain.Status][]lifecycleEdge{
			domain.StatusPending: {
				{to: domain.StatusApproved, roles: adminRoles},
				{to: domain.StatusRejected, roles: adminRoles},
			},
			domain.StatusApproved: {
				{to: domain.StatusAssignedToDelivery, roles: adminRoles},
			},
			domain.StatusAssignedToDelivery: {
				{to: domain.StatusDelivered, roles: agentRoles},
			},
			domain.StatusDelivered: {
				{to: domain.StatusReturnRequested, roles: customerRoles},
			},
			domain.StatusReturnRequested: {
				{to: domain.StatusReturnApproved, roles: adminRoles},
			},
			domain.StatusReturnApproved: {
				{to: domain.StatusReturnAssigned, roles: adminRoles},
			},
			domain.StatusReturnAssigned: {
				{to: domain.StatusCompleted, roles: agentRoles},
			},
		},
		terminal: []domain.Status{domain.StatusRejected, domain.StatusCompleted},
	},
	domain.RequestKindReturnCollection: {
		initial: domain.StatusPending,
		edges: map[domain.Status][]lifecycleEdge{
			domain.StatusPending: {
				{to: domain.StatusApproved, roles: adminRoles},
			},
			domain.StatusApproved: {
				{to: domain.StatusAssigned, roles: adminRoles},
			},
			domain.StatusAssigned: {
				{to: domain.StatusAccepted, roles: agentRoles},
			},
			domain.StatusAccepted: {
				{to: domain.StatusInProgress, roles: agentRoles},
			},
			domain.StatusInProgress: {
				{to: domain.StatusCompleted, roles: agentRoles},
			},
		},
		terminal: []domain.Status{domain.StatusCompleted},
	},
}

func (t lifecycleTable) statuses() []domain.Status {
	seen := make(map[domain.Status]struct{})
	var out []domain.Status
	add := func(status domain.Status) {
		if _, ok := seen[status]; ok {
			return
		}
		seen[status] = struct{}{}
		out = append(out, status)
	}
	add(t.initial)
	for from, edges := range t.edges {
		add(from)
		for _, edge := range edges {
			add(edge.to)
		}
	}
	for _, status := range t.terminal {
		add(status)
	}
	slices.Sort(out)
	return out
}

func (t lifecycleTable) edge(from, to domain.Status) (lifecycleEdge, bool) {
	for _, edge := range t.edges[from] {
		if edge.to == to {
			return edge, true
		}
	}
	return lifecycleEdge{}, false
}

// Statuses returns the status vocabulary of a kind, sorted.
func Statuses(kind domain.RequestKind) []domain.Status {
	table, ok := lifecycleTables[kind]
	if !ok {
		return nil
	}
	return table.statuses()
}

// InitialStatus returns the status a new request of the kind starts in.
func InitialStatus(kind domain.RequestKind) domain.Status {
	return lifecycleTables[kind].initial
}

// IsTerminal reports whether status accepts no further transitions for kind.
func IsTerminal(kind domain.RequestKind, status domain.Status) bool {
	table, ok := lifecycleTables[kind]
	if !ok {
		return false
	}
	return slices.Contains(table.terminal, status)
}

// ParseStatus validates a wire status against the kind's vocabulary.
func ParseStatus(kind domain.RequestKind, raw string) (domain.Status, error) {
	table, ok := lifecycleTables[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown request kind %q", ErrOrderInvalidInput, kind)
	}
	status := domain.Status(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(table.statuses(), status) {
		return "", fmt.Errorf("%w: status %q is not valid for %s", ErrOrderInvalidInput, raw, kind)
	}
	return status, nil
}

// RequestLifecycle validates and applies status changes against the per-kind tables.
type RequestLifecycle struct {
	clock func() time.Time
}

// NewRequestLifecycle constructs a lifecycle engine. A nil clock defaults to time.Now.
func NewRequestLifecycle(clock func() time.Time) *RequestLifecycle {
	if clock == nil {
		clock = time.Now
	}
	return &RequestLifecycle{
		clock: func() time.Time {
			return clock().UTC()
		},
	}
}

// CanTransition reports whether role may move a kind's request from one status to another.
func (l *RequestLifecycle) CanTransition(kind domain.RequestKind, from, to domain.Status, role domain.Role) bool {
	return l.check(kind, from, to, role) == nil
}

// AllowedTransitions lists the statuses role may move the request to next.
func (l *RequestLifecycle) AllowedTransitions(kind domain.RequestKind, from domain.Status, role domain.Role) []domain.Status {
	table, ok := lifecycleTables[kind]
	if !ok {
		return nil
	}
	var out []domain.Status
	for _, edge := range table.edges[from] {
		if slices.Contains(edge.roles, role) {
			out = append(out, edge.to)
		}
	}
	return out
}

// Transition returns a copy of order moved to status to. The input is never modified.
func (l *RequestLifecycle) Transition(order domain.Order, to domain.Status, role domain.Role) (domain.Order, error) {
	if err := l.check(order.Kind, order.Status, to, role); err != nil {
		return order, err
	}
	next := order.Clone()
	next.Status = to
	next.UpdatedAt = l.clock()
	return next, nil
}

func (l *RequestLifecycle) check(kind domain.RequestKind, from, to domain.Status, role domain.Role) error {
	fail := func(code LifecycleErrorCode, detail string) error {
		return &LifecycleError{Code: code, Kind: kind, From: from, To: to, Role: role, Detail: detail}
	}
	table, ok := lifecycleTables[kind]
	if !ok {
		return fail(LifecycleInvalidTransition, "unknown request kind")
	}
	if slices.Contains(table.terminal, from) {
		return fail(LifecycleAlreadyTerminal, "")
	}
	edge, ok := table.edge(from, to)
	if !ok {
		return fail(LifecycleInvalidTransition, "")
	}
	if !slices.Contains(edge.roles, role) {
		return fail(LifecycleUnauthorized, "role not permitted for this edge")
	}
	return nil
}
