package domain

import "time"

// AssignmentStatus is the state of a delivery agent's assignment.
type AssignmentStatus string

const (
	AssignmentStatusAssigned   AssignmentStatus = "assigned"
	AssignmentStatusAccepted   AssignmentStatus = "accepted"
	AssignmentStatusRejected   AssignmentStatus = "rejected"
	AssignmentStatusInProgress AssignmentStatus = "in_progress"
	AssignmentStatusCompleted  AssignmentStatus = "completed"
)

// DeliveryAssignment binds an order to a delivery agent. AgentID is a reference into a roster the
// service does not own.
type DeliveryAssignment struct {
	ID              string
	AgentID         string
	Status          AssignmentStatus
	AssignedAt      time.Time
	RespondedAt     *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	RejectionReason string
	SupersededAt    *time.Time
}

// Clone returns a copy with its own timestamp pointers.
func (a DeliveryAssignment) Clone() DeliveryAssignment {
	out := a
	out.RespondedAt = cloneTime(a.RespondedAt)
	out.StartedAt = cloneTime(a.StartedAt)
	out.CompletedAt = cloneTime(a.CompletedAt)
	out.SupersededAt = cloneTime(a.SupersededAt)
	return out
}
