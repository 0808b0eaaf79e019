package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/workorder-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventWorkOrderCreated    EventType = "work_order_created"
	EventWorkOrderAssigned   EventType = "work_order_assigned"
	EventWorkOrderReassigned EventType = "work_order_reassigned"
	EventWorkOrderStarted    EventType = "work_order_started"
	EventProgressAdded       EventType = "work_order_progress_added"
	EventWorkOrderCompleted  EventType = "work_order_completed"
	EventWorkOrderCancelled  EventType = "work_order_cancelled"
	EventWorkOrderClosed     EventType = "work_order_closed"
)

// Event represents a domain event emitted after a committed mutation.
// WorkOrder is a snapshot of the state that was committed.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	WorkOrder *domain.WorkOrder `json:"-"`
	Actor     domain.Actor      `json:"actor"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   interface{}       `json:"payload"`
}

// WorkOrderID returns the subject id, or "" for a malformed event.
func (e Event) WorkOrderID() string {
	if e.WorkOrder == nil {
		return ""
	}
	return e.WorkOrder.ID
}

// AssignedPayload payload.
type AssignedPayload struct {
	Assignment domain.AssignmentRecord `json:"assignment"`
}

// ReassignedPayload payload. Previous is the displaced assignee.
type ReassignedPayload struct {
	Assignment           domain.AssignmentRecord `json:"assignment"`
	PreviousAssigneeID   string                  `json:"previous_assignee_id"`
	PreviousAssigneeType domain.AssigneeType     `json:"previous_assignee_type"`
}

// StartedPayload payload.
type StartedPayload struct {
	BeforePhotos []string `json:"before_photos"`
}

// ProgressAddedPayload payload.
type ProgressAddedPayload struct {
	Update domain.ProgressUpdate `json:"update"`
}

// CompletedPayload payload.
type CompletedPayload struct {
	HoursSpent          float64         `json:"hours_spent"`
	TotalCost           decimal.Decimal `json:"total_cost"`
	FollowUpRequired    bool            `json:"follow_up_required"`
	FollowUpDescription *string         `json:"follow_up_description,omitempty"`
}

// CancelledPayload payload. PreviousStatus is the state cancellation left.
type CancelledPayload struct {
	Reason         *string                `json:"reason,omitempty"`
	PreviousStatus domain.WorkOrderStatus `json:"previous_status"`
}
