package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// WorkOrderPriority enumerates dispatch urgency.
type WorkOrderPriority string

const (
	PriorityLow    WorkOrderPriority = "LOW"
	PriorityMedium WorkOrderPriority = "MEDIUM"
	PriorityHigh   WorkOrderPriority = "HIGH"
	PriorityUrgent WorkOrderPriority = "URGENT"
)

// Valid reports whether p is a known priority.
func (p WorkOrderPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// WorkOrder is the aggregate for one maintenance job, from request to closure.
type WorkOrder struct {
	ID         string
	Number     string
	NumberYear int
	NumberSeq  int64

	Title       string
	Description string
	Category    string
	Priority    WorkOrderPriority
	PropertyID  string
	UnitID      *string
	ManagerID   *string

	RequestedBy  string
	AssignedTo   *string
	AssigneeType *AssigneeType

	Status        WorkOrderStatus
	AssignedAt    *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ClosedAt      *time.Time
	ScheduledDate *time.Time

	Attachments  []string
	BeforePhotos []string
	AfterPhotos  []string

	CompletionNotes     *string
	HoursSpent          *float64
	ActualCost          *decimal.Decimal
	Recommendations     *string
	FollowUpRequired    bool
	FollowUpDescription *string
	CancellationReason  *string
	// ClosedBy is the actor that cancelled or closed the work order.
	ClosedBy *string

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// TransitionTo moves the work order to target, stamping the lifecycle timestamp
// for that state only if it has never been set. A rejected transition leaves the
// work order untouched.
func (w *WorkOrder) TransitionTo(target WorkOrderStatus, at time.Time) error {
	if err := w.Status.ValidateTransition(target); err != nil {
		return err
	}
	switch target {
	case WorkOrderStatusAssigned:
		if w.AssignedAt == nil {
			w.AssignedAt = timePtr(at)
		}
	case WorkOrderStatusInProgress:
		if w.StartedAt == nil {
			w.StartedAt = timePtr(at)
		}
	case WorkOrderStatusCompleted:
		if w.CompletedAt == nil {
			w.CompletedAt = timePtr(at)
		}
	case WorkOrderStatusClosed:
		if w.ClosedAt == nil {
			w.ClosedAt = timePtr(at)
		}
	}
	w.Status = target
	w.UpdatedAt = at
	return nil
}

// HasAssignee reports whether a current assignee exists.
func (w *WorkOrder) HasAssignee() bool {
	return w.AssignedTo != nil && *w.AssignedTo != ""
}

// IsAssignee reports whether actorID is the current assignee.
func (w *WorkOrder) IsAssignee(actorID string) bool {
	return w.HasAssignee() && *w.AssignedTo == actorID
}

// ApplyAssignment projects a ledger record onto the denormalized assignee fields.
func (w *WorkOrder) ApplyAssignment(rec AssignmentRecord) {
	assignee := rec.AssigneeID
	assigneeType := rec.AssigneeType
	w.AssignedTo = &assignee
	w.AssigneeType = &assigneeType
	w.AssignedAt = timePtr(rec.AssignedAt)
	w.UpdatedAt = rec.AssignedAt
}

// Clone returns a deep copy so stores and callers never share mutable state.
func (w *WorkOrder) Clone() *WorkOrder {
	if w == nil {
		return nil
	}
	c := *w
	c.UnitID = clonePtr(w.UnitID)
	c.ManagerID = clonePtr(w.ManagerID)
	c.AssignedTo = clonePtr(w.AssignedTo)
	c.AssigneeType = clonePtr(w.AssigneeType)
	c.AssignedAt = clonePtr(w.AssignedAt)
	c.StartedAt = clonePtr(w.StartedAt)
	c.CompletedAt = clonePtr(w.CompletedAt)
	c.ClosedAt = clonePtr(w.ClosedAt)
	c.ScheduledDate = clonePtr(w.ScheduledDate)
	c.Attachments = slices.Clone(w.Attachments)
	c.BeforePhotos = slices.Clone(w.BeforePhotos)
	c.AfterPhotos = slices.Clone(w.AfterPhotos)
	c.CompletionNotes = clonePtr(w.CompletionNotes)
	c.HoursSpent = clonePtr(w.HoursSpent)
	c.ActualCost = clonePtr(w.ActualCost)
	c.Recommendations = clonePtr(w.Recommendations)
	c.FollowUpDescription = clonePtr(w.FollowUpDescription)
	c.CancellationReason = clonePtr(w.CancellationReason)
	c.ClosedBy = clonePtr(w.ClosedBy)
	return &c
}

// PhotoUpload is an evidence file received from a caller, before it is stored.
type PhotoUpload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Size returns the payload length in bytes.
func (p PhotoUpload) Size() int64 { return int64(len(p.Data)) }

func timePtr(t time.Time) *time.Time { return &t }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
