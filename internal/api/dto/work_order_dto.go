package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/workorder-service/internal/domain"
)

// CreateWorkOrderRequest is sent as multipart form fields next to the
// "attachments" files, or as JSON without files.
type CreateWorkOrderRequest struct {
	Title       string                   `json:"title" form:"title" validate:"required,max=200"`
	Description string                   `json:"description" form:"description" validate:"max=4000"`
	Category    string                   `json:"category" form:"category" validate:"required,max=64"`
	Priority    domain.WorkOrderPriority `json:"priority" form:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	PropertyID  string                   `json:"property_id" form:"property_id" validate:"required"`
	UnitID      *string                  `json:"unit_id" form:"unit_id"`
	ManagerID   *string                  `json:"manager_id" form:"manager_id"`
}

// AssignRequest payload.
type AssignRequest struct {
	AssigneeID   string              `json:"assignee_id" validate:"required"`
	AssigneeType domain.AssigneeType `json:"assignee_type" validate:"required,oneof=INTERNAL_STAFF EXTERNAL_VENDOR"`
	Notes        string              `json:"notes" validate:"max=2000"`
}

// ReassignRequest payload.
type ReassignRequest struct {
	AssigneeID   string              `json:"assignee_id" validate:"required"`
	AssigneeType domain.AssigneeType `json:"assignee_type" validate:"required,oneof=INTERNAL_STAFF EXTERNAL_VENDOR"`
	Reason       string              `json:"reason" validate:"required,max=500"`
	Notes        string              `json:"notes" validate:"max=2000"`
}

// ProgressRequest is sent as multipart form fields next to the "photos" files.
type ProgressRequest struct {
	Notes                   string `json:"notes" form:"notes"`
	EstimatedCompletionDate string `json:"estimated_completion_date" form:"estimated_completion_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// CompleteRequest is sent as multipart form fields next to the "after_photos" files.
type CompleteRequest struct {
	CompletionNotes     string  `json:"completion_notes" form:"completion_notes"`
	HoursSpent          float64 `json:"hours_spent" form:"hours_spent"`
	TotalCost           string  `json:"total_cost" form:"total_cost" validate:"omitempty,numeric"`
	Recommendations     string  `json:"recommendations" form:"recommendations"`
	FollowUpRequired    bool    `json:"follow_up_required" form:"follow_up_required"`
	FollowUpDescription string  `json:"follow_up_description" form:"follow_up_description"`
}

// CancelRequest payload.
type CancelRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

// WorkOrderListQuery captures query filters.
type WorkOrderListQuery struct {
	Statuses    []domain.WorkOrderStatus
	Priorities  []domain.WorkOrderPriority
	PropertyID  *string
	AssigneeID  *string
	RequestedBy *string
	Page        int
	PageSize    int
}

// WorkOrderResponse is the full view of a work order.
type WorkOrderResponse struct {
	ID                  string                   `json:"id"`
	Number              string                   `json:"number"`
	Title               string                   `json:"title"`
	Description         string                   `json:"description"`
	Category            string                   `json:"category"`
	Priority            domain.WorkOrderPriority `json:"priority"`
	PropertyID          string                   `json:"property_id"`
	UnitID              *string                  `json:"unit_id"`
	ManagerID           *string                  `json:"manager_id"`
	RequestedBy         string                   `json:"requested_by"`
	AssignedTo          *string                  `json:"assigned_to"`
	AssigneeType        *domain.AssigneeType     `json:"assignee_type"`
	Status              domain.WorkOrderStatus   `json:"status"`
	AssignedAt          *time.Time               `json:"assigned_at"`
	StartedAt           *time.Time               `json:"started_at"`
	CompletedAt         *time.Time               `json:"completed_at"`
	ClosedAt            *time.Time               `json:"closed_at"`
	ScheduledDate       *time.Time               `json:"scheduled_date"`
	Attachments         []string                 `json:"attachments"`
	BeforePhotos        []string                 `json:"before_photos"`
	AfterPhotos         []string                 `json:"after_photos"`
	CompletionNotes     *string                  `json:"completion_notes"`
	HoursSpent          *float64                 `json:"hours_spent"`
	ActualCost          *decimal.Decimal         `json:"actual_cost"`
	Recommendations     *string                  `json:"recommendations"`
	FollowUpRequired    bool                     `json:"follow_up_required"`
	FollowUpDescription *string                  `json:"follow_up_description"`
	CancellationReason  *string                  `json:"cancellation_reason"`
	ClosedBy            *string                  `json:"closed_by"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
	Version             int64                    `json:"version"`
}

// WorkOrderSummary is the list view.
type WorkOrderSummary struct {
	ID         string                   `json:"id"`
	Number     string                   `json:"number"`
	Title      string                   `json:"title"`
	Category   string                   `json:"category"`
	Priority   domain.WorkOrderPriority `json:"priority"`
	PropertyID string                   `json:"property_id"`
	AssignedTo *string                  `json:"assigned_to"`
	Status     domain.WorkOrderStatus   `json:"status"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// AssignmentResponse is one ledger record.
type AssignmentResponse struct {
	ID                 string              `json:"id"`
	AssigneeType       domain.AssigneeType `json:"assignee_type"`
	AssigneeID         string              `json:"assignee_id"`
	AssignedBy         string              `json:"assigned_by"`
	AssignedAt         time.Time           `json:"assigned_at"`
	ReassignmentReason *string             `json:"reassignment_reason"`
	Notes              string              `json:"notes"`
}

// ProgressUpdateResponse is one journal entry.
type ProgressUpdateResponse struct {
	ID                      string     `json:"id"`
	AuthorID                string     `json:"author_id"`
	Notes                   string     `json:"notes"`
	PhotoURLs               []string   `json:"photo_urls"`
	EstimatedCompletionDate *time.Time `json:"estimated_completion_date"`
	CreatedAt               time.Time  `json:"created_at"`
}

// TimelineEntryResponse is one entry of the audit stream.
type TimelineEntryResponse struct {
	Kind    domain.TimelineKind `json:"kind"`
	At      time.Time           `json:"at"`
	ActorID string              `json:"actor_id"`
	Summary string              `json:"summary"`
	Details map[string]any      `json:"details,omitempty"`
}

// TokenResponse is returned by the token command and is what clients send as bearer.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}
