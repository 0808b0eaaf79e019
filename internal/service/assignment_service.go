package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/events"
	"github.com/spec-kit/workorder-service/internal/repository"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

// AssignInput describes an initial assignment.
type AssignInput struct {
	AssigneeID   string
	AssigneeType domain.AssigneeType
	Notes        string
}

// ReassignInput describes a change of assignee.
type ReassignInput struct {
	AssigneeID   string
	AssigneeType domain.AssigneeType
	Reason       string
	Notes        string
}

func validateAssignee(id string, t domain.AssigneeType) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.NewValidationError("assignee id is required", nil)
	}
	if !t.Valid() {
		return apperrors.NewValidationError("unknown assignee type", map[string]any{"assignee_type": t})
	}
	return nil
}

// Assign records the first assignee of an open work order and moves it to ASSIGNED.
func (s *WorkOrderService) Assign(ctx context.Context, actor domain.Actor, id string, input AssignInput) (_ *domain.WorkOrder, err error) {
	ctx, done := s.observe(ctx, "assign", id)
	defer done(&err)

	if err := requireManager(actor, "assign"); err != nil {
		return nil, err
	}
	if err := validateAssignee(input.AssigneeID, input.AssigneeType); err != nil {
		return nil, err
	}

	wo, err := s.workOrders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo.Status == domain.WorkOrderStatusClosed {
		return nil, apperrors.NewInvalidState("closed work orders cannot be assigned", map[string]any{"status": wo.Status})
	}
	if wo.HasAssignee() {
		return nil, apperrors.NewAlreadyAssigned(wo.ID, *wo.AssignedTo)
	}
	from := wo.Status
	if err := wo.Status.ValidateTransition(domain.WorkOrderStatusAssigned); err != nil {
		return nil, err
	}

	rec := domain.AssignmentRecord{
		ID:           uuid.NewString(),
		WorkOrderID:  wo.ID,
		AssigneeType: input.AssigneeType,
		AssigneeID:   strings.TrimSpace(input.AssigneeID),
		AssignedBy:   actor.ID,
		AssignedAt:   s.now().UTC(),
		Notes:        strings.TrimSpace(input.Notes),
	}
	wo.ApplyAssignment(rec)
	if err := wo.TransitionTo(domain.WorkOrderStatusAssigned, rec.AssignedAt); err != nil {
		return nil, err
	}

	err = s.commit(ctx, actor, from, repository.Mutation{WorkOrder: wo, Assignment: &rec},
		events.EventWorkOrderAssigned, events.AssignedPayload{Assignment: rec})
	if err != nil {
		return nil, err
	}
	return wo, nil
}

// Reassign hands an assigned work order to someone else without changing its status.
func (s *WorkOrderService) Reassign(ctx context.Context, actor domain.Actor, id string, input ReassignInput) (_ *domain.WorkOrder, err error) {
	ctx, done := s.observe(ctx, "reassign", id)
	defer done(&err)

	if err := requireManager(actor, "reassign"); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("reassignment reason required", nil)
	}
	if err := validateAssignee(input.AssigneeID, input.AssigneeType); err != nil {
		return nil, err
	}

	wo, err := s.workOrders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo.Status == domain.WorkOrderStatusCompleted || wo.Status == domain.WorkOrderStatusClosed {
		return nil, apperrors.NewInvalidState("work order can no longer be reassigned", map[string]any{"status": wo.Status})
	}
	if !wo.HasAssignee() {
		return nil, apperrors.NewInvalidState("work order has no assignee to replace; assign it first", map[string]any{"status": wo.Status})
	}

	assigneeID := strings.TrimSpace(input.AssigneeID)
	previousID, previousType := *wo.AssignedTo, *wo.AssigneeType
	if previousID == assigneeID && previousType == input.AssigneeType {
		return nil, apperrors.NewValidationError("work order is already assigned to this assignee",
			map[string]any{"assignee_id": assigneeID})
	}

	rec := domain.AssignmentRecord{
		ID:                 uuid.NewString(),
		WorkOrderID:        wo.ID,
		AssigneeType:       input.AssigneeType,
		AssigneeID:         assigneeID,
		AssignedBy:         actor.ID,
		AssignedAt:         s.now().UTC(),
		ReassignmentReason: &reason,
		Notes:              strings.TrimSpace(input.Notes),
	}
	wo.ApplyAssignment(rec)

	err = s.commit(ctx, actor, wo.Status, repository.Mutation{WorkOrder: wo, Assignment: &rec},
		events.EventWorkOrderReassigned, events.ReassignedPayload{
			Assignment:           rec,
			PreviousAssigneeID:   previousID,
			PreviousAssigneeType: previousType,
		})
	if err != nil {
		return nil, err
	}
	return wo, nil
}
