package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/events"
	"github.com/spec-kit/workorder-service/internal/evidence"
	"github.com/spec-kit/workorder-service/internal/repository"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

// ProgressInput describes a progress journal entry.
type ProgressInput struct {
	Notes                   string
	Photos                  []domain.PhotoUpload
	EstimatedCompletionDate *time.Time
}

// CompleteInput describes the outcome of finished work.
type CompleteInput struct {
	CompletionNotes     string
	HoursSpent          float64
	TotalCost           decimal.Decimal
	Recommendations     string
	FollowUpRequired    bool
	FollowUpDescription string
	AfterPhotos         []domain.PhotoUpload
}

func (in CompleteInput) validate(keeper *evidence.Keeper) error {
	if len(in.AfterPhotos) == 0 {
		return apperrors.NewValidationError("after photo required", nil)
	}
	if err := keeper.Validate(in.AfterPhotos); err != nil {
		return err
	}
	if in.FollowUpRequired && strings.TrimSpace(in.FollowUpDescription) == "" {
		return apperrors.NewValidationError("follow-up description required", nil)
	}
	if math.IsNaN(in.HoursSpent) || math.IsInf(in.HoursSpent, 0) {
		return apperrors.NewValidationError("hours spent must be a finite number", nil)
	}
	if in.HoursSpent < 0 {
		return apperrors.NewValidationError("hours spent cannot be negative", map[string]any{"hours_spent": in.HoursSpent})
	}
	if in.TotalCost.IsNegative() {
		return apperrors.NewValidationError("total cost cannot be negative", map[string]any{"total_cost": in.TotalCost.String()})
	}
	if !in.TotalCost.Equal(in.TotalCost.Round(2)) {
		return apperrors.NewValidationError("total cost has more than 2 decimal places", map[string]any{"total_cost": in.TotalCost.String()})
	}
	return nil
}

// Start moves an assigned work order to IN_PROGRESS. Only the assignee may start it.
func (s *WorkOrderService) Start(ctx context.Context, actor domain.Actor, id string, beforePhotos []domain.PhotoUpload) (_ *domain.WorkOrder, err error) {
	ctx, done := s.observe(ctx, "start", id)
	defer done(&err)

	wo, err := s.workOrders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo.Status != domain.WorkOrderStatusAssigned {
		return nil, apperrors.NewInvalidState("only assigned work orders can be started", map[string]any{"status": wo.Status})
	}
	if !wo.IsAssignee(actor.ID) {
		return nil, apperrors.NewUnauthorized("only the assignee may start this work order")
	}
	if err := s.evidence.Validate(beforePhotos); err != nil {
		return nil, err
	}

	paths, err := s.evidence.Store(ctx, wo.ID, evidence.StageBefore, beforePhotos)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	from := wo.Status
	wo.BeforePhotos = paths
	if err := wo.TransitionTo(domain.WorkOrderStatusInProgress, s.now().UTC()); err != nil {
		s.evidence.Discard(ctx, paths)
		return nil, err
	}

	err = s.commit(ctx, actor, from, repository.Mutation{WorkOrder: wo},
		events.EventWorkOrderStarted, events.StartedPayload{BeforePhotos: paths})
	if err != nil {
		s.evidence.Discard(ctx, paths)
		return nil, err
	}
	return wo, nil
}

// AddProgressUpdate appends to the progress journal of a work order in progress.
func (s *WorkOrderService) AddProgressUpdate(ctx context.Context, actor domain.Actor, id string, input ProgressInput) (_ *domain.ProgressUpdate, err error) {
	ctx, done := s.observe(ctx, "add_progress", id)
	defer done(&err)

	wo, err := s.workOrders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo.Status != domain.WorkOrderStatusInProgress {
		return nil, apperrors.NewInvalidState("progress can only be recorded on work in progress", map[string]any{"status": wo.Status})
	}
	if !wo.IsAssignee(actor.ID) {
		return nil, apperrors.NewUnauthorized("only the assignee may record progress")
	}
	notes := strings.TrimSpace(input.Notes)
	if notes == "" {
		return nil, apperrors.NewValidationError("progress notes required", nil)
	}
	if err := s.evidence.Validate(input.Photos); err != nil {
		return nil, err
	}

	paths, err := s.evidence.Store(ctx, wo.ID, evidence.StageProgress, input.Photos)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	now := s.now().UTC()
	update := domain.ProgressUpdate{
		ID:          uuid.NewString(),
		WorkOrderID: wo.ID,
		AuthorID:    actor.ID,
		Notes:       notes,
		PhotoURLs:   paths,
		CreatedAt:   now,
	}
	if input.EstimatedCompletionDate != nil {
		estimate := input.EstimatedCompletionDate.UTC()
		update.EstimatedCompletionDate = &estimate
		scheduled := estimate
		wo.ScheduledDate = &scheduled
	}
	wo.UpdatedAt = now

	err = s.commit(ctx, actor, wo.Status, repository.Mutation{WorkOrder: wo, Progress: &update},
		events.EventProgressAdded, events.ProgressAddedPayload{Update: update})
	if err != nil {
		s.evidence.Discard(ctx, paths)
		return nil, err
	}
	return &update, nil
}

// Complete records the outcome of the work and moves it to COMPLETED.
// Input is checked first, then the transition, then the actor.
func (s *WorkOrderService) Complete(ctx context.Context, actor domain.Actor, id string, input CompleteInput) (_ *domain.WorkOrder, err error) {
	ctx, done := s.observe(ctx, "complete", id)
	defer done(&err)

	if err := input.validate(s.evidence); err != nil {
		return nil, err
	}

	wo, err := s.workOrders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := wo.Status.ValidateTransition(domain.WorkOrderStatusCompleted); err != nil {
		return nil, err
	}
	if !wo.IsAssignee(actor.ID) {
		return nil, apperrors.NewUnauthorized("only the assignee may complete this work order")
	}

	paths, err := s.evidence.Store(ctx, wo.ID, evidence.StageAfter, input.AfterPhotos)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	from := wo.Status
	hours := input.HoursSpent
	cost := input.TotalCost
	wo.AfterPhotos = paths
	wo.CompletionNotes = trimmedOrNil(&input.CompletionNotes)
	wo.HoursSpent = &hours
	wo.ActualCost = &cost
	wo.Recommendations = trimmedOrNil(&input.Recommendations)
	wo.FollowUpRequired = input.FollowUpRequired
	wo.FollowUpDescription = nil
	if input.FollowUpRequired {
		wo.FollowUpDescription = trimmedOrNil(&input.FollowUpDescription)
	}
	if err := wo.TransitionTo(domain.WorkOrderStatusCompleted, s.now().UTC()); err != nil {
		s.evidence.Discard(ctx, paths)
		return nil, err
	}

	err = s.commit(ctx, actor, from, repository.Mutation{WorkOrder: wo},
		events.EventWorkOrderCompleted, events.CompletedPayload{
			HoursSpent:          hours,
			TotalCost:           cost,
			FollowUpRequired:    wo.FollowUpRequired,
			FollowUpDescription: wo.FollowUpDescription,
		})
	if err != nil {
		s.evidence.Discard(ctx, paths)
		return nil, err
	}
	return wo, nil
}

// Cancel closes unfinished work. Managers and the original requester may cancel.
func (s *WorkOrderService) Cancel(ctx context.Context, actor domain.Actor, id string, reason *string) (_ *domain.WorkOrder, err error) {
	ctx, done := s.observe(ctx, "cancel", id)
	defer done(&err)

	wo, err := s.workOrders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsManager() && actor.ID != wo.RequestedBy {
		return nil, apperrors.NewUnauthorized("only a manager or the requester may cancel this work order")
	}
	if !wo.Status.Cancellable() {
		return nil, apperrors.NewInvalidState("work order can no longer be cancelled", map[string]any{"status": wo.Status})
	}

	from := wo.Status
	wo.CancellationReason = trimmedOrNil(reason)
	if err := wo.TransitionTo(domain.WorkOrderStatusClosed, s.now().UTC()); err != nil {
		return nil, err
	}
	wo.ClosedBy = &actor.ID

	err = s.commit(ctx, actor, from, repository.Mutation{WorkOrder: wo},
		events.EventWorkOrderCancelled, events.CancelledPayload{Reason: wo.CancellationReason, PreviousStatus: from})
	if err != nil {
		return nil, err
	}
	return wo, nil
}

// Close archives completed work.
func (s *WorkOrderService) Close(ctx context.Context, actor domain.Actor, id string) (_ *domain.WorkOrder, err error) {
	ctx, done := s.observe(ctx, "close", id)
	defer done(&err)

	if err := requireManager(actor, "close"); err != nil {
		return nil, err
	}
	wo, err := s.workOrders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo.Status != domain.WorkOrderStatusCompleted {
		return nil, apperrors.NewInvalidState("only completed work orders can be closed", map[string]any{"status": wo.Status})
	}

	from := wo.Status
	if err := wo.TransitionTo(domain.WorkOrderStatusClosed, s.now().UTC()); err != nil {
		return nil, err
	}
	wo.ClosedBy = &actor.ID
	if err := s.commit(ctx, actor, from, repository.Mutation{WorkOrder: wo}, events.EventWorkOrderClosed, nil); err != nil {
		return nil, err
	}
	return wo, nil
}
