package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/events"
	"github.com/spec-kit/workorder-service/internal/evidence"
	"github.com/spec-kit/workorder-service/internal/numbering"
	"github.com/spec-kit/workorder-service/internal/observability"
	"github.com/spec-kit/workorder-service/internal/repository"
	"github.com/spec-kit/workorder-service/internal/timeline"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

// WorkOrderService coordinates the work order lifecycle. Every mutation loads
// the aggregate, checks actor, input and state, commits one versioned
// Mutation and then publishes an event for the side effects.
type WorkOrderService struct {
	workOrders      repository.WorkOrderRepository
	numbers         *numbering.Generator
	evidence        *evidence.Keeper
	dispatcher      events.Dispatcher
	tracer          trace.Tracer
	metrics         *observability.Metrics
	logger          *zap.Logger
	now             func() time.Time
	conflictRetries uint64
}

// WorkOrderDependencies bundles collaborators for the work order service.
type WorkOrderDependencies struct {
	WorkOrderRepo repository.WorkOrderRepository
	Numbers       *numbering.Generator
	Evidence      *evidence.Keeper
	Dispatcher    events.Dispatcher
	Tracer        trace.Tracer
	Metrics       *observability.Metrics
	Logger        *zap.Logger
	// Now defaults to time.Now; tests pin it.
	Now             func() time.Time
	ConflictRetries uint64
}

// NewWorkOrderService constructs the service.
func NewWorkOrderService(deps WorkOrderDependencies) *WorkOrderService {
	s := &WorkOrderService{
		workOrders:      deps.WorkOrderRepo,
		numbers:         deps.Numbers,
		evidence:        deps.Evidence,
		dispatcher:      deps.Dispatcher,
		tracer:          deps.Tracer,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		now:             deps.Now,
		conflictRetries: deps.ConflictRetries,
	}
	if s.tracer == nil {
		s.tracer = repository.NoOpTracer()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateInput describes work order creation payload.
type CreateInput struct {
	Title       string
	Description string
	Category    string
	Priority    domain.WorkOrderPriority
	PropertyID  string
	UnitID      *string
	ManagerID   *string
	Attachments []domain.PhotoUpload
}

func (in CreateInput) validate() error {
	missing := []string{}
	if strings.TrimSpace(in.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(in.Category) == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(in.PropertyID) == "" {
		missing = append(missing, "property_id")
	}
	if len(missing) > 0 {
		return apperrors.NewValidationError("required fields missing", map[string]any{"fields": missing})
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return apperrors.NewValidationError("unknown priority", map[string]any{"priority": in.Priority})
	}
	return nil
}

// Create opens a new work order on behalf of actor.
func (s *WorkOrderService) Create(ctx context.Context, actor domain.Actor, input CreateInput) (_ *domain.WorkOrder, err error) {
	ctx, done := s.observe(ctx, "create", "")
	defer done(&err)

	if err := input.validate(); err != nil {
		return nil, err
	}
	if err := s.evidence.Validate(input.Attachments); err != nil {
		return nil, err
	}

	number, err := s.numbers.Next(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	wo := &domain.WorkOrder{
		ID:          uuid.NewString(),
		Number:      number.Value,
		NumberYear:  number.Year,
		NumberSeq:   number.Seq,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Category:    strings.TrimSpace(input.Category),
		Priority:    input.Priority,
		PropertyID:  strings.TrimSpace(input.PropertyID),
		UnitID:      trimmedOrNil(input.UnitID),
		ManagerID:   trimmedOrNil(input.ManagerID),
		RequestedBy: actor.ID,
		Status:      domain.WorkOrderStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if wo.Priority == "" {
		wo.Priority = domain.PriorityMedium
	}

	paths, err := s.evidence.Store(ctx, wo.ID, evidence.StageAttachments, input.Attachments)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	wo.Attachments = paths

	if err := s.workOrders.Create(ctx, wo); err != nil {
		s.evidence.Discard(ctx, paths)
		if errors.Is(err, apperrors.ErrDuplicateNumber) {
			s.logger.Error("work order number collision",
				zap.String("number", wo.Number),
				zap.Int("year", wo.NumberYear),
				zap.Int64("seq", wo.NumberSeq),
				zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("work order created", zap.String("work_order_id", wo.ID), zap.String("number", wo.Number))
	s.publish(ctx, events.EventWorkOrderCreated, actor, wo, nil)
	return wo, nil
}

// Get returns a work order by id.
func (s *WorkOrderService) Get(ctx context.Context, id string) (_ *domain.WorkOrder, err error) {
	ctx, done := s.observe(ctx, "get", id)
	defer done(&err)
	return s.workOrders.GetByID(ctx, id)
}

// GetByNumber returns a work order by its human-readable number.
func (s *WorkOrderService) GetByNumber(ctx context.Context, number string) (_ *domain.WorkOrder, err error) {
	ctx, done := s.observe(ctx, "get_by_number", "")
	defer done(&err)
	if _, _, err := numbering.ParseNumber(number); err != nil {
		return nil, err
	}
	return s.workOrders.GetByNumber(ctx, number)
}

// List returns work orders matching filter, most recently updated first.
func (s *WorkOrderService) List(ctx context.Context, filter repository.WorkOrderFilter) (_ []domain.WorkOrder, err error) {
	ctx, done := s.observe(ctx, "list", "")
	defer done(&err)
	for _, st := range filter.Statuses {
		if domain.ParseWorkOrderStatus(string(st)) == "" {
			return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": st})
		}
	}
	for _, p := range filter.Priorities {
		if !p.Valid() {
			return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": p})
		}
	}
	return s.workOrders.ListWithFilter(ctx, filter.Normalize())
}

// Assignments returns the assignment ledger of a work order, oldest first.
func (s *WorkOrderService) Assignments(ctx context.Context, id string) (_ []domain.AssignmentRecord, err error) {
	ctx, done := s.observe(ctx, "assignments", id)
	defer done(&err)
	if _, err := s.workOrders.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.workOrders.ListAssignments(ctx, id)
}

// ProgressUpdates returns the progress journal of a work order, oldest first.
func (s *WorkOrderService) ProgressUpdates(ctx context.Context, id string) (_ []domain.ProgressUpdate, err error) {
	ctx, done := s.observe(ctx, "progress_updates", id)
	defer done(&err)
	if _, err := s.workOrders.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.workOrders.ListProgress(ctx, id)
}

// Timeline returns the merged audit stream of a work order, newest first. The
// data is read once; the returned sequence is built on each iteration.
func (s *WorkOrderService) Timeline(ctx context.Context, id string) (_ iter.Seq[domain.TimelineEntry], err error) {
	ctx, done := s.observe(ctx, "timeline", id)
	defer done(&err)

	wo, assignments, updates, err := s.loadHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return timeline.Project(wo, assignments, updates), nil
}

// VerifyAssigneeProjection checks that the denormalized assignee fields agree
// with the latest assignment record.
func (s *WorkOrderService) VerifyAssigneeProjection(ctx context.Context, id string) (err error) {
	ctx, done := s.observe(ctx, "verify_projection", id)
	defer done(&err)

	wo, err := s.workOrders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	ledger, err := s.workOrders.ListAssignments(ctx, id)
	if err != nil {
		return err
	}
	if domain.ProjectionMatchesLedger(wo, ledger) {
		return nil
	}

	details := map[string]any{"work_order_id": id, "assigned_to": derefOr(wo.AssignedTo, "")}
	if current, ok := domain.CurrentAssignment(ledger); ok {
		details["ledger_assignee_id"] = current.AssigneeID
		details["ledger_assignee_type"] = string(current.AssigneeType)
	}
	s.logger.Error("assignee projection diverges from ledger", zap.Any("details", details))
	return apperrors.NewDomainError(apperrors.CodeInternal,
		"assignee projection diverges from assignment ledger",
		http.StatusInternalServerError, details)
}

func (s *WorkOrderService) loadHistory(ctx context.Context, id string) (*domain.WorkOrder, []domain.AssignmentRecord, []domain.ProgressUpdate, error) {
	wo, err := s.workOrders.GetByID(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	assignments, err := s.workOrders.ListAssignments(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	updates, err := s.workOrders.ListProgress(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return wo, assignments, updates, nil
}

// commit applies m and, on success, records the transition and publishes the event.
func (s *WorkOrderService) commit(ctx context.Context, actor domain.Actor, from domain.WorkOrderStatus, m repository.Mutation, eventType events.EventType, payload interface{}) error {
	if err := s.workOrders.Apply(ctx, m); err != nil {
		return err
	}
	if from != m.WorkOrder.Status {
		s.metrics.RecordTransition(string(from), string(m.WorkOrder.Status))
	}
	s.publish(ctx, eventType, actor, m.WorkOrder, payload)
	return nil
}

func (s *WorkOrderService) publish(ctx context.Context, eventType events.EventType, actor domain.Actor, wo *domain.WorkOrder, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		WorkOrder: wo.Clone(),
		Actor:     actor,
		Timestamp: s.now().UTC(),
		Payload:   payload,
	})
}

// observe opens a span for an operation and counts its outcome when the
// returned function runs.
func (s *WorkOrderService) observe(ctx context.Context, op, workOrderID string) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "WorkOrderService."+op)
	if workOrderID != "" {
		span.SetAttributes(attribute.String("work_order.id", workOrderID))
	}
	return ctx, func(errp *error) {
		outcome := "ok"
		if err := *errp; err != nil {
			outcome = apperrors.Code(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		s.metrics.RecordOperation(op, outcome)
		span.End()
	}
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func derefOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func requireManager(actor domain.Actor, action string) error {
	if !actor.IsManager() {
		return apperrors.NewUnauthorized(fmt.Sprintf("only managers may %s work orders", action))
	}
	return nil
}
