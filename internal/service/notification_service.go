package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/directory"
	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/events"
	"github.com/spec-kit/workorder-service/internal/notification"
)

// AssignmentReader exposes the assignment ledger; used to find a manager when
// the work order names none.
type AssignmentReader interface {
	ListAssignments(ctx context.Context, workOrderID string) ([]domain.AssignmentRecord, error)
}

// NotificationService turns work order events into notifications.
type NotificationService struct {
	dispatcher events.Dispatcher
	notifier   notification.Dispatcher
	directory  directory.Directory
	ledger     AssignmentReader
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, notifier notification.Dispatcher, dir directory.Directory, ledger AssignmentReader, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		notifier:   notifier,
		directory:  dir,
		ledger:     ledger,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventWorkOrderAssigned, n.handleAssigned)
	n.dispatcher.Subscribe(events.EventWorkOrderReassigned, n.handleReassigned)
	n.dispatcher.Subscribe(events.EventWorkOrderStarted, n.handleStarted)
	n.dispatcher.Subscribe(events.EventProgressAdded, n.handleProgressAdded)
	n.dispatcher.Subscribe(events.EventWorkOrderCompleted, n.handleCompleted)
	n.dispatcher.Subscribe(events.EventWorkOrderCancelled, n.handleCancelled)
	n.dispatcher.Subscribe(events.EventWorkOrderClosed, n.handleClosed)
}

type addressee struct {
	kind domain.RecipientType
	id   string
}

func (n *NotificationService) handleAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.AssignedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	rec := payload.Assignment
	return n.send(ctx, event, notification.TemplateAssigned, basePayload(event.WorkOrder, notification.Payload{
		"notes": rec.Notes,
	}), assigneeOf(rec.AssigneeType, rec.AssigneeID))
}

// handleReassigned notifies both parties; one failing does not stop the other.
func (n *NotificationService) handleReassigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ReassignedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	rec := payload.Assignment
	reason := ""
	if rec.ReassignmentReason != nil {
		reason = *rec.ReassignmentReason
	}
	newErr := n.send(ctx, event, notification.TemplateReassigned, basePayload(event.WorkOrder, notification.Payload{
		"reason": reason,
		"notes":  rec.Notes,
	}), assigneeOf(rec.AssigneeType, rec.AssigneeID))
	oldErr := n.send(ctx, event, notification.TemplateUnassigned, basePayload(event.WorkOrder, notification.Payload{
		"reason": reason,
	}), assigneeOf(payload.PreviousAssigneeType, payload.PreviousAssigneeID))
	return errors.Join(newErr, oldErr)
}

func (n *NotificationService) handleStarted(ctx context.Context, event events.Event) error {
	manager, ok := n.manager(ctx, event.WorkOrder)
	if !ok {
		n.logger.Debug("no manager to notify", zap.String("work_order_id", event.WorkOrderID()))
		return nil
	}
	return n.send(ctx, event, notification.TemplateStarted, basePayload(event.WorkOrder, notification.Payload{
		"started_at": event.WorkOrder.StartedAt,
	}), manager)
}

func (n *NotificationService) handleProgressAdded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ProgressAddedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	to := []addressee{{kind: domain.RecipientTypeUser, id: event.WorkOrder.RequestedBy}}
	if manager, ok := n.manager(ctx, event.WorkOrder); ok {
		to = append([]addressee{manager}, to...)
	}
	return n.send(ctx, event, notification.TemplateProgress, basePayload(event.WorkOrder, notification.Payload{
		"notes":                     payload.Update.Notes,
		"photos":                    len(payload.Update.PhotoURLs),
		"estimated_completion_date": payload.Update.EstimatedCompletionDate,
	}), to...)
}

func (n *NotificationService) handleCompleted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CompletedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	to := []addressee{{kind: domain.RecipientTypeUser, id: event.WorkOrder.RequestedBy}}
	if manager, ok := n.manager(ctx, event.WorkOrder); ok {
		to = append([]addressee{manager}, to...)
	}
	extra := notification.Payload{
		"hours_spent":        payload.HoursSpent,
		"total_cost":         payload.TotalCost.StringFixed(2),
		"follow_up_required": payload.FollowUpRequired,
	}
	if payload.FollowUpDescription != nil {
		extra["follow_up_description"] = *payload.FollowUpDescription
	}
	return n.send(ctx, event, notification.TemplateCompleted, basePayload(event.WorkOrder, extra), to...)
}

func (n *NotificationService) handleCancelled(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CancelledPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	extra := notification.Payload{"previous_status": string(payload.PreviousStatus)}
	if payload.Reason != nil {
		extra["reason"] = *payload.Reason
	}
	return n.send(ctx, event, notification.TemplateCancelled, basePayload(event.WorkOrder, extra), n.parties(event.WorkOrder)...)
}

func (n *NotificationService) handleClosed(ctx context.Context, event events.Event) error {
	return n.send(ctx, event, notification.TemplateClosed, basePayload(event.WorkOrder, nil), n.parties(event.WorkOrder)...)
}

// parties is the requester plus the current assignee, if any.
func (n *NotificationService) parties(wo *domain.WorkOrder) []addressee {
	to := []addressee{{kind: domain.RecipientTypeUser, id: wo.RequestedBy}}
	if wo.HasAssignee() && wo.AssigneeType != nil {
		to = append(to, assigneeOf(*wo.AssigneeType, *wo.AssignedTo))
	}
	return to
}

// manager is the work order's manager, falling back to whoever made the
// latest assignment.
func (n *NotificationService) manager(ctx context.Context, wo *domain.WorkOrder) (addressee, bool) {
	if wo.ManagerID != nil && *wo.ManagerID != "" {
		return addressee{kind: domain.RecipientTypeUser, id: *wo.ManagerID}, true
	}
	if n.ledger == nil {
		return addressee{}, false
	}
	records, err := n.ledger.ListAssignments(ctx, wo.ID)
	if err != nil {
		n.logger.Warn("failed to read assignment ledger", zap.String("work_order_id", wo.ID), zap.Error(err))
		return addressee{}, false
	}
	current, ok := domain.CurrentAssignment(records)
	if !ok {
		return addressee{}, false
	}
	return addressee{kind: domain.RecipientTypeUser, id: current.AssignedBy}, true
}

// send delivers to every distinct addressee and joins the failures.
func (n *NotificationService) send(ctx context.Context, event events.Event, template notification.Template, payload notification.Payload, to ...addressee) error {
	seen := make(map[string]bool, len(to))
	var errs []error
	for _, a := range to {
		if a.id == "" || seen[a.id] {
			continue
		}
		seen[a.id] = true

		recipient, err := n.resolve(ctx, a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := n.notifier.Notify(ctx, recipient, template, payload); err != nil {
			n.logger.Warn("notification failed",
				zap.String("template", string(template)),
				zap.String("recipient_id", a.id),
				zap.String("work_order_id", event.WorkOrderID()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("notify %s %s: %w", a.kind, a.id, err))
		}
	}
	return errors.Join(errs...)
}

func (n *NotificationService) resolve(ctx context.Context, a addressee) (notification.Recipient, error) {
	name, err := n.directory.ResolveDisplayName(ctx, a.kind, a.id)
	if err != nil {
		return notification.Recipient{}, fmt.Errorf("resolve %s %s: %w", a.kind, a.id, err)
	}
	contact, err := n.directory.ResolveContact(ctx, a.kind, a.id)
	if err != nil {
		return notification.Recipient{}, fmt.Errorf("resolve contact %s %s: %w", a.kind, a.id, err)
	}
	return notification.Recipient{Type: a.kind, ID: a.id, DisplayName: name, Contact: contact}, nil
}

func assigneeOf(t domain.AssigneeType, id string) addressee {
	return addressee{kind: domain.RecipientTypeFor(t), id: id}
}

func basePayload(wo *domain.WorkOrder, extra notification.Payload) notification.Payload {
	p := notification.Payload{
		"work_order_id": wo.ID,
		"number":        wo.Number,
		"title":         wo.Title,
		"status":        string(wo.Status),
		"property_id":   wo.PropertyID,
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func unexpectedPayload(event events.Event) error {
	return fmt.Errorf("event %s carries unexpected payload %T", event.Type, event.Payload)
}
