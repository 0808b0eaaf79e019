package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/events"
	"github.com/spec-kit/workorder-service/internal/expense"
)

// ExpenseService books the cost of completed work in the expense ledger.
type ExpenseService struct {
	dispatcher events.Dispatcher
	ledger     expense.Ledger
	logger     *zap.Logger
	maxElapsed time.Duration
	initial    time.Duration
}

// NewExpenseService creates the service; maxElapsed bounds the retries of one booking.
func NewExpenseService(dispatcher events.Dispatcher, ledger expense.Ledger, logger *zap.Logger, maxElapsed time.Duration) *ExpenseService {
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return &ExpenseService{
		dispatcher: dispatcher,
		ledger:     ledger,
		logger:     logger,
		maxElapsed: maxElapsed,
		initial:    200 * time.Millisecond,
	}
}

// RegisterHandlers subscribes to events.
func (e *ExpenseService) RegisterHandlers() {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.Subscribe(events.EventWorkOrderCompleted, e.handleCompleted)
}

func (e *ExpenseService) handleCompleted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CompletedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	if !payload.TotalCost.IsPositive() {
		return nil
	}
	_, err := e.Book(ctx, expenseRequest(event.WorkOrder, payload))
	return err
}

// Book creates the expense for a work order unless one exists, retrying
// transient ledger failures with exponential backoff.
func (e *ExpenseService) Book(ctx context.Context, req expense.ExpenseRequest) (expense.ExpenseID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.initial
	policy.MaxElapsedTime = e.maxElapsed

	var (
		id      expense.ExpenseID
		existed bool
		attempt int
	)
	op := func() error {
		attempt++
		exists, err := e.ledger.ExistsForWorkOrder(ctx, req.WorkOrderID)
		if err != nil {
			return fmt.Errorf("check expense: %w", err)
		}
		existed = exists
		// An existing expense comes back with its own id.
		id, err = e.ledger.CreateFromWorkOrder(ctx, req)
		if err != nil {
			return fmt.Errorf("create expense: %w", err)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn("expense booking failed; retrying",
			zap.String("work_order_id", req.WorkOrderID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return "", fmt.Errorf("book expense for work order %s: %w", req.WorkOrderID, err)
	}
	if existed {
		e.logger.Debug("expense already booked", zap.String("work_order_id", req.WorkOrderID), zap.String("expense_id", string(id)))
		return id, nil
	}
	e.logger.Info("expense booked",
		zap.String("work_order_id", req.WorkOrderID),
		zap.String("expense_id", string(id)),
		zap.String("amount", req.Amount.StringFixed(2)))
	return id, nil
}

func expenseRequest(wo *domain.WorkOrder, payload events.CompletedPayload) expense.ExpenseRequest {
	req := expense.ExpenseRequest{
		WorkOrderID: wo.ID,
		Category:    wo.Category,
		Amount:      payload.TotalCost,
		PropertyID:  wo.PropertyID,
	}
	if wo.AssigneeType != nil && *wo.AssigneeType == domain.AssigneeTypeExternalVendor && wo.AssignedTo != nil {
		vendor := *wo.AssignedTo
		req.VendorID = &vendor
	}
	return req
}
