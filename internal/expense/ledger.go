// Package expense is the boundary to the accounting ledger that books the cost
// of completed work orders.
package expense

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExpenseID identifies a booked expense.
type ExpenseID string

// ExpenseRequest describes the expense raised by a completed work order.
type ExpenseRequest struct {
	WorkOrderID string
	Category    string
	Amount      decimal.Decimal
	PropertyID  string
	VendorID    *string
}

// Validate checks the request before it reaches a ledger.
func (r ExpenseRequest) Validate() error {
	if r.WorkOrderID == "" {
		return fmt.Errorf("expense: work order id is required")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("expense: amount must be positive, got %s", r.Amount.String())
	}
	return nil
}

// Expense is a booked ledger row.
type Expense struct {
	ID          ExpenseID
	WorkOrderID string
	Category    string
	Amount      decimal.Decimal
	PropertyID  string
	VendorID    *string
	CreatedAt   time.Time
}

// Ledger books at most one expense per work order. CreateFromWorkOrder called
// again for the same work order returns the id of the existing expense.
type Ledger interface {
	CreateFromWorkOrder(ctx context.Context, req ExpenseRequest) (ExpenseID, error)
	ExistsForWorkOrder(ctx context.Context, workOrderID string) (bool, error)
}

// MemoryLedger keeps expenses in process.
type MemoryLedger struct {
	mu          sync.Mutex
	byWorkOrder map[string]Expense
	now         func() time.Time
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{byWorkOrder: make(map[string]Expense), now: time.Now}
}

func (l *MemoryLedger) CreateFromWorkOrder(ctx context.Context, req ExpenseRequest) (ExpenseID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.byWorkOrder[req.WorkOrderID]; ok {
		return existing.ID, nil
	}
	exp := Expense{
		ID:          ExpenseID(uuid.NewString()),
		WorkOrderID: req.WorkOrderID,
		Category:    req.Category,
		Amount:      req.Amount,
		PropertyID:  req.PropertyID,
		VendorID:    req.VendorID,
		CreatedAt:   l.now().UTC(),
	}
	l.byWorkOrder[req.WorkOrderID] = exp
	return exp.ID, nil
}

func (l *MemoryLedger) ExistsForWorkOrder(ctx context.Context, workOrderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byWorkOrder[workOrderID]
	return ok, nil
}

// ForWorkOrder returns the expense booked for a work order.
func (l *MemoryLedger) ForWorkOrder(workOrderID string) (Expense, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.byWorkOrder[workOrderID]
	return exp, ok
}

// Len reports how many expenses are booked.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byWorkOrder)
}
