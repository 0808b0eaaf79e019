package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/spec-kit/workorder-service/internal/expense"
)

type expenseRepository struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewExpenseRepository returns a Postgres expense ledger. The UNIQUE
// constraint on work_order_id keeps creation idempotent across processes.
func NewExpenseRepository(pool *pgxpool.Pool, tracer trace.Tracer) expense.Ledger {
	return &expenseRepository{pool: pool, tracer: tracer}
}

func (r *expenseRepository) CreateFromWorkOrder(ctx context.Context, req expense.ExpenseRequest) (expense.ExpenseID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	const insert = `
        INSERT INTO expenses (id, work_order_id, category, amount, property_id, vendor_id)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (work_order_id) DO NOTHING
        RETURNING id`

	var id string
	err := ExecuteAndTrace(ctx, r.tracer, "repository.expenses.create", []attribute.KeyValue{
		attribute.String("work_order.id", req.WorkOrderID),
	}, func(ctx context.Context) error {
		err := r.pool.QueryRow(ctx, insert,
			uuid.NewString(),
			req.WorkOrderID,
			req.Category,
			numericFromDecimal(&req.Amount),
			req.PropertyID,
			req.VendorID,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.pool.QueryRow(ctx, `SELECT id FROM expenses WHERE work_order_id=$1`, req.WorkOrderID).Scan(&id)
		}
		return err
	})
	return expense.ExpenseID(id), err
}

func (r *expenseRepository) ExistsForWorkOrder(ctx context.Context, workOrderID string) (bool, error) {
	if !validID(workOrderID) {
		return false, nil
	}
	var exists bool
	err := ExecuteAndTrace(ctx, r.tracer, "repository.expenses.exists", []attribute.KeyValue{
		attribute.String("work_order.id", workOrderID),
	}, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM expenses WHERE work_order_id=$1)`, workOrderID,
		).Scan(&exists)
	})
	return exists, err
}
