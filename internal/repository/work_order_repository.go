package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/spec-kit/workorder-service/internal/domain"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

// WorkOrderFilter captures listing parameters.
type WorkOrderFilter struct {
	PropertyID  *string
	AssigneeID  *string
	RequestedBy *string
	Statuses    []domain.WorkOrderStatus
	Priorities  []domain.WorkOrderPriority
	Limit       int
	Offset      int
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Normalize clamps paging values into range.
func (f WorkOrderFilter) Normalize() WorkOrderFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches applies the filter to one work order; used by stores that filter in process.
func (f WorkOrderFilter) Matches(wo *domain.WorkOrder) bool {
	if f.PropertyID != nil && wo.PropertyID != *f.PropertyID {
		return false
	}
	if f.AssigneeID != nil && !wo.IsAssignee(*f.AssigneeID) {
		return false
	}
	if f.RequestedBy != nil && wo.RequestedBy != *f.RequestedBy {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, wo.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, wo.Priority) {
		return false
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Mutation is one atomic write against a work order. WorkOrder carries the new
// state and, in Version, the version the caller read. The store commits the
// parent update together with the optional ledger or journal entry only if the
// stored version still equals that value, and bumps WorkOrder.Version on success.
type Mutation struct {
	WorkOrder  *domain.WorkOrder
	Assignment *domain.AssignmentRecord
	Progress   *domain.ProgressUpdate
}

// WorkOrderRepository encapsulates work order persistence, including its
// assignment ledger and progress journal.
type WorkOrderRepository interface {
	Create(ctx context.Context, wo *domain.WorkOrder) error
	GetByID(ctx context.Context, id string) (*domain.WorkOrder, error)
	GetByNumber(ctx context.Context, number string) (*domain.WorkOrder, error)
	ListWithFilter(ctx context.Context, filter WorkOrderFilter) ([]domain.WorkOrder, error)
	Apply(ctx context.Context, m Mutation) error
	ListAssignments(ctx context.Context, workOrderID string) ([]domain.AssignmentRecord, error)
	ListProgress(ctx context.Context, workOrderID string) ([]domain.ProgressUpdate, error)
	Ping(ctx context.Context) error
}

// SequenceRepository allocates per-year work order sequence values.
type SequenceRepository interface {
	NextSequence(ctx context.Context, year int) (int64, error)
	MaxSequence(ctx context.Context, year int) (int64, error)
}

// PostgresWorkOrders is the pgx-backed WorkOrderRepository and SequenceRepository.
type PostgresWorkOrders struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewWorkOrderRepository instantiates the Postgres repository.
func NewWorkOrderRepository(pool *pgxpool.Pool, tracer trace.Tracer) *PostgresWorkOrders {
	return &PostgresWorkOrders{pool: pool, tracer: tracer}
}

const workOrderColumns = `id, number, number_year, number_seq, title, description, category, priority,
               property_id, unit_id, manager_id, requested_by, assigned_to, assignee_type, status,
               assigned_at, started_at, completed_at, closed_at, scheduled_date,
               attachments, before_photos, after_photos,
               completion_notes, hours_spent, actual_cost, recommendations,
               follow_up_required, follow_up_description, cancellation_reason, closed_by,
               created_at, updated_at, version`

func (r *PostgresWorkOrders) Create(ctx context.Context, wo *domain.WorkOrder) error {
	const query = `
        INSERT INTO work_orders (` + workOrderColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
                $21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34)`

	return ExecuteAndTrace(ctx, r.tracer, "repository.work_orders.create", []attribute.KeyValue{
		attribute.String("work_order.number", wo.Number),
	}, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, query, workOrderArgs(wo)...)
		if isUniqueViolation(err) {
			return apperrors.NewDuplicateNumber(wo.Number, err)
		}
		return err
	})
}

func (r *PostgresWorkOrders) GetByID(ctx context.Context, id string) (*domain.WorkOrder, error) {
	if !validID(id) {
		return nil, apperrors.NewNotFound("work order", map[string]any{"key": id})
	}
	const query = `SELECT ` + workOrderColumns + ` FROM work_orders WHERE id=$1`
	return r.fetchSingle(ctx, "repository.work_orders.get", query, id)
}

func (r *PostgresWorkOrders) GetByNumber(ctx context.Context, number string) (*domain.WorkOrder, error) {
	const query = `SELECT ` + workOrderColumns + ` FROM work_orders WHERE number=$1`
	return r.fetchSingle(ctx, "repository.work_orders.get_by_number", query, number)
}

func (r *PostgresWorkOrders) fetchSingle(ctx context.Context, span, query string, arg string) (*domain.WorkOrder, error) {
	var wo *domain.WorkOrder
	err := ExecuteAndTrace(ctx, r.tracer, span, []attribute.KeyValue{
		attribute.String("work_order.key", arg),
	}, func(ctx context.Context) error {
		var err error
		wo, err = scanWorkOrder(r.pool.QueryRow(ctx, query, arg))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("work order", map[string]any{"key": arg})
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return wo, nil
}

func (r *PostgresWorkOrders) ListWithFilter(ctx context.Context, filter WorkOrderFilter) ([]domain.WorkOrder, error) {
	filter = filter.Normalize()
	clauses := []string{"1=1"}
	args := []any{}

	if filter.PropertyID != nil {
		args = append(args, *filter.PropertyID)
		clauses = append(clauses, fmt.Sprintf("property_id=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if filter.RequestedBy != nil {
		args = append(args, *filter.RequestedBy)
		clauses = append(clauses, fmt.Sprintf("requested_by=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, string(status))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, string(pr))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}

	query := fmt.Sprintf(`SELECT %s FROM work_orders WHERE %s ORDER BY updated_at DESC, id LIMIT %d OFFSET %d`,
		workOrderColumns, strings.Join(clauses, " AND "), filter.Limit, filter.Offset)

	var result []domain.WorkOrder
	err := ExecuteAndTrace(ctx, r.tracer, "repository.work_orders.list", []attribute.KeyValue{
		attribute.Int("filter.limit", filter.Limit),
	}, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			wo, err := scanWorkOrder(rows)
			if err != nil {
				return err
			}
			result = append(result, *wo)
		}
		return rows.Err()
	})
	return result, err
}

func (r *PostgresWorkOrders) Apply(ctx context.Context, m Mutation) error {
	if m.WorkOrder == nil {
		return fmt.Errorf("mutation without work order")
	}
	wo := m.WorkOrder
	if !validID(wo.ID) {
		return apperrors.NewNotFound("work order", map[string]any{"id": wo.ID})
	}
	const update = `
        UPDATE work_orders SET assigned_to=$1, assignee_type=$2, status=$3,
            assigned_at=$4, started_at=$5, completed_at=$6, closed_at=$7, scheduled_date=$8,
            before_photos=$9, after_photos=$10, completion_notes=$11, hours_spent=$12, actual_cost=$13,
            recommendations=$14, follow_up_required=$15, follow_up_description=$16, cancellation_reason=$17,
            closed_by=$18, updated_at=$19, version=version+1
        WHERE id=$20 AND version=$21`

	err := ExecuteAndTrace(ctx, r.tracer, "repository.work_orders.apply", []attribute.KeyValue{
		attribute.String("work_order.id", wo.ID),
		attribute.Int64("work_order.version", wo.Version),
	}, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			cmd, err := tx.Exec(ctx, update,
				wo.AssignedTo,
				assigneeTypeArg(wo.AssigneeType),
				string(wo.Status),
				wo.AssignedAt,
				wo.StartedAt,
				wo.CompletedAt,
				wo.ClosedAt,
				wo.ScheduledDate,
				nonNil(wo.BeforePhotos),
				nonNil(wo.AfterPhotos),
				wo.CompletionNotes,
				wo.HoursSpent,
				numericFromDecimal(wo.ActualCost),
				wo.Recommendations,
				wo.FollowUpRequired,
				wo.FollowUpDescription,
				wo.CancellationReason,
				wo.ClosedBy,
				wo.UpdatedAt,
				wo.ID,
				wo.Version,
			)
			if err != nil {
				return err
			}
			if cmd.RowsAffected() == 0 {
				return staleOrMissing(ctx, tx, wo)
			}
			if rec := m.Assignment; rec != nil {
				if _, err := tx.Exec(ctx, `
                    INSERT INTO work_order_assignments (id, work_order_id, assignee_type, assignee_id, assigned_by, assigned_at, reassignment_reason, notes)
                    VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
					rec.ID, rec.WorkOrderID, string(rec.AssigneeType), rec.AssigneeID, rec.AssignedBy, rec.AssignedAt, rec.ReassignmentReason, rec.Notes,
				); err != nil {
					return err
				}
			}
			if p := m.Progress; p != nil {
				if _, err := tx.Exec(ctx, `
                    INSERT INTO work_order_progress (id, work_order_id, author_id, notes, photo_urls, estimated_completion_date, created_at)
                    VALUES ($1,$2,$3,$4,$5,$6,$7)`,
					p.ID, p.WorkOrderID, p.AuthorID, p.Notes, nonNil(p.PhotoURLs), p.EstimatedCompletionDate, p.CreatedAt,
				); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	wo.Version++
	return nil
}

func staleOrMissing(ctx context.Context, tx pgx.Tx, wo *domain.WorkOrder) error {
	var stored int64
	err := tx.QueryRow(ctx, `SELECT version FROM work_orders WHERE id=$1`, wo.ID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("work order", map[string]any{"id": wo.ID})
	}
	if err != nil {
		return err
	}
	return apperrors.NewConcurrentModification(wo.ID, wo.Version)
}

func (r *PostgresWorkOrders) ListAssignments(ctx context.Context, workOrderID string) ([]domain.AssignmentRecord, error) {
	const query = `
        SELECT id, work_order_id, assignee_type, assignee_id, assigned_by, assigned_at, reassignment_reason, notes
        FROM work_order_assignments WHERE work_order_id=$1 ORDER BY assigned_at, seq`
	if !validID(workOrderID) {
		return nil, nil
	}

	var result []domain.AssignmentRecord
	err := ExecuteAndTrace(ctx, r.tracer, "repository.work_orders.list_assignments", []attribute.KeyValue{
		attribute.String("work_order.id", workOrderID),
	}, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, workOrderID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rec domain.AssignmentRecord
			var assigneeType string
			if err := rows.Scan(
				&rec.ID,
				&rec.WorkOrderID,
				&assigneeType,
				&rec.AssigneeID,
				&rec.AssignedBy,
				&rec.AssignedAt,
				&rec.ReassignmentReason,
				&rec.Notes,
			); err != nil {
				return err
			}
			rec.AssigneeType = domain.AssigneeType(assigneeType)
			result = append(result, rec)
		}
		return rows.Err()
	})
	return result, err
}

func (r *PostgresWorkOrders) ListProgress(ctx context.Context, workOrderID string) ([]domain.ProgressUpdate, error) {
	const query = `
        SELECT id, work_order_id, author_id, notes, photo_urls, estimated_completion_date, created_at
        FROM work_order_progress WHERE work_order_id=$1 ORDER BY created_at, seq`
	if !validID(workOrderID) {
		return nil, nil
	}

	var result []domain.ProgressUpdate
	err := ExecuteAndTrace(ctx, r.tracer, "repository.work_orders.list_progress", []attribute.KeyValue{
		attribute.String("work_order.id", workOrderID),
	}, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, workOrderID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p domain.ProgressUpdate
			if err := rows.Scan(
				&p.ID,
				&p.WorkOrderID,
				&p.AuthorID,
				&p.Notes,
				&p.PhotoURLs,
				&p.EstimatedCompletionDate,
				&p.CreatedAt,
			); err != nil {
				return err
			}
			result = append(result, p)
		}
		return rows.Err()
	})
	return result, err
}

func (r *PostgresWorkOrders) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// NextSequence atomically increments the per-year counter, seeding it from
// the highest persisted suffix the first time a year is seen.
func (r *PostgresWorkOrders) NextSequence(ctx context.Context, year int) (int64, error) {
	const query = `
        INSERT INTO work_order_sequences (year, last_value)
        VALUES ($1, COALESCE((SELECT MAX(number_seq) FROM work_orders WHERE number_year=$1), 0) + 1)
        ON CONFLICT (year) DO UPDATE SET last_value = work_order_sequences.last_value + 1
        RETURNING last_value`

	var next int64
	err := ExecuteAndTrace(ctx, r.tracer, "repository.sequences.next", []attribute.KeyValue{
		attribute.Int("sequence.year", year),
	}, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx, query, year).Scan(&next)
	})
	return next, err
}

func (r *PostgresWorkOrders) MaxSequence(ctx context.Context, year int) (int64, error) {
	var max int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(number_seq), 0) FROM work_orders WHERE number_year=$1`, year,
	).Scan(&max)
	return max, err
}

func workOrderArgs(wo *domain.WorkOrder) []any {
	return []any{
		wo.ID,
		wo.Number,
		wo.NumberYear,
		wo.NumberSeq,
		wo.Title,
		wo.Description,
		wo.Category,
		string(wo.Priority),
		wo.PropertyID,
		wo.UnitID,
		wo.ManagerID,
		wo.RequestedBy,
		wo.AssignedTo,
		assigneeTypeArg(wo.AssigneeType),
		string(wo.Status),
		wo.AssignedAt,
		wo.StartedAt,
		wo.CompletedAt,
		wo.ClosedAt,
		wo.ScheduledDate,
		nonNil(wo.Attachments),
		nonNil(wo.BeforePhotos),
		nonNil(wo.AfterPhotos),
		wo.CompletionNotes,
		wo.HoursSpent,
		numericFromDecimal(wo.ActualCost),
		wo.Recommendations,
		wo.FollowUpRequired,
		wo.FollowUpDescription,
		wo.CancellationReason,
		wo.ClosedBy,
		wo.CreatedAt,
		wo.UpdatedAt,
		wo.Version,
	}
}

func scanWorkOrder(row pgx.Row) (*domain.WorkOrder, error) {
	var (
		wo           domain.WorkOrder
		priority     string
		status       string
		assigneeType *string
		cost         pgtype.Numeric
	)
	if err := row.Scan(
		&wo.ID,
		&wo.Number,
		&wo.NumberYear,
		&wo.NumberSeq,
		&wo.Title,
		&wo.Description,
		&wo.Category,
		&priority,
		&wo.PropertyID,
		&wo.UnitID,
		&wo.ManagerID,
		&wo.RequestedBy,
		&wo.AssignedTo,
		&assigneeType,
		&status,
		&wo.AssignedAt,
		&wo.StartedAt,
		&wo.CompletedAt,
		&wo.ClosedAt,
		&wo.ScheduledDate,
		&wo.Attachments,
		&wo.BeforePhotos,
		&wo.AfterPhotos,
		&wo.CompletionNotes,
		&wo.HoursSpent,
		&cost,
		&wo.Recommendations,
		&wo.FollowUpRequired,
		&wo.FollowUpDescription,
		&wo.CancellationReason,
		&wo.ClosedBy,
		&wo.CreatedAt,
		&wo.UpdatedAt,
		&wo.Version,
	); err != nil {
		return nil, err
	}
	wo.Priority = domain.WorkOrderPriority(priority)
	wo.Status = domain.WorkOrderStatus(status)
	if assigneeType != nil {
		t := domain.AssigneeType(*assigneeType)
		wo.AssigneeType = &t
	}
	wo.ActualCost = decimalFromNumeric(cost)
	return &wo, nil
}

func assigneeTypeArg(t *domain.AssigneeType) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
