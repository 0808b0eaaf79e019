// Package sqlite provides the embedded SQLite work order store, used by
// single-node deployments and by tests that cannot reach Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/spec-kit/workorder-service/internal/directory"
	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/expense"
	"github.com/spec-kit/workorder-service/internal/repository"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists work orders, their ledger and journal, sequences, expenses
// and the directory tables in one SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const workOrderColumns = `id, number, number_year, number_seq, title, description, category, priority,
    property_id, unit_id, manager_id, requested_by, assigned_to, assignee_type, status,
    assigned_at, started_at, completed_at, closed_at, scheduled_date,
    attachments, before_photos, after_photos,
    completion_notes, hours_spent, actual_cost, recommendations,
    follow_up_required, follow_up_description, cancellation_reason, closed_by,
    created_at, updated_at, version`

func (s *Store) Create(ctx context.Context, wo *domain.WorkOrder) error {
	args, err := insertArgs(wo)
	if err != nil {
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO work_orders (`+workOrderColumns+`) VALUES (`+placeholders+`)`, args...)
	if isUniqueViolation(err) {
		return apperrors.NewDuplicateNumber(wo.Number, err)
	}
	return err
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.WorkOrder, error) {
	return s.fetchSingle(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id=?`, id)
}

func (s *Store) GetByNumber(ctx context.Context, number string) (*domain.WorkOrder, error) {
	return s.fetchSingle(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE number=?`, number)
}

func (s *Store) fetchSingle(ctx context.Context, query, arg string) (*domain.WorkOrder, error) {
	wo, err := scanWorkOrder(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("work order", map[string]any{"key": arg})
	}
	return wo, err
}

func (s *Store) ListWithFilter(ctx context.Context, filter repository.WorkOrderFilter) ([]domain.WorkOrder, error) {
	filter = filter.Normalize()
	clauses := []string{"1=1"}
	args := []any{}

	if filter.PropertyID != nil {
		clauses = append(clauses, "property_id=?")
		args = append(args, *filter.PropertyID)
	}
	if filter.AssigneeID != nil {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, *filter.AssigneeID)
	}
	if filter.RequestedBy != nil {
		clauses = append(clauses, "requested_by=?")
		args = append(args, *filter.RequestedBy)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+strings.TrimSuffix(strings.Repeat("?,", len(filter.Statuses)), ",")+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if len(filter.Priorities) > 0 {
		clauses = append(clauses, "priority IN ("+strings.TrimSuffix(strings.Repeat("?,", len(filter.Priorities)), ",")+")")
		for _, pr := range filter.Priorities {
			args = append(args, string(pr))
		}
	}
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workOrderColumns+` FROM work_orders WHERE `+strings.Join(clauses, " AND ")+
			` ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *wo)
	}
	return result, rows.Err()
}

func (s *Store) Apply(ctx context.Context, m repository.Mutation) error {
	wo := m.WorkOrder
	if wo == nil {
		return fmt.Errorf("mutation without work order")
	}
	beforePhotos, err := encodeList(wo.BeforePhotos)
	if err != nil {
		return err
	}
	afterPhotos, err := encodeList(wo.AfterPhotos)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE work_orders SET assigned_to=?, assignee_type=?, status=?,
            assigned_at=?, started_at=?, completed_at=?, closed_at=?, scheduled_date=?,
            before_photos=?, after_photos=?, completion_notes=?, hours_spent=?, actual_cost=?,
            recommendations=?, follow_up_required=?, follow_up_description=?, cancellation_reason=?,
            closed_by=?, updated_at=?, version=version+1
        WHERE id=? AND version=?`,
		wo.AssignedTo,
		assigneeTypeArg(wo.AssigneeType),
		string(wo.Status),
		timeArg(wo.AssignedAt),
		timeArg(wo.StartedAt),
		timeArg(wo.CompletedAt),
		timeArg(wo.ClosedAt),
		timeArg(wo.ScheduledDate),
		beforePhotos,
		afterPhotos,
		wo.CompletionNotes,
		wo.HoursSpent,
		decimalArg(wo.ActualCost),
		wo.Recommendations,
		wo.FollowUpRequired,
		wo.FollowUpDescription,
		wo.CancellationReason,
		wo.ClosedBy,
		formatTime(wo.UpdatedAt),
		wo.ID,
		wo.Version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var stored int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM work_orders WHERE id=?`, wo.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFound("work order", map[string]any{"id": wo.ID})
		}
		if err != nil {
			return err
		}
		return apperrors.NewConcurrentModification(wo.ID, wo.Version)
	}

	if rec := m.Assignment; rec != nil {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO work_order_assignments (id, work_order_id, assignee_type, assignee_id, assigned_by, assigned_at, reassignment_reason, notes)
            VALUES (?,?,?,?,?,?,?,?)`,
			rec.ID, rec.WorkOrderID, string(rec.AssigneeType), rec.AssigneeID, rec.AssignedBy,
			formatTime(rec.AssignedAt), rec.ReassignmentReason, rec.Notes,
		); err != nil {
			return err
		}
	}
	if p := m.Progress; p != nil {
		photos, err := encodeList(p.PhotoURLs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO work_order_progress (id, work_order_id, author_id, notes, photo_urls, estimated_completion_date, created_at)
            VALUES (?,?,?,?,?,?,?)`,
			p.ID, p.WorkOrderID, p.AuthorID, p.Notes, photos, timeArg(p.EstimatedCompletionDate), formatTime(p.CreatedAt),
		); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	wo.Version++
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, workOrderID string) ([]domain.AssignmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, work_order_id, assignee_type, assignee_id, assigned_by, assigned_at, reassignment_reason, notes
        FROM work_order_assignments WHERE work_order_id=? ORDER BY assigned_at, seq`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AssignmentRecord
	for rows.Next() {
		var (
			rec          domain.AssignmentRecord
			assigneeType string
			assignedAt   string
		)
		if err := rows.Scan(&rec.ID, &rec.WorkOrderID, &assigneeType, &rec.AssigneeID, &rec.AssignedBy,
			&assignedAt, &rec.ReassignmentReason, &rec.Notes); err != nil {
			return nil, err
		}
		rec.AssigneeType = domain.AssigneeType(assigneeType)
		if rec.AssignedAt, err = parseTime(assignedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *Store) ListProgress(ctx context.Context, workOrderID string) ([]domain.ProgressUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, work_order_id, author_id, notes, photo_urls, estimated_completion_date, created_at
        FROM work_order_progress WHERE work_order_id=? ORDER BY created_at, seq`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ProgressUpdate
	for rows.Next() {
		var (
			p         domain.ProgressUpdate
			photos    string
			estimate  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.WorkOrderID, &p.AuthorID, &p.Notes, &photos, &estimate, &createdAt); err != nil {
			return nil, err
		}
		if p.PhotoURLs, err = decodeList(photos); err != nil {
			return nil, err
		}
		if p.EstimatedCompletionDate, err = parseNullTime(estimate); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) NextSequence(ctx context.Context, year int) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO work_order_sequences (year, last_value)
        VALUES (?, COALESCE((SELECT MAX(number_seq) FROM work_orders WHERE number_year=?), 0) + 1)
        ON CONFLICT (year) DO UPDATE SET last_value = last_value + 1
        RETURNING last_value`, year, year).Scan(&next)
	return next, err
}

func (s *Store) MaxSequence(ctx context.Context, year int) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(number_seq), 0) FROM work_orders WHERE number_year=?`, year).Scan(&max)
	return max, err
}

// CreateFromWorkOrder books the expense unless one already exists for the work order.
func (s *Store) CreateFromWorkOrder(ctx context.Context, req expense.ExpenseRequest) (expense.ExpenseID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	var id string
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO expenses (id, work_order_id, category, amount, property_id, vendor_id, created_at)
        VALUES (?,?,?,?,?,?,?)
        ON CONFLICT (work_order_id) DO NOTHING
        RETURNING id`,
		uuid.NewString(), req.WorkOrderID, req.Category, req.Amount.String(), req.PropertyID, req.VendorID,
		formatTime(s.now()),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx, `SELECT id FROM expenses WHERE work_order_id=?`, req.WorkOrderID).Scan(&id)
	}
	return expense.ExpenseID(id), err
}

func (s *Store) ExistsForWorkOrder(ctx context.Context, workOrderID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM expenses WHERE work_order_id=?)`, workOrderID).Scan(&exists)
	return exists, err
}

// Lookup resolves directory entries from the staff_members, vendors and users tables.
func (s *Store) Lookup(ctx context.Context, kind domain.RecipientType, id string) (directory.Entry, error) {
	var query string
	switch kind {
	case domain.RecipientTypeStaff:
		query = `SELECT name, email FROM staff_members WHERE id=? AND active_flag=1`
	case domain.RecipientTypeVendor:
		query = `SELECT company_name, contact_email FROM vendors WHERE id=? AND active_flag=1`
	case domain.RecipientTypeUser:
		query = `SELECT name, email FROM users WHERE id=?`
	default:
		return directory.Entry{}, fmt.Errorf("unknown recipient type %q", kind)
	}
	var (
		entry   directory.Entry
		contact sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&entry.DisplayName, &contact)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Entry{}, apperrors.NewNotFound(string(kind), map[string]any{"id": id})
	}
	if err != nil {
		return directory.Entry{}, err
	}
	if contact.Valid {
		entry.Contact = &contact.String
	}
	return entry, nil
}

func insertArgs(wo *domain.WorkOrder) ([]any, error) {
	attachments, err := encodeList(wo.Attachments)
	if err != nil {
		return nil, err
	}
	beforePhotos, err := encodeList(wo.BeforePhotos)
	if err != nil {
		return nil, err
	}
	afterPhotos, err := encodeList(wo.AfterPhotos)
	if err != nil {
		return nil, err
	}
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
		timeArg(wo.AssignedAt),
		timeArg(wo.StartedAt),
		timeArg(wo.CompletedAt),
		timeArg(wo.ClosedAt),
		timeArg(wo.ScheduledDate),
		attachments,
		beforePhotos,
		afterPhotos,
		wo.CompletionNotes,
		wo.HoursSpent,
		decimalArg(wo.ActualCost),
		wo.Recommendations,
		wo.FollowUpRequired,
		wo.FollowUpDescription,
		wo.CancellationReason,
		wo.ClosedBy,
		formatTime(wo.CreatedAt),
		formatTime(wo.UpdatedAt),
		wo.Version,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row rowScanner) (*domain.WorkOrder, error) {
	var (
		wo                                                  domain.WorkOrder
		priority, status                                    string
		assigneeType                                        sql.NullString
		assignedAt, startedAt, completedAt, closedAt, sched sql.NullString
		attachments, beforePhotos, afterPhotos              string
		actualCost                                          sql.NullString
		createdAt, updatedAt                                string
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
		&assignedAt,
		&startedAt,
		&completedAt,
		&closedAt,
		&sched,
		&attachments,
		&beforePhotos,
		&afterPhotos,
		&wo.CompletionNotes,
		&wo.HoursSpent,
		&actualCost,
		&wo.Recommendations,
		&wo.FollowUpRequired,
		&wo.FollowUpDescription,
		&wo.CancellationReason,
		&wo.ClosedBy,
		&createdAt,
		&updatedAt,
		&wo.Version,
	); err != nil {
		return nil, err
	}

	wo.Priority = domain.WorkOrderPriority(priority)
	wo.Status = domain.WorkOrderStatus(status)
	if assigneeType.Valid {
		t := domain.AssigneeType(assigneeType.String)
		wo.AssigneeType = &t
	}

	var err error
	for _, field := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{assignedAt, &wo.AssignedAt},
		{startedAt, &wo.StartedAt},
		{completedAt, &wo.CompletedAt},
		{closedAt, &wo.ClosedAt},
		{sched, &wo.ScheduledDate},
	} {
		if *field.dst, err = parseNullTime(field.src); err != nil {
			return nil, err
		}
	}
	if wo.Attachments, err = decodeList(attachments); err != nil {
		return nil, err
	}
	if wo.BeforePhotos, err = decodeList(beforePhotos); err != nil {
		return nil, err
	}
	if wo.AfterPhotos, err = decodeList(afterPhotos); err != nil {
		return nil, err
	}
	if actualCost.Valid {
		d, err := decimal.NewFromString(actualCost.String)
		if err != nil {
			return nil, fmt.Errorf("decode actual_cost: %w", err)
		}
		wo.ActualCost = &d
	}
	if wo.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if wo.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &wo, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func timeArg(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func assigneeTypeArg(t *domain.AssigneeType) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(raw string) ([]string, error) {
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var (
	_ repository.WorkOrderRepository = (*Store)(nil)
	_ repository.SequenceRepository  = (*Store)(nil)
	_ expense.Ledger                 = (*Store)(nil)
	_ directory.Lookup               = (*Store)(nil)
)
