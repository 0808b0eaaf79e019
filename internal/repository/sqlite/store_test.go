package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/config"
	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/expense"
	"github.com/spec-kit/workorder-service/internal/persistence"
	"github.com/spec-kit/workorder-service/internal/repository"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := persistence.OpenSQLite(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "wo.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

var baseTime = time.Date(2026, 4, 1, 9, 30, 0, 123456789, time.UTC)

func newWorkOrder(seq int64) *domain.WorkOrder {
	unit := "unit-4B"
	return &domain.WorkOrder{
		ID:          uuid.NewString(),
		Number:      "WO-2026-" + leftPad(seq),
		NumberYear:  2026,
		NumberSeq:   seq,
		Title:       "Leaking sink",
		Description: "Kitchen sink drips",
		Category:    "plumbing",
		Priority:    domain.PriorityHigh,
		PropertyID:  "prop-1",
		UnitID:      &unit,
		RequestedBy: "tenant-1",
		Status:      domain.WorkOrderStatusOpen,
		Attachments: []string{"work-orders/x/attachments/a.jpg"},
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
		Version:     1,
	}
}

func leftPad(seq int64) string {
	return fmt.Sprintf("%04d", seq)
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	wo := newWorkOrder(1)

	require.NoError(t, store.Create(ctx, wo))

	got, err := store.GetByID(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, wo, got)

	byNumber, err := store.GetByNumber(ctx, wo.Number)
	require.NoError(t, err)
	assert.Equal(t, wo.ID, byNumber.ID)

	_, err = store.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_DuplicateNumber(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Create(ctx, newWorkOrder(7)))
	err := store.Create(ctx, newWorkOrder(7))
	assert.ErrorIs(t, err, apperrors.ErrDuplicateNumber)
}

func TestStore_ApplyWithAssignmentAndProgress(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	wo := newWorkOrder(1)
	require.NoError(t, store.Create(ctx, wo))

	rec := domain.AssignmentRecord{
		ID:           uuid.NewString(),
		WorkOrderID:  wo.ID,
		AssigneeType: domain.AssigneeTypeInternalStaff,
		AssigneeID:   "staff-1",
		AssignedBy:   "mgr-1",
		AssignedAt:   baseTime.Add(time.Hour),
		Notes:        "bring a wrench",
	}
	wo.ApplyAssignment(rec)
	require.NoError(t, wo.TransitionTo(domain.WorkOrderStatusAssigned, rec.AssignedAt))
	require.NoError(t, store.Apply(ctx, repository.Mutation{WorkOrder: wo, Assignment: &rec}))
	assert.Equal(t, int64(2), wo.Version)

	require.NoError(t, wo.TransitionTo(domain.WorkOrderStatusInProgress, baseTime.Add(2*time.Hour)))
	estimate := baseTime.Add(48 * time.Hour)
	wo.ScheduledDate = &estimate
	update := domain.ProgressUpdate{
		ID:                      uuid.NewString(),
		WorkOrderID:             wo.ID,
		AuthorID:                "staff-1",
		Notes:                   "parts ordered",
		PhotoURLs:               []string{"p1.jpg"},
		EstimatedCompletionDate: &estimate,
		CreatedAt:               baseTime.Add(3 * time.Hour),
	}
	require.NoError(t, store.Apply(ctx, repository.Mutation{WorkOrder: wo, Progress: &update}))

	cost := decimal.RequireFromString("450.00")
	hours := 3.5
	wo.ActualCost = &cost
	wo.HoursSpent = &hours
	wo.AfterPhotos = []string{"after.png"}
	require.NoError(t, wo.TransitionTo(domain.WorkOrderStatusCompleted, baseTime.Add(4*time.Hour)))
	require.NoError(t, store.Apply(ctx, repository.Mutation{WorkOrder: wo}))

	got, err := store.GetByID(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkOrderStatusCompleted, got.Status)
	assert.Equal(t, int64(4), got.Version)
	assert.True(t, got.ActualCost.Equal(cost))
	assert.Equal(t, estimate, *got.ScheduledDate)

	ledger, err := store.ListAssignments(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, rec, ledger[0])
	assert.True(t, domain.ProjectionMatchesLedger(got, ledger))

	journal, err := store.ListProgress(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, update, journal[0])

	closer := "mgr-1"
	wo.ClosedBy = &closer
	require.NoError(t, wo.TransitionTo(domain.WorkOrderStatusClosed, baseTime.Add(5*time.Hour)))
	require.NoError(t, store.Apply(ctx, repository.Mutation{WorkOrder: wo}))

	got, err = store.GetByID(ctx, wo.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClosedBy)
	assert.Equal(t, closer, *got.ClosedBy)
	assert.NotNil(t, got.ClosedAt)
}

func TestStore_ApplyRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	wo := newWorkOrder(1)
	require.NoError(t, store.Create(ctx, wo))

	first, err := store.GetByID(ctx, wo.ID)
	require.NoError(t, err)
	second, err := store.GetByID(ctx, wo.ID)
	require.NoError(t, err)

	require.NoError(t, first.TransitionTo(domain.WorkOrderStatusClosed, baseTime.Add(time.Hour)))
	require.NoError(t, store.Apply(ctx, repository.Mutation{WorkOrder: first}))

	reason := "duplicate"
	second.CancellationReason = &reason
	require.NoError(t, second.TransitionTo(domain.WorkOrderStatusClosed, baseTime.Add(2*time.Hour)))
	err = store.Apply(ctx, repository.Mutation{WorkOrder: second})
	assert.ErrorIs(t, err, apperrors.ErrConcurrentModification)
	assert.Equal(t, int64(1), second.Version)

	missing := newWorkOrder(2)
	err = store.Apply(ctx, repository.Mutation{WorkOrder: missing})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_FailedApplyWritesNoChild(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	wo := newWorkOrder(1)
	require.NoError(t, store.Create(ctx, wo))

	stale := wo.Clone()
	stale.Version = 99
	rec := domain.AssignmentRecord{ID: uuid.NewString(), WorkOrderID: wo.ID, AssigneeID: "x", AssigneeType: domain.AssigneeTypeInternalStaff, AssignedBy: "m", AssignedAt: baseTime}
	err := store.Apply(ctx, repository.Mutation{WorkOrder: stale, Assignment: &rec})
	require.ErrorIs(t, err, apperrors.ErrConcurrentModification)

	ledger, err := store.ListAssignments(ctx, wo.ID)
	require.NoError(t, err)
	assert.Empty(t, ledger)
}

func TestStore_SequenceSeedsFromExistingNumbers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Create(ctx, newWorkOrder(41)))

	max, err := store.MaxSequence(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(41), max)

	next, err := store.NextSequence(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(42), next)
	next, err = store.NextSequence(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(43), next)

	other, err := store.NextSequence(ctx, 2027)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func TestStore_ListWithFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := newWorkOrder(1)
	b := newWorkOrder(2)
	b.PropertyID = "prop-2"
	b.Priority = domain.PriorityLow
	b.UpdatedAt = baseTime.Add(time.Minute)
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	all, err := store.ListWithFilter(ctx, repository.WorkOrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)

	prop := "prop-1"
	filtered, err := store.ListWithFilter(ctx, repository.WorkOrderFilter{PropertyID: &prop})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, a.ID, filtered[0].ID)

	low, err := store.ListWithFilter(ctx, repository.WorkOrderFilter{Priorities: []domain.WorkOrderPriority{domain.PriorityLow}})
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, b.ID, low[0].ID)

	paged, err := store.ListWithFilter(ctx, repository.WorkOrderFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, a.ID, paged[0].ID)
}

func TestStore_ExpenseLedgerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	req := expense.ExpenseRequest{WorkOrderID: uuid.NewString(), Category: "plumbing", Amount: decimal.NewFromInt(450), PropertyID: "prop-1"}

	first, err := store.CreateFromWorkOrder(ctx, req)
	require.NoError(t, err)
	second, err := store.CreateFromWorkOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	exists, err := store.ExistsForWorkOrder(ctx, req.WorkOrderID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_DirectoryLookup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.db.ExecContext(ctx, `INSERT INTO vendors (id, company_name, contact_email) VALUES ('v-1', 'Acme Plumbing', 'ops@acme.test')`)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `INSERT INTO staff_members (id, name, email, active_flag) VALUES ('s-1', 'Retired Tech', NULL, 0)`)
	require.NoError(t, err)

	entry, err := store.Lookup(ctx, domain.RecipientTypeVendor, "v-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Plumbing", entry.DisplayName)
	require.NotNil(t, entry.Contact)
	assert.Equal(t, "ops@acme.test", *entry.Contact)

	_, err = store.Lookup(ctx, domain.RecipientTypeStaff, "s-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
