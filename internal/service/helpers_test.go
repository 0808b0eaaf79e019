package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/blob"
	"github.com/spec-kit/workorder-service/internal/directory"
	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/events"
	"github.com/spec-kit/workorder-service/internal/evidence"
	"github.com/spec-kit/workorder-service/internal/expense"
	"github.com/spec-kit/workorder-service/internal/notification"
	"github.com/spec-kit/workorder-service/internal/numbering"
	"github.com/spec-kit/workorder-service/internal/repository"
	"github.com/spec-kit/workorder-service/internal/repository/memory"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

var (
	manager   = domain.Actor{ID: "mgr-1", Role: domain.ActorRoleManager}
	requester = domain.Actor{ID: "tenant-1", Role: domain.ActorRoleRequester}
	staffS    = domain.Actor{ID: "staff-S", Role: domain.ActorRoleStaff}
	vendorV   = domain.Actor{ID: "vendor-V", Role: domain.ActorRoleVendor}
	outsider  = domain.Actor{ID: "staff-X", Role: domain.ActorRoleStaff}

	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
)

func photo(name string) domain.PhotoUpload {
	return domain.PhotoUpload{FileName: name, ContentType: "image/png", Data: pngBytes}
}

// tickClock advances one minute per reading so every recorded event has a
// distinct timestamp.
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickClock() *tickClock {
	return &tickClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

// flakyRepo fails the next conflicts Apply calls with a version conflict.
type flakyRepo struct {
	*memory.Store
	mu        sync.Mutex
	conflicts int
	applies   int
}

func (r *flakyRepo) Apply(ctx context.Context, m repository.Mutation) error {
	r.mu.Lock()
	r.applies++
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return apperrors.NewConcurrentModification(m.WorkOrder.ID, m.WorkOrder.Version)
	}
	r.mu.Unlock()
	return r.Store.Apply(ctx, m)
}

func (r *flakyRepo) failNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = n
}

type harness struct {
	svc       *WorkOrderService
	repo      *flakyRepo
	blobs     *blob.Memory
	notes     *notification.Recorder
	expenses  *expense.MemoryLedger
	directory *directory.Static
	clock     *tickClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	h := &harness{
		repo:      &flakyRepo{Store: memory.New()},
		blobs:     blob.NewMemory(),
		notes:     notification.NewRecorder(),
		expenses:  expense.NewMemoryLedger(),
		directory: directory.NewStatic(),
		clock:     newTickClock(),
	}
	dispatcher := events.NewInMemoryDispatcher(logger, nil)

	NewNotificationService(dispatcher, h.notes, directory.New(h.directory), h.repo, logger).RegisterHandlers()
	expenses := NewExpenseService(dispatcher, h.expenses, logger, time.Second)
	expenses.initial = time.Millisecond
	expenses.RegisterHandlers()

	h.svc = NewWorkOrderService(WorkOrderDependencies{
		WorkOrderRepo:   h.repo,
		Numbers:         numbering.NewGenerator(numbering.NewCounter(h.repo.Store), h.clock.Now),
		Evidence:        evidence.NewKeeper(evidence.DefaultPolicy(), h.blobs, logger),
		Dispatcher:      dispatcher,
		Logger:          logger,
		Now:             h.clock.Now,
		ConflictRetries: 3,
	})
	return h
}

func (h *harness) create(t *testing.T) *domain.WorkOrder {
	t.Helper()
	mgr := manager.ID
	wo, err := h.svc.Create(context.Background(), requester, CreateInput{
		Title:      "Leaking sink",
		Category:   "plumbing",
		PropertyID: "prop-1",
		ManagerID:  &mgr,
	})
	require.NoError(t, err)
	return wo
}

func (h *harness) assigned(t *testing.T, assignee domain.Actor) *domain.WorkOrder {
	t.Helper()
	wo := h.create(t)
	wo, err := h.svc.Assign(context.Background(), manager, wo.ID, AssignInput{
		AssigneeID:   assignee.ID,
		AssigneeType: assigneeType(assignee),
	})
	require.NoError(t, err)
	return wo
}

func (h *harness) started(t *testing.T, assignee domain.Actor) *domain.WorkOrder {
	t.Helper()
	wo := h.assigned(t, assignee)
	wo, err := h.svc.Start(context.Background(), assignee, wo.ID, nil)
	require.NoError(t, err)
	return wo
}

func (h *harness) completed(t *testing.T, assignee domain.Actor, cost string) *domain.WorkOrder {
	t.Helper()
	wo := h.started(t, assignee)
	wo, err := h.svc.Complete(context.Background(), assignee, wo.ID, completeInput(cost))
	require.NoError(t, err)
	return wo
}

func (h *harness) stored(t *testing.T, id string) *domain.WorkOrder {
	t.Helper()
	wo, err := h.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return wo
}

// latestEntry returns the newest timeline entry of a work order.
func (h *harness) latestEntry(t *testing.T, id string) domain.TimelineEntry {
	t.Helper()
	seq, err := h.svc.Timeline(context.Background(), id)
	require.NoError(t, err)
	for entry := range seq {
		return entry
	}
	require.FailNow(t, "empty timeline", id)
	return domain.TimelineEntry{}
}

func completeInput(cost string) CompleteInput {
	return CompleteInput{
		CompletionNotes: "replaced trap",
		HoursSpent:      3,
		TotalCost:       decimal.RequireFromString(cost),
		AfterPhotos:     []domain.PhotoUpload{photo("after.png")},
	}
}

func assigneeType(a domain.Actor) domain.AssigneeType {
	if a.Role == domain.ActorRoleVendor {
		return domain.AssigneeTypeExternalVendor
	}
	return domain.AssigneeTypeInternalStaff
}

func directoryEntry(name, contact string) directory.Entry {
	return directory.Entry{DisplayName: name, Contact: &contact}
}
