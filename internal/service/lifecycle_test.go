package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/notification"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

func TestStart_ByNonAssigneeIsUnauthorized(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.assigned(t, staffS)

	_, err := h.svc.Start(ctx, outsider, wo.ID, []domain.PhotoUpload{photo("p.png")})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	stored := h.stored(t, wo.ID)
	assert.Equal(t, domain.WorkOrderStatusAssigned, stored.Status)
	assert.Nil(t, stored.StartedAt)
	assert.Empty(t, h.blobs.Paths())
}

func TestStart_RequiresAssignedStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	open := h.create(t)
	_, err := h.svc.Start(ctx, staffS, open.ID, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	started := h.started(t, staffS)
	_, err = h.svc.Start(ctx, staffS, started.ID, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestStart_RejectsBadPhotosBeforeMutating(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.assigned(t, staffS)

	tooBig := domain.PhotoUpload{FileName: "big.png", ContentType: "image/png", Data: append(append([]byte{}, pngBytes...), make([]byte, 5<<20)...)}
	batches := map[string][]domain.PhotoUpload{
		"six files": {photo("1"), photo("2"), photo("3"), photo("4"), photo("5"), photo("6")},
		"too large": {photo("ok.png"), tooBig},
		"gif":       {{FileName: "a.gif", ContentType: "image/gif", Data: []byte("GIF89a")}},
	}
	for name, batch := range batches {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Start(ctx, staffS, wo.ID, batch)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}

	stored := h.stored(t, wo.ID)
	assert.Equal(t, domain.WorkOrderStatusAssigned, stored.Status)
	assert.Empty(t, h.blobs.Paths())
}

func TestStart_BlobFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.assigned(t, staffS)
	h.blobs.FailAfter = 1

	_, err := h.svc.Start(ctx, staffS, wo.ID, []domain.PhotoUpload{photo("a.png"), photo("b.png")})
	assert.Equal(t, apperrors.CodeInternal, apperrors.Code(err))
	assert.Empty(t, h.blobs.Paths())
	assert.Equal(t, domain.WorkOrderStatusAssigned, h.stored(t, wo.ID).Status)
}

func TestStart_CommitConflictDiscardsPhotos(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.assigned(t, staffS)
	h.repo.failNext(1)

	_, err := h.svc.Start(ctx, staffS, wo.ID, []domain.PhotoUpload{photo("a.png")})
	assert.ErrorIs(t, err, apperrors.ErrConcurrentModification)
	assert.Empty(t, h.blobs.Paths())
	assert.Equal(t, domain.WorkOrderStatusAssigned, h.stored(t, wo.ID).Status)
}

func TestStart_NotifiesManager(t *testing.T) {
	h := newHarness(t)
	h.directory.Put(domain.RecipientTypeUser, manager.ID, directoryEntry("Morgan", "morgan@example.test"))
	h.started(t, staffS)

	var started []notification.Message
	for _, m := range h.notes.Sent() {
		if m.Template == notification.TemplateStarted {
			started = append(started, m)
		}
	}
	require.Len(t, started, 1)
	assert.Equal(t, manager.ID, started[0].Recipient.ID)
	assert.Equal(t, "Morgan", started[0].Recipient.DisplayName)
	require.NotNil(t, started[0].Recipient.Contact)
	assert.Equal(t, "morgan@example.test", *started[0].Recipient.Contact)
}

func TestAddProgressUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.started(t, staffS)
	eta := time.Date(2026, 3, 9, 17, 0, 0, 0, time.FixedZone("EST", -5*3600))

	update, err := h.svc.AddProgressUpdate(ctx, staffS, wo.ID, ProgressInput{
		Notes:                   "  waiting on parts ",
		Photos:                  []domain.PhotoUpload{photo("parts.png")},
		EstimatedCompletionDate: &eta,
	})
	require.NoError(t, err)
	assert.Equal(t, "waiting on parts", update.Notes)
	assert.Equal(t, staffS.ID, update.AuthorID)
	require.Len(t, update.PhotoURLs, 1)

	stored := h.stored(t, wo.ID)
	assert.Equal(t, domain.WorkOrderStatusInProgress, stored.Status)
	require.NotNil(t, stored.ScheduledDate)
	assert.True(t, stored.ScheduledDate.Equal(eta))

	journal, err := h.svc.ProgressUpdates(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, update.ID, journal[0].ID)

	_, err = h.svc.AddProgressUpdate(ctx, staffS, wo.ID, ProgressInput{Notes: " "})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = h.svc.AddProgressUpdate(ctx, outsider, wo.ID, ProgressInput{Notes: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	assigned := h.assigned(t, staffS)
	_, err = h.svc.AddProgressUpdate(ctx, staffS, assigned.ID, ProgressInput{Notes: "early"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestComplete_ZeroAfterPhotosAlwaysFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.started(t, staffS)

	inputs := []CompleteInput{
		{HoursSpent: 3, TotalCost: decimal.NewFromInt(450)},
		{CompletionNotes: "done", Recommendations: "replace pipes", FollowUpRequired: true, FollowUpDescription: "check in a week"},
		{AfterPhotos: []domain.PhotoUpload{}},
	}
	for _, in := range inputs {
		_, err := h.svc.Complete(ctx, staffS, wo.ID, in)
		require.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Equal(t, "after photo required", apperrors.ToDomainError(err).Message)
	}
	assert.Equal(t, domain.WorkOrderStatusInProgress, h.stored(t, wo.ID).Status)
}

func TestComplete_FollowUpNeedsDescription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.started(t, staffS)

	for _, desc := range []string{"", "   ", "\t\n"} {
		in := completeInput("10")
		in.FollowUpRequired = true
		in.FollowUpDescription = desc
		_, err := h.svc.Complete(ctx, staffS, wo.ID, in)
		require.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Equal(t, "follow-up description required", apperrors.ToDomainError(err).Message)
	}

	in := completeInput("10")
	in.FollowUpRequired = true
	in.FollowUpDescription = " inspect the drain "
	got, err := h.svc.Complete(ctx, staffS, wo.ID, in)
	require.NoError(t, err)
	assert.True(t, got.FollowUpRequired)
	assert.Equal(t, "inspect the drain", *got.FollowUpDescription)
}

func TestComplete_RetryIsRejectedAndBooksOneExpense(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.completed(t, staffS, "450")

	_, err := h.svc.Complete(ctx, staffS, wo.ID, completeInput("450"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, 1, h.expenses.Len())
}

func TestComplete_ActorAndStateChecks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	started := h.started(t, staffS)
	_, err := h.svc.Complete(ctx, outsider, started.ID, completeInput("1"))
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	assigned := h.assigned(t, staffS)
	_, err = h.svc.Complete(ctx, staffS, assigned.ID, completeInput("1"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	in := completeInput("1")
	in.HoursSpent = -1
	_, err = h.svc.Complete(ctx, staffS, started.ID, in)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	in = completeInput("-5")
	_, err = h.svc.Complete(ctx, staffS, started.ID, in)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestComplete_RejectsUnrepresentableAmounts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.started(t, staffS)

	tests := []struct {
		name  string
		input func() CompleteInput
		msg   string
	}{
		{"hours NaN", func() CompleteInput {
			in := completeInput("10")
			in.HoursSpent = math.NaN()
			return in
		}, "hours spent must be a finite number"},
		{"hours +Inf", func() CompleteInput {
			in := completeInput("10")
			in.HoursSpent = math.Inf(1)
			return in
		}, "hours spent must be a finite number"},
		{"hours -Inf", func() CompleteInput {
			in := completeInput("10")
			in.HoursSpent = math.Inf(-1)
			return in
		}, "hours spent must be a finite number"},
		{"sub-cent cost", func() CompleteInput { return completeInput("0.004") }, "total cost has more than 2 decimal places"},
		{"three decimals", func() CompleteInput { return completeInput("199.999") }, "total cost has more than 2 decimal places"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Complete(ctx, staffS, wo.ID, tt.input())
			require.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	stored := h.stored(t, wo.ID)
	assert.Equal(t, domain.WorkOrderStatusInProgress, stored.Status)
	assert.Nil(t, stored.HoursSpent)
	assert.Nil(t, stored.ActualCost)
	assert.Equal(t, 0, h.expenses.Len())

	done, err := h.svc.Complete(ctx, staffS, wo.ID, completeInput("0.01"))
	require.NoError(t, err)
	assert.Equal(t, "0.01", done.ActualCost.String())
	_, booked := h.expenses.ForWorkOrder(wo.ID)
	assert.True(t, booked)
}

func TestComplete_ExpenseRules(t *testing.T) {
	h := newHarness(t)

	free := h.completed(t, staffS, "0")
	_, booked := h.expenses.ForWorkOrder(free.ID)
	assert.False(t, booked)

	vendorJob := h.completed(t, vendorV, "199.99")
	assert.Equal(t, "199.99", vendorJob.ActualCost.String())
	exp, booked := h.expenses.ForWorkOrder(vendorJob.ID)
	require.True(t, booked)
	assert.Equal(t, "prop-1", exp.PropertyID)
	require.NotNil(t, exp.VendorID)
	assert.Equal(t, vendorV.ID, *exp.VendorID)
}

func TestComplete_ConcurrentCompletionsBookOneExpense(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.started(t, staffS)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.svc.RetryOnConflict(ctx, func(ctx context.Context) error {
				_, err := h.svc.Complete(ctx, staffS, wo.ID, completeInput("450"))
				return err
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, domain.WorkOrderStatusCompleted, h.stored(t, wo.ID).Status)
	assert.Equal(t, 1, h.expenses.Len())
}

func TestCancel_FromUnfinishedStates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	reason := "tenant moved out"

	for _, wo := range []*domain.WorkOrder{h.create(t), h.assigned(t, staffS), h.started(t, staffS)} {
		got, err := h.svc.Cancel(ctx, manager, wo.ID, &reason)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkOrderStatusClosed, got.Status)
		assert.NotNil(t, got.ClosedAt)
		assert.Nil(t, got.CompletedAt)
		require.NotNil(t, got.CancellationReason)
		assert.Equal(t, reason, *got.CancellationReason)
		require.NotNil(t, got.ClosedBy)
		assert.Equal(t, manager.ID, *got.ClosedBy)

		latest := h.latestEntry(t, wo.ID)
		assert.Equal(t, domain.TimelineCancelled, latest.Kind)
		assert.Equal(t, manager.ID, latest.ActorID)
	}

	open := h.create(t)
	_, err := h.svc.Cancel(ctx, requester, open.ID, nil)
	require.NoError(t, err)
	stored := h.stored(t, open.ID)
	require.NotNil(t, stored.ClosedBy)
	assert.Equal(t, requester.ID, *stored.ClosedBy)
	assert.Equal(t, requester.ID, h.latestEntry(t, open.ID).ActorID)
}

func TestCancel_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	completed := h.completed(t, staffS, "0")
	_, err := h.svc.Cancel(ctx, manager, completed.ID, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	open := h.create(t)
	_, err = h.svc.Cancel(ctx, outsider, open.ID, nil)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = h.svc.Cancel(ctx, requester, open.ID, nil)
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, requester, open.ID, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestCancel_NotifiesRequesterAndAssignee(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.started(t, vendorV)

	_, err := h.svc.Cancel(ctx, manager, wo.ID, nil)
	require.NoError(t, err)
	assert.Contains(t, h.notes.For(requester.ID), notification.TemplateCancelled)
	assert.Contains(t, h.notes.For(vendorV.ID), notification.TemplateCancelled)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.completed(t, staffS, "0")

	_, err := h.svc.Close(ctx, staffS, wo.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	got, err := h.svc.Close(ctx, manager, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkOrderStatusClosed, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.NotNil(t, got.ClosedAt)
	require.NotNil(t, got.ClosedBy)
	assert.Equal(t, manager.ID, *got.ClosedBy)

	latest := h.latestEntry(t, wo.ID)
	assert.Equal(t, domain.TimelineClosed, latest.Kind)
	assert.Equal(t, manager.ID, latest.ActorID)

	open := h.create(t)
	_, err = h.svc.Close(ctx, manager, open.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestClosedIsAbsorbing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	wo := h.started(t, staffS)
	_, err := h.svc.Cancel(ctx, manager, wo.ID, nil)
	require.NoError(t, err)
	before := h.stored(t, wo.ID)

	ops := map[string]func() error{
		"assign": func() error {
			_, err := h.svc.Assign(ctx, manager, wo.ID, AssignInput{AssigneeID: vendorV.ID, AssigneeType: domain.AssigneeTypeExternalVendor})
			return err
		},
		"reassign": func() error {
			_, err := h.svc.Reassign(ctx, manager, wo.ID, ReassignInput{AssigneeID: vendorV.ID, AssigneeType: domain.AssigneeTypeExternalVendor, Reason: "r"})
			return err
		},
		"start": func() error {
			_, err := h.svc.Start(ctx, staffS, wo.ID, nil)
			return err
		},
		"progress": func() error {
			_, err := h.svc.AddProgressUpdate(ctx, staffS, wo.ID, ProgressInput{Notes: "n"})
			return err
		},
		"complete": func() error {
			_, err := h.svc.Complete(ctx, staffS, wo.ID, completeInput("1"))
			return err
		},
		"cancel": func() error {
			_, err := h.svc.Cancel(ctx, manager, wo.ID, nil)
			return err
		},
		"close": func() error {
			_, err := h.svc.Close(ctx, manager, wo.ID)
			return err
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, op())
		})
	}

	assert.Equal(t, before, h.stored(t, wo.ID))
	assert.Equal(t, 0, h.expenses.Len())
}

func TestRetryOnConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient conflicts", func(t *testing.T) {
		h := newHarness(t)
		wo := h.assigned(t, staffS)
		h.repo.failNext(2)

		err := h.svc.RetryOnConflict(ctx, func(ctx context.Context) error {
			_, err := h.svc.Start(ctx, staffS, wo.ID, nil)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, domain.WorkOrderStatusInProgress, h.stored(t, wo.ID).Status)
	})

	t.Run("gives up after the configured retries", func(t *testing.T) {
		h := newHarness(t)
		wo := h.assigned(t, staffS)
		h.repo.failNext(10)
		base := h.repo.applies

		err := h.svc.RetryOnConflict(ctx, func(ctx context.Context) error {
			_, err := h.svc.Start(ctx, staffS, wo.ID, nil)
			return err
		})
		assert.ErrorIs(t, err, apperrors.ErrConcurrentModification)
		assert.Equal(t, 4, h.repo.applies-base)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		h := newHarness(t)
		calls := 0
		err := h.svc.RetryOnConflict(ctx, func(ctx context.Context) error {
			calls++
			_, err := h.svc.Get(ctx, "missing")
			return err
		})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		assert.Equal(t, 1, calls)
	})
}
