// Package timeline merges the assignment ledger, the progress journal and the
// lifecycle timestamps of a work order into one audit stream, newest first.
package timeline

import (
	"iter"
	"slices"
	"time"

	"github.com/spec-kit/workorder-service/internal/domain"
)

// Project returns the timeline of wo. The sequence is built on every range, so it
// can be iterated any number of times and stopped early; it never touches wo or
// the slices it was given.
func Project(wo *domain.WorkOrder, assignments []domain.AssignmentRecord, updates []domain.ProgressUpdate) iter.Seq[domain.TimelineEntry] {
	return func(yield func(domain.TimelineEntry) bool) {
		if wo == nil {
			return
		}
		entries := collect(wo, assignments, updates)
		slices.SortStableFunc(entries, newestFirst)
		for _, entry := range entries {
			if !yield(entry) {
				return
			}
		}
	}
}

func collect(wo *domain.WorkOrder, assignments []domain.AssignmentRecord, updates []domain.ProgressUpdate) []domain.TimelineEntry {
	entries := make([]domain.TimelineEntry, 0, 4+len(assignments)+len(updates))

	entries = append(entries, domain.TimelineEntry{
		Kind:    domain.TimelineCreated,
		At:      wo.CreatedAt,
		ActorID: wo.RequestedBy,
		Summary: "work order " + wo.Number + " created",
		Details: map[string]any{
			"number":      wo.Number,
			"category":    wo.Category,
			"priority":    string(wo.Priority),
			"property_id": wo.PropertyID,
		},
	})

	for _, rec := range assignments {
		entry := domain.TimelineEntry{
			Kind:    domain.TimelineAssigned,
			At:      rec.AssignedAt,
			ActorID: rec.AssignedBy,
			Summary: "assigned to " + rec.AssigneeID,
			Details: map[string]any{
				"assignee_id":   rec.AssigneeID,
				"assignee_type": string(rec.AssigneeType),
				"notes":         rec.Notes,
			},
		}
		if !rec.IsInitial() {
			entry.Kind = domain.TimelineReassigned
			entry.Summary = "reassigned to " + rec.AssigneeID
			entry.Details["reason"] = *rec.ReassignmentReason
		}
		entries = append(entries, entry)
	}

	if wo.StartedAt != nil {
		entries = append(entries, domain.TimelineEntry{
			Kind:    domain.TimelineStarted,
			At:      *wo.StartedAt,
			ActorID: assigneeAt(assignments, *wo.StartedAt),
			Summary: "work started",
			Details: map[string]any{"before_photos": len(wo.BeforePhotos)},
		})
	}

	for _, update := range updates {
		details := map[string]any{"photos": len(update.PhotoURLs)}
		if update.EstimatedCompletionDate != nil {
			details["estimated_completion_date"] = *update.EstimatedCompletionDate
		}
		entries = append(entries, domain.TimelineEntry{
			Kind:    domain.TimelineProgress,
			At:      update.CreatedAt,
			ActorID: update.AuthorID,
			Summary: update.Notes,
			Details: details,
		})
	}

	if wo.CompletedAt != nil {
		details := map[string]any{
			"after_photos":       len(wo.AfterPhotos),
			"follow_up_required": wo.FollowUpRequired,
		}
		if wo.HoursSpent != nil {
			details["hours_spent"] = *wo.HoursSpent
		}
		if wo.ActualCost != nil {
			details["actual_cost"] = wo.ActualCost.StringFixed(2)
		}
		entries = append(entries, domain.TimelineEntry{
			Kind:    domain.TimelineCompleted,
			At:      *wo.CompletedAt,
			ActorID: assigneeAt(assignments, *wo.CompletedAt),
			Summary: "work completed",
			Details: details,
		})
	}

	if wo.ClosedAt != nil {
		entry := domain.TimelineEntry{
			Kind:    domain.TimelineClosed,
			At:      *wo.ClosedAt,
			Summary: "work order closed",
			Details: map[string]any{},
		}
		if wo.ClosedBy != nil {
			entry.ActorID = *wo.ClosedBy
		}
		if wo.CompletedAt == nil {
			entry.Kind = domain.TimelineCancelled
			entry.Summary = "work order cancelled"
			if wo.CancellationReason != nil {
				entry.Details["reason"] = *wo.CancellationReason
			}
		}
		entries = append(entries, entry)
	}

	return entries
}

// assigneeAt returns who held the job at t according to the ledger.
func assigneeAt(assignments []domain.AssignmentRecord, t time.Time) string {
	holder := ""
	var holderAt time.Time
	for _, rec := range assignments {
		if rec.AssignedAt.After(t) {
			continue
		}
		if holder == "" || !rec.AssignedAt.Before(holderAt) {
			holder = rec.AssigneeID
			holderAt = rec.AssignedAt
		}
	}
	return holder
}

func newestFirst(a, b domain.TimelineEntry) int {
	if c := b.At.Compare(a.At); c != 0 {
		return c
	}
	return b.Kind.Rank() - a.Kind.Rank()
}
