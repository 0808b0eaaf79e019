package domain

import "time"

// TimelineKind tags an entry of the audit stream.
type TimelineKind string

const (
	TimelineCreated    TimelineKind = "CREATED"
	TimelineAssigned   TimelineKind = "ASSIGNED"
	TimelineReassigned TimelineKind = "REASSIGNED"
	TimelineStarted    TimelineKind = "STARTED"
	TimelineProgress   TimelineKind = "PROGRESS"
	TimelineCompleted  TimelineKind = "COMPLETED"
	TimelineCancelled  TimelineKind = "CANCELLED"
	TimelineClosed     TimelineKind = "CLOSED"
)

// Rank orders kinds that share a timestamp; lifecycle order.
func (k TimelineKind) Rank() int {
	switch k {
	case TimelineCreated:
		return 0
	case TimelineAssigned:
		return 1
	case TimelineReassigned:
		return 2
	case TimelineStarted:
		return 3
	case TimelineProgress:
		return 4
	case TimelineCompleted:
		return 5
	case TimelineCancelled, TimelineClosed:
		return 6
	}
	return 7
}

// TimelineEntry is one event of a work order's merged audit stream.
type TimelineEntry struct {
	Kind    TimelineKind
	At      time.Time
	ActorID string
	Summary string
	Details map[string]any
}
