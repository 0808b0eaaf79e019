package domain

import "time"

// AssignmentRecord is one immutable entry of the assignment ledger.
type AssignmentRecord struct {
	ID                 string
	WorkOrderID        string
	AssigneeType       AssigneeType
	AssigneeID         string
	AssignedBy         string
	AssignedAt         time.Time
	ReassignmentReason *string
	Notes              string
}

// IsInitial reports whether the record is the first assignment of its work order.
func (r AssignmentRecord) IsInitial() bool { return r.ReassignmentReason == nil }

// CurrentAssignment returns the latest record by AssignedAt. Records sharing a
// timestamp resolve to the one appended last.
func CurrentAssignment(records []AssignmentRecord) (AssignmentRecord, bool) {
	if len(records) == 0 {
		return AssignmentRecord{}, false
	}
	latest := records[0]
	for _, rec := range records[1:] {
		if !rec.AssignedAt.Before(latest.AssignedAt) {
			latest = rec
		}
	}
	return latest, true
}

// ProjectionMatchesLedger checks that the denormalized assignee fields agree
// with the latest ledger entry.
func ProjectionMatchesLedger(w *WorkOrder, records []AssignmentRecord) bool {
	current, ok := CurrentAssignment(records)
	if !ok {
		return w.AssignedTo == nil && w.AssigneeType == nil
	}
	if w.AssignedTo == nil || w.AssigneeType == nil {
		return false
	}
	return *w.AssignedTo == current.AssigneeID && *w.AssigneeType == current.AssigneeType
}
