package domain

import (
	"slices"
	"time"
)

// ProgressUpdate is one immutable entry of the progress journal.
type ProgressUpdate struct {
	ID                      string
	WorkOrderID             string
	AuthorID                string
	Notes                   string
	PhotoURLs               []string
	EstimatedCompletionDate *time.Time
	CreatedAt               time.Time
}

// Clone returns a deep copy of the update.
func (p ProgressUpdate) Clone() ProgressUpdate {
	p.PhotoURLs = slices.Clone(p.PhotoURLs)
	p.EstimatedCompletionDate = clonePtr(p.EstimatedCompletionDate)
	return p
}
