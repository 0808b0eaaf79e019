package domain

import (
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

// WorkOrderStatus enumerates lifecycle states for work orders.
type WorkOrderStatus string

const (
	WorkOrderStatusOpen       WorkOrderStatus = "OPEN"
	WorkOrderStatusAssigned   WorkOrderStatus = "ASSIGNED"
	WorkOrderStatusInProgress WorkOrderStatus = "IN_PROGRESS"
	WorkOrderStatusCompleted  WorkOrderStatus = "COMPLETED"
	WorkOrderStatusClosed     WorkOrderStatus = "CLOSED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []WorkOrderStatus{
	WorkOrderStatusOpen,
	WorkOrderStatusAssigned,
	WorkOrderStatusInProgress,
	WorkOrderStatusCompleted,
	WorkOrderStatusClosed,
}

func (s WorkOrderStatus) String() string { return string(s) }

// ParseWorkOrderStatus converts a string to a WorkOrderStatus. Unknown values map to "".
func ParseWorkOrderStatus(s string) WorkOrderStatus {
	for _, candidate := range AllStatuses {
		if string(candidate) == s {
			return candidate
		}
	}
	return ""
}

// Terminal reports whether no transition leaves s.
func (s WorkOrderStatus) Terminal() bool { return s == WorkOrderStatusClosed }

// Completed work is closed explicitly; cancellation is only possible before completion.
var allowedTransitions = map[WorkOrderStatus][]WorkOrderStatus{
	WorkOrderStatusOpen:       {WorkOrderStatusAssigned, WorkOrderStatusClosed},
	WorkOrderStatusAssigned:   {WorkOrderStatusInProgress, WorkOrderStatusClosed},
	WorkOrderStatusInProgress: {WorkOrderStatusCompleted, WorkOrderStatusClosed},
	WorkOrderStatusCompleted:  {WorkOrderStatusClosed},
	WorkOrderStatusClosed:     {},
}

// CanTransition reports whether s may move to target.
func (s WorkOrderStatus) CanTransition(target WorkOrderStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == target {
			return true
		}
	}
	return false
}

// ValidateTransition returns an INVALID_TRANSITION error when s may not move to target.
func (s WorkOrderStatus) ValidateTransition(target WorkOrderStatus) error {
	if !s.CanTransition(target) {
		return apperrors.NewInvalidTransition(string(s), string(target))
	}
	return nil
}

// Cancellable reports whether a work order in s may be cancelled.
func (s WorkOrderStatus) Cancellable() bool {
	return s == WorkOrderStatusOpen || s == WorkOrderStatusAssigned || s == WorkOrderStatusInProgress
}
