package handlers

import (
	"github.com/spec-kit/workorder-service/internal/api/dto"
	"github.com/spec-kit/workorder-service/internal/domain"
)

func workOrderResponse(wo *domain.WorkOrder) dto.WorkOrderResponse {
	return dto.WorkOrderResponse{
		ID:                  wo.ID,
		Number:              wo.Number,
		Title:               wo.Title,
		Description:         wo.Description,
		Category:            wo.Category,
		Priority:            wo.Priority,
		PropertyID:          wo.PropertyID,
		UnitID:              wo.UnitID,
		ManagerID:           wo.ManagerID,
		RequestedBy:         wo.RequestedBy,
		AssignedTo:          wo.AssignedTo,
		AssigneeType:        wo.AssigneeType,
		Status:              wo.Status,
		AssignedAt:          wo.AssignedAt,
		StartedAt:           wo.StartedAt,
		CompletedAt:         wo.CompletedAt,
		ClosedAt:            wo.ClosedAt,
		ScheduledDate:       wo.ScheduledDate,
		Attachments:         nonNil(wo.Attachments),
		BeforePhotos:        nonNil(wo.BeforePhotos),
		AfterPhotos:         nonNil(wo.AfterPhotos),
		CompletionNotes:     wo.CompletionNotes,
		HoursSpent:          wo.HoursSpent,
		ActualCost:          wo.ActualCost,
		Recommendations:     wo.Recommendations,
		FollowUpRequired:    wo.FollowUpRequired,
		FollowUpDescription: wo.FollowUpDescription,
		CancellationReason:  wo.CancellationReason,
		ClosedBy:            wo.ClosedBy,
		CreatedAt:           wo.CreatedAt,
		UpdatedAt:           wo.UpdatedAt,
		Version:             wo.Version,
	}
}

func workOrderSummary(wo *domain.WorkOrder) dto.WorkOrderSummary {
	return dto.WorkOrderSummary{
		ID:         wo.ID,
		Number:     wo.Number,
		Title:      wo.Title,
		Category:   wo.Category,
		Priority:   wo.Priority,
		PropertyID: wo.PropertyID,
		AssignedTo: wo.AssignedTo,
		Status:     wo.Status,
		CreatedAt:  wo.CreatedAt,
		UpdatedAt:  wo.UpdatedAt,
	}
}

func assignmentResponse(rec domain.AssignmentRecord) dto.AssignmentResponse {
	return dto.AssignmentResponse{
		ID:                 rec.ID,
		AssigneeType:       rec.AssigneeType,
		AssigneeID:         rec.AssigneeID,
		AssignedBy:         rec.AssignedBy,
		AssignedAt:         rec.AssignedAt,
		ReassignmentReason: rec.ReassignmentReason,
		Notes:              rec.Notes,
	}
}

func progressResponse(update *domain.ProgressUpdate) dto.ProgressUpdateResponse {
	return dto.ProgressUpdateResponse{
		ID:                      update.ID,
		AuthorID:                update.AuthorID,
		Notes:                   update.Notes,
		PhotoURLs:               nonNil(update.PhotoURLs),
		EstimatedCompletionDate: update.EstimatedCompletionDate,
		CreatedAt:               update.CreatedAt,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
