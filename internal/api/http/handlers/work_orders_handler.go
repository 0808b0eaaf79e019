package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/workorder-service/internal/api/dto"
	"github.com/spec-kit/workorder-service/internal/auth"
	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/repository"
	"github.com/spec-kit/workorder-service/internal/service"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

// WorkOrdersHandler exposes the work order lifecycle.
type WorkOrdersHandler struct {
	service      *service.WorkOrderService
	maxFileBytes int64
}

// NewWorkOrdersHandler constructs handler. maxFileBytes caps how much of each
// uploaded file is read.
func NewWorkOrdersHandler(workOrders *service.WorkOrderService, maxFileBytes int64) *WorkOrdersHandler {
	return &WorkOrdersHandler{service: workOrders, maxFileBytes: maxFileBytes}
}

// Create POST /work-orders.
func (h *WorkOrdersHandler) Create(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateWorkOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	attachments, err := readPhotos(c, "attachments", h.maxFileBytes)
	if err != nil {
		return err
	}

	wo, err := h.service.Create(c.UserContext(), actor, service.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
		PropertyID:  req.PropertyID,
		UnitID:      req.UnitID,
		ManagerID:   req.ManagerID,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": workOrderResponse(wo)})
}

// List GET /work-orders.
func (h *WorkOrdersHandler) List(c *fiber.Ctx) error {
	if _, err := requireActor(c); err != nil {
		return err
	}
	workOrders, err := h.service.List(c.UserContext(), parseListQuery(c))
	if err != nil {
		return err
	}
	items := make([]dto.WorkOrderSummary, 0, len(workOrders))
	for i := range workOrders {
		items = append(items, workOrderSummary(&workOrders[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /work-orders/:id.
func (h *WorkOrdersHandler) Get(c *fiber.Ctx) error {
	if _, err := requireActor(c); err != nil {
		return err
	}
	wo, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": workOrderResponse(wo)})
}

// GetByNumber GET /work-orders/number/:number.
func (h *WorkOrdersHandler) GetByNumber(c *fiber.Ctx) error {
	if _, err := requireActor(c); err != nil {
		return err
	}
	wo, err := h.service.GetByNumber(c.UserContext(), c.Params("number"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": workOrderResponse(wo)})
}

// Assign POST /work-orders/:id/assign.
func (h *WorkOrdersHandler) Assign(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	input := service.AssignInput{AssigneeID: req.AssigneeID, AssigneeType: req.AssigneeType, Notes: req.Notes}
	return h.mutate(c, func(ctx context.Context) (*domain.WorkOrder, error) {
		return h.service.Assign(ctx, actor, c.Params("id"), input)
	})
}

// Reassign POST /work-orders/:id/reassign.
func (h *WorkOrdersHandler) Reassign(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.ReassignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	input := service.ReassignInput{AssigneeID: req.AssigneeID, AssigneeType: req.AssigneeType, Reason: req.Reason, Notes: req.Notes}
	return h.mutate(c, func(ctx context.Context) (*domain.WorkOrder, error) {
		return h.service.Reassign(ctx, actor, c.Params("id"), input)
	})
}

// Start POST /work-orders/:id/start.
func (h *WorkOrdersHandler) Start(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	photos, err := readPhotos(c, "before_photos", h.maxFileBytes)
	if err != nil {
		return err
	}
	return h.mutate(c, func(ctx context.Context) (*domain.WorkOrder, error) {
		return h.service.Start(ctx, actor, c.Params("id"), photos)
	})
}

// AddProgress POST /work-orders/:id/progress.
func (h *WorkOrdersHandler) AddProgress(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.ProgressRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	photos, err := readPhotos(c, "photos", h.maxFileBytes)
	if err != nil {
		return err
	}
	input := service.ProgressInput{Notes: req.Notes, Photos: photos}
	if req.EstimatedCompletionDate != "" {
		eta, err := time.Parse(time.RFC3339, req.EstimatedCompletionDate)
		if err != nil {
			return apperrors.NewValidationError("estimated_completion_date must be RFC 3339", nil)
		}
		input.EstimatedCompletionDate = &eta
	}

	var update *domain.ProgressUpdate
	err = h.service.RetryOnConflict(c.UserContext(), func(ctx context.Context) error {
		var err error
		update, err = h.service.AddProgressUpdate(ctx, actor, c.Params("id"), input)
		return err
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": progressResponse(update)})
}

// Complete POST /work-orders/:id/complete.
func (h *WorkOrdersHandler) Complete(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	cost := decimal.Zero
	if req.TotalCost != "" {
		cost, err = decimal.NewFromString(req.TotalCost)
		if err != nil {
			return apperrors.NewValidationError("total_cost must be a decimal amount", nil)
		}
	}
	photos, err := readPhotos(c, "after_photos", h.maxFileBytes)
	if err != nil {
		return err
	}
	input := service.CompleteInput{
		CompletionNotes:     req.CompletionNotes,
		HoursSpent:          req.HoursSpent,
		TotalCost:           cost,
		Recommendations:     req.Recommendations,
		FollowUpRequired:    req.FollowUpRequired,
		FollowUpDescription: req.FollowUpDescription,
		AfterPhotos:         photos,
	}
	return h.mutate(c, func(ctx context.Context) (*domain.WorkOrder, error) {
		return h.service.Complete(ctx, actor, c.Params("id"), input)
	})
}

// Cancel POST /work-orders/:id/cancel.
func (h *WorkOrdersHandler) Cancel(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	return h.mutate(c, func(ctx context.Context) (*domain.WorkOrder, error) {
		return h.service.Cancel(ctx, actor, c.Params("id"), req.Reason)
	})
}

// Close POST /work-orders/:id/close.
func (h *WorkOrdersHandler) Close(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	return h.mutate(c, func(ctx context.Context) (*domain.WorkOrder, error) {
		return h.service.Close(ctx, actor, c.Params("id"))
	})
}

// Assignments GET /work-orders/:id/assignments.
func (h *WorkOrdersHandler) Assignments(c *fiber.Ctx) error {
	if _, err := requireActor(c); err != nil {
		return err
	}
	records, err := h.service.Assignments(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.AssignmentResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, assignmentResponse(rec))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Progress GET /work-orders/:id/progress.
func (h *WorkOrdersHandler) Progress(c *fiber.Ctx) error {
	if _, err := requireActor(c); err != nil {
		return err
	}
	updates, err := h.service.ProgressUpdates(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.ProgressUpdateResponse, 0, len(updates))
	for i := range updates {
		items = append(items, progressResponse(&updates[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Timeline GET /work-orders/:id/timeline.
func (h *WorkOrdersHandler) Timeline(c *fiber.Ctx) error {
	if _, err := requireActor(c); err != nil {
		return err
	}
	seq, err := h.service.Timeline(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := []dto.TimelineEntryResponse{}
	for entry := range seq {
		items = append(items, dto.TimelineEntryResponse{
			Kind:    entry.Kind,
			At:      entry.At,
			ActorID: entry.ActorID,
			Summary: entry.Summary,
			Details: entry.Details,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// VerifyProjection GET /work-orders/:id/verify.
func (h *WorkOrdersHandler) VerifyProjection(c *fiber.Ctx) error {
	if err := h.service.VerifyAssigneeProjection(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"consistent": true}})
}

// mutate runs op with conflict retries and renders the resulting work order.
func (h *WorkOrdersHandler) mutate(c *fiber.Ctx, op func(context.Context) (*domain.WorkOrder, error)) error {
	var wo *domain.WorkOrder
	err := h.service.RetryOnConflict(c.UserContext(), func(ctx context.Context) error {
		var err error
		wo, err = op(ctx)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": workOrderResponse(wo)})
}

func requireActor(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthenticated("authentication required")
	}
	return actor, nil
}

func parseListQuery(c *fiber.Ctx) repository.WorkOrderFilter {
	filter := repository.WorkOrderFilter{}
	for _, part := range splitList(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.WorkOrderStatus(strings.ToUpper(part)))
	}
	for _, part := range splitList(c.Query("priority")) {
		filter.Priorities = append(filter.Priorities, domain.WorkOrderPriority(strings.ToUpper(part)))
	}
	filter.PropertyID = optionalQuery(c, "property_id")
	filter.AssigneeID = optionalQuery(c, "assignee_id")
	filter.RequestedBy = optionalQuery(c, "requested_by")

	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return nil
	}
	return &val
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
