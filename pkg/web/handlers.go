// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/router"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// StatsComputer produces the dashboard summary.
type StatsComputer interface {
	Compute(ctx context.Context) (*models.WorkflowStats, error)
}

// EventRouter fans inbound events out to matching triggers.
type EventRouter interface {
	Route(ctx context.Context, event router.Event) ([]*models.Execution, error)
}

// Services groups the collaborators the handlers delegate to.
type Services struct {
	Workflows  *services.Workflow
	Executions *services.Execution
	Tasks      *services.ScheduledTask
	Catalog    *services.Catalog
	Stats      StatsComputer
	Router     EventRouter
}

type APIHandlers struct {
	services  Services
	validator *validator.Validate
	registry  *registry.Registry
}

func NewAPIHandlers(services Services, validator *validator.Validate, registry *registry.Registry) *APIHandlers {
	return &APIHandlers{
		services:  services,
		validator: validator,
		registry:  registry,
	}
}

// Register mounts every API route. Static /workflows paths are registered
// before /workflows/:id so they are not captured as ids.
func (h *APIHandlers) Register(app fiber.Router) {
	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/stats", h.GetStats)
	w.Get("/templates", h.GetTemplates)
	w.Post("/from-template/:templateId", h.CreateFromTemplate)
	w.Get("/action-types", h.GetActionTypes)
	w.Get("/trigger-types", h.GetTriggerTypes)

	w.Get("/executions", h.GetExecutions)
	w.Get("/executions/:id", h.GetExecution)
	w.Post("/executions/:id/cancel", h.CancelExecution)

	w.Get("/scheduled-tasks", h.GetScheduledTasks)
	w.Post("/scheduled-tasks", h.CreateScheduledTask)
	w.Get("/scheduled-tasks/:id", h.GetScheduledTask)
	w.Put("/scheduled-tasks/:id", h.UpdateScheduledTask)
	w.Delete("/scheduled-tasks/:id", h.DeleteScheduledTask)

	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/pause", h.PauseWorkflow)
	w.Post("/:id/archive", h.ArchiveWorkflow)
	w.Post("/:id/execute", h.ExecuteWorkflow)

	app.Post("/events", h.PostEvent)
	app.Post("/webhooks/:source/:type", h.PostWebhook)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	page, err := parsePage(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	req := services.ListWorkflowsRequest{
		Limit:     page.Limit(),
		Offset:    page.Offset(),
		Category:  c.Query("category"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.WorkflowStatus(statusStr)
		req.Status = &status
	}

	result, err := h.services.Workflows.ListWorkflows(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"page":      max(page.Page, 1),
			"page_size": page.Limit(),
		},
	})
}

// parsePage reads 1-based page and page_size query parameters.
func parsePage(c fiber.Ctx) (Page, error) {
	var page Page

	if pageStr := c.Query("page"); pageStr != "" {
		value, err := strconv.Atoi(pageStr)
		if err != nil {
			return page, err
		}

		page.Page = value
	}

	if sizeStr := c.Query("page_size"); sizeStr != "" {
		value, err := strconv.Atoi(sizeStr)
		if err != nil {
			return page, err
		}

		page.PageSize = value
	}

	return page, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.services.Workflows.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.services.Workflows.Create(c.Context(), req.ToModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateWorkflow fully replaces a workflow definition. Status changes go
// through the lifecycle endpoints.
func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.services.Workflows.Update(c.Context(), c.Params("id"), req.ToModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.services.Workflows.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.services.Workflows.Activate)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.services.Workflows.Pause)
}

func (h *APIHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.services.Workflows.Archive)
}

func (h *APIHandlers) transition(c fiber.Ctx, fn func(context.Context, string) (*models.Workflow, error)) error {
	workflow, err := fn(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// ExecuteWorkflow fires a manual run. It answers 200 with a terminal
// execution and 202 with one that is still in progress.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.services.Executions.Execute(c.Context(), c.Params("id"), req.Input, req.Wait)
	if err != nil {
		return handleServiceError(c, err)
	}

	status := fiber.StatusAccepted
	if execution.IsTerminal() {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(execution)
}

func (h *APIHandlers) CreateFromTemplate(c fiber.Ctx) error {
	created, err := h.services.Workflows.CreateFromTemplate(c.Context(), c.Params("templateId"), c.Query("name"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	stats, err := h.services.Stats.Compute(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	list, err := h.services.Catalog.Templates(c.Query("category"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"templates": list})
}

func (h *APIHandlers) GetActionTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"action_types": h.services.Catalog.ActionTypes()})
}

func (h *APIHandlers) GetTriggerTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"trigger_types": h.services.Catalog.TriggerTypes()})
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	page, err := parsePage(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	req := services.ListExecutionsRequest{
		WorkflowID: c.Query("workflow_id"),
		Limit:      page.Limit(),
		Offset:     page.Offset(),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ExecutionStatus(statusStr)
		req.Status = &status
	}

	result, err := h.services.Executions.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":    result.Executions,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"page":      max(page.Page, 1),
			"page_size": page.Limit(),
		},
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.services.Executions.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.services.Executions.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) GetScheduledTasks(c fiber.Ctx) error {
	tasks, err := h.services.Tasks.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"scheduled_tasks": tasks, "total_count": len(tasks)})
}

func (h *APIHandlers) GetScheduledTask(c fiber.Ctx) error {
	task, err := h.services.Tasks.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) CreateScheduledTask(c fiber.Ctx) error {
	var req ScheduledTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.services.Tasks.Create(c.Context(), req.ToModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateScheduledTask(c fiber.Ctx) error {
	var req ScheduledTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.services.Tasks.Update(c.Context(), c.Params("id"), req.ToModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteScheduledTask(c fiber.Ctx) error {
	if err := h.services.Tasks.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// PostEvent routes a generic inbound event to event and condition triggers.
func (h *APIHandlers) PostEvent(c fiber.Ctx) error {
	var req EventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return h.dispatch(c, router.Event{
		Source:  req.Source,
		Type:    req.Type,
		Payload: req.Payload,
		Channel: router.ChannelEvent,
	})
}

// PostWebhook routes an external callback. The JSON body, if any, becomes the payload.
func (h *APIHandlers) PostWebhook(c fiber.Ctx) error {
	payload := map[string]any{}

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	return h.dispatch(c, router.Event{
		Source:  c.Params("source"),
		Type:    c.Params("type"),
		Payload: payload,
		Channel: router.ChannelWebhook,
	})
}

func (h *APIHandlers) dispatch(c fiber.Ctx, event router.Event) error {
	executions, err := h.services.Router.Route(c.Context(), event)

	switch {
	case errors.Is(err, router.ErrEventSourceRequired):
		return badRequest(c, err.Error())
	case err != nil && len(executions) == 0:
		return handleServiceError(c, err)
	}

	if executions == nil {
		executions = []*models.Execution{}
	}

	response := DispatchResponse{
		Executions: executions,
		Matched:    len(executions),
	}

	if err != nil {
		response.Error = err.Error()
	}

	return c.Status(fiber.StatusAccepted).JSON(response)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.services.Workflows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Autoflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Autoflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
