// Package web provides the HTTP adapter for deploying workflows and driving
// their executions.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
	"github.com/vanyastaff/nebulav2/pkg/services"
)

// ActionLister lists the action types the runtime can execute.
type ActionLister interface {
	List() []protocol.ActionFactory
}

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	validator        *validator.Validate
	actions          ActionLister
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	validator *validator.Validate,
	actions ActionLister,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		validator:        validator,
		actions:          actions,
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.DeployWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Post("/:id/executions", h.CreateExecution)

	e := router.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/start", h.StartExecution)
	e.Post("/:id/cancel", h.CancelExecution)

	router.Get("/actions", h.GetActions)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	summaries := make([]WorkflowSummary, 0, len(workflows))
	for _, def := range workflows {
		summaries = append(summaries, summarize(def))
	}

	return c.JSON(fiber.Map{
		"workflows":   summaries,
		"total_count": len(summaries),
	})
}

// GetWorkflow returns the latest version, or the one named by ?version=.
func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	version := 0

	if raw := c.Query("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return badRequest(c, "version must be a positive integer")
		}

		version = v
	}

	def, err := h.workflowService.Get(c.Context(), c.Params("id"), version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) DeployWorkflow(c fiber.Ctx) error {
	var def models.WorkflowDefinition
	if err := c.Bind().JSON(&def); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	deployed, err := h.workflowService.Deploy(c.Context(), &def)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(deployed)
}

func (h *APIHandlers) CreateExecution(c fiber.Ctx) error {
	var req CreateExecutionRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	exec, err := h.executionService.CreateExecution(c.Context(), c.Params("id"), req.Version, req.Trigger)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Start {
		if err := h.executionService.StartExecution(c.Context(), exec.ID, req.Priority); err != nil {
			return handleServiceError(c, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(ExecutionResponse{
		ExecutionID:     exec.ID,
		WorkflowID:      exec.WorkflowID,
		WorkflowVersion: exec.WorkflowVersion,
		Status:          exec.Status,
		Started:         req.Start,
		CreatedAt:       exec.CreatedAt,
	})
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.executionService.StartExecution(c.Context(), c.Params("id"), req.Priority); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	report, err := h.executionService.GetExecutionStatus(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	if err := h.executionService.CancelExecution(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) GetActions(c fiber.Ctx) error {
	factories := h.actions.List()

	actions := make([]fiber.Map, 0, len(factories))
	for _, f := range factories {
		actions = append(actions, fiber.Map{
			"id":          f.ID(),
			"name":        f.Name(),
			"description": f.Description(),
			"schema":      f.Schema(),
		})
	}

	return c.JSON(actions)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Nebula API is unhealthy"
	httpStatus := http.StatusServiceUnavailable

	if ok {
		status = "healthy"
		message = "Nebula API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
