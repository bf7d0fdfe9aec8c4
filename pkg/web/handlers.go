// Package web provides the HTTP entry point for starting call chains and delivering
// asynchronous replies to paused execution contexts.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/dukex/callchain/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Starter creates and runs new execution contexts.
type Starter interface {
	StartChain(ctx context.Context, chainID string, values map[string]any, parentSubscriberID string) (*models.ExecutionContext, error)
	StartSituation(ctx context.Context, situationID string, values map[string]any, parentSubscriberID string) (*models.ExecutionContext, error)
}

type ContextReader interface {
	Get(ctx context.Context, id string) (*models.ExecutionContext, error)
}

// Lifecycle is the process manager surface the external event entry point drives.
// AwaitingReply reports whether this node holds the suspended step of the context.
type Lifecycle interface {
	AwaitingReply(contextID string) bool
	UpdateContext(ctx context.Context, execCtx *models.ExecutionContext) error
	Resume(ctx context.Context, execCtx *models.ExecutionContext) error
	Fail(ctx context.Context, execCtx *models.ExecutionContext) error
	Terminate(ctx context.Context, execCtx *models.ExecutionContext, reason string) error
}

type APIHandlers struct {
	starter   Starter
	contexts  ContextReader
	lifecycle Lifecycle
	validator *validator.Validate
}

func NewAPIHandlers(
	starter Starter,
	contexts ContextReader,
	lifecycle Lifecycle,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		starter:   starter,
		contexts:  contexts,
		lifecycle: lifecycle,
		validator: validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"status":    "healthy",
		"message":   "Callchain engine is healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) StartContext(c fiber.Ctx) error {
	var req StartContextRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	var (
		execCtx *models.ExecutionContext
		err     error
	)

	if req.ChainID != "" {
		execCtx, err = h.starter.StartChain(c.Context(), req.ChainID, req.Values, req.ParentSubscriberID)
	} else {
		execCtx, err = h.starter.StartSituation(c.Context(), req.SituationID, req.Values, req.ParentSubscriberID)
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execCtx)
}

func (h *APIHandlers) GetContext(c fiber.Ctx) error {
	execCtx, err := h.lookup(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execCtx)
}

// Reply merges the reply values into the context and resumes it. Replies for contexts
// that are not suspended on this node are rejected and leave the context untouched.
func (h *APIHandlers) Reply(c fiber.Ctx) error {
	var req ReplyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execCtx, err := h.lookup(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	if state := execCtx.State(); state.IsTerminal() {
		return conflict(c, "execution context already ended in state "+string(state))
	}

	if !h.lifecycle.AwaitingReply(execCtx.ID) {
		return conflict(c, "execution context is not awaiting a reply on this node")
	}

	execCtx.Merge(req.Values)

	if err := h.lifecycle.UpdateContext(c.Context(), execCtx); err != nil {
		return handleServiceError(c, err)
	}

	if err := h.lifecycle.Resume(c.Context(), execCtx); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execCtx)
}

func (h *APIHandlers) FailContext(c fiber.Ctx) error {
	execCtx, err := h.lookup(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	if err := h.lifecycle.Fail(c.Context(), execCtx); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execCtx)
}

func (h *APIHandlers) TerminateContext(c fiber.Ctx) error {
	var req TerminateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execCtx, err := h.lookup(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	if err := h.lifecycle.Terminate(c.Context(), execCtx, req.Reason); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execCtx)
}

// Routes mounts the context endpoints on the router.
func (h *APIHandlers) Routes(router fiber.Router) {
	router.Post("/", h.StartContext)
	router.Get("/:id", h.GetContext)
	router.Post("/:id/reply", h.Reply)
	router.Post("/:id/fail", h.FailContext)
	router.Post("/:id/terminate", h.TerminateContext)
}

func (h *APIHandlers) lookup(c fiber.Ctx) (*models.ExecutionContext, error) {
	return h.contexts.Get(c.Context(), c.Params("id"))
}
