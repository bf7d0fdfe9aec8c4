package web

import (
	"errors"

	"github.com/dukex/callchain/pkg/catalog"
	"github.com/dukex/callchain/pkg/chain"
	"github.com/dukex/callchain/pkg/contexts"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps engine errors onto problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var transitionErr *contexts.TransitionError

	switch {
	case errors.Is(err, contexts.ErrContextNotFound):
		return notFound(c, "context_not_found", "execution context not found")
	case errors.Is(err, catalog.ErrChainNotFound):
		return notFound(c, "call_chain_not_found", err.Error())
	case errors.Is(err, catalog.ErrSituationNotFound):
		return notFound(c, "situation_not_found", err.Error())
	case errors.Is(err, chain.ErrEmbeddedCycle):
		return badRequest(c, err.Error())
	case errors.As(err, &transitionErr):
		return conflict(c, err.Error())
	default:
		return internalError(c, err)
	}
}
