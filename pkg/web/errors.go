package web

import (
	"errors"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/services"
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

func unauthorized(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(401).
		WithInstance(c.Path()).
		WithType("unauthorized").
		WithDetail(detail)

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// isRequestError reports errors caused by the request shape rather than the
// flow document it carries.
func isRequestError(err error) bool {
	return errors.Is(err, services.ErrInvalidRequest) ||
		errors.Is(err, services.ErrInvalidDocument) ||
		errors.Is(err, services.ErrInvalidSortField) ||
		errors.Is(err, services.ErrInvalidSortOrder) ||
		errors.Is(err, services.ErrFlowNil) ||
		errors.Is(err, services.ErrNodeNil)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsUnauthorized(err):
		return unauthorized(c, "authentication required")

	case services.IsNotFoundError(err):
		problemType := "flow_not_found"

		switch {
		case errors.Is(err, models.ErrNodeNotFound):
			problemType = "node_not_found"
		case errors.Is(err, models.ErrEdgeNotFound):
			problemType = "edge_not_found"
		}

		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType(problemType).
			WithDetail(err.Error())

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case isRequestError(err):
		return badRequest(c, err.Error())

	case services.IsValidationError(err):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("invalid_flow").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case services.IsUnavailable(err):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("backend_unavailable").
			WithDetail("flow storage is unavailable")

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	default:
		return internalError(c, err)
	}
}
