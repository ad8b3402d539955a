// Package web provides HTTP handlers and REST API endpoints for flow management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/registry"
	"github.com/dukex/anyflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	flowService *services.Flow
	validator   *validator.Validate
	registry    *registry.Registry
}

func NewAPIHandlers(
	flowService *services.Flow,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		flowService: flowService,
		validator:   validator,
		registry:    registry,
	}
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	req, err := parseListFlowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.flowService.GetFlows(requestContext(c), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"flows":         result.Flows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

// parseListFlowsRequest parses the query parameters for listing flows.
func parseListFlowsRequest(c fiber.Ctx) (*services.ListFlowsRequest, error) {
	req := &services.ListFlowsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.flowService.CreateFlow(requestContext(c), req.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flowService.GetFlow(requestContext(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) GetFlowByName(c fiber.Ctx) error {
	flow, err := h.flowService.GetFlowByName(requestContext(c), c.Params("name"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

// UpdateFlow replaces the whole document.
func (h *APIHandlers) UpdateFlow(c fiber.Ctx) error {
	var flow models.Flow
	if err := c.Bind().JSON(&flow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.flowService.UpdateFlow(requestContext(c), c.Params("id"), &flow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) RenameFlow(c fiber.Ctx) error {
	var req RenameFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.flowService.RenameFlow(requestContext(c), c.Params("id"), services.RenameFlowRequest{Name: req.Name})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	err := h.flowService.DeleteFlow(requestContext(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetFlowVersions(c fiber.Ctx) error {
	versions, err := h.flowService.GetFlowVersions(requestContext(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(VersionsResponse{Versions: versions})
}

func (h *APIHandlers) GetPlan(c fiber.Ctx) error {
	plan, err := h.flowService.Plan(requestContext(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(plan)
}

func (h *APIHandlers) ReadToml(c fiber.Ctx) error {
	data, err := h.flowService.ReadToml(requestContext(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/toml")

	return c.Send(data)
}

func (h *APIHandlers) WriteToml(c fiber.Ctx) error {
	updated, err := h.flowService.WriteToml(requestContext(c), c.Params("id"), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) AddNode(c fiber.Ctx) error {
	var node models.Node
	if err := c.Bind().JSON(&node); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.flowService.AddNode(requestContext(c), c.Params("id"), &node)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(updated)
}

func (h *APIHandlers) UpdateNode(c fiber.Ctx) error {
	var node models.Node
	if err := c.Bind().JSON(&node); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.flowService.UpdateNode(requestContext(c), c.Params("id"), c.Params("name"), &node)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

// UpdateNodeConfig takes the config as a JSON object; key order is kept.
func (h *APIHandlers) UpdateNodeConfig(c fiber.Ctx) error {
	var config models.Config
	if err := c.Bind().JSON(&config); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.flowService.UpdateNodeConfig(requestContext(c), c.Params("id"), c.Params("name"), config)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) RemoveNode(c fiber.Ctx) error {
	updated, err := h.flowService.RemoveNode(requestContext(c), c.Params("id"), c.Params("name"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) AddEdge(c fiber.Ctx) error {
	req, err := h.parseEdge(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.flowService.AddEdge(requestContext(c), c.Params("id"), req.Edge())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(updated)
}

func (h *APIHandlers) RemoveEdge(c fiber.Ctx) error {
	req, err := h.parseEdge(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.flowService.RemoveEdge(requestContext(c), c.Params("id"), req.Edge())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) parseEdge(c fiber.Ctx) (*EdgeRequest, error) {
	var req EdgeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, errInvalidJSON
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &req, nil
}

// ValidateFlow checks a document without storing it. A valid flow is
// answered with its plan; an invalid one with every violation found.
func (h *APIHandlers) ValidateFlow(c fiber.Ctx) error {
	var flow models.Flow
	if err := c.Bind().JSON(&flow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.flowService.ValidateFlow(requestContext(c), &flow); err != nil {
		return handleServiceError(c, err)
	}

	plan, err := flow.Plan()
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ValidationResponse{Valid: true, Plan: plan})
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	return c.JSON(NodeTypesResponse{NodeTypes: h.registry.List()})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.flowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "anyflow API is unhealthy"
	httpStatus := http.StatusServiceUnavailable

	if regOk && repOk {
		status = "healthy"
		message = "anyflow API is healthy"
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
