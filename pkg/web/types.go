package web

import (
	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/registry"
)

// CreateFlowRequest represents the request body for creating a new flow.
type CreateFlowRequest struct {
	Name string `json:"flowName" validate:"required,max=255"`
}

// RenameFlowRequest represents the request body of PATCH /flows/:id.
type RenameFlowRequest struct {
	Name string `json:"flowName" validate:"required,max=255"`
}

// EdgeRequest represents the request body for adding or removing an edge.
type EdgeRequest struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

func (r EdgeRequest) Edge() models.Edge {
	return models.Edge{Source: r.Source, Target: r.Target}
}

// ValidationResponse is the body of a successful POST /flows/validate.
type ValidationResponse struct {
	Valid bool         `json:"valid"`
	Plan  *models.Plan `json:"plan,omitempty"`
}

type NodeTypesResponse struct {
	NodeTypes []*registry.NodeType `json:"node_types"`
}

type VersionsResponse struct {
	Versions []*models.FlowVersion `json:"versions"`
}
