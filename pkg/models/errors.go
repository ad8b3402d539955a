package models

import (
	"errors"
	"fmt"

	"github.com/dukex/anyflow/pkg/graph"
)

// Validation errors returned by Node and Flow. Every error produced by
// Validate wraps exactly one of them.
var (
	// ErrInvalidNodeKind indicates the discriminant and the present fields disagree.
	ErrInvalidNodeKind = errors.New("invalid node kind")

	// ErrDuplicateNodeName indicates two nodes share a node_name.
	ErrDuplicateNodeName = errors.New("duplicate node name")

	// ErrDanglingReference indicates depends_on or an edge names a node that does not exist.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrCyclicDependency indicates the dependency relation contains a cycle.
	ErrCyclicDependency = graph.ErrCyclicDependency

	// ErrTriggerCount indicates a flow without exactly one trigger.
	ErrTriggerCount = errors.New("flow must have exactly one trigger")

	// ErrTriggerTargeted indicates an edge or depends_on entry makes the trigger depend on another node.
	ErrTriggerTargeted = errors.New("trigger cannot depend on another node")

	// ErrFlowNameRequired indicates an empty flow name.
	ErrFlowNameRequired = errors.New("flow name is required")

	// ErrNodeNotFound indicates a mutation named a node that is not part of the flow.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeExists indicates the edge is already part of the flow.
	ErrEdgeExists = errors.New("edge already exists")

	// ErrEdgeNotFound indicates the edge is not part of the flow.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrTriggerRemoval indicates an attempt to remove the flow's trigger.
	ErrTriggerRemoval = errors.New("trigger cannot be removed")
)

// NodeError reports a violation attached to a single node.
type NodeError struct {
	Node   string // node_name of the offending node, empty when the name itself is missing
	Reason string
	Err    error
}

func (e *NodeError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Reason)
	}

	return fmt.Sprintf("%v: node %q: %s", e.Err, e.Node, e.Reason)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// ReferenceError reports a depends_on entry or an edge whose endpoint is wrong.
type ReferenceError struct {
	Source string // Node that holds or starts the reference
	Target string // Node being referenced
	Via    string // "depends_on" or "edge"
	Err    error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%v: %s %s -> %s", e.Err, e.Via, e.Source, e.Target)
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}

func newNodeKindError(node, reason string) *NodeError {
	return &NodeError{Node: node, Reason: reason, Err: ErrInvalidNodeKind}
}

// IsValidationError reports whether err was produced by flow or node validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidNodeKind) ||
		errors.Is(err, ErrDuplicateNodeName) ||
		errors.Is(err, ErrDanglingReference) ||
		errors.Is(err, ErrCyclicDependency) ||
		errors.Is(err, ErrTriggerCount) ||
		errors.Is(err, ErrTriggerTargeted) ||
		errors.Is(err, ErrFlowNameRequired) ||
		errors.Is(err, ErrTriggerRemoval)
}

// IsConflictError reports whether err is a mutation that conflicts with the current document.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrEdgeExists)
}

// IsNotFoundError reports whether err names a node or edge missing from the flow.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrEdgeNotFound)
}
