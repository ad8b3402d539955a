// Package registry holds the catalog of node types a flow may use. Each entry
// carries the defaults used to create a node of that type and an optional
// JSON schema its config must satisfy. Types missing from the registry are
// accepted as-is.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrUnknownNodeType   = errors.New("unknown node type")
	ErrInvalidConfig     = errors.New("invalid node config")
	ErrAlreadyRegistered = errors.New("node type already registered")
)

// NodeType describes one entry of the catalog.
type NodeType struct {
	Type        string          `json:"type"`
	Kind        models.NodeKind `json:"kind"`
	Title       string          `json:"title"`
	Icon        string          `json:"icon"`
	Description string          `json:"description,omitempty"`
	// WorkerType names the executor an engine would hand the node to. It is
	// carried as metadata only.
	WorkerType    string          `json:"worker_type"`
	DefaultConfig models.Config   `json:"default_config"`
	Handles       []models.Handle `json:"handles"`
	Schema        map[string]any  `json:"schema,omitempty"`

	// Check runs after schema validation for rules a schema cannot express.
	Check func(models.Config) error `json:"-"`

	compiled *gojsonschema.Schema
}

// ConfigError lists every problem found in a node config.
type ConfigError struct {
	Node     string
	Type     string
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: node %q of type %q: %s", ErrInvalidConfig, e.Node, e.Type, strings.Join(e.Problems, "; "))
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// IsInvalidConfig reports whether err is a config validation failure.
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

type Registry struct {
	logger *slog.Logger
	mu     sync.RWMutex
	types  map[models.NodeKind]map[string]*NodeType
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger: log,
		types: map[models.NodeKind]map[string]*NodeType{
			models.NodeKindTrigger: {},
			models.NodeKindAction:  {},
		},
	}
}

// Register adds a node type. Its schema, when present, is compiled once here.
func (r *Registry) Register(nodeType *NodeType) error {
	byType, ok := r.types[nodeType.Kind]
	if !ok {
		return fmt.Errorf("%w: kind %q", ErrUnknownNodeType, nodeType.Kind)
	}

	if nodeType.Schema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(nodeType.Schema))
		if err != nil {
			return fmt.Errorf("failed to compile schema for %s: %w", nodeType.Type, err)
		}

		nodeType.compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := byType[nodeType.Type]; exists {
		return fmt.Errorf("%w: %s %s", ErrAlreadyRegistered, nodeType.Kind, nodeType.Type)
	}

	byType[nodeType.Type] = nodeType

	r.logger.Debug("Registered node type", "kind", nodeType.Kind, "type", nodeType.Type)

	return nil
}

// Get returns the node type registered for kind and type tag.
func (r *Registry) Get(kind models.NodeKind, typ string) (*NodeType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodeType, ok := r.types[kind][typ]

	return nodeType, ok
}

// HealthCheck reports whether the catalog has at least one trigger type,
// without which no flow can be created.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.types[models.NodeKindTrigger]) == 0 {
		return "Registry has no trigger types", false
	}

	return "Registry is healthy", true
}

// List returns every registered type, triggers first, each group sorted by type.
func (r *Registry) List() []*NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*NodeType, 0)

	for _, kind := range []models.NodeKind{models.NodeKindTrigger, models.NodeKindAction} {
		group := make([]*NodeType, 0, len(r.types[kind]))
		for _, nodeType := range r.types[kind] {
			group = append(group, nodeType)
		}

		slices.SortFunc(group, func(a, b *NodeType) int { return strings.Compare(a.Type, b.Type) })
		out = append(out, group...)
	}

	return out
}

// NewNode builds a node of the given type with the catalog defaults.
func (r *Registry) NewNode(kind models.NodeKind, typ, name string, dependsOn ...string) (*models.Node, error) {
	nodeType, ok := r.Get(kind, typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownNodeType, kind, typ)
	}

	var node *models.Node
	if kind == models.NodeKindTrigger {
		node = models.NewTrigger(name, typ)
	} else {
		node = models.NewAction(name, typ, dependsOn...)
	}

	node.Label = nodeType.Title
	node.Icon = nodeType.Icon
	node.Description = nodeType.Description
	node.Config = slices.Clone(nodeType.DefaultConfig)
	node.Handles = slices.Clone(nodeType.Handles)

	return node, nil
}

// ValidateNode checks the node config against its registered type. Nodes of
// unregistered types pass.
func (r *Registry) ValidateNode(node *models.Node) error {
	nodeType, ok := r.Get(node.Kind, node.Type())
	if !ok {
		return nil
	}

	var problems []string

	if nodeType.compiled != nil {
		result, err := nodeType.compiled.Validate(gojsonschema.NewGoLoader(node.Config.Map()))
		if err != nil {
			return fmt.Errorf("failed to validate config of node %s: %w", node.Name, err)
		}

		for _, resultErr := range result.Errors() {
			problems = append(problems, resultErr.String())
		}
	}

	if len(problems) == 0 && nodeType.Check != nil {
		if err := nodeType.Check(node.Config); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return &ConfigError{Node: node.Name, Type: nodeType.Type, Problems: problems}
	}

	return nil
}

// ValidateFlow checks every node of the flow and joins the failures.
func (r *Registry) ValidateFlow(flow *models.Flow) error {
	var errs []error

	for _, node := range flow.Nodes() {
		if node == nil {
			continue
		}

		if err := r.ValidateNode(node); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
