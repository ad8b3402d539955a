// Package models defines the flow document: trigger and action nodes, the
// edges between them and the flow aggregate that owns both.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
)

// NodeKind is the discriminant of the Node union.
type NodeKind string

const (
	NodeKindTrigger NodeKind = "trigger" // Starts a flow; exactly one per flow
	NodeKindAction  NodeKind = "action"  // Processing step, may depend on other nodes
)

// HandlePosition is the side of a node a handle is drawn on.
type HandlePosition string

const (
	HandlePositionTop    HandlePosition = "top"
	HandlePositionRight  HandlePosition = "right"
	HandlePositionBottom HandlePosition = "bottom"
	HandlePositionLeft   HandlePosition = "left"
)

// HandleType is the direction of a handle.
type HandleType string

const (
	HandleTypeSource HandleType = "source"
	HandleTypeTarget HandleType = "target"
)

// Handle is a connection point used by the editor canvas only.
type Handle struct {
	ID       string         `json:"id"       toml:"id"       yaml:"id"       msgpack:"id"`
	Position HandlePosition `json:"position" toml:"position" yaml:"position" msgpack:"position"`
	Type     HandleType     `json:"type"     toml:"type"     yaml:"type"     msgpack:"type"`
}

// Point is a canvas coordinate.
type Point struct {
	X float64 `json:"x" toml:"x" yaml:"x" msgpack:"x"`
	Y float64 `json:"y" toml:"y" yaml:"y" msgpack:"y"`
}

// Presentation holds canvas state. It has no effect on ordering; the editor
// flags are carried through unchanged.
type Presentation struct {
	Position         Point   `json:"position"                   toml:"position"                   yaml:"position"                   msgpack:"position"`
	Width            float64 `json:"width,omitempty"            toml:"width,omitempty"            yaml:"width,omitempty"            msgpack:"width,omitempty"`
	Height           float64 `json:"height,omitempty"           toml:"height,omitempty"           yaml:"height,omitempty"           msgpack:"height,omitempty"`
	Selected         bool    `json:"selected,omitempty"         toml:"selected,omitempty"         yaml:"selected,omitempty"         msgpack:"selected,omitempty"`
	Dragging         bool    `json:"dragging,omitempty"         toml:"dragging,omitempty"         yaml:"dragging,omitempty"         msgpack:"dragging,omitempty"`
	PositionAbsolute *Point  `json:"positionAbsolute,omitempty" toml:"positionAbsolute,omitempty" yaml:"positionAbsolute,omitempty" msgpack:"positionAbsolute,omitempty"`
}

// TriggerSpec is the payload of a trigger node.
type TriggerSpec struct {
	TriggerType string `msgpack:"trigger_type"`
}

// ActionSpec is the payload of an action node.
type ActionSpec struct {
	ActionType string   `msgpack:"action_type"`
	DependsOn  []string `msgpack:"depends_on"`
}

// Node is a single flow step. Kind selects the variant and exactly one of
// Trigger or Action must be set to match it.
type Node struct {
	Name         string        `msgpack:"node_name"`
	Kind         NodeKind      `msgpack:"kind"`
	Icon         string        `msgpack:"icon"`
	Label        string        `msgpack:"node_label"`
	Description  string        `msgpack:"description"`
	Variables    Variables     `msgpack:"variables"`
	Config       Config        `msgpack:"config"`
	Handles      []Handle      `msgpack:"handles"`
	Presentation *Presentation `msgpack:"presentation,omitempty"`

	Trigger *TriggerSpec `msgpack:"trigger,omitempty"`
	Action  *ActionSpec  `msgpack:"action,omitempty"`
}

// NewTrigger creates a trigger node.
func NewTrigger(name, triggerType string) *Node {
	return &Node{
		Name:    name,
		Kind:    NodeKindTrigger,
		Label:   name,
		Trigger: &TriggerSpec{TriggerType: triggerType},
	}
}

// NewAction creates an action node depending on the given node names.
func NewAction(name, actionType string, dependsOn ...string) *Node {
	return &Node{
		Name:   name,
		Kind:   NodeKindAction,
		Label:  name,
		Action: &ActionSpec{ActionType: actionType, DependsOn: slices.Clone(dependsOn)},
	}
}

// IsTrigger reports whether the node is the trigger variant.
func (n *Node) IsTrigger() bool {
	return n.Kind == NodeKindTrigger
}

// IsAction reports whether the node is the action variant.
func (n *Node) IsAction() bool {
	return n.Kind == NodeKindAction
}

// Type returns trigger_type or action_type depending on the variant.
func (n *Node) Type() string {
	switch {
	case n.Kind == NodeKindTrigger && n.Trigger != nil:
		return n.Trigger.TriggerType
	case n.Kind == NodeKindAction && n.Action != nil:
		return n.Action.ActionType
	default:
		return ""
	}
}

// DependsOn returns the explicit prerequisites of an action node.
func (n *Node) DependsOn() []string {
	if n.Action == nil {
		return nil
	}

	return n.Action.DependsOn
}

// Validate checks that the discriminant and the present fields agree. Name
// uniqueness is a flow-level rule and is not checked here.
func (n *Node) Validate() error {
	if n.Name == "" {
		return &NodeError{Reason: "node_name is required", Err: ErrInvalidNodeKind}
	}

	switch n.Kind {
	case NodeKindTrigger:
		if n.Action != nil {
			return newNodeKindError(n.Name, "trigger node must not carry action_type or depends_on")
		}

		if n.Trigger == nil || n.Trigger.TriggerType == "" {
			return newNodeKindError(n.Name, "trigger node requires trigger_type")
		}
	case NodeKindAction:
		if n.Trigger != nil {
			return newNodeKindError(n.Name, "action node must not carry trigger_type")
		}

		if n.Action == nil || n.Action.ActionType == "" {
			return newNodeKindError(n.Name, "action node requires action_type")
		}
	default:
		return newNodeKindError(n.Name, fmt.Sprintf("unknown node kind %q", n.Kind))
	}

	return nil
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}

	c := *n
	c.Variables = slices.Clone(n.Variables)
	c.Config = slices.Clone(n.Config)
	c.Handles = slices.Clone(n.Handles)

	if n.Presentation != nil {
		p := *n.Presentation
		if p.PositionAbsolute != nil {
			abs := *p.PositionAbsolute
			p.PositionAbsolute = &abs
		}

		c.Presentation = &p
	}

	if n.Trigger != nil {
		t := *n.Trigger
		c.Trigger = &t
	}

	if n.Action != nil {
		a := *n.Action
		a.DependsOn = slices.Clone(n.Action.DependsOn)
		c.Action = &a
	}

	return &c
}

// nodeRecord is the flat wire form of a node, discriminated by "trigger".
type nodeRecord struct {
	Trigger      bool          `json:"trigger"`
	Name         string        `json:"node_name"`
	Icon         string        `json:"icon"`
	Label        string        `json:"node_label"`
	Description  string        `json:"description,omitempty"`
	Variables    Variables     `json:"variables"`
	Config       Config        `json:"config"`
	Handles      []Handle      `json:"handles"`
	Presentation *Presentation `json:"presentation,omitempty"`
	TriggerType  *string       `json:"trigger_type,omitempty"`
	ActionType   *string       `json:"action_type,omitempty"`
	DependsOn    []string      `json:"depends_on,omitempty"`
}

func (n Node) MarshalJSON() ([]byte, error) {
	rec := nodeRecord{
		Trigger:      n.Kind == NodeKindTrigger,
		Name:         n.Name,
		Icon:         n.Icon,
		Label:        n.Label,
		Description:  n.Description,
		Variables:    n.Variables,
		Config:       n.Config,
		Handles:      n.Handles,
		Presentation: n.Presentation,
	}

	if rec.Variables == nil {
		rec.Variables = Variables{}
	}

	if rec.Config == nil {
		rec.Config = Config{}
	}

	if rec.Handles == nil {
		rec.Handles = []Handle{}
	}

	if n.Trigger != nil {
		rec.TriggerType = &n.Trigger.TriggerType
	}

	if n.Action != nil {
		rec.ActionType = &n.Action.ActionType

		rec.DependsOn = n.Action.DependsOn
		if rec.DependsOn == nil {
			rec.DependsOn = []string{}
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	// depends_on is omitted only for triggers; actions always carry the list.
	if n.Action != nil && len(rec.DependsOn) == 0 {
		return injectEmptyDependsOn(data)
	}

	return data, nil
}

// UnmarshalJSON maps the flat record onto the union. It keeps whatever
// variant fields are present so that Validate can report a mismatch.
func (n *Node) UnmarshalJSON(data []byte) error {
	var rec nodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*n = Node{
		Name:         rec.Name,
		Kind:         NodeKindAction,
		Icon:         rec.Icon,
		Label:        rec.Label,
		Description:  rec.Description,
		Variables:    rec.Variables,
		Config:       rec.Config,
		Handles:      rec.Handles,
		Presentation: rec.Presentation,
	}

	if rec.Trigger {
		n.Kind = NodeKindTrigger
	}

	if len(n.Handles) == 0 {
		n.Handles = nil
	}

	if len(rec.DependsOn) == 0 {
		rec.DependsOn = nil
	}

	if rec.TriggerType != nil {
		n.Trigger = &TriggerSpec{TriggerType: *rec.TriggerType}
	}

	_, hasDependsOn := fields["depends_on"]
	if rec.ActionType != nil || hasDependsOn {
		n.Action = &ActionSpec{DependsOn: rec.DependsOn}
		if rec.ActionType != nil {
			n.Action.ActionType = *rec.ActionType
		}
	}

	return nil
}

// ParseNode decodes a single node document and validates it.
func ParseNode(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode node: %w", err)
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}

	return &n, nil
}

func injectEmptyDependsOn(data []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	if _, ok := fields["depends_on"]; ok {
		return data, nil
	}

	// Rebuild with the key appended; key order of a node record is not significant.
	return append(data[:len(data)-1], []byte(`,"depends_on":[]}`)...), nil
}
