package models

import (
	"slices"
	"time"
)

const (
	DefaultFlowVersion     = "0.1"
	DefaultFlowEnvironment = "dev"

	DefaultTriggerName = "manual_trigger"
	DefaultTriggerType = "manual"
)

// Flow is the root document: metadata, one trigger, actions and the edges
// between them. It is the unit of persistence and of validation.
type Flow struct {
	ID          string    `json:"flowId,omitempty" msgpack:"flowId"`
	Name        string    `json:"flowName"         msgpack:"flowName"    validate:"required"`
	Username    string    `json:"username"         msgpack:"username"`
	Owner       string    `json:"userId"           msgpack:"userId"`
	Version     string    `json:"version"          msgpack:"version"`
	Description string    `json:"description"      msgpack:"description"`
	Variables   Variables `json:"variables"        msgpack:"variables"`
	Environment string    `json:"environment"      msgpack:"environment"`
	Trigger     *Node     `json:"trigger"          msgpack:"trigger"`
	Actions     []*Node   `json:"actions"          msgpack:"actions"`
	Edges       []Edge    `json:"edges"            msgpack:"edges"`
	CreatedAt   time.Time `json:"createdAt"        msgpack:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"        msgpack:"updatedAt"`
}

// FlowSummary is the list projection of a flow.
type FlowSummary struct {
	ID        string    `json:"flowId"    msgpack:"flowId"`
	Name      string    `json:"flowName"  msgpack:"flowName"`
	Owner     string    `json:"userId"    msgpack:"userId"`
	Version   string    `json:"version"   msgpack:"version"`
	CreatedAt time.Time `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updatedAt"`
}

// FlowVersion is an immutable snapshot of a flow document.
type FlowVersion struct {
	ID        string    `json:"id"        msgpack:"id"`
	FlowID    string    `json:"flowId"    msgpack:"flowId"`
	Number    int       `json:"number"    msgpack:"number"`
	Version   string    `json:"version"   msgpack:"version"`
	Checksum  string    `json:"checksum"  msgpack:"checksum"`
	Flow      *Flow     `json:"flow"      msgpack:"flow"`
	CreatedAt time.Time `json:"createdAt" msgpack:"createdAt"`
}

// StartHandles are the handles of a trigger: a single source at the bottom.
func StartHandles() []Handle {
	return []Handle{{ID: "a", Position: HandlePositionBottom, Type: HandleTypeSource}}
}

// BaseHandles are the handles of an action: a target on top, a source at the bottom.
func BaseHandles() []Handle {
	return []Handle{
		{ID: "a", Position: HandlePositionTop, Type: HandleTypeTarget},
		{ID: "b", Position: HandlePositionBottom, Type: HandleTypeSource},
	}
}

// NewFlow builds the minimal valid flow: a manual trigger and nothing else.
func NewFlow(name string) *Flow {
	trigger := NewTrigger(DefaultTriggerName, DefaultTriggerType)
	trigger.Label = "Manual Trigger"
	trigger.Icon = "manual"
	trigger.Description = "Start the flow manually"
	trigger.Handles = StartHandles()

	return &Flow{
		Name:        name,
		Version:     DefaultFlowVersion,
		Environment: DefaultFlowEnvironment,
		Variables:   Variables{},
		Trigger:     trigger,
		Actions:     []*Node{},
		Edges:       []Edge{},
	}
}

// Nodes returns the trigger followed by the actions.
func (f *Flow) Nodes() []*Node {
	nodes := make([]*Node, 0, len(f.Actions)+1)
	if f.Trigger != nil {
		nodes = append(nodes, f.Trigger)
	}

	return append(nodes, f.Actions...)
}

// Node returns the node named name.
func (f *Flow) Node(name string) (*Node, bool) {
	for _, n := range f.Nodes() {
		if n != nil && n.Name == name {
			return n, true
		}
	}

	return nil, false
}

// Summary returns the list projection of the flow.
func (f *Flow) Summary() FlowSummary {
	return FlowSummary{
		ID:        f.ID,
		Name:      f.Name,
		Owner:     f.Owner,
		Version:   f.Version,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// Clone returns a deep copy of the flow.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}

	c := *f
	c.Variables = slices.Clone(f.Variables)
	c.Trigger = f.Trigger.Clone()
	c.Edges = slices.Clone(f.Edges)

	if f.Actions != nil {
		c.Actions = make([]*Node, len(f.Actions))
		for i, a := range f.Actions {
			c.Actions[i] = a.Clone()
		}
	}

	return &c
}
