package models

import (
	"errors"
	"fmt"

	"github.com/dukex/anyflow/pkg/graph"
)

// Plan is the visiting order of a valid flow. Layers groups nodes with no
// ordering constraint between them; Order is Layers flattened.
type Plan struct {
	Order  []string   `json:"order"`
	Layers [][]string `json:"layers"`
}

// Validate checks the flow invariants in a fixed order and returns the first
// violation: trigger count, node kinds, unique names, references, cycles.
func (f *Flow) Validate() error {
	for _, check := range f.structuralChecks() {
		if errs := check(); len(errs) > 0 {
			return errs[0]
		}
	}

	if errs := f.checkCycles(); len(errs) > 0 {
		return errs[0]
	}

	return nil
}

// ValidateAll runs the same checks as Validate but reports every violation
// joined into one error. Cycles are only looked for once the structure is
// sound, since a dangling or duplicate name makes the graph meaningless.
func (f *Flow) ValidateAll() error {
	var errs []error

	for _, check := range f.structuralChecks() {
		errs = append(errs, check()...)
	}

	if len(errs) == 0 {
		errs = f.checkCycles()
	}

	return errors.Join(errs...)
}

// Plan validates the flow and returns its dependency-respecting order. The
// trigger always comes first; ties inside a layer are broken by ascending
// node_name.
func (f *Flow) Plan() (*Plan, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	layers, err := f.dependencyGraph().Layers()
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(f.Actions)+1)
	for _, layer := range layers {
		order = append(order, layer...)
	}

	return &Plan{Order: order, Layers: layers}, nil
}

func (f *Flow) structuralChecks() []func() []error {
	return []func() []error{
		f.checkTriggerCount,
		f.checkNodeKinds,
		f.checkUniqueNames,
		f.checkReferences,
	}
}

func (f *Flow) checkTriggerCount() []error {
	count := 0
	if f.Trigger != nil && f.Trigger.IsTrigger() {
		count++
	}

	for _, a := range f.Actions {
		if a != nil && a.IsTrigger() {
			count++
		}
	}

	if count != 1 {
		return []error{fmt.Errorf("%w: found %d", ErrTriggerCount, count)}
	}

	return nil
}

func (f *Flow) checkNodeKinds() []error {
	var errs []error

	if f.Trigger != nil {
		if !f.Trigger.IsTrigger() {
			errs = append(errs, newNodeKindError(f.Trigger.Name, "trigger slot holds a non-trigger node"))
		} else if err := f.Trigger.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	for i, a := range f.Actions {
		switch {
		case a == nil:
			errs = append(errs, &NodeError{Reason: fmt.Sprintf("action %d is empty", i), Err: ErrInvalidNodeKind})
		case a.IsTrigger():
			// Counted by checkTriggerCount.
		default:
			if err := a.Validate(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errs
}

func (f *Flow) checkUniqueNames() []error {
	var errs []error

	seen := make(map[string]struct{}, len(f.Actions)+1)

	for _, n := range f.Nodes() {
		if n == nil || n.Name == "" {
			continue
		}

		if _, ok := seen[n.Name]; ok {
			errs = append(errs, &NodeError{Node: n.Name, Reason: "node_name is used more than once", Err: ErrDuplicateNodeName})

			continue
		}

		seen[n.Name] = struct{}{}
	}

	return errs
}

func (f *Flow) checkReferences() []error {
	var errs []error

	names := make(map[string]struct{}, len(f.Actions)+1)
	for _, n := range f.Nodes() {
		if n != nil {
			names[n.Name] = struct{}{}
		}
	}

	for _, a := range f.Actions {
		if a == nil {
			continue
		}

		for _, dep := range a.DependsOn() {
			if _, ok := names[dep]; !ok {
				errs = append(errs, &ReferenceError{Source: a.Name, Target: dep, Via: "depends_on", Err: ErrDanglingReference})
			}
		}
	}

	for _, e := range f.Edges {
		_, sourceOK := names[e.Source]
		_, targetOK := names[e.Target]

		switch {
		case !sourceOK || !targetOK:
			errs = append(errs, &ReferenceError{Source: e.Source, Target: e.Target, Via: "edge", Err: ErrDanglingReference})
		case f.Trigger != nil && e.Target == f.Trigger.Name:
			errs = append(errs, &ReferenceError{Source: e.Source, Target: e.Target, Via: "edge", Err: ErrTriggerTargeted})
		}
	}

	return errs
}

func (f *Flow) checkCycles() []error {
	if _, err := f.dependencyGraph().Layers(); err != nil {
		return []error{err}
	}

	return nil
}

// dependencyGraph combines depends_on and edges into one relation. Actions
// with no predecessor at all hang off the trigger so that traversal starts
// there and reaches every node.
func (f *Flow) dependencyGraph() *graph.Graph {
	g := graph.New()

	for _, n := range f.Nodes() {
		g.AddVertex(n.Name)
	}

	for _, a := range f.Actions {
		for _, dep := range a.DependsOn() {
			g.AddEdge(dep, a.Name)
		}
	}

	for _, e := range f.Edges {
		g.AddEdge(e.Source, e.Target)
	}

	if f.Trigger != nil {
		for _, a := range f.Actions {
			if a.Name != f.Trigger.Name && len(g.Predecessors(a.Name)) == 0 {
				g.AddEdge(f.Trigger.Name, a.Name)
			}
		}
	}

	return g
}
