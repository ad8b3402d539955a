package models

import (
	"fmt"
	"slices"
)

// apply runs mutate on a deep copy, validates the result and only then
// replaces the receiver. On error the receiver is left as it was.
func (f *Flow) apply(mutate func(*Flow) error) error {
	next := f.Clone()

	if err := mutate(next); err != nil {
		return err
	}

	if err := next.Validate(); err != nil {
		return err
	}

	*f = *next

	return nil
}

// Rename sets the flow name.
func (f *Flow) Rename(name string) error {
	if name == "" {
		return ErrFlowNameRequired
	}

	return f.apply(func(next *Flow) error {
		next.Name = name

		return nil
	})
}

// AddNode appends an action. A trigger node is rejected by the trigger count
// check since the flow already has one.
func (f *Flow) AddNode(node *Node) error {
	if node == nil {
		return &NodeError{Reason: "node is nil", Err: ErrInvalidNodeKind}
	}

	return f.apply(func(next *Flow) error {
		next.Actions = append(next.Actions, node.Clone())

		return nil
	})
}

// UpdateNode replaces the node named name. When the replacement carries a
// different node_name, depends_on entries and edges are rewritten to it.
func (f *Flow) UpdateNode(name string, node *Node) error {
	if node == nil {
		return &NodeError{Node: name, Reason: "node is nil", Err: ErrInvalidNodeKind}
	}

	return f.apply(func(next *Flow) error {
		replacement := node.Clone()

		switch {
		case next.Trigger != nil && next.Trigger.Name == name:
			next.Trigger = replacement
		default:
			i := slices.IndexFunc(next.Actions, func(a *Node) bool { return a.Name == name })
			if i < 0 {
				return &NodeError{Node: name, Reason: "not part of the flow", Err: ErrNodeNotFound}
			}

			next.Actions[i] = replacement
		}

		if replacement.Name != name {
			next.renameReferences(name, replacement.Name)
		}

		return nil
	})
}

// UpdateNodeConfig replaces the config of the node named name.
func (f *Flow) UpdateNodeConfig(name string, config Config) error {
	return f.apply(func(next *Flow) error {
		node, ok := next.Node(name)
		if !ok {
			return &NodeError{Node: name, Reason: "not part of the flow", Err: ErrNodeNotFound}
		}

		node.Config = slices.Clone(config)

		return nil
	})
}

// RemoveNode deletes an action along with every edge and depends_on entry
// that points at it. The trigger cannot be removed.
func (f *Flow) RemoveNode(name string) error {
	if f.Trigger != nil && f.Trigger.Name == name {
		return &NodeError{Node: name, Reason: "the flow needs its trigger", Err: ErrTriggerRemoval}
	}

	return f.apply(func(next *Flow) error {
		i := slices.IndexFunc(next.Actions, func(a *Node) bool { return a.Name == name })
		if i < 0 {
			return &NodeError{Node: name, Reason: "not part of the flow", Err: ErrNodeNotFound}
		}

		next.Actions = slices.Delete(next.Actions, i, i+1)

		for _, a := range next.Actions {
			if a.Action != nil {
				a.Action.DependsOn = slices.DeleteFunc(a.Action.DependsOn, func(dep string) bool { return dep == name })
			}
		}

		next.Edges = slices.DeleteFunc(next.Edges, func(e Edge) bool {
			return e.Source == name || e.Target == name
		})

		return nil
	})
}

// AddEdge connects two existing nodes.
func (f *Flow) AddEdge(edge Edge) error {
	if slices.Contains(f.Edges, edge) {
		return fmt.Errorf("%w: %s", ErrEdgeExists, edge)
	}

	return f.apply(func(next *Flow) error {
		next.Edges = append(next.Edges, edge)

		return nil
	})
}

// RemoveEdge deletes an edge.
func (f *Flow) RemoveEdge(edge Edge) error {
	return f.apply(func(next *Flow) error {
		i := slices.Index(next.Edges, edge)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrEdgeNotFound, edge)
		}

		next.Edges = slices.Delete(next.Edges, i, i+1)

		return nil
	})
}

func (f *Flow) renameReferences(from, to string) {
	for _, a := range f.Actions {
		if a.Action == nil {
			continue
		}

		for i, dep := range a.Action.DependsOn {
			if dep == from {
				a.Action.DependsOn[i] = to
			}
		}
	}

	for i := range f.Edges {
		if f.Edges[i].Source == from {
			f.Edges[i].Source = to
		}

		if f.Edges[i].Target == from {
			f.Edges[i].Target = to
		}
	}
}
