// Package testutil provides test data builders and utilities for testing.
package testutil

import "github.com/dukex/anyflow/pkg/models"

// CreateTestNode creates a test action node with default values that can be overridden.
func CreateTestNode(name string, overrides ...func(*models.Node)) *models.Node {
	node := models.NewAction(name, "javascript")
	node.Icon = "javascript"
	node.Description = "Run a script"
	node.Config = models.Config{{Key: "code", Value: "return input"}}
	node.Handles = models.BaseHandles()

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithDependsOn sets the depends_on list of an action node.
func WithDependsOn(names ...string) func(*models.Node) {
	return func(n *models.Node) {
		n.Action.DependsOn = names
	}
}

// WithConfig sets the node configuration.
func WithConfig(config models.Config) func(*models.Node) {
	return func(n *models.Node) {
		n.Config = config
	}
}

// WithPosition sets the node canvas position.
func WithPosition(x, y float64) func(*models.Node) {
	return func(n *models.Node) {
		n.Presentation = &models.Presentation{Position: models.Point{X: x, Y: y}}
	}
}

// CreateTestFlow creates a flow holding only the default manual trigger.
func CreateTestFlow(overrides ...func(*models.Flow)) *models.Flow {
	flow := models.NewFlow("Test Flow")
	flow.Description = "A flow for testing"
	flow.Variables = models.Variables{{Key: "env", Value: "test"}}

	for _, override := range overrides {
		override(flow)
	}

	return flow
}

// WithFlowName sets the flow name.
func WithFlowName(name string) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Name = name
	}
}

// WithActions appends the given actions.
func WithActions(nodes ...*models.Node) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Actions = append(f.Actions, nodes...)
	}
}

// WithEdges appends the given edges.
func WithEdges(edges ...models.Edge) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Edges = append(f.Edges, edges...)
	}
}

// CreateTestFlowWithNodes creates the diamond flow: the trigger, A and B after
// it, and C after both.
func CreateTestFlowWithNodes(overrides ...func(*models.Flow)) *models.Flow {
	trigger := models.DefaultTriggerName

	flow := CreateTestFlow(WithActions(
		CreateTestNode("C", WithDependsOn("A", "B")),
		CreateTestNode("B", WithDependsOn(trigger)),
		CreateTestNode("A", WithDependsOn(trigger)),
	))

	for _, override := range overrides {
		override(flow)
	}

	return flow
}
