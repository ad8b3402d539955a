package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dukex/anyflow/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diamondFlow() *Flow {
	f := NewFlow("diamond")
	f.Trigger.Name = "T"
	f.Actions = []*Node{
		NewAction("C", "rest", "A", "B"),
		NewAction("B", "rest", "T"),
		NewAction("A", "rest", "T"),
	}

	return f
}

func TestNewFlow(t *testing.T) {
	f := NewFlow("my flow")

	require.NoError(t, f.Validate())
	assert.Equal(t, "my flow", f.Name)
	assert.Equal(t, DefaultFlowVersion, f.Version)
	assert.Equal(t, DefaultFlowEnvironment, f.Environment)
	assert.Equal(t, DefaultTriggerName, f.Trigger.Name)
	assert.Equal(t, DefaultTriggerType, f.Trigger.Type())
	assert.Equal(t, StartHandles(), f.Trigger.Handles)
	assert.Empty(t, f.Actions)
	assert.Empty(t, f.Edges)
	assert.Empty(t, f.ID)
}

func TestFlow_Plan_Diamond(t *testing.T) {
	plan, err := diamondFlow().Plan()
	require.NoError(t, err)

	assert.Equal(t, []string{"T", "A", "B", "C"}, plan.Order)
	assert.Equal(t, [][]string{{"T"}, {"A", "B"}, {"C"}}, plan.Layers)
}

func TestFlow_Plan(t *testing.T) {
	tests := []struct {
		name  string
		flow  func() *Flow
		order []string
	}{
		{
			name:  "trigger only",
			flow:  func() *Flow { return NewFlow("x") },
			order: []string{DefaultTriggerName},
		},
		{
			name: "actions without predecessors follow the trigger",
			flow: func() *Flow {
				f := NewFlow("x")
				f.Trigger.Name = "T"
				f.Actions = []*Node{NewAction("b", "rest"), NewAction("a", "rest")}

				return f
			},
			order: []string{"T", "a", "b"},
		},
		{
			name: "edges order nodes like depends_on",
			flow: func() *Flow {
				f := NewFlow("x")
				f.Trigger.Name = "T"
				f.Actions = []*Node{NewAction("a", "rest"), NewAction("b", "rest")}
				f.Edges = []Edge{{Source: "T", Target: "b"}, {Source: "b", Target: "a"}}

				return f
			},
			order: []string{"T", "b", "a"},
		},
		{
			name: "depends_on and edges combine",
			flow: func() *Flow {
				f := NewFlow("x")
				f.Trigger.Name = "T"
				f.Actions = []*Node{NewAction("a", "rest", "T"), NewAction("b", "rest", "T"), NewAction("c", "rest", "a")}
				f.Edges = []Edge{{Source: "b", Target: "c"}, {Source: "T", Target: "a"}}

				return f
			},
			order: []string{"T", "a", "b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := tt.flow().Plan()
			require.NoError(t, err)
			assert.Equal(t, tt.order, plan.Order)
		})
	}
}

func TestFlow_Plan_IsPermutationRespectingDependencies(t *testing.T) {
	f := diamondFlow()
	f.Actions = append(f.Actions,
		NewAction("D", "rest", "C"),
		NewAction("E", "rest"),
		NewAction("F", "rest", "E", "A"),
	)
	f.Edges = []Edge{{Source: "B", Target: "F"}}

	plan, err := f.Plan()
	require.NoError(t, err)

	position := make(map[string]int, len(plan.Order))
	for i, name := range plan.Order {
		position[name] = i
	}

	require.Len(t, position, len(f.Actions)+1)
	assert.Equal(t, "T", plan.Order[0])

	for _, a := range f.Actions {
		for _, dep := range a.DependsOn() {
			assert.Less(t, position[dep], position[a.Name], "%s must follow %s", a.Name, dep)
		}
	}

	for _, e := range f.Edges {
		assert.Less(t, position[e.Source], position[e.Target])
	}

	for range 5 {
		again, err := f.Plan()
		require.NoError(t, err)
		assert.Equal(t, plan, again)
	}
}

func TestFlow_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *Flow)
		wantErr error
	}{
		{
			name:    "no trigger",
			mutate:  func(f *Flow) { f.Trigger = nil },
			wantErr: ErrTriggerCount,
		},
		{
			name: "second trigger among actions",
			mutate: func(f *Flow) {
				f.Actions = append(f.Actions, NewTrigger("other", "cron"))
			},
			wantErr: ErrTriggerCount,
		},
		{
			name:    "trigger slot holds an action",
			mutate:  func(f *Flow) { f.Trigger = NewAction("T", "rest") },
			wantErr: ErrTriggerCount,
		},
		{
			name:    "action without type",
			mutate:  func(f *Flow) { f.Actions[0].Action.ActionType = "" },
			wantErr: ErrInvalidNodeKind,
		},
		{
			name:    "duplicate names",
			mutate:  func(f *Flow) { f.Actions[1].Name = "A" },
			wantErr: ErrDuplicateNodeName,
		},
		{
			name:    "action named like the trigger",
			mutate:  func(f *Flow) { f.Actions = append(f.Actions, NewAction("T", "rest")) },
			wantErr: ErrDuplicateNodeName,
		},
		{
			name:    "dangling depends_on",
			mutate:  func(f *Flow) { f.Actions[0].Action.DependsOn = []string{"missing"} },
			wantErr: ErrDanglingReference,
		},
		{
			name:    "dangling edge",
			mutate:  func(f *Flow) { f.Edges = []Edge{{Source: "A", Target: "missing"}} },
			wantErr: ErrDanglingReference,
		},
		{
			name:    "edge into trigger",
			mutate:  func(f *Flow) { f.Edges = []Edge{{Source: "A", Target: "T"}} },
			wantErr: ErrTriggerTargeted,
		},
		{
			name: "depends_on cycle",
			mutate: func(f *Flow) {
				f.Actions = []*Node{NewAction("A", "rest", "B"), NewAction("B", "rest", "A")}
			},
			wantErr: ErrCyclicDependency,
		},
		{
			name:    "cycle through an edge",
			mutate:  func(f *Flow) { f.Edges = []Edge{{Source: "C", Target: "A"}} },
			wantErr: ErrCyclicDependency,
		},
		{
			name:    "self dependency",
			mutate:  func(f *Flow) { f.Actions[2].Action.DependsOn = []string{"A"} },
			wantErr: ErrCyclicDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := diamondFlow()
			tt.mutate(f)

			err := f.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))

			_, err = f.Plan()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFlow_Validate_ReportsOffendingReference(t *testing.T) {
	f := diamondFlow()
	f.Actions[0].Action.DependsOn = []string{"A", "ghost"}

	var refErr *ReferenceError
	require.ErrorAs(t, f.Validate(), &refErr)
	assert.Equal(t, "C", refErr.Source)
	assert.Equal(t, "ghost", refErr.Target)
	assert.Equal(t, "depends_on", refErr.Via)
}

func TestFlow_Validate_ReportsCycle(t *testing.T) {
	f := NewFlow("x")
	f.Trigger.Name = "T"
	f.Actions = []*Node{NewAction("A", "rest", "B"), NewAction("B", "rest", "A")}

	var cycleErr *graph.CycleError
	require.ErrorAs(t, f.Validate(), &cycleErr)
	assert.Equal(t, []string{"A", "B"}, cycleErr.Remaining)
	assert.Equal(t, []string{"A", "B", "A"}, cycleErr.Cycle)
}

func TestFlow_Validate_FailFastOrder(t *testing.T) {
	f := diamondFlow()
	f.Actions[1].Name = "A"
	f.Edges = []Edge{{Source: "A", Target: "missing"}}

	err := f.Validate()
	assert.ErrorIs(t, err, ErrDuplicateNodeName)
	assert.NotErrorIs(t, err, ErrDanglingReference)
}

func TestFlow_ValidateAll(t *testing.T) {
	f := diamondFlow()
	f.Actions = append(f.Actions, NewAction("A", "rest", "T"))
	f.Edges = []Edge{{Source: "A", Target: "missing"}, {Source: "C", Target: "T"}}

	err := f.ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateNodeName)
	assert.ErrorIs(t, err, ErrDanglingReference)
	assert.ErrorIs(t, err, ErrTriggerTargeted)

	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	assert.Len(t, joined.Unwrap(), 3)

	assert.NoError(t, diamondFlow().ValidateAll())
}

func TestFlow_JSONDocument(t *testing.T) {
	f := diamondFlow()
	f.ID = "flow-1"
	f.Variables = Variables{{Key: "api", Value: "https://example.com"}}
	f.Edges = []Edge{{Source: "T", Target: "A"}}

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))

	for _, key := range []string{"flowId", "flowName", "username", "userId", "version", "description", "variables", "environment", "trigger", "actions", "edges"} {
		assert.Contains(t, fields, key)
	}

	assert.JSONEq(t, `[{"api":"https://example.com"}]`, string(fields["variables"]))
	assert.JSONEq(t, `[{"source":"T","target":"A"}]`, string(fields["edges"]))

	var decoded Flow
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, f.Trigger, decoded.Trigger)
	assert.Equal(t, f.Actions, decoded.Actions)
	assert.Equal(t, f.Variables, decoded.Variables)
	assert.NoError(t, decoded.Validate())
}

func TestFlow_Clone(t *testing.T) {
	f := diamondFlow()
	c := f.Clone()

	c.Actions[0].Action.DependsOn[0] = "B"
	c.Trigger.Name = "changed"
	c.Edges = append(c.Edges, Edge{Source: "x", Target: "y"})

	assert.Equal(t, []string{"A", "B"}, f.Actions[0].DependsOn())
	assert.Equal(t, "T", f.Trigger.Name)
	assert.Empty(t, f.Edges)
}
