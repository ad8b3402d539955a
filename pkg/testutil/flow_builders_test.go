package testutil

import (
	"testing"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTestFlowWithNodes(t *testing.T) {
	flow := CreateTestFlowWithNodes()

	require.NoError(t, flow.Validate())

	plan, err := flow.Plan()
	require.NoError(t, err)
	assert.Equal(t, []string{models.DefaultTriggerName, "A", "B", "C"}, plan.Order)
}

func TestBuildersCompose(t *testing.T) {
	report := CreateTestNode("D",
		WithConfig(models.Config{{Key: "code", Value: "return 1"}}),
		WithPosition(40, 80),
	)

	flow := CreateTestFlowWithNodes(
		WithFlowName("composed"),
		WithActions(report),
		WithEdges(models.Edge{Source: "C", Target: "D"}),
	)

	assert.Equal(t, "composed", flow.Name)
	require.NotNil(t, report.Presentation)
	assert.InDelta(t, 80.0, report.Presentation.Position.Y, 0)

	plan, err := flow.Plan()
	require.NoError(t, err)
	assert.Equal(t, []string{models.DefaultTriggerName, "A", "B", "C", "D"}, plan.Order)
}
