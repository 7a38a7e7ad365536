package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(_ context.Context, _ *FlowDefinition) (*StepResult, error) {
	return Succeed(""), nil
}

func TestBuildGraph(t *testing.T) {
	testCases := []struct {
		description string
		steps       []*FlowStep
		expectErr   error
	}{
		{
			description: "linear chain",
			steps: []*FlowStep{
				NewStep("a", noop),
				NewStep("b", noop).WithDependsOn("a"),
				NewStep("c", noop).WithDependsOn("b"),
			},
		},
		{
			description: "diamond",
			steps: []*FlowStep{
				NewStep("a", noop),
				NewStep("b", noop).WithDependsOn("a"),
				NewStep("c", noop).WithDependsOn("a"),
				NewStep("d", noop).WithDependsOn("b", "c"),
			},
		},
		{
			description: "duplicate name",
			steps: []*FlowStep{
				NewStep("a", noop),
				NewStep("a", noop),
			},
			expectErr: ErrInvalidGraph,
		},
		{
			description: "unknown dependency",
			steps: []*FlowStep{
				NewStep("a", noop).WithDependsOn("ghost"),
			},
			expectErr: ErrMissingDependency,
		},
		{
			description: "cycle",
			steps: []*FlowStep{
				NewStep("a", noop).WithDependsOn("b"),
				NewStep("b", noop).WithDependsOn("a"),
			},
			expectErr: ErrCyclicDependency,
		},
		{
			description: "jump to unknown step",
			steps: []*FlowStep{
				NewStep("a", noop).WithJumpTo("ghost"),
			},
			expectErr: ErrMissingDependency,
		},
		{
			description: "missing execute function",
			steps: []*FlowStep{
				{Name: "a"},
			},
			expectErr: ErrInvalidGraph,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			graph, err := BuildGraph(tc.steps)
			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, graph.Order, len(tc.steps))
		})
	}
}

func TestGraphTopologicalOrder(t *testing.T) {
	graph, err := BuildGraph([]*FlowStep{
		NewStep("d", noop).WithDependsOn("b", "c"),
		NewStep("b", noop).WithDependsOn("a"),
		NewStep("c", noop).WithDependsOn("a"),
		NewStep("a", noop),
	})
	require.NoError(t, err)

	position := map[string]int{}
	for i, node := range graph.Order {
		position[node.Step.Name] = i
	}
	assert.Less(t, position["a"], position["b"])
	assert.Less(t, position["a"], position["c"])
	assert.Less(t, position["b"], position["d"])
	assert.Less(t, position["c"], position["d"])
}

func TestGraphReady(t *testing.T) {
	graph, err := BuildGraph([]*FlowStep{
		NewStep("a", noop),
		NewStep("b", noop).WithDependsOn("a"),
		NewStep("c", noop).WithDependsOn("a").WithDataDependency("total", float64(0)),
	})
	require.NoError(t, err)

	flow := NewFlowDefinition("f1", "test", nil)

	ready, err := graph.Ready(flow)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].Name)

	flow.SetStepState("a", StepStateCompleted)
	ready, err = graph.Ready(flow)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].Name, "c waits for its data dependency")

	flow.Set("total", 12.5)
	ready, err = graph.Ready(flow)
	require.NoError(t, err)
	assert.Len(t, ready, 2)
}

func TestGraphReadyDataTypeMismatch(t *testing.T) {
	graph, err := BuildGraph([]*FlowStep{
		NewStep("a", noop).WithDataDependency("total", float64(0)),
	})
	require.NoError(t, err)

	flow := NewFlowDefinition("f1", "test", map[string]interface{}{"total": "not a number"})
	_, err = graph.Ready(flow)
	assert.ErrorIs(t, err, ErrDataTypeMismatch)
}

func TestGraphReadyFailedDependency(t *testing.T) {
	strict := NewStep("strict", noop)
	lenient := NewStep("lenient", noop).WithAllowFailure()
	graph, err := BuildGraph([]*FlowStep{
		strict,
		lenient,
		NewStep("afterStrict", noop).WithDependsOn("strict"),
		NewStep("afterLenient", noop).WithDependsOn("lenient"),
	})
	require.NoError(t, err)

	flow := NewFlowDefinition("f1", "test", nil)
	flow.SetStepState("strict", StepStateFailed)
	flow.SetStepState("lenient", StepStateFailed)

	ready, err := graph.Ready(flow)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "afterLenient", ready[0].Name)
}

func TestGraphAncestorsDescendants(t *testing.T) {
	graph, err := BuildGraph([]*FlowStep{
		NewStep("a", noop),
		NewStep("b", noop).WithDependsOn("a"),
		NewStep("c", noop).WithDependsOn("b"),
		NewStep("d", noop).WithDependsOn("c"),
		NewStep("side", noop).WithDependsOn("a"),
	})
	require.NoError(t, err)

	ancestors := graph.Ancestors("c")
	assert.Equal(t, map[string]bool{"a": true, "b": true}, ancestors)

	descendants := graph.Descendants("c")
	assert.Equal(t, map[string]bool{"d": true}, descendants)
}

func TestGraphComplete(t *testing.T) {
	graph, err := BuildGraph([]*FlowStep{
		NewStep("a", noop),
		NewStep("b", noop).WithDependsOn("a"),
	})
	require.NoError(t, err)

	flow := NewFlowDefinition("f1", "test", nil)
	assert.False(t, graph.Complete(flow))

	flow.SetStepState("a", StepStateCompleted)
	flow.SetStepState("b", StepStateSkipped)
	assert.True(t, graph.Complete(flow))
}
