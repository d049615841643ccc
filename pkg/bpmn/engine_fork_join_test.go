package bpmn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
)

func TestForkControlledParallelJoin(t *testing.T) {
	// setup
	cp := CallPath{}
	joinStarted := 0
	bp := newTestProcess(t, "./test-cases/fork-parallel-join.bpmn", &Delegates{
		ServiceTask: cp.TaskHandler,
		OnGatewayStarted: func(ctx context.Context, element *bpmn20.Element) {
			if element.Id == "join" {
				joinStarted++
			}
		},
	})

	// when
	_, err := bp.BeginProcess(t.Context(), nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, "id-a-1,id-a-2,id-a-3,id-b-1", cp.String())
	assert.Equal(t, 1, joinStarted)
	assert.Empty(t, activeTokens(bp))

	bp.State().Lock()
	defer bp.State().Unlock()
	assert.Empty(t, bp.State().Path().Arrivals("join"))
}

func TestParallelJoinWaitsForAsynchronousBranches(t *testing.T) {
	// setup
	cp := CallPath{}
	graph := parallelUserTaskGraph(t)
	bp, err := NewBusinessProcess(graph, WithDelegates(&Delegates{
		IsProcessStartValid: alwaysValid,
		IsEventStartValid:   alwaysValid,
		UserTask: func(ctx context.Context, task *bpmn20.Element, lane *bpmn20.Element, vars *runtime.Variables, complete CompleteFunc, fail ErrorFunc) error {
			return nil
		},
		ServiceTask: cp.TaskHandler,
	}))
	require.NoError(t, err)
	_, err = bp.BeginProcess(t.Context(), nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"left", "right"}, activeTokens(bp))

	// when
	err = bp.CompleteTask(t.Context(), "left", nil)

	// then
	require.NoError(t, err)
	assert.Empty(t, cp.String())
	assert.ElementsMatch(t, []string{"right", "join"}, activeTokens(bp))
	assert.Equal(t, runtime.StepStarted, statusOf(bp, "join"))

	// when
	err = bp.CompleteTask(t.Context(), "right", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, "after", cp.String())
	assert.Empty(t, activeTokens(bp))
	assert.True(t, bp.Completed())
}

// parallelUserTaskGraph is start -> fork -> (left, right) -> join -> after.
func parallelUserTaskGraph(t *testing.T) *bpmn20.Graph {
	t.Helper()
	def := &bpmn20.Element{Id: "definitions", Type: bpmn20.ElementTypeDefinition, Children: []*bpmn20.Element{
		{Id: "process", Type: bpmn20.ElementTypeProcess, Children: []*bpmn20.Element{
			{Id: "start", Type: bpmn20.ElementTypeStartEvent},
			{Id: "f-start", Type: bpmn20.ElementTypeSequenceFlow, SourceRef: "start", TargetRef: "fork"},
			{Id: "fork", Type: bpmn20.ElementTypeParallelGateway},
			{Id: "f-left", Type: bpmn20.ElementTypeSequenceFlow, SourceRef: "fork", TargetRef: "left"},
			{Id: "f-right", Type: bpmn20.ElementTypeSequenceFlow, SourceRef: "fork", TargetRef: "right"},
			{Id: "left", Type: bpmn20.ElementTypeUserTask},
			{Id: "right", Type: bpmn20.ElementTypeUserTask},
			{Id: "j-left", Type: bpmn20.ElementTypeSequenceFlow, SourceRef: "left", TargetRef: "join"},
			{Id: "j-right", Type: bpmn20.ElementTypeSequenceFlow, SourceRef: "right", TargetRef: "join"},
			{Id: "join", Type: bpmn20.ElementTypeParallelGateway},
			{Id: "f-after", Type: bpmn20.ElementTypeSequenceFlow, SourceRef: "join", TargetRef: "after"},
			{Id: "after", Type: bpmn20.ElementTypeServiceTask},
		}},
	}}
	graph, err := bpmn20.NewGraph(def)
	require.NoError(t, err)
	return graph
}

func TestParallelJoinSeesOutputsOfEveryBranch(t *testing.T) {
	tests := []struct {
		name  string
		order []string
	}{
		{name: "left first", order: []string{"left", "right"}},
		{name: "right first", order: []string{"right", "left"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// setup
			var seen map[string]any
			bp, err := NewBusinessProcess(parallelUserTaskGraph(t), WithDelegates(&Delegates{
				IsProcessStartValid: alwaysValid,
				IsEventStartValid:   alwaysValid,
				UserTask: func(ctx context.Context, task *bpmn20.Element, lane *bpmn20.Element, vars *runtime.Variables, complete CompleteFunc, fail ErrorFunc) error {
					return nil
				},
				ServiceTask: func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables) error {
					seen = vars.Map()
					return nil
				},
			}))
			require.NoError(t, err)
			_, err = bp.BeginProcess(t.Context(), runtime.NewVariablesFromMap(map[string]any{"shared": "start"}))
			require.NoError(t, err)

			// when
			for _, taskId := range tt.order {
				err = bp.CompleteTask(t.Context(), taskId, runtime.NewVariablesFromMap(map[string]any{
					taskId + "Result": taskId,
					"shared":          taskId,
				}))
				require.NoError(t, err)
			}

			// then
			assert.Equal(t, map[string]any{
				"leftResult":  "left",
				"rightResult": "right",
				"shared":      "left",
			}, seen)
		})
	}
}

func TestParallelJoinKeepsRepeatedFlowForNextRun(t *testing.T) {
	// setup
	graph := parallelUserTaskGraph(t)
	bp, err := NewBusinessProcess(graph, WithDelegates(&Delegates{
		IsProcessStartValid: alwaysValid,
		IsEventStartValid:   alwaysValid,
		ServiceTask:         func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables) error { return nil },
	}))
	require.NoError(t, err)
	join := graph.Locate("join")

	// when
	bp.processGateway(t.Context(), join, "j-left")
	bp.processGateway(t.Context(), join, "j-left")

	// then
	state := bp.State()
	state.Lock()
	assert.Equal(t, []string{"j-left", "j-left"}, state.Path().Arrivals("join"))
	history := state.Path().History()
	require.Len(t, history, 2)
	assert.Equal(t, runtime.StepStarted, history[0].Status)
	assert.Equal(t, runtime.StepJoined, history[1].Status)
	assert.Equal(t, "j-left", history[1].SourceId)
	state.Unlock()

	// when
	bp.processGateway(t.Context(), join, "j-right")

	// then
	state.Lock()
	defer state.Unlock()
	assert.Equal(t, []string{"j-left"}, state.Path().Arrivals("join"))
	status, _ := state.Path().Status("join")
	assert.Equal(t, runtime.StepSucceeded, status)
	assert.Equal(t, []string{"j-left", "j-right"}, state.Path().ActivatedBy("join"))
}
