package runtime

import (
	"testing"

	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simpleGraph is start -> f1 -> task -> f2 -> end within process p of definition d.
func simpleGraph(t *testing.T) *bpmn20.Graph {
	t.Helper()
	def := &bpmn20.Element{Id: "d", Type: bpmn20.ElementTypeDefinition, Children: []*bpmn20.Element{
		{Id: "p", Type: bpmn20.ElementTypeProcess, Children: []*bpmn20.Element{
			{Id: "start", Type: bpmn20.ElementTypeStartEvent},
			{Id: "f1", Type: bpmn20.ElementTypeSequenceFlow, SourceRef: "start", TargetRef: "task"},
			{Id: "task", Type: bpmn20.ElementTypeTask},
			{Id: "f2", Type: bpmn20.ElementTypeSequenceFlow, SourceRef: "task", TargetRef: "end"},
			{Id: "end", Type: bpmn20.ElementTypeEndEvent},
		}},
	}}
	g, err := bpmn20.NewGraph(def)
	require.NoError(t, err)
	return g
}

func runToTask(g *bpmn20.Graph, s *ProcessState) {
	s.Path().StartEvent(g.Locate("start"), "")
	s.Set("start", "input", 1)
	s.Path().SucceedEvent(g.Locate("start"))
	s.Path().ProcessSequenceFlow(g.Locate("f1"))
	s.Path().StartTask(g.Locate("task"), "f1")
	s.Path().TakeSignals()
}

func Test_process_level_variable_is_visible_to_task_until_shadowed(t *testing.T) {
	// setup
	g := simpleGraph(t)
	s := NewProcessState(g)

	// given
	s.Set("p", "owner", "alice")

	// then
	assert.Equal(t, "alice", s.Get("task", "owner"))

	// when
	s.Set("task", "owner", "bob")

	// then
	assert.Equal(t, "bob", s.Get("task", "owner"))
	assert.Equal(t, "alice", s.Get("p", "owner"))
}

func Test_scope_chain_follows_activation_then_structure(t *testing.T) {
	// setup
	g := simpleGraph(t)
	s := NewProcessState(g)

	// when
	runToTask(g, s)

	// then
	assert.Equal(t, []string{"task", "f1", "start", "p", "d", GlobalScope}, s.ScopeChain("task"))
	assert.Equal(t, 1, s.Get("task", "input"))
	assert.Nil(t, s.Get("end", "input"))
}

func Test_global_scope_is_visible_everywhere(t *testing.T) {
	s := NewProcessState(simpleGraph(t))
	s.Set(GlobalScope, "tenant", "acme")

	assert.Equal(t, "acme", s.Get("task", "tenant"))
	assert.Equal(t, "acme", s.Get("unknown", "tenant"))
	assert.Equal(t, []string{"tenant"}, s.Keys("end"))
}

func Test_unknown_variable_is_nil(t *testing.T) {
	s := NewProcessState(nil)
	assert.Nil(t, s.Get("task", "missing"))
	assert.Empty(t, s.Keys("task"))
}

func Test_set_of_equal_value_is_not_recorded(t *testing.T) {
	// setup
	s := NewProcessState(simpleGraph(t))

	// when
	first := s.Set("task", "items", []string{"a", "b"})
	second := s.Set("task", "items", []string{"a", "b"})
	third := s.Set("task", "items", []string{"a"})

	// then
	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, third)
	assert.Len(t, s.VariableHistory(), 2)
}

func Test_cleared_value_shadows_inherited_one(t *testing.T) {
	// setup
	g := simpleGraph(t)
	s := NewProcessState(g)
	s.Set("p", "secret", "x")

	// when
	s.Set("task", "secret", nil)

	// then
	assert.Nil(t, s.Get("task", "secret"))
	assert.NotContains(t, s.Keys("task"), "secret")
	assert.Contains(t, s.Keys("end"), "secret")
	assert.Equal(t, []string{"secret"}, s.AllKeys())
	assert.Nil(t, s.Latest("secret"))
}

func Test_merge_is_idempotent(t *testing.T) {
	// setup
	g := simpleGraph(t)
	s := NewProcessState(g)
	runToTask(g, s)
	vars := NewVariables("task", s)
	vars.Set("result", map[string]any{"score": 10})
	vars.Set("input", 2)

	// when
	firstWritten := s.MergeVariables("task", vars)
	historyLen := len(s.VariableHistory())
	secondWritten := s.MergeVariables("task", vars)

	// then
	assert.Equal(t, 2, firstWritten)
	assert.Equal(t, 0, secondWritten)
	assert.Len(t, s.VariableHistory(), historyLen)
	assert.Equal(t, 2, s.Get("task", "input"))
	assert.Equal(t, 1, s.Get("start", "input"))
}

func Test_merge_clears_removed_values(t *testing.T) {
	// setup
	g := simpleGraph(t)
	s := NewProcessState(g)
	runToTask(g, s)
	vars := NewVariables("task", s)

	// when
	vars.Delete("input")
	written := s.MergeVariables("task", vars)

	// then
	assert.Equal(t, 1, written)
	assert.Nil(t, s.Get("task", "input"))
	assert.Empty(t, s.Keys("task"))
}

type opaque struct {
	hidden int
}

func Test_merge_overwrites_values_which_cannot_be_compared(t *testing.T) {
	// setup
	s := NewProcessState(nil)
	s.Set("task", "v", opaque{hidden: 1})
	vars := NewVariablesFromMap(map[string]any{"v": opaque{hidden: 1}})

	// when
	written := s.MergeVariables("task", vars)

	// then
	assert.Equal(t, 1, written)
}

func Test_variables_snapshot_does_not_write_state(t *testing.T) {
	// setup
	g := simpleGraph(t)
	s := NewProcessState(g)
	runToTask(g, s)

	// when
	vars := NewVariables("task", s)
	vars.Set("input", 99)

	// then
	assert.Equal(t, "task", vars.ElementId())
	assert.Equal(t, 1, s.Get("task", "input"))
	assert.Equal(t, map[string]any{"input": 99}, vars.Map())
}

func Test_animation_limits_visible_variables(t *testing.T) {
	// setup
	g := simpleGraph(t)
	s := NewProcessState(g)
	runToTask(g, s)
	s.Set("task", "late", true)

	// when
	s.Path().StartAnimation()

	// then
	assert.Equal(t, 1, s.Get("start", "input"))
	assert.Nil(t, s.Get("task", "late"))
	assert.Equal(t, []string{"input"}, s.AllKeys())

	for s.Path().HasNext() {
		s.Path().MoveToNextStep()
	}
	assert.Equal(t, true, s.Get("task", "late"))
	s.Path().FinishAnimation()
	assert.Equal(t, []string{"input", "late"}, s.AllKeys())
}
