package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
)

func loadDocument(t *testing.T, data []byte) *runtime.ProcessState {
	t.Helper()
	state := runtime.NewProcessState(nil)
	require.NoError(t, state.Load(data))
	return state
}

func TestRunOnceCompletesUserTasks(t *testing.T) {
	// when
	data, err := runOnce(t.Context(), "../../pkg/bpmn/test-cases/user-tasks-with-lanes.bpmn", map[string]string{"order": "o-3"}, true)

	// then
	require.NoError(t, err)
	state := loadDocument(t, data)
	state.Lock()
	defer state.Unlock()
	assert.Empty(t, state.Path().ActiveTokens())
	status, _ := state.Path().Status("end")
	assert.Equal(t, runtime.StepSucceeded, status)
}

func TestRunOnceWaitsForUserTasks(t *testing.T) {
	// when
	data, err := runOnce(t.Context(), "../../pkg/bpmn/test-cases/user-tasks-with-lanes.bpmn", nil, false)

	// then
	require.NoError(t, err)
	state := loadDocument(t, data)
	state.Lock()
	defer state.Unlock()
	assert.Equal(t, []string{"approve"}, state.Path().ActiveTokens())
}

func TestRunOnceParsesVariablesAsYaml(t *testing.T) {
	// when
	data, err := runOnce(t.Context(), "../../pkg/bpmn/test-cases/script-task.bpmn", map[string]string{"price": "2", "amount": "3"}, true)

	// then
	require.NoError(t, err)
	state := loadDocument(t, data)
	state.Lock()
	defer state.Unlock()
	status, _ := state.Path().Status("end-cheap")
	assert.Equal(t, runtime.StepSucceeded, status)
}

func TestReadVariablesFile(t *testing.T) {
	// setup
	fileName := filepath.Join(t.TempDir(), "vars.yaml")
	require.NoError(t, os.WriteFile(fileName, []byte("price: 12\ncustomer:\n  name: Ada\n"), 0o600))

	// when
	raw, err := readVariablesFile(fileName)
	require.NoError(t, err)
	vars, err := parseVariables(raw)

	// then
	require.NoError(t, err)
	assert.Equal(t, 12, vars["price"])
	assert.Equal(t, map[string]any{"name": "Ada"}, vars["customer"])
}
