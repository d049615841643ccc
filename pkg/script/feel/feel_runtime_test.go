package feel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
)

func TestUnaryTest(t *testing.T) {
	tests := []struct {
		expression string
		variables  map[string]any
		want       bool
		wantErr    bool
	}{
		{expression: "= true", want: true},
		{expression: "false", want: false},
		{expression: "= approved", variables: map[string]any{"approved": true}, want: true},
		{expression: `= status = "open"`, variables: map[string]any{"status": "open"}, want: true},
		{expression: `= status = "open"`, variables: map[string]any{"status": "closed"}, want: false},
		{expression: `= "text"`, wantErr: true},
	}
	rt := NewFeelRuntime()
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			// when
			got, err := rt.UnaryTest(tt.expression, tt.variables)

			// then
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlowPredicate(t *testing.T) {
	// setup
	predicate := NewFlowPredicate(NewFeelRuntime())
	vars := runtime.NewVariablesFromMap(map[string]any{"approved": false})

	// when
	unconditional, err := predicate(t.Context(), &bpmn20.Element{Id: "f1", Type: bpmn20.ElementTypeSequenceFlow}, vars)

	// then
	require.NoError(t, err)
	assert.True(t, unconditional)

	// when
	conditional, err := predicate(t.Context(), &bpmn20.Element{Id: "f2", Type: bpmn20.ElementTypeSequenceFlow, Condition: "= approved"}, vars)

	// then
	require.NoError(t, err)
	assert.False(t, conditional)
}

func TestEventPredicate(t *testing.T) {
	// setup
	predicate := NewEventPredicate(NewFeelRuntime())
	tests := []struct {
		name      string
		condition string
		variables map[string]any
		want      bool
	}{
		{name: "without condition", want: true},
		{name: "condition holds", condition: "= retries < 3", variables: map[string]any{"retries": 1}, want: true},
		{name: "condition fails", condition: "= retries < 3", variables: map[string]any{"retries": 3}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// given
			event := &bpmn20.Element{Id: "retry", Type: bpmn20.ElementTypeIntermediateCatchEvent, Condition: tt.condition}

			// when
			valid, err := predicate(t.Context(), event, runtime.NewVariablesFromMap(tt.variables))

			// then
			require.NoError(t, err)
			assert.Equal(t, tt.want, valid)
		})
	}
}
