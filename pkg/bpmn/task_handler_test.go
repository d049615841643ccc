package bpmn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
)

func Test_failing_task_is_recovered_by_intermediate_catch_event(t *testing.T) {
	// setup
	cp := CallPath{}
	taskErrors := 0
	var processErr error
	bp := newTestProcess(t, "./test-cases/error-recovery.bpmn", &Delegates{
		ServiceTask: func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables) error {
			vars.Set("charged", true)
			return errors.New("card declined")
		},
		SendTask: cp.TaskHandler,
		OnTaskError: func(ctx context.Context, element *bpmn20.Element, err error) {
			taskErrors++
			assert.Equal(t, "charge", element.Id)
		},
		OnEventStarted: cp.Observer,
		OnProcessError: func(ctx context.Context, element *bpmn20.Element, err error) {
			processErr = err
		},
	})

	// when
	_, err := bp.BeginProcess(t.Context(), runtime.NewVariablesFromMap(map[string]any{"card": "4111"}))

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, taskErrors)
	assert.Equal(t, runtime.StepFailed, statusOf(bp, "charge"))
	assert.Nil(t, bp.State().Get("charge", "charged"))
	assert.Equal(t, "start,payment-failed,notify,end-failed", cp.String())
	assert.Equal(t, runtime.StepSucceeded, statusOf(bp, "end-failed"))
	assert.Empty(t, statusOf(bp, "end"))
	assert.NoError(t, processErr)
	assert.True(t, bp.Completed())

	// the catch event scope is rooted at the failed task
	assert.Equal(t, "4111", bp.State().Get("payment-failed", "card"))
}

func Test_failing_task_without_recovery_terminates_the_branch(t *testing.T) {
	// setup
	var processErr error
	var processElement *bpmn20.Element
	bp := newTestProcess(t, "./test-cases/error-recovery.bpmn", &Delegates{
		IsEventStartValid: func(ctx context.Context, element *bpmn20.Element, vars *runtime.Variables) (bool, error) {
			return element.Type != bpmn20.ElementTypeIntermediateCatchEvent, nil
		},
		ServiceTask: func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables) error {
			return errors.New("card declined")
		},
		OnProcessError: func(ctx context.Context, element *bpmn20.Element, err error) {
			processElement = element
			processErr = err
		},
	})

	// when
	_, err := bp.BeginProcess(t.Context(), nil)

	// then
	require.NoError(t, err)
	assert.ErrorIs(t, processErr, ErrBranchTerminated)
	require.NotNil(t, processElement)
	assert.Equal(t, "error-recovery", processElement.Id)
	assert.Empty(t, statusOf(bp, "payment-failed"))
	assert.Empty(t, activeTokens(bp))
}

func Test_task_handler_panic_and_missing_handler_fail_the_task(t *testing.T) {
	tests := []struct {
		name      string
		handler   TaskHandler
		wantCause error
	}{
		{
			name: "panic",
			handler: func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables) error {
				panic("handler exploded")
			},
		},
		{
			name:      "missing handler",
			wantCause: errNoTaskHandler,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// setup
			var taskErr error
			bp := newTestProcess(t, "./test-cases/simple-task.bpmn", &Delegates{
				ServiceTask: tt.handler,
				OnTaskError: func(ctx context.Context, element *bpmn20.Element, err error) {
					taskErr = err
				},
			})

			// when
			_, err := bp.BeginProcess(t.Context(), nil)

			// then
			require.NoError(t, err)
			var handlerErr *TaskHandlerError
			require.True(t, errors.As(taskErr, &handlerErr))
			assert.Equal(t, "id", handlerErr.TaskId)
			if tt.wantCause != nil {
				assert.ErrorIs(t, taskErr, tt.wantCause)
			}
			assert.Equal(t, runtime.StepFailed, statusOf(bp, "id"))
			assert.Empty(t, statusOf(bp, "EndEvent_1"))
		})
	}
}

func Test_every_synchronous_task_kind_uses_its_own_handler(t *testing.T) {
	kinds := []bpmn20.ElementType{
		bpmn20.ElementTypeBusinessRuleTask,
		bpmn20.ElementTypeReceiveTask,
		bpmn20.ElementTypeScriptTask,
		bpmn20.ElementTypeSendTask,
		bpmn20.ElementTypeServiceTask,
		bpmn20.ElementTypeTask,
	}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			// setup
			cp := CallPath{}
			handler := func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables) error {
				cp.add(string(task.Type))
				return nil
			}
			delegates := &Delegates{
				IsProcessStartValid: alwaysValid,
				IsEventStartValid:   alwaysValid,
				BusinessRuleTask:    handler,
				ReceiveTask:         handler,
				ScriptTask:          handler,
				SendTask:            handler,
				ServiceTask:         handler,
				Task:                handler,
			}
			def := &bpmn20.Element{Id: "definitions", Type: bpmn20.ElementTypeDefinition, Children: []*bpmn20.Element{
				{Id: "process", Type: bpmn20.ElementTypeProcess, Children: []*bpmn20.Element{
					{Id: "start", Type: bpmn20.ElementTypeStartEvent},
					{Id: "flow", Type: bpmn20.ElementTypeSequenceFlow, SourceRef: "start", TargetRef: "task"},
					{Id: "task", Type: kind},
				}},
			}}
			graph, err := bpmn20.NewGraph(def)
			require.NoError(t, err)
			bp, err := NewBusinessProcess(graph, WithDelegates(delegates))
			require.NoError(t, err)

			// when
			_, err = bp.BeginProcess(t.Context(), nil)

			// then
			require.NoError(t, err)
			assert.Equal(t, string(kind), cp.String())
			assert.Equal(t, runtime.StepSucceeded, statusOf(bp, "task"))
		})
	}
}
