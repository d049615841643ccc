package engine

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/pbinitiative/zenpath/pkg/bpmn"
	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpath/pkg/script"
	"github.com/pbinitiative/zenpath/pkg/script/feel"
	"github.com/pbinitiative/zenpath/pkg/script/js"
	"github.com/pbinitiative/zenpath/pkg/storage"
)

func always(ctx context.Context, element *bpmn20.Element, vars *runtime.Variables) (bool, error) {
	return true, nil
}

// NewDefaultDelegates routes sequence flows and conditional events by their
// FEEL condition, runs script tasks with goja and completes every other
// synchronous task without side effects. Manual and user tasks wait for CompleteTask or ErrorTask.
func NewDefaultDelegates(logger hclog.Logger, feelRuntime script.FeelRuntime, jsRuntime script.JsRuntime) DelegatesFactory {
	return func(definition storage.DefinitionRecord) *bpmn.Delegates {
		log := logger.With("definitionKey", definition.Key)
		passThrough := func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables) error {
			log.Debug("task passed through", "task", task.Id, "type", task.Type)
			return nil
		}
		return &bpmn.Delegates{
			IsProcessStartValid: always,
			IsEventStartValid:   feel.NewEventPredicate(feelRuntime),
			IsFlowValid:         feel.NewFlowPredicate(feelRuntime),

			BusinessRuleTask: passThrough,
			ReceiveTask:      passThrough,
			ScriptTask:       js.NewScriptTaskHandler(jsRuntime),
			SendTask:         passThrough,
			ServiceTask:      passThrough,
			Task:             passThrough,
			ManualTask: func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables, complete bpmn.CompleteFunc, fail bpmn.ErrorFunc) error {
				log.Info("manual task waiting for completion", "task", task.Id)
				return nil
			},
			UserTask: func(ctx context.Context, task *bpmn20.Element, lane *bpmn20.Element, vars *runtime.Variables, complete bpmn.CompleteFunc, fail bpmn.ErrorFunc) error {
				if lane != nil {
					log.Info("user task waiting for completion", "task", task.Id, "lane", lane.Name)
				} else {
					log.Info("user task waiting for completion", "task", task.Id)
				}
				return nil
			},

			OnTaskError: func(ctx context.Context, element *bpmn20.Element, err error) {
				log.Warn("task failed", "task", element.Id, "error", err)
			},
			OnGatewayError: func(ctx context.Context, element *bpmn20.Element, err error) {
				log.Warn("gateway failed", "gateway", element.Id, "error", err)
			},
			OnProcessError: func(ctx context.Context, element *bpmn20.Element, err error) {
				log.Error("process branch terminated", "element", element.GetId(), "error", err)
			},
		}
	}
}
