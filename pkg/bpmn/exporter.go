package bpmn

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pbinitiative/zenpath/internal/appcontext"
	"github.com/pbinitiative/zenpath/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
)

// AddEventExporter registers an EventExporter instance
func (bp *BusinessProcess) AddEventExporter(exporter exporter.EventExporter) {
	bp.exporters = append(bp.exporters, exporter)
}

func (bp *BusinessProcess) processInstanceEvent(process *bpmn20.Element, intent exporter.Intent) *exporter.ProcessInstanceEvent {
	event := exporter.ProcessInstanceEvent{
		ProcessInstanceKey: bp.Key(),
		Intent:             string(intent),
	}
	if process != nil {
		event.ProcessId = process.Id
	}
	return &event
}

func (bp *BusinessProcess) exportElementEvent(ctx context.Context, element *bpmn20.Element, intent exporter.Intent, err error) {
	bp.logger.Debug("element transition", append([]interface{}{"element", element.Id, "type", element.Type, "intent", intent}, appcontext.LogArgs(ctx)...)...)
	if len(bp.exporters) == 0 {
		return
	}
	event := bp.processInstanceEvent(bp.graph.ProcessOf(element.Id), exporter.Created)
	info := exporter.ElementInfo{
		BpmnElementType: string(element.Type),
		ElementId:       element.Id,
		Intent:          string(intent),
	}
	if err != nil {
		info.Error = err.Error()
	}
	for _, exp := range bp.exporters {
		exp.NewElementEvent(event, &info)
	}
}

func elementAttributes(element *bpmn20.Element) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("type", string(element.Type)))
}

func (bp *BusinessProcess) notifyStarted(ctx context.Context, element *bpmn20.Element) {
	if element.Type.IsTask() {
		bp.metrics.TasksStarted.Add(ctx, 1, elementAttributes(element))
	}
	bp.exportElementEvent(ctx, element, exporter.ElementActivated, nil)
	if observer := bp.delegates.started(element.Type.Category()); observer != nil {
		observer(ctx, element)
	}
}

func (bp *BusinessProcess) notifyCompleted(ctx context.Context, element *bpmn20.Element) {
	intent := exporter.ElementCompleted
	if element.Type == bpmn20.ElementTypeSequenceFlow {
		intent = exporter.SequenceFlowTaken
		bp.metrics.FlowsTaken.Add(ctx, 1)
	}
	bp.exportElementEvent(ctx, element, intent, nil)
	if observer := bp.delegates.completed(element.Type.Category()); observer != nil {
		observer(ctx, element)
	}
}

// notifyTaskCompleted runs under the state lock, right after the merge.
func (bp *BusinessProcess) notifyTaskCompleted(ctx context.Context, task *bpmn20.Element) {
	bp.metrics.TasksCompleted.Add(ctx, 1, elementAttributes(task))
	if bp.delegates.OnTaskCompleted != nil {
		bp.delegates.OnTaskCompleted(ctx, task)
	}
}

func (bp *BusinessProcess) notifyFailed(ctx context.Context, element *bpmn20.Element, err error) {
	switch {
	case element.Type.IsTask():
		bp.metrics.TasksFailed.Add(ctx, 1, elementAttributes(element))
	case element.Type.IsGateway():
		bp.metrics.GatewaysFailed.Add(ctx, 1, elementAttributes(element))
	}
	bp.exportElementEvent(ctx, element, exporter.ElementFailed, err)
	if observer := bp.delegates.failed(element.Type.Category()); observer != nil {
		observer(ctx, element, err)
	}
}

func (bp *BusinessProcess) processStarted(ctx context.Context, process *bpmn20.Element) {
	bp.metrics.ProcessesStarted.Add(ctx, 1)
	bp.metrics.ProcessesRunning.Add(ctx, 1)
	event := bp.processInstanceEvent(process, exporter.Created)
	for _, exp := range bp.exporters {
		exp.NewProcessInstanceEvent(event)
	}
	if bp.delegates.OnProcessStarted != nil {
		bp.delegates.OnProcessStarted(ctx, process)
	}
}

func (bp *BusinessProcess) processCompleted(ctx context.Context, process *bpmn20.Element) {
	bp.logger.Debug("process completed", append([]interface{}{"key", bp.Key()}, appcontext.LogArgs(ctx)...)...)
	bp.metrics.ProcessesEnded.Add(ctx, 1)
	bp.metrics.ProcessesRunning.Add(ctx, -1)
	event := bp.processInstanceEvent(process, exporter.Completed)
	for _, exp := range bp.exporters {
		exp.EndProcessEvent(event)
	}
	if bp.delegates.OnProcessCompleted != nil && process != nil {
		bp.delegates.OnProcessCompleted(ctx, process)
	}
}

// branchTerminated reports an element failure which ends its branch.
func (bp *BusinessProcess) branchTerminated(ctx context.Context, element *bpmn20.Element) {
	process := bp.graph.ProcessOf(element.Id)
	bp.logger.Debug("branch terminated", append([]interface{}{"element", element.Id}, appcontext.LogArgs(ctx)...)...)
	bp.metrics.ProcessesFailed.Add(ctx, 1)
	for _, exp := range bp.exporters {
		exp.NewProcessInstanceEvent(bp.processInstanceEvent(process, exporter.Failed))
	}
	if bp.delegates.OnProcessError != nil && process != nil {
		bp.delegates.OnProcessError(ctx, process, &branchError{elementId: element.Id})
	}
}

type branchError struct {
	elementId string
}

func (e *branchError) Error() string {
	return "element " + e.elementId + ": " + ErrBranchTerminated.Error()
}

func (e *branchError) Unwrap() error {
	return ErrBranchTerminated
}
