package bpmn

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pbinitiative/zenpath/internal/appcontext"
	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenpath/pkg/otel"
)

// pendingTasks tracks asynchronous tasks whose handler is on the stack.
// Resolutions requested from inside the handler are deferred until it returns.
type pendingTasks struct {
	mu       sync.Mutex
	running  map[string]int
	deferred map[string][]taskResolution
}

func newPendingTasks() *pendingTasks {
	return &pendingTasks{
		running:  map[string]int{},
		deferred: map[string][]taskResolution{},
	}
}

func (p *pendingTasks) enter(taskId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[taskId]++
}

// leave returns the resolutions deferred while the last handler of taskId was running.
func (p *pendingTasks) leave(taskId string) []taskResolution {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[taskId]--
	if p.running[taskId] > 0 {
		return nil
	}
	delete(p.running, taskId)
	deferred := p.deferred[taskId]
	delete(p.deferred, taskId)
	return deferred
}

func (p *pendingTasks) deferIfRunning(taskId string, resolution taskResolution) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[taskId] == 0 {
		return false
	}
	p.deferred[taskId] = append(p.deferred[taskId], resolution)
	return true
}

// CompleteTask resolves an active ManualTask or UserTask as succeeded, merges
// vars into its scope and continues the dispatch on the calling goroutine.
// Might return TaskNotFoundError, when no such task holds an active token.
func (bp *BusinessProcess) CompleteTask(ctx context.Context, taskId string, vars *runtime.Variables) error {
	return bp.bridgeTask(ctx, "complete", taskId, taskResolution{vars: vars})
}

// ErrorTask resolves an active ManualTask or UserTask as failed. The failure is
// reported to the task error observer and then recovered by a matching
// intermediate catch event or terminates the branch.
// Might return TaskNotFoundError, when no such task holds an active token.
func (bp *BusinessProcess) ErrorTask(ctx context.Context, taskId string, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("task %s failed", taskId)
	}
	return bp.bridgeTask(ctx, "error", taskId, taskResolution{failed: true, cause: cause})
}

func (bp *BusinessProcess) bridgeTask(ctx context.Context, operation string, taskId string, resolution taskResolution) (retErr error) {
	ctx = appcontext.WithExecutionKey(appcontext.WithInstanceKey(ctx, bp.Key()), bp.generateKey())
	ctx, span := bp.tracer.Start(ctx, fmt.Sprintf("%s:%s", operation, taskId), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, bp.Key()),
		attribute.String(otelPkg.AttributeElementId, taskId),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	task := bp.graph.Locate(taskId)
	if task == nil || !task.Type.IsAsync() {
		return &TaskNotFoundError{TaskId: taskId}
	}
	if !bp.isActive(task.Id) {
		return &TaskNotFoundError{TaskId: taskId}
	}
	if resolution.vars == nil {
		resolution.vars = runtime.NewVariablesFromMap(nil)
	}
	if bp.instance.pending.deferIfRunning(task.Id, resolution) {
		bp.logger.Debug("task resolution deferred until its handler returns", "task", task.Id, "operation", operation)
		return nil
	}
	if err := bp.resolveTask(ctx, task, resolution); err != nil {
		return err
	}
	bp.drain(ctx)
	return nil
}

func (bp *BusinessProcess) isActive(elementId string) bool {
	state := bp.instance.state
	state.Lock()
	defer state.Unlock()
	return state.Path().IsActive(elementId)
}

// ActiveTasks returns the asynchronous tasks currently waiting for a resolution.
func (bp *BusinessProcess) ActiveTasks() []*bpmn20.Element {
	state := bp.instance.state
	state.Lock()
	defer state.Unlock()
	var tasks []*bpmn20.Element
	for _, id := range state.Path().ActiveTokens() {
		if task := bp.graph.Locate(id); task != nil && task.Type.IsAsync() && !slices.Contains(tasks, task) {
			tasks = append(tasks, task)
		}
	}
	return tasks
}
