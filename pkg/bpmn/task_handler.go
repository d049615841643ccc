// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"errors"

	"github.com/pbinitiative/zenpath/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
)

var errNoTaskHandler = errors.New("no task handler registered")

// processTask starts the task and hands it to the handler registered for its
// kind. Synchronous kinds are resolved as soon as the handler returns,
// asynchronous kinds stay active until one of their handles is invoked.
func (bp *BusinessProcess) processTask(ctx context.Context, task *bpmn20.Element, sourceId string) {
	bp.notifyStarted(ctx, task)
	state := bp.instance.state
	state.Lock()
	state.Path().StartTask(task, sourceId)
	vars := runtime.NewVariables(task.Id, state)
	state.Unlock()

	switch task.Type {
	case bpmn20.ElementTypeBusinessRuleTask, bpmn20.ElementTypeReceiveTask, bpmn20.ElementTypeScriptTask,
		bpmn20.ElementTypeSendTask, bpmn20.ElementTypeServiceTask, bpmn20.ElementTypeTask:
		err := callTaskHandler(task, func() error {
			handler := bp.delegates.syncHandler(task.Type)
			if handler == nil {
				return errNoTaskHandler
			}
			return handler(ctx, task, vars)
		})
		if err != nil {
			bp.notifyFailed(ctx, task, err)
			state.Lock()
			state.Path().FailTask(task)
			state.Unlock()
			return
		}
		bp.resolveTask(ctx, task, taskResolution{vars: vars})
	case bpmn20.ElementTypeManualTask, bpmn20.ElementTypeUserTask:
		bp.startAsyncTask(ctx, task, vars)
	default:
		panic("[invariant check] element " + task.Id + " of type " + string(task.Type) + " is not a task")
	}
}

func (bp *BusinessProcess) startAsyncTask(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables) {
	handleCtx := context.WithoutCancel(ctx)
	complete := func(vars *runtime.Variables) error {
		return bp.CompleteTask(handleCtx, task.Id, vars)
	}
	fail := func(cause error) error {
		return bp.ErrorTask(handleCtx, task.Id, cause)
	}

	pending := bp.instance.pending
	pending.enter(task.Id)
	err := callTaskHandler(task, func() error {
		switch task.Type {
		case bpmn20.ElementTypeManualTask:
			if bp.delegates.ManualTask == nil {
				return errNoTaskHandler
			}
			return bp.delegates.ManualTask(ctx, task, vars, complete, fail)
		case bpmn20.ElementTypeUserTask:
			if bp.delegates.UserTask == nil {
				return errNoTaskHandler
			}
			return bp.delegates.UserTask(ctx, task, bp.graph.LaneOf(task.Id), vars, complete, fail)
		}
		panic("[invariant check] element " + task.Id + " is not an asynchronous task")
	})
	deferred := pending.leave(task.Id)

	if err != nil {
		bp.resolveTask(ctx, task, taskResolution{failed: true, cause: err})
		return
	}
	if len(deferred) > 0 {
		// only the first resolution can apply, the token is gone afterwards
		bp.resolveTask(ctx, task, deferred[0])
	}
}

// callTaskHandler wraps handler failures, including panics, into TaskHandlerError.
func callTaskHandler(task *bpmn20.Element, call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskHandlerError{TaskId: task.Id, Err: recoveredError(r)}
		}
	}()
	if err := call(); err != nil {
		return &TaskHandlerError{TaskId: task.Id, Err: err}
	}
	return nil
}

type taskResolution struct {
	failed bool
	vars   *runtime.Variables
	cause  error
}

// resolveTask completes or fails an active task token. Completion merges the
// variables, succeeds the task and notifies the task completed observer within
// one lock section. A failure is reported to the task error observer while the
// task is still started, the same order synchronous tasks use; resolutions
// requested meanwhile are dropped. Returns TaskNotFoundError when the task
// holds no token.
func (bp *BusinessProcess) resolveTask(ctx context.Context, task *bpmn20.Element, resolution taskResolution) error {
	state := bp.instance.state
	state.Lock()
	if !state.Path().IsActive(task.Id) {
		state.Unlock()
		return &TaskNotFoundError{TaskId: task.Id}
	}
	if resolution.failed {
		state.Unlock()
		pending := bp.instance.pending
		pending.enter(task.Id)
		bp.notifyFailed(ctx, task, resolution.cause)
		if dropped := pending.leave(task.Id); len(dropped) > 0 {
			bp.logger.Debug("task resolutions dropped, the task failed", "task", task.Id, "count", len(dropped))
		}
		state.Lock()
		defer state.Unlock()
		if !state.Path().IsActive(task.Id) {
			return &TaskNotFoundError{TaskId: task.Id}
		}
		state.Path().FailTask(task)
		return nil
	}
	written := state.MergeVariables(task.Id, resolution.vars)
	state.Path().SucceedTask(task)
	bp.notifyTaskCompleted(ctx, task)
	state.Unlock()

	bp.logger.Debug("task completed", "task", task.Id, "variables-written", written)
	bp.exportElementEvent(ctx, task, exporter.ElementCompleted, nil)
	return nil
}
