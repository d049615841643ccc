// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"

	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
)

// Predicate decides whether a process, event or sequence flow may be taken.
// An error or a panic is treated as "not valid".
type Predicate func(ctx context.Context, element *bpmn20.Element, vars *runtime.Variables) (bool, error)

// TaskHandler executes a synchronous task. Changes made to vars are merged into
// the task scope when the handler returns nil.
type TaskHandler func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables) error

// CompleteFunc resolves an asynchronous task as succeeded and merges vars into
// its scope. A nil vars merges nothing.
type CompleteFunc func(vars *runtime.Variables) error

// ErrorFunc resolves an asynchronous task as failed.
type ErrorFunc func(cause error) error

// ManualTaskHandler starts a manual task. The task stays active until one of
// the handles is invoked, possibly long after the handler returned.
type ManualTaskHandler func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables, complete CompleteFunc, fail ErrorFunc) error

// UserTaskHandler starts a user task. lane is the lane referencing the task or nil.
type UserTaskHandler func(ctx context.Context, task *bpmn20.Element, lane *bpmn20.Element, vars *runtime.Variables, complete CompleteFunc, fail ErrorFunc) error

// Observer is notified about element transitions.
type Observer func(ctx context.Context, element *bpmn20.Element)

// ErrorObserver is notified about element failures.
type ErrorObserver func(ctx context.Context, element *bpmn20.Element, err error)

// Delegates is the extension surface of a BusinessProcess. Everything is
// optional except IsProcessStartValid and IsEventStartValid which BeginProcess
// requires.
//
// IsFlowValid and OnTaskCompleted run while the process state is locked and
// must not call back into the BusinessProcess. Handles passed to asynchronous
// handlers may be invoked from anywhere, including from inside the handler.
type Delegates struct {
	IsProcessStartValid Predicate
	IsEventStartValid   Predicate
	IsFlowValid         Predicate

	BusinessRuleTask TaskHandler
	ReceiveTask      TaskHandler
	ScriptTask       TaskHandler
	SendTask         TaskHandler
	ServiceTask      TaskHandler
	Task             TaskHandler
	ManualTask       ManualTaskHandler
	UserTask         UserTaskHandler

	OnEventStarted   Observer
	OnEventCompleted Observer
	OnEventError     ErrorObserver

	OnTaskStarted   Observer
	OnTaskCompleted Observer
	OnTaskError     ErrorObserver

	OnGatewayStarted   Observer
	OnGatewayCompleted Observer
	OnGatewayError     ErrorObserver

	OnProcessStarted   Observer
	OnProcessCompleted Observer
	OnProcessError     ErrorObserver

	OnSequenceFlowCompleted Observer
}

// syncHandler returns the handler registered for a synchronous task kind.
func (d *Delegates) syncHandler(t bpmn20.ElementType) TaskHandler {
	switch t {
	case bpmn20.ElementTypeBusinessRuleTask:
		return d.BusinessRuleTask
	case bpmn20.ElementTypeReceiveTask:
		return d.ReceiveTask
	case bpmn20.ElementTypeScriptTask:
		return d.ScriptTask
	case bpmn20.ElementTypeSendTask:
		return d.SendTask
	case bpmn20.ElementTypeServiceTask:
		return d.ServiceTask
	case bpmn20.ElementTypeTask:
		return d.Task
	}
	panic("[invariant check] no synchronous handler slot for element type " + string(t))
}

func (d *Delegates) started(category bpmn20.ElementCategory) Observer {
	switch category {
	case bpmn20.CategoryEvent:
		return d.OnEventStarted
	case bpmn20.CategoryTask:
		return d.OnTaskStarted
	case bpmn20.CategoryGateway:
		return d.OnGatewayStarted
	case bpmn20.CategoryContainer:
		return d.OnProcessStarted
	case bpmn20.CategorySequenceFlow:
		return nil
	}
	panic("[invariant check] unknown element category")
}

func (d *Delegates) completed(category bpmn20.ElementCategory) Observer {
	switch category {
	case bpmn20.CategoryEvent:
		return d.OnEventCompleted
	case bpmn20.CategoryTask:
		return d.OnTaskCompleted
	case bpmn20.CategoryGateway:
		return d.OnGatewayCompleted
	case bpmn20.CategoryContainer:
		return d.OnProcessCompleted
	case bpmn20.CategorySequenceFlow:
		return d.OnSequenceFlowCompleted
	}
	panic("[invariant check] unknown element category")
}

func (d *Delegates) failed(category bpmn20.ElementCategory) ErrorObserver {
	switch category {
	case bpmn20.CategoryEvent:
		return d.OnEventError
	case bpmn20.CategoryTask:
		return d.OnTaskError
	case bpmn20.CategoryGateway:
		return d.OnGatewayError
	case bpmn20.CategoryContainer:
		return d.OnProcessError
	case bpmn20.CategorySequenceFlow:
		return nil
	}
	panic("[invariant check] unknown element category")
}
