// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"errors"
	"fmt"
)

// ErrBranchTerminated is reported to the process error observer when a failed
// element has no recovery path.
var ErrBranchTerminated = errors.New("branch terminated without recovery path")

type BpmnEngineError struct {
	Msg string
}

func (e *BpmnEngineError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...interface{}) error {
	return &BpmnEngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}

type ExpressionEvaluationError struct {
	Msg string
	Err error
}

func (e *ExpressionEvaluationError) Error() string {
	if e.Err != nil {
		return e.Msg + "\nerror: " + e.Err.Error()
	}
	return e.Msg
}

func (e *ExpressionEvaluationError) Unwrap() error {
	return e.Err
}

// GatewayRoutingError is the failure of a gateway to select any outgoing flow.
type GatewayRoutingError struct {
	GatewayId string
	Err       error
}

func (e *GatewayRoutingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to route gateway %s: %s", e.GatewayId, e.Err.Error())
	}
	return fmt.Sprintf("failed to route gateway %s", e.GatewayId)
}

func (e *GatewayRoutingError) Unwrap() error {
	return e.Err
}

// TaskNotFoundError is returned by CompleteTask and ErrorTask when the id does
// not name an active asynchronous task.
type TaskNotFoundError struct {
	TaskId string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("no active task with id=%s was found", e.TaskId)
}

// TaskHandlerError wraps a failure of a task handler, including a missing handler
// and a recovered panic.
type TaskHandlerError struct {
	TaskId string
	Err    error
}

func (e *TaskHandlerError) Error() string {
	return fmt.Sprintf("task handler for %s failed: %v", e.TaskId, e.Err)
}

func (e *TaskHandlerError) Unwrap() error {
	return e.Err
}

// recoveredError turns a recovered panic value into an error.
func recoveredError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("recovered from panic: %w", err)
	}
	return fmt.Errorf("recovered from panic: %v", r)
}
