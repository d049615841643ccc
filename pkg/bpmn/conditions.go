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
	"fmt"
	"strings"

	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
)

var errMissingFlowPredicate = errors.New("no flow validity predicate registered")

// exclusivelyFilterByPredicate
// [From BPMN 2.0 Specification, chapter 10.5.2 Exclusive Gateway]
// A diverging Exclusive Gateway (Decision) is used to create alternative paths within a Process flow. For a given
// instance of the Process, only one of the paths can be taken.
// A default path can optionally be identified, to be taken in the event that none of the conditional Expressions evaluate
// to true. If a default path is not specified and the Process is executed such that none of the conditional Expressions
// evaluates to true, a runtime exception occurs.
func exclusivelyFilterByPredicate(ctx context.Context, flows []*bpmn20.Element, defaultFlow *bpmn20.Element, isFlowValid Predicate, vars *runtime.Variables) ([]*bpmn20.Element, error) {
	flowIds := strings.Builder{}
	for _, flow := range flows {
		if flow == defaultFlow {
			continue
		}
		flowIds.WriteString(fmt.Sprintf("[id='%s',name='%s']", flow.GetId(), flow.GetName()))
		valid, err := evaluateFlow(ctx, isFlowValid, flow, vars)
		if err != nil {
			return nil, err
		}
		if valid {
			return []*bpmn20.Element{flow}, nil
		}
	}
	if defaultFlow == nil {
		return nil, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("No default flow, nor matching expressions found, for flow elements: %s", flowIds.String()),
		}
	}
	return []*bpmn20.Element{defaultFlow}, nil
}

// inclusivelyFilterByPredicate
// [From BPMN 2.0 Specification, chapter 10.5.3 Inclusive Gateway]
// A diverging Inclusive Gateway (Inclusive Decision) can be used to create alternative but also parallel paths within a
// Process flow. Unlike the Exclusive Gateway, all condition Expressions are evaluated. All Sequence Flows with
// a true evaluation will be traversed by a token.
func inclusivelyFilterByPredicate(ctx context.Context, flows []*bpmn20.Element, defaultFlow *bpmn20.Element, isFlowValid Predicate, vars *runtime.Variables) ([]*bpmn20.Element, error) {
	var ret []*bpmn20.Element
	for _, flow := range flows {
		if flow == defaultFlow {
			continue
		}
		valid, err := evaluateFlow(ctx, isFlowValid, flow, vars)
		if err != nil {
			return nil, err
		}
		if valid {
			ret = append(ret, flow)
		}
	}
	if len(ret) == 0 {
		if defaultFlow == nil {
			return nil, &ExpressionEvaluationError{
				Msg: fmt.Sprintf("No default flow, nor matching expressions found for %d flow elements", len(flows)),
			}
		}
		ret = append(ret, defaultFlow)
	}
	return ret, nil
}

// evaluateFlow calls the predicate and converts both its error and a panic into
// an ExpressionEvaluationError.
func evaluateFlow(ctx context.Context, isFlowValid Predicate, flow *bpmn20.Element, vars *runtime.Variables) (valid bool, err error) {
	if isFlowValid == nil {
		return false, errMissingFlowPredicate
	}
	defer func() {
		if r := recover(); r != nil {
			valid = false
			err = &ExpressionEvaluationError{
				Msg: fmt.Sprintf("Error evaluating flow element id='%s' name='%s'", flow.GetId(), flow.GetName()),
				Err: recoveredError(r),
			}
		}
	}()
	valid, err = isFlowValid(ctx, flow, vars)
	if err != nil {
		return false, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("Error evaluating flow element id='%s' name='%s'", flow.GetId(), flow.GetName()),
			Err: err,
		}
	}
	return valid, nil
}
