package feel

import (
	"context"
	"fmt"
	"strings"

	"github.com/pbinitiative/feel"

	"github.com/pbinitiative/zenpath/pkg/bpmn"
	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpath/pkg/script"
)

type FeelRuntime struct {
}

var _ script.FeelRuntime = (*FeelRuntime)(nil)

func NewFeelRuntime() *FeelRuntime {
	return &FeelRuntime{}
}

// Evaluate evaluates a FEEL expression. A leading "=" marks an expression in
// BPMN attributes and is ignored.
func (r *FeelRuntime) Evaluate(expression string, variableContext map[string]any) (any, error) {
	expression = strings.TrimPrefix(strings.TrimSpace(expression), "=")
	if variableContext == nil {
		variableContext = map[string]any{}
	}
	result, err := feel.EvalStringWithScope(expression, variableContext)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

// UnaryTest evaluates expression and requires a boolean result.
func (r *FeelRuntime) UnaryTest(expression string, variableContext map[string]any) (bool, error) {
	result, err := r.Evaluate(expression, variableContext)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %T, expected a boolean", expression, result)
	}
	return b, nil
}

// NewFlowPredicate validates sequence flows by their condition expression.
// A flow without a condition is always valid.
func NewFlowPredicate(rt script.FeelRuntime) bpmn.Predicate {
	return conditionPredicate(rt)
}

// NewEventPredicate validates events by the condition of their conditional
// event definition. An intermediate catch event with a condition only
// recovers failures for which the condition holds in the scope of the failed
// element. Events without a condition are always valid.
func NewEventPredicate(rt script.FeelRuntime) bpmn.Predicate {
	return conditionPredicate(rt)
}

func conditionPredicate(rt script.FeelRuntime) bpmn.Predicate {
	return func(ctx context.Context, element *bpmn20.Element, vars *runtime.Variables) (bool, error) {
		if !element.HasCondition() {
			return true, nil
		}
		return rt.UnaryTest(element.Condition, vars.Map())
	}
}
