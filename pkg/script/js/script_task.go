package js

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pbinitiative/zenpath/pkg/bpmn"
	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpath/pkg/script"
)

var scriptFormats = []string{"", "javascript", "js", "ecmascript", "text/javascript", "application/javascript"}

// NewScriptTaskHandler runs the inline script of a script task. Variables the
// script assigns on vars are merged into the task scope, variables it deletes
// are cleared.
func NewScriptTaskHandler(rt script.JsRuntime) bpmn.TaskHandler {
	return func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables) error {
		if !slices.Contains(scriptFormats, strings.ToLower(strings.TrimSpace(task.ScriptFormat))) {
			return fmt.Errorf("script task %s: %w %q", task.Id, script.ErrUnsupportedFormat, task.ScriptFormat)
		}
		if strings.TrimSpace(task.Script) == "" {
			return nil
		}
		before := vars.Map()
		after, err := rt.RunScript(ctx, task.Script, before)
		if err != nil {
			return fmt.Errorf("script task %s: %w", task.Id, err)
		}
		for key, value := range after {
			vars.Set(key, value)
		}
		for key := range before {
			if _, ok := after[key]; !ok {
				vars.Delete(key)
			}
		}
		return nil
	}
}
