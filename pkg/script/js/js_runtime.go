package js

import (
	"context"
	"fmt"
	"maps"

	"github.com/dop251/goja"

	"github.com/pbinitiative/zenpath/pkg/script"
)

// VariablesName is the global through which scripts read and write process variables.
const VariablesName = "vars"

type JsRunnerFactory struct {
}

func (JsRunnerFactory) NewRunner() script.Runner {
	return newJsRunner()
}

type JsRuntime struct {
	pool *script.RunnerPool
}

var _ script.JsRuntime = (*JsRuntime)(nil)

func NewJsRuntime(ctx context.Context, maxVmPoolSize int, minVmPoolSize int) (*JsRuntime, error) {
	pool, err := script.NewRunnerPool(ctx, JsRunnerFactory{}, maxVmPoolSize, minVmPoolSize)
	if err != nil {
		return nil, err
	}
	return &JsRuntime{pool: pool}, nil
}

// RunScript runs script with a copy of variableContext bound to the vars
// global and returns that copy as the script left it. Cancelling ctx
// interrupts the script.
func (r *JsRuntime) RunScript(ctx context.Context, script string, variableContext map[string]any) (map[string]any, error) {
	var runner = r.pool.GetRunnerFromPool()
	defer r.pool.ReturnRunnerToPool(runner)

	return runner.(*JsRunner).runScript(ctx, script, variableContext)
}

type JsRunner struct {
	vm *goja.Runtime
}

func (r *JsRunner) Runner() {}

func newJsRunner() *JsRunner {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	return &JsRunner{vm: vm}
}

func (r *JsRunner) runScript(ctx context.Context, script string, variableContext map[string]any) (map[string]any, error) {
	variables := maps.Clone(variableContext)
	if variables == nil {
		variables = map[string]any{}
	}
	if err := r.vm.Set(VariablesName, variables); err != nil {
		return nil, fmt.Errorf("failed to bind script variables: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		r.vm.Interrupt(ctx.Err())
	})
	defer func() {
		stop()
		r.vm.ClearInterrupt()
		// runners are reused, nothing may leak into the next script
		_ = r.vm.GlobalObject().Delete(VariablesName)
	}()

	if _, err := r.vm.RunString(script); err != nil {
		return nil, fmt.Errorf("error running script \"%s\" : %w", script, err)
	}
	return variables, nil
}
