package script

import (
	"context"
	"errors"
)

// ErrUnsupportedFormat is returned for scripts in a language no runtime handles.
var ErrUnsupportedFormat = errors.New("unsupported script format")

type FeelRuntime interface {
	UnaryTest(expression string, variableContext map[string]any) (bool, error)
	Evaluate(expression string, variableContext map[string]any) (any, error)
}

// JsRuntime runs a script against a variable context. The returned map holds
// the variables as the script left them.
type JsRuntime interface {
	RunScript(ctx context.Context, script string, variableContext map[string]any) (map[string]any, error)
}
