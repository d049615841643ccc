package appcontext

import (
	"context"
)

type EXECUTION_CONTEXT string

var (
	ExecutionKey EXECUTION_CONTEXT = "executionKey"
	InstanceKey  EXECUTION_CONTEXT = "instanceKey"
)

// WithExecutionKey tags one dispatch run so log lines and spans of the run can be correlated.
func WithExecutionKey(ctx context.Context, key int64) context.Context {
	return context.WithValue(ctx, ExecutionKey, key)
}

func ExecutionKeyFromContext(ctx context.Context) (int64, bool) {
	executionContextKey, ok := ctx.Value(ExecutionKey).(int64)
	return executionContextKey, ok
}

func WithInstanceKey(ctx context.Context, key int64) context.Context {
	return context.WithValue(ctx, InstanceKey, key)
}

func InstanceKeyFromContext(ctx context.Context) (int64, bool) {
	instanceKey, ok := ctx.Value(InstanceKey).(int64)
	return instanceKey, ok
}

// LogArgs returns the keys present in ctx as hclog key/value pairs.
func LogArgs(ctx context.Context) []interface{} {
	var args []interface{}
	if key, ok := InstanceKeyFromContext(ctx); ok {
		args = append(args, "instance-key", key)
	}
	if key, ok := ExecutionKeyFromContext(ctx); ok {
		args = append(args, "execution-key", key)
	}
	return args
}
