package appcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionKey(t *testing.T) {
	ctx := WithExecutionKey(context.Background(), 42)

	valFromCtx, found := ExecutionKeyFromContext(ctx)
	assert.True(t, found)
	assert.Equal(t, int64(42), valFromCtx)

	valFromCtx, found = ExecutionKeyFromContext(context.Background())
	assert.False(t, found)
	assert.Equal(t, int64(0), valFromCtx)
}

func TestLogArgs(t *testing.T) {
	ctx := WithInstanceKey(WithExecutionKey(context.Background(), 1), 2)

	assert.Equal(t, []interface{}{"instance-key", int64(2), "execution-key", int64(1)}, LogArgs(ctx))
	assert.Empty(t, LogArgs(context.Background()))
}
