// SPDX-License-Identifier: MIT

package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithComponent(t *testing.T) {
	l := WithComponent("taskstore")
	assert.NotNil(t, l)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithTaskID(ctx, "task-1")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "task-1", TaskIDFromContext(ctx))
}

func TestContextMissingValues(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Equal(t, "", TaskIDFromContext(context.Background()))
	assert.Equal(t, "", RequestIDFromContext(nil)) //nolint:staticcheck
}

func TestFromContextDoesNotPanic(t *testing.T) {
	ctx := ContextWithTaskID(context.Background(), "abc")
	l := FromContext(ctx)
	l.Debug().Msg("noop")
}
