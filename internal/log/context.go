// SPDX-License-Identifier: MIT

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	taskIDKey    ctxKey = "task_id"
)

// ContextWithRequestID stores the provided request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithTaskID stores the provided task ID in the context.
func ContextWithTaskID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, taskIDKey, id)
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// TaskIDFromContext extracts the task ID from context if present.
func TaskIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(taskIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns the base logger enriched with any identifiers stored in ctx.
func FromContext(ctx context.Context) zerolog.Logger {
	l := Base()
	lctx := l.With()
	if id := RequestIDFromContext(ctx); id != "" {
		lctx = lctx.Str(FieldRequestID, id)
	}
	if id := TaskIDFromContext(ctx); id != "" {
		lctx = lctx.Str(FieldTaskID, id)
	}
	return lctx.Logger()
}
