// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent span annotation.
const (
	TaskIDKey     = "task.id"
	TaskKindKey   = "task.kind"
	TaskStatusKey = "task.status"

	StageNameKey     = "stage.name"
	StageIndexKey    = "stage.index"
	StageDurationKey = "stage.duration_ms"

	ModelKindKey = "model.kind"
	LLMModelKey  = "llm.model"

	AuditRulesKey      = "audit.rules"
	AuditViolationsKey = "audit.violations"
	AuditScoreKey      = "audit.score"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// TaskAttributes creates task-level span attributes.
func TaskAttributes(taskID, kind, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TaskIDKey, taskID),
		attribute.String(TaskKindKey, kind),
		attribute.String(TaskStatusKey, status),
	}
}

// StageAttributes creates pipeline-stage span attributes.
func StageAttributes(name string, index int, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StageNameKey, name),
		attribute.Int(StageIndexKey, index),
		attribute.Int64(StageDurationKey, durationMS),
	}
}

// AuditAttributes creates compliance-audit span attributes.
func AuditAttributes(rules, violations int, score float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AuditRulesKey, rules),
		attribute.Int(AuditViolationsKey, violations),
		attribute.Float64(AuditScoreKey, score),
	}
}

// ErrorAttributes creates error span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
