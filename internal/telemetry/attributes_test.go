// SPDX-License-Identifier: MIT

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestTaskAttributes(t *testing.T) {
	attrs := TaskAttributes("abc123", "transcript", "completed")
	assert.Contains(t, attrs, attribute.String(TaskIDKey, "abc123"))
	assert.Contains(t, attrs, attribute.String(TaskKindKey, "transcript"))
	assert.Contains(t, attrs, attribute.String(TaskStatusKey, "completed"))
}

func TestStageAttributes(t *testing.T) {
	attrs := StageAttributes("asr_transcribe", 2, 1500)
	assert.Contains(t, attrs, attribute.String(StageNameKey, "asr_transcribe"))
	assert.Contains(t, attrs, attribute.Int(StageIndexKey, 2))
	assert.Contains(t, attrs, attribute.Int64(StageDurationKey, 1500))
}

func TestAuditAttributes(t *testing.T) {
	attrs := AuditAttributes(13, 2, 77.0)
	assert.Contains(t, attrs, attribute.Int(AuditRulesKey, 13))
	assert.Contains(t, attrs, attribute.Int(AuditViolationsKey, 2))
	assert.Contains(t, attrs, attribute.Float64(AuditScoreKey, 77.0))
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes("asr")
	assert.Contains(t, attrs, attribute.Bool(ErrorKey, true))
	assert.Contains(t, attrs, attribute.String(ErrorTypeKey, "asr"))
}
