// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldTaskID    = "task_id"
	FieldParentID  = "parent_task_id"

	// Pipeline fields
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldChunk     = "chunk"
	FieldBatch     = "batch"
	FieldAttempt   = "attempt"

	// Model fields
	FieldModel     = "model"
	FieldModelKind = "model_kind"

	// Audit fields
	FieldRuleID   = "rule_id"
	FieldSeverity = "severity"

	// Timing / size fields
	FieldDurationMS = "duration_ms"
	FieldBytes      = "bytes"
	FieldPath       = "path"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
