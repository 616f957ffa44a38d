// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig wraps all validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks cross-field consistency and value ranges.
func (s Settings) Validate() error {
	var problems []string

	if s.ASRMode != "paraformer" && s.ASRMode != "sensevoice" {
		problems = append(problems, fmt.Sprintf("asr_mode must be paraformer or sensevoice, got %q", s.ASRMode))
	}
	if s.KeyframeStrategy != "interval" && s.KeyframeStrategy != "scene" {
		problems = append(problems, fmt.Sprintf("keyframe_strategy must be interval or scene, got %q", s.KeyframeStrategy))
	}
	if s.OTLPProtocol != "http" && s.OTLPProtocol != "grpc" {
		problems = append(problems, fmt.Sprintf("otlp_protocol must be http or grpc, got %q", s.OTLPProtocol))
	}
	if s.MaxUploadSizeMB <= 0 {
		problems = append(problems, "max_upload_size_mb must be positive")
	}
	if s.LLMMaxConcurrent <= 0 {
		problems = append(problems, "llm_max_concurrent must be positive")
	}
	if s.LLMMaxRetries < 0 {
		problems = append(problems, "llm_max_retries must not be negative")
	}
	if s.CorrectionChunkSize <= s.CorrectionOverlap {
		problems = append(problems, "correction_chunk_size must exceed correction_overlap")
	}
	if s.CorrectionBatchEntries <= 0 {
		problems = append(problems, "correction_batch_entries must be positive")
	}
	if s.SpkStepMS <= 0 || s.SpkWindowMS <= 0 {
		problems = append(problems, "speaker window and step must be positive")
	}
	if s.SpkDistanceThreshold <= 0 || s.SpkDistanceThreshold >= 1 {
		problems = append(problems, "spk_distance_threshold must be in (0,1)")
	}
	if s.ComplianceConfidenceThreshold < 0 || s.ComplianceConfidenceThreshold > 1 {
		problems = append(problems, "compliance_confidence_threshold must be in [0,1]")
	}
	if s.TaskTimeoutSec <= 0 {
		problems = append(problems, "task_timeout_seconds must be positive")
	}
	if s.TaskMaxInMemory <= 0 {
		problems = append(problems, "task_max_in_memory must be positive")
	}
	if s.UploadDir == "" {
		problems = append(problems, "upload_dir must not be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, problems)
	}
	return nil
}
