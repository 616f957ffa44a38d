// SPDX-License-Identifier: MIT

// Package taskstore is the in-memory task registry: it accepts work,
// spawns the bounded background workers, tracks progress, and restores
// completed tasks from disk after a restart.
package taskstore

import (
	"math"
	"time"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending          Status = "pending"
	StatusProcessingASR    Status = "processing_asr"
	StatusExtractingFrames Status = "extracting_frames"
	StatusScanningVisual   Status = "scanning_visual"
	StatusCorrecting       Status = "correcting"
	StatusEvaluating       Status = "evaluating"
	StatusAuditing         Status = "auditing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress is the derived progress view of a task.
type Progress struct {
	CurrentChunk int     `json:"current_chunk"`
	TotalChunks  int     `json:"total_chunks"`
	Percent      float64 `json:"percent"`
}

// TaskInfo is the registry's record of one task. Values handed out of the
// store are copies; mutation happens only under the store lock.
type TaskInfo struct {
	TaskID       string
	Status       Status
	CurrentChunk int
	TotalChunks  int
	Result       any
	Error        string
	EvalOnly     bool
	AudioPath    string
	ParentTaskID string
	CreatedAt    time.Time
	StartedAt    time.Time
}

// Progress maps status plus chunk counters onto a 0-100 percentage using
// fixed anchors: recognition parks at 5, visual scanning fills 8-15,
// correction fills 15-90, evaluation the final 10. Standalone evaluation
// and audit tasks scale their own chunks over the whole range.
func (t TaskInfo) Progress() Progress {
	frac := 0.0
	if t.TotalChunks > 0 {
		frac = float64(t.CurrentChunk) / float64(t.TotalChunks)
	}

	var percent float64
	switch t.Status {
	case StatusPending:
		percent = 0
	case StatusProcessingASR:
		percent = 5
	case StatusExtractingFrames:
		percent = 8
	case StatusScanningVisual:
		percent = 8 + frac*7
	case StatusCorrecting:
		percent = 15 + frac*75
	case StatusAuditing:
		percent = frac * 100
	case StatusEvaluating:
		if t.EvalOnly {
			percent = frac * 100
		} else {
			percent = 90 + frac*10
		}
	case StatusCompleted:
		percent = 100
	default:
		percent = 15 + frac*75
	}

	return Progress{
		CurrentChunk: t.CurrentChunk,
		TotalChunks:  t.TotalChunks,
		Percent:      math.Round(percent*10) / 10,
	}
}
