// SPDX-License-Identifier: MIT

// Package pipeline runs the transcript production chain: media preparation,
// recognition, visual scanning and text post-processing, expressed as an
// ordered list of skippable stages sharing one context.
package pipeline

import (
	"context"
	"time"

	"github.com/copernicusai/copernicus/internal/asr"
	"github.com/copernicusai/copernicus/internal/media"
	"github.com/copernicusai/copernicus/internal/visual"
)

// TranscriptEntry is one timestamped line of the final transcript.
type TranscriptEntry struct {
	Timestamp     string `json:"timestamp"`
	TimestampMS   int    `json:"timestamp_ms"`
	EndMS         int    `json:"end_ms"`
	Speaker       string `json:"speaker"`
	Text          string `json:"text"`
	TextCorrected string `json:"text_corrected"`
}

// TranscriptResult is the transcript pipeline output.
type TranscriptResult struct {
	Transcript       []TranscriptEntry `json:"transcript"`
	ProcessingTimeMS float64           `json:"processing_time_ms"`
}

// Context is the shared data bus passed through all stages.
type Context struct {
	// input
	TaskID            string
	AudioBytes        []byte
	Filename          string
	Hotwords          []string
	SentenceTimestamp bool

	// media preparation
	MediaType string // "audio" | "video"
	WAVPath   string
	TempWAV   bool // WAV is a scratch file, removed after recognition
	VideoPath string
	Keyframes []media.KeyFrame

	// recognition
	ASRResult *asr.Result
	Segments  []asr.Segment

	// visual scanning
	OCRRecords   []visual.OCRRecord
	VisualEvents []visual.VisualEvent

	// text post-processing
	CorrectionMap map[int]string
	Entries       []TranscriptEntry

	// per-stage wall time
	StageTimes map[string]time.Duration
}

// ProgressFunc reports units completed within one stage.
type ProgressFunc func(completed, total int)

// StageProgressFunc reports stage-level progress to the task layer.
type StageProgressFunc func(stage string, stageIdx, totalStages, completed, total int)

// Stage is one step of the pipeline. ShouldRun must be a pure predicate on
// the context; Execute mutates the context in place.
type Stage interface {
	Name() string
	ShouldRun(pc *Context) bool
	Execute(ctx context.Context, pc *Context, onProgress ProgressFunc) error
}
