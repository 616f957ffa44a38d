// SPDX-License-Identifier: MIT

// Package config holds the daemon settings: defaults, environment overrides,
// optional YAML file overlay and validation.
package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Settings is the full runtime configuration of the daemon.
type Settings struct {
	// HTTP server
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	// Upload handling
	UploadDir       string `yaml:"upload_dir"`
	MaxUploadSizeMB int    `yaml:"max_upload_size_mb"`
	MaxRulesSizeMB  int    `yaml:"max_rules_size_mb"`
	VideoExtensions string `yaml:"video_extensions"` // comma separated, with dots

	// ASR engine
	ASRMode             string `yaml:"asr_mode"` // "paraformer" | "sensevoice"
	ASRBaseURL          string `yaml:"asr_base_url"`
	ASRLanguage         string `yaml:"asr_language"`
	ASRMaxSegmentMS     int    `yaml:"asr_max_segment_ms"`
	FilterNoiseSegments bool   `yaml:"filter_noise_segments"`

	// Speaker diarization (voiceprint sliding window clustering)
	SpkBaseURL           string  `yaml:"spk_base_url"` // voiceprint sidecar; empty falls back to the ASR base URL
	SpkWindowMS          int     `yaml:"spk_sliding_window_ms"`
	SpkStepMS            int     `yaml:"spk_sliding_step_ms"`
	SpkSlidingThreshold  int     `yaml:"spk_sliding_threshold_ms"`
	SpkMinWindowMS       int     `yaml:"spk_min_window_ms"`
	SpkMaxWindows        int     `yaml:"spk_max_windows"`
	SpkDistanceThreshold float64 `yaml:"spk_distance_threshold"`
	SpkMaxFlickerMS      int     `yaml:"spk_max_flicker_ms"`

	// LLM
	LLMBaseURL       string  `yaml:"llm_base_url"`
	LLMModel         string  `yaml:"llm_model_name"`
	LLMTemperature   float64 `yaml:"llm_temperature"`
	LLMTimeoutSec    float64 `yaml:"llm_timeout"`
	LLMMaxRetries    int     `yaml:"llm_max_retries"`
	LLMRetryDelaySec float64 `yaml:"llm_retry_delay"`
	LLMMaxConcurrent int     `yaml:"llm_max_concurrent"`
	NumCtx           int     `yaml:"ollama_num_ctx"`
	NumCtxCorrection int     `yaml:"ollama_num_ctx_correction"`

	// Text correction
	CorrectionChunkSize      int    `yaml:"correction_chunk_size"`
	CorrectionOverlap        int    `yaml:"correction_overlap"`
	CorrectionMaxConcurrency int    `yaml:"correction_max_concurrency"`
	CorrectionBatchEntries   int    `yaml:"correction_batch_entries"`
	CSCBaseURL               string `yaml:"csc_base_url"` // spelling sidecar; empty disables
	HotwordsFile             string `yaml:"hotwords_file"`
	HotwordReplacerEnabled   bool   `yaml:"hotword_replacer_enabled"`
	ConfidenceThreshold      float64 `yaml:"confidence_threshold"`
	PreMergeGapMS            int    `yaml:"pre_merge_gap_ms"`

	// Evaluation (map/reduce)
	EvaluationMaxTextChars int `yaml:"evaluation_max_text_chars"`
	EvaluationChunkSize    int `yaml:"evaluation_chunk_size"`
	EvaluationNumCtx       int `yaml:"evaluation_num_ctx"`

	// Compliance audit (map/reduce)
	ComplianceMaxTextChars        int     `yaml:"compliance_max_text_chars"`
	ComplianceChunkSize           int     `yaml:"compliance_chunk_size"`
	ComplianceNumCtx              int     `yaml:"compliance_num_ctx"`
	ComplianceConfidenceThreshold float64 `yaml:"compliance_confidence_threshold"`
	ComplianceDedupWindowMS       int     `yaml:"compliance_dedup_window_ms"`
	ComplianceOCRMarginMS         int     `yaml:"compliance_ocr_margin_ms"`

	// Audio enhancement before ASR (high-pass + denoise + loudness norm)
	AudioEnhance bool `yaml:"audio_enhance"`

	// Keyframe extraction
	KeyframeStrategy       string  `yaml:"keyframe_strategy"` // "interval" | "scene"
	KeyframeIntervalSec    float64 `yaml:"keyframe_interval_s"`
	KeyframeSceneThreshold float64 `yaml:"keyframe_scene_threshold"`
	KeyframeMaxCount       int     `yaml:"keyframe_max_count"`

	// OCR
	OCREnabled             bool    `yaml:"ocr_enabled"`
	OCRBaseURL             string  `yaml:"ocr_base_url"`
	OCRConfidenceThreshold float64 `yaml:"ocr_confidence_threshold"`
	OCRMinTextLength       int     `yaml:"ocr_min_text_length"`

	// Face detection
	FaceDetectEnabled      bool    `yaml:"face_detect_enabled"`
	FaceDetectBaseURL      string  `yaml:"face_detect_base_url"`
	FaceDetectConfidence   float64 `yaml:"face_detect_confidence"`
	FaceMissingThresholdMS int     `yaml:"face_missing_threshold_ms"`

	// Task execution
	TaskTimeoutSec  int `yaml:"task_timeout_seconds"`
	TaskMaxInMemory int `yaml:"task_max_in_memory"`

	// ffmpeg
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	// Tracing (OTLP); disabled when endpoint is empty
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPProtocol string `yaml:"otlp_protocol"` // "http" | "grpc"
}

// Defaults returns the settings baseline before env/file overrides.
func Defaults() Settings {
	return Settings{
		ListenAddr:      ":8000",
		LogLevel:        "info",
		UploadDir:       "./uploads",
		MaxUploadSizeMB: 500,
		MaxRulesSizeMB:  2,
		VideoExtensions: ".mp4,.avi,.mov,.mkv,.flv,.wmv",

		ASRMode:             "paraformer",
		ASRBaseURL:          "http://localhost:9000",
		ASRLanguage:         "zh",
		ASRMaxSegmentMS:     15000,
		FilterNoiseSegments: true,

		SpkWindowMS:          1500,
		SpkStepMS:            750,
		SpkSlidingThreshold:  3000,
		SpkMinWindowMS:       500,
		SpkMaxWindows:        500,
		SpkDistanceThreshold: 0.5,
		SpkMaxFlickerMS:      1500,

		LLMBaseURL:       "http://localhost:11434",
		LLMModel:         "qwen3:14b",
		LLMTemperature:   0.1,
		LLMTimeoutSec:    120,
		LLMMaxRetries:    2,
		LLMRetryDelaySec: 2,
		LLMMaxConcurrent: 3,
		NumCtx:           32768,
		NumCtxCorrection: 4096,

		CorrectionChunkSize:      800,
		CorrectionOverlap:        50,
		CorrectionMaxConcurrency: 3,
		CorrectionBatchEntries:   15,
		HotwordReplacerEnabled:   true,
		ConfidenceThreshold:      0.95,
		PreMergeGapMS:            1000,

		EvaluationMaxTextChars: 50000,
		EvaluationChunkSize:    6000,
		EvaluationNumCtx:       8192,

		ComplianceMaxTextChars:        50000,
		ComplianceChunkSize:           4000,
		ComplianceNumCtx:              8192,
		ComplianceConfidenceThreshold: 0.7,
		ComplianceDedupWindowMS:       30000,
		ComplianceOCRMarginMS:         5000,

		AudioEnhance: true,

		KeyframeStrategy:       "interval",
		KeyframeIntervalSec:    2.0,
		KeyframeSceneThreshold: 0.3,
		KeyframeMaxCount:       500,

		OCREnabled:             true,
		OCRBaseURL:             "http://localhost:9001",
		OCRConfidenceThreshold: 0.6,
		OCRMinTextLength:       2,

		FaceDetectEnabled:      true,
		FaceDetectBaseURL:      "http://localhost:9002",
		FaceDetectConfidence:   0.5,
		FaceMissingThresholdMS: 10000,

		TaskTimeoutSec:  3600,
		TaskMaxInMemory: 500,

		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		OTLPProtocol: "http",
	}
}

// MaxUploadSizeBytes returns the upload cap in bytes.
func (s Settings) MaxUploadSizeBytes() int64 {
	return int64(s.MaxUploadSizeMB) * 1024 * 1024
}

// MaxRulesSizeBytes returns the rules-file cap in bytes.
func (s Settings) MaxRulesSizeBytes() int64 {
	return int64(s.MaxRulesSizeMB) * 1024 * 1024
}

// TaskTimeout returns the per-task execution deadline.
func (s Settings) TaskTimeout() time.Duration {
	return time.Duration(s.TaskTimeoutSec) * time.Second
}

// LLMTimeout returns the streaming read timeout per LLM call.
func (s Settings) LLMTimeout() time.Duration {
	return time.Duration(s.LLMTimeoutSec * float64(time.Second))
}

// LLMRetryDelay returns the base delay before the first retry.
func (s Settings) LLMRetryDelay() time.Duration {
	return time.Duration(s.LLMRetryDelaySec * float64(time.Second))
}

// IsVideo reports whether filename carries a configured video extension.
func (s Settings) IsVideo(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, e := range strings.Split(s.VideoExtensions, ",") {
		if strings.TrimSpace(e) == ext {
			return true
		}
	}
	return false
}
