// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
)

const envPrefix = "COPERNICUS_"

// Load builds the effective settings: defaults, then the optional YAML file
// named by COPERNICUS_CONFIG_FILE (or the path argument), then environment
// variables, then validation.
func Load(configFile string) (Settings, error) {
	s := Defaults()

	if configFile == "" {
		configFile = os.Getenv(envPrefix + "CONFIG_FILE")
	}
	if configFile != "" {
		if err := mergeFile(&s, configFile); err != nil {
			return s, err
		}
	}

	mergeEnv(&s)

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// mergeEnv overlays COPERNICUS_* environment variables onto s.
func mergeEnv(s *Settings) {
	envStr(&s.ListenAddr, "LISTEN_ADDR")
	envStr(&s.LogLevel, "LOG_LEVEL")
	envStr(&s.UploadDir, "UPLOAD_DIR")
	envInt(&s.MaxUploadSizeMB, "MAX_UPLOAD_SIZE_MB")
	envInt(&s.MaxRulesSizeMB, "MAX_RULES_SIZE_MB")
	envStr(&s.VideoExtensions, "VIDEO_EXTENSIONS")

	envStr(&s.ASRMode, "ASR_MODE")
	envStr(&s.ASRBaseURL, "ASR_BASE_URL")
	envStr(&s.ASRLanguage, "ASR_LANGUAGE")
	envInt(&s.ASRMaxSegmentMS, "ASR_MAX_SEGMENT_MS")
	envBool(&s.FilterNoiseSegments, "FILTER_NOISE_SEGMENTS")

	envStr(&s.SpkBaseURL, "SPK_BASE_URL")
	envInt(&s.SpkWindowMS, "SPK_SLIDING_WINDOW_MS")
	envInt(&s.SpkStepMS, "SPK_SLIDING_STEP_MS")
	envInt(&s.SpkSlidingThreshold, "SPK_SLIDING_THRESHOLD_MS")
	envInt(&s.SpkMinWindowMS, "SPK_MIN_WINDOW_MS")
	envInt(&s.SpkMaxWindows, "SPK_MAX_WINDOWS")
	envFloat(&s.SpkDistanceThreshold, "SPK_DISTANCE_THRESHOLD")
	envInt(&s.SpkMaxFlickerMS, "SPK_MAX_FLICKER_MS")

	envStr(&s.LLMBaseURL, "LLM_BASE_URL")
	envStr(&s.LLMModel, "LLM_MODEL_NAME")
	envFloat(&s.LLMTemperature, "LLM_TEMPERATURE")
	envFloat(&s.LLMTimeoutSec, "LLM_TIMEOUT")
	envInt(&s.LLMMaxRetries, "LLM_MAX_RETRIES")
	envFloat(&s.LLMRetryDelaySec, "LLM_RETRY_DELAY")
	envInt(&s.LLMMaxConcurrent, "LLM_MAX_CONCURRENT")
	envInt(&s.NumCtx, "OLLAMA_NUM_CTX")
	envInt(&s.NumCtxCorrection, "OLLAMA_NUM_CTX_CORRECTION")

	envInt(&s.CorrectionChunkSize, "CORRECTION_CHUNK_SIZE")
	envInt(&s.CorrectionOverlap, "CORRECTION_OVERLAP")
	envInt(&s.CorrectionMaxConcurrency, "CORRECTION_MAX_CONCURRENCY")
	envInt(&s.CorrectionBatchEntries, "CORRECTION_BATCH_ENTRIES")
	envStr(&s.CSCBaseURL, "CSC_BASE_URL")
	envStr(&s.HotwordsFile, "HOTWORDS_FILE")
	envBool(&s.HotwordReplacerEnabled, "HOTWORD_REPLACER_ENABLED")
	envFloat(&s.ConfidenceThreshold, "CONFIDENCE_THRESHOLD")
	envInt(&s.PreMergeGapMS, "PRE_MERGE_GAP_MS")

	envInt(&s.EvaluationMaxTextChars, "EVALUATION_MAX_TEXT_CHARS")
	envInt(&s.EvaluationChunkSize, "EVALUATION_CHUNK_SIZE")
	envInt(&s.EvaluationNumCtx, "EVALUATION_NUM_CTX")

	envInt(&s.ComplianceMaxTextChars, "COMPLIANCE_MAX_TEXT_CHARS")
	envInt(&s.ComplianceChunkSize, "COMPLIANCE_CHUNK_SIZE")
	envInt(&s.ComplianceNumCtx, "COMPLIANCE_NUM_CTX")
	envFloat(&s.ComplianceConfidenceThreshold, "COMPLIANCE_CONFIDENCE_THRESHOLD")
	envInt(&s.ComplianceDedupWindowMS, "COMPLIANCE_DEDUP_WINDOW_MS")
	envInt(&s.ComplianceOCRMarginMS, "COMPLIANCE_OCR_MARGIN_MS")

	envBool(&s.AudioEnhance, "AUDIO_ENHANCE")

	envStr(&s.KeyframeStrategy, "KEYFRAME_STRATEGY")
	envFloat(&s.KeyframeIntervalSec, "KEYFRAME_INTERVAL_S")
	envFloat(&s.KeyframeSceneThreshold, "KEYFRAME_SCENE_THRESHOLD")
	envInt(&s.KeyframeMaxCount, "KEYFRAME_MAX_COUNT")

	envBool(&s.OCREnabled, "OCR_ENABLED")
	envStr(&s.OCRBaseURL, "OCR_BASE_URL")
	envFloat(&s.OCRConfidenceThreshold, "OCR_CONFIDENCE_THRESHOLD")
	envInt(&s.OCRMinTextLength, "OCR_MIN_TEXT_LENGTH")

	envBool(&s.FaceDetectEnabled, "FACE_DETECT_ENABLED")
	envStr(&s.FaceDetectBaseURL, "FACE_DETECT_BASE_URL")
	envFloat(&s.FaceDetectConfidence, "FACE_DETECT_CONFIDENCE")
	envInt(&s.FaceMissingThresholdMS, "FACE_MISSING_THRESHOLD_MS")

	envInt(&s.TaskTimeoutSec, "TASK_TIMEOUT_SECONDS")
	envInt(&s.TaskMaxInMemory, "TASK_MAX_IN_MEMORY")

	envStr(&s.FFmpegPath, "FFMPEG_PATH")
	envStr(&s.FFprobePath, "FFPROBE_PATH")
	envStr(&s.OTLPEndpoint, "OTLP_ENDPOINT")
	envStr(&s.OTLPProtocol, "OTLP_PROTOCOL")
}

func envStr(dst *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = parsed
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = parsed
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = parsed
		}
	}
}
