// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copernicusai/copernicus/internal/asr"
	"github.com/copernicusai/copernicus/internal/config"
	"github.com/copernicusai/copernicus/internal/correct"
	"github.com/copernicusai/copernicus/internal/diarize"
	"github.com/copernicusai/copernicus/internal/hotword"
	"github.com/copernicusai/copernicus/internal/media"
	"github.com/copernicusai/copernicus/internal/modelmgr"
	"github.com/copernicusai/copernicus/internal/persistence"
	"github.com/copernicusai/copernicus/internal/visual"
)

// Deps are the collaborators the transcript pipeline wires together.
type Deps struct {
	Settings  config.Settings
	Media     *media.Processor
	Store     *persistence.Store
	ASR       *asr.Service
	Diarizer  *diarize.Diarizer
	Corrector *correct.Service
	Replacer  *hotword.Replacer
	Scanner   visual.FrameScanner
	Detector  visual.FaceDetector
	Models    *modelmgr.Manager
}

// Pipeline is the transcript production facade over the stage orchestrator.
// The synchronous transcription paths bypass the orchestrator and talk to
// the media/ASR/corrector services directly.
type Pipeline struct {
	orchestrator *Orchestrator
	replacer     *hotword.Replacer
	media        *media.Processor
	asrSvc       *asr.Service
	corrector    *correct.Service
	workDir      string
	asrLock      *sync.Mutex
}

// New assembles the nine-stage transcript pipeline. Visual stages wire in
// only when their collaborators are present.
func New(deps Deps) *Pipeline {
	cfg := deps.Settings
	asrLock := &sync.Mutex{}

	o := NewOrchestrator().
		Register(NewVideoPreprocessStage(deps.Media, deps.Store, cfg.VideoExtensions, cfg.AudioEnhance)).
		Register(NewAudioPreprocessStage(deps.Media, cfg.UploadDir)).
		Register(NewASRTranscribeStage(deps.ASR, deps.Diarizer, asrLock)).
		Register(NewKeyframeExtractStage(deps.Media, deps.Store, media.KeyframeOptions{
			Strategy:       cfg.KeyframeStrategy,
			IntervalSec:    cfg.KeyframeIntervalSec,
			SceneThreshold: cfg.KeyframeSceneThreshold,
			MaxCount:       cfg.KeyframeMaxCount,
		})).
		Register(NewOCRScanStage(deps.Scanner, deps.Store, deps.Models, cfg.OCREnabled)).
		Register(NewFaceDetectStage(deps.Detector, deps.Store, deps.Models, cfg.FaceDetectEnabled,
			int(cfg.KeyframeIntervalSec*1000), cfg.FaceMissingThresholdMS)).
		Register(NewSpeakerSmoothStage(cfg.PreMergeGapMS, cfg.SpkMaxFlickerMS)).
		Register(NewTextCorrectionStage(deps.Corrector, cfg.ConfidenceThreshold)).
		Register(NewTranscriptBuildStage())

	return &Pipeline{
		orchestrator: o,
		replacer:     deps.Replacer,
		media:        deps.Media,
		asrSvc:       deps.ASR,
		corrector:    deps.Corrector,
		workDir:      cfg.UploadDir,
		asrLock:      asrLock,
	}
}

// TranscriptionResult is the synchronous endpoint payload: the raw ASR text
// plus the whole-text corrected output and the underlying segments.
type TranscriptionResult struct {
	RawText          string        `json:"raw_text"`
	CorrectedText    string        `json:"corrected_text"`
	Segments         []asr.Segment `json:"segments"`
	ProcessingTimeMS float64       `json:"processing_time_ms"`
}

// Process runs preprocess, recognition and whole-text correction
// synchronously.
func (p *Pipeline) Process(ctx context.Context, audioBytes []byte, filename string, hotwords []string, onProgress correct.ProgressFunc) (*TranscriptionResult, error) {
	start := time.Now()

	raw, err := p.transcribeBytes(ctx, audioBytes, filename, hotwords)
	if err != nil {
		return nil, err
	}

	corrected, err := p.corrector.Correct(ctx, raw.Text, onProgress)
	if err != nil {
		return nil, err
	}

	return &TranscriptionResult{
		RawText:          raw.Text,
		CorrectedText:    corrected,
		Segments:         raw.Segments,
		ProcessingTimeMS: elapsedMS(start),
	}, nil
}

// ProcessRaw runs preprocess and recognition only.
func (p *Pipeline) ProcessRaw(ctx context.Context, audioBytes []byte, filename string, hotwords []string) (*TranscriptionResult, error) {
	start := time.Now()

	raw, err := p.transcribeBytes(ctx, audioBytes, filename, hotwords)
	if err != nil {
		return nil, err
	}

	return &TranscriptionResult{
		RawText:          raw.Text,
		CorrectedText:    raw.Text,
		Segments:         raw.Segments,
		ProcessingTimeMS: elapsedMS(start),
	}, nil
}

// transcribeBytes writes the upload to a scratch file, converts it to
// 16 kHz mono WAV and runs recognition under the engine lock. Both scratch
// files are removed on all exits.
func (p *Pipeline) transcribeBytes(ctx context.Context, audioBytes []byte, filename string, hotwords []string) (*asr.Result, error) {
	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return nil, err
	}

	suffix := filepath.Ext(filename)
	if suffix == "" {
		suffix = ".bin"
	}
	inputPath := filepath.Join(p.workDir, uuid.New().String()+suffix)
	wavPath := strings.TrimSuffix(inputPath, suffix) + ".wav"

	if err := os.WriteFile(inputPath, audioBytes, 0o644); err != nil { // #nosec G306
		return nil, err
	}
	defer media.CleanupTemp(inputPath)
	defer media.CleanupTemp(wavPath)

	if err := p.media.TranscodeWAV(ctx, inputPath, wavPath); err != nil {
		return nil, err
	}

	p.asrLock.Lock()
	defer p.asrLock.Unlock()
	return p.asrSvc.Transcribe(ctx, wavPath, p.mergeHotwords(hotwords), false)
}

func elapsedMS(start time.Time) float64 {
	return math.Round(float64(time.Since(start).Microseconds())/10) / 100
}

// ProcessTranscript runs the full pipeline over uploaded media bytes.
func (p *Pipeline) ProcessTranscript(ctx context.Context, taskID string, audioBytes []byte, filename string, hotwords []string, onStageProgress StageProgressFunc) (*TranscriptResult, error) {
	start := time.Now()

	pc := &Context{
		TaskID:            taskID,
		AudioBytes:        audioBytes,
		Filename:          filename,
		Hotwords:          p.mergeHotwords(hotwords),
		SentenceTimestamp: true,
	}

	if err := p.orchestrator.Run(ctx, pc, onStageProgress); err != nil {
		return nil, err
	}

	return &TranscriptResult{
		Transcript:       pc.Entries,
		ProcessingTimeMS: elapsedMS(start),
	}, nil
}

// mergeHotwords combines the global hotword file's ASR bias terms with
// per-request ones.
func (p *Pipeline) mergeHotwords(requestHotwords []string) []string {
	var combined []string
	if p.replacer != nil {
		combined = append(combined, p.replacer.ASRHotwords()...)
	}
	return append(combined, requestHotwords...)
}
