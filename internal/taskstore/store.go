// SPDX-License-Identifier: MIT

package taskstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/copernicusai/copernicus/internal/compliance"
	"github.com/copernicusai/copernicus/internal/evaluate"
	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/metrics"
	"github.com/copernicusai/copernicus/internal/persistence"
	"github.com/copernicusai/copernicus/internal/pipeline"
	"github.com/copernicusai/copernicus/internal/telemetry"
	"github.com/copernicusai/copernicus/internal/visual"
)

// ErrTaskNotFound is returned for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// EvaluationResponse is the result payload of an evaluation task.
type EvaluationResponse struct {
	RawText          string           `json:"raw_text"`
	CorrectedText    string           `json:"corrected_text"`
	Evaluation       *evaluate.Result `json:"evaluation"`
	ProcessingTimeMS float64          `json:"processing_time_ms"`
}

// ComplianceResponse is the result payload of a compliance audit task.
type ComplianceResponse struct {
	Rules            []compliance.Rule  `json:"rules"`
	Report           *compliance.Report `json:"report"`
	ProcessingTimeMS float64            `json:"processing_time_ms"`
}

// Config sizes the registry.
type Config struct {
	TaskTimeout time.Duration
	MaxInMemory int
	IsVideo     func(filename string) bool // nil treats every upload as audio
}

// Store registers tasks and runs their workers.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*TaskInfo
	order []string // insertion order, for eviction

	pipe      *pipeline.Pipeline
	evaluator *evaluate.Service
	auditor   *compliance.Auditor
	persist   *persistence.Store
	hashIndex *persistence.HashIndex

	cfg    Config
	logger zerolog.Logger

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(pipe *pipeline.Pipeline, evaluator *evaluate.Service, auditor *compliance.Auditor, persist *persistence.Store, cfg Config) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		tasks:     make(map[string]*TaskInfo),
		pipe:      pipe,
		evaluator: evaluator,
		auditor:   auditor,
		persist:   persist,
		hashIndex: persistence.NewHashIndex(persist),
		cfg:       cfg,
		logger:    log.WithComponent("taskstore"),
		rootCtx:   ctx,
		cancel:    cancel,
	}
}

// Close cancels running workers and waits for them to finish.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

// Persistence exposes the artifact store for the API layer.
func (s *Store) Persistence() *persistence.Store { return s.persist }

func newTaskID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Get returns a copy of the task record.
func (s *Store) Get(taskID string) (TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return TaskInfo{}, false
	}
	return *t, true
}

// List returns copies of all registered tasks in insertion order.
func (s *Store) List() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.order))
	for _, id := range s.order {
		if t, ok := s.tasks[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// LookupByHash returns an existing task id for the content hash, verifying
// the transcript artifact still exists.
func (s *Store) LookupByHash(fileHash string) (string, bool) {
	taskID, ok := s.hashIndex.Lookup(fileHash)
	if !ok {
		return "", false
	}
	if !s.persist.HasFile(taskID, persistence.TranscriptFile) {
		s.hashIndex.Forget(fileHash)
		return "", false
	}
	return taskID, true
}

// RestoreFromDisk loads completed transcript tasks back into memory.
func (s *Store) RestoreFromDisk() {
	restored := 0
	for _, summary := range s.persist.ScanCompleted() {
		if !summary.HasTranscript {
			continue
		}

		s.mu.Lock()
		_, exists := s.tasks[summary.TaskID]
		s.mu.Unlock()
		if exists {
			continue
		}

		var result pipeline.TranscriptResult
		if err := s.persist.LoadJSON(summary.TaskID, persistence.TranscriptFile, &result); err != nil {
			s.logger.Warn().Err(err).
				Str(log.FieldTaskID, summary.TaskID).
				Msg("transcript artifact unreadable, not restored")
			continue
		}

		s.register(&TaskInfo{
			TaskID:    summary.TaskID,
			Status:    StatusCompleted,
			Result:    &result,
			AudioPath: summary.AudioPath,
			CreatedAt: summary.Meta.CreatedAt,
		})
		restored++
	}
	s.logger.Info().Int("restored", restored).Msg("tasks restored from disk")
}

// SubmitTranscript persists the upload into a fresh task directory and
// starts the full media-to-transcript pipeline. Media and meta are written
// before the worker starts so the video stage always finds its input.
func (s *Store) SubmitTranscript(audioBytes []byte, filename string, hotwords []string, fileHash string) (string, error) {
	taskID := newTaskID()

	suffix := suffixOf(filename)
	if suffix == "" {
		suffix = ".bin"
	}
	kind := "audio"
	meta := persistence.Meta{Filename: filename, Hash: fileHash}
	if s.cfg.IsVideo != nil && s.cfg.IsVideo(filename) {
		kind = "video"
		meta.MediaType = "video"
		meta.VideoSuffix = suffix
	} else {
		meta.AudioSuffix = suffix
	}

	mediaPath, err := s.persist.SaveMedia(taskID, audioBytes, kind, suffix)
	if err != nil {
		return "", err
	}
	if err := s.persist.SaveMeta(taskID, meta); err != nil {
		return "", err
	}

	info := &TaskInfo{TaskID: taskID, Status: StatusPending, CreatedAt: time.Now()}
	if kind == "audio" {
		info.AudioPath = mediaPath
	}
	s.register(info)

	if fileHash != "" {
		s.hashIndex.Record(fileHash, taskID)
	}

	s.spawn(taskID, "transcript", func(ctx context.Context) error {
		return s.runTranscript(ctx, taskID, audioBytes, filename, hotwords)
	})
	s.logger.Info().Str(log.FieldTaskID, taskID).Str("media", kind).Msg("transcript task submitted")
	return taskID, nil
}

// SubmitTranscription starts a plain async transcription task: recognition
// plus whole-text correction, without speaker labels or persistence.
func (s *Store) SubmitTranscription(audioBytes []byte, filename string, hotwords []string) string {
	taskID := newTaskID()
	s.register(&TaskInfo{TaskID: taskID, Status: StatusPending, CreatedAt: time.Now()})

	s.spawn(taskID, "transcript", func(ctx context.Context) error {
		return s.runTranscription(ctx, taskID, audioBytes, filename, hotwords)
	})
	s.logger.Info().Str(log.FieldTaskID, taskID).Msg("transcription task submitted")
	return taskID
}

// SubmitAudioEvaluation starts recognition, whole-text correction and
// content evaluation over uploaded audio.
func (s *Store) SubmitAudioEvaluation(audioBytes []byte, filename string, hotwords []string) string {
	taskID := newTaskID()
	s.register(&TaskInfo{TaskID: taskID, Status: StatusPending, CreatedAt: time.Now()})

	s.spawn(taskID, "evaluation", func(ctx context.Context) error {
		return s.runAudioEvaluation(ctx, taskID, audioBytes, filename, hotwords)
	})
	s.logger.Info().Str(log.FieldTaskID, taskID).Msg("audio evaluation task submitted")
	return taskID
}

// SubmitTextEvaluation starts a text-only evaluation, optionally attached
// to a parent transcript task.
func (s *Store) SubmitTextEvaluation(text, parentTaskID string) string {
	taskID := newTaskID()
	s.register(&TaskInfo{
		TaskID:       taskID,
		Status:       StatusPending,
		EvalOnly:     true,
		ParentTaskID: parentTaskID,
		CreatedAt:    time.Now(),
	})

	s.spawn(taskID, "evaluation", func(ctx context.Context) error {
		return s.runEvaluation(ctx, taskID, text)
	})
	s.logger.Info().
		Str(log.FieldTaskID, taskID).
		Str(log.FieldParentID, parentTaskID).
		Msg("evaluation task submitted")
	return taskID
}

// SubmitComplianceAudit starts a rules audit over transcript entries,
// optionally attached to a parent transcript task whose visual artifacts
// feed the audit.
func (s *Store) SubmitComplianceAudit(entries []compliance.Entry, rulesBytes []byte, rulesFilename, parentTaskID string) string {
	taskID := newTaskID()
	s.register(&TaskInfo{
		TaskID:       taskID,
		Status:       StatusPending,
		EvalOnly:     true,
		ParentTaskID: parentTaskID,
		CreatedAt:    time.Now(),
	})

	s.spawn(taskID, "compliance", func(ctx context.Context) error {
		return s.runComplianceAudit(ctx, taskID, entries, rulesBytes, rulesFilename)
	})
	s.logger.Info().
		Str(log.FieldTaskID, taskID).
		Str(log.FieldParentID, parentTaskID).
		Msg("compliance audit task submitted")
	return taskID
}

// RerunTranscript re-runs recognition and correction over the task's
// persisted audio, invalidating downstream artifacts. The task id stays the
// same.
func (s *Store) RerunTranscript(taskID string, hotwords []string) error {
	s.mu.Lock()
	_, ok := s.tasks[taskID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	audioPath := s.persist.FindAudio(taskID)
	if audioPath == "" {
		return fmt.Errorf("audio not found for task %s", taskID)
	}
	audioBytes, err := os.ReadFile(audioPath) // #nosec G304
	if err != nil {
		return err
	}

	s.update(taskID, func(t *TaskInfo) {
		t.Status = StatusPending
		t.CurrentChunk = 0
		t.TotalChunks = 0
		t.Result = nil
		t.Error = ""
	})

	// downstream results no longer match the transcript
	_ = s.persist.DeleteArtifact(taskID, persistence.EvaluationFile)
	_ = s.persist.DeleteArtifact(taskID, persistence.ComplianceFile)

	filename := "audio" + suffixOf(audioPath)
	s.spawn(taskID, "transcript", func(ctx context.Context) error {
		return s.runTranscript(ctx, taskID, audioBytes, filename, hotwords)
	})
	s.logger.Info().Str(log.FieldTaskID, taskID).Msg("transcript rerun")
	return nil
}

// RerunEvaluation spawns a child evaluation task over the parent's
// persisted transcript.
func (s *Store) RerunEvaluation(parentTaskID string) (string, error) {
	var transcript pipeline.TranscriptResult
	if err := s.persist.LoadJSON(parentTaskID, persistence.TranscriptFile, &transcript); err != nil {
		return "", err
	}

	lines := make([]string, 0, len(transcript.Transcript))
	for _, e := range transcript.Transcript {
		lines = append(lines, e.TextCorrected)
	}
	fullText := strings.TrimSpace(strings.Join(lines, "\n"))
	if fullText == "" {
		return "", fmt.Errorf("transcript text is empty for task %s", parentTaskID)
	}

	_ = s.persist.DeleteArtifact(parentTaskID, persistence.EvaluationFile)
	return s.SubmitTextEvaluation(fullText, parentTaskID), nil
}

// -- registry internals --

func (s *Store) register(t *TaskInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.TaskID]; !exists {
		s.order = append(s.order, t.TaskID)
	}
	s.tasks[t.TaskID] = t
	s.evictLocked()
}

func (s *Store) update(taskID string, fn func(t *TaskInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		fn(t)
	}
}

// evictLocked drops the oldest terminal tasks once the registry exceeds its
// cap. Persisted artifacts stay on disk.
func (s *Store) evictLocked() {
	over := len(s.tasks) - s.cfg.MaxInMemory
	if over <= 0 {
		return
	}

	kept := s.order[:0]
	evicted := 0
	for _, id := range s.order {
		t, ok := s.tasks[id]
		if !ok {
			continue
		}
		if over > 0 && t.Status.Terminal() {
			delete(s.tasks, id)
			over--
			evicted++
			metrics.TaskEvictions.Inc()
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept

	if evicted > 0 {
		s.logger.Info().Int("evicted", evicted).Int("remaining", len(s.tasks)).Msg("terminal tasks evicted")
	}
}

// spawn runs fn under the task timeout and records the terminal state.
func (s *Store) spawn(taskID, kind string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	metrics.ActiveTasks.Inc()
	go func() {
		defer s.wg.Done()
		defer metrics.ActiveTasks.Dec()

		ctx, cancel := context.WithTimeout(s.rootCtx, s.cfg.TaskTimeout)
		defer cancel()

		ctx, span := telemetry.Tracer("taskstore").Start(ctx, "task."+kind)
		defer span.End()

		start := time.Now()
		err := fn(ctx)

		status := StatusCompleted
		switch {
		case err == nil:
			s.update(taskID, func(t *TaskInfo) { t.Status = StatusCompleted })
			s.logger.Info().
				Str(log.FieldTaskID, taskID).
				Int64(log.FieldDurationMS, time.Since(start).Milliseconds()).
				Msg("task completed")
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			status = StatusFailed
			s.update(taskID, func(t *TaskInfo) {
				t.Status = StatusFailed
				t.Error = fmt.Sprintf("任务超时（%.0fs）", s.cfg.TaskTimeout.Seconds())
			})
			s.logger.Error().
				Str(log.FieldTaskID, taskID).
				Dur("timeout", s.cfg.TaskTimeout).
				Msg("task timed out")
		default:
			status = StatusFailed
			s.update(taskID, func(t *TaskInfo) {
				t.Status = StatusFailed
				t.Error = err.Error()
			})
			s.logger.Error().Err(err).Str(log.FieldTaskID, taskID).Msg("task failed")
		}

		span.SetAttributes(telemetry.TaskAttributes(taskID, kind, string(status))...)
		if err != nil {
			span.SetAttributes(telemetry.ErrorAttributes(kind)...)
		}

		metrics.TasksTotal.WithLabelValues(kind, string(status)).Inc()
		metrics.TaskDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()
}

// -- workers --

func (s *Store) runTranscript(ctx context.Context, taskID string, audioBytes []byte, filename string, hotwords []string) error {
	s.update(taskID, func(t *TaskInfo) { t.Status = StatusProcessingASR })

	onStage := func(stage string, _, _ int, completed, total int) {
		s.update(taskID, func(t *TaskInfo) {
			switch stage {
			case "asr_transcribe":
				t.Status = StatusProcessingASR
			case "keyframe_extract":
				t.Status = StatusExtractingFrames
			case "ocr_scan", "face_detect":
				t.Status = StatusScanningVisual
				t.CurrentChunk = completed
				t.TotalChunks = total
			case "text_correction":
				t.Status = StatusCorrecting
				t.CurrentChunk = completed
				t.TotalChunks = total
			}
		})
	}

	result, err := s.pipe.ProcessTranscript(ctx, taskID, audioBytes, filename, hotwords, onStage)
	if err != nil {
		return err
	}

	s.update(taskID, func(t *TaskInfo) {
		t.Result = result
		t.AudioPath = s.persist.FindAudio(taskID)
	})
	return s.persist.SaveJSON(taskID, persistence.TranscriptFile, result)
}

func (s *Store) runTranscription(ctx context.Context, taskID string, audioBytes []byte, filename string, hotwords []string) error {
	s.update(taskID, func(t *TaskInfo) { t.Status = StatusProcessingASR })

	result, err := s.pipe.Process(ctx, audioBytes, filename, hotwords, func(completed, total int) {
		s.update(taskID, func(t *TaskInfo) {
			t.Status = StatusCorrecting
			t.CurrentChunk = completed
			t.TotalChunks = total
		})
	})
	if err != nil {
		return err
	}

	s.update(taskID, func(t *TaskInfo) { t.Result = result })
	return nil
}

func (s *Store) runAudioEvaluation(ctx context.Context, taskID string, audioBytes []byte, filename string, hotwords []string) error {
	s.update(taskID, func(t *TaskInfo) { t.Status = StatusProcessingASR })

	processed, err := s.pipe.Process(ctx, audioBytes, filename, hotwords, func(completed, total int) {
		s.update(taskID, func(t *TaskInfo) {
			t.Status = StatusCorrecting
			t.CurrentChunk = completed
			t.TotalChunks = total
		})
	})
	if err != nil {
		return err
	}

	s.update(taskID, func(t *TaskInfo) {
		t.Status = StatusEvaluating
		t.CurrentChunk = 0
		t.TotalChunks = 0
	})

	evaluation, err := s.evaluator.Evaluate(ctx, processed.CorrectedText, func(completed, total int) {
		s.update(taskID, func(t *TaskInfo) {
			t.CurrentChunk = completed
			t.TotalChunks = total
		})
	})
	if err != nil {
		return err
	}

	s.update(taskID, func(t *TaskInfo) {
		t.Result = &EvaluationResponse{
			RawText:          processed.RawText,
			CorrectedText:    processed.CorrectedText,
			Evaluation:       evaluation,
			ProcessingTimeMS: processed.ProcessingTimeMS,
		}
	})
	return nil
}

func (s *Store) runEvaluation(ctx context.Context, taskID, text string) error {
	s.update(taskID, func(t *TaskInfo) {
		t.Status = StatusEvaluating
		t.CurrentChunk = 0
		t.TotalChunks = 0
	})

	start := time.Now()
	result, err := s.evaluator.Evaluate(ctx, text, func(completed, total int) {
		s.update(taskID, func(t *TaskInfo) {
			t.CurrentChunk = completed
			t.TotalChunks = total
		})
	})
	if err != nil {
		return err
	}

	var parentID string
	s.update(taskID, func(t *TaskInfo) {
		t.Result = &EvaluationResponse{
			CorrectedText:    text,
			Evaluation:       result,
			ProcessingTimeMS: float64(time.Since(start).Milliseconds()),
		}
		parentID = t.ParentTaskID
	})

	if parentID != "" {
		return s.persist.SaveJSON(parentID, persistence.EvaluationFile, result)
	}
	return nil
}

func (s *Store) runComplianceAudit(ctx context.Context, taskID string, entries []compliance.Entry, rulesBytes []byte, rulesFilename string) error {
	s.update(taskID, func(t *TaskInfo) {
		t.Status = StatusAuditing
		t.CurrentChunk = 0
		t.TotalChunks = 0
	})

	start := time.Now()
	rules, fewShot, err := compliance.ParseRules(rulesBytes, rulesFilename)
	if err != nil {
		return err
	}

	var parentID string
	s.mu.Lock()
	if t, ok := s.tasks[taskID]; ok {
		parentID = t.ParentTaskID
	}
	s.mu.Unlock()

	sourceTaskID := taskID
	if parentID != "" {
		sourceTaskID = parentID
	}
	ocrRecords := s.loadOCRRecords(sourceTaskID)

	report, err := s.auditor.Audit(ctx, rules, entries, compliance.AuditOptions{
		FewShotExamples: fewShot,
		OCRRecords:      ocrRecords,
		OnProgress: func(completed, total int) {
			s.update(taskID, func(t *TaskInfo) {
				t.CurrentChunk = completed
				t.TotalChunks = total
			})
		},
	})
	if err != nil {
		return err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		telemetry.AuditAttributes(len(rules), len(report.Violations), report.ComplianceScore)...)

	response := &ComplianceResponse{
		Rules:            rules,
		Report:           report,
		ProcessingTimeMS: float64(time.Since(start).Milliseconds()),
	}
	s.update(taskID, func(t *TaskInfo) { t.Result = response })

	if parentID != "" {
		return s.persist.SaveJSON(parentID, persistence.ComplianceFile, response)
	}
	return nil
}

// loadOCRRecords maps persisted OCR results into the audit's evidence form.
func (s *Store) loadOCRRecords(taskID string) []compliance.OCRRecord {
	var persisted []visual.OCRRecord
	if err := s.persist.LoadJSON(taskID, persistence.OCRResultsFile, &persisted); err != nil {
		return nil
	}

	records := make([]compliance.OCRRecord, 0, len(persisted))
	for _, r := range persisted {
		records = append(records, compliance.OCRRecord{
			TimestampMS: r.TimestampMS,
			Text:        r.Text,
			FramePath:   r.FramePath,
		})
	}
	if len(records) > 0 {
		s.logger.Info().
			Int("records", len(records)).
			Str(log.FieldTaskID, taskID).
			Msg("ocr evidence loaded for audit")
	}
	return records
}

func suffixOf(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i:]
	}
	return ""
}
