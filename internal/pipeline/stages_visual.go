// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"path/filepath"

	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/modelmgr"
	"github.com/copernicusai/copernicus/internal/persistence"
	"github.com/copernicusai/copernicus/internal/visual"
)

// Model kinds under the exclusive GPU manager.
const (
	ModelOCR  = "ocr"
	ModelFace = "face"
)

// OCRScanStage runs OCR over every keyframe and persists ocr_results.json.
// The model manager serializes GPU use against the face detector.
type OCRScanStage struct {
	scanner visual.FrameScanner
	store   *persistence.Store
	models  *modelmgr.Manager
	enabled bool
}

func NewOCRScanStage(scanner visual.FrameScanner, store *persistence.Store, models *modelmgr.Manager, enabled bool) *OCRScanStage {
	return &OCRScanStage{scanner: scanner, store: store, models: models, enabled: enabled}
}

func (s *OCRScanStage) Name() string { return "ocr_scan" }

func (s *OCRScanStage) ShouldRun(pc *Context) bool {
	return s.enabled && s.scanner != nil && len(pc.Keyframes) > 0
}

func (s *OCRScanStage) Execute(ctx context.Context, pc *Context, onProgress ProgressFunc) error {
	if s.models != nil {
		if _, err := s.models.Acquire(ctx, ModelOCR); err != nil {
			return err
		}
	}

	framesDir, err := s.store.FramesDir(pc.TaskID)
	if err != nil {
		return err
	}

	logger := log.WithComponent("pipeline.ocr")
	total := len(pc.Keyframes)
	records := make([]visual.OCRRecord, 0, total)

	for i, kf := range pc.Keyframes {
		if err := ctx.Err(); err != nil {
			return err
		}
		found, err := s.scanner.ScanFrame(ctx, filepath.Join(framesDir, kf.Path), kf.TimestampMS)
		if err != nil {
			// one unreadable frame should not sink the task
			logger.Warn().Err(err).
				Str(log.FieldPath, kf.Path).
				Str(log.FieldTaskID, pc.TaskID).
				Msg("frame scan failed")
		} else {
			records = append(records, found...)
		}
		if onProgress != nil {
			onProgress(i+1, total)
		}
	}

	pc.OCRRecords = records
	logger.Info().
		Int("regions", len(records)).
		Int("frames", total).
		Str(log.FieldTaskID, pc.TaskID).
		Msg("ocr scan completed")
	return s.store.SaveJSON(pc.TaskID, persistence.OCRResultsFile, records)
}

// FaceDetectStage detects faces per keyframe, folds the results into
// timeline events and persists visual_events.json.
type FaceDetectStage struct {
	detector           visual.FaceDetector
	store              *persistence.Store
	models             *modelmgr.Manager
	enabled            bool
	intervalMS         int
	missingThresholdMS int
}

func NewFaceDetectStage(detector visual.FaceDetector, store *persistence.Store, models *modelmgr.Manager, enabled bool, intervalMS, missingThresholdMS int) *FaceDetectStage {
	return &FaceDetectStage{
		detector:           detector,
		store:              store,
		models:             models,
		enabled:            enabled,
		intervalMS:         intervalMS,
		missingThresholdMS: missingThresholdMS,
	}
}

func (s *FaceDetectStage) Name() string { return "face_detect" }

func (s *FaceDetectStage) ShouldRun(pc *Context) bool {
	return s.enabled && s.detector != nil && len(pc.Keyframes) > 0
}

func (s *FaceDetectStage) Execute(ctx context.Context, pc *Context, onProgress ProgressFunc) error {
	if s.models != nil {
		if _, err := s.models.Acquire(ctx, ModelFace); err != nil {
			return err
		}
	}

	framesDir, err := s.store.FramesDir(pc.TaskID)
	if err != nil {
		return err
	}

	logger := log.WithComponent("pipeline.face")
	total := len(pc.Keyframes)
	results := make([]visual.FrameResult, 0, total)

	for i, kf := range pc.Keyframes {
		if err := ctx.Err(); err != nil {
			return err
		}
		faces, err := s.detector.DetectFrame(ctx, filepath.Join(framesDir, kf.Path))
		if err != nil {
			logger.Warn().Err(err).
				Str(log.FieldPath, kf.Path).
				Str(log.FieldTaskID, pc.TaskID).
				Msg("face detection failed for frame")
			faces = nil
		}

		maxConf := 0.0
		for _, f := range faces {
			if f.Confidence > maxConf {
				maxConf = f.Confidence
			}
		}
		results = append(results, visual.FrameResult{
			TimestampMS:   kf.TimestampMS,
			FaceCount:     len(faces),
			MaxConfidence: maxConf,
			FramePath:     kf.Path,
		})
		if onProgress != nil {
			onProgress(i+1, total)
		}
	}

	events := visual.AnalyzeFaceTimeline(results, s.intervalMS, s.missingThresholdMS)
	pc.VisualEvents = events
	logger.Info().
		Int("events", len(events)).
		Int("frames", total).
		Str(log.FieldTaskID, pc.TaskID).
		Msg("face detection completed")
	return s.store.SaveJSON(pc.TaskID, persistence.VisualEventsFile, events)
}
