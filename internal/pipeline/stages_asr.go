// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"sync"

	"github.com/copernicusai/copernicus/internal/asr"
	"github.com/copernicusai/copernicus/internal/diarize"
	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/media"
)

// ASRTranscribeStage runs speech recognition on the prepared WAV. The lock
// serializes engine use across concurrent tasks: the recognizer is a single
// GPU-resident model. In sensevoice mode segments come back without speaker
// ids, so the diarizer assigns them from voiceprint clustering.
type ASRTranscribeStage struct {
	svc      *asr.Service
	diarizer *diarize.Diarizer
	lock     *sync.Mutex
}

func NewASRTranscribeStage(svc *asr.Service, diarizer *diarize.Diarizer, lock *sync.Mutex) *ASRTranscribeStage {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &ASRTranscribeStage{svc: svc, diarizer: diarizer, lock: lock}
}

func (s *ASRTranscribeStage) Name() string { return "asr_transcribe" }

func (s *ASRTranscribeStage) ShouldRun(pc *Context) bool {
	return pc.WAVPath != ""
}

func (s *ASRTranscribeStage) Execute(ctx context.Context, pc *Context, _ ProgressFunc) error {
	logger := log.WithComponent("pipeline.asr")

	s.lock.Lock()
	result, err := s.svc.Transcribe(ctx, pc.WAVPath, pc.Hotwords, pc.SentenceTimestamp)
	s.lock.Unlock()
	if err != nil {
		if pc.TempWAV {
			media.CleanupTemp(pc.WAVPath)
		}
		return err
	}

	segments := result.Segments

	if s.diarizer != nil && needsDiarization(segments) {
		assigned, speakers, derr := s.diarizer.Assign(ctx, pc.WAVPath, segments)
		if derr != nil {
			logger.Warn().Err(derr).
				Str(log.FieldTaskID, pc.TaskID).
				Msg("diarization failed, keeping single speaker")
		} else {
			segments = assigned
			logger.Info().
				Int("speakers", speakers).
				Str(log.FieldTaskID, pc.TaskID).
				Msg("diarization assigned speakers")
		}
	}

	if pc.TempWAV {
		media.CleanupTemp(pc.WAVPath)
	}

	pc.ASRResult = result
	pc.Segments = segments
	logger.Info().
		Int("segments", len(segments)).
		Int("chars", len(result.Text)).
		Str(log.FieldTaskID, pc.TaskID).
		Msg("recognition completed")
	return nil
}

// needsDiarization reports whether no segment carries a speaker id yet.
func needsDiarization(segments []asr.Segment) bool {
	if len(segments) == 0 {
		return false
	}
	for _, seg := range segments {
		if seg.Speaker >= 0 {
			return false
		}
	}
	return true
}
