// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"fmt"

	"github.com/copernicusai/copernicus/internal/correct"
	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/textutil"
)

// SpeakerSmoothStage removes single-segment speaker flicker and merges
// adjacent same-speaker segments separated by short gaps.
type SpeakerSmoothStage struct {
	preMergeGapMS int
	maxFlickerMS  int
}

func NewSpeakerSmoothStage(preMergeGapMS, maxFlickerMS int) *SpeakerSmoothStage {
	return &SpeakerSmoothStage{preMergeGapMS: preMergeGapMS, maxFlickerMS: maxFlickerMS}
}

func (s *SpeakerSmoothStage) Name() string { return "speaker_smooth" }

func (s *SpeakerSmoothStage) ShouldRun(pc *Context) bool {
	return len(pc.Segments) > 0
}

func (s *SpeakerSmoothStage) Execute(_ context.Context, pc *Context, _ ProgressFunc) error {
	before := len(pc.Segments)
	segments := textutil.SmoothSpeakers(pc.Segments, s.maxFlickerMS)
	segments = textutil.PreMergeSegments(segments, s.preMergeGapMS)
	pc.Segments = segments

	logger := log.WithComponent("pipeline.smooth")
	logger.Info().
		Int("before", before).
		Int("after", len(segments)).
		Str(log.FieldTaskID, pc.TaskID).
		Msg("segments smoothed and pre-merged")
	return nil
}

// TextCorrectionStage sends low-confidence segments through the four-phase
// corrector. Segments at or above the confidence threshold keep their raw
// text without an LLM round trip.
type TextCorrectionStage struct {
	svc           *correct.Service
	confThreshold float64
}

func NewTextCorrectionStage(svc *correct.Service, confThreshold float64) *TextCorrectionStage {
	return &TextCorrectionStage{svc: svc, confThreshold: confThreshold}
}

func (s *TextCorrectionStage) Name() string { return "text_correction" }

func (s *TextCorrectionStage) ShouldRun(pc *Context) bool {
	return len(pc.Segments) > 0
}

func (s *TextCorrectionStage) Execute(ctx context.Context, pc *Context, onProgress ProgressFunc) error {
	segments := pc.Segments
	logger := log.WithComponent("pipeline.correction")

	hasConfidence := false
	for _, seg := range segments {
		if seg.Confidence > 0 {
			hasConfidence = true
			break
		}
	}

	var entries []correct.Entry
	for i, seg := range segments {
		if hasConfidence && seg.Confidence >= s.confThreshold {
			continue
		}
		entries = append(entries, correct.Entry{ID: i, Text: seg.Text})
	}

	result := make(map[int]string, len(segments))
	for i, seg := range segments {
		result[i] = seg.Text
	}

	if len(entries) == 0 {
		logger.Info().
			Int("segments", len(segments)).
			Float64("threshold", s.confThreshold).
			Str(log.FieldTaskID, pc.TaskID).
			Msg("all segments above confidence threshold, correction skipped")
		pc.CorrectionMap = result
		return nil
	}

	logger.Info().
		Int("correcting", len(entries)).
		Int("segments", len(segments)).
		Str(log.FieldTaskID, pc.TaskID).
		Msg("correcting low-confidence segments")

	corrected, err := s.svc.CorrectTranscript(ctx, entries, correct.ProgressFunc(onProgress))
	if err != nil {
		return fmt.Errorf("transcript correction: %w", err)
	}
	for id, text := range corrected {
		result[id] = text
	}

	pc.CorrectionMap = result
	return nil
}

// TranscriptBuildStage turns segments plus the correction map into the
// final timestamped entries, splitting merged segments back into their
// sub-sentences and dropping entries the corrector emptied as noise.
type TranscriptBuildStage struct{}

func NewTranscriptBuildStage() *TranscriptBuildStage { return &TranscriptBuildStage{} }

func (s *TranscriptBuildStage) Name() string { return "transcript_build" }

func (s *TranscriptBuildStage) ShouldRun(pc *Context) bool {
	return len(pc.Segments) > 0 && len(pc.CorrectionMap) > 0
}

func (s *TranscriptBuildStage) Execute(_ context.Context, pc *Context, _ ProgressFunc) error {
	var entries []TranscriptEntry
	noiseFiltered := 0

	for i, seg := range pc.Segments {
		corrected, ok := pc.CorrectionMap[i]
		if !ok {
			corrected = seg.Text
		}
		if corrected == "" {
			noiseFiltered++
			continue
		}

		speaker := "Speaker 1"
		if seg.Speaker >= 0 {
			speaker = fmt.Sprintf("Speaker %d", seg.Speaker+1)
		}

		if len(seg.SubSentences) > 1 {
			correctedSubs := textutil.SplitCorrectedBySubSentences(corrected, seg.SubSentences)
			originalSubs := textutil.SplitOriginalBySubSentences(seg.Text, seg.SubSentences)
			for j, sub := range correctedSubs {
				orig := sub.Text
				if j < len(originalSubs) {
					orig = originalSubs[j]
				}
				entries = append(entries, TranscriptEntry{
					Timestamp:     textutil.FormatTimestamp(sub.StartMS),
					TimestampMS:   sub.StartMS,
					EndMS:         sub.EndMS,
					Speaker:       speaker,
					Text:          orig,
					TextCorrected: sub.Text,
				})
			}
			continue
		}

		entries = append(entries, TranscriptEntry{
			Timestamp:     textutil.FormatTimestamp(seg.StartMS),
			TimestampMS:   seg.StartMS,
			EndMS:         seg.EndMS,
			Speaker:       speaker,
			Text:          seg.Text,
			TextCorrected: corrected,
		})
	}

	if noiseFiltered > 0 {
		logger := log.WithComponent("pipeline.build")
		logger.Info().
			Int("removed", noiseFiltered).
			Str(log.FieldTaskID, pc.TaskID).
			Msg("noise segments removed")
	}

	pc.Entries = entries
	return nil
}
