// SPDX-License-Identifier: MIT

package persistence

import (
	"os"
	"path/filepath"
)

// TaskSummary is what a disk scan recovers about one persisted task.
type TaskSummary struct {
	TaskID          string `json:"task_id"`
	Meta            Meta   `json:"meta"`
	HasTranscript   bool   `json:"has_transcript"`
	HasEvaluation   bool   `json:"has_evaluation"`
	HasCompliance   bool   `json:"has_compliance"`
	AudioPath       string `json:"audio_path,omitempty"`
	HasVideo        bool   `json:"has_video"`
	KeyframeCount   int    `json:"keyframe_count"`
	HasOCRResults   bool   `json:"has_ocr_results"`
	HasVisualEvents bool   `json:"has_visual_events"`
}

// ScanCompleted walks the upload root and returns every task directory that
// carries a readable meta.json. Used on boot to repopulate the task registry
// after a restart.
func (s *Store) ScanCompleted() []TaskSummary {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upload root scan failed")
		return nil
	}

	var results []TaskSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		taskID := entry.Name()

		meta, err := s.LoadMeta(taskID)
		if err != nil {
			continue
		}

		dir := filepath.Join(s.root, taskID)
		results = append(results, TaskSummary{
			TaskID:          taskID,
			Meta:            meta,
			HasTranscript:   s.HasFile(taskID, TranscriptFile),
			HasEvaluation:   s.HasFile(taskID, EvaluationFile),
			HasCompliance:   s.HasFile(taskID, ComplianceFile),
			AudioPath:       s.FindAudio(taskID),
			HasVideo:        s.FindVideo(taskID) != "",
			KeyframeCount:   countFiles(filepath.Join(dir, framesDirName)),
			HasOCRResults:   s.HasFile(taskID, OCRResultsFile),
			HasVisualEvents: s.HasFile(taskID, VisualEventsFile),
		})
	}

	s.logger.Info().Int("tasks", len(results)).Msg("persisted tasks scanned")
	return results
}

func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}
