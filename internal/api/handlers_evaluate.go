// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strings"

	"github.com/copernicusai/copernicus/internal/taskstore"
)

// handleEvaluate uploads audio and runs recognition, correction and content
// evaluation in the same request.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	audioBytes, filename, hotwords, ok := s.readTranscribeRequest(w, r)
	if !ok {
		return
	}

	processed, err := s.pipe.Process(r.Context(), audioBytes, filename, hotwords, nil)
	if err != nil {
		writeServerError(w, err)
		return
	}
	evaluation, err := s.evaluator.Evaluate(r.Context(), processed.CorrectedText, nil)
	if err != nil {
		writeServerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, taskstore.EvaluationResponse{
		RawText:          processed.RawText,
		CorrectedText:    processed.CorrectedText,
		Evaluation:       evaluation,
		ProcessingTimeMS: processed.ProcessingTimeMS,
	})
}

// handleEvaluateAsync submits the same work as a background task.
func (s *Server) handleEvaluateAsync(w http.ResponseWriter, r *http.Request) {
	audioBytes, filename, hotwords, ok := s.readTranscribeRequest(w, r)
	if !ok {
		return
	}

	taskID := s.store.SubmitAudioEvaluation(audioBytes, filename, hotwords)
	writeJSON(w, http.StatusAccepted, taskSubmitResponse{TaskID: taskID, Status: taskstore.StatusPending})
}

// handleEvaluateText evaluates a transcript text directly.
func (s *Server) handleEvaluateText(w http.ResponseWriter, r *http.Request) {
	text := r.FormValue("text")
	if strings.TrimSpace(text) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "text must not be empty")
		return
	}

	evaluation, err := s.evaluator.Evaluate(r.Context(), text, nil)
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluation)
}

// handleEvaluateTextAsync submits text evaluation as a background task,
// optionally attached to a parent transcript task.
func (s *Server) handleEvaluateTextAsync(w http.ResponseWriter, r *http.Request) {
	text := r.FormValue("text")
	if strings.TrimSpace(text) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "text must not be empty")
		return
	}

	taskID := s.store.SubmitTextEvaluation(text, r.FormValue("parent_task_id"))
	writeJSON(w, http.StatusAccepted, taskSubmitResponse{TaskID: taskID, Status: taskstore.StatusPending})
}
