// SPDX-License-Identifier: MIT

package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/copernicusai/copernicus/internal/evaluate"
	"github.com/copernicusai/copernicus/internal/fsutil"
	"github.com/copernicusai/copernicus/internal/persistence"
	"github.com/copernicusai/copernicus/internal/pipeline"
	"github.com/copernicusai/copernicus/internal/taskstore"
)

type taskSubmitResponse struct {
	TaskID   string           `json:"task_id"`
	Status   taskstore.Status `json:"status"`
	Existing bool             `json:"existing"`
}

type taskStatusResponse struct {
	TaskID   string             `json:"task_id"`
	Status   taskstore.Status   `json:"status"`
	Progress taskstore.Progress `json:"progress"`
	Result   any                `json:"result"`
	Error    *string            `json:"error"`
}

type taskResultsResponse struct {
	TaskID          string                        `json:"task_id"`
	Transcript      *pipeline.TranscriptResult    `json:"transcript"`
	Evaluation      *evaluate.Result              `json:"evaluation"`
	Compliance      *taskstore.ComplianceResponse `json:"compliance"`
	HasAudio        bool                          `json:"has_audio"`
	HasVideo        bool                          `json:"has_video"`
	HasKeyframes    bool                          `json:"has_keyframes"`
	HasOCRResults   bool                          `json:"has_ocr_results"`
	HasVisualEvents bool                          `json:"has_visual_events"`
}

// handleSubmitTask starts a plain async transcription task.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	audioBytes, filename, hotwords, ok := s.readTranscribeRequest(w, r)
	if !ok {
		return
	}

	taskID := s.store.SubmitTranscription(audioBytes, filename, hotwords)
	writeJSON(w, http.StatusAccepted, taskSubmitResponse{TaskID: taskID, Status: taskstore.StatusPending})
}

// handleSubmitTranscriptTask starts the full transcript pipeline, answering
// duplicates of already transcribed uploads from the content-hash index.
func (s *Server) handleSubmitTranscriptTask(w http.ResponseWriter, r *http.Request) {
	audioBytes, filename, hotwords, ok := s.readTranscribeRequest(w, r)
	if !ok {
		return
	}

	sum := sha256.Sum256(audioBytes)
	fileHash := hex.EncodeToString(sum[:])

	if existingID, found := s.store.LookupByHash(fileHash); found {
		writeJSON(w, http.StatusAccepted, taskSubmitResponse{
			TaskID:   existingID,
			Status:   taskstore.StatusCompleted,
			Existing: true,
		})
		return
	}

	taskID, err := s.store.SubmitTranscript(audioBytes, filename, hotwords, fileHash)
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, taskSubmitResponse{TaskID: taskID, Status: taskstore.StatusPending})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, ok := s.store.Get(taskID)
	if !ok {
		writeNotFound(w, "task not found")
		return
	}

	resp := taskStatusResponse{
		TaskID:   task.TaskID,
		Status:   task.Status,
		Progress: task.Progress(),
		Result:   task.Result,
	}
	if task.Error != "" {
		resp.Error = &task.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTaskResults returns the full persisted bundle for a task.
func (s *Server) handleTaskResults(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	if !s.persist.HasFile(taskID, persistence.MetaFile) {
		if _, ok := s.store.Get(taskID); !ok {
			writeNotFound(w, "task not found")
			return
		}
	}

	resp := taskResultsResponse{
		TaskID:          taskID,
		HasAudio:        s.persist.FindAudio(taskID) != "",
		HasVideo:        s.persist.FindVideo(taskID) != "",
		HasKeyframes:    s.persist.HasFile(taskID, persistence.KeyframesFile),
		HasOCRResults:   s.persist.HasFile(taskID, persistence.OCRResultsFile),
		HasVisualEvents: s.persist.HasFile(taskID, persistence.VisualEventsFile),
	}

	var transcript pipeline.TranscriptResult
	if err := s.persist.LoadJSON(taskID, persistence.TranscriptFile, &transcript); err == nil {
		resp.Transcript = &transcript
	}
	var evaluation evaluate.Result
	if err := s.persist.LoadJSON(taskID, persistence.EvaluationFile, &evaluation); err == nil {
		resp.Evaluation = &evaluation
	}
	var compliance taskstore.ComplianceResponse
	if err := s.persist.LoadJSON(taskID, persistence.ComplianceFile, &compliance); err == nil {
		resp.Compliance = &compliance
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleTaskAudio streams the uploaded audio for playback.
func (s *Server) handleTaskAudio(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	audioPath := s.persist.FindAudio(taskID)
	if audioPath == "" {
		writeNotFound(w, "audio file not found")
		return
	}
	serveMedia(w, r, audioPath, "audio/mpeg")
}

// handleTaskMedia streams the original upload, video first.
func (s *Server) handleTaskMedia(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	if videoPath := s.persist.FindVideo(taskID); videoPath != "" {
		serveMedia(w, r, videoPath, "video/mp4")
		return
	}
	if audioPath := s.persist.FindAudio(taskID); audioPath != "" {
		serveMedia(w, r, audioPath, "audio/mpeg")
		return
	}
	writeNotFound(w, "media file not found")
}

// handleTaskFrame streams one extracted keyframe.
func (s *Server) handleTaskFrame(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	filename := chi.URLParam(r, "filename")

	framesDir, err := s.persist.FramesDir(taskID)
	if err != nil {
		writeNotFound(w, "frame not found")
		return
	}
	framePath, err := fsutil.ConfineRelPath(framesDir, filename)
	if err != nil {
		writeNotFound(w, "frame not found")
		return
	}
	if fsutil.IsRegularFile(framePath) != nil {
		writeNotFound(w, "frame not found")
		return
	}
	serveMedia(w, r, framePath, "image/jpeg")
}

func serveMedia(w http.ResponseWriter, r *http.Request, path, fallbackMime string) {
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = fallbackMime
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, path)
}

func (s *Server) handleRerunTranscript(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	hotwords, err := parseHotwords(r.FormValue("hotwords"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := s.store.RerunTranscript(taskID, hotwords); err != nil {
		if errors.Is(err, taskstore.ErrTaskNotFound) {
			writeNotFound(w, err.Error())
		} else {
			writeServerError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, taskSubmitResponse{TaskID: taskID, Status: taskstore.StatusPending})
}

func (s *Server) handleRerunEvaluation(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	childID, err := s.store.RerunEvaluation(taskID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeNotFound(w, "transcript not found for task")
		} else {
			writeServerError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, taskSubmitResponse{TaskID: childID, Status: taskstore.StatusPending})
}

type violationUpdate struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
}

type violationPatchRequest struct {
	Updates []violationUpdate `json:"updates"`
}

var validReviewStatus = map[string]bool{
	"pending":   true,
	"confirmed": true,
	"rejected":  true,
}

// handlePatchViolations updates per-violation review status in the
// persisted compliance report.
func (s *Server) handlePatchViolations(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var req violationPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if len(req.Updates) == 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "updates must not be empty")
		return
	}

	var report taskstore.ComplianceResponse
	if err := s.persist.LoadJSON(taskID, persistence.ComplianceFile, &report); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeNotFound(w, "compliance report not found")
		} else {
			writeServerError(w, err)
		}
		return
	}

	for _, u := range req.Updates {
		if !validReviewStatus[u.Status] {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid review status: "+u.Status)
			return
		}
		if report.Report == nil || u.Index < 0 || u.Index >= len(report.Report.Violations) {
			writeDetail(w, http.StatusUnprocessableEntity, "violation index out of range")
			return
		}
	}
	for _, u := range req.Updates {
		report.Report.Violations[u.Index].ReviewStatus = u.Status
	}

	if err := s.persist.SaveJSON(taskID, persistence.ComplianceFile, &report); err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &report)
}
