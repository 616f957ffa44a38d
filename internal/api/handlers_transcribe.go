// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/copernicusai/copernicus/internal/persistence"
)

// handleTranscribe runs recognition plus whole-text correction and answers
// in the same request.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	audioBytes, filename, hotwords, ok := s.readTranscribeRequest(w, r)
	if !ok {
		return
	}

	result, err := s.pipe.Process(r.Context(), audioBytes, filename, hotwords, nil)
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTranscribeRaw runs recognition only.
func (s *Server) handleTranscribeRaw(w http.ResponseWriter, r *http.Request) {
	audioBytes, filename, hotwords, ok := s.readTranscribeRequest(w, r)
	if !ok {
		return
	}

	result, err := s.pipe.ProcessRaw(r.Context(), audioBytes, filename, hotwords)
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTranscribeTranscript runs the full stage pipeline synchronously and
// returns the speaker-labeled timestamped transcript. The upload is
// persisted under a task directory first: the video stages read their
// input from there.
func (s *Server) handleTranscribeTranscript(w http.ResponseWriter, r *http.Request) {
	audioBytes, filename, hotwords, ok := s.readTranscribeRequest(w, r)
	if !ok {
		return
	}

	taskID := strings.ReplaceAll(uuid.New().String(), "-", "")

	suffix := filepath.Ext(filename)
	if suffix == "" {
		suffix = ".bin"
	}
	kind := "audio"
	if s.cfg.IsVideo(filename) {
		kind = "video"
	}
	if _, err := s.persist.SaveMedia(taskID, audioBytes, kind, suffix); err != nil {
		writeServerError(w, err)
		return
	}
	meta := persistence.Meta{Filename: filename, MediaType: kind}
	if kind == "video" {
		meta.VideoSuffix = suffix
	} else {
		meta.AudioSuffix = suffix
	}
	if err := s.persist.SaveMeta(taskID, meta); err != nil {
		writeServerError(w, err)
		return
	}

	result, err := s.pipe.ProcessTranscript(r.Context(), taskID, audioBytes, filename, hotwords, nil)
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) readTranscribeRequest(w http.ResponseWriter, r *http.Request) ([]byte, string, []string, bool) {
	audioBytes, filename, err := readUpload(r, "file", s.cfg.MaxUploadSizeBytes())
	if err != nil {
		if errors.Is(err, errFileTooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "file too large")
		} else {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		}
		return nil, "", nil, false
	}

	hotwords, err := parseHotwords(r.FormValue("hotwords"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return nil, "", nil, false
	}
	return audioBytes, filename, hotwords, true
}

// handleHealth reports recognition engine presence and LLM reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, map[string]any{
		"asr_loaded":    s.asr != nil,
		"llm_reachable": s.llm != nil && s.llm.IsReachable(ctx),
	})
}
