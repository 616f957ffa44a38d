// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/copernicusai/copernicus/internal/compliance"
	"github.com/copernicusai/copernicus/internal/taskstore"
)

// handleComplianceAudit submits a rules audit over transcript entries as a
// background task. The rules file is CSV or XLSX; the transcript field is a
// JSON array of corrected entries.
func (s *Server) handleComplianceAudit(w http.ResponseWriter, r *http.Request) {
	rulesBytes, rulesFilename, err := readUpload(r, "rules_file", s.cfg.MaxRulesSizeBytes())
	if err != nil {
		if errors.Is(err, errFileTooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "rules file too large")
		} else {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}

	var entries []compliance.Entry
	if err := json.Unmarshal([]byte(r.FormValue("transcript")), &entries); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid transcript JSON: "+err.Error())
		return
	}
	if len(entries) == 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "transcript entries must not be empty")
		return
	}

	taskID := s.store.SubmitComplianceAudit(entries, rulesBytes, rulesFilename, r.FormValue("parent_task_id"))
	writeJSON(w, http.StatusAccepted, taskSubmitResponse{TaskID: taskID, Status: taskstore.StatusPending})
}
