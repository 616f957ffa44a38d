// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes an error payload in the {"detail": ...} shape.
func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeNotFound(w http.ResponseWriter, detail string) {
	writeDetail(w, http.StatusNotFound, detail)
}

func writeServerError(w http.ResponseWriter, err error) {
	writeDetail(w, http.StatusInternalServerError, err.Error())
}

// parseHotwords decodes the optional hotwords form field, a JSON string
// array like ["词1","词2"].
func parseHotwords(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var words []string
	if err := json.Unmarshal([]byte(raw), &words); err != nil {
		return nil, fmt.Errorf("hotwords is not a JSON string array: %w", err)
	}
	if len(words) == 0 {
		return nil, nil
	}
	return words, nil
}

// readUpload reads the named multipart file, enforcing the byte cap.
func readUpload(r *http.Request, field string, maxBytes int64) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("missing %s upload: %w", field, err)
	}
	defer file.Close()

	if header.Size > maxBytes {
		return nil, "", errFileTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxBytes {
		return nil, "", errFileTooLarge
	}

	name := header.Filename
	if name == "" {
		name = "upload.bin"
	}
	return data, name, nil
}

var errFileTooLarge = errors.New("file too large")
