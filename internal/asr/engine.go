// SPDX-License-Identifier: MIT

package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrEngine marks recognition engine failures.
var ErrEngine = errors.New("asr engine error")

// SentenceInfo is one sentence-level engine entry (paraformer mode) with
// timestamps and a provisional speaker id.
type SentenceInfo struct {
	Text       string   `json:"text"`
	StartMS    int      `json:"start"`
	EndMS      int      `json:"end"`
	Speaker    int      `json:"spk"`
	Timestamps [][2]int `json:"timestamp"`
}

// EngineOutput is the raw inference result before post-processing.
type EngineOutput struct {
	Text            string         `json:"text"`
	SentenceInfo    []SentenceInfo `json:"sentence_info"`
	Timestamps      [][2]int       `json:"timestamp"`
	TokenConfidence []float64      `json:"token_confidence"`
}

// Recognizer abstracts the external speech engine.
type Recognizer interface {
	Recognize(ctx context.Context, audioPath string, hotwords []string, sentenceTimestamp bool) (*EngineOutput, error)
}

// HTTPRecognizer calls a recognition sidecar over HTTP.
type HTTPRecognizer struct {
	baseURL  string
	mode     string
	language string
	httpc    *http.Client
}

// NewHTTPRecognizer builds a recognizer client for the given sidecar.
func NewHTTPRecognizer(baseURL, mode, language string) *HTTPRecognizer {
	return &HTTPRecognizer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		mode:     mode,
		language: language,
		httpc:    &http.Client{Timeout: 30 * time.Minute},
	}
}

type recognizeRequest struct {
	Path              string   `json:"path"`
	Mode              string   `json:"mode"`
	Language          string   `json:"language,omitempty"`
	Hotwords          []string `json:"hotwords,omitempty"`
	SentenceTimestamp bool     `json:"sentence_timestamp"`
	OutputTimestamp   bool     `json:"output_timestamp"`
}

// Recognize posts the audio path to the sidecar and decodes the raw output.
func (r *HTTPRecognizer) Recognize(ctx context.Context, audioPath string, hotwords []string, sentenceTimestamp bool) (*EngineOutput, error) {
	body, err := json.Marshal(recognizeRequest{
		Path:              audioPath,
		Mode:              r.mode,
		Language:          r.language,
		Hotwords:          hotwords,
		SentenceTimestamp: sentenceTimestamp,
		OutputTimestamp:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrEngine, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/recognize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrEngine, resp.StatusCode)
	}

	var out EngineOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEngine, err)
	}
	return &out, nil
}
