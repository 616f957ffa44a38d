// SPDX-License-Identifier: MIT

package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrExtractor marks voiceprint sidecar failures.
var ErrExtractor = errors.New("voiceprint extractor error")

// Extractor produces a fixed-length voiceprint embedding for a PCM slice.
type Extractor interface {
	Embed(ctx context.Context, samples []float64, sampleRate int) ([]float64, error)
}

// HTTPExtractor calls the voiceprint sidecar over HTTP.
type HTTPExtractor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExtractor builds a sidecar client. Embedding a short window is
// cheap; the generous timeout covers sidecar model warm-up.
func NewHTTPExtractor(baseURL string) *HTTPExtractor {
	return &HTTPExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type embedRequest struct {
	Samples    []float64 `json:"samples"`
	SampleRate int       `json:"sample_rate"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed sends one window to the sidecar and returns its embedding.
func (e *HTTPExtractor) Embed(ctx context.Context, samples []float64, sampleRate int) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Samples: samples, SampleRate: sampleRate})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrExtractor, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractor, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractor, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrExtractor, resp.StatusCode, snippet)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrExtractor, err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrExtractor)
	}
	return out.Embedding, nil
}
