// SPDX-License-Identifier: MIT

package visual

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

// ErrFaceDetect marks face-detection sidecar failures.
var ErrFaceDetect = errors.New("face detection error")

// FaceDetector abstracts the face model.
type FaceDetector interface {
	DetectFrame(ctx context.Context, imagePath string) ([]Face, error)
}

// HTTPDetector calls a face-detection sidecar over HTTP.
type HTTPDetector struct {
	baseURL    string
	confidence float64
	httpc      *http.Client
}

func NewHTTPDetector(baseURL string, confidence float64) *HTTPDetector {
	return &HTTPDetector{
		baseURL:    strings.TrimRight(baseURL, "/"),
		confidence: confidence,
		httpc:      &http.Client{Timeout: 2 * time.Minute},
	}
}

type detectRequest struct {
	Path       string  `json:"path"`
	Confidence float64 `json:"confidence"`
}

type detectResponse struct {
	Faces []Face `json:"faces"`
}

// DetectFrame returns the faces found in one keyframe.
func (d *HTTPDetector) DetectFrame(ctx context.Context, imagePath string) ([]Face, error) {
	body, err := json.Marshal(detectRequest{Path: imagePath, Confidence: d.confidence})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrFaceDetect, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFaceDetect, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFaceDetect, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFaceDetect, resp.StatusCode)
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrFaceDetect, err)
	}
	return out.Faces, nil
}
