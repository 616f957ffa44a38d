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
	"unicode/utf8"
)

// ErrOCR marks OCR sidecar failures.
var ErrOCR = errors.New("ocr error")

// FrameScanner abstracts the OCR engine.
type FrameScanner interface {
	ScanFrame(ctx context.Context, imagePath string, timestampMS int) ([]OCRRecord, error)
}

// HTTPScanner calls an OCR sidecar over HTTP. The sidecar shares the upload
// volume, so frames are passed by path rather than by bytes.
type HTTPScanner struct {
	baseURL       string
	confThreshold float64
	minTextLen    int
	httpc         *http.Client
}

func NewHTTPScanner(baseURL string, confThreshold float64, minTextLen int) *HTTPScanner {
	return &HTTPScanner{
		baseURL:       strings.TrimRight(baseURL, "/"),
		confThreshold: confThreshold,
		minTextLen:    minTextLen,
		httpc:         &http.Client{Timeout: 2 * time.Minute},
	}
}

type ocrRequest struct {
	Path string `json:"path"`
}

type ocrRegion struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Box   [][]int `json:"box,omitempty"`
}

type ocrResponse struct {
	Regions []ocrRegion `json:"regions"`
}

// ScanFrame runs OCR on one keyframe and filters out low-confidence and
// too-short regions.
func (s *HTTPScanner) ScanFrame(ctx context.Context, imagePath string, timestampMS int) ([]OCRRecord, error) {
	body, err := json.Marshal(ocrRequest{Path: imagePath})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrOCR, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCR, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCR, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrOCR, resp.StatusCode)
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrOCR, err)
	}

	records := make([]OCRRecord, 0, len(out.Regions))
	for _, region := range out.Regions {
		if region.Score < s.confThreshold {
			continue
		}
		if utf8.RuneCountInString(region.Text) < s.minTextLen {
			continue
		}
		records = append(records, OCRRecord{
			TimestampMS: timestampMS,
			Text:        region.Text,
			Confidence:  region.Score,
			FramePath:   imagePath,
			BBox:        region.Box,
		})
	}
	return records, nil
}
