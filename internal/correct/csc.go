// SPDX-License-Identifier: MIT

package correct

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SpellCorrector fixes common Chinese misspellings before the LLM phase.
// Implementations are best-effort; callers fall back to the input on error.
type SpellCorrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

// HTTPSpellCorrector calls the MacBERT spelling sidecar.
type HTTPSpellCorrector struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSpellCorrector builds a sidecar client.
func NewHTTPSpellCorrector(baseURL string) *HTTPSpellCorrector {
	return &HTTPSpellCorrector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type cscRequest struct {
	Text string `json:"text"`
}

type cscResponse struct {
	Target string `json:"target"`
}

// Correct returns the sidecar's corrected text.
func (c *HTTPSpellCorrector) Correct(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(cscRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("spell corrector: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/correct", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("spell corrector: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("spell corrector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("spell corrector: status %d: %s", resp.StatusCode, snippet)
	}

	var out cscResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("spell corrector: decode: %w", err)
	}
	if out.Target == "" {
		return text, nil
	}
	return out.Target, nil
}
