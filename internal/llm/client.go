// SPDX-License-Identifier: MIT

// Package llm provides a client for Ollama's native /api/chat endpoint.
//
// The native API exposes num_ctx, temperature and format=json, which are not
// reachable through the OpenAI-compatible endpoint. Responses are consumed as
// a newline-delimited JSON stream so long inferences do not hit the read
// timeout as long as tokens keep arriving.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/metrics"
)

// DefaultBaseURL is the default address of a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

var (
	// ErrTransport marks network failures and 5xx responses (retryable).
	ErrTransport = errors.New("llm transport error")
	// ErrServer marks non-retryable 4xx responses.
	ErrServer = errors.New("llm server error")
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response carries the concatenated stream content plus final-chunk metadata.
type Response struct {
	Content       string
	Model         string
	TotalDuration int64
	EvalCount     int
}

// Options tune a single chat call. Zero values fall back to client defaults.
type Options struct {
	Temperature *float64
	JSONFormat  bool
	NumCtx      int
	Think       *bool // nil: engine default, false: suppress thinking, true: force
	NumPredict  int
	Timeout     time.Duration // overrides the per-chunk read timeout
}

// Config holds client construction parameters.
type Config struct {
	BaseURL       string
	Model         string
	Temperature   float64
	NumCtx        int
	Timeout       time.Duration // per-chunk read timeout
	MaxRetries    int
	RetryDelay    time.Duration // first retry delay, doubled per attempt
	MaxConcurrent int
}

// Client is a bounded-concurrency streaming chat client. Safe for concurrent use.
type Client struct {
	baseURL    string
	model      string
	temp       float64
	numCtx     int
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	sem        chan struct{}
	httpc      *http.Client
	logger     zerolog.Logger
}

// New constructs a Client. A zero BaseURL falls back to DefaultBaseURL; the
// OpenAI-compat /v1 suffix is stripped so the native endpoint is used.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		model:      cfg.Model,
		temp:       cfg.Temperature,
		numCtx:     cfg.NumCtx,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		httpc:      &http.Client{},
		logger:     log.WithComponent("llm"),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Chat sends a streaming chat completion request, retrying transport failures
// with exponential backoff. The concurrency permit is held for the whole call,
// not per chunk. Callers never see partial content.
func (c *Client) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	maxAttempts := 1 + c.maxRetries
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.chatOnce(ctx, messages, opts)
		if err == nil {
			metrics.LLMRequests.WithLabelValues("ok").Inc()
			return resp, nil
		}
		lastErr = err

		if !errors.Is(err, ErrTransport) {
			metrics.LLMRequests.WithLabelValues("server_error").Inc()
			return nil, err
		}
		if attempt >= maxAttempts {
			break
		}

		delay := c.retryDelay * time.Duration(1<<(attempt-1))
		metrics.LLMRetries.Inc()
		c.logger.Warn().
			Int(log.FieldAttempt, attempt).
			Int("max_attempts", maxAttempts).
			Dur("delay", delay).
			Err(err).
			Msg("llm attempt failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
		}
	}

	metrics.LLMRequests.WithLabelValues("transport_error").Inc()
	return nil, lastErr
}

type chatPayload struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options"`
	Think    *bool          `json:"think,omitempty"`
	Format   string         `json:"format,omitempty"`
}

type streamChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done          bool   `json:"done"`
	Model         string `json:"model"`
	TotalDuration int64  `json:"total_duration"`
	EvalCount     int    `json:"eval_count"`
}

func (c *Client) chatOnce(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
	}
	defer func() { <-c.sem }()
	metrics.LLMInFlight.Inc()
	defer metrics.LLMInFlight.Dec()

	options := map[string]any{
		"num_ctx":     c.numCtx,
		"temperature": c.temp,
	}
	if opts.NumCtx > 0 {
		options["num_ctx"] = opts.NumCtx
	}
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	}
	if opts.NumPredict > 0 {
		options["num_predict"] = opts.NumPredict
	}

	payload := chatPayload{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
		Options:  options,
		Think:    opts.Think,
	}
	if opts.JSONFormat {
		payload.Format = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrServer, err)
	}

	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrServer, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	}

	// Per-chunk read deadline: the timer is reset on every received line, so a
	// steadily producing inference never trips it.
	idle := time.AfterFunc(timeout, cancel)
	defer idle.Stop()

	out := &Response{Model: c.model}
	var content strings.Builder
	done := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		idle.Reset(timeout)
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			c.logger.Warn().Str("line", truncate(line, 100)).Msg("failed to parse streaming chunk")
			continue
		}
		content.WriteString(chunk.Message.Content)
		if chunk.Done {
			done = true
			if chunk.Model != "" {
				out.Model = chunk.Model
			}
			out.TotalDuration = chunk.TotalDuration
			out.EvalCount = chunk.EvalCount
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: stream read: %v", ErrTransport, err)
	}
	// a stream that closes before the final done chunk delivered truncated
	// content; retry rather than hand back a partial completion
	if !done {
		return nil, fmt.Errorf("%w: stream ended before final chunk", ErrTransport)
	}

	out.Content = content.String()
	return out, nil
}

// IsReachable reports whether the Ollama server answers /api/tags.
func (c *Client) IsReachable(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
