// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copernicusai/copernicus/internal/compliance"
	"github.com/copernicusai/copernicus/internal/config"
	"github.com/copernicusai/copernicus/internal/evaluate"
	"github.com/copernicusai/copernicus/internal/llm"
	"github.com/copernicusai/copernicus/internal/media"
	"github.com/copernicusai/copernicus/internal/persistence"
	"github.com/copernicusai/copernicus/internal/pipeline"
	"github.com/copernicusai/copernicus/internal/taskstore"
)

type testEnv struct {
	server  *Server
	router  http.Handler
	store   *taskstore.Store
	persist *persistence.Store
}

func newTestEnv(t *testing.T, llmContent string) *testEnv {
	t.Helper()

	cfg := config.Defaults()
	cfg.UploadDir = t.TempDir()
	cfg.MaxUploadSizeMB = 1
	// scratch ffmpeg path so media work fails fast instead of hanging
	cfg.FFmpegPath = filepath.Join(t.TempDir(), "no-ffmpeg")
	cfg.FFprobePath = cfg.FFmpegPath

	persist, err := persistence.New(cfg.UploadDir)
	require.NoError(t, err)

	var client *llm.Client
	if llmContent != "" {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chunk, _ := json.Marshal(map[string]any{
				"message": map[string]string{"content": llmContent},
				"done":    true,
			})
			fmt.Fprintln(w, string(chunk))
		}))
		t.Cleanup(srv.Close)
		client = llm.New(llm.Config{
			BaseURL:       srv.URL,
			Model:         "test-model",
			Timeout:       2 * time.Second,
			MaxRetries:    1,
			RetryDelay:    time.Millisecond,
			MaxConcurrent: 2,
		})
	}

	evaluator := evaluate.New(client, evaluate.Config{
		MaxTextChars: 10000, ChunkSize: 3000, NumCtx: 4096, MaxRetries: 2,
	})
	auditor := compliance.NewAuditor(client, compliance.Config{
		MaxTextChars: 50000, ChunkSize: 4000, NumCtx: 8192,
		ConfidenceThreshold: 0.7, DedupWindowMS: 30000, OCRMarginMS: 5000,
	})

	proc := media.New(cfg.FFmpegPath, cfg.FFprobePath)
	pipe := pipeline.New(pipeline.Deps{Settings: cfg, Media: proc, Store: persist})

	store := taskstore.New(pipe, evaluator, auditor, persist, taskstore.Config{
		TaskTimeout: 5 * time.Second,
		MaxInMemory: 100,
		IsVideo:     cfg.IsVideo,
	})
	t.Cleanup(store.Close)

	server := New(cfg, store, pipe, evaluator, nil, client, persist)
	return &testEnv{server: server, router: server.Router(), store: store, persist: persist}
}

func multipartBody(t *testing.T, fileField, filename string, fileBytes []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if fileField != "" {
		part, err := mw.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = part.Write(fileBytes)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doRequest(env *testEnv, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")

	rec := doRequest(env, http.MethodGet, "/api/v1/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.False(t, health["asr_loaded"])
	assert.False(t, health["llm_reachable"])
}

func TestTaskStatusNotFound(t *testing.T) {
	env := newTestEnv(t, "")
	rec := doRequest(env, http.MethodGet, "/api/v1/tasks/nosuchtask", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitTranscriptTask(t *testing.T) {
	env := newTestEnv(t, "")

	body, contentType := multipartBody(t, "file", "讲座.wav", []byte("fake-audio-bytes"), nil)
	rec := doRequest(env, http.MethodPost, "/api/v1/tasks/transcript", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp taskSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.TaskID, 32)
	assert.Equal(t, taskstore.StatusPending, resp.Status)
	assert.False(t, resp.Existing)

	// upload and meta are persisted before the worker starts
	assert.NotEmpty(t, env.persist.FindAudio(resp.TaskID))
	assert.True(t, env.persist.HasFile(resp.TaskID, persistence.MetaFile))

	// worker fails fast: ffmpeg binary does not exist
	require.Eventually(t, func() bool {
		info, ok := env.store.Get(resp.TaskID)
		return ok && info.Status == taskstore.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubmitTranscriptTaskDedup(t *testing.T) {
	env := newTestEnv(t, "")
	audio := []byte("identical-content")

	body, contentType := multipartBody(t, "file", "a.wav", audio, nil)
	rec := doRequest(env, http.MethodPost, "/api/v1/tasks/transcript", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var first taskSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	// a completed transcript makes the hash entry answerable
	require.NoError(t, env.persist.SaveJSON(first.TaskID, persistence.TranscriptFile, map[string]any{"transcript": []any{}}))

	body, contentType = multipartBody(t, "file", "b.wav", audio, nil)
	rec = doRequest(env, http.MethodPost, "/api/v1/tasks/transcript", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var second taskSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(t, second.Existing)
	assert.Equal(t, first.TaskID, second.TaskID)
	assert.Equal(t, taskstore.StatusCompleted, second.Status)
}

func TestSubmitTaskInvalidHotwords(t *testing.T) {
	env := newTestEnv(t, "")
	body, contentType := multipartBody(t, "file", "a.wav", []byte("x"), map[string]string{"hotwords": "not-json"})
	rec := doRequest(env, http.MethodPost, "/api/v1/tasks/transcript", body, contentType)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, "")
	big := bytes.Repeat([]byte("a"), 2*1024*1024) // cap is 1 MB
	body, contentType := multipartBody(t, "file", "big.wav", big, nil)
	rec := doRequest(env, http.MethodPost, "/api/v1/tasks/transcript", body, contentType)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestEvaluateTextEmpty(t *testing.T) {
	env := newTestEnv(t, "")
	body, contentType := multipartBody(t, "", "", nil, map[string]string{"text": "   "})
	rec := doRequest(env, http.MethodPost, "/api/v1/evaluate/text", body, contentType)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestEvaluateTextAsync(t *testing.T) {
	evalJSON := `{"meta":{"title":"t","category":"c","keywords":[]},"scores":{"logic":30,"info_density":30,"expression":30,"total":90},"analysis":{"main_points":[],"key_data":[],"sentiment":"中立"},"summary":"s"}`
	env := newTestEnv(t, evalJSON)

	body, contentType := multipartBody(t, "", "", nil, map[string]string{"text": "一段待评估的文本。"})
	rec := doRequest(env, http.MethodPost, "/api/v1/evaluate/text/async", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp taskSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Eventually(t, func() bool {
		info, ok := env.store.Get(resp.TaskID)
		return ok && info.Status == taskstore.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	statusRec := doRequest(env, http.MethodGet, "/api/v1/tasks/"+resp.TaskID, nil, "")
	require.Equal(t, http.StatusOK, statusRec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.Equal(t, "completed", status["status"])
	assert.Nil(t, status["error"])
	assert.NotNil(t, status["result"])
}

func TestComplianceAuditValidation(t *testing.T) {
	env := newTestEnv(t, "[]")
	rules := []byte("1、不得承诺保本保收益\n")

	// invalid transcript JSON
	body, contentType := multipartBody(t, "rules_file", "rules.csv", rules, map[string]string{"transcript": "{broken"})
	rec := doRequest(env, http.MethodPost, "/api/v1/compliance/audit/async", body, contentType)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// empty transcript array
	body, contentType = multipartBody(t, "rules_file", "rules.csv", rules, map[string]string{"transcript": "[]"})
	rec = doRequest(env, http.MethodPost, "/api/v1/compliance/audit/async", body, contentType)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// valid submission
	entries := `[{"id":0,"timestamp":"00:00","timestamp_ms":0,"end_ms":3000,"speaker":"Speaker 1","text_corrected":"这款产品收益稳健。"}]`
	body, contentType = multipartBody(t, "rules_file", "rules.csv", rules, map[string]string{"transcript": entries})
	rec = doRequest(env, http.MethodPost, "/api/v1/compliance/audit/async", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp taskSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Eventually(t, func() bool {
		info, ok := env.store.Get(resp.TaskID)
		return ok && info.Status == taskstore.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTaskResultsBundle(t *testing.T) {
	env := newTestEnv(t, "")

	transcript := pipeline.TranscriptResult{Transcript: []pipeline.TranscriptEntry{
		{Timestamp: "00:00", Speaker: "Speaker 1", Text: "你好", TextCorrected: "你好"},
	}}
	require.NoError(t, env.persist.SaveMeta("bundle01", persistence.Meta{Filename: "a.wav"}))
	require.NoError(t, env.persist.SaveJSON("bundle01", persistence.TranscriptFile, &transcript))

	rec := doRequest(env, http.MethodGet, "/api/v1/tasks/bundle01/results", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp taskResultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Transcript)
	assert.Len(t, resp.Transcript.Transcript, 1)
	assert.Nil(t, resp.Evaluation)
	assert.Nil(t, resp.Compliance)
	assert.False(t, resp.HasAudio)
	assert.False(t, resp.HasKeyframes)
}

func TestTaskResultsNotFound(t *testing.T) {
	env := newTestEnv(t, "")
	rec := doRequest(env, http.MethodGet, "/api/v1/tasks/unknown99/results", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchViolations(t *testing.T) {
	env := newTestEnv(t, "")

	report := taskstore.ComplianceResponse{
		Rules: []compliance.Rule{{ID: 1, Content: "不得承诺保本保收益"}},
		Report: &compliance.Report{
			TotalRules: 1,
			Violations: []compliance.Violation{
				{RuleID: 1, OriginalText: "保证不会亏", Severity: "high", ReviewStatus: "pending"},
			},
			ComplianceScore: 85,
		},
	}
	require.NoError(t, env.persist.SaveJSON("audit01", persistence.ComplianceFile, &report))

	patch := bytes.NewBufferString(`{"updates":[{"index":0,"status":"confirmed"}]}`)
	rec := doRequest(env, http.MethodPatch, "/api/v1/tasks/audit01/compliance/violations", patch, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	var saved taskstore.ComplianceResponse
	require.NoError(t, env.persist.LoadJSON("audit01", persistence.ComplianceFile, &saved))
	assert.Equal(t, "confirmed", saved.Report.Violations[0].ReviewStatus)

	patch = bytes.NewBufferString(`{"updates":[{"index":0,"status":"rejected"}]}`)
	rec = doRequest(env, http.MethodPatch, "/api/v1/tasks/audit01/compliance/violations", patch, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, env.persist.LoadJSON("audit01", persistence.ComplianceFile, &saved))
	assert.Equal(t, "rejected", saved.Report.Violations[0].ReviewStatus)
}

func TestPatchViolationsInvalid(t *testing.T) {
	env := newTestEnv(t, "")

	report := taskstore.ComplianceResponse{Report: &compliance.Report{
		Violations: []compliance.Violation{{RuleID: 1, ReviewStatus: "pending"}},
	}}
	require.NoError(t, env.persist.SaveJSON("audit02", persistence.ComplianceFile, &report))

	// bad status values
	patch := bytes.NewBufferString(`{"updates":[{"index":0,"status":"maybe"}]}`)
	rec := doRequest(env, http.MethodPatch, "/api/v1/tasks/audit02/compliance/violations", patch, "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	patch = bytes.NewBufferString(`{"updates":[{"index":0,"status":"dismissed"}]}`)
	rec = doRequest(env, http.MethodPatch, "/api/v1/tasks/audit02/compliance/violations", patch, "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// index out of range
	patch = bytes.NewBufferString(`{"updates":[{"index":5,"status":"confirmed"}]}`)
	rec = doRequest(env, http.MethodPatch, "/api/v1/tasks/audit02/compliance/violations", patch, "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// unknown task
	patch = bytes.NewBufferString(`{"updates":[{"index":0,"status":"confirmed"}]}`)
	rec = doRequest(env, http.MethodPatch, "/api/v1/tasks/ghost/compliance/violations", patch, "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskFrameServing(t *testing.T) {
	env := newTestEnv(t, "")

	framesDir, err := env.persist.FramesDir("frametask")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(framesDir, "0001.jpg"), []byte("jpegdata"), 0o644))

	rec := doRequest(env, http.MethodGet, "/api/v1/tasks/frametask/frames/0001.jpg", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "image/jpeg"))

	rec = doRequest(env, http.MethodGet, "/api/v1/tasks/frametask/frames/0002.jpg", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskAudioNotFound(t *testing.T) {
	env := newTestEnv(t, "")
	rec := doRequest(env, http.MethodGet, "/api/v1/tasks/noaudio/audio", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
