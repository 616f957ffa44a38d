// SPDX-License-Identifier: MIT

package correct

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copernicusai/copernicus/internal/llm"
)

func TestPreprocess(t *testing.T) {
	cases := []struct {
		in   string
		want string
		keep bool
	}{
		{"the the", "", false},
		{"yeah.", "", false},
		{"嗯", "", false},
		{"嗯啊", "", false},
		{"。，！", "", false},
		{"", "", false},
		{"the 对他说明条款", "对他说明条款", true},
		{"那个那个那个产品收益", "那个产品收益", true},
		{"二零二五年生效", "2025年生效", true},
		{"正常的一句话。", "正常的一句话。", true},
		{"嗯，我已经了解产品内容了", "嗯，我已经了解产品内容了", true},
	}
	for _, tc := range cases {
		got, keep := Preprocess(tc.in)
		assert.Equal(t, tc.keep, keep, tc.in)
		if tc.keep {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}

func TestCreateBatches(t *testing.T) {
	entries := []Entry{
		{ID: 1, Text: "短句"},
		{ID: 2, Text: "另一个短句"},
		{ID: 3, Text: longText(900)},
		{ID: 4, Text: "收尾"},
	}
	batches := createBatches(entries, 15, 800)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, 3, batches[1][0].ID) // oversized entry isolated
	assert.Equal(t, 4, batches[2][0].ID)
}

func TestCreateBatchesEntryCap(t *testing.T) {
	var entries []Entry
	for i := 0; i < 20; i++ {
		entries = append(entries, Entry{ID: i, Text: "短"})
	}
	batches := createBatches(entries, 15, 800)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 15)
	assert.Len(t, batches[1], 5)
}

func longText(n int) string {
	runes := make([]rune, n)
	for i := range runes {
		runes[i] = '字'
	}
	return string(runes)
}

func TestParseEntryResponse(t *testing.T) {
	m, ok := parseEntryResponse(`{"entries":[{"id":1,"text":"甲"},{"id":2,"text":"乙"}]}`)
	require.True(t, ok)
	assert.Equal(t, map[int]string{1: "甲", 2: "乙"}, m)

	m, ok = parseEntryResponse(`[{"id":3,"text":"丙"}]`)
	require.True(t, ok)
	assert.Equal(t, "丙", m[3])

	m, ok = parseEntryResponse(`{"id":4,"text":"丁"}`)
	require.True(t, ok)
	assert.Equal(t, "丁", m[4])

	_, ok = parseEntryResponse(`not json at all`)
	assert.False(t, ok)
}

func TestExtractEntriesByRegex(t *testing.T) {
	raw := `{"entries": [{"id": 1, "text": "修正后的\"文本\""}, {"id": 2, "text": "第二句"` // truncated JSON
	m := extractEntriesByRegex(raw)
	require.Len(t, m, 2)
	assert.Equal(t, `修正后的"文本"`, m[1])
	assert.Equal(t, "第二句", m[2])
}

func newLLMServer(t *testing.T, handler http.HandlerFunc) *llm.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return llm.New(llm.Config{
		BaseURL:       srv.URL,
		Model:         "test-model",
		NumCtx:        4096,
		Timeout:       2 * time.Second,
		MaxRetries:    1,
		RetryDelay:    time.Millisecond,
		MaxConcurrent: 3,
	})
}

func echoCorrection(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []llm.Message `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(body, &req))

		var wrapper struct {
			Entries []Entry `json:"entries"`
		}
		require.NoError(t, json.Unmarshal([]byte(req.Messages[len(req.Messages)-1].Content), &wrapper))
		for i := range wrapper.Entries {
			wrapper.Entries[i].Text = "润色：" + wrapper.Entries[i].Text
		}
		out, _ := json.Marshal(wrapper)

		chunk, _ := json.Marshal(map[string]any{
			"message": map[string]string{"content": string(out)},
			"done":    true,
		})
		fmt.Fprintln(w, string(chunk))
	}
}

func testConfig() Config {
	return Config{ChunkSize: 800, Overlap: 50, MaxConcurrency: 3, BatchSize: 15, NumCtx: 4096}
}

func TestCorrectTranscript(t *testing.T) {
	client := newLLMServer(t, echoCorrection(t))
	svc := New(client, testConfig(), nil, nil)

	entries := []Entry{
		{ID: 0, Text: "这款产品的保障期限是二零二五年到期。"},
		{ID: 1, Text: "嗯嗯"},
		{ID: 2, Text: "那个那个我再确认一下现金价值。"},
	}

	var lastDone, lastTotal int
	result, err := svc.CorrectTranscript(context.Background(), entries, func(done, total int) {
		lastDone, lastTotal = done, total
	})
	require.NoError(t, err)

	assert.Equal(t, "润色：这款产品的保障期限是2025年到期。", result[0])
	assert.Equal(t, "", result[1]) // noise dropped in the rule phase
	assert.Equal(t, "润色：那个我再确认一下现金价值。", result[2])
	assert.Equal(t, lastTotal, lastDone)
}

func TestCorrectTranscriptLLMFailureFallsBack(t *testing.T) {
	client := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	svc := New(client, testConfig(), nil, nil)

	result, err := svc.CorrectTranscript(context.Background(), []Entry{{ID: 7, Text: "原始文本保留"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "原始文本保留", result[7])
}

func TestCorrectTranscriptAllNoise(t *testing.T) {
	client := newLLMServer(t, echoCorrection(t))
	svc := New(client, testConfig(), nil, nil)

	result, err := svc.CorrectTranscript(context.Background(), []Entry{{ID: 1, Text: "嗯"}, {ID: 2, Text: "the the"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "", 2: ""}, result)
}

func TestCorrectWholeText(t *testing.T) {
	client := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"<think>推理</think>修正后的整段文本。"},"done":true}`)
	})
	svc := New(client, testConfig(), nil, nil)

	out, err := svc.Correct(context.Background(), "原始整段文本。", nil)
	require.NoError(t, err)
	assert.Equal(t, "修正后的整段文本。", out)
}

func TestCorrectEmptyText(t *testing.T) {
	svc := New(nil, testConfig(), nil, nil)
	out, err := svc.Correct(context.Background(), "   ", nil)
	require.NoError(t, err)
	assert.Equal(t, "   ", out)
}

type fakeSpeller struct{}

func (fakeSpeller) Correct(ctx context.Context, text string) (string, error) {
	return "拼写修正:" + text, nil
}

func TestCorrectTranscriptRunsSpellerPhase(t *testing.T) {
	client := newLLMServer(t, echoCorrection(t))
	svc := New(client, testConfig(), nil, fakeSpeller{})

	result, err := svc.CorrectTranscript(context.Background(), []Entry{{ID: 1, Text: "需要检查的句子。"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "润色：拼写修正:需要检查的句子。", result[1])
}
