// SPDX-License-Identifier: MIT

package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copernicusai/copernicus/internal/llm"
)

func ndjson(content string) string {
	chunk, _ := json.Marshal(map[string]any{
		"message": map[string]string{"content": content},
		"done":    true,
	})
	return string(chunk)
}

func newAuditor(t *testing.T, handler http.HandlerFunc) *Auditor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := llm.New(llm.Config{
		BaseURL:       srv.URL,
		Model:         "test-model",
		NumCtx:        8192,
		Timeout:       2 * time.Second,
		MaxRetries:    1,
		RetryDelay:    time.Millisecond,
		MaxConcurrent: 3,
	})
	return NewAuditor(client, Config{
		MaxTextChars:        50000,
		ChunkSize:           4000,
		NumCtx:              8192,
		ConfidenceThreshold: 0.7,
		DedupWindowMS:       30000,
		OCRMarginMS:         10000,
	})
}

func TestParseViolationsShapes(t *testing.T) {
	rules := []Rule{{ID: 5, Content: "不得夸大收益"}}

	item := `{"rule_id":5,"timestamp":"05:20","timestamp_ms":320000,"end_ms":325000,"speaker":"speaker_0","original_text":"保证收益百分之五","reason":"承诺收益","severity":"high","confidence":0.9}`

	// bare array
	vs, err := ParseViolations("["+item+"]", rules, nil)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "不得夸大收益", vs[0].RuleContent) // filled from rules
	assert.Equal(t, 320000, vs[0].TimestampMS)
	assert.Equal(t, "transcript", vs[0].Source)

	// wrapper object
	vs, err = ParseViolations(`{"violations":[`+item+`]}`, rules, nil)
	require.NoError(t, err)
	assert.Len(t, vs, 1)

	// single object
	vs, err = ParseViolations(item, rules, nil)
	require.NoError(t, err)
	assert.Len(t, vs, 1)

	// empty array with prose around it
	vs, err = ParseViolations("审核结果如下：\n[]", rules, nil)
	require.NoError(t, err)
	assert.Empty(t, vs)

	// think tags and fences
	vs, err = ParseViolations("<think>分析</think>```json\n["+item+"]\n```", rules, nil)
	require.NoError(t, err)
	assert.Len(t, vs, 1)
}

func TestParseViolationsDefaults(t *testing.T) {
	vs, err := ParseViolations(`[{"rule_id":3}]`, nil, nil)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "00:00", vs[0].Timestamp)
	assert.Equal(t, "low", vs[0].Severity)
	assert.Equal(t, 0.5, vs[0].Confidence)
}

func TestParseViolationsResolvesTimestamps(t *testing.T) {
	entries := []Entry{
		{ID: 0, Timestamp: "05:20", TimestampMS: 320500, EndMS: 324800},
		{ID: 1, Timestamp: "05:20", TimestampMS: 700000, EndMS: 705000},
	}

	// model-reported ms is replaced by the entry's precise position;
	// the first entry wins a duplicated display timestamp
	vs, err := ParseViolations(`[{"rule_id":1,"timestamp":"05:20","timestamp_ms":999999,"end_ms":999999}]`, nil, entries)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, 320500, vs[0].TimestampMS)
	assert.Equal(t, 324800, vs[0].EndMS)

	// a timestamp unknown to the transcript keeps the model's value
	vs, err = ParseViolations(`[{"rule_id":1,"timestamp":"99:59","timestamp_ms":123000}]`, nil, entries)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, 123000, vs[0].TimestampMS)
}

func TestParseViolationsCoercesUnknownSeverity(t *testing.T) {
	vs, err := ParseViolations(`[{"rule_id":1,"severity":"critical"},{"rule_id":2,"severity":"HIGH"}]`, nil, nil)
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, "low", vs[0].Severity)
	assert.Equal(t, "high", vs[1].Severity)
}

func TestAuditFindsViolations(t *testing.T) {
	auditor := newAuditor(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "合规审核总结") {
			fmt.Fprintln(w, ndjson("发现1条高风险违规，建议加强话术培训。"))
			return
		}
		fmt.Fprintln(w, ndjson(`[{"rule_id":5,"timestamp":"01:00","timestamp_ms":60000,"original_text":"我们保证收益翻倍","reason":"违反规则5承诺收益","severity":"high","confidence":0.95}]`))
	})

	rules := []Rule{{ID: 5, Content: "不得夸大或变相夸大保险产品收益，不得承诺保证收益"}}
	entries := []Entry{
		{ID: 0, Timestamp: "01:00", TimestampMS: 60000, Speaker: "speaker_0", Text: "我们保证收益翻倍"},
	}

	var lastDone, lastTotal int
	report, err := auditor.Audit(context.Background(), rules, entries, AuditOptions{
		OnProgress: func(done, total int) { lastDone, lastTotal = done, total },
	})
	require.NoError(t, err)

	require.Len(t, report.Violations, 1)
	assert.Equal(t, 5, report.Violations[0].RuleID)
	assert.Equal(t, 85.0, report.ComplianceScore)
	assert.Equal(t, 1, report.TotalRules)
	assert.Equal(t, 1, report.TotalSegmentsChecked)
	assert.Contains(t, report.Summary, "高风险")
	assert.Equal(t, map[string]int{"transcript": 1}, report.SourceCounts)
	assert.Equal(t, lastTotal, lastDone)
}

func TestAuditNoViolations(t *testing.T) {
	auditor := newAuditor(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, ndjson("[]"))
	})

	report, err := auditor.Audit(context.Background(),
		[]Rule{{ID: 1, Content: "如实告知"}},
		[]Entry{{Text: "完全合规的内容"}},
		AuditOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Violations)
	assert.Equal(t, 100.0, report.ComplianceScore)
	assert.Equal(t, "审核完成，未发现违规内容。", report.Summary)
}

func TestAuditChunkFailureIsTolerated(t *testing.T) {
	auditor := newAuditor(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "合规审核总结") {
			fmt.Fprintln(w, ndjson("总结"))
			return
		}
		fmt.Fprintln(w, ndjson("完全无法解析的输出，没有任何括号"))
	})

	report, err := auditor.Audit(context.Background(),
		[]Rule{{ID: 1, Content: "如实告知"}},
		[]Entry{{Text: "内容"}},
		AuditOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Violations)
}

func TestBuildEntryChunks(t *testing.T) {
	auditor := &Auditor{cfg: Config{ChunkSize: 10}}
	entries := []Entry{
		{Text: strings.Repeat("甲", 6)},
		{Text: strings.Repeat("乙", 6)},
		{Text: strings.Repeat("丙", 3)},
	}
	chunks := auditor.buildEntryChunks(entries)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 1)
	assert.Len(t, chunks[1], 2)
}
