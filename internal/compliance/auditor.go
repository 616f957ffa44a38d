// SPDX-License-Identifier: MIT

package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/copernicusai/copernicus/internal/llm"
	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/metrics"
)

const auditSystemPrompt = `你是一个保险行业合规审核专家，执行严格的合规质检任务。

### 核心工作方法
1. 你必须逐条对照【审核标准】中的每一条规则，检查【语音转录文本】中是否存在违反。
2. 宁严勿松：有疑似违规的内容也必须报告（标记为 medium），绝不放过。
3. 对于包含"不允许出现"、"不得"、"禁止"等关键词的规则，执行精确匹配——只要转录文本中出现了规则禁止的字样或语义相近的表述，即判定为违规。
4. ASR 转写存在同音字误差（如"保种"可能是"保证"），你必须结合上下文语义判断，不要因为同音字差异而漏判。

### 绝对格式约束
1. 你必须且只能输出一段合法的 JSON 数组。
2. 严禁输出任何 Markdown 标记、开场白、结束语或解释文字。
3. 如果没有发现违规，输出空数组 []。

### JSON 输出结构（数组中的每个元素）
{
    "rule_id": 对应审核标准的编号(整数),
    "timestamp": "违规发生的时间(来自转录文本中的时间标记，如 05:20)",
    "timestamp_ms": 违规发生的毫秒时间戳(整数),
    "end_ms": 违规结束的毫秒时间戳(整数),
    "speaker": "说话人标识",
    "original_text": "涉及违规的原始文本内容(原文摘录)",
    "reason": "详细解释为什么违规，必须引用具体规则编号和规则原文",
    "severity": "high 或 medium 或 low",
    "confidence": 0.0到1.0的置信度(浮点数)
}

### 严重程度判定标准
- high: 明确违反禁止性规定（如虚假陈述、承诺收益、同业诋毁、使用禁止字样、不当对比）
- medium: 疑似违规或措辞不当（如夸大但未明确承诺、混淆概念、缺失必要说明）
- low: 轻微不规范（如用词不够严谨、风险提示不充分）`

const summarySystemPrompt = `你是一个保险行业合规审核专家。请根据给定的违规检查结果，生成一段简明的合规审核总结。

### 要求
1. 概括主要违规类型和数量。
2. 指出最严重的问题。
3. 给出简要的改进建议。
4. 控制在 200 字以内。
5. 不要输出 Markdown 标记，直接输出纯文本。`

// ProgressFunc reports completed/total audit steps.
type ProgressFunc func(completed, total int)

// Config tunes chunking and filtering.
type Config struct {
	MaxTextChars        int
	ChunkSize           int
	NumCtx              int
	ConfidenceThreshold float64
	DedupWindowMS       int
	OCRMarginMS         int
}

// Auditor runs map/reduce compliance checks.
type Auditor struct {
	client *llm.Client
	cfg    Config
	logger zerolog.Logger
}

// NewAuditor builds the audit service.
func NewAuditor(client *llm.Client, cfg Config) *Auditor {
	return &Auditor{client: client, cfg: cfg, logger: log.WithComponent("compliance")}
}

// AuditOptions carries optional audit inputs.
type AuditOptions struct {
	FewShotExamples []string
	OCRRecords      []OCRRecord
	OnProgress      ProgressFunc
}

// Audit checks transcript entries against the rules: concurrent per-chunk
// LLM checks, the filter chain, then a summary. Entries beyond the text
// budget are truncated.
func (a *Auditor) Audit(ctx context.Context, rules []Rule, entries []Entry, opts AuditOptions) (*Report, error) {
	totalText := 0
	for _, e := range entries {
		totalText += len([]rune(e.Text))
	}
	if totalText > a.cfg.MaxTextChars {
		a.logger.Warn().Int("chars", totalText).Msg("transcript too long, truncating entries")
		var truncated []Entry
		acc := 0
		for _, e := range entries {
			n := len([]rune(e.Text))
			if acc+n > a.cfg.MaxTextChars {
				break
			}
			truncated = append(truncated, e)
			acc += n
		}
		entries = truncated
	}

	chunks := a.buildEntryChunks(entries)
	totalSteps := len(chunks) + 1 // map chunks + summary
	a.logger.Info().
		Int("entries", len(entries)).
		Int("chunks", len(chunks)).
		Int("chunk_size", a.cfg.ChunkSize).
		Msg("compliance audit start")
	if opts.OnProgress != nil {
		opts.OnProgress(0, totalSteps)
	}

	chunkResults := make([][]Violation, len(chunks))
	var completed atomic.Int64
	var progressMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			chunkResults[i] = a.auditChunk(gctx, i, len(chunks), rules, chunk, opts.FewShotExamples)
			done := int(completed.Add(1))
			if opts.OnProgress != nil {
				progressMu.Lock()
				opts.OnProgress(done, totalSteps)
				progressMu.Unlock()
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var violations []Violation
	for _, vs := range chunkResults {
		violations = append(violations, vs...)
	}
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].TimestampMS < violations[j].TimestampMS
	})

	// post-processing filter chain
	var fullText strings.Builder
	for _, e := range entries {
		fullText.WriteString(e.Text)
	}
	violations = RunFilters(violations, FilterOptions{
		Rules:               Enrich(rules),
		FullText:            fullText.String(),
		OCRRecords:          opts.OCRRecords,
		ConfidenceThreshold: a.cfg.ConfidenceThreshold,
		DedupWindowMS:       a.cfg.DedupWindowMS,
		OCRMarginMS:         a.cfg.OCRMarginMS,
	})

	sourceCounts := make(map[string]int)
	for _, v := range violations {
		metrics.Violations.WithLabelValues(v.Severity).Inc()
		sourceCounts[v.Source]++
	}

	summary := a.generateSummary(ctx, rules, violations)
	if opts.OnProgress != nil {
		opts.OnProgress(totalSteps, totalSteps)
	}

	return &Report{
		TotalRules:           len(rules),
		TotalSegmentsChecked: len(entries),
		Violations:           violations,
		Summary:              summary,
		ComplianceScore:      CalculateScore(violations),
		SourceCounts:         sourceCounts,
	}, nil
}

// buildEntryChunks groups entries under the char budget, never splitting an
// entry.
func (a *Auditor) buildEntryChunks(entries []Entry) [][]Entry {
	var chunks [][]Entry
	var current []Entry
	currentLen := 0

	for _, e := range entries {
		textLen := len([]rune(e.Text))
		if len(current) > 0 && currentLen+textLen > a.cfg.ChunkSize {
			chunks = append(chunks, current)
			current = nil
			currentLen = 0
		}
		current = append(current, e)
		currentLen += textLen
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// auditChunk checks one chunk, retrying once with a strict JSON reminder.
// A chunk that fails both attempts contributes no violations.
func (a *Auditor) auditChunk(ctx context.Context, chunkIndex, totalChunks int, rules []Rule, entries []Entry, fewShot []string) []Violation {
	a.logger.Info().
		Int(log.FieldChunk, chunkIndex+1).
		Int("total", totalChunks).
		Int("entries", len(entries)).
		Msg("auditing chunk")

	var rulesText strings.Builder
	for _, r := range rules {
		fmt.Fprintf(&rulesText, "%d. %s\n", r.ID, r.Content)
	}

	var transcript strings.Builder
	for _, e := range entries {
		ts := e.Timestamp
		if ts == "" {
			ts = "??:??"
		}
		speaker := e.Speaker
		if speaker == "" {
			speaker = "未知"
		}
		fmt.Fprintf(&transcript, "[%s] [%s]: %s\n", ts, speaker, e.Text)
	}

	userParts := []string{fmt.Sprintf("【审核标准】\n%s", strings.TrimRight(rulesText.String(), "\n"))}

	if len(fewShot) > 0 {
		examples := fewShot
		if len(examples) > 5 {
			examples = examples[:5]
		}
		var b strings.Builder
		for _, ex := range examples {
			fmt.Fprintf(&b, "- %s\n", ex)
		}
		userParts = append(userParts, fmt.Sprintf("【历史违规案例参考】\n%s（以上为真实违规案例，供你参考判断标准的严格程度。）", b.String()))
	}

	userParts = append(userParts,
		fmt.Sprintf("【语音转录文本 - 第 %d/%d 段】\n%s", chunkIndex+1, totalChunks, strings.TrimRight(transcript.String(), "\n")),
		"请逐条对照审核标准，仔细检查上述转录文本。\n注意：\n1. 对每一条标准都要检查，不要遗漏。\n2. 包含'不允许出现'或'不得'的规则，只要文本中出现了相应字样（即使有同音字差异），即为违规。\n3. 将违规原文完整摘录到 original_text 中。\n4. 有疑似违规的也要报告，severity 标记为 medium。",
	)
	userPrompt := strings.Join(userParts, "\n\n")

	think := false
	for attempt := 1; attempt <= 2; attempt++ {
		messages := []llm.Message{
			{Role: "system", Content: auditSystemPrompt},
			{Role: "user", Content: userPrompt},
		}
		if attempt > 1 {
			messages = append(messages, llm.Message{
				Role:    "user",
				Content: "你上次的回答不是合法 JSON 数组。请严格只输出 JSON 数组，不要输出任何其他内容。",
			})
		}

		resp, err := a.client.Chat(ctx, messages, llm.Options{
			JSONFormat: true,
			NumCtx:     a.cfg.NumCtx,
			NumPredict: 4096,
			Think:      &think,
		})
		if err != nil {
			a.logger.Warn().Err(err).Int(log.FieldChunk, chunkIndex+1).Int(log.FieldAttempt, attempt).Msg("audit chunk call failed")
			continue
		}

		violations, err := ParseViolations(resp.Content, rules, entries)
		if err != nil {
			a.logger.Warn().Err(err).Int(log.FieldChunk, chunkIndex+1).Int(log.FieldAttempt, attempt).Msg("audit output unparseable")
			continue
		}
		a.logger.Info().
			Int(log.FieldChunk, chunkIndex+1).
			Int("violations", len(violations)).
			Msg("audit chunk done")
		return violations
	}

	a.logger.Error().Int(log.FieldChunk, chunkIndex+1).Msg("audit chunk failed on all attempts")
	return nil
}

// generateSummary writes the overall audit summary, falling back to a
// severity tally when the LLM call fails.
func (a *Auditor) generateSummary(ctx context.Context, rules []Rule, violations []Violation) string {
	if len(violations) == 0 {
		return "审核完成，未发现违规内容。"
	}

	var b strings.Builder
	for _, v := range violations {
		fmt.Fprintf(&b, "- [%s] [%s] 违反规则%d: %s\n", v.Timestamp, v.Severity, v.RuleID, v.Reason)
	}
	userPrompt := fmt.Sprintf("共 %d 条审核标准，发现 %d 条违规：\n\n%s", len(rules), len(violations), b.String())

	think := false
	resp, err := a.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: userPrompt},
	}, llm.Options{NumCtx: a.cfg.NumCtx, Think: &think, NumPredict: 1024})
	if err != nil {
		a.logger.Warn().Err(err).Msg("summary generation failed")
		var high, medium, low int
		for _, v := range violations {
			switch v.Severity {
			case "high":
				high++
			case "medium":
				medium++
			default:
				low++
			}
		}
		return fmt.Sprintf("发现 %d 条违规（高风险 %d 条，中风险 %d 条，低风险 %d 条）。", len(violations), high, medium, low)
	}

	return strings.TrimSpace(llm.StripThinkTags(resp.Content))
}

// CalculateScore deducts from a 100 base by severity.
func CalculateScore(violations []Violation) float64 {
	deduction := 0.0
	for _, v := range violations {
		switch v.Severity {
		case "high":
			deduction += 15.0
		case "medium":
			deduction += 8.0
		default:
			deduction += 3.0
		}
	}
	score := 100.0 - deduction
	if score < 0 {
		score = 0
	}
	// one decimal place
	return float64(int(score*10+0.5)) / 10
}

// ParseViolations parses audit LLM output tolerantly: a bare array, a
// wrapper object keyed violations/results/items/data, or a single object.
// Millisecond timestamps are never trusted from the model: the reported
// MM:SS string is resolved against the original entries, so downstream
// dedup and evidence matching work off real transcript positions.
func ParseViolations(raw string, rules []Rule, entries []Entry) ([]Violation, error) {
	content := extractJSONArray(raw)

	var items []map[string]any
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		var wrapper map[string]json.RawMessage
		if err2 := json.Unmarshal([]byte(content), &wrapper); err2 != nil {
			return nil, err
		}
		found := false
		for _, key := range []string{"violations", "results", "items", "data"} {
			if rawList, ok := wrapper[key]; ok {
				if err2 := json.Unmarshal(rawList, &items); err2 == nil {
					found = true
					break
				}
			}
		}
		if !found {
			if _, ok := wrapper["rule_id"]; ok {
				var single map[string]any
				if err2 := json.Unmarshal([]byte(content), &single); err2 == nil {
					items = []map[string]any{single}
					found = true
				}
			}
		}
		if !found {
			return nil, nil
		}
	}

	rulesMap := make(map[int]string, len(rules))
	for _, r := range rules {
		rulesMap[r.ID] = r.Content
	}
	// first occurrence wins when two entries share a display timestamp
	tsMap := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if _, seen := tsMap[e.Timestamp]; !seen {
			tsMap[e.Timestamp] = e
		}
	}

	violations := make([]Violation, 0, len(items))
	for _, item := range items {
		ruleID := asInt(item["rule_id"])
		ruleContent := asString(item["rule_content"])
		if ruleContent == "" {
			ruleContent = rulesMap[ruleID]
		}
		timestamp := asString(item["timestamp"])
		if timestamp == "" {
			timestamp = "00:00"
		}
		severity := strings.ToLower(asString(item["severity"]))
		switch severity {
		case "high", "medium", "low":
		default:
			severity = "low"
		}
		confidence := asFloat(item["confidence"])
		if _, present := item["confidence"]; !present {
			confidence = 0.5
		}
		timestampMS := asInt(item["timestamp_ms"])
		endMS := asInt(item["end_ms"])
		if entry, ok := tsMap[timestamp]; ok {
			timestampMS = entry.TimestampMS
			if entry.EndMS > 0 {
				endMS = entry.EndMS
			}
		}
		violations = append(violations, Violation{
			RuleID:       ruleID,
			RuleContent:  ruleContent,
			Timestamp:    timestamp,
			TimestampMS:  timestampMS,
			EndMS:        endMS,
			Speaker:      asString(item["speaker"]),
			OriginalText: asString(item["original_text"]),
			Reason:       asString(item["reason"]),
			Severity:     severity,
			Confidence:   confidence,
			Source:       "transcript",
		})
	}
	return violations, nil
}

// extractJSONArray pulls a JSON array (or wrapper object) out of model
// output, dropping think tags and markdown fences.
func extractJSONArray(text string) string {
	text = llm.StripThinkTags(text)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	if start := strings.Index(text, "["); start >= 0 {
		if end := strings.LastIndex(text, "]"); end > start {
			return text[start : end+1]
		}
	}
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			return text[start : end+1]
		}
	}
	return text
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		var i int
		fmt.Sscanf(n, "%d", &i)
		return i
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
