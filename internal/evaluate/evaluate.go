// SPDX-License-Identifier: MIT

// Package evaluate scores transcript content quality. Short texts go through
// a single structured LLM call; long texts take a map/reduce path so the KV
// cache stays bounded regardless of recording length.
package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/copernicusai/copernicus/internal/llm"
	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/textutil"
)

const evaluationSystemPrompt = `你是一个严格的数据提取引擎，不是聊天助手。
任务：根据用户输入的转写文本，提取关键评估指标。

### 评分维度 (满分 100 分)
请基于以下 3 个维度进行打分：
1. 逻辑连贯性 (35分)：开场、正文、结尾是否清晰，观点是否连贯。
2. 信息密度 (35分)：是否输出了有价值的干货（如数据、案例、论据），内容是否充实。
3. 表达清晰度 (30分)：语言是否清晰易懂，是否有歧义或冗余。

### 绝对格式约束
1. 你必须且只能输出一段合法的 JSON 字符串。
2. 严禁输出任何 Markdown 标记、开场白、结束语或解释文字。
3. 忽略 ASR 转写产生的轻微同音字错误，关注语义本身。
4. 如果无法提取某些字段，请填空字符串或 0。

### JSON 输出结构
{
    "meta": {
        "title": "拟定一个精准的标题",
        "category": "推测内容分类(如: 宏观经济/科技/企业培训/产品介绍)",
        "keywords": ["关键词1", "关键词2", "关键词3"]
    },
    "scores": {
        "logic": 0,
        "info_density": 0,
        "expression": 0,
        "total": 0
    },
    "analysis": {
        "main_points": ["核心观点1", "核心观点2", "核心观点3"],
        "key_data": ["提及的关键数据1", "提及的关键数据2"],
        "sentiment": "整体情感倾向(积极/中立/消极)"
    },
    "summary": "300字以内的深度摘要"
}`

const mapSystemPrompt = `你是一个专业的内容分析助手。
任务：阅读给定的文本片段，提炼核心内容。

要求：
1. 提取该片段的核心观点（2-5 条）。
2. 提取提到的关键数据或事实（如有）。
3. 简要概括该片段的主题（1-2 句话）。
4. 不要写开场白或结束语，直接输出要点。
5. 忽略 ASR 转写的轻微同音字错误，关注语义。`

// ErrEvaluation marks an evaluation that failed after all retries.
var ErrEvaluation = errors.New("evaluation failed")

// Meta carries the derived title and classification.
type Meta struct {
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// Scores holds the three scoring dimensions plus their total.
type Scores struct {
	Logic       int `json:"logic"`
	InfoDensity int `json:"info_density"`
	Expression  int `json:"expression"`
	Total       int `json:"total"`
}

// Analysis holds extracted content findings.
type Analysis struct {
	MainPoints []string `json:"main_points"`
	KeyData    []string `json:"key_data"`
	Sentiment  string   `json:"sentiment"`
}

// Result is the full evaluation report.
type Result struct {
	Meta     Meta     `json:"meta"`
	Scores   Scores   `json:"scores"`
	Analysis Analysis `json:"analysis"`
	Summary  string   `json:"summary"`
}

// ProgressFunc reports completed/total evaluation steps.
type ProgressFunc func(completed, total int)

// Config tunes text limits and context size.
type Config struct {
	MaxTextChars int // inputs beyond this are truncated
	ChunkSize    int // direct-vs-map/reduce threshold and map chunk size
	NumCtx       int
	MaxRetries   int // structured-output attempts
}

// Service evaluates transcripts.
type Service struct {
	client *llm.Client
	cfg    Config
	logger zerolog.Logger
}

// New builds the evaluation service.
func New(client *llm.Client, cfg Config) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	return &Service{client: client, cfg: cfg, logger: log.WithComponent("evaluate")}
}

// Evaluate scores a transcript, choosing direct or map/reduce by length.
func (s *Service) Evaluate(ctx context.Context, text string, onProgress ProgressFunc) (*Result, error) {
	runes := []rune(text)
	if len(runes) > s.cfg.MaxTextChars {
		s.logger.Warn().Int("chars", len(runes)).Int("limit", s.cfg.MaxTextChars).Msg("text truncated for evaluation")
		text = string(runes[:s.cfg.MaxTextChars])
		runes = runes[:s.cfg.MaxTextChars]
	}

	if len(runes) <= s.cfg.ChunkSize {
		if onProgress != nil {
			onProgress(0, 1)
		}
		s.logger.Info().Int("chars", len(runes)).Msg("direct evaluation")
		result, err := s.callEvaluationLLM(ctx, text)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(1, 1)
		}
		return result, nil
	}

	return s.evaluateMapReduce(ctx, text, onProgress)
}

func (s *Service) evaluateMapReduce(ctx context.Context, text string, onProgress ProgressFunc) (*Result, error) {
	chunks := textutil.ChunkText(text, s.cfg.ChunkSize, 0)
	totalSteps := len(chunks) + 1 // map chunks + reduce
	s.logger.Info().
		Int("chars", len([]rune(text))).
		Int("chunks", len(chunks)).
		Int("chunk_size", s.cfg.ChunkSize).
		Msg("map/reduce evaluation")
	if onProgress != nil {
		onProgress(0, totalSteps)
	}

	summaries := make([]string, len(chunks))
	var completed atomic.Int64
	var progressMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			summaries[i] = s.mapChunk(gctx, i, chunk, len(chunks))
			done := int(completed.Add(1))
			if onProgress != nil {
				progressMu.Lock()
				onProgress(done, totalSteps)
				progressMu.Unlock()
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var combined strings.Builder
	for i, summary := range summaries {
		if i > 0 {
			combined.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&combined, "【片段 %d/%d】\n%s", i+1, len(chunks), summary)
	}
	s.logger.Info().Int("combined_chars", combined.Len()).Msg("map phase done, starting reduce")

	reduceText := "以下是一篇长文的分段要点合集。请综合这些要点，对原文整体进行评估并生成最终报告。\n\n" + combined.String()
	result, err := s.callEvaluationLLM(ctx, reduceText)
	if err != nil {
		return nil, err
	}
	if onProgress != nil {
		onProgress(totalSteps, totalSteps)
	}
	return result, nil
}

// mapChunk extracts bullet points from one chunk. Failures fall back to a
// prefix of the raw chunk so the reduce step still sees something.
func (s *Service) mapChunk(ctx context.Context, index int, chunk string, total int) string {
	think := false
	resp, err := s.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: mapSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("以下是第 %d/%d 个文本片段，请提炼核心要点：\n\n%s", index+1, total, chunk)},
	}, llm.Options{NumCtx: s.cfg.NumCtx, Think: &think, NumPredict: 1024})
	if err != nil {
		s.logger.Warn().Err(err).Int(log.FieldChunk, index+1).Msg("map chunk failed, using raw prefix")
		runes := []rune(chunk)
		if len(runes) > 500 {
			runes = runes[:500]
		}
		return string(runes)
	}

	content := strings.TrimSpace(llm.StripThinkTags(resp.Content))
	if content == "" {
		return fmt.Sprintf("（片段 %d 无法提取要点）", index+1)
	}
	return content
}

// callEvaluationLLM requests the structured report, retrying once with a
// stricter reminder when the output is not valid JSON.
func (s *Service) callEvaluationLLM(ctx context.Context, text string) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		messages := []llm.Message{
			{Role: "system", Content: evaluationSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("【待分析文本开始】\n%s\n【待分析文本结束】\n\n再次提醒：请忽略文本中的口语化表达，仅输出 JSON 格式的评估报告。", text)},
		}
		if attempt > 1 {
			messages = append(messages, llm.Message{
				Role:    "user",
				Content: "你上次的回答不是合法JSON。请严格只输出JSON，不要输出任何思考过程、Markdown或解释文字。",
			})
		}

		resp, err := s.client.Chat(ctx, messages, llm.Options{
			JSONFormat: true,
			NumCtx:     s.cfg.NumCtx,
			NumPredict: 4096,
		})
		if err != nil {
			lastErr = err
			s.logger.Warn().Err(err).Int(log.FieldAttempt, attempt).Msg("evaluation call failed")
			continue
		}

		content := ExtractJSON(resp.Content)
		var result Result
		if err := json.Unmarshal([]byte(content), &result); err != nil {
			lastErr = err
			s.logger.Warn().
				Err(err).
				Int(log.FieldAttempt, attempt).
				Str("extracted", truncate(content, 150)).
				Msg("evaluation output not valid JSON")
			continue
		}

		s.logger.Info().
			Int(log.FieldAttempt, attempt).
			Str("title", result.Meta.Title).
			Int("total_score", result.Scores.Total).
			Msg("evaluation succeeded")
		return &result, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrEvaluation, s.cfg.MaxRetries, lastErr)
}

// ExtractJSON pulls the JSON object out of model output, dropping think tags,
// markdown fences and any leading or trailing prose.
func ExtractJSON(text string) string {
	text = llm.StripThinkTags(text)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "{"); idx > 0 {
		text = text[idx:]
	}
	if last := strings.LastIndex(text, "}"); last >= 0 {
		text = text[:last+1]
	}
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
