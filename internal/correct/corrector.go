// SPDX-License-Identifier: MIT

// Package correct polishes recognized text through a four-phase pipeline:
// rule preprocessing, forced lexicon replacement, light spelling correction
// and LLM rewriting.
package correct

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/copernicusai/copernicus/internal/hotword"
	"github.com/copernicusai/copernicus/internal/llm"
	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/textutil"
)

const systemPrompt = `你是一个专业的文本校对工具。
任务：接收ASR语音转写文本，输出修正后的文本。
要求：
1. 仅输出修正后的正文，严禁输出任何开场白、解释、修正列表或Markdown标记。
2. 修正同音字错误（如"受权"->"授权"）。
3. 修正错误标点符号，使其符合阅读习惯。
4. 保持原句意，不要重写或删减内容。
5. 如果文本包含无法确定的口语，保留原样。`

const transcriptSystemPrompt = `你是一个字幕校对专家。
输入是一个JSON对象，entries字段包含句子ID和原始内容。
任务：对每个 text 字段做轻度润色，使其更适合阅读。

规则：
1. 绝对严禁修改 id 字段。
2. 绝对严禁合并或拆分句子。
3. 去除无意义的口语填充词（如"那个""就是说""嗯"等），但保持句意完整。
4. 修正口语倒装（如"我走了先"->"我先走了"）。
5. 保留原有标点符号，仅在明显断句错误时微调。
6. 严禁臆造原文中没有的事实，严禁大幅改写。
7. 输出必须是包含 entries 字段的JSON对象。

【输入示例】
{"entries": [{"id": 1, "text": "嗯那个今天的会议呢主要是关于明年的计划。"}, {"id": 2, "text": "我觉得这个方案还是可以的就是说需要再优化一下。"}]}

【输出示例】
{"entries": [{"id": 1, "text": "今天的会议主要是关于明年的计划。"}, {"id": 2, "text": "我觉得这个方案还是可以的，需要再优化一下。"}]}`

var (
	entryPairRE   = regexp.MustCompile(`"id"\s*:\s*(\d+)\s*,\s*"text"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	escapeCleaner = strings.NewReplacer(`\"`, `"`, `\n`, "\n")
)

// Entry is one transcript line sent through correction.
type Entry struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// ProgressFunc reports completed/total work units.
type ProgressFunc func(completed, total int)

// Config tunes chunking and batching.
type Config struct {
	ChunkSize      int // whole-text correction chunk size, also the batch char cap
	Overlap        int
	MaxConcurrency int
	BatchSize      int // max entries per LLM batch
	NumCtx         int
}

// Service runs the correction pipeline.
type Service struct {
	client   *llm.Client
	cfg      Config
	replacer *hotword.Replacer // nil disables phase 2
	speller  SpellCorrector    // nil disables phase 3
	logger   zerolog.Logger
}

// New builds the correction service. replacer and speller are optional.
func New(client *llm.Client, cfg Config, replacer *hotword.Replacer, speller SpellCorrector) *Service {
	return &Service{
		client:   client,
		cfg:      cfg,
		replacer: replacer,
		speller:  speller,
		logger:   log.WithComponent("correct"),
	}
}

// Correct polishes free-running text by chunking it, correcting chunks
// concurrently and merging on the overlap. A failed chunk falls back to its
// raw text rather than failing the whole call.
func (s *Service) Correct(ctx context.Context, rawText string, onProgress ProgressFunc) (string, error) {
	if strings.TrimSpace(rawText) == "" {
		return rawText, nil
	}

	chunks := textutil.ChunkText(rawText, s.cfg.ChunkSize, s.cfg.Overlap)
	total := len(chunks)
	corrected := make([]string, total)
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			s.logger.Info().Int(log.FieldChunk, i+1).Int("total", total).Msg("correcting chunk")
			corrected[i] = s.correctChunk(gctx, chunk)
			done := int(completed.Add(1))
			if onProgress != nil {
				onProgress(done, total)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return textutil.MergeChunks(corrected, s.cfg.Overlap), nil
}

// CorrectSegments corrects independent texts concurrently, no overlap merging.
func (s *Service) CorrectSegments(ctx context.Context, texts []string, onProgress ProgressFunc) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	total := len(texts)
	out := make([]string, total)
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			out[i] = s.correctChunk(gctx, text)
			done := int(completed.Add(1))
			if onProgress != nil {
				onProgress(done, total)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CorrectTranscript runs all four phases over transcript entries and returns
// id -> corrected text. Entries judged pure noise map to the empty string.
func (s *Service) CorrectTranscript(ctx context.Context, entries []Entry, onProgress ProgressFunc) (map[int]string, error) {
	if len(entries) == 0 {
		return map[int]string{}, nil
	}

	// phase 1: rules
	preprocessed := make([]Entry, 0, len(entries))
	filtered := map[int]bool{}
	for _, e := range entries {
		cleaned, ok := Preprocess(e.Text)
		if !ok {
			filtered[e.ID] = true
			continue
		}
		preprocessed = append(preprocessed, Entry{ID: e.ID, Text: cleaned})
	}
	s.logger.Info().
		Int("entries", len(entries)).
		Int("valid", len(preprocessed)).
		Int("noise", len(filtered)).
		Msg("rule phase done")

	if len(preprocessed) == 0 {
		result := make(map[int]string, len(entries))
		for _, e := range entries {
			result[e.ID] = ""
		}
		return result, nil
	}

	// phase 2: forced lexicon replacement
	if s.replacer != nil {
		texts := make([]string, len(preprocessed))
		for i, e := range preprocessed {
			texts[i] = e.Text
		}
		replaced, changed := s.replacer.ReplaceAll(texts)
		if changed > 0 {
			for i := range preprocessed {
				preprocessed[i].Text = replaced[i]
			}
		}
	}

	// phase 3: light spelling correction, best effort
	if s.speller != nil {
		for i, e := range preprocessed {
			fixed, err := s.speller.Correct(ctx, e.Text)
			if err != nil {
				s.logger.Warn().Err(err).Int("id", e.ID).Msg("spell correction failed, keeping text")
				continue
			}
			preprocessed[i].Text = fixed
		}
	}

	// phase 4: LLM rewriting in bounded batches
	batches := createBatches(preprocessed, s.cfg.BatchSize, s.cfg.ChunkSize)
	total := len(batches)
	s.logger.Info().
		Int("entries", len(preprocessed)).
		Int("batches", total).
		Int("max_entries", s.cfg.BatchSize).
		Int("max_chars", s.cfg.ChunkSize).
		Msg("llm phase start")

	var completed atomic.Int64
	var mu sync.Mutex
	merged := make(map[int]string, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			s.logger.Info().Int(log.FieldBatch, i+1).Int("total", total).Msg("correcting transcript batch")
			result := s.correctBatch(gctx, batch)
			mu.Lock()
			for id, text := range result {
				merged[id] = text
			}
			mu.Unlock()
			done := int(completed.Add(1))
			if onProgress != nil {
				onProgress(done, total)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for id := range filtered {
		merged[id] = ""
	}
	return merged, nil
}

// createBatches packs entries under both an entry-count and a char-count cap.
// An oversized entry becomes its own batch.
func createBatches(entries []Entry, maxEntries, maxChars int) [][]Entry {
	var batches [][]Entry
	var current []Entry
	currentChars := 0

	for _, e := range entries {
		entryChars := len([]rune(e.Text))

		if entryChars > maxChars {
			if len(current) > 0 {
				batches = append(batches, current)
				current = nil
				currentChars = 0
			}
			batches = append(batches, []Entry{e})
			continue
		}

		if len(current) > 0 && (len(current) >= maxEntries || currentChars+entryChars > maxChars) {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}

		current = append(current, e)
		currentChars += entryChars
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// correctBatch sends one JSON batch through the LLM and parses the result
// tolerantly. Any failure returns the batch's original texts.
func (s *Service) correctBatch(ctx context.Context, batch []Entry) map[int]string {
	fallback := make(map[int]string, len(batch))
	batchChars := 0
	for _, e := range batch {
		fallback[e.ID] = e.Text
		batchChars += len([]rune(e.Text))
	}

	input, err := json.Marshal(struct {
		Entries []Entry `json:"entries"`
	}{Entries: batch})
	if err != nil {
		return fallback
	}

	// cap output length; with thinking suppressed the model stays terse
	numPredict := batchChars*2 + 1024
	if numPredict > 4096 {
		numPredict = 4096
	}
	think := false

	resp, err := s.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: transcriptSystemPrompt},
		{Role: "user", Content: string(input)},
	}, llm.Options{
		NumCtx:     s.cfg.NumCtx,
		JSONFormat: true,
		Think:      &think,
		NumPredict: numPredict,
	})
	if err != nil {
		s.logger.Warn().Err(err).Int("entries", len(batch)).Int("chars", batchChars).Msg("batch correction failed, using original text")
		return fallback
	}

	raw := strings.TrimSpace(llm.StripThinkTags(resp.Content))
	if raw == "" {
		s.logger.Warn().Msg("empty batch correction response, using original text")
		return fallback
	}

	result, ok := parseEntryResponse(raw)
	if !ok {
		s.logger.Warn().Msg("batch correction parse failed, trying regex recovery")
		result = extractEntriesByRegex(raw)
		if len(result) == 0 {
			return fallback
		}
		s.logger.Info().Int("recovered", len(result)).Int("total", len(batch)).Msg("regex recovery succeeded")
	}

	for id, text := range fallback {
		if _, found := result[id]; !found {
			result[id] = text
		}
	}
	return result
}

// parseEntryResponse accepts {"entries":[...]}, a bare array or a single
// entry object.
func parseEntryResponse(raw string) (map[int]string, bool) {
	var wrapper struct {
		Entries []Entry `json:"entries"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapper); err == nil && len(wrapper.Entries) > 0 {
		return entryMap(wrapper.Entries), true
	}

	var list []Entry
	if err := json.Unmarshal([]byte(raw), &list); err == nil && len(list) > 0 {
		return entryMap(list), true
	}

	var single Entry
	if err := json.Unmarshal([]byte(raw), &single); err == nil && single.Text != "" {
		return entryMap([]Entry{single}), true
	}

	return nil, false
}

func entryMap(entries []Entry) map[int]string {
	m := make(map[int]string, len(entries))
	for _, e := range entries {
		m[e.ID] = e.Text
	}
	return m
}

// extractEntriesByRegex scrapes id/text pairs out of malformed JSON.
func extractEntriesByRegex(raw string) map[int]string {
	result := map[int]string{}
	for _, m := range entryPairRE.FindAllStringSubmatch(raw, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		result[id] = escapeCleaner.Replace(m[2])
	}
	return result
}

// correctChunk sends one plain-text chunk through the LLM, falling back to
// the input on any error.
func (s *Service) correctChunk(ctx context.Context, text string) string {
	resp, err := s.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("待修正文本：\n%s", text)},
	}, llm.Options{NumCtx: s.cfg.NumCtx})
	if err != nil {
		s.logger.Warn().Err(err).Msg("chunk correction failed, using raw text")
		return text
	}

	cleaned := strings.TrimSpace(llm.StripThinkTags(resp.Content))
	if cleaned == "" {
		return text
	}
	return cleaned
}
