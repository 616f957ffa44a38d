// SPDX-License-Identifier: MIT

package compliance

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/copernicusai/copernicus/internal/log"
)

// FilterOptions feeds the post-audit filter chain.
type FilterOptions struct {
	Rules               []StructuredRule
	FullText            string
	OCRRecords          []OCRRecord
	ConfidenceThreshold float64
	DedupWindowMS       int
	OCRMarginMS         int
}

// RunFilters applies the post-processing chain in order: confidence cut,
// exact-match validation, time-window deduplication, evidence enrichment.
// The result comes back sorted by timestamp.
func RunFilters(violations []Violation, opts FilterOptions) []Violation {
	result := filterByConfidence(violations, opts.ConfidenceThreshold)

	if len(opts.Rules) > 0 {
		result = validateExactMatches(result, opts.Rules, opts.FullText)
	}

	result = deduplicate(result, opts.DedupWindowMS)
	result = enrichEvidence(result, opts.OCRRecords, opts.OCRMarginMS)

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TimestampMS < result[j].TimestampMS
	})
	return result
}

var filterLogger = log.WithComponent("compliance.filters")

// filterByConfidence drops violations the model itself is unsure about.
func filterByConfidence(violations []Violation, threshold float64) []Violation {
	result := make([]Violation, 0, len(violations))
	for _, v := range violations {
		if v.Confidence >= threshold {
			result = append(result, v)
		}
	}
	if dropped := len(violations) - len(result); dropped > 0 {
		filterLogger.Info().
			Int("dropped", dropped).
			Int("before", len(violations)).
			Float64("threshold", threshold).
			Msg("low-confidence violations dropped")
	}
	return result
}

// validateExactMatches cross-checks exact-mode rules with the keyword regex:
// reported violations whose quoted text has no keyword hit (even by pinyin)
// are false positives; keywords present in the full text but missing from
// the report become synthetic violations.
func validateExactMatches(violations []Violation, rules []StructuredRule, fullText string) []Violation {
	exactRules := map[int]StructuredRule{}
	for _, r := range rules {
		if r.CheckMode == CheckExact {
			exactRules[r.ID] = r
		}
	}
	if len(exactRules) == 0 {
		return violations
	}

	validated := make([]Violation, 0, len(violations))
	dropped := 0

	for _, v := range violations {
		if _, isExact := exactRules[v.RuleID]; !isExact {
			validated = append(validated, v)
			continue
		}
		pattern := ExactPattern(v.RuleID)
		if pattern == nil {
			validated = append(validated, v)
			continue
		}

		if pattern.MatchString(v.OriginalText) {
			validated = append(validated, v)
			continue
		}
		if kw := pinyinMatchKeyword(v.OriginalText, v.RuleID); kw != "" {
			validated = append(validated, v)
			continue
		}
		dropped++
		filterLogger.Info().
			Int(log.FieldRuleID, v.RuleID).
			Str("original_text", truncateRunes(v.OriginalText, 100)).
			Msg("exact-match validation dropped false positive")
	}

	// second pass: keywords the model missed
	reported := map[int]bool{}
	for _, v := range validated {
		reported[v.RuleID] = true
	}
	ruleIDs := make([]int, 0, len(exactRules))
	for id := range exactRules {
		ruleIDs = append(ruleIDs, id)
	}
	sort.Ints(ruleIDs)

	for _, ruleID := range ruleIDs {
		if reported[ruleID] {
			continue
		}
		rule := exactRules[ruleID]
		pattern := ExactPattern(ruleID)
		if pattern == nil {
			continue
		}

		if loc := pattern.FindStringIndex(fullText); loc != nil {
			keyword := fullText[loc[0]:loc[1]]
			validated = append(validated, Violation{
				RuleID:       ruleID,
				RuleContent:  rule.Content,
				Timestamp:    "00:00",
				OriginalText: extractContext(fullText, loc[0], 80),
				Reason:       fmt.Sprintf("精确匹配检测到禁止用语「%s」", keyword),
				Severity:     rule.SeverityDefault,
				Confidence:   1.0,
				Source:       "transcript",
			})
			filterLogger.Info().
				Int(log.FieldRuleID, ruleID).
				Str("keyword", keyword).
				Msg("exact-match validation added missing violation")
			continue
		}

		if kw := pinyinMatchKeyword(fullText, ruleID); kw != "" {
			validated = append(validated, Violation{
				RuleID:       ruleID,
				RuleContent:  rule.Content,
				Timestamp:    "00:00",
				OriginalText: extractContext(fullText, 0, 80),
				Reason:       fmt.Sprintf("拼音匹配检测到禁止用语同音字（对应「%s」）", kw),
				Severity:     rule.SeverityDefault,
				Confidence:   0.95,
				Source:       "transcript",
			})
			filterLogger.Info().
				Int(log.FieldRuleID, ruleID).
				Str("keyword", kw).
				Msg("pinyin match added missing violation")
		}
	}

	if dropped > 0 {
		filterLogger.Info().Int("dropped", dropped).Msg("false positives removed")
	}
	return validated
}

// pinyinMatchKeyword returns the keyword whose pinyin appears in the text,
// catching homophone substitutions the regex misses.
func pinyinMatchKeyword(text string, ruleID int) string {
	if text == "" {
		return ""
	}
	keywords := PinyinKeywords(ruleID)
	if len(keywords) == 0 {
		return ""
	}
	textPinyin := textToPinyin(text)
	for _, kw := range keywords {
		if pinyinContains(textPinyin, kw.syllables) >= 0 {
			return kw.keyword
		}
	}
	return ""
}

// deduplicate merges same-rule violations closer together than the window,
// keeping the higher confidence one.
func deduplicate(violations []Violation, windowMS int) []Violation {
	if len(violations) == 0 {
		return violations
	}

	sorted := make([]Violation, len(violations))
	copy(sorted, violations)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RuleID != sorted[j].RuleID {
			return sorted[i].RuleID < sorted[j].RuleID
		}
		return sorted[i].TimestampMS < sorted[j].TimestampMS
	})

	var result []Violation
	for _, v := range sorted {
		if len(result) > 0 {
			prev := &result[len(result)-1]
			if prev.RuleID == v.RuleID && abs(v.TimestampMS-prev.TimestampMS) < windowMS {
				if v.Confidence > prev.Confidence {
					*prev = v
				}
				continue
			}
		}
		result = append(result, v)
	}

	if merged := len(violations) - len(result); merged > 0 {
		filterLogger.Info().Int("merged", merged).Int("window_ms", windowMS).Msg("duplicate violations merged")
	}
	return result
}

// enrichEvidence attaches the nearest-in-time OCR record to transcript
// violations that have no evidence yet.
func enrichEvidence(violations []Violation, records []OCRRecord, marginMS int) []Violation {
	if len(records) == 0 {
		return violations
	}

	for i := range violations {
		v := &violations[i]
		if v.EvidenceText != "" || v.Source != "transcript" {
			continue
		}
		if best := nearestOCR(v.TimestampMS, records, marginMS); best != nil {
			v.EvidenceText = best.Text
			if best.FramePath != "" {
				v.EvidenceURL = filepath.Base(best.FramePath)
			}
		}
	}
	return violations
}

func nearestOCR(timestampMS int, records []OCRRecord, marginMS int) *OCRRecord {
	var best *OCRRecord
	bestDiff := marginMS + 1
	for i := range records {
		diff := abs(records[i].TimestampMS - timestampMS)
		if diff < bestDiff {
			bestDiff = diff
			best = &records[i]
		}
	}
	return best
}

// extractContext returns the text around a byte position.
func extractContext(text string, pos, radius int) string {
	runes := []rune(text[:pos])
	runePos := len(runes)
	all := []rune(text)

	start := runePos - radius
	if start < 0 {
		start = 0
	}
	end := runePos + radius
	if end > len(all) {
		end = len(all)
	}
	return string(all[start:end])
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
