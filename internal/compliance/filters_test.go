// SPDX-License-Identifier: MIT

package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultFilterOptions() FilterOptions {
	return FilterOptions{
		ConfidenceThreshold: 0.7,
		DedupWindowMS:       30000,
		OCRMarginMS:         10000,
	}
}

func TestConfidenceFilterDropsUncertain(t *testing.T) {
	violations := []Violation{
		{RuleID: 1, Confidence: 0.9, Severity: "high"},
		{RuleID: 2, Confidence: 0.5, Severity: "medium"},
	}
	result := RunFilters(violations, defaultFilterOptions())
	require.Len(t, result, 1)
	assert.Equal(t, 1, result[0].RuleID)
}

func TestDeduplicationKeepsHighestConfidence(t *testing.T) {
	violations := []Violation{
		{RuleID: 5, TimestampMS: 10000, Confidence: 0.8, Reason: "第一次"},
		{RuleID: 5, TimestampMS: 25000, Confidence: 0.95, Reason: "第二次"},
		{RuleID: 5, TimestampMS: 120000, Confidence: 0.8, Reason: "远处"},
	}
	result := RunFilters(violations, defaultFilterOptions())
	require.Len(t, result, 2)
	assert.Equal(t, "第二次", result[0].Reason)
	assert.Equal(t, "远处", result[1].Reason)
}

func TestExactMatchDropsFalsePositive(t *testing.T) {
	rules := Enrich([]Rule{{ID: 1, Content: "不得使用存取、利息、本金等混淆概念"}})
	require.Equal(t, CheckExact, rules[0].CheckMode)

	violations := []Violation{
		{RuleID: rules[0].ID, Confidence: 0.9, OriginalText: "这里完全没有禁止词", Severity: "high"},
	}
	opts := defaultFilterOptions()
	opts.Rules = rules
	opts.FullText = "这里完全没有禁止词"

	result := RunFilters(violations, opts)
	assert.Empty(t, result)
}

func TestExactMatchAddsMissedKeyword(t *testing.T) {
	rules := Enrich([]Rule{{ID: 1, Content: "不得使用存取、利息、本金等混淆概念"}})

	opts := defaultFilterOptions()
	opts.Rules = rules
	opts.FullText = "这款产品存取灵活，每年还有利息"

	result := RunFilters(nil, opts)
	require.Len(t, result, 1)
	assert.Equal(t, rules[0].ID, result[0].RuleID)
	assert.Equal(t, 1.0, result[0].Confidence)
	assert.Contains(t, result[0].Reason, "存取")
	assert.Contains(t, result[0].OriginalText, "存取灵活")
}

func TestPinyinOnlyMatchSynthesizesViolation(t *testing.T) {
	rules := Enrich([]Rule{{ID: 1, Content: "不得使用存取、利息、本金等混淆概念"}})

	opts := defaultFilterOptions()
	opts.Rules = rules
	opts.FullText = "每年固定支付犁息给您" // homophone only, no literal keyword

	result := RunFilters(nil, opts)
	require.Len(t, result, 1)
	assert.Equal(t, 0.95, result[0].Confidence)
	assert.Contains(t, result[0].Reason, "利息")
}

func TestEvidenceEnrichment(t *testing.T) {
	violations := []Violation{
		{RuleID: 5, TimestampMS: 62000, Confidence: 0.9, Source: "transcript"},
	}
	opts := defaultFilterOptions()
	opts.OCRRecords = []OCRRecord{
		{TimestampMS: 10000, Text: "远处的幻灯片", FramePath: "/frames/f1.jpg"},
		{TimestampMS: 60000, Text: "年化收益演示", FramePath: "/frames/f31.jpg"},
	}

	result := RunFilters(violations, opts)
	require.Len(t, result, 1)
	assert.Equal(t, "年化收益演示", result[0].EvidenceText)
	assert.Equal(t, "f31.jpg", result[0].EvidenceURL)
}

func TestEvidenceOutsideMarginSkipped(t *testing.T) {
	violations := []Violation{
		{RuleID: 5, TimestampMS: 500000, Confidence: 0.9, Source: "transcript"},
	}
	opts := defaultFilterOptions()
	opts.OCRRecords = []OCRRecord{{TimestampMS: 10000, Text: "太远了"}}

	result := RunFilters(violations, opts)
	require.Len(t, result, 1)
	assert.Empty(t, result[0].EvidenceText)
}

func TestCalculateScore(t *testing.T) {
	assert.Equal(t, 100.0, CalculateScore(nil))
	score := CalculateScore([]Violation{
		{Severity: "high"},   // -15
		{Severity: "medium"}, // -8
		{Severity: "low"},    // -3
	})
	assert.Equal(t, 74.0, score)

	many := make([]Violation, 10)
	for i := range many {
		many[i] = Violation{Severity: "high"}
	}
	assert.Equal(t, 0.0, CalculateScore(many))
}
