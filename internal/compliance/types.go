// SPDX-License-Identifier: MIT

// Package compliance audits briefing transcripts against rule files through
// map/reduce LLM checks and a post-processing filter chain.
package compliance

// Rule is a single audit rule parsed from a CSV or XLSX rule file.
type Rule struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
}

// Violation is one detected rule breach.
type Violation struct {
	RuleID       int     `json:"rule_id"`
	RuleContent  string  `json:"rule_content"`
	Timestamp    string  `json:"timestamp"`
	TimestampMS  int     `json:"timestamp_ms"`
	EndMS        int     `json:"end_ms"`
	Speaker      string  `json:"speaker"`
	OriginalText string  `json:"original_text"`
	Reason       string  `json:"reason"`
	Severity     string  `json:"severity"` // high | medium | low
	Confidence   float64 `json:"confidence"`
	Source       string  `json:"source"` // transcript | ocr
	EvidenceText string  `json:"evidence_text,omitempty"`
	EvidenceURL  string  `json:"evidence_url,omitempty"`
	ReviewStatus string  `json:"review_status,omitempty"` // pending | confirmed | rejected
}

// Report is the full audit result.
type Report struct {
	TotalRules           int            `json:"total_rules"`
	TotalSegmentsChecked int            `json:"total_segments_checked"`
	Violations           []Violation    `json:"violations"`
	Summary              string         `json:"summary"`
	ComplianceScore      float64        `json:"compliance_score"`
	SourceCounts         map[string]int `json:"source_counts"`
}

// Entry is one transcript line fed into the audit, already corrected and
// speaker-labeled.
type Entry struct {
	ID          int    `json:"id"`
	Timestamp   string `json:"timestamp"`
	TimestampMS int    `json:"timestamp_ms"`
	EndMS       int    `json:"end_ms"`
	Speaker     string `json:"speaker"`
	Text        string `json:"text_corrected"`
}

// OCRRecord is on-screen text evidence used by the filter chain.
type OCRRecord struct {
	TimestampMS int    `json:"timestamp_ms"`
	Text        string `json:"text"`
	FramePath   string `json:"frame_path"`
}
