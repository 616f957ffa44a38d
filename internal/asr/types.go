// SPDX-License-Identifier: MIT

// Package asr defines the speech-recognition data model and the adapter to
// the external recognition engine.
package asr

// SubSentence is a pre-merge ASR fragment preserved inside a segment so
// fine-grained timing is never lost across merge operations.
type SubSentence struct {
	Text    string `json:"text"`
	StartMS int    `json:"start_ms"`
	EndMS   int    `json:"end_ms"`
}

// Segment is one contiguous recognition output.
type Segment struct {
	Text         string        `json:"text"`
	StartMS      int           `json:"start_ms"`
	EndMS        int           `json:"end_ms"`
	Confidence   float64       `json:"confidence"`
	Speaker      int           `json:"speaker"` // -1 = unknown
	SubSentences []SubSentence `json:"sub_sentences,omitempty"`
}

// Duration returns the segment length in milliseconds.
func (s Segment) Duration() int { return s.EndMS - s.StartMS }

// Result is the full engine output for one audio file.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}
