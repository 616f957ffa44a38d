// SPDX-License-Identifier: MIT

// Package textutil holds the text and segment transforms shared by the
// correction, evaluation and transcript-building paths. All character
// arithmetic is rune-based so CJK text counts as the model sees it.
package textutil

import (
	"fmt"
	"strings"

	"github.com/copernicusai/copernicus/internal/asr"
)

var sentenceEndings = map[rune]bool{
	'。': true, '！': true, '？': true, '.': true, '!': true, '?': true,
	'；': true, ';': true, '\n': true,
}

// ChunkText splits text into overlapping chunks for LLM context windowing.
// It prefers sentence boundaries and falls back to a hard split when no
// boundary is found in the back half of the window.
func ChunkText(text string, chunkSize, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		splitPos := end
		low := start + chunkSize/2
		if low < start {
			low = start
		}
		for i := end; i > low; i-- {
			if sentenceEndings[runes[i]] {
				splitPos = i + 1
				break
			}
		}

		chunks = append(chunks, string(runes[start:splitPos]))
		start = splitPos - overlap
	}
	return chunks
}

// MergeChunks reassembles corrected chunks, skipping the overlap prefix of
// every chunk after the first.
func MergeChunks(chunks []string, overlap int) string {
	if len(chunks) == 0 {
		return ""
	}
	if len(chunks) == 1 {
		return chunks[0]
	}

	var b strings.Builder
	b.WriteString(chunks[0])
	for _, chunk := range chunks[1:] {
		runes := []rune(chunk)
		skip := overlap
		if skip > len(runes) {
			skip = len(runes)
		}
		b.WriteString(string(runes[skip:]))
	}
	return b.String()
}

// SplitSentences splits text after sentence-ending punctuation.
func SplitSentences(text string) []string {
	if text == "" {
		return nil
	}

	var parts []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '。' || r == '！' || r == '？' || r == '；' || r == '\n' {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}

	var sentences []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			sentences = append(sentences, p)
		}
	}
	if len(sentences) == 0 {
		return []string{text}
	}
	return sentences
}

// FormatTimestamp converts milliseconds to MM:SS display format.
func FormatTimestamp(ms int) string {
	totalSeconds := ms / 1000
	return fmt.Sprintf("%02d:%02d", totalSeconds/60, totalSeconds%60)
}

// PreMergeSegments combines consecutive same-speaker segments separated by a
// gap below gapMS. This cuts the LLM batch count and gives the model better
// context per request. Merged confidence is the text-length weighted average,
// and every merged segment keeps the original boundaries in SubSentences.
func PreMergeSegments(segments []asr.Segment, gapMS int) []asr.Segment {
	if len(segments) == 0 {
		return nil
	}

	toSub := func(s asr.Segment) asr.SubSentence {
		return asr.SubSentence{Text: s.Text, StartMS: s.StartMS, EndMS: s.EndMS}
	}

	var merged []asr.Segment
	cur := asr.Segment{
		Text:         segments[0].Text,
		StartMS:      segments[0].StartMS,
		EndMS:        segments[0].EndMS,
		Confidence:   segments[0].Confidence,
		Speaker:      segments[0].Speaker,
		SubSentences: []asr.SubSentence{toSub(segments[0])},
	}

	for _, seg := range segments[1:] {
		sameSpeaker := seg.Speaker == cur.Speaker
		withinGap := seg.StartMS-cur.EndMS < gapMS

		if sameSpeaker && withinGap {
			lenCur := len([]rune(cur.Text))
			lenSeg := len([]rune(seg.Text))
			if total := lenCur + lenSeg; total > 0 {
				cur.Confidence = (cur.Confidence*float64(lenCur) + seg.Confidence*float64(lenSeg)) / float64(total)
			}
			cur.Text += seg.Text
			cur.EndMS = seg.EndMS
			cur.SubSentences = append(cur.SubSentences, toSub(seg))
		} else {
			merged = append(merged, cur)
			cur = asr.Segment{
				Text:         seg.Text,
				StartMS:      seg.StartMS,
				EndMS:        seg.EndMS,
				Confidence:   seg.Confidence,
				Speaker:      seg.Speaker,
				SubSentences: []asr.SubSentence{toSub(seg)},
			}
		}
	}

	merged = append(merged, cur)
	return merged
}

// SmoothSpeakers removes diarization flicker: a short segment whose speaker
// differs from both equal neighbours is reassigned to the surrounding speaker.
func SmoothSpeakers(segments []asr.Segment, maxDurationMS int) []asr.Segment {
	if len(segments) < 3 {
		return segments
	}
	for i := 1; i < len(segments)-1; i++ {
		prev := segments[i-1].Speaker
		next := segments[i+1].Speaker
		dur := segments[i].EndMS - segments[i].StartMS
		if segments[i].Speaker != prev && prev == next && dur < maxDurationMS {
			segments[i].Speaker = prev
		}
	}
	return segments
}

// SplitCorrectedBySubSentences splits LLM-corrected text back into
// sub-sentence granularity, proportionally mapping each punctuation fragment
// onto the original time span. The last fragment absorbs the remainder.
func SplitCorrectedBySubSentences(correctedText string, subs []asr.SubSentence) []asr.SubSentence {
	if len(subs) == 0 || strings.TrimSpace(correctedText) == "" {
		return []asr.SubSentence{{Text: correctedText}}
	}
	if len(subs) == 1 {
		return []asr.SubSentence{{Text: correctedText, StartMS: subs[0].StartMS, EndMS: subs[0].EndMS}}
	}

	fragments := SplitSentences(correctedText)
	if len(fragments) == 0 {
		fragments = []string{correctedText}
	}

	totalStart := subs[0].StartMS
	totalEnd := subs[len(subs)-1].EndMS
	totalDuration := totalEnd - totalStart
	if totalDuration < 1 {
		totalDuration = 1
	}

	totalChars := 0
	for _, f := range fragments {
		totalChars += len([]rune(f))
	}
	if totalChars == 0 {
		totalChars = 1
	}

	result := make([]asr.SubSentence, 0, len(fragments))
	cursor := totalStart
	for i, frag := range fragments {
		ratio := float64(len([]rune(frag))) / float64(totalChars)
		duration := int(float64(totalDuration)*ratio + 0.5)
		fragEnd := cursor + duration
		if i == len(fragments)-1 {
			fragEnd = totalEnd
		}
		result = append(result, asr.SubSentence{Text: frag, StartMS: cursor, EndMS: fragEnd})
		cursor = fragEnd
	}
	return result
}

// SplitOriginalBySubSentences splits original (pre-correction) text by
// prefix-matching the sub-sentence texts it was concatenated from. On
// mismatch, the remaining text collapses into one entry and trailing slots
// pad with empty strings.
func SplitOriginalBySubSentences(originalText string, subs []asr.SubSentence) []string {
	if len(subs) <= 1 {
		return []string{originalText}
	}

	result := make([]string, 0, len(subs))
	remaining := originalText
	for i, sub := range subs {
		switch {
		case i == len(subs)-1:
			result = append(result, remaining)
		case strings.HasPrefix(remaining, sub.Text):
			result = append(result, sub.Text)
			remaining = remaining[len(sub.Text):]
		default:
			result = append(result, remaining)
			remaining = ""
		}
	}
	for len(result) < len(subs) {
		result = append(result, "")
	}
	return result
}

// GroupSegments greedily groups segments into chunks of at most chunkSize
// characters, never splitting a segment.
func GroupSegments(segments []asr.Segment, chunkSize int) [][]asr.Segment {
	if len(segments) == 0 {
		return nil
	}

	var groups [][]asr.Segment
	var current []asr.Segment
	length := 0

	for _, seg := range segments {
		segLen := len([]rune(seg.Text))
		if len(current) > 0 && length+segLen > chunkSize {
			groups = append(groups, current)
			current = nil
			length = 0
		}
		current = append(current, seg)
		length += segLen
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
