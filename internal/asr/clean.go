// SPDX-License-Identifier: MIT

package asr

import (
	"regexp"
	"strings"
)

var (
	specialTagRE = regexp.MustCompile(`<\|[^|]+\|>`)
	emojiRE      = regexp.MustCompile(`[\x{1F300}-\x{1F9FF}\x{2600}-\x{27BF}\x{1F600}-\x{1F64F}\x{1F680}-\x{1F6FF}]+`)
	repeatPuncRE = regexp.MustCompile(`[。，、！？；：]{2,}`)
	lonePuncRE   = regexp.MustCompile(`^\s*[。，、！？；：]+\s*$`)
)

// CleanEngineText strips engine tags (<|zh|> etc.), emoji and runaway
// punctuation from raw recognition output.
func CleanEngineText(text string) string {
	text = specialTagRE.ReplaceAllString(text, "")
	text = emojiRE.ReplaceAllString(text, "")
	text = repeatPuncRE.ReplaceAllString(text, "。")
	text = lonePuncRE.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

var noiseWordsCN = map[string]bool{
	"嗯": true, "啊": true, "哦": true, "呃": true, "唔": true, "嘿": true,
	"哈": true, "呵": true, "噢": true, "喔": true, "诶": true, "哎": true,
	"唉": true, "呀": true, "吧": true, "呢": true, "嘛": true, "咯": true,
	"喽": true, "哇": true, "嗯嗯": true, "啊啊": true, "哦哦": true,
}

var noiseWordsEN = map[string]bool{
	"the": true, "a": true, "an": true, "um": true, "uh": true, "yeah": true,
	"yes": true, "no": true, "oh": true, "ah": true, "er": true, "hmm": true,
	"hm": true, "mm": true, "mhm": true, "ok": true, "okay": true,
	"the the": true, "the yeah": true, "a a": true, "um um": true, "uh uh": true,
}

// IsNoiseSegment reports whether text is made only of interjections or
// recognizer hallucination filler.
func IsNoiseSegment(text string) bool {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	for _, punc := range "。，、！？；：.!?;,: " {
		cleaned = strings.ReplaceAll(cleaned, string(punc), " ")
	}
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if cleaned == "" {
		return true
	}
	if noiseWordsCN[cleaned] || noiseWordsEN[cleaned] {
		return true
	}

	// repeated interjection runs like 嗯嗯嗯 or 啊啊啊
	compact := strings.ReplaceAll(cleaned, " ", "")
	runes := []rune(compact)
	if len(runes) <= 6 {
		unique := map[rune]bool{}
		for _, r := range runes {
			unique[r] = true
		}
		if len(unique) <= 2 {
			allNoise := true
			for r := range unique {
				if !noiseWordsCN[string(r)] {
					allNoise = false
					break
				}
			}
			if allNoise {
				return true
			}
		}
	}

	// only English filler words
	words := strings.Fields(cleaned)
	if len(words) > 0 {
		allNoise := true
		for _, w := range words {
			if !noiseWordsEN[w] {
				allNoise = false
				break
			}
		}
		if allNoise {
			return true
		}
	}

	return false
}

var puncSplitSet = map[rune]bool{
	'。': true, '！': true, '？': true, '；': true, '，': true, '、': true, '：': true,
	'.': true, '!': true, '?': true, ';': true, ',': true, ':': true,
}

// rawSegment is an engine segment before speaker assignment.
type rawSegment struct {
	Text    string
	StartMS int
	EndMS   int
}

// splitLongSegment cuts a segment exceeding maxDurationMS at the nearest
// punctuation inside its token timeline. timestamps carry one [start,end]
// pair per rune of text.
func splitLongSegment(text string, timestamps [][2]int, maxDurationMS int) []rawSegment {
	if len(timestamps) < 2 {
		return []rawSegment{{Text: text}}
	}

	runes := []rune(text)
	var results []rawSegment
	currentStartIdx := 0
	currentStartMS := timestamps[0][0]

	for i, ts := range timestamps {
		duration := ts[1] - currentStartMS
		if duration < maxDurationMS {
			continue
		}

		// search backwards for the nearest punctuation cut point
		splitIdx := i
		for j := i; j > currentStartIdx; j-- {
			if j < len(runes) && puncSplitSet[runes[j]] {
				splitIdx = j + 1
				break
			}
		}

		end := splitIdx
		if end > len(runes) {
			end = len(runes)
		}
		subText := strings.TrimSpace(string(runes[currentStartIdx:end]))
		if subText != "" {
			tsIdx := splitIdx - 1
			if tsIdx > len(timestamps)-1 {
				tsIdx = len(timestamps) - 1
			}
			results = append(results, rawSegment{
				Text:    subText,
				StartMS: currentStartMS,
				EndMS:   timestamps[tsIdx][1],
			})
		}

		currentStartIdx = splitIdx
		if splitIdx < len(timestamps) {
			currentStartMS = timestamps[splitIdx][0]
		}
	}

	if currentStartIdx < len(runes) {
		remaining := strings.TrimSpace(string(runes[currentStartIdx:]))
		if remaining != "" {
			results = append(results, rawSegment{
				Text:    remaining,
				StartMS: currentStartMS,
				EndMS:   timestamps[len(timestamps)-1][1],
			})
		}
	}

	if len(results) == 0 {
		return []rawSegment{{
			Text:    text,
			StartMS: timestamps[0][0],
			EndMS:   timestamps[len(timestamps)-1][1],
		}}
	}
	return results
}

// splitSentences splits text after sentence-ending punctuation. Kept local so
// the package stays a leaf dependency of the text utilities.
func splitSentences(text string) []string {
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

var confPuncSet = func() map[rune]bool {
	set := map[rune]bool{}
	for _, r := range "。！？；，、：“”‘’（）《》【】…—·\n.!?;,:\"'()[]" {
		set[r] = true
	}
	return set
}()

// segmentsFromSentences builds segments from plain sentences, assigning each
// the mean confidence of its non-punctuation tokens.
func segmentsFromSentences(sentences []string, tokenConf []float64) []Segment {
	if len(tokenConf) == 0 {
		segs := make([]Segment, 0, len(sentences))
		for _, s := range sentences {
			segs = append(segs, Segment{Text: s, Speaker: -1})
		}
		return segs
	}

	segs := make([]Segment, 0, len(sentences))
	confIdx := 0
	for _, sent := range sentences {
		var sum float64
		var n int
		for _, ch := range sent {
			if confPuncSet[ch] {
				continue
			}
			if confIdx < len(tokenConf) {
				sum += tokenConf[confIdx]
				confIdx++
				n++
			}
		}
		avg := 0.0
		if n > 0 {
			avg = sum / float64(n)
		}
		segs = append(segs, Segment{Text: sent, Confidence: avg, Speaker: -1})
	}
	return segs
}
