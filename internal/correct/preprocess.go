// SPDX-License-Identifier: MIT

package correct

import (
	"regexp"
	"strings"
)

// noisePhraseRE matches pure English recognizer hallucinations ("the the",
// "yeah", ...) that carry no content.
var noisePhraseRE = regexp.MustCompile(`(?i)^\s*(?:the\s+)*(?:the|a|an|yeah|yes|no|ok|okay|um|uh|oh|ah|er|hmm|hm|mm)\s*[，。,.]?\s*$`)

var noiseWordsCN = map[rune]bool{
	'嗯': true, '啊': true, '哦': true, '呃': true, '唔': true, '嘿': true,
	'哈': true, '呵': true, '噢': true, '喔': true, '诶': true, '哎': true,
	'唉': true, '呀': true,
}

// repeatPatterns collapses stuttered fillers ("那个那个那个" -> "那个").
var repeatPatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(那个){2,}`), "那个"},
	{regexp.MustCompile(`(这个){2,}`), "这个"},
	{regexp.MustCompile(`(就是){2,}`), "就是"},
	{regexp.MustCompile(`(然后){2,}`), "然后"},
	{regexp.MustCompile(`(所以){2,}`), "所以"},
	{regexp.MustCompile(`(但是){2,}`), "但是"},
	{regexp.MustCompile(`(因为){2,}`), "因为"},
	{regexp.MustCompile(`(可能){2,}`), "可能"},
	{regexp.MustCompile(`(应该){2,}`), "应该"},
	{regexp.MustCompile(`(终于){2,}`), "终于"},
	{regexp.MustCompile(`(了解){2,}`), "了解"},
	{regexp.MustCompile(`(不好意思){2,}`), "不好意思"},
	{regexp.MustCompile(`(嗯){2,}`), "嗯"},
	{regexp.MustCompile(`(啊){2,}`), "啊"},
	{regexp.MustCompile(`(哦){2,}`), "哦"},
	{regexp.MustCompile(`(呃){2,}`), "呃"},
}

var enNoisePrefixRE = regexp.MustCompile(`(?i)^\s*(?:the\s+)+`)

var cnDigitMap = map[rune]string{
	'零': "0", '〇': "0", '一': "1", '二': "2", '三': "3",
	'四': "4", '五': "5", '六': "6", '七': "7", '八': "8", '九': "9",
}

// four Chinese digits in the X零XX shape, the way spoken years come out
var fourDigitCNRE = regexp.MustCompile(`[一二三四五六七八九][零〇][一二三四五六七八九零〇][一二三四五六七八九零〇]`)

func cnDigitsToArabic(match string) string {
	var b strings.Builder
	for _, r := range match {
		if d, ok := cnDigitMap[r]; ok {
			b.WriteString(d)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Preprocess runs the rule phase: noise filtering, stutter collapsing and
// spoken-year normalization. The second return is false when the text is
// pure noise and should be dropped.
func Preprocess(text string) (string, bool) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return "", false
	}

	if noisePhraseRE.MatchString(cleaned) {
		return "", false
	}

	cleaned = strings.TrimSpace(enNoisePrefixRE.ReplaceAllString(cleaned, ""))

	for _, p := range repeatPatterns {
		cleaned = p.re.ReplaceAllString(cleaned, p.replacement)
	}

	cleaned = fourDigitCNRE.ReplaceAllStringFunc(cleaned, cnDigitsToArabic)

	stripped := cleaned
	for _, punc := range "，。、！？；：,.!?;: " {
		stripped = strings.ReplaceAll(stripped, string(punc), "")
	}
	if stripped == "" {
		return "", false
	}

	strippedRunes := []rune(stripped)
	if len(strippedRunes) <= 2 {
		allNoise := true
		for _, r := range strippedRunes {
			if !noiseWordsCN[r] {
				allNoise = false
				break
			}
		}
		if allNoise {
			return "", false
		}
	}

	return cleaned, true
}
