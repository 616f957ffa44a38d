// SPDX-License-Identifier: MIT

package llm

import "regexp"

var (
	thinkPairRE  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkOpenRE  = regexp.MustCompile(`(?s)<think>.*`)
	thinkCloseRE = regexp.MustCompile(`(?s)^.*?</think>`)
)

// StripThinkTags removes reasoning markup from model output, including
// unterminated open tags and orphan close tags.
func StripThinkTags(text string) string {
	text = thinkPairRE.ReplaceAllString(text, "")
	text = thinkOpenRE.ReplaceAllString(text, "")
	text = thinkCloseRE.ReplaceAllString(text, "")
	return text
}
