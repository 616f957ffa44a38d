// SPDX-License-Identifier: MIT

package compliance

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mozillazg/go-pinyin"
)

// Rule categories.
const (
	CategoryForbiddenPhrase = "forbidden_phrase"
	CategoryBehavioral      = "behavioral"
	CategoryDocument        = "document"
	CategoryVisualCheck     = "visual_check"
)

// Check modes.
const (
	CheckExact    = "exact"    // keyword prescan, validated by regex
	CheckSemantic = "semantic" // LLM judgement
	CheckVisual   = "visual"   // requires OCR evidence
)

// StructuredRule is an audit rule with full matching metadata.
type StructuredRule struct {
	ID              int
	Title           string
	Content         string
	Category        string
	CheckMode       string
	EvidenceSources []string
	Keywords        []string
	Description     string
	SeverityDefault string
}

// builtinRules covers the thirteen standard briefing audit rules.
var builtinRules = []StructuredRule{
	{
		ID: 1, Title: "如实告知",
		Content:         "讲师应提醒投保人如实告知健康状况和相关信息",
		Category:        CategoryBehavioral, CheckMode: CheckSemantic,
		EvidenceSources: []string{"transcript"},
		Description:     "检查讲师是否在产说会中提醒投保人如实告知。仅当完全未提及告知义务时才标记违规；简略提及不构成违规。",
		SeverityDefault: "medium",
	},
	{
		ID: 2, Title: "风险提示",
		Content:         "讲师应充分提示保险产品的风险和免责条款",
		Category:        CategoryBehavioral, CheckMode: CheckSemantic,
		EvidenceSources: []string{"transcript"},
		Description:     "检查讲师是否提及产品风险和免责条款。仅当完全未提及风险/免责时才标记违规；合规的风险提示内容本身不构成违规。",
		SeverityDefault: "medium",
	},
	{
		ID: 3, Title: "产品条款展示",
		Content:         "产说会现场应展示产品条款和保险合同重要内容",
		Category:        CategoryVisualCheck, CheckMode: CheckVisual,
		EvidenceSources: []string{"ocr"},
		Description:     "检查现场是否通过屏幕/投影展示了产品条款。需要 OCR 证据支持，纯语音转录无法判定。如无 OCR 数据则跳过此规则。",
		SeverityDefault: "medium",
	},
	{
		ID: 4, Title: "全程双录",
		Content:         "产说会全程应进行录音录像",
		Category:        CategoryBehavioral, CheckMode: CheckSemantic,
		EvidenceSources: []string{"transcript"},
		Description:     "检查是否提及录音录像安排。此规则侧重流程合规，仅当明确表示未录制时才标记违规。",
		SeverityDefault: "high",
	},
	{
		ID: 5, Title: "不得夸大收益",
		Content:         "不得夸大或变相夸大保险产品收益，不得承诺保证收益",
		Category:        CategoryForbiddenPhrase, CheckMode: CheckSemantic,
		EvidenceSources: []string{"transcript", "ocr"},
		Keywords:        []string{"保证收益", "稳赚", "只赚不赔", "翻倍", "年化收益率"},
		Description:     "检查是否夸大产品收益或承诺保证收益。注意：产品参数的客观陈述（如投保年龄、费率、保额）不是'夸大'；保单利益演示中标注'假设投资回报率'属于合规披露，不是承诺收益；仅当讲师做出超越合同条款的收益承诺时才标记违规。",
		SeverityDefault: "high",
	},
	{
		ID: 6, Title: "不得诋毁同业",
		Content:         "不得诋毁、贬低其他保险公司或其产品",
		Category:        CategoryForbiddenPhrase, CheckMode: CheckSemantic,
		EvidenceSources: []string{"transcript"},
		Keywords:        []string{"垃圾公司", "骗人", "倒闭"},
		Description:     "检查是否贬低或诋毁竞争对手。客观对比产品特征不构成诋毁；仅当使用贬义词汇攻击其他公司或产品时才标记违规。",
		SeverityDefault: "high",
	},
	{
		ID: 7, Title: "信息披露完整",
		Content:         "产说会材料应包含完整的产品信息和公司信息披露",
		Category:        CategoryVisualCheck, CheckMode: CheckVisual,
		EvidenceSources: []string{"ocr"},
		Description:     "检查展示材料是否包含完整的产品和公司信息。需要 OCR 证据支持，纯语音转录无法判定。如无 OCR 数据则跳过此规则。",
		SeverityDefault: "low",
	},
	{
		ID: 8, Title: "不得误导",
		Content:         "不得以任何方式误导投保人，不得隐瞒重要信息",
		Category:        CategoryForbiddenPhrase, CheckMode: CheckSemantic,
		EvidenceSources: []string{"transcript", "ocr"},
		Description:     "检查是否存在误导投保人或隐瞒重要信息的行为。正常的产品介绍和条款解读不构成误导；仅当故意曲解条款含义或隐瞒关键限制条件时才标记违规。",
		SeverityDefault: "high",
	},
	{
		ID: 9, Title: "不得夸大经营成果",
		Content:         "不得夸大公司经营成果或使用未经核实的数据",
		Category:        CategoryForbiddenPhrase, CheckMode: CheckSemantic,
		EvidenceSources: []string{"transcript", "ocr"},
		Keywords:        []string{"行业第一", "最大", "最强", "最好"},
		Description:     "检查是否夸大公司经营成果。注意：产品参数的客观陈述（如投保年龄范围、保障期限）不是'夸大经营成果'；合同条款中载明的保额、费率等属于产品事实，不涉及经营成果；仅当使用无依据的排名、未经核实的统计数据来美化公司时才标记违规。",
		SeverityDefault: "high",
	},
	{
		ID: 10, Title: "讲师资质",
		Content:         "主讲人应具备相应的保险从业资格",
		Category:        CategoryBehavioral, CheckMode: CheckSemantic,
		EvidenceSources: []string{"transcript"},
		Description:     "检查讲师是否展示或提及从业资格。未提及资格不一定违规（可能在会前已验证）；仅当有证据表明讲师无资质时才标记违规。",
		SeverityDefault: "low",
	},
	{
		ID: 11, Title: "适当性义务",
		Content:         "应根据投保人需求推荐适合的产品，不得强制搭售",
		Category:        CategoryBehavioral, CheckMode: CheckSemantic,
		EvidenceSources: []string{"transcript"},
		Description:     "检查是否根据客户需求推荐产品。正常的产品推荐话术不构成违规；仅当强制搭售或完全不考虑客户需求时才标记违规。",
		SeverityDefault: "medium",
	},
	{
		ID: 12, Title: "禁止混淆概念",
		Content:         "不得将保险产品与银行存款、基金等混淆，不得使用存取、利息、本金等概念",
		Category:        CategoryForbiddenPhrase, CheckMode: CheckExact,
		EvidenceSources: []string{"transcript", "ocr"},
		Keywords:        []string{"存取", "利息", "本金", "存款", "储蓄", "存钱", "取钱", "利率"},
		Description:     "检查是否将保险与银行存款混淆。此规则使用精确匹配：文本中出现禁止关键词即违规。同音字替代也应识别（如'保种'可能是'保证'，'犁息'可能是'利息'）。",
		SeverityDefault: "high",
	},
	{
		ID: 13, Title: "禁止不当用语",
		Content:         "不得使用保证、保种水平、零风险等不当用语描述保险产品",
		Category:        CategoryForbiddenPhrase, CheckMode: CheckExact,
		EvidenceSources: []string{"transcript", "ocr"},
		Keywords:        []string{"保种水平", "保证水平", "零风险", "无风险", "绝对安全", "百分百", "100%赔付"},
		Description:     "检查是否使用禁止用语描述保险产品。此规则使用精确匹配：文本中出现禁止关键词即违规。注意同音字替代（如'保种'='保证'）。",
		SeverityDefault: "high",
	},
}

// matchTokens maps builtin rule ids to content tokens used when aligning
// rule-file rows to builtin metadata.
var matchTokens = map[int][]string{
	1:  {"如实告知", "告知义务", "健康状况"},
	2:  {"风险提示", "免责条款"},
	3:  {"条款展示", "条款", "统一印制", "宣传材料"},
	4:  {"全程双录", "双录", "录音录像", "摄录"},
	5:  {"夸大收益", "保证收益", "承诺收益", "变相夸大"},
	6:  {"诋毁同业", "诋毁", "贬低"},
	7:  {"信息披露", "课件文件名", "定稿日期"},
	8:  {"虚假陈述", "误导宣传", "误导", "不实对比"},
	9:  {"保单利益", "分红", "经营成果", "万能险", "投资收益"},
	10: {"讲师资质", "从业资格", "认证资格", "师资", "资料归档"},
	11: {"适当性", "搭售", "主讲人"},
	12: {"存取", "利息", "本金", "混淆", "比率简单对比"},
	13: {"保种水平", "保证水平", "零风险", "不允许出现"},
}

var (
	builtinIndex  = map[int]StructuredRule{}
	exactPatterns = map[int]*regexp.Regexp{}
	exactPinyin   = map[int][]pinyinKeyword{}
)

type pinyinKeyword struct {
	keyword   string
	syllables []string
}

func init() {
	for _, r := range builtinRules {
		builtinIndex[r.ID] = r
		if r.CheckMode != CheckExact || len(r.Keywords) == 0 {
			continue
		}
		escaped := make([]string, len(r.Keywords))
		for i, kw := range r.Keywords {
			escaped[i] = regexp.QuoteMeta(kw)
		}
		exactPatterns[r.ID] = regexp.MustCompile(strings.Join(escaped, "|"))

		kws := make([]pinyinKeyword, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			syllables := textToPinyin(kw)
			if len(syllables) > 0 {
				kws = append(kws, pinyinKeyword{keyword: kw, syllables: syllables})
			}
		}
		exactPinyin[r.ID] = kws
	}
}

// Enrich aligns parsed rule-file rows to builtin metadata by content token
// overlap, so rule files with different numbering still map correctly. Rows
// matching nothing fall back to semantic checking of the raw rule text.
func Enrich(rules []Rule) []StructuredRule {
	result := make([]StructuredRule, 0, len(rules))
	for _, rule := range rules {
		if builtin, ok := matchByContent(rule.Content); ok {
			enriched := builtin
			enriched.Content = rule.Content
			result = append(result, enriched)
			continue
		}
		result = append(result, StructuredRule{
			ID:              rule.ID,
			Title:           "规则" + strconv.Itoa(rule.ID),
			Content:         rule.Content,
			Category:        CategoryBehavioral,
			CheckMode:       CheckSemantic,
			EvidenceSources: []string{"transcript"},
			Description:     "基于规则原文进行语义审核。仅当文本明确违反此规则要求时才标记违规；客观事实陈述不构成违规。",
			SeverityDefault: "medium",
		})
	}
	return result
}

// matchByContent picks the builtin rule with the highest token hit count.
func matchByContent(content string) (StructuredRule, bool) {
	bestID, bestScore := 0, 0
	for ruleID, tokens := range matchTokens {
		score := 0
		for _, t := range tokens {
			if strings.Contains(content, t) {
				score++
			}
		}
		if score > bestScore || (score == bestScore && score > 0 && ruleID < bestID) {
			bestScore = score
			bestID = ruleID
		}
	}
	if bestScore == 0 {
		return StructuredRule{}, false
	}
	return builtinIndex[bestID], true
}

// ExactPattern returns the precompiled keyword regex for an exact-mode rule.
func ExactPattern(ruleID int) *regexp.Regexp {
	return exactPatterns[ruleID]
}

// PinyinKeywords returns the pinyin index for an exact-mode rule.
func PinyinKeywords(ruleID int) []pinyinKeyword {
	return exactPinyin[ruleID]
}

// GroupBySource splits rules into transcript-only, ocr-only and mixed groups.
func GroupBySource(rules []StructuredRule) map[string][]StructuredRule {
	groups := map[string][]StructuredRule{
		"transcript": {},
		"ocr":        {},
		"mixed":      {},
	}
	for _, r := range rules {
		switch {
		case len(r.EvidenceSources) == 1 && r.EvidenceSources[0] == "transcript":
			groups["transcript"] = append(groups["transcript"], r)
		case len(r.EvidenceSources) == 1 && r.EvidenceSources[0] == "ocr":
			groups["ocr"] = append(groups["ocr"], r)
		default:
			groups["mixed"] = append(groups["mixed"], r)
		}
	}
	return groups
}

// textToPinyin converts text to toneless pinyin syllables, one per Han rune.
// Non-Han runes map to their literal form so mixed text still aligns.
func textToPinyin(text string) []string {
	args := pinyin.NewArgs()
	args.Fallback = func(r rune, a pinyin.Args) []string {
		return []string{string(r)}
	}
	rows := pinyin.Pinyin(text, args)
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			out = append(out, row[0])
		}
	}
	return out
}

// pinyinContains slides a fixed window over the text syllables looking for
// the keyword syllable sequence. Returns the rune position or -1.
func pinyinContains(textPinyin []string, keyword []string) int {
	if len(keyword) == 0 || len(textPinyin) < len(keyword) {
		return -1
	}
	for i := 0; i+len(keyword) <= len(textPinyin); i++ {
		match := true
		for j := range keyword {
			if textPinyin[i+j] != keyword[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

