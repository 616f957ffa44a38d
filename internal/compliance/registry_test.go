// SPDX-License-Identifier: MIT

package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichMatchesBuiltins(t *testing.T) {
	rules := []Rule{
		{ID: 101, Content: "产说会全程双录，录音录像不得中断"},
		{ID: 102, Content: "不允许出现保种水平、零风险等字样"},
		{ID: 103, Content: "完全自定义的规则，没有任何已知关键词"},
	}

	enriched := Enrich(rules)
	require.Len(t, enriched, 3)

	assert.Equal(t, 4, enriched[0].ID) // 全程双录
	assert.Equal(t, CheckSemantic, enriched[0].CheckMode)
	assert.Equal(t, "产说会全程双录，录音录像不得中断", enriched[0].Content)

	assert.Equal(t, 13, enriched[1].ID) // 禁止不当用语
	assert.Equal(t, CheckExact, enriched[1].CheckMode)
	assert.NotEmpty(t, enriched[1].Keywords)

	// unmatched rule falls back to semantic with its own id
	assert.Equal(t, 103, enriched[2].ID)
	assert.Equal(t, CheckSemantic, enriched[2].CheckMode)
	assert.Equal(t, []string{"transcript"}, enriched[2].EvidenceSources)
}

func TestExactPattern(t *testing.T) {
	p := ExactPattern(12)
	require.NotNil(t, p)
	assert.True(t, p.MatchString("这笔钱存取灵活"))
	assert.True(t, p.MatchString("按本金计算利息"))
	assert.False(t, p.MatchString("保障责任范围很广"))

	assert.Nil(t, ExactPattern(1)) // semantic rule has no pattern
}

func TestPinyinContains(t *testing.T) {
	text := textToPinyin("每年按本金支付犁息")
	kw := textToPinyin("利息") // homophone of 犁息
	assert.GreaterOrEqual(t, pinyinContains(text, kw), 0)

	miss := textToPinyin("免责条款")
	assert.Equal(t, -1, pinyinContains(text, miss))
}

func TestGroupBySource(t *testing.T) {
	groups := GroupBySource(Enrich([]Rule{
		{ID: 1, Content: "如实告知义务必须提醒"},
		{ID: 2, Content: "现场需展示条款宣传材料，统一印制"},
		{ID: 3, Content: "不允许出现零风险承诺"},
	}))

	assert.Len(t, groups["transcript"], 1)
	assert.Len(t, groups["ocr"], 1)
	assert.Len(t, groups["mixed"], 1)
}
