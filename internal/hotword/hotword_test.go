// SPDX-License-Identifier: MIT

package hotword

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLexicon(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hotwords.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReplaceMappings(t *testing.T) {
	path := writeLexicon(t, `# 保险术语
全程双路->全程双录
现金价值

犹豫期->犹豫期
`)
	r := New(path, true)
	require.True(t, r.Active())

	assert.Equal(t, "启动全程双录流程", r.Replace("启动全程双路流程"))
	assert.Equal(t, "现金价值不变", r.Replace("现金价值不变"))
	assert.Equal(t, "", r.Replace(""))
}

func TestLongestMatchWins(t *testing.T) {
	path := writeLexicon(t, "双路->双录\n全程双路->全程双录保障\n")
	r := New(path, true)
	assert.Equal(t, "全程双录保障", r.Replace("全程双路"))
	assert.Equal(t, "双录", r.Replace("双路"))
}

func TestASRHotwords(t *testing.T) {
	path := writeLexicon(t, "特朗普\n全程双路->全程双录\n")
	r := New(path, true)
	assert.ElementsMatch(t, []string{"特朗普", "全程双录"}, r.ASRHotwords())
}

func TestReplaceAll(t *testing.T) {
	path := writeLexicon(t, "双路->双录\n")
	r := New(path, true)
	out, changed := r.ReplaceAll([]string{"开启双路", "没有变化"})
	assert.Equal(t, []string{"开启双录", "没有变化"}, out)
	assert.Equal(t, 1, changed)
}

func TestDisabledPassesThrough(t *testing.T) {
	path := writeLexicon(t, "双路->双录\n")
	r := New(path, false)
	assert.False(t, r.Active())
	assert.Equal(t, "开启双路", r.Replace("开启双路"))
	assert.Empty(t, r.ASRHotwords())
}

func TestMissingFileInactive(t *testing.T) {
	r := New("/nonexistent/hotwords.txt", true)
	assert.False(t, r.Active())
	assert.Equal(t, "原文", r.Replace("原文"))
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := writeLexicon(t, "甲->乙\n")
	r := New(path, true)
	assert.Equal(t, "乙", r.Replace("甲"))

	require.NoError(t, os.WriteFile(path, []byte("甲->丙\n"), 0o644))
	require.NoError(t, r.Reload())
	assert.Equal(t, "丙", r.Replace("甲"))
}
