// SPDX-License-Identifier: MIT

package taskstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusCorrecting.Terminal())
	assert.False(t, StatusAuditing.Terminal())
}

func TestProgressAnchors(t *testing.T) {
	cases := []struct {
		name string
		task TaskInfo
		want float64
	}{
		{"pending", TaskInfo{Status: StatusPending}, 0},
		{"asr parks at 5", TaskInfo{Status: StatusProcessingASR}, 5},
		{"extracting frames", TaskInfo{Status: StatusExtractingFrames}, 8},
		{"visual scan midway", TaskInfo{Status: StatusScanningVisual, CurrentChunk: 1, TotalChunks: 2}, 11.5},
		{"correcting start", TaskInfo{Status: StatusCorrecting, CurrentChunk: 0, TotalChunks: 4}, 15},
		{"correcting midway", TaskInfo{Status: StatusCorrecting, CurrentChunk: 2, TotalChunks: 4}, 52.5},
		{"correcting done", TaskInfo{Status: StatusCorrecting, CurrentChunk: 4, TotalChunks: 4}, 90},
		{"evaluating tail of transcript", TaskInfo{Status: StatusEvaluating, CurrentChunk: 1, TotalChunks: 2}, 95},
		{"standalone evaluation", TaskInfo{Status: StatusEvaluating, EvalOnly: true, CurrentChunk: 1, TotalChunks: 2}, 50},
		{"auditing", TaskInfo{Status: StatusAuditing, CurrentChunk: 3, TotalChunks: 4}, 75},
		{"completed", TaskInfo{Status: StatusCompleted}, 100},
		{"failed keeps last chunk anchor", TaskInfo{Status: StatusFailed, CurrentChunk: 1, TotalChunks: 2}, 52.5},
		{"zero total chunks", TaskInfo{Status: StatusScanningVisual}, 8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.task.Progress()
			assert.InDelta(t, tc.want, p.Percent, 0.01)
			assert.Equal(t, tc.task.CurrentChunk, p.CurrentChunk)
			assert.Equal(t, tc.task.TotalChunks, p.TotalChunks)
		})
	}
}

func TestProgressRoundsToOneDecimal(t *testing.T) {
	p := TaskInfo{Status: StatusCorrecting, CurrentChunk: 1, TotalChunks: 3}.Progress()
	assert.Equal(t, 40.0, p.Percent) // 15 + 75/3
}
