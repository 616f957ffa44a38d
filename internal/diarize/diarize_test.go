// SPDX-License-Identifier: MIT

package diarize

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copernicusai/copernicus/internal/asr"
)

func writeTestWAV(t *testing.T, durationMS, sampleRate int) string {
	t.Helper()
	n := durationMS * sampleRate / 1000
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i%100)))
	}

	var buf []byte
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+len(pcm)))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // PCM
	buf = binary.LittleEndian.AppendUint16(buf, 1) // mono
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate*2))
	buf = binary.LittleEndian.AppendUint16(buf, 2)
	buf = binary.LittleEndian.AppendUint16(buf, 16)
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(pcm)))
	buf = append(buf, pcm...)

	path := filepath.Join(t.TempDir(), "test.wav")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

// timedExtractor returns one of two orthogonal embeddings depending on
// where the window sits in the audio, simulating two speakers.
type timedExtractor struct {
	sampleRate int
	switchMS   int
	pos        int
	plan       []window
}

func (e *timedExtractor) Embed(ctx context.Context, samples []float64, sampleRate int) ([]float64, error) {
	w := e.plan[e.pos]
	e.pos++
	if w.startMS < e.switchMS {
		return []float64{1, 0, 0}, nil
	}
	return []float64{0, 1, 0}, nil
}

func TestReadWAV(t *testing.T) {
	path := writeTestWAV(t, 1000, 16000)
	samples, rate, err := ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Len(t, samples, 16000)
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a wav file at all"), 0o644))
	_, _, err := ReadWAV(path)
	require.Error(t, err)
}

func TestClusterEmbeddingsTwoGroups(t *testing.T) {
	emb := [][]float64{
		{1, 0, 0},
		{0.99, 0.01, 0},
		{0, 1, 0},
		{0.01, 0.99, 0},
		{1, 0.01, 0},
	}
	labels := clusterEmbeddings(emb, 0.5)
	require.Len(t, labels, 5)
	// largest cluster gets label 0
	assert.Equal(t, 0, labels[0])
	assert.Equal(t, 0, labels[1])
	assert.Equal(t, 0, labels[4])
	assert.Equal(t, 1, labels[2])
	assert.Equal(t, 1, labels[3])
}

func TestClusterEmbeddingsSingleSpeaker(t *testing.T) {
	emb := [][]float64{{1, 0}, {0.98, 0.02}, {0.97, 0.01}}
	labels := clusterEmbeddings(emb, 0.5)
	for _, l := range labels {
		assert.Equal(t, 0, l)
	}
}

func TestPlanWindowsShortSegment(t *testing.T) {
	d := New(DefaultConfig(), nil)
	wins := d.planWindows([]asr.Segment{{StartMS: 0, EndMS: 2000}})
	require.Len(t, wins, 1)
	assert.Equal(t, 0, wins[0].startMS)
	assert.Equal(t, 2000, wins[0].endMS)
}

func TestPlanWindowsSliding(t *testing.T) {
	d := New(DefaultConfig(), nil)
	wins := d.planWindows([]asr.Segment{{StartMS: 0, EndMS: 6000}})
	// 750ms stride over 6s
	require.Greater(t, len(wins), 3)
	assert.Equal(t, 0, wins[0].startMS)
	assert.Equal(t, 1500, wins[0].endMS)
	assert.Equal(t, 750, wins[1].startMS)
	assert.Equal(t, 6000, wins[len(wins)-1].endMS)
}

func TestPlanWindowsCapGrowsStride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWindows = 10
	d := New(cfg, nil)
	wins := d.planWindows([]asr.Segment{{StartMS: 0, EndMS: 600000}})
	assert.LessOrEqual(t, len(wins), 12)
}

func TestPlanWindowsTooShortSkipped(t *testing.T) {
	d := New(DefaultConfig(), nil)
	wins := d.planWindows([]asr.Segment{{StartMS: 0, EndMS: 300}})
	assert.Empty(t, wins)
}

func TestMajorityLabelTieKeepsFirstWindow(t *testing.T) {
	windows := []window{
		{segIdx: 0, startMS: 0, endMS: 1500},
		{segIdx: 0, startMS: 750, endMS: 2250},
		{segIdx: 0, startMS: 1500, endMS: 3000},
		{segIdx: 0, startMS: 2250, endMS: 3750},
	}

	// 2-2 split: the label of the earliest window wins
	assert.Equal(t, 1, majorityLabel(0, windows, []int{1, 1, 0, 0}))
	assert.Equal(t, 0, majorityLabel(0, windows, []int{0, 0, 1, 1}))

	// clear majority unaffected
	assert.Equal(t, 0, majorityLabel(0, windows, []int{1, 0, 0, 0}))

	// uncovered segment
	assert.Equal(t, -1, majorityLabel(7, windows, []int{1, 1, 0, 0}))
}

func TestAssignTwoSpeakers(t *testing.T) {
	path := writeTestWAV(t, 8000, 16000)
	segments := []asr.Segment{
		{Text: "第一位说话人的内容", StartMS: 0, EndMS: 2000, Speaker: -1},
		{Text: "第二位说话人的内容", StartMS: 4000, EndMS: 6000, Speaker: -1},
	}

	cfg := DefaultConfig()
	d := New(cfg, nil)
	ext := &timedExtractor{switchMS: 3000, plan: d.planWindows(segments)}
	d.extractor = ext

	out, speakers, err := d.Assign(context.Background(), path, segments)
	require.NoError(t, err)
	assert.Equal(t, 2, speakers)
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].Speaker, out[1].Speaker)
}

func TestAssignSingleSegmentSplitsTurns(t *testing.T) {
	path := writeTestWAV(t, 8000, 16000)
	segments := []asr.Segment{
		{Text: "前半段是甲方后半段是乙方", StartMS: 0, EndMS: 8000, Speaker: -1},
	}

	cfg := DefaultConfig()
	d := New(cfg, nil)
	ext := &timedExtractor{switchMS: 4000, plan: d.planWindows(segments)}
	d.extractor = ext

	out, speakers, err := d.Assign(context.Background(), path, segments)
	require.NoError(t, err)
	assert.Equal(t, 2, speakers)
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].Speaker, out[1].Speaker)

	// full text preserved across the split
	assert.Equal(t, "前半段是甲方后半段是乙方", out[0].Text+out[1].Text)
	assert.Equal(t, 0, out[0].StartMS)
	assert.Equal(t, 8000, out[1].EndMS)
	assert.Equal(t, out[0].EndMS, out[1].StartMS)
}

func TestAssignEmptySegments(t *testing.T) {
	d := New(DefaultConfig(), nil)
	out, speakers, err := d.Assign(context.Background(), "/nonexistent", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, speakers)
}
