// SPDX-License-Identifier: MIT

package asr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecognizer struct {
	out *EngineOutput
	err error
}

func (f *fakeRecognizer) Recognize(ctx context.Context, audioPath string, hotwords []string, sentenceTimestamp bool) (*EngineOutput, error) {
	return f.out, f.err
}

func TestTranscribeParaformer(t *testing.T) {
	rec := &fakeRecognizer{out: &EngineOutput{
		Text: "你好世界",
		SentenceInfo: []SentenceInfo{
			{Text: "你好", StartMS: 0, EndMS: 800, Speaker: 0, Timestamps: [][2]int{{0, 400}, {400, 800}}},
			{Text: "世界", StartMS: 800, EndMS: 1600, Speaker: 1, Timestamps: [][2]int{{800, 1200}, {1200, 1600}}},
		},
	}}

	svc := New(Config{Mode: "paraformer", MaxSegmentMS: 15000}, rec)
	res, err := svc.Transcribe(context.Background(), "/tmp/a.wav", nil, true)
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, 0, res.Segments[0].Speaker)
	assert.Equal(t, "你好世界", res.Text)
}

func TestTranscribeSenseVoiceFiltersNoise(t *testing.T) {
	rec := &fakeRecognizer{out: &EngineOutput{
		SentenceInfo: []SentenceInfo{
			{Text: "<|zh|>有效内容在这里", StartMS: 0, EndMS: 2000},
			{Text: "嗯嗯嗯", StartMS: 2000, EndMS: 2500},
			{Text: "。。。", StartMS: 2500, EndMS: 2600},
		},
	}}

	svc := New(Config{Mode: "sensevoice", MaxSegmentMS: 15000, FilterNoise: true}, rec)
	res, err := svc.Transcribe(context.Background(), "/tmp/a.wav", nil, false)
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, "有效内容在这里", res.Segments[0].Text)
	assert.Equal(t, -1, res.Segments[0].Speaker)
	assert.Equal(t, "有效内容在这里", res.Text)
}

func TestTranscribeEmptyResult(t *testing.T) {
	rec := &fakeRecognizer{out: &EngineOutput{}}
	svc := New(Config{Mode: "paraformer"}, rec)
	res, err := svc.Transcribe(context.Background(), "/tmp/a.wav", nil, false)
	require.NoError(t, err)
	assert.Empty(t, res.Segments)
	assert.Empty(t, res.Text)
}

func TestTranscribeEngineError(t *testing.T) {
	rec := &fakeRecognizer{err: assert.AnError}
	svc := New(Config{Mode: "paraformer"}, rec)
	_, err := svc.Transcribe(context.Background(), "/tmp/a.wav", nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngine)
}
