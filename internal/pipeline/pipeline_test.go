// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copernicusai/copernicus/internal/asr"
	"github.com/copernicusai/copernicus/internal/correct"
	"github.com/copernicusai/copernicus/internal/llm"
)

type fakeStage struct {
	name    string
	run     bool
	execErr error
	calls   *[]string
}

func (f *fakeStage) Name() string            { return f.name }
func (f *fakeStage) ShouldRun(*Context) bool { return f.run }
func (f *fakeStage) Execute(_ context.Context, _ *Context, onProgress ProgressFunc) error {
	*f.calls = append(*f.calls, f.name)
	if onProgress != nil {
		onProgress(1, 2)
	}
	return f.execErr
}

func TestOrchestratorRunsInOrderAndSkips(t *testing.T) {
	var calls []string
	o := NewOrchestrator().
		Register(&fakeStage{name: "first", run: true, calls: &calls}).
		Register(&fakeStage{name: "skipped", run: false, calls: &calls}).
		Register(&fakeStage{name: "second", run: true, calls: &calls})

	pc := &Context{TaskID: "t1"}
	var seen []string
	err := o.Run(context.Background(), pc, func(stage string, _, _, completed, _ int) {
		if completed > 0 {
			seen = append(seen, stage)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, []string{"first", "second"}, seen)
	assert.Contains(t, pc.StageTimes, "first")
	assert.NotContains(t, pc.StageTimes, "skipped")
}

func TestOrchestratorAbortsOnError(t *testing.T) {
	var calls []string
	boom := errors.New("ffmpeg exploded")
	o := NewOrchestrator().
		Register(&fakeStage{name: "bad", run: true, execErr: boom, calls: &calls}).
		Register(&fakeStage{name: "never", run: true, calls: &calls})

	err := o.Run(context.Background(), &Context{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"bad"}, calls)
}

func TestOrchestratorHonorsCancellation(t *testing.T) {
	var calls []string
	o := NewOrchestrator().Register(&fakeStage{name: "any", run: true, calls: &calls})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := o.Run(ctx, &Context{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls)
}

func TestVideoPreprocessShouldRun(t *testing.T) {
	s := NewVideoPreprocessStage(nil, nil, ".mp4,.avi, .mov", true)

	assert.True(t, s.ShouldRun(&Context{Filename: "讲座.MP4"}))
	assert.True(t, s.ShouldRun(&Context{Filename: "a.mov"}))
	assert.False(t, s.ShouldRun(&Context{Filename: "a.wav"}))
	assert.False(t, s.ShouldRun(&Context{Filename: ""}))
}

func TestAudioPreprocessShouldRun(t *testing.T) {
	s := NewAudioPreprocessStage(nil, t.TempDir())

	assert.True(t, s.ShouldRun(&Context{AudioBytes: []byte("x")}))
	// video stage already produced a WAV
	assert.False(t, s.ShouldRun(&Context{AudioBytes: []byte("x"), WAVPath: "/tmp/extracted.wav"}))
	assert.False(t, s.ShouldRun(&Context{}))
}

func TestNeedsDiarization(t *testing.T) {
	assert.True(t, needsDiarization([]asr.Segment{{Speaker: -1}, {Speaker: -1}}))
	assert.False(t, needsDiarization([]asr.Segment{{Speaker: 0}, {Speaker: -1}}))
	assert.False(t, needsDiarization(nil))
}

func TestTextCorrectionSkipsHighConfidence(t *testing.T) {
	s := NewTextCorrectionStage(nil, 0.95)
	pc := &Context{Segments: []asr.Segment{
		{Text: "第一句", Confidence: 0.99},
		{Text: "第二句", Confidence: 0.97},
	}}

	require.NoError(t, s.Execute(context.Background(), pc, nil))
	assert.Equal(t, map[int]string{0: "第一句", 1: "第二句"}, pc.CorrectionMap)
}

func TestTextCorrectionCorrectsLowConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := `{"entries":[{"id":1,"text":"今年是2025年"}]}`
		chunk, _ := json.Marshal(map[string]any{
			"message": map[string]string{"content": content},
			"done":    true,
		})
		fmt.Fprintln(w, string(chunk))
	}))
	defer srv.Close()

	client := llm.New(llm.Config{
		BaseURL:       srv.URL,
		Model:         "test-model",
		Timeout:       2 * time.Second,
		MaxRetries:    1,
		RetryDelay:    time.Millisecond,
		MaxConcurrent: 2,
	})
	svc := correct.New(client, correct.Config{
		ChunkSize:      800,
		Overlap:        50,
		MaxConcurrency: 2,
		BatchSize:      15,
	}, nil, nil)

	s := NewTextCorrectionStage(svc, 0.95)
	pc := &Context{Segments: []asr.Segment{
		{Text: "高置信度内容", Confidence: 0.99},
		{Text: "今年是二零二五年", Confidence: 0.5},
	}}

	var lastDone int
	require.NoError(t, s.Execute(context.Background(), pc, func(done, total int) { lastDone = done }))

	assert.Equal(t, "高置信度内容", pc.CorrectionMap[0])
	assert.Equal(t, "今年是2025年", pc.CorrectionMap[1])
	assert.Equal(t, 1, lastDone)
}

func TestTranscriptBuildBasic(t *testing.T) {
	s := NewTranscriptBuildStage()
	pc := &Context{
		Segments: []asr.Segment{
			{Text: "原始一", StartMS: 0, EndMS: 3000, Speaker: 0},
			{Text: "噪音", StartMS: 3000, EndMS: 3500, Speaker: 1},
			{Text: "原始三", StartMS: 3500, EndMS: 7000, Speaker: -1},
		},
		CorrectionMap: map[int]string{0: "修正一", 1: "", 2: "修正三"},
	}

	require.NoError(t, s.Execute(context.Background(), pc, nil))
	require.Len(t, pc.Entries, 2)

	assert.Equal(t, "Speaker 1", pc.Entries[0].Speaker)
	assert.Equal(t, "修正一", pc.Entries[0].TextCorrected)
	assert.Equal(t, "原始一", pc.Entries[0].Text)
	assert.Equal(t, "00:00", pc.Entries[0].Timestamp)

	// unknown speaker falls back to Speaker 1
	assert.Equal(t, "Speaker 1", pc.Entries[1].Speaker)
	assert.Equal(t, "修正三", pc.Entries[1].TextCorrected)
}

func TestTranscriptBuildSplitsSubSentences(t *testing.T) {
	s := NewTranscriptBuildStage()
	seg := asr.Segment{
		Text:    "大家好。今天讲保险。",
		StartMS: 0,
		EndMS:   6000,
		Speaker: 1,
		SubSentences: []asr.SubSentence{
			{Text: "大家好。", StartMS: 0, EndMS: 2000},
			{Text: "今天讲保险。", StartMS: 2000, EndMS: 6000},
		},
	}
	pc := &Context{
		Segments:      []asr.Segment{seg},
		CorrectionMap: map[int]string{0: "大家好。今天讲保险产品。"},
	}

	require.NoError(t, s.Execute(context.Background(), pc, nil))
	require.Len(t, pc.Entries, 2)
	assert.Equal(t, "Speaker 2", pc.Entries[0].Speaker)
	assert.Equal(t, 0, pc.Entries[0].TimestampMS)
	assert.Equal(t, 2000, pc.Entries[1].TimestampMS)
	assert.Equal(t, 6000, pc.Entries[1].EndMS)
}

func TestSpeakerSmoothStage(t *testing.T) {
	s := NewSpeakerSmoothStage(1000, 1500)
	pc := &Context{Segments: []asr.Segment{
		{Text: "甲说话", StartMS: 0, EndMS: 5000, Speaker: 0},
		{Text: "闪烁", StartMS: 5000, EndMS: 5800, Speaker: 1}, // short flicker between two speaker_0 runs
		{Text: "甲继续", StartMS: 5800, EndMS: 11000, Speaker: 0},
	}}

	require.NoError(t, s.Execute(context.Background(), pc, nil))
	// flicker reassigned then all three merged into one speaker_0 run
	require.Len(t, pc.Segments, 1)
	assert.Equal(t, 0, pc.Segments[0].Speaker)
}
