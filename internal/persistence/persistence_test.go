// SPDX-License-Identifier: MIT

package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSaveAndLoadJSON(t *testing.T) {
	s := newStore(t)

	type result struct {
		Score float64 `json:"score"`
	}
	require.NoError(t, s.SaveJSON("task1", EvaluationFile, result{Score: 88.5}))

	var out result
	require.NoError(t, s.LoadJSON("task1", EvaluationFile, &out))
	assert.Equal(t, 88.5, out.Score)

	assert.True(t, s.HasFile("task1", EvaluationFile))
	assert.False(t, s.HasFile("task1", TranscriptFile))
}

func TestLoadJSONMissing(t *testing.T) {
	s := newStore(t)
	var out map[string]any
	err := s.LoadJSON("nosuch", TranscriptFile, &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskIDConfinement(t *testing.T) {
	s := newStore(t)
	_, err := s.TaskDir("../escape")
	assert.Error(t, err)

	var out map[string]any
	err = s.LoadJSON("../../etc", "passwd", &out)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMetaRoundTrip(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.SaveMeta("task1", Meta{
		Filename:    "讲座.mp4",
		Hash:        "abc123",
		AudioSuffix: ".mp4",
		MediaType:   "video",
		VideoSuffix: ".mp4",
	}))

	meta, err := s.LoadMeta("task1")
	require.NoError(t, err)
	assert.Equal(t, "讲座.mp4", meta.Filename)
	assert.Equal(t, "video", meta.MediaType)
	assert.False(t, meta.CreatedAt.IsZero())
}

func TestSaveAndFindMedia(t *testing.T) {
	s := newStore(t)

	path, err := s.SaveMedia("task1", []byte("RIFF...."), "audio", ".wav")
	require.NoError(t, err)
	assert.FileExists(t, path)

	assert.Equal(t, path, s.FindAudio("task1"))
	assert.Empty(t, s.FindVideo("task1"))
	assert.Empty(t, s.FindAudio("other"))
}

func TestDeleteArtifact(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveJSON("task1", TranscriptFile, map[string]string{"k": "v"}))

	require.NoError(t, s.DeleteArtifact("task1", TranscriptFile))
	assert.False(t, s.HasFile("task1", TranscriptFile))

	// deleting again is fine
	require.NoError(t, s.DeleteArtifact("task1", TranscriptFile))
}

func TestHashIndexRoundTrip(t *testing.T) {
	s := newStore(t)
	_, err := s.TaskDir("task1")
	require.NoError(t, err)

	idx := NewHashIndex(s)
	idx.Record("deadbeef", "task1")

	id, ok := idx.Lookup("deadbeef")
	require.True(t, ok)
	assert.Equal(t, "task1", id)

	// reload from disk
	idx2 := NewHashIndex(s)
	id, ok = idx2.Lookup("deadbeef")
	require.True(t, ok)
	assert.Equal(t, "task1", id)

	_, ok = idx2.Lookup("cafebabe")
	assert.False(t, ok)
}

func TestHashIndexStaleEviction(t *testing.T) {
	s := newStore(t)
	dir, err := s.TaskDir("gone")
	require.NoError(t, err)

	idx := NewHashIndex(s)
	idx.Record("deadbeef", "gone")

	require.NoError(t, os.RemoveAll(dir))

	_, ok := idx.Lookup("deadbeef")
	assert.False(t, ok)

	// eviction was persisted
	idx2 := NewHashIndex(s)
	_, ok = idx2.Lookup("deadbeef")
	assert.False(t, ok)
}

func TestHashIndexCorruptFile(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), hashIndexFile), []byte("{broken"), 0o644))

	idx := NewHashIndex(s)
	_, ok := idx.Lookup("anything")
	assert.False(t, ok)
}

func TestScanCompleted(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.SaveMeta("task1", Meta{Filename: "a.wav", Hash: "h1", AudioSuffix: ".wav"}))
	require.NoError(t, s.SaveJSON("task1", TranscriptFile, map[string]any{}))
	_, err := s.SaveMedia("task1", []byte("x"), "audio", ".wav")
	require.NoError(t, err)

	require.NoError(t, s.SaveMeta("task2", Meta{Filename: "b.mp4", Hash: "h2", AudioSuffix: ".mp4", MediaType: "video"}))
	frames, err := s.FramesDir("task2")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(frames, "0001.jpg"), []byte("jpg"), 0o644))

	// directory without meta.json is skipped
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "junk"), 0o755))

	results := s.ScanCompleted()
	require.Len(t, results, 2)

	byID := map[string]TaskSummary{}
	for _, r := range results {
		byID[r.TaskID] = r
	}

	assert.True(t, byID["task1"].HasTranscript)
	assert.NotEmpty(t, byID["task1"].AudioPath)
	assert.Equal(t, 0, byID["task1"].KeyframeCount)

	assert.False(t, byID["task2"].HasTranscript)
	assert.Equal(t, 1, byID["task2"].KeyframeCount)
	assert.Equal(t, "b.mp4", byID["task2"].Meta.Filename)
}
