// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/copernicusai/copernicus/internal/media"
	"github.com/copernicusai/copernicus/internal/persistence"
)

// VideoPreprocessStage pulls the audio track out of an uploaded video. The
// video itself is already persisted in the task directory by the router.
type VideoPreprocessStage struct {
	proc      *media.Processor
	store     *persistence.Store
	videoExts map[string]bool
	enhance   bool
}

func NewVideoPreprocessStage(proc *media.Processor, store *persistence.Store, videoExtensions string, enhance bool) *VideoPreprocessStage {
	exts := make(map[string]bool)
	for _, e := range strings.Split(videoExtensions, ",") {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			exts[e] = true
		}
	}
	return &VideoPreprocessStage{proc: proc, store: store, videoExts: exts, enhance: enhance}
}

func (s *VideoPreprocessStage) Name() string { return "video_preprocess" }

func (s *VideoPreprocessStage) ShouldRun(pc *Context) bool {
	return pc.Filename != "" && s.videoExts[strings.ToLower(filepath.Ext(pc.Filename))]
}

func (s *VideoPreprocessStage) Execute(ctx context.Context, pc *Context, _ ProgressFunc) error {
	videoPath := s.store.FindVideo(pc.TaskID)
	if videoPath == "" {
		return fmt.Errorf("video not persisted for task %s", pc.TaskID)
	}

	dir, err := s.store.TaskDir(pc.TaskID)
	if err != nil {
		return err
	}
	wavPath := filepath.Join(dir, persistence.ExtractedWAVFile)

	if err := s.proc.ExtractAudio(ctx, videoPath, wavPath, s.enhance); err != nil {
		return err
	}

	pc.WAVPath = wavPath
	pc.VideoPath = videoPath
	pc.MediaType = "video"
	return nil
}

// AudioPreprocessStage converts uploaded audio bytes to 16 kHz mono WAV in
// a scratch file that the recognition stage removes afterwards.
type AudioPreprocessStage struct {
	proc    *media.Processor
	workDir string
}

func NewAudioPreprocessStage(proc *media.Processor, workDir string) *AudioPreprocessStage {
	return &AudioPreprocessStage{proc: proc, workDir: workDir}
}

func (s *AudioPreprocessStage) Name() string { return "audio_preprocess" }

func (s *AudioPreprocessStage) ShouldRun(pc *Context) bool {
	return pc.WAVPath == "" && len(pc.AudioBytes) > 0
}

func (s *AudioPreprocessStage) Execute(ctx context.Context, pc *Context, _ ProgressFunc) error {
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return err
	}

	suffix := filepath.Ext(pc.Filename)
	if suffix == "" {
		suffix = ".bin"
	}
	inputPath := filepath.Join(s.workDir, uuid.New().String()+suffix)
	wavPath := strings.TrimSuffix(inputPath, suffix) + ".wav"

	if err := os.WriteFile(inputPath, pc.AudioBytes, 0o644); err != nil { // #nosec G306
		return err
	}
	defer media.CleanupTemp(inputPath)

	if err := s.proc.TranscodeWAV(ctx, inputPath, wavPath); err != nil {
		return err
	}

	pc.WAVPath = wavPath
	pc.TempWAV = true
	if pc.MediaType == "" {
		pc.MediaType = "audio"
	}
	return nil
}

// KeyframeExtractStage extracts timestamped frames from the video and
// persists keyframes.json.
type KeyframeExtractStage struct {
	proc  *media.Processor
	store *persistence.Store
	opts  media.KeyframeOptions
}

func NewKeyframeExtractStage(proc *media.Processor, store *persistence.Store, opts media.KeyframeOptions) *KeyframeExtractStage {
	return &KeyframeExtractStage{proc: proc, store: store, opts: opts}
}

func (s *KeyframeExtractStage) Name() string { return "keyframe_extract" }

func (s *KeyframeExtractStage) ShouldRun(pc *Context) bool {
	return pc.VideoPath != ""
}

func (s *KeyframeExtractStage) Execute(ctx context.Context, pc *Context, _ ProgressFunc) error {
	framesDir, err := s.store.FramesDir(pc.TaskID)
	if err != nil {
		return err
	}

	frames, err := s.proc.ExtractKeyframes(ctx, pc.VideoPath, framesDir, s.opts)
	if err != nil {
		return err
	}

	pc.Keyframes = frames
	return s.store.SaveJSON(pc.TaskID, persistence.KeyframesFile, frames)
}
