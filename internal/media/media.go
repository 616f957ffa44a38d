// SPDX-License-Identifier: MIT

// Package media wraps the ffmpeg and ffprobe binaries for the audio and
// video preprocessing steps: transcoding uploads to the 16 kHz mono WAV the
// recognizer expects, pulling the audio track out of double-recording
// videos, and extracting keyframes for the visual checks.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/copernicusai/copernicus/internal/log"
)

// ErrProcess wraps all ffmpeg/ffprobe failures.
var ErrProcess = errors.New("media processing failed")

// enhanceFilter is the voice cleanup chain applied before ASR when audio
// enhancement is on: high-pass to cut rumble, FFT denoise, loudness
// normalization tuned for speech.
const enhanceFilter = "highpass=f=200,afftdn=nf=-25,dynaudnorm=p=0.9:m=10:s=3"

// Processor shells out to ffmpeg/ffprobe. Both paths default to the bare
// binary name so PATH lookup applies.
type Processor struct {
	ffmpeg  string
	ffprobe string
	logger  zerolog.Logger
}

func New(ffmpegPath, ffprobePath string) *Processor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Processor{
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
		logger:  log.WithComponent("media"),
	}
}

// TranscodeWAV converts an uploaded audio file to 16 kHz mono WAV.
func (p *Processor) TranscodeWAV(ctx context.Context, inputPath, outputPath string) error {
	return p.run(ctx, p.ffmpeg, transcodeArgs(inputPath, outputPath))
}

// ExtractAudio pulls the audio track out of a video as 16 kHz mono PCM WAV,
// optionally applying the speech enhancement filter chain.
func (p *Processor) ExtractAudio(ctx context.Context, videoPath, outputPath string, enhance bool) error {
	p.logger.Info().
		Str(log.FieldPath, videoPath).
		Bool("enhance", enhance).
		Msg("extracting audio track")
	return p.run(ctx, p.ffmpeg, extractAudioArgs(videoPath, outputPath, enhance))
}

// ProbeDuration returns the container duration in milliseconds.
func (p *Processor) ProbeDuration(ctx context.Context, path string) (int, error) {
	out, err := p.output(ctx, p.ffprobe, probeArgs(path))
	if err != nil {
		return 0, err
	}
	return parseProbeDuration(out)
}

// run executes the binary and discards stdout; stderr is kept for the error.
func (p *Processor) run(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204
	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s not found on PATH", ErrProcess, bin)
		}
		return fmt.Errorf("%w: %s: %v: %s", ErrProcess, bin, err, tail(stderr.String(), 500))
	}
	return nil
}

func (p *Processor) output(ctx context.Context, bin string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s not found on PATH", ErrProcess, bin)
		}
		return "", fmt.Errorf("%w: %s: %v: %s", ErrProcess, bin, err, tail(stderr.String(), 500))
	}
	return stdout.String(), nil
}

func parseProbeDuration(out string) (int, error) {
	s := strings.TrimSpace(out)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("%w: no duration in probe output", ErrProcess)
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad duration %q", ErrProcess, s)
	}
	return int(sec * 1000), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func transcodeArgs(inputPath, outputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-ar", "16000",
		"-ac", "1",
		"-f", "wav",
		outputPath,
	}
}

func extractAudioArgs(videoPath, outputPath string, enhance bool) []string {
	args := []string{"-y", "-i", videoPath}
	if enhance {
		args = append(args, "-af", enhanceFilter)
	}
	return append(args,
		"-ar", "16000",
		"-ac", "1",
		"-acodec", "pcm_s16le",
		"-f", "wav",
		outputPath,
	)
}

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
}

// CleanupTemp removes a temporary media file, ignoring missing files.
func CleanupTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger := log.WithComponent("media")
		logger.Warn().Err(err).Str(log.FieldPath, path).Msg("temp file cleanup failed")
	}
}
