// SPDX-License-Identifier: MIT

package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/copernicusai/copernicus/internal/log"
)

// KeyFrame is one extracted video frame, timestamped for evidence lookup.
type KeyFrame struct {
	Index       int    `json:"index"`
	TimestampMS int    `json:"timestamp_ms"`
	Path        string `json:"path"` // filename inside the frames dir
}

// KeyframeOptions selects the extraction strategy and output shape.
type KeyframeOptions struct {
	Strategy       string  // "interval" | "scene"
	IntervalSec    float64 // interval mode: one frame every IntervalSec
	SceneThreshold float64 // scene mode: scene-change score cutoff
	MaxCount       int     // uniform down-sample above this count
	Format         string  // image extension, default jpg
	Quality        int     // ffmpeg -q:v, default 2
}

func (o *KeyframeOptions) applyDefaults() {
	if o.Strategy == "" {
		o.Strategy = "interval"
	}
	if o.IntervalSec <= 0 {
		o.IntervalSec = 2.0
	}
	if o.SceneThreshold <= 0 {
		o.SceneThreshold = 0.3
	}
	if o.MaxCount <= 0 {
		o.MaxCount = 500
	}
	if o.Format == "" {
		o.Format = "jpg"
	}
	if o.Quality <= 0 {
		o.Quality = 2
	}
}

var frameNumRE = regexp.MustCompile(`^(\d+)$`)

// ExtractKeyframes writes frames into framesDir and returns them sorted by
// filename. When more frames come out than MaxCount allows, the surplus is
// removed by uniform sampling so coverage stays even across the video.
func (p *Processor) ExtractKeyframes(ctx context.Context, videoPath, framesDir string, opts KeyframeOptions) ([]KeyFrame, error) {
	opts.applyDefaults()

	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcess, err)
	}

	if err := p.run(ctx, p.ffmpeg, keyframeArgs(videoPath, framesDir, opts)); err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(framesDir, "*."+opts.Format))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcess, err)
	}
	sort.Strings(files)

	files = sampleFrames(files, opts.MaxCount, func(path string) {
		if rmErr := os.Remove(path); rmErr != nil {
			p.logger.Warn().Err(rmErr).Str(log.FieldPath, path).Msg("surplus frame removal failed")
		}
	})

	frames := make([]KeyFrame, 0, len(files))
	for i, f := range files {
		frames = append(frames, KeyFrame{
			Index:       i,
			TimestampMS: estimateTimestampMS(filepath.Base(f), i, opts),
			Path:        filepath.Base(f),
		})
	}

	p.logger.Info().
		Int("frames", len(frames)).
		Str("strategy", opts.Strategy).
		Msg("keyframes extracted")
	return frames, nil
}

func keyframeArgs(videoPath, framesDir string, opts KeyframeOptions) []string {
	var vf string
	if opts.Strategy == "scene" {
		vf = fmt.Sprintf("select='gt(scene,%g)'", opts.SceneThreshold)
	} else {
		vf = fmt.Sprintf("fps=1/%g", opts.IntervalSec)
	}

	args := []string{"-y", "-i", videoPath, "-vf", vf}
	if opts.Strategy == "scene" {
		args = append(args, "-vsync", "vfr")
	}
	return append(args,
		"-q:v", strconv.Itoa(opts.Quality),
		filepath.Join(framesDir, "%04d."+opts.Format),
	)
}

// sampleFrames keeps at most max paths, uniformly spaced; the discard hook
// runs for every dropped path.
func sampleFrames(files []string, max int, discard func(string)) []string {
	if len(files) <= max {
		return files
	}
	step := float64(len(files)) / float64(max)
	kept := make([]string, 0, max)
	keptSet := make(map[string]bool, max)
	for i := 0; i < max; i++ {
		f := files[int(float64(i)*step)]
		if !keptSet[f] {
			kept = append(kept, f)
			keptSet[f] = true
		}
	}
	for _, f := range files {
		if !keptSet[f] {
			discard(f)
		}
	}
	return kept
}

// estimateTimestampMS recovers the frame time from the ffmpeg sequence
// number. Interval mode numbers frames from 1, one per IntervalSec; scene
// mode has no reliable mapping, so the index is used as an approximation.
func estimateTimestampMS(filename string, index int, opts KeyframeOptions) int {
	stem := filename
	if ext := filepath.Ext(filename); ext != "" {
		stem = filename[:len(filename)-len(ext)]
	}
	if m := frameNumRE.FindStringSubmatch(stem); m != nil && opts.Strategy == "interval" {
		num, _ := strconv.Atoi(m[1])
		return int(float64(num-1) * opts.IntervalSec * 1000)
	}
	return int(float64(index) * opts.IntervalSec * 1000)
}
