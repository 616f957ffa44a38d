// SPDX-License-Identifier: MIT

// Package diarize assigns speaker labels to transcript segments by
// clustering voiceprint embeddings over sliding audio windows.
package diarize

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/copernicusai/copernicus/internal/asr"
	"github.com/copernicusai/copernicus/internal/log"
)

// Config tunes the windowing and clustering behaviour.
type Config struct {
	WindowMS           int     // sliding window length
	StepMS             int     // sliding window stride
	SlidingThresholdMS int     // segments longer than this get sliding windows
	MinWindowMS        int     // windows shorter than this are skipped
	MaxWindows         int     // per-segment window cap, stride grows beyond it
	DistanceThreshold  float64 // cosine distance cut for cluster merging
}

// DefaultConfig returns the production windowing parameters.
func DefaultConfig() Config {
	return Config{
		WindowMS:           1500,
		StepMS:             750,
		SlidingThresholdMS: 3000,
		MinWindowMS:        500,
		MaxWindows:         500,
		DistanceThreshold:  0.5,
	}
}

type window struct {
	segIdx  int
	startMS int
	endMS   int
}

// Diarizer clusters voiceprints into speakers.
type Diarizer struct {
	cfg       Config
	extractor Extractor
	logger    zerolog.Logger
}

// New builds a Diarizer on top of a voiceprint extractor.
func New(cfg Config, extractor Extractor) *Diarizer {
	return &Diarizer{cfg: cfg, extractor: extractor, logger: log.WithComponent("diarize")}
}

// Assign labels each segment with a speaker id and returns the labeled
// segments plus the number of distinct speakers found. When a single segment
// turns out to contain several speakers it is split into per-speaker turns.
// Segments that could not be voiced-printed keep speaker -1.
func (d *Diarizer) Assign(ctx context.Context, audioPath string, segments []asr.Segment) ([]asr.Segment, int, error) {
	if len(segments) == 0 {
		return segments, 0, nil
	}

	samples, sampleRate, err := ReadWAV(audioPath)
	if err != nil {
		return nil, 0, fmt.Errorf("diarize: %w", err)
	}

	windows := d.planWindows(segments)
	if len(windows) == 0 {
		d.logger.Warn().Int("segments", len(segments)).Msg("no usable windows, skipping diarization")
		return segments, 0, nil
	}

	embeddings := make([][]float64, 0, len(windows))
	kept := make([]window, 0, len(windows))
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		slice := sliceSamples(samples, sampleRate, w.startMS, w.endMS)
		if len(slice) == 0 {
			continue
		}
		emb, err := d.extractor.Embed(ctx, slice, sampleRate)
		if err != nil {
			d.logger.Warn().Err(err).Int("start_ms", w.startMS).Msg("embedding failed, window dropped")
			continue
		}
		embeddings = append(embeddings, emb)
		kept = append(kept, w)
	}
	if len(embeddings) == 0 {
		d.logger.Warn().Msg("all embeddings failed, skipping diarization")
		return segments, 0, nil
	}

	labels := clusterEmbeddings(embeddings, d.cfg.DistanceThreshold)
	numSpeakers := 0
	for _, l := range labels {
		if l+1 > numSpeakers {
			numSpeakers = l + 1
		}
	}

	if len(segments) == 1 && numSpeakers > 1 {
		split := d.splitByTurns(segments[0], kept, labels)
		d.logger.Info().Int("speakers", numSpeakers).Int("turns", len(split)).Msg("single segment split into speaker turns")
		return split, numSpeakers, nil
	}

	out := make([]asr.Segment, len(segments))
	copy(out, segments)
	for i := range out {
		out[i].Speaker = majorityLabel(i, kept, labels)
	}
	d.logger.Info().Int("speakers", numSpeakers).Int("windows", len(kept)).Msg("diarization complete")
	return out, numSpeakers, nil
}

// planWindows lays sliding windows over long segments and a single window
// over short ones. The stride grows when a segment would otherwise exceed
// the per-segment window cap.
func (d *Diarizer) planWindows(segments []asr.Segment) []window {
	var windows []window
	for i, seg := range segments {
		dur := seg.EndMS - seg.StartMS
		if dur <= 0 {
			continue
		}

		if dur <= d.cfg.SlidingThresholdMS {
			if dur >= d.cfg.MinWindowMS {
				windows = append(windows, window{segIdx: i, startMS: seg.StartMS, endMS: seg.EndMS})
			}
			continue
		}

		step := d.cfg.StepMS
		if d.cfg.MaxWindows > 0 {
			if est := dur/step + 1; est > d.cfg.MaxWindows {
				step = dur / d.cfg.MaxWindows
			}
		}
		for start := seg.StartMS; start < seg.EndMS; start += step {
			end := start + d.cfg.WindowMS
			if end > seg.EndMS {
				end = seg.EndMS
			}
			if end-start >= d.cfg.MinWindowMS {
				windows = append(windows, window{segIdx: i, startMS: start, endMS: end})
			}
			if end == seg.EndMS {
				break
			}
		}
	}
	return windows
}

// majorityLabel picks the most frequent cluster label among a segment's
// windows; ties go to the label seen first in window order. Returns -1 for
// uncovered segments.
func majorityLabel(segIdx int, windows []window, labels []int) int {
	counts := map[int]int{}
	best, bestCount := -1, 0
	for i, w := range windows {
		if w.segIdx != segIdx {
			continue
		}
		label := labels[i]
		counts[label]++
		if counts[label] > bestCount {
			best, bestCount = label, counts[label]
		}
	}
	return best
}

// splitByTurns carves one segment into consecutive same-speaker turns and
// allocates its text proportionally to turn duration. The last turn absorbs
// whatever text remains after rounding.
func (d *Diarizer) splitByTurns(seg asr.Segment, windows []window, labels []int) []asr.Segment {
	type turn struct {
		label   int
		startMS int
		endMS   int
	}

	var turns []turn
	for i, w := range windows {
		if len(turns) > 0 && turns[len(turns)-1].label == labels[i] {
			turns[len(turns)-1].endMS = w.endMS
			continue
		}
		turns = append(turns, turn{label: labels[i], startMS: w.startMS, endMS: w.endMS})
	}
	if len(turns) <= 1 {
		out := seg
		if len(turns) == 1 {
			out.Speaker = turns[0].label
		}
		return []asr.Segment{out}
	}

	// turn boundaries snap to the neighbouring turn so the whole segment
	// stays covered
	turns[0].startMS = seg.StartMS
	for i := 1; i < len(turns); i++ {
		turns[i].startMS = turns[i-1].endMS
	}
	turns[len(turns)-1].endMS = seg.EndMS

	runes := []rune(seg.Text)
	totalDur := seg.EndMS - seg.StartMS
	result := make([]asr.Segment, 0, len(turns))
	offset := 0
	for i, t := range turns {
		var text string
		if i == len(turns)-1 {
			text = string(runes[offset:])
		} else {
			n := len(runes) * (t.endMS - t.startMS) / totalDur
			if offset+n > len(runes) {
				n = len(runes) - offset
			}
			text = string(runes[offset : offset+n])
			offset += n
		}
		if text == "" {
			continue
		}
		result = append(result, asr.Segment{
			Text:       text,
			StartMS:    t.startMS,
			EndMS:      t.endMS,
			Confidence: seg.Confidence,
			Speaker:    t.label,
		})
	}
	if len(result) == 0 {
		return []asr.Segment{seg}
	}
	return result
}

func sliceSamples(samples []float64, sampleRate, startMS, endMS int) []float64 {
	start := startMS * sampleRate / 1000
	end := endMS * sampleRate / 1000
	if start < 0 {
		start = 0
	}
	if end > len(samples) {
		end = len(samples)
	}
	if start >= end {
		return nil
	}
	return samples[start:end]
}
