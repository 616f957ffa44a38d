// SPDX-License-Identifier: MIT

package asr

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/metrics"
)

// Config tunes the recognition service.
type Config struct {
	Mode         string // "paraformer" | "sensevoice"
	MaxSegmentMS int    // sensevoice: split segments longer than this
	FilterNoise  bool
}

// Service wraps the engine with mode-specific post-processing. Engine calls
// are serialized under a single-holder lock so concurrent transcript tasks
// queue on the GPU instead of thrashing it.
type Service struct {
	cfg        Config
	recognizer Recognizer
	mu         sync.Mutex
	logger     zerolog.Logger
}

// New builds the recognition service.
func New(cfg Config, recognizer Recognizer) *Service {
	return &Service{
		cfg:        cfg,
		recognizer: recognizer,
		logger:     log.WithComponent("asr"),
	}
}

// Mode returns the configured engine mode.
func (s *Service) Mode() string { return s.cfg.Mode }

// Transcribe runs recognition on a 16 kHz mono WAV and returns cleaned,
// time-aligned segments.
func (s *Service) Transcribe(ctx context.Context, audioPath string, hotwords []string, sentenceTimestamp bool) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.recognizer.Recognize(ctx, audioPath, hotwords, sentenceTimestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}

	var result *Result
	if s.cfg.Mode == "sensevoice" {
		result = s.postprocessSenseVoice(out)
	} else {
		result = s.postprocessParaformer(out)
	}

	if n := len(result.Segments); n > 0 {
		metrics.ASRSeconds.Add(float64(result.Segments[n-1].EndMS) / 1000)
	}
	return result, nil
}

func (s *Service) postprocessParaformer(out *EngineOutput) *Result {
	if out.Text == "" && len(out.SentenceInfo) == 0 {
		return &Result{}
	}

	var segments []Segment
	if len(out.SentenceInfo) > 0 {
		segments = segmentsFromSentenceInfo(out.SentenceInfo, out.TokenConfidence)
	} else {
		segments = segmentsFromSentences(splitSentences(out.Text), out.TokenConfidence)
	}

	s.logConfidenceStats(segments)
	return &Result{Text: out.Text, Segments: segments}
}

// segmentsFromSentenceInfo builds segments from sentence-level engine output,
// averaging token confidence over each sentence's token count.
func segmentsFromSentenceInfo(info []SentenceInfo, tokenConf []float64) []Segment {
	segments := make([]Segment, 0, len(info))
	confOffset := 0

	for _, item := range info {
		nTokens := len(item.Timestamps)
		avg := 0.0
		if len(tokenConf) > 0 && nTokens > 0 && confOffset < len(tokenConf) {
			end := confOffset + nTokens
			if end > len(tokenConf) {
				end = len(tokenConf)
			}
			var sum float64
			for _, c := range tokenConf[confOffset:end] {
				sum += c
			}
			if end > confOffset {
				avg = sum / float64(end-confOffset)
			}
			confOffset = end
		}
		segments = append(segments, Segment{
			Text:       item.Text,
			StartMS:    item.StartMS,
			EndMS:      item.EndMS,
			Confidence: avg,
			Speaker:    item.Speaker,
		})
	}
	return segments
}

func (s *Service) postprocessSenseVoice(out *EngineOutput) *Result {
	// sensevoice returns one entry per VAD slice; the adapter flattens them
	// into SentenceInfo with char-level timestamps.
	var segments []Segment
	var texts []string

	entries := out.SentenceInfo
	if len(entries) == 0 && out.Text != "" {
		entries = []SentenceInfo{{Text: out.Text, Timestamps: out.Timestamps}}
	}

	for _, item := range entries {
		cleaned := CleanEngineText(item.Text)
		if cleaned == "" {
			continue
		}
		if s.cfg.FilterNoise && IsNoiseSegment(cleaned) {
			s.logger.Debug().Str("text", truncateRunes(cleaned, 20)).Msg("filtered noise segment")
			continue
		}

		startMS, endMS := item.StartMS, item.EndMS
		if len(item.Timestamps) > 0 {
			startMS = item.Timestamps[0][0]
			endMS = item.Timestamps[len(item.Timestamps)-1][1]
		}

		if endMS-startMS > s.cfg.MaxSegmentMS && len(item.Timestamps) > 0 {
			for _, sub := range splitLongSegment(cleaned, item.Timestamps, s.cfg.MaxSegmentMS) {
				segments = append(segments, Segment{Text: sub.Text, StartMS: sub.StartMS, EndMS: sub.EndMS, Speaker: -1})
				texts = append(texts, sub.Text)
			}
		} else {
			segments = append(segments, Segment{Text: cleaned, StartMS: startMS, EndMS: endMS, Speaker: -1})
			texts = append(texts, cleaned)
		}
	}

	fullText := ""
	for _, t := range texts {
		fullText += t
	}
	return &Result{Text: fullText, Segments: segments}
}

func (s *Service) logConfidenceStats(segments []Segment) {
	if len(segments) == 0 || segments[0].Confidence == 0 {
		return
	}
	minC, maxC, sum := 1.0, 0.0, 0.0
	high := 0
	for _, seg := range segments {
		if seg.Confidence < minC {
			minC = seg.Confidence
		}
		if seg.Confidence > maxC {
			maxC = seg.Confidence
		}
		sum += seg.Confidence
		if seg.Confidence >= 0.95 {
			high++
		}
	}
	s.logger.Info().
		Float64("min", minC).
		Float64("max", maxC).
		Float64("avg", sum/float64(len(segments))).
		Int("high_confidence", high).
		Int("total", len(segments)).
		Msg("confidence stats")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
