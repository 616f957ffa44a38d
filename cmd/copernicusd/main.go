// SPDX-License-Identifier: MIT

// copernicusd is the double-recording audit daemon. It accepts product
// briefing recordings, runs the transcript pipeline (preprocess, ASR,
// diarization, visual scan, correction) and serves the evaluation and
// compliance audit API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/copernicusai/copernicus/internal/api"
	"github.com/copernicusai/copernicus/internal/asr"
	"github.com/copernicusai/copernicus/internal/compliance"
	"github.com/copernicusai/copernicus/internal/config"
	"github.com/copernicusai/copernicus/internal/correct"
	"github.com/copernicusai/copernicus/internal/diarize"
	"github.com/copernicusai/copernicus/internal/evaluate"
	"github.com/copernicusai/copernicus/internal/hotword"
	"github.com/copernicusai/copernicus/internal/llm"
	cplog "github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/media"
	"github.com/copernicusai/copernicus/internal/modelmgr"
	"github.com/copernicusai/copernicus/internal/persistence"
	"github.com/copernicusai/copernicus/internal/pipeline"
	"github.com/copernicusai/copernicus/internal/taskstore"
	"github.com/copernicusai/copernicus/internal/telemetry"
	"github.com/copernicusai/copernicus/internal/visual"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("copernicusd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "copernicusd: load configuration: %v\n", err)
		os.Exit(1)
	}

	cplog.Configure(cplog.Config{
		Level:   cfg.LogLevel,
		Service: "copernicus",
	})
	logger := cplog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		ServiceName:    "copernicus",
		ServiceVersion: version,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialize tracing")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Msg("starting copernicusd")

	logger.Info().Msgf("→ ASR: %s (mode %s, lang %s)", cfg.ASRBaseURL, cfg.ASRMode, cfg.ASRLanguage)
	logger.Info().Msgf("→ LLM: %s (model %s)", cfg.LLMBaseURL, cfg.LLMModel)
	logger.Info().Msgf("→ Uploads: %s (cap %d MB)", cfg.UploadDir, cfg.MaxUploadSizeMB)
	if cfg.OCREnabled {
		logger.Info().Msgf("→ OCR: %s", cfg.OCRBaseURL)
	}
	if cfg.FaceDetectEnabled {
		logger.Info().Msgf("→ Face detection: %s", cfg.FaceDetectBaseURL)
	}
	if cfg.OTLPEndpoint != "" {
		logger.Info().Msgf("→ Tracing: %s (%s)", cfg.OTLPEndpoint, cfg.OTLPProtocol)
	}

	client := llm.New(llm.Config{
		BaseURL:       cfg.LLMBaseURL,
		Model:         cfg.LLMModel,
		Temperature:   cfg.LLMTemperature,
		NumCtx:        cfg.NumCtx,
		Timeout:       cfg.LLMTimeout(),
		MaxRetries:    cfg.LLMMaxRetries,
		RetryDelay:    cfg.LLMRetryDelay(),
		MaxConcurrent: cfg.LLMMaxConcurrent,
	})

	asrSvc := asr.New(asr.Config{
		Mode:         cfg.ASRMode,
		MaxSegmentMS: cfg.ASRMaxSegmentMS,
		FilterNoise:  cfg.FilterNoiseSegments,
	}, asr.NewHTTPRecognizer(cfg.ASRBaseURL, cfg.ASRMode, cfg.ASRLanguage))

	spkURL := cfg.SpkBaseURL
	if spkURL == "" {
		spkURL = cfg.ASRBaseURL
	}
	diarizer := diarize.New(diarize.Config{
		WindowMS:           cfg.SpkWindowMS,
		StepMS:             cfg.SpkStepMS,
		SlidingThresholdMS: cfg.SpkSlidingThreshold,
		MinWindowMS:        cfg.SpkMinWindowMS,
		MaxWindows:         cfg.SpkMaxWindows,
		DistanceThreshold:  cfg.SpkDistanceThreshold,
	}, diarize.NewHTTPExtractor(spkURL))

	replacer := hotword.New(cfg.HotwordsFile, cfg.HotwordReplacerEnabled)
	if cfg.HotwordsFile != "" {
		if err := replacer.StartWatcher(ctx); err != nil {
			logger.Warn().
				Err(err).
				Str("path", cfg.HotwordsFile).
				Msg("hotword file watcher unavailable, edits need a restart")
		}
	}

	var speller correct.SpellCorrector
	if cfg.CSCBaseURL != "" {
		speller = correct.NewHTTPSpellCorrector(cfg.CSCBaseURL)
		logger.Info().Msgf("→ Spelling sidecar: %s", cfg.CSCBaseURL)
	}

	corrector := correct.New(client, correct.Config{
		ChunkSize:      cfg.CorrectionChunkSize,
		Overlap:        cfg.CorrectionOverlap,
		MaxConcurrency: cfg.CorrectionMaxConcurrency,
		BatchSize:      cfg.CorrectionBatchEntries,
		NumCtx:         cfg.NumCtxCorrection,
	}, replacer, speller)

	evaluator := evaluate.New(client, evaluate.Config{
		MaxTextChars: cfg.EvaluationMaxTextChars,
		ChunkSize:    cfg.EvaluationChunkSize,
		NumCtx:       cfg.EvaluationNumCtx,
		MaxRetries:   cfg.LLMMaxRetries,
	})

	auditor := compliance.NewAuditor(client, compliance.Config{
		MaxTextChars:        cfg.ComplianceMaxTextChars,
		ChunkSize:           cfg.ComplianceChunkSize,
		NumCtx:              cfg.ComplianceNumCtx,
		ConfidenceThreshold: cfg.ComplianceConfidenceThreshold,
		DedupWindowMS:       cfg.ComplianceDedupWindowMS,
		OCRMarginMS:         cfg.ComplianceOCRMarginMS,
	})

	proc := media.New(cfg.FFmpegPath, cfg.FFprobePath)

	persist, err := persistence.New(cfg.UploadDir)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("path", cfg.UploadDir).
			Msg("failed to prepare upload directory")
	}

	scanner := visual.NewHTTPScanner(cfg.OCRBaseURL, cfg.OCRConfidenceThreshold, cfg.OCRMinTextLength)
	detector := visual.NewHTTPDetector(cfg.FaceDetectBaseURL, cfg.FaceDetectConfidence)

	// The sidecars hold the actual weights; registering them under the
	// manager serializes GPU use between OCR and face detection.
	models := modelmgr.New()
	models.Register(pipeline.ModelOCR, func(context.Context) (any, error) {
		return scanner, nil
	}, nil)
	models.Register(pipeline.ModelFace, func(context.Context) (any, error) {
		return detector, nil
	}, nil)

	pipe := pipeline.New(pipeline.Deps{
		Settings:  cfg,
		Media:     proc,
		Store:     persist,
		ASR:       asrSvc,
		Diarizer:  diarizer,
		Corrector: corrector,
		Replacer:  replacer,
		Scanner:   scanner,
		Detector:  detector,
		Models:    models,
	})

	store := taskstore.New(pipe, evaluator, auditor, persist, taskstore.Config{
		TaskTimeout: cfg.TaskTimeout(),
		MaxInMemory: cfg.TaskMaxInMemory,
		IsVideo:     cfg.IsVideo,
	})
	store.RestoreFromDisk()

	server := api.New(cfg, store, pipe, evaluator, asrSvc, client, persist)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Str("event", "shutdown").Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown incomplete")
	}

	// Running tasks get cancelled; completed results are already on disk.
	store.Close()
	models.UnloadAll()

	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracing shutdown incomplete")
	}

	logger.Info().Msg("server exiting")
}
