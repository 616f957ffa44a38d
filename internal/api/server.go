// SPDX-License-Identifier: MIT

// Package api is the HTTP surface of the daemon: upload and task routes,
// synchronous transcription, evaluation and compliance submission, artifact
// serving and health.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/copernicusai/copernicus/internal/asr"
	"github.com/copernicusai/copernicus/internal/config"
	"github.com/copernicusai/copernicus/internal/evaluate"
	"github.com/copernicusai/copernicus/internal/llm"
	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/persistence"
	"github.com/copernicusai/copernicus/internal/pipeline"
	"github.com/copernicusai/copernicus/internal/taskstore"
)

// Server holds the handler dependencies.
type Server struct {
	cfg       config.Settings
	store     *taskstore.Store
	pipe      *pipeline.Pipeline
	evaluator *evaluate.Service
	asr       *asr.Service
	llm       *llm.Client
	persist   *persistence.Store
	logger    zerolog.Logger
}

// New builds the API server.
func New(cfg config.Settings, store *taskstore.Store, pipe *pipeline.Pipeline, evaluator *evaluate.Service, asrSvc *asr.Service, llmClient *llm.Client, persist *persistence.Store) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		pipe:      pipe,
		evaluator: evaluator,
		asr:       asrSvc,
		llm:       llmClient,
		persist:   persist,
		logger:    log.WithComponent("api"),
	}
}

// Router assembles the route tree with the middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(accessLog)
	r.Use(recoverPanics)
	r.Use(httprate.LimitByIP(300, time.Minute))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/transcribe", s.handleTranscribe)
		r.Post("/transcribe/raw", s.handleTranscribeRaw)
		r.Post("/transcribe/transcript", s.handleTranscribeTranscript)

		r.Post("/tasks", s.handleSubmitTask)
		r.Post("/tasks/transcript", s.handleSubmitTranscriptTask)
		r.Get("/tasks/{taskID}", s.handleTaskStatus)
		r.Get("/tasks/{taskID}/results", s.handleTaskResults)
		r.Get("/tasks/{taskID}/audio", s.handleTaskAudio)
		r.Get("/tasks/{taskID}/media", s.handleTaskMedia)
		r.Get("/tasks/{taskID}/frames/{filename}", s.handleTaskFrame)
		r.Post("/tasks/{taskID}/rerun-transcript", s.handleRerunTranscript)
		r.Post("/tasks/{taskID}/rerun-evaluation", s.handleRerunEvaluation)
		r.Patch("/tasks/{taskID}/compliance/violations", s.handlePatchViolations)

		r.Post("/evaluate", s.handleEvaluate)
		r.Post("/evaluate/async", s.handleEvaluateAsync)
		r.Post("/evaluate/text", s.handleEvaluateText)
		r.Post("/evaluate/text/async", s.handleEvaluateTextAsync)

		r.Post("/compliance/audit/async", s.handleComplianceAudit)
	})

	return otelhttp.NewHandler(r, "http.server")
}
