// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/metrics"
	"github.com/copernicusai/copernicus/internal/telemetry"
)

// Orchestrator runs registered stages in order, skipping those whose
// ShouldRun predicate is false. The first stage error aborts the run.
type Orchestrator struct {
	stages []Stage
	logger zerolog.Logger
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{logger: log.WithComponent("pipeline")}
}

// Register appends a stage; returns the orchestrator for chaining.
func (o *Orchestrator) Register(stage Stage) *Orchestrator {
	o.stages = append(o.stages, stage)
	return o
}

// Run executes the pipeline over pc.
func (o *Orchestrator) Run(ctx context.Context, pc *Context, onStageProgress StageProgressFunc) error {
	if pc.StageTimes == nil {
		pc.StageTimes = make(map[string]time.Duration)
	}

	total := len(o.stages)
	executed := 0

	for _, stage := range o.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !stage.ShouldRun(pc) {
			o.logger.Debug().
				Str(log.FieldStage, stage.Name()).
				Str(log.FieldTaskID, pc.TaskID).
				Msg("stage skipped")
			continue
		}

		executed++
		idx := executed - 1
		o.logger.Info().
			Str(log.FieldStage, stage.Name()).
			Str(log.FieldTaskID, pc.TaskID).
			Int("position", executed).
			Int("stages", total).
			Msg("stage starting")

		var progress ProgressFunc
		if onStageProgress != nil {
			name := stage.Name()
			onStageProgress(name, idx, total, 0, 0)
			progress = func(completed, totalUnits int) {
				onStageProgress(name, idx, total, completed, totalUnits)
			}
		}

		stageCtx, span := telemetry.Tracer("pipeline").Start(ctx, "stage."+stage.Name())
		start := time.Now()
		err := stage.Execute(stageCtx, pc, progress)
		elapsed := time.Since(start)
		span.SetAttributes(telemetry.StageAttributes(stage.Name(), idx, elapsed.Milliseconds())...)
		span.End()
		if err != nil {
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		pc.StageTimes[stage.Name()] = elapsed
		metrics.StageDuration.WithLabelValues(stage.Name()).Observe(elapsed.Seconds())

		o.logger.Info().
			Str(log.FieldStage, stage.Name()).
			Str(log.FieldTaskID, pc.TaskID).
			Int64(log.FieldDurationMS, elapsed.Milliseconds()).
			Msg("stage completed")
	}
	return nil
}
