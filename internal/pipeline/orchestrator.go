package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/biliarchive/biliarchive/internal/models"
)

// activeSources tracks which sources have a pipeline run in flight, the
// per-source analogue of core.Orchestrator's activeExecutions map (there it
// is keyed by proxy; here by source).
var (
	activeSources   = make(map[models.ULID]bool)
	activeSourcesMu sync.Mutex
)

// Result is the outcome of running the three stages once for one source.
type Result struct {
	Success      bool
	Duration     time.Duration
	StageResults map[string]*StageResult
	Errors       []error
}

// Orchestrator runs Stage A, B, and C in sequence for a single source,
// mirroring core.Orchestrator's sequential stage execution but scoped to
// one source per run rather than one proxy-wide pipeline.
type Orchestrator struct {
	stages []Stage
	state  *State
	logger *slog.Logger
}

// NewOrchestrator builds an Orchestrator from the given stages and shared
// state. Stages run in the order given; callers construct them as
// []Stage{create.New(...), fetchdetail.New(...), download.New(...)}.
func NewOrchestrator(state *State, stages []Stage) *Orchestrator {
	logger := state.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{stages: stages, state: state, logger: logger}
}

// Execute runs all configured stages in sequence, stopping at the first
// stage that returns an error (a risk-control or credential-expired error
// halts this source's remaining work for the tick; the scheduler decides
// whether to continue with other sources or halt globally).
func (o *Orchestrator) Execute(ctx context.Context) (*Result, error) {
	result := &Result{StageResults: make(map[string]*StageResult)}

	if !o.acquire() {
		return result, ErrSourceAlreadyRunning
	}
	defer o.release()

	sourceKey := o.state.SourceRow.SourceKey()
	o.logger.InfoContext(ctx, "starting pipeline run",
		slog.String("source_key", sourceKey),
		slog.Int("stage_count", len(o.stages)),
	)

	startTime := time.Now()

	for i, stage := range o.stages {
		select {
		case <-ctx.Done():
			result.Errors = append(result.Errors, ctx.Err())
			result.Duration = time.Since(startTime)
			return result, ctx.Err()
		default:
		}

		stageResult, err := o.executeStage(ctx, i, stage, sourceKey)
		result.StageResults[stage.ID()] = stageResult

		if err != nil {
			wrapped := NewStageError(stage.ID(), sourceKey, err)
			result.Errors = append(result.Errors, wrapped)
			result.Duration = time.Since(startTime)
			return result, wrapped
		}
	}

	result.Success = true
	result.Duration = time.Since(startTime)
	result.Errors = o.state.Errors()

	o.logger.InfoContext(ctx, "pipeline run completed",
		slog.String("source_key", sourceKey),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

func (o *Orchestrator) executeStage(ctx context.Context, index int, stage Stage, sourceKey string) (*StageResult, error) {
	stageStart := time.Now()

	o.logger.InfoContext(ctx, "executing stage",
		slog.Int("stage_num", index+1),
		slog.Int("total_stages", len(o.stages)),
		slog.String("stage_id", stage.ID()),
		slog.String("source_key", sourceKey),
	)

	stageResult, err := stage.Execute(ctx, o.state)
	if stageResult == nil {
		stageResult = &StageResult{}
	}
	stageResult.Duration = time.Since(stageStart)

	if o.state.Metrics != nil {
		o.state.Metrics.ObserveStageDuration(stage.ID(), stageResult.Duration)
	}

	if err != nil {
		o.logger.ErrorContext(ctx, "stage failed",
			slog.String("stage_id", stage.ID()),
			slog.String("source_key", sourceKey),
			slog.String("error", err.Error()),
			slog.Duration("duration", stageResult.Duration),
		)
		return stageResult, err
	}

	o.logger.InfoContext(ctx, "stage completed",
		slog.String("stage_id", stage.ID()),
		slog.String("source_key", sourceKey),
		slog.Duration("duration", stageResult.Duration),
		slog.Int("records_processed", stageResult.RecordsProcessed),
	)

	return stageResult, nil
}

func (o *Orchestrator) acquire() bool {
	activeSourcesMu.Lock()
	defer activeSourcesMu.Unlock()
	id := o.state.SourceRow.ID
	if activeSources[id] {
		return false
	}
	activeSources[id] = true
	return true
}

func (o *Orchestrator) release() {
	activeSourcesMu.Lock()
	defer activeSourcesMu.Unlock()
	delete(activeSources, o.state.SourceRow.ID)
}

// State returns the orchestrator's working state (for tests).
func (o *Orchestrator) State() *State {
	return o.state
}
