package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/framepick/api/internal/pipeline"
	"github.com/framepick/api/internal/service"
)

// PipelineWorker processes pipeline tasks: one task drives one job through
// every remaining stage.
type PipelineWorker struct {
	orchestrator *pipeline.Orchestrator
	log          *zap.SugaredLogger
}

func NewPipelineWorker(orch *pipeline.Orchestrator, log *zap.SugaredLogger) *PipelineWorker {
	return &PipelineWorker{orchestrator: orch, log: log}
}

// ProcessTask handles one pipeline run.
func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.PipelineTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", payload.JobID, asynq.SkipRetry)
	}

	w.log.Infow("pipeline run starting", "job_id", jobID)
	if err := w.orchestrator.Run(ctx, jobID); err != nil {
		if ctx.Err() != nil {
			// Shutdown or cancellation: let asynq re-deliver so the run
			// resumes from the persisted status.
			return err
		}
		// The orchestrator already flipped the job to failed; re-running
		// the task would only repeat the failure.
		return fmt.Errorf("pipeline run: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}
