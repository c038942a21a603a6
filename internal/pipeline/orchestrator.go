package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framepick/api/internal/client"
	"github.com/framepick/api/internal/config"
	"github.com/framepick/api/internal/model"
	"github.com/framepick/api/internal/store"
)

// Orchestrator drives a job through the pipeline stages. It is the sole
// writer of the job's status, so status_update frames for a given job are
// totally ordered.
type Orchestrator struct {
	store store.Store
	blob  client.StorageClient
	model client.ModelClient
	hub   Broadcaster
	cfg   config.PipelineConfig
	log   *zap.SugaredLogger
}

func NewOrchestrator(st store.Store, blob client.StorageClient, mc client.ModelClient, hub Broadcaster, cfg config.PipelineConfig, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{store: st, blob: blob, model: mc, hub: hub, cfg: cfg, log: log}
}

// Run resumes the job at the stage matching its persisted status and works
// forward. Each completed stage atomically advances the status and resets
// the per-stage progress counter. An uncaught stage error flips the job to
// failed; cancellation leaves it where it is so a later run can resume.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) error {
	log := o.log.With("job_id", jobID)

	for {
		job, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		if job.Status.IsTerminal() {
			return nil
		}

		var stageErr error
		switch job.Status {
		case model.JobStatusUploading:
			// Recovery fails these at boot; reaching here means the byte
			// stream is gone.
			stageErr = errors.New("upload never completed")
		case model.JobStatusExtracting:
			stageErr = o.runExtract(ctx, job)
		case model.JobStatusLabeling:
			stageErr = o.runLabel(ctx, job)
		case model.JobStatusClustering:
			stageErr = o.runCluster(ctx, job)
		case model.JobStatusMerging:
			stageErr = o.runMerge(ctx, job)
		case model.JobStatusRanking:
			stageErr = o.runRank(ctx, job)
		case model.JobStatusEnhancing:
			stageErr = o.runEnhance(ctx, job)
		default:
			stageErr = fmt.Errorf("unknown job status %q", job.Status)
		}

		if stageErr != nil {
			if ctx.Err() != nil || errors.Is(stageErr, context.Canceled) {
				log.Infow("pipeline canceled", "status", job.Status)
				return stageErr
			}
			log.Errorw("stage failed", "status", job.Status, "error", stageErr)
			if err := o.store.FailJob(ctx, jobID, stageErr.Error()); err != nil {
				log.Errorw("failed to persist job failure", "error", err)
			}
			o.hub.BroadcastError(jobID.String(), stageErr.Error())
			return stageErr
		}

		next := job.Status.Next()
		if err := o.store.SetJobStatus(ctx, jobID, next); err != nil {
			return fmt.Errorf("advance job: %w", err)
		}
		log.Infow("stage complete", "from", job.Status, "to", next)

		updated, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		o.hub.BroadcastStatus(jobID.String(), updated.Status, updated.ProcessedFiles, updated.TotalFiles)

		if next == model.JobStatusCompleted {
			log.Infow("job completed")
			return nil
		}
	}
}

// download fetches one media file's bytes from the blob store.
func (o *Orchestrator) download(ctx context.Context, f *model.MediaFile) (client.Media, error) {
	data, err := o.blob.Download(ctx, f.BlobKey)
	if err != nil {
		return client.Media{}, fmt.Errorf("download %s: %w", f.BlobKey, err)
	}
	return client.Media{Bytes: data, MimeType: f.MimeType}, nil
}
