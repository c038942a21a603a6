package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/framepick/api/internal/client"
	"github.com/framepick/api/internal/model"
	"github.com/framepick/api/internal/store"
)

const (
	TaskTypePipeline = "pipeline:process"

	// A full pipeline over a large archive is dominated by model latency;
	// give tasks a generous ceiling before asynq reclaims them.
	pipelineTaskTimeout = 6 * time.Hour
)

// PipelineTaskPayload is the asynq payload for one pipeline run.
type PipelineTaskPayload struct {
	JobID string `json:"jobId"`
}

// JobService manages job lifecycle: creation, deletion with blob cleanup,
// pipeline scheduling and boot-time recovery.
type JobService struct {
	store       store.Store
	blob        client.StorageClient
	asynqClient *asynq.Client
	log         *zap.SugaredLogger
}

func NewJobService(st store.Store, blob client.StorageClient, asynqClient *asynq.Client, log *zap.SugaredLogger) *JobService {
	return &JobService{store: st, blob: blob, asynqClient: asynqClient, log: log}
}

// CreateJob allocates a new job in the uploading state.
func (s *JobService) CreateJob(ctx context.Context, name string) (*model.Job, error) {
	now := time.Now()
	job := &model.Job{
		ID:        uuid.New(),
		Status:    model.JobStatusUploading,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if name != "" {
		job.Name = &name
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *JobService) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	return s.store.ListJobs(ctx, limit, offset)
}

// AttachArchive records the scratch archive path for an uploading job.
func (s *JobService) AttachArchive(ctx context.Context, jobID uuid.UUID, path string) error {
	return s.store.SetJobArchivePath(ctx, jobID, path)
}

// FailJob marks the job failed with a single user-visible message.
func (s *JobService) FailJob(ctx context.Context, jobID uuid.UUID, message string) error {
	return s.store.FailJob(ctx, jobID, message)
}

// StartPipeline advances an uploaded job to extracting and enqueues the
// pipeline task.
func (s *JobService) StartPipeline(ctx context.Context, jobID uuid.UUID) error {
	if err := s.store.SetJobStatus(ctx, jobID, model.JobStatusExtracting); err != nil {
		return fmt.Errorf("advance job: %w", err)
	}
	return s.Enqueue(ctx, jobID)
}

// Enqueue schedules a pipeline run for the job.
func (s *JobService) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	task, err := NewPipelineTask(jobID)
	if err != nil {
		return err
	}
	_, err = s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue("pipeline"),
		asynq.MaxRetry(3),
		asynq.Timeout(pipelineTaskTimeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("enqueue pipeline task: %w", err)
	}
	return nil
}

// DeleteJob removes the job's blobs (originals and enhanced variants) and
// then the job record; media files, buckets and matches cascade.
func (s *JobService) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return err
	}

	files, err := s.store.ListMediaFiles(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list media files: %w", err)
	}
	for _, f := range files {
		if err := s.blob.Delete(ctx, f.BlobKey); err != nil {
			s.log.Warnw("failed to delete blob", "key", f.BlobKey, "error", err)
		}
		if f.EnhancedBlobKey != nil {
			if err := s.blob.Delete(ctx, *f.EnhancedBlobKey); err != nil {
				s.log.Warnw("failed to delete blob", "key", *f.EnhancedBlobKey, "error", err)
			}
		}
	}

	return s.store.DeleteJob(ctx, jobID)
}

// RecoverJobs re-enqueues every job interrupted by a restart. Jobs still in
// uploading have lost their byte stream and cannot resume; they are failed
// with an explanatory message.
func (s *JobService) RecoverJobs(ctx context.Context) error {
	jobs, err := s.store.ListUnfinishedJobs(ctx)
	if err != nil {
		return fmt.Errorf("scan unfinished jobs: %w", err)
	}

	for _, job := range jobs {
		if job.Status == model.JobStatusUploading {
			if err := s.store.FailJob(ctx, job.ID, "upload interrupted by restart"); err != nil {
				s.log.Errorw("failed to fail orphaned upload", "job_id", job.ID, "error", err)
			}
			continue
		}
		if err := s.Enqueue(ctx, job.ID); err != nil {
			s.log.Errorw("failed to re-enqueue job", "job_id", job.ID, "error", err)
			continue
		}
		s.log.Infow("recovered job", "job_id", job.ID, "status", job.Status)
	}
	return nil
}

// NewPipelineTask builds the asynq task for one pipeline run.
func NewPipelineTask(jobID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(PipelineTaskPayload{JobID: jobID.String()})
	if err != nil {
		return nil, fmt.Errorf("marshal task payload: %w", err)
	}
	return asynq.NewTask(TaskTypePipeline, payload), nil
}
