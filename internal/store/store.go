package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/framepick/api/internal/model"
)

var ErrNotFound = errors.New("resource not found")

// Store is the data access interface. All record mutations go through here;
// it is the serialization point for the pipeline workers.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	ListUnfinishedJobs(ctx context.Context) ([]*model.Job, error)
	SetJobStatus(ctx context.Context, id uuid.UUID, status model.JobStatus) error
	SetJobArchivePath(ctx context.Context, id uuid.UUID, path string) error
	SetJobCounts(ctx context.Context, id uuid.UUID, processed, total int) error
	FailJob(ctx context.Context, id uuid.UUID, message string) error
	DeleteJob(ctx context.Context, id uuid.UUID) error

	CreateMediaFiles(ctx context.Context, files []*model.MediaFile) error
	ListMediaFiles(ctx context.Context, jobID uuid.UUID) ([]*model.MediaFile, error)
	SetMediaLabel(ctx context.Context, id uuid.UUID, label string) error
	AssignBucket(ctx context.Context, mediaIDs []uuid.UUID, bucketID uuid.UUID) error
	SetMediaRating(ctx context.Context, id uuid.UUID, rating float64) error
	SetTopPick(ctx context.Context, id uuid.UUID, topPick bool) error
	SetEnhanced(ctx context.Context, id uuid.UUID, blobKey, blobURL string) error

	CreateBucket(ctx context.Context, bucket *model.Bucket) error
	ListBuckets(ctx context.Context, jobID uuid.UUID) ([]*model.Bucket, error)
	RenameBucket(ctx context.Context, id uuid.UUID, name string) error
	DeleteBucket(ctx context.Context, id uuid.UUID) error

	CreateMatch(ctx context.Context, match *model.TournamentMatch) error
	ListMatches(ctx context.Context, bucketID uuid.UUID) ([]*model.TournamentMatch, error)
}
