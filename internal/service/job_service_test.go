package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/framepick/api/internal/client"
	"github.com/framepick/api/internal/model"
	"github.com/framepick/api/internal/store"
)

type serviceEnv struct {
	store *store.MemoryStore
	blob  *client.MemoryStorage
	jobs  *JobService
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	st := store.NewMemoryStore()
	blob := client.NewMemoryStorage()
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15})
	t.Cleanup(func() { asynqClient.Close() })
	return &serviceEnv{
		store: st,
		blob:  blob,
		jobs:  NewJobService(st, blob, asynqClient, zap.NewNop().Sugar()),
	}
}

// seedMedia ingests one media record with its blob, optionally enhanced.
func (e *serviceEnv) seedMedia(t *testing.T, jobID uuid.UUID, name string, enhanced bool) *model.MediaFile {
	t.Helper()
	ctx := context.Background()
	key := fmt.Sprintf("jobs/%s/original/%s", jobID, name)
	url, err := e.blob.Upload(ctx, key, strings.NewReader(name), "image/jpeg")
	require.NoError(t, err)

	now := time.Now()
	m := &model.MediaFile{
		ID: uuid.New(), JobID: jobID, Filename: name, OriginalPath: name,
		BlobKey: key, BlobURL: url, MediaType: model.MediaTypeImage,
		MimeType: "image/jpeg", SizeBytes: int64(len(name)), RatingScore: 1000,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, e.store.CreateMediaFiles(ctx, []*model.MediaFile{m}))

	if enhanced {
		ekey := fmt.Sprintf("jobs/%s/enhanced/enhanced_%s", jobID, name)
		eurl, err := e.blob.Upload(ctx, ekey, strings.NewReader("enhanced"), "image/jpeg")
		require.NoError(t, err)
		require.NoError(t, e.store.SetEnhanced(ctx, m.ID, ekey, eurl))
	}
	return m
}

func TestCreateJobStartsUploading(t *testing.T) {
	env := newServiceEnv(t)
	job, err := env.jobs.CreateJob(context.Background(), "holiday")
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusUploading, job.Status)
	require.NotNil(t, job.Name)
	assert.Equal(t, "holiday", *job.Name)

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusUploading, stored.Status)
}

// Deleting a job removes every descendant record and every blob, original
// and enhanced alike. Deleting it again reports not-found.
func TestDeleteJobCascades(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	job, err := env.jobs.CreateJob(ctx, "")
	require.NoError(t, err)
	m1 := env.seedMedia(t, job.ID, "A1.jpg", true)
	env.seedMedia(t, job.ID, "A2.jpg", false)

	bucket := &model.Bucket{ID: uuid.New(), JobID: job.ID, Name: "Bucket 1", CreatedAt: time.Now()}
	require.NoError(t, env.store.CreateBucket(ctx, bucket))
	require.NoError(t, env.store.AssignBucket(ctx, []uuid.UUID{m1.ID}, bucket.ID))
	require.NoError(t, env.store.CreateMatch(ctx, &model.TournamentMatch{
		ID: uuid.New(), BucketID: bucket.ID, MediaType: model.MediaTypeImage,
		Round: 1, Media1ID: m1.ID, Media2ID: m1.ID, WinnerID: m1.ID, CreatedAt: time.Now(),
	}))

	require.NoError(t, env.jobs.DeleteJob(ctx, job.ID))

	_, err = env.store.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	files, err := env.store.ListMediaFiles(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
	buckets, err := env.store.ListBuckets(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, buckets)
	matches, err := env.store.ListMatches(ctx, bucket.ID)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Empty(t, env.blob.Keys(), "no blobs with the job prefix remain")

	err = env.jobs.DeleteJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "second delete reports not-found")
}

// Boot recovery fails jobs stuck in uploading: their byte stream is gone
// and cannot be resumed. Terminal jobs are untouched.
func TestRecoverJobsFailsOrphanedUploads(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	orphan, err := env.jobs.CreateJob(ctx, "")
	require.NoError(t, err)

	done, err := env.jobs.CreateJob(ctx, "")
	require.NoError(t, err)
	require.NoError(t, env.store.SetJobStatus(ctx, done.ID, model.JobStatusCompleted))

	require.NoError(t, env.jobs.RecoverJobs(ctx))

	got, err := env.store.GetJob(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "upload interrupted by restart", *got.Error)

	gotDone, err := env.store.GetJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, gotDone.Status)
}
