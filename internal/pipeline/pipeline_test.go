package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/framepick/api/internal/client"
	"github.com/framepick/api/internal/config"
	"github.com/framepick/api/internal/model"
	"github.com/framepick/api/internal/store"
)

// fakeModel scripts the model adapter. Media bytes are seeded as the file
// name, so behaviors can key on string(media.Bytes).
type fakeModel struct {
	describeCalls atomic.Int64
	sameTakeFn    func(a, b client.Media) (bool, error)
	compareFn     func(a, b client.Media) (*client.QualityVerdict, error)
	enhanceFn     func(img client.Media) ([]byte, error)
	nameFn        func(labels []string) (string, error)
}

func (f *fakeModel) Describe(ctx context.Context, media client.Media) (string, error) {
	f.describeCalls.Add(1)
	return "a photo of " + string(media.Bytes), nil
}

func (f *fakeModel) SameTake(ctx context.Context, a, b client.Media) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if f.sameTakeFn != nil {
		return f.sameTakeFn(a, b)
	}
	return false, nil
}

func (f *fakeModel) CompareQuality(ctx context.Context, a, b client.Media, mediaType model.MediaType) (*client.QualityVerdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.compareFn != nil {
		return f.compareFn(a, b)
	}
	return &client.QualityVerdict{Winner: 1, Reasoning: "sharper", Confidence: 0.9}, nil
}

func (f *fakeModel) NameBucket(ctx context.Context, labels []string) (string, error) {
	if f.nameFn != nil {
		return f.nameFn(labels)
	}
	return "Test Bucket", nil
}

func (f *fakeModel) Enhance(ctx context.Context, img client.Media) ([]byte, error) {
	if f.enhanceFn != nil {
		return f.enhanceFn(img)
	}
	return nil, nil
}

// samePrefix groups media whose seeded names share the first byte.
func samePrefix(a, b client.Media) (bool, error) {
	return string(a.Bytes)[0] == string(b.Bytes)[0], nil
}

type testEnv struct {
	store *store.MemoryStore
	blob  *client.MemoryStorage
	model *fakeModel
	orch  *Orchestrator
}

func newTestEnv(t *testing.T, fm *fakeModel) *testEnv {
	t.Helper()
	cfg := config.PipelineConfig{
		LabelConcurrency:      4,
		SameTakeConcurrency:   4,
		MergeConcurrency:      4,
		MatchConcurrency:      1,
		TournamentConcurrency: 1,
		EnhanceConcurrency:    2,
		TopPicks:              3,
	}
	st := store.NewMemoryStore()
	blob := client.NewMemoryStorage()
	orch := NewOrchestrator(st, blob, fm, NopBroadcaster{}, cfg, zap.NewNop().Sugar())
	return &testEnv{store: st, blob: blob, model: fm, orch: orch}
}

type seedFile struct {
	name      string
	mediaType model.MediaType
	label     string
}

func img(name string) seedFile   { return seedFile{name: name, mediaType: model.MediaTypeImage} }
func video(name string) seedFile { return seedFile{name: name, mediaType: model.MediaTypeVideo} }

func labeled(f seedFile) seedFile {
	f.label = "a photo of " + f.name
	return f
}

// seedJob creates a job at the given status with its media files already
// ingested: bytes in the blob store, records in the record store.
func (e *testEnv) seedJob(t *testing.T, status model.JobStatus, files ...seedFile) *model.Job {
	t.Helper()
	ctx := context.Background()

	now := time.Now()
	job := &model.Job{
		ID:         uuid.New(),
		Status:     status,
		TotalFiles: len(files),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, e.store.CreateJob(ctx, job))

	var records []*model.MediaFile
	for i, f := range files {
		mime := "image/jpeg"
		if f.mediaType == model.MediaTypeVideo {
			mime = "video/mp4"
		}
		key := fmt.Sprintf("jobs/%s/original/%s", job.ID, f.name)
		url, err := e.blob.Upload(ctx, key, strings.NewReader(f.name), mime)
		require.NoError(t, err)

		m := &model.MediaFile{
			ID:           uuid.New(),
			JobID:        job.ID,
			Filename:     f.name,
			OriginalPath: f.name,
			Position:     i,
			BlobKey:      key,
			BlobURL:      url,
			MediaType:    f.mediaType,
			MimeType:     mime,
			SizeBytes:    int64(len(f.name)),
			RatingScore:  1000,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if f.label != "" {
			l := f.label
			m.Label = &l
		}
		records = append(records, m)
	}
	require.NoError(t, e.store.CreateMediaFiles(ctx, records))
	return job
}

func (e *testEnv) job(t *testing.T, id uuid.UUID) *model.Job {
	t.Helper()
	job, err := e.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (e *testEnv) media(t *testing.T, jobID uuid.UUID) []*model.MediaFile {
	t.Helper()
	files, err := e.store.ListMediaFiles(context.Background(), jobID)
	require.NoError(t, err)
	return files
}

func (e *testEnv) buckets(t *testing.T, jobID uuid.UUID) []*model.Bucket {
	t.Helper()
	buckets, err := e.store.ListBuckets(context.Background(), jobID)
	require.NoError(t, err)
	return buckets
}

func (e *testEnv) matches(t *testing.T, bucketID uuid.UUID) []*model.TournamentMatch {
	t.Helper()
	matches, err := e.store.ListMatches(context.Background(), bucketID)
	require.NoError(t, err)
	return matches
}

func (e *testEnv) allMatches(t *testing.T, jobID uuid.UUID) []*model.TournamentMatch {
	t.Helper()
	var all []*model.TournamentMatch
	for _, b := range e.buckets(t, jobID) {
		all = append(all, e.matches(t, b.ID)...)
	}
	return all
}
