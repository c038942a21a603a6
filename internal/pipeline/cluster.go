package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/framepick/api/internal/client"
	"github.com/framepick/api/internal/model"
)

// liveBucket is one in-progress same-take group during Phase A. The
// representative is the first member admitted; its bytes are kept so every
// later image probes against it without re-downloading.
type liveBucket struct {
	rep     *model.MediaFile
	repData client.Media
	members []*model.MediaFile
}

// runCluster is Phase A: incremental same-take grouping of images in
// archive order, plus a single per-job bucket for videos. If buckets
// already exist the phase was completed by an earlier run and is skipped;
// the merge stage picks up from the persisted state.
func (o *Orchestrator) runCluster(ctx context.Context, job *model.Job) error {
	existing, err := o.store.ListBuckets(ctx, job.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		o.log.Infow("buckets already present, skipping incremental grouping", "job_id", job.ID, "buckets", len(existing))
		return nil
	}

	files, err := o.store.ListMediaFiles(ctx, job.ID)
	if err != nil {
		return err
	}
	var images, videos []*model.MediaFile
	for _, f := range files {
		switch f.MediaType {
		case model.MediaTypeImage:
			images = append(images, f)
		case model.MediaTypeVideo:
			videos = append(videos, f)
		}
	}

	progress := newStageProgress(o.store, o.hub, o.log, job.ID, string(model.JobStatusClustering), len(images))

	var buckets []*liveBucket
	for _, img := range images {
		data, err := o.download(ctx, img)
		if err != nil {
			return err
		}

		idx, err := o.resolveBucket(ctx, data, buckets)
		if err != nil {
			return err
		}
		if idx >= 0 {
			buckets[idx].members = append(buckets[idx].members, img)
		} else {
			buckets = append(buckets, &liveBucket{rep: img, repData: data, members: []*model.MediaFile{img}})
		}
		progress.step(ctx, img.Filename)
	}

	// Persist Phase A output. Final names arrive in the merge stage; the
	// positional fallback doubles as the name when naming fails.
	for n, b := range buckets {
		if err := o.persistBucket(ctx, job.ID, fmt.Sprintf("Bucket %d", n+1), b.members); err != nil {
			return err
		}
	}
	if len(videos) > 0 {
		if err := o.persistBucket(ctx, job.ID, fmt.Sprintf("Bucket %d", len(buckets)+1), videos); err != nil {
			return err
		}
	}
	return nil
}

// resolveBucket races sameTake(x, rep) across every existing bucket with
// bounded concurrency. The first comparison to answer true wins and the
// remaining probes are canceled; ties go to whichever reply lands first.
// Returns -1 when no bucket matches. Comparison failures count as "not
// the same take" — the merge pass reconciles any resulting fragmentation.
func (o *Orchestrator) resolveBucket(ctx context.Context, x client.Media, buckets []*liveBucket) (int, error) {
	if len(buckets) == 0 {
		return -1, nil
	}

	var winner atomic.Int64
	winner.Store(-1)

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(raceCtx)
	g.SetLimit(o.cfg.SameTakeConcurrency)
	for i, b := range buckets {
		i, b := i, b
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			same, err := o.model.SameTake(gctx, x, b.repData)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				o.log.Warnw("same-take comparison failed", "bucket_rep", b.rep.Filename, "error", err)
				return nil
			}
			if same && winner.CompareAndSwap(-1, int64(i)) {
				cancel()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return -1, err
	}
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	return int(winner.Load()), nil
}

func (o *Orchestrator) persistBucket(ctx context.Context, jobID uuid.UUID, name string, members []*model.MediaFile) error {
	bucket := &model.Bucket{
		ID:        uuid.New(),
		JobID:     jobID,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := o.store.CreateBucket(ctx, bucket); err != nil {
		return err
	}
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return o.store.AssignBucket(ctx, ids, bucket.ID)
}
