package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/framepick/api/internal/client"
	"github.com/framepick/api/internal/model"
)

// bucketState is one persisted bucket with its members in archive order.
type bucketState struct {
	bucket  *model.Bucket
	members []*model.MediaFile
}

// rep returns the bucket's representative: the first member admitted.
func (b *bucketState) rep() *model.MediaFile {
	return b.members[0]
}

// runMerge is Phase B: every pair of image-bucket representatives is
// compared and connected components are collapsed, reconciling buckets
// that Phase A fragmented because comparisons raced. Afterwards every
// surviving bucket (the video bucket included) is named from its members'
// labels.
func (o *Orchestrator) runMerge(ctx context.Context, job *model.Job) error {
	states, err := o.loadBuckets(ctx, job.ID)
	if err != nil {
		return err
	}

	var imageBuckets []*bucketState
	for _, st := range states {
		if len(st.members) > 0 && st.members[0].MediaType == model.MediaTypeImage {
			imageBuckets = append(imageBuckets, st)
		}
	}

	if len(imageBuckets) > 1 {
		if err := o.mergeImageBuckets(ctx, job, imageBuckets); err != nil {
			return err
		}
		// Reload: members moved and absorbed buckets are gone.
		states, err = o.loadBuckets(ctx, job.ID)
		if err != nil {
			return err
		}
	}

	return o.nameBuckets(ctx, states)
}

func (o *Orchestrator) loadBuckets(ctx context.Context, jobID uuid.UUID) ([]*bucketState, error) {
	buckets, err := o.store.ListBuckets(ctx, jobID)
	if err != nil {
		return nil, err
	}
	files, err := o.store.ListMediaFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}

	byBucket := make(map[uuid.UUID][]*model.MediaFile)
	for _, f := range files {
		if f.BucketID != nil {
			byBucket[*f.BucketID] = append(byBucket[*f.BucketID], f)
		}
	}

	var states []*bucketState
	for _, b := range buckets {
		members := byBucket[b.ID]
		if len(members) == 0 {
			continue
		}
		states = append(states, &bucketState{bucket: b, members: members})
	}
	return states, nil
}

func (o *Orchestrator) mergeImageBuckets(ctx context.Context, job *model.Job, buckets []*bucketState) error {
	// Representatives are probed pairwise; C(n,2) comparisons.
	reps := make([]client.Media, len(buckets))
	for i, b := range buckets {
		media, err := o.download(ctx, b.rep())
		if err != nil {
			return err
		}
		reps[i] = media
	}

	type pair struct{ i, j int }
	var pairs []pair
	for i := 0; i < len(buckets); i++ {
		for j := i + 1; j < len(buckets); j++ {
			pairs = append(pairs, pair{i, j})
		}
	}

	progress := newStageProgress(o.store, o.hub, o.log, job.ID, string(model.JobStatusMerging), len(pairs))

	uf := newUnionFind(len(buckets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MergeConcurrency)
	for _, p := range pairs {
		p := p
		g.Go(func() error {
			same, err := o.model.SameTake(gctx, reps[p.i], reps[p.j])
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.log.Warnw("merge comparison failed", "job_id", job.ID, "error", err)
				progress.step(gctx, "")
				return nil
			}
			if same {
				mu.Lock()
				uf.union(p.i, p.j)
				mu.Unlock()
			}
			progress.step(gctx, "")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Collapse each component into its lowest-indexed bucket, which keeps
	// that bucket's representative as the survivor's representative.
	survivor := make(map[int]int)
	for i := range buckets {
		root := uf.find(i)
		if s, ok := survivor[root]; !ok || i < s {
			survivor[root] = i
		}
	}

	for i, b := range buckets {
		target := survivor[uf.find(i)]
		if target == i {
			continue
		}
		ids := make([]uuid.UUID, len(b.members))
		for k, m := range b.members {
			ids[k] = m.ID
		}
		if err := o.store.AssignBucket(ctx, ids, buckets[target].bucket.ID); err != nil {
			return err
		}
		if err := o.store.DeleteBucket(ctx, b.bucket.ID); err != nil {
			return err
		}
		o.log.Infow("merged bucket", "job_id", job.ID, "from", b.bucket.ID, "into", buckets[target].bucket.ID)
	}
	return nil
}

// nameBuckets asks the model for a short name per bucket, derived from the
// first few member labels. On failure the positional fallback name from
// the clustering stage stays in place.
func (o *Orchestrator) nameBuckets(ctx context.Context, states []*bucketState) error {
	const labelCap = 5
	for _, st := range states {
		var labels []string
		for _, m := range st.members {
			if m.Label != nil && *m.Label != "" {
				labels = append(labels, *m.Label)
			}
			if len(labels) == labelCap {
				break
			}
		}
		if len(labels) == 0 {
			continue
		}
		name, err := o.model.NameBucket(ctx, labels)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.log.Warnw("bucket naming failed", "bucket_id", st.bucket.ID, "error", err)
			continue
		}
		if err := o.store.RenameBucket(ctx, st.bucket.ID, name); err != nil {
			return err
		}
	}
	return nil
}
