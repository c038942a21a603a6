package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/framepick/api/internal/client"
	"github.com/framepick/api/internal/model"
)

// runRank plays a full round-robin quality tournament inside every bucket
// with at least two members. Buckets are small after clustering, so the
// complete pairwise record is affordable and leaves an audit trail.
// Tournaments run in parallel, bounded; matches within a tournament run in
// parallel, bounded. Ratings are Elo and therefore path-dependent: the
// transcript differs between runs, the resulting order is similar.
func (o *Orchestrator) runRank(ctx context.Context, job *model.Job) error {
	states, err := o.loadBuckets(ctx, job.ID)
	if err != nil {
		return err
	}

	var contested []*bucketState
	totalMatches := 0
	for _, st := range states {
		n := len(st.members)
		if n >= 2 {
			contested = append(contested, st)
			totalMatches += n * (n - 1) / 2
		}
	}

	progress := newStageProgress(o.store, o.hub, o.log, job.ID, string(model.JobStatusRanking), totalMatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.TournamentConcurrency)
	for _, st := range contested {
		st := st
		g.Go(func() error {
			return o.runTournament(gctx, st, progress)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) runTournament(ctx context.Context, st *bucketState, progress *stageProgress) error {
	members := st.members
	mediaType := members[0].MediaType

	data := make(map[uuid.UUID]client.Media, len(members))
	for _, m := range members {
		media, err := o.download(ctx, m)
		if err != nil {
			return err
		}
		data[m.ID] = media
	}

	ratings := make(map[uuid.UUID]float64, len(members))
	for _, m := range members {
		ratings[m.ID] = 1000
	}

	type pair struct{ a, b *model.MediaFile }
	var pairs []pair
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			pairs = append(pairs, pair{members[i], members[j]})
		}
	}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MatchConcurrency)
	for _, p := range pairs {
		p := p
		g.Go(func() error {
			verdict, err := o.model.CompareQuality(gctx, data[p.a.ID], data[p.b.ID], mediaType)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// One lost match skews the bucket less than a dead job.
				o.log.Warnw("quality comparison failed", "bucket_id", st.bucket.ID,
					"media1", p.a.Filename, "media2", p.b.Filename, "error", err)
				progress.step(gctx, "")
				return nil
			}

			scoreA := 1.0
			winnerID := p.a.ID
			if verdict.Winner == 2 {
				scoreA = 0
				winnerID = p.b.ID
			}

			mu.Lock()
			deltaA, deltaB := eloDeltas(ratings[p.a.ID], ratings[p.b.ID], scoreA, verdict.Confidence)
			ratings[p.a.ID] += deltaA
			ratings[p.b.ID] += deltaB
			newA, newB := ratings[p.a.ID], ratings[p.b.ID]
			mu.Unlock()

			// Persist in completion order so an interrupted tournament
			// leaves ratings that reflect exactly the recorded matches.
			if err := o.store.SetMediaRating(gctx, p.a.ID, newA); err != nil {
				return err
			}
			if err := o.store.SetMediaRating(gctx, p.b.ID, newB); err != nil {
				return err
			}
			match := &model.TournamentMatch{
				ID:        uuid.New(),
				BucketID:  st.bucket.ID,
				MediaType: mediaType,
				Round:     1,
				Media1ID:  p.a.ID,
				Media2ID:  p.b.ID,
				WinnerID:  winnerID,
				Reasoning: verdict.Reasoning,
				Change1:   deltaA,
				Change2:   deltaB,
				CreatedAt: time.Now(),
			}
			if err := o.store.CreateMatch(gctx, match); err != nil {
				return err
			}
			progress.step(gctx, fmt.Sprintf("%s vs %s", p.a.Filename, p.b.Filename))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Picks are marked only after the full tournament: top three by rating.
	ranked := make([]*model.MediaFile, len(members))
	copy(ranked, members)
	sort.SliceStable(ranked, func(i, k int) bool { return ratings[ranked[i].ID] > ratings[ranked[k].ID] })

	picks := o.cfg.TopPicks
	if picks > len(ranked) {
		picks = len(ranked)
	}
	for i := 0; i < picks; i++ {
		if err := o.store.SetTopPick(ctx, ranked[i].ID, true); err != nil {
			return err
		}
	}
	return nil
}
