package service

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/framepick/api/internal/model"
	"github.com/framepick/api/internal/store"
)

var ErrJobNotCompleted = errors.New("job is not completed")

// QueryService serves the read-only projections over jobs.
type QueryService struct {
	store store.Store
}

func NewQueryService(st store.Store) *QueryService {
	return &QueryService{store: st}
}

// PartialResults returns every bucket with its members sorted by rating
// desc plus files not yet attached to a bucket. Usable mid-pipeline.
func (s *QueryService) PartialResults(ctx context.Context, jobID uuid.UUID) (*model.PartialResults, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	buckets, err := s.store.ListBuckets(ctx, jobID)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListMediaFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}

	byBucket := make(map[uuid.UUID][]*model.MediaFile)
	var unclustered []*model.MediaFile
	for _, f := range files {
		if f.BucketID == nil {
			unclustered = append(unclustered, f)
			continue
		}
		byBucket[*f.BucketID] = append(byBucket[*f.BucketID], f)
	}

	results := &model.PartialResults{Job: job, Unclustered: unclustered}
	for _, b := range buckets {
		members := byBucket[b.ID]
		sort.SliceStable(members, func(i, k int) bool { return members[i].RatingScore > members[k].RatingScore })
		results.Buckets = append(results.Buckets, &model.BucketResults{Bucket: b, Media: members})
	}
	return results, nil
}

// FinalResults returns the completed projection: each bucket's top picks
// split by media type plus the complete ranked list. ErrJobNotCompleted is
// returned while the job is still in flight.
func (s *QueryService) FinalResults(ctx context.Context, jobID uuid.UUID) (*model.FinalResults, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}

	buckets, err := s.store.ListBuckets(ctx, jobID)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListMediaFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}

	byBucket := make(map[uuid.UUID][]*model.MediaFile)
	for _, f := range files {
		if f.BucketID != nil {
			byBucket[*f.BucketID] = append(byBucket[*f.BucketID], f)
		}
	}

	results := &model.FinalResults{Job: job}
	for _, b := range buckets {
		members := byBucket[b.ID]
		sort.SliceStable(members, func(i, k int) bool { return members[i].RatingScore > members[k].RatingScore })

		br := &model.FinalBucketResults{Bucket: b, Ranked: members}
		for _, m := range members {
			if !m.IsTopPick {
				continue
			}
			switch m.MediaType {
			case model.MediaTypeImage:
				br.TopImages = append(br.TopImages, m)
			case model.MediaTypeVideo:
				br.TopVideos = append(br.TopVideos, m)
			}
		}
		results.Buckets = append(results.Buckets, br)
	}
	return results, nil
}
