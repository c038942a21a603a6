package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/framepick/api/internal/model"
)

// MemoryStore is an in-memory Store used by tests and by local development
// when no database is configured. It mirrors PostgresStore semantics,
// including cascade deletion.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*model.Job
	media   map[uuid.UUID]*model.MediaFile
	buckets map[uuid.UUID]*model.Bucket
	matches map[uuid.UUID]*model.TournamentMatch

	jobOrder    []uuid.UUID
	mediaOrder  []uuid.UUID
	bucketOrder []uuid.UUID
	matchOrder  []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[uuid.UUID]*model.Job),
		media:   make(map[uuid.UUID]*model.MediaFile),
		buckets: make(map[uuid.UUID]*model.Bucket),
		matches: make(map[uuid.UUID]*model.TournamentMatch),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// --- Jobs ---

func (s *MemoryStore) CreateJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := *job
	s.jobs[j.ID] = &j
	s.jobOrder = append(s.jobOrder, j.ID)
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *j
	return &out, nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*model.Job, 0, len(s.jobOrder))
	for _, id := range s.jobOrder {
		j := *s.jobs[id]
		all = append(all, &j)
	}
	sort.SliceStable(all, func(i, k int) bool { return all[i].CreatedAt.After(all[k].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *MemoryStore) ListUnfinishedJobs(ctx context.Context) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []*model.Job
	for _, id := range s.jobOrder {
		j := s.jobs[id]
		if !j.Status.IsTerminal() {
			out := *j
			jobs = append(jobs, &out)
		}
	}
	return jobs, nil
}

func (s *MemoryStore) SetJobStatus(ctx context.Context, id uuid.UUID, status model.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.ProcessedFiles = 0
	j.UpdatedAt = time.Now()
	if status.IsTerminal() {
		now := time.Now()
		j.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) SetJobArchivePath(ctx context.Context, id uuid.UUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if path == "" {
		j.ArchivePath = nil
	} else {
		p := path
		j.ArchivePath = &p
	}
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetJobCounts(ctx context.Context, id uuid.UUID, processed, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.ProcessedFiles = processed
	j.TotalFiles = total
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) FailJob(ctx context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = model.JobStatusFailed
	msg := message
	j.Error = &msg
	now := time.Now()
	j.UpdatedAt = now
	j.CompletedAt = &now
	return nil
}

func (s *MemoryStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	s.jobOrder = removeID(s.jobOrder, id)
	for _, mid := range append([]uuid.UUID(nil), s.mediaOrder...) {
		if s.media[mid].JobID == id {
			delete(s.media, mid)
			s.mediaOrder = removeID(s.mediaOrder, mid)
		}
	}
	for _, bid := range append([]uuid.UUID(nil), s.bucketOrder...) {
		if s.buckets[bid].JobID != id {
			continue
		}
		for _, tid := range append([]uuid.UUID(nil), s.matchOrder...) {
			if s.matches[tid].BucketID == bid {
				delete(s.matches, tid)
				s.matchOrder = removeID(s.matchOrder, tid)
			}
		}
		delete(s.buckets, bid)
		s.bucketOrder = removeID(s.bucketOrder, bid)
	}
	return nil
}

// --- Media files ---

func (s *MemoryStore) CreateMediaFiles(ctx context.Context, files []*model.MediaFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		m := *f
		s.media[m.ID] = &m
		s.mediaOrder = append(s.mediaOrder, m.ID)
	}
	return nil
}

func (s *MemoryStore) ListMediaFiles(ctx context.Context, jobID uuid.UUID) ([]*model.MediaFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var files []*model.MediaFile
	for _, id := range s.mediaOrder {
		if s.media[id].JobID == jobID {
			m := *s.media[id]
			files = append(files, &m)
		}
	}
	sort.SliceStable(files, func(i, k int) bool { return files[i].Position < files[k].Position })
	return files, nil
}

func (s *MemoryStore) SetMediaLabel(ctx context.Context, id uuid.UUID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[id]
	if !ok {
		return ErrNotFound
	}
	l := label
	m.Label = &l
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) AssignBucket(ctx context.Context, mediaIDs []uuid.UUID, bucketID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range mediaIDs {
		if m, ok := s.media[id]; ok {
			b := bucketID
			m.BucketID = &b
			m.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (s *MemoryStore) SetMediaRating(ctx context.Context, id uuid.UUID, rating float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[id]
	if !ok {
		return ErrNotFound
	}
	m.RatingScore = rating
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetTopPick(ctx context.Context, id uuid.UUID, topPick bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[id]
	if !ok {
		return ErrNotFound
	}
	m.IsTopPick = topPick
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetEnhanced(ctx context.Context, id uuid.UUID, blobKey, blobURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[id]
	if !ok {
		return ErrNotFound
	}
	k, u := blobKey, blobURL
	m.EnhancedBlobKey = &k
	m.EnhancedBlobURL = &u
	m.UpdatedAt = time.Now()
	return nil
}

// --- Buckets ---

func (s *MemoryStore) CreateBucket(ctx context.Context, bucket *model.Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := *bucket
	s.buckets[b.ID] = &b
	s.bucketOrder = append(s.bucketOrder, b.ID)
	return nil
}

func (s *MemoryStore) ListBuckets(ctx context.Context, jobID uuid.UUID) ([]*model.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var buckets []*model.Bucket
	for _, id := range s.bucketOrder {
		if s.buckets[id].JobID == jobID {
			b := *s.buckets[id]
			buckets = append(buckets, &b)
		}
	}
	return buckets, nil
}

func (s *MemoryStore) RenameBucket(ctx context.Context, id uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[id]
	if !ok {
		return ErrNotFound
	}
	b.Name = name
	return nil
}

func (s *MemoryStore) DeleteBucket(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[id]; !ok {
		return ErrNotFound
	}
	delete(s.buckets, id)
	s.bucketOrder = removeID(s.bucketOrder, id)
	for _, m := range s.media {
		if m.BucketID != nil && *m.BucketID == id {
			m.BucketID = nil
		}
	}
	return nil
}

// --- Tournament matches ---

func (s *MemoryStore) CreateMatch(ctx context.Context, match *model.TournamentMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := *match
	s.matches[m.ID] = &m
	s.matchOrder = append(s.matchOrder, m.ID)
	return nil
}

func (s *MemoryStore) ListMatches(ctx context.Context, bucketID uuid.UUID) ([]*model.TournamentMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []*model.TournamentMatch
	for _, id := range s.matchOrder {
		if s.matches[id].BucketID == bucketID {
			m := *s.matches[id]
			matches = append(matches, &m)
		}
	}
	return matches, nil
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
