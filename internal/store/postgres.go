package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/framepick/api/internal/model"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

const jobColumns = `id, name, status, total_files, processed_files, error_message, archive_path, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	err := row.Scan(&j.ID, &j.Name, &j.Status, &j.TotalFiles, &j.ProcessedFiles,
		&j.Error, &j.ArchivePath, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, name, status, total_files, processed_files, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Name, job.Status, job.TotalFiles, job.ProcessedFiles, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

func (s *PostgresStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) ListUnfinishedJobs(ctx context.Context) ([]*model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status NOT IN ($1, $2) ORDER BY created_at`,
		model.JobStatusCompleted, model.JobStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// SetJobStatus advances a job to the given status. The per-stage progress
// counter restarts at zero; completed_at is stamped on terminal statuses.
func (s *PostgresStore) SetJobStatus(ctx context.Context, id uuid.UUID, status model.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, processed_files = 0, updated_at = NOW(),
		        completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE completed_at END
		 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetJobArchivePath(ctx context.Context, id uuid.UUID, path string) error {
	var p *string
	if path != "" {
		p = &path
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET archive_path = $2, updated_at = NOW() WHERE id = $1`, id, p)
	if err != nil {
		return fmt.Errorf("set job archive path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetJobCounts(ctx context.Context, id uuid.UUID, processed, total int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET processed_files = $2, total_files = $3, updated_at = NOW() WHERE id = $1`,
		id, processed, total)
	if err != nil {
		return fmt.Errorf("set job counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error_message = $3, updated_at = NOW(), completed_at = NOW()
		 WHERE id = $1`, id, model.JobStatusFailed, message)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteJob removes the job row; media files, buckets and matches cascade.
func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Media files ---

const mediaColumns = `id, job_id, bucket_id, filename, original_path, position, blob_key, blob_url,
	media_type, mime_type, size_bytes, label, rating_score, is_top_pick,
	enhanced_blob_key, enhanced_blob_url, created_at, updated_at`

func scanMedia(row pgx.Row) (*model.MediaFile, error) {
	var m model.MediaFile
	err := row.Scan(&m.ID, &m.JobID, &m.BucketID, &m.Filename, &m.OriginalPath, &m.Position,
		&m.BlobKey, &m.BlobURL, &m.MediaType, &m.MimeType, &m.SizeBytes, &m.Label,
		&m.RatingScore, &m.IsTopPick, &m.EnhancedBlobKey, &m.EnhancedBlobURL,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan media file: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) CreateMediaFiles(ctx context.Context, files []*model.MediaFile) error {
	if len(files) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, f := range files {
		batch.Queue(
			`INSERT INTO media_files (id, job_id, filename, original_path, position, blob_key, blob_url,
			     media_type, mime_type, size_bytes, rating_score, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			f.ID, f.JobID, f.Filename, f.OriginalPath, f.Position, f.BlobKey, f.BlobURL,
			f.MediaType, f.MimeType, f.SizeBytes, f.RatingScore, f.CreatedAt, f.UpdatedAt)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range files {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("create media files: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListMediaFiles(ctx context.Context, jobID uuid.UUID) ([]*model.MediaFile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mediaColumns+` FROM media_files WHERE job_id = $1 ORDER BY position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list media files: %w", err)
	}
	defer rows.Close()

	var files []*model.MediaFile
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, m)
	}
	return files, rows.Err()
}

func (s *PostgresStore) SetMediaLabel(ctx context.Context, id uuid.UUID, label string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE media_files SET label = $2, updated_at = NOW() WHERE id = $1`, id, label)
	if err != nil {
		return fmt.Errorf("set media label: %w", err)
	}
	return nil
}

func (s *PostgresStore) AssignBucket(ctx context.Context, mediaIDs []uuid.UUID, bucketID uuid.UUID) error {
	if len(mediaIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE media_files SET bucket_id = $1, updated_at = NOW() WHERE id = ANY($2)`,
		bucketID, mediaIDs)
	if err != nil {
		return fmt.Errorf("assign bucket: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetMediaRating(ctx context.Context, id uuid.UUID, rating float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE media_files SET rating_score = $2, updated_at = NOW() WHERE id = $1`, id, rating)
	if err != nil {
		return fmt.Errorf("set media rating: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTopPick(ctx context.Context, id uuid.UUID, topPick bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE media_files SET is_top_pick = $2, updated_at = NOW() WHERE id = $1`, id, topPick)
	if err != nil {
		return fmt.Errorf("set top pick: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetEnhanced(ctx context.Context, id uuid.UUID, blobKey, blobURL string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE media_files SET enhanced_blob_key = $2, enhanced_blob_url = $3, updated_at = NOW()
		 WHERE id = $1`, id, blobKey, blobURL)
	if err != nil {
		return fmt.Errorf("set enhanced: %w", err)
	}
	return nil
}

// --- Buckets ---

func (s *PostgresStore) CreateBucket(ctx context.Context, bucket *model.Bucket) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO buckets (id, job_id, name, centroid, created_at) VALUES ($1, $2, $3, $4, $5)`,
		bucket.ID, bucket.JobID, bucket.Name, bucket.Centroid, bucket.CreatedAt)
	if err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBuckets(ctx context.Context, jobID uuid.UUID) ([]*model.Bucket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, name, centroid, created_at FROM buckets WHERE job_id = $1 ORDER BY created_at, id`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var buckets []*model.Bucket
	for rows.Next() {
		var b model.Bucket
		if err := rows.Scan(&b.ID, &b.JobID, &b.Name, &b.Centroid, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, &b)
	}
	return buckets, rows.Err()
}

func (s *PostgresStore) RenameBucket(ctx context.Context, id uuid.UUID, name string) error {
	_, err := s.pool.Exec(ctx, `UPDATE buckets SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("rename bucket: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteBucket(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM buckets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	return nil
}

// --- Tournament matches ---

func (s *PostgresStore) CreateMatch(ctx context.Context, match *model.TournamentMatch) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tournament_matches (id, bucket_id, media_type, round, media1_id, media2_id,
		     winner_id, reasoning, change1, change2, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		match.ID, match.BucketID, match.MediaType, match.Round, match.Media1ID, match.Media2ID,
		match.WinnerID, match.Reasoning, match.Change1, match.Change2, match.CreatedAt)
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMatches(ctx context.Context, bucketID uuid.UUID) ([]*model.TournamentMatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, bucket_id, media_type, round, media1_id, media2_id, winner_id, reasoning,
		        change1, change2, created_at
		 FROM tournament_matches WHERE bucket_id = $1 ORDER BY created_at, id`, bucketID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var matches []*model.TournamentMatch
	for rows.Next() {
		var m model.TournamentMatch
		if err := rows.Scan(&m.ID, &m.BucketID, &m.MediaType, &m.Round, &m.Media1ID, &m.Media2ID,
			&m.WinnerID, &m.Reasoning, &m.Change1, &m.Change2, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, &m)
	}
	return matches, rows.Err()
}
