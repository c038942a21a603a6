package model

import (
	"time"

	"github.com/google/uuid"
)

// Job represents one end-to-end culling run over a single uploaded archive.
type Job struct {
	ID             uuid.UUID  `db:"id"              json:"id"`
	Name           *string    `db:"name"            json:"name,omitempty"`
	Status         JobStatus  `db:"status"          json:"status"`
	TotalFiles     int        `db:"total_files"     json:"totalFiles"`
	ProcessedFiles int        `db:"processed_files" json:"processedFiles"`
	Error          *string    `db:"error_message"   json:"error,omitempty"`
	ArchivePath    *string    `db:"archive_path"    json:"-"`
	CreatedAt      time.Time  `db:"created_at"      json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at"      json:"updatedAt"`
	CompletedAt    *time.Time `db:"completed_at"    json:"completedAt,omitempty"`
}

// MediaFile represents one ingested photo or video clip.
type MediaFile struct {
	ID              uuid.UUID  `db:"id"                json:"id"`
	JobID           uuid.UUID  `db:"job_id"            json:"jobId"`
	BucketID        *uuid.UUID `db:"bucket_id"         json:"bucketId,omitempty"`
	Filename        string     `db:"filename"          json:"filename"`
	OriginalPath    string     `db:"original_path"     json:"originalPath"`
	Position        int        `db:"position"          json:"-"`
	BlobKey         string     `db:"blob_key"          json:"blobKey"`
	BlobURL         string     `db:"blob_url"          json:"blobUrl"`
	MediaType       MediaType  `db:"media_type"        json:"mediaType"`
	MimeType        string     `db:"mime_type"         json:"mimeType"`
	SizeBytes       int64      `db:"size_bytes"        json:"sizeBytes"`
	Label           *string    `db:"label"             json:"label,omitempty"`
	RatingScore     float64    `db:"rating_score"      json:"ratingScore"`
	IsTopPick       bool       `db:"is_top_pick"       json:"isTopPick"`
	EnhancedBlobKey *string    `db:"enhanced_blob_key" json:"enhancedBlobKey,omitempty"`
	EnhancedBlobURL *string    `db:"enhanced_blob_url" json:"enhancedBlobUrl,omitempty"`
	CreatedAt       time.Time  `db:"created_at"        json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at"        json:"updatedAt"`
}

// Bucket is a same-take group of media files within a job.
type Bucket struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	JobID     uuid.UUID `db:"job_id"     json:"jobId"`
	Name      string    `db:"name"       json:"name"`
	Centroid  *string   `db:"centroid"   json:"-"` // reserved, unused
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// TournamentMatch is one pairwise quality judgment inside a bucket.
// Rows are immutable once written; Change1/Change2 record the rating
// deltas that were actually applied.
type TournamentMatch struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	BucketID  uuid.UUID `db:"bucket_id"  json:"bucketId"`
	MediaType MediaType `db:"media_type" json:"mediaType"`
	Round     int       `db:"round"      json:"round"`
	Media1ID  uuid.UUID `db:"media1_id"  json:"media1Id"`
	Media2ID  uuid.UUID `db:"media2_id"  json:"media2Id"`
	WinnerID  uuid.UUID `db:"winner_id"  json:"winnerId"`
	Reasoning string    `db:"reasoning"  json:"reasoning"`
	Change1   float64   `db:"change1"    json:"change1"`
	Change2   float64   `db:"change2"    json:"change2"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
