package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framepick/api/internal/client"
	"github.com/framepick/api/internal/model"
	"github.com/framepick/api/internal/store"
)

// Accepted extensions, lowercased, mapped to their MIME type.
var imageMimes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
}

var videoMimes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9.-]`)

// SanitizeFilename replaces any character outside [A-Za-z0-9.-] with '_'.
func SanitizeFilename(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// ClassifyEntry resolves an archive entry to a media type and MIME type.
// ok is false for entries that must be skipped: hidden files, resource-fork
// artifacts, __MACOSX members, Thumbs.db and unsupported extensions.
func ClassifyEntry(entryName string) (model.MediaType, string, bool) {
	for _, part := range strings.Split(entryName, "/") {
		if part == "__MACOSX" {
			return "", "", false
		}
	}
	base := path.Base(entryName)
	if base == "" || strings.HasPrefix(base, ".") || strings.HasPrefix(base, "._") || base == "Thumbs.db" {
		return "", "", false
	}
	ext := strings.ToLower(path.Ext(base))
	if mime, ok := imageMimes[ext]; ok {
		return model.MediaTypeImage, mime, true
	}
	if mime, ok := videoMimes[ext]; ok {
		return model.MediaTypeVideo, mime, true
	}
	return "", "", false
}

// Expander walks an uploaded archive, pushes each accepted member to the
// blob store and records a MediaFile per member.
type Expander struct {
	store store.Store
	blob  client.StorageClient
	log   *zap.SugaredLogger
}

func NewExpander(st store.Store, blob client.StorageClient, log *zap.SugaredLogger) *Expander {
	return &Expander{store: st, blob: blob, log: log}
}

// Expand processes the scratch archive at archivePath for the given job.
// The scratch file is removed afterward regardless of outcome. Returns the
// number of media files ingested.
func (e *Expander) Expand(ctx context.Context, jobID uuid.UUID, archivePath string) (int, error) {
	defer os.Remove(archivePath)

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("archive unreadable: %w", err)
	}
	defer reader.Close()

	var files []*model.MediaFile
	seen := make(map[string]int)
	position := 0

	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		mediaType, mimeType, ok := ClassifyEntry(entry.Name)
		if !ok {
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			e.log.Warnw("skipping unreadable archive entry", "entry", entry.Name, "error", err)
			continue
		}
		data := make([]byte, 0, entry.UncompressedSize64)
		buf := bytes.NewBuffer(data)
		if _, err := buf.ReadFrom(rc); err != nil {
			rc.Close()
			e.log.Warnw("skipping unreadable archive entry", "entry", entry.Name, "error", err)
			continue
		}
		rc.Close()

		sanitized := SanitizeFilename(path.Base(entry.Name))
		filename := sanitized
		if n := seen[sanitized]; n > 0 {
			filename = fmt.Sprintf("%d_%s", n, sanitized)
		}
		seen[sanitized]++

		blobKey := fmt.Sprintf("jobs/%s/original/%s", jobID, filename)
		blobURL, err := e.blob.Upload(ctx, blobKey, bytes.NewReader(buf.Bytes()), mimeType)
		if err != nil {
			return 0, fmt.Errorf("upload %s: %w", entry.Name, err)
		}

		now := time.Now()
		files = append(files, &model.MediaFile{
			ID:           uuid.New(),
			JobID:        jobID,
			Filename:     filename,
			OriginalPath: entry.Name,
			Position:     position,
			BlobKey:      blobKey,
			BlobURL:      blobURL,
			MediaType:    mediaType,
			MimeType:     mimeType,
			SizeBytes:    int64(buf.Len()),
			RatingScore:  1000,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		position++
	}

	if len(files) == 0 {
		return 0, nil
	}
	if err := e.store.CreateMediaFiles(ctx, files); err != nil {
		return 0, fmt.Errorf("record media files: %w", err)
	}

	e.log.Infow("archive expanded", "job_id", jobID, "media_files", len(files))
	return len(files), nil
}
