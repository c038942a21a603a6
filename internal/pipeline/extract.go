package pipeline

import (
	"context"
	"errors"

	"github.com/framepick/api/internal/archive"
	"github.com/framepick/api/internal/model"
)

// runExtract expands the uploaded scratch archive into blob-store objects
// and MediaFile records.
func (o *Orchestrator) runExtract(ctx context.Context, job *model.Job) error {
	if job.ArchivePath == nil || *job.ArchivePath == "" {
		return errors.New("archive unreadable: no scratch file")
	}

	progress := newStageProgress(o.store, o.hub, o.log, job.ID, string(model.JobStatusExtracting), 0)
	progress.set(ctx, 0, "expanding archive")

	expander := archive.NewExpander(o.store, o.blob, o.log)
	count, err := expander.Expand(ctx, job.ID, *job.ArchivePath)
	if err != nil {
		return err
	}
	if count == 0 {
		return errors.New("no media files")
	}

	if err := o.store.SetJobArchivePath(ctx, job.ID, ""); err != nil {
		return err
	}
	if err := o.store.SetJobCounts(ctx, job.ID, count, count); err != nil {
		return err
	}
	o.hub.BroadcastProgress(job.ID.String(), string(model.JobStatusExtracting), count, count, "archive expanded")
	return nil
}
