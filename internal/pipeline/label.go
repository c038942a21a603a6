package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/framepick/api/internal/model"
)

// runLabel describes every media file that does not yet carry a label.
// The stage is idempotent: re-running a half-labeled job issues model
// calls only for the remainder. A label that fails after retries fails
// the stage — every file must be labeled before the job moves on.
func (o *Orchestrator) runLabel(ctx context.Context, job *model.Job) error {
	files, err := o.store.ListMediaFiles(ctx, job.ID)
	if err != nil {
		return err
	}

	var pending []*model.MediaFile
	for _, f := range files {
		if f.Label == nil {
			pending = append(pending, f)
		}
	}

	progress := newStageProgress(o.store, o.hub, o.log, job.ID, string(model.JobStatusLabeling), len(files))
	progress.set(ctx, len(files)-len(pending), "labeling media")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.LabelConcurrency)
	for _, f := range pending {
		f := f
		g.Go(func() error {
			media, err := o.download(gctx, f)
			if err != nil {
				return err
			}
			label, err := o.model.Describe(gctx, media)
			if err != nil {
				return fmt.Errorf("describe %s: %w", f.Filename, err)
			}
			if err := o.store.SetMediaLabel(gctx, f.ID, label); err != nil {
				return err
			}
			progress.step(gctx, f.Filename)
			return nil
		})
	}
	return g.Wait()
}
