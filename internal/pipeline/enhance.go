package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/framepick/api/internal/model"
)

// runEnhance requests an enhanced rendering of every image top pick and
// stores it beside the original. A declined or failed Enhance call leaves
// the pick untouched and the stage moves on; a blob download or upload
// error, or a failure to record the enhanced key, fails the stage.
func (o *Orchestrator) runEnhance(ctx context.Context, job *model.Job) error {
	files, err := o.store.ListMediaFiles(ctx, job.ID)
	if err != nil {
		return err
	}

	var picks []*model.MediaFile
	for _, f := range files {
		if f.IsTopPick && f.MediaType == model.MediaTypeImage && f.EnhancedBlobKey == nil {
			picks = append(picks, f)
		}
	}

	progress := newStageProgress(o.store, o.hub, o.log, job.ID, string(model.JobStatusEnhancing), len(picks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.EnhanceConcurrency)
	for _, f := range picks {
		f := f
		g.Go(func() error {
			media, err := o.download(gctx, f)
			if err != nil {
				return err
			}
			enhanced, err := o.model.Enhance(gctx, media)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.log.Warnw("enhancement failed", "media_id", f.ID, "filename", f.Filename, "error", err)
				progress.step(gctx, f.Filename)
				return nil
			}
			if enhanced == nil {
				progress.step(gctx, f.Filename)
				return nil
			}

			key := fmt.Sprintf("jobs/%s/enhanced/enhanced_%s", job.ID, f.Filename)
			url, err := o.blob.Upload(gctx, key, bytes.NewReader(enhanced), f.MimeType)
			if err != nil {
				return err
			}
			if err := o.store.SetEnhanced(gctx, f.ID, key, url); err != nil {
				return err
			}
			progress.step(gctx, f.Filename)
			return nil
		})
	}
	return g.Wait()
}
