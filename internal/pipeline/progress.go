package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framepick/api/internal/model"
	"github.com/framepick/api/internal/store"
)

// Broadcaster pushes job frames to connected clients. Satisfied by the
// WebSocket hub; tests substitute a no-op.
type Broadcaster interface {
	BroadcastStatus(jobID string, status model.JobStatus, processed, total int)
	BroadcastProgress(jobID, stage string, current, total int, message string)
	BroadcastError(jobID, message string)
}

// NopBroadcaster discards all frames.
type NopBroadcaster struct{}

func (NopBroadcaster) BroadcastStatus(string, model.JobStatus, int, int)          {}
func (NopBroadcaster) BroadcastProgress(string, string, int, int, string)        {}
func (NopBroadcaster) BroadcastError(string, string)                             {}

// stageProgress tracks one stage's (current, total) pair, persisting the
// counters on the job and fanning the tuple out to subscribers. Safe for
// concurrent use by pool workers.
type stageProgress struct {
	store store.Store
	hub   Broadcaster
	log   *zap.SugaredLogger

	jobID uuid.UUID
	stage string
	total int

	mu      sync.Mutex
	current int
}

func newStageProgress(st store.Store, hub Broadcaster, log *zap.SugaredLogger, jobID uuid.UUID, stage string, total int) *stageProgress {
	return &stageProgress{store: st, hub: hub, log: log, jobID: jobID, stage: stage, total: total}
}

// set reports an absolute position within the stage.
func (p *stageProgress) set(ctx context.Context, current int, message string) {
	p.mu.Lock()
	if current > p.current {
		p.current = current
	}
	current = p.current
	p.mu.Unlock()
	p.emit(ctx, current, message)
}

// step advances the stage counter by one completed unit of work.
func (p *stageProgress) step(ctx context.Context, message string) {
	p.mu.Lock()
	p.current++
	current := p.current
	p.mu.Unlock()
	p.emit(ctx, current, message)
}

func (p *stageProgress) emit(ctx context.Context, current int, message string) {
	if err := p.store.SetJobCounts(ctx, p.jobID, current, p.total); err != nil {
		p.log.Warnw("failed to persist progress", "job_id", p.jobID, "error", err)
	}
	p.hub.BroadcastProgress(p.jobID.String(), p.stage, current, p.total, message)
}
