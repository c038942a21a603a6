package websocket

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framepick/api/internal/model"
	"github.com/framepick/api/internal/service"
)

var (
	ErrNoSession = errors.New("no active upload session")

	errSessionActive = errors.New("upload session already initialized")
	errShortFrame    = errors.New("binary frame too short")
)

const maxArchiveSize = 10 << 30 // 10 GiB

// Assembler accumulates ordered upload chunks into a scratch archive file.
// Chunks are appended in arrival order: WebSocket messages on a single
// connection are delivered in order by the transport, so the 4-byte index
// prefix is used for acknowledgement accounting only.
type Assembler struct {
	jobs *service.JobService
	log  *zap.SugaredLogger

	job         *model.Job
	scratch     *os.File
	totalChunks int
	received    int
}

func NewAssembler(jobs *service.JobService, log *zap.SugaredLogger) *Assembler {
	return &Assembler{jobs: jobs, log: log}
}

// Job returns the job bound to this session, nil before init.
func (a *Assembler) Job() *model.Job { return a.job }

// HandleInit opens the session: binds or creates the job, allocates the
// scratch file and records its path so recovery can find it.
func (a *Assembler) HandleInit(ctx context.Context, frame model.InitFrame) (*model.Job, error) {
	if a.scratch != nil {
		return nil, errSessionActive
	}
	if frame.TotalChunks <= 0 || frame.TotalSize <= 0 {
		return nil, fmt.Errorf("invalid init frame: totalChunks and totalSize must be positive")
	}
	if frame.TotalSize > maxArchiveSize {
		return nil, fmt.Errorf("archive exceeds %d byte limit", int64(maxArchiveSize))
	}

	var job *model.Job
	var err error
	if frame.JobID != "" {
		id, perr := uuid.Parse(frame.JobID)
		if perr != nil {
			return nil, fmt.Errorf("invalid jobId: %w", perr)
		}
		job, err = a.jobs.GetJob(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("unknown job: %w", err)
		}
		if job.Status != model.JobStatusUploading {
			return nil, fmt.Errorf("job is not accepting uploads")
		}
	} else {
		job, err = a.jobs.CreateJob(ctx, frame.Name)
		if err != nil {
			return nil, err
		}
	}

	scratch, err := os.CreateTemp("", "framepick-upload-*.zip")
	if err != nil {
		return nil, fmt.Errorf("allocate scratch file: %w", err)
	}
	if err := a.jobs.AttachArchive(ctx, job.ID, scratch.Name()); err != nil {
		scratch.Close()
		os.Remove(scratch.Name())
		return nil, err
	}

	a.job = job
	a.scratch = scratch
	a.totalChunks = frame.TotalChunks
	a.received = 0
	return job, nil
}

// HandleChunk appends one binary frame. Returns the acknowledgement and
// whether the archive is now complete.
func (a *Assembler) HandleChunk(ctx context.Context, data []byte) (*model.ChunkAckData, bool, error) {
	if a.scratch == nil {
		return nil, false, ErrNoSession
	}
	if len(data) < 4 {
		return nil, false, errShortFrame
	}

	chunkIndex := binary.BigEndian.Uint32(data[:4])
	if _, err := a.scratch.Write(data[4:]); err != nil {
		return nil, false, fmt.Errorf("write chunk: %w", err)
	}
	a.received++

	ack := &model.ChunkAckData{
		ChunkIndex: chunkIndex,
		Received:   a.received,
		Total:      a.totalChunks,
	}

	if a.received < a.totalChunks {
		return ack, false, nil
	}

	if err := a.scratch.Close(); err != nil {
		return nil, false, fmt.Errorf("close scratch file: %w", err)
	}
	a.scratch = nil
	return ack, true, nil
}

// Abort tears down an incomplete session, keeping the job in uploading so
// it is visible (and inert) until deleted or failed by recovery.
func (a *Assembler) Abort() {
	if a.scratch != nil {
		name := a.scratch.Name()
		a.scratch.Close()
		os.Remove(name)
		a.scratch = nil
	}
}

// UploadHandler serves the /ws/upload duplex session.
type UploadHandler struct {
	jobs *service.JobService
	hub  *Hub
	log  *zap.SugaredLogger
}

func NewUploadHandler(jobs *service.JobService, hub *Hub, log *zap.SugaredLogger) *UploadHandler {
	return &UploadHandler{jobs: jobs, hub: hub, log: log}
}

// Handle runs one upload session to completion, then keeps the connection
// subscribed to pipeline progress frames until the peer disconnects.
func (h *UploadHandler) Handle(c *websocket.Conn) {
	ctx := context.Background()
	asm := NewAssembler(h.jobs, h.log)
	completed := false
	defer func() {
		if !completed {
			asm.Abort()
		}
	}()

	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warnw("upload session read error", "error", err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			var frame model.InitFrame
			if err := json.Unmarshal(data, &frame); err != nil || frame.Kind != model.FrameKindInit {
				writeError(c, "", "expected init frame")
				continue
			}
			job, err := asm.HandleInit(ctx, frame)
			if err != nil {
				writeError(c, "", err.Error())
				continue
			}
			writeFrame(c, model.ServerFrame{
				Kind:  model.FrameKindStatusUpdate,
				JobID: job.ID.String(),
				Data: model.StatusUpdateData{
					Status:         job.Status,
					ProcessedFiles: job.ProcessedFiles,
					TotalFiles:     job.TotalFiles,
				},
			})

		case websocket.BinaryMessage:
			ack, complete, err := asm.HandleChunk(ctx, data)
			if err != nil {
				if errors.Is(err, ErrNoSession) || errors.Is(err, errShortFrame) {
					writeError(c, "", err.Error())
					continue
				}
				// A write failure poisons the scratch file; the job cannot
				// recover its byte stream.
				job := asm.Job()
				if job != nil {
					if ferr := h.jobs.FailJob(ctx, job.ID, err.Error()); ferr != nil {
						h.log.Errorw("failed to fail job", "job_id", job.ID, "error", ferr)
					}
					writeError(c, job.ID.String(), err.Error())
				} else {
					writeError(c, "", err.Error())
				}
				return
			}

			job := asm.Job()
			writeFrame(c, model.ServerFrame{
				Kind:  model.FrameKindChunkAck,
				JobID: job.ID.String(),
				Data:  ack,
			})

			if complete {
				completed = true
				if err := h.forwardProgress(ctx, c, job.ID); err != nil {
					return
				}
				return
			}

		default:
			// ping/pong handled by the websocket layer
		}
	}
}

// forwardProgress hands the completed archive to the pipeline and streams
// progress frames back over the session until the peer disconnects.
func (h *UploadHandler) forwardProgress(ctx context.Context, c *websocket.Conn, jobID uuid.UUID) error {
	jobKey := jobID.String()

	// Subscribe before the pipeline starts so no frame is missed.
	client := &Client{JobID: jobKey, Send: make(chan []byte, 256)}
	h.hub.Register(client)
	defer h.hub.Unregister(client)
	go client.WritePump(c)

	if err := h.jobs.StartPipeline(ctx, jobID); err != nil {
		h.log.Errorw("failed to start pipeline", "job_id", jobID, "error", err)
		if ferr := h.jobs.FailJob(ctx, jobID, "failed to schedule processing"); ferr != nil {
			h.log.Errorw("failed to fail job", "job_id", jobID, "error", ferr)
		}
		h.hub.BroadcastError(jobKey, "failed to schedule processing")
		return err
	}
	h.hub.BroadcastStatus(jobKey, model.JobStatusExtracting, 0, 0)

	// Drain the read side so control frames keep flowing; WritePump owns
	// all writes from here on.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return nil
		}
	}
}

func writeFrame(c *websocket.Conn, frame model.ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = c.WriteMessage(websocket.TextMessage, data)
}

func writeError(c *websocket.Conn, jobID, message string) {
	writeFrame(c, model.ServerFrame{
		Kind:  model.FrameKindError,
		JobID: jobID,
		Data:  model.ErrorData{Message: message},
	})
}
