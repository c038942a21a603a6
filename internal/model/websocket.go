package model

// Upload session frame kinds (both directions)
const (
	FrameKindInit               = "init"
	FrameKindStatusUpdate       = "status_update"
	FrameKindChunkAck           = "chunk_ack"
	FrameKindProcessingProgress = "processing_progress"
	FrameKindError              = "error"
)

// InitFrame is the first (text) message of an upload session. JobID is
// optional: when set it binds the session to a job pre-allocated via
// POST /jobs, otherwise a new job is created.
type InitFrame struct {
	Kind        string `json:"kind"`
	TotalChunks int    `json:"totalChunks"`
	TotalSize   int64  `json:"totalSize"`
	JobID       string `json:"jobId,omitempty"`
	Name        string `json:"name,omitempty"`
}

// ServerFrame is the envelope for every server→client text frame.
type ServerFrame struct {
	Kind  string      `json:"kind"`
	JobID string      `json:"jobId,omitempty"`
	Data  interface{} `json:"data"`
}

// StatusUpdateData reports the job's current status and counters.
type StatusUpdateData struct {
	Status         JobStatus `json:"status"`
	ProcessedFiles int       `json:"processedFiles"`
	TotalFiles     int       `json:"totalFiles"`
}

// ChunkAckData acknowledges one received upload chunk.
type ChunkAckData struct {
	ChunkIndex uint32 `json:"chunkIndex"`
	Received   int    `json:"received"`
	Total      int    `json:"total"`
}

// ProcessingProgressData mirrors the orchestrator progress sink tuple.
type ProcessingProgressData struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// ErrorData carries a single error message.
type ErrorData struct {
	Message string `json:"message"`
}
