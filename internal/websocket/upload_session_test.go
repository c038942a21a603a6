package websocket

import (
	"context"
	"encoding/binary"
	"os"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/framepick/api/internal/client"
	"github.com/framepick/api/internal/model"
	"github.com/framepick/api/internal/service"
	"github.com/framepick/api/internal/store"
)

func newTestAssembler(t *testing.T) (*Assembler, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	blob := client.NewMemoryStorage()
	// The asynq client is lazy; these tests never enqueue.
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15})
	t.Cleanup(func() { asynqClient.Close() })

	jobs := service.NewJobService(st, blob, asynqClient, zap.NewNop().Sugar())
	return NewAssembler(jobs, zap.NewNop().Sugar()), st
}

func chunkFrame(index uint32, payload []byte) []byte {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], index)
	copy(frame[4:], payload)
	return frame
}

func TestAssemblerChunkBeforeInit(t *testing.T) {
	asm, _ := newTestAssembler(t)

	_, _, err := asm.HandleChunk(context.Background(), chunkFrame(0, []byte("data")))
	require.ErrorIs(t, err, ErrNoSession)
}

func TestAssemblerInitCreatesUploadingJob(t *testing.T) {
	asm, st := newTestAssembler(t)
	defer asm.Abort()

	job, err := asm.HandleInit(context.Background(), model.InitFrame{
		Kind:        model.FrameKindInit,
		TotalChunks: 2,
		TotalSize:   8,
		Name:        "wedding shoot",
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusUploading, job.Status)
	require.NotNil(t, job.Name)
	assert.Equal(t, "wedding shoot", *job.Name)

	stored, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ArchivePath, "scratch path is recorded for recovery")
}

func TestAssemblerRejectsInvalidInit(t *testing.T) {
	asm, _ := newTestAssembler(t)

	_, err := asm.HandleInit(context.Background(), model.InitFrame{Kind: model.FrameKindInit})
	require.Error(t, err)

	_, err = asm.HandleInit(context.Background(), model.InitFrame{
		Kind: model.FrameKindInit, TotalChunks: 1, TotalSize: -5,
	})
	require.Error(t, err)
}

func TestAssemblerAppendsChunksInArrivalOrder(t *testing.T) {
	asm, st := newTestAssembler(t)
	ctx := context.Background()

	job, err := asm.HandleInit(ctx, model.InitFrame{Kind: model.FrameKindInit, TotalChunks: 3, TotalSize: 9})
	require.NoError(t, err)

	for i, part := range [][]byte{[]byte("aaa"), []byte("bbb"), []byte("ccc")} {
		ack, complete, err := asm.HandleChunk(ctx, chunkFrame(uint32(i), part))
		require.NoError(t, err)
		assert.Equal(t, uint32(i), ack.ChunkIndex)
		assert.Equal(t, i+1, ack.Received)
		assert.Equal(t, 3, ack.Total)
		assert.Equal(t, i == 2, complete)
	}

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ArchivePath)
	data, err := os.ReadFile(*stored.ArchivePath)
	require.NoError(t, err)
	assert.Equal(t, "aaabbbccc", string(data))
	os.Remove(*stored.ArchivePath)
}

func TestAssemblerShortBinaryFrame(t *testing.T) {
	asm, _ := newTestAssembler(t)
	defer asm.Abort()

	_, err := asm.HandleInit(context.Background(), model.InitFrame{Kind: model.FrameKindInit, TotalChunks: 1, TotalSize: 4})
	require.NoError(t, err)

	_, _, err = asm.HandleChunk(context.Background(), []byte{0, 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
}

func TestAssemblerBindsPreallocatedJob(t *testing.T) {
	asm, st := newTestAssembler(t)
	defer asm.Abort()
	ctx := context.Background()

	blob := client.NewMemoryStorage()
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15})
	t.Cleanup(func() { asynqClient.Close() })
	jobs := service.NewJobService(st, blob, asynqClient, zap.NewNop().Sugar())

	pre, err := jobs.CreateJob(ctx, "")
	require.NoError(t, err)

	job, err := asm.HandleInit(ctx, model.InitFrame{
		Kind: model.FrameKindInit, TotalChunks: 1, TotalSize: 4, JobID: pre.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, pre.ID, job.ID)
}

func TestAssemblerRejectsNonUploadingJob(t *testing.T) {
	asm, st := newTestAssembler(t)
	ctx := context.Background()

	blob := client.NewMemoryStorage()
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15})
	t.Cleanup(func() { asynqClient.Close() })
	jobs := service.NewJobService(st, blob, asynqClient, zap.NewNop().Sugar())

	pre, err := jobs.CreateJob(ctx, "")
	require.NoError(t, err)
	require.NoError(t, st.SetJobStatus(ctx, pre.ID, model.JobStatusLabeling))

	_, err = asm.HandleInit(ctx, model.InitFrame{
		Kind: model.FrameKindInit, TotalChunks: 1, TotalSize: 4, JobID: pre.ID.String(),
	})
	require.Error(t, err)
}
