package server

import (
	"context"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/world"
)

// HandleChunks возвращает кастомные блоки запрошенных чанков.
// Чанки за пределами мира молча отфильтровываются, а не возвращают
// ошибку: клиент у границы не должен получать отказ на весь запрос.
func (gs *GameServer) HandleChunks(ctx context.Context, req *protocol.ChunksRequest) (*protocol.ChunksResponse, error) {
	requestTs := time.Now().UnixMilli()
	if req.Username != "" {
		gs.registry.Touch(req.Username)
	}

	maxChunk := gs.cfg.World.GetMaxCoordinate() / spatial.ChunkSize

	chunks := make([]world.ChunkState, 0, len(req.Chunks))
	for _, ref := range req.Chunks {
		if ref.ChunkX > maxChunk || ref.ChunkX < -maxChunk ||
			ref.ChunkZ > maxChunk || ref.ChunkZ < -maxChunk {
			logging.Debug("Чанк %d:%d вне границ мира, отфильтрован", ref.ChunkX, ref.ChunkZ)
			continue
		}
		blocks, err := gs.loadChunkBlocks(ctx, req.Level, ref.ChunkX, ref.ChunkZ)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, world.ChunkState{ChunkX: ref.ChunkX, ChunkZ: ref.ChunkZ, Blocks: blocks})
	}

	return &protocol.ChunksResponse{
		Chunks:            chunks,
		RequestTimestamp:  requestTs,
		ResponseTimestamp: time.Now().UnixMilli(),
	}, nil
}
