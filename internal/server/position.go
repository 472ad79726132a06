package server

import (
	"context"

	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
)

// HandlePosition обновляет позицию игрока в реестре присутствия.
// Рассылку по региональным топикам делает Broadcaster по таймеру,
// здесь только фиксируется состояние и следится стартовый регион.
func (gs *GameServer) HandlePosition(ctx context.Context, req *protocol.PositionRequest) *protocol.OkResponse {
	if entry, ok := gs.registry.Get(req.Username); ok && entry.Level != req.Level {
		// Имя активно на другом уровне: позиция наблюдателя не должна
		// двигать чужую запись
		return &protocol.OkResponse{Ok: false}
	}
	if !gs.registry.Update(req.Username, req.Position, req.Rotation) {
		// Игрок, отсутствующий в реестре, мог протухнуть по таймауту:
		// позиция с живого клиента возвращает его в учёт
		gs.registry.Add(req.Username, req.Level, protocol.ModePlayer, req.Position, req.Rotation)
	}

	block := req.Position.ToVec3()
	chunk := spatial.ChunkOf(block.X, block.Z)
	region := spatial.RegionOf(chunk.X, chunk.Z)
	gs.watchRegion(ctx, req.Level, spatial.RegionTopic(req.Level, region.X, region.Z))

	return &protocol.OkResponse{Ok: true}
}
