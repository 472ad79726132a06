package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/presence"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// HandleConnect подключает клиента к уровню и собирает начальное
// состояние: сиды, позицию спауна, кастомные блоки чанков стартовой
// зоны, список игроков и счётчик уровня.
//
// Если имя уже активно в этом уровне, клиент получает режим viewer:
// операции записи отключаются на его стороне, имя остаётся за первым
// подключением.
func (gs *GameServer) HandleConnect(ctx context.Context, req *protocol.ConnectRequest) (*protocol.ConnectResponse, error) {
	username := req.Username
	if username == "" {
		username = "guest-" + uuid.NewString()[:8]
	}

	mode := protocol.ModePlayer
	if active, ok := gs.registry.Get(username); ok {
		// Имя уже занято — хоть на этом уровне, хоть на другом.
		// Запись в реестре остаётся за первым подключением.
		mode = protocol.ModeViewer
		if active.Level == req.Level {
			logging.Info("🔄 Имя %s уже активно в %s, клиент подключается наблюдателем", username, req.Level)
		} else {
			logging.Info("🔄 Имя %s уже активно в %s, подключение к %s в режиме наблюдателя",
				username, active.Level, req.Level)
		}
	}

	seeds, err := gs.levelSeeds(ctx, req.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to load terrain seeds: %w", err)
	}

	spawn, err := gs.PickSpawn(ctx, req.Level, username, seeds)
	if err != nil {
		return nil, err
	}

	initialChunks, err := gs.initialChunks(ctx, req.Level, spawn)
	if err != nil {
		return nil, err
	}

	resp := &protocol.ConnectResponse{
		Mode:          mode,
		Username:      username,
		Level:         req.Level,
		TerrainSeeds:  seeds,
		SpawnPosition: spawn,
		InitialChunks: initialChunks,
	}

	if mode == protocol.ModePlayer {
		data, err := gs.store.EnsurePlayer(ctx, req.Level, username)
		if err != nil {
			return nil, fmt.Errorf("failed to ensure player record: %w", err)
		}
		resp.PlayerData = data

		pos := vec.Vec3Float{X: float64(spawn.X), Y: float64(spawn.Y), Z: float64(spawn.Z)}
		if !gs.registry.Add(username, req.Level, mode, pos, vec.Rotation{}) {
			// Гонка двух одновременных подключений: имя успели занять
			// на другом уровне между проверкой и регистрацией
			mode = protocol.ModeViewer
			resp.Mode = mode
			logging.Warn("⚠️ Имя %s занято на другом уровне, %s получает режим наблюдателя", username, req.Level)
		}
	}

	for _, entry := range gs.registry.ByLevel(req.Level) {
		if entry.Username == username {
			continue
		}
		resp.Players = append(resp.Players, protocol.PlayerState{
			Username: entry.Username,
			Position: entry.Position,
			Rotation: entry.Rotation,
		})
	}
	resp.PlayerCount = gs.registry.CountByLevel(req.Level)

	gs.metrics.Connects.WithLabelValues(string(mode)).Inc()
	logging.Info("✅ %s подключился к %s (%s), спаун %s, чанков в ответе: %d",
		username, req.Level, mode, spawn.Key(), len(initialChunks))
	return resp, nil
}

// HandleDisconnect снимает игрока с учёта: сохраняет последнюю позицию,
// удаляет запись присутствия и рассылает player-disconnected.
func (gs *GameServer) HandleDisconnect(ctx context.Context, req *protocol.DisconnectRequest, broadcaster *presence.Broadcaster) *protocol.OkResponse {
	entry, ok := gs.registry.Remove(req.Username)
	if !ok {
		return &protocol.OkResponse{Ok: true}
	}

	if err := gs.store.SaveLastPosition(ctx, req.Level, req.Username, entry.Position.ToVec3()); err != nil {
		logging.Warn("⚠️ Не удалось сохранить последнюю позицию %s: %v", req.Username, err)
	}
	if broadcaster != nil {
		broadcaster.AnnounceDisconnect(ctx, entry)
	}
	logging.Info("🔄 %s отключился от %s", req.Username, req.Level)
	return &protocol.OkResponse{Ok: true}
}

// initialChunks загружает кастомные блоки всех чанков стартового
// квадрата draw-distance вокруг спауна, по одному обращению на чанк
// (через кеш), и подписывает инвалидатор на стартовый регион.
func (gs *GameServer) initialChunks(ctx context.Context, level string, spawn vec.Vec3) ([]world.ChunkState, error) {
	center := spatial.ChunkOf(spawn.X, spawn.Z)
	dd := gs.cfg.World.GetDrawDistance()

	region := spatial.RegionOf(center.X, center.Z)
	gs.watchRegion(ctx, level, spatial.RegionTopic(level, region.X, region.Z))

	var chunks []world.ChunkState
	for cx := center.X - dd; cx <= center.X+dd; cx++ {
		for cz := center.Z - dd; cz <= center.Z+dd; cz++ {
			blocks, err := gs.loadChunkBlocks(ctx, level, cx, cz)
			if err != nil {
				return nil, fmt.Errorf("failed to load chunk %d:%d: %w", cx, cz, err)
			}
			chunks = append(chunks, world.ChunkState{ChunkX: cx, ChunkZ: cz, Blocks: blocks})
		}
	}
	return chunks, nil
}

// loadChunkBlocks читает блоки чанка через кеш.
func (gs *GameServer) loadChunkBlocks(ctx context.Context, level string, chunkX, chunkZ int) ([]world.Block, error) {
	key := spatial.ChunkHashKey(level, chunkX, chunkZ)
	if blocks, ok := gs.chunks.Get(ctx, key); ok {
		return blocks, nil
	}
	blocks, err := gs.store.ChunkBlocks(ctx, level, chunkX, chunkZ)
	if err != nil {
		return nil, err
	}
	gs.chunks.Set(ctx, key, blocks)
	return blocks, nil
}
