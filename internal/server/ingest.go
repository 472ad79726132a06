package server

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/world"
)

const (
	// MaxBatchSize — предел размера пакета правок.
	MaxBatchSize = 100

	persistAttempts     = 3
	persistInitialDelay = 100 * time.Millisecond
)

// HandleModifications обрабатывает пакет правок блоков.
//
// Обработка строго последовательна: на первой невалидной записи цикл
// останавливается и возвращает её индекс; записи после неё не
// валидируются, не рассылаются и не сохраняются. Каждая валидная правка
// сразу публикуется в региональный топик (до персистентности, ради
// минимальной задержки рассылки), а запись в хранилище выполняется одним
// пакетом после цикла.
func (gs *GameServer) HandleModifications(ctx context.Context, req *protocol.ModificationsRequest) *protocol.ModificationsResponse {
	if len(req.Modifications) > MaxBatchSize {
		// failedAt=0: ни одна правка не принята, клиент переотправляет
		// весь пакет кусками допустимого размера
		failedAt := 0
		gs.metrics.Batches.WithLabelValues("oversized").Inc()
		return &protocol.ModificationsResponse{
			Ok:       false,
			FailedAt: &failedAt,
			Message:  fmt.Sprintf("пакет превышает предел %d правок", MaxBatchSize),
		}
	}
	if gs.registry != nil {
		gs.registry.Touch(req.Username)
	}

	maxCoord := gs.cfg.World.GetMaxCoordinate()
	accepted := make([]world.Block, 0, len(req.Modifications))

	for i := range req.Modifications {
		mod := &req.Modifications[i]
		if !world.ValidateModification(mod, maxCoord) {
			failedAt := i
			gs.metrics.ModificationsRejected.Inc()
			gs.metrics.Batches.WithLabelValues("partial").Inc()
			logging.Warn("⚠️ Правка %d от %s отклонена: координаты вне границ %+v",
				i, req.Username, mod.Position)
			gs.persistAsync(req.Level, accepted)
			return &protocol.ModificationsResponse{
				Ok:       false,
				FailedAt: &failedAt,
				Message:  fmt.Sprintf("правка %d вне границ мира", i),
			}
		}

		block := blockFromModification(mod, req.Username, time.Now().UnixMilli())
		gs.broadcastModify(ctx, req.Level, mod, &block)

		chunk := spatial.ChunkOf(block.X, block.Z)
		gs.chunks.Invalidate(spatial.ChunkHashKey(req.Level, chunk.X, chunk.Z))

		accepted = append(accepted, block)
		gs.metrics.ModificationsAccepted.Inc()
	}

	gs.persistAsync(req.Level, accepted)
	gs.metrics.Batches.WithLabelValues("ok").Inc()
	return &protocol.ModificationsResponse{Ok: true}
}

// blockFromModification строит авторитетную запись блока. Удаление —
// tombstone (placed=false, type=nil), никогда не физическое удаление:
// опоздавшие broadcast'ы должны иметь метку времени для сравнения.
func blockFromModification(mod *world.Modification, username string, serverTs int64) world.Block {
	block := world.Block{
		X:         mod.Position.X,
		Y:         mod.Position.Y,
		Z:         mod.Position.Z,
		Username:  username,
		Timestamp: serverTs,
	}
	if mod.Action == world.ActionPlace {
		block.Type = mod.BlockType
		block.Placed = true
	}
	return block
}

// broadcastModify публикует принятую правку в региональный топик её позиции.
func (gs *GameServer) broadcastModify(ctx context.Context, level string, mod *world.Modification, block *world.Block) {
	region := spatial.RegionOfBlock(mod.Position)
	topic := spatial.RegionTopic(level, region.X, region.Z)

	data, err := protocol.EncodeEvent(protocol.EventBlockModify, protocol.BlockModifyEvent{
		Position:        mod.Position,
		BlockType:       mod.BlockType,
		Action:          mod.Action,
		Username:        block.Username,
		ClientTimestamp: mod.ClientTimestamp,
		ServerTimestamp: block.Timestamp,
	})
	if err != nil {
		logging.Error("❌ Ошибка кодирования block-modify: %v", err)
		return
	}
	if err := gs.bus.Publish(ctx, topic, data); err != nil {
		logging.Error("❌ Ошибка публикации block-modify в %s: %v", topic, err)
	}
}

// persistAsync пишет принятые блоки в хранилище в фоне с экспоненциальным
// backoff. Рассылка уже ушла, поэтому исчерпание повторов — критическая,
// но не фатальная ошибка: живые клиенты сошлись, отстаёт только диск.
func (gs *GameServer) persistAsync(level string, blocks []world.Block) {
	if len(blocks) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		delay := persistInitialDelay
		var lastErr error
		for attempt := 1; attempt <= persistAttempts; attempt++ {
			if lastErr = gs.store.SetBlocks(ctx, level, blocks); lastErr == nil {
				// Чтение между рассылкой и записью могло закешировать
				// доперсистентное состояние чанка — сбрасываем ещё раз.
				gs.invalidateChunks(level, blocks)
				if attempt > 1 {
					logging.Info("✅ Пакет из %d блоков записан с попытки %d", len(blocks), attempt)
				}
				return
			}
			if attempt < persistAttempts {
				gs.metrics.PersistRetries.Inc()
				logging.Warn("⚠️ Ошибка записи пакета (попытка %d/%d): %v, повтор через %v",
					attempt, persistAttempts, lastErr, delay)
				time.Sleep(delay)
				delay *= 2
			}
		}
		gs.metrics.PersistFailures.Inc()
		logging.Error("❌ КРИТИЧНО: пакет из %d блоков уровня %s не записан после %d попыток: %v",
			len(blocks), level, persistAttempts, lastErr)
	}()
}

// invalidateChunks сбрасывает кеш всех чанков, затронутых пакетом блоков.
func (gs *GameServer) invalidateChunks(level string, blocks []world.Block) {
	seen := make(map[string]bool)
	for i := range blocks {
		chunk := spatial.ChunkOf(blocks[i].X, blocks[i].Z)
		key := spatial.ChunkHashKey(level, chunk.X, chunk.Z)
		if seen[key] {
			continue
		}
		seen[key] = true
		gs.chunks.Invalidate(key)
	}
}
