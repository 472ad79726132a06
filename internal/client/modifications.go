package client

import (
	"context"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// AddModification добавляет правку в буфер с клиентской меткой времени
// и применяет её оптимистично к локальному состоянию. Полный буфер
// (MaxBatchSize) отправляется сразу; иначе debounce-таймер
// перезапускается: пачка кликов сливается в один сетевой запрос.
// Таймер cancel-and-reschedule — в любой момент существует не более
// одного отложенного flush.
func (sm *SyncManager) AddModification(pos vec.Vec3, blockType *string, action world.Action) {
	mod := world.Modification{
		Position:        pos,
		BlockType:       blockType,
		Action:          action,
		ClientTimestamp: time.Now().UnixMilli(),
	}

	sm.mu.Lock()
	if sm.mode == protocol.ModeViewer {
		sm.mu.Unlock()
		return
	}
	sm.applyLocalLocked(&mod)
	sm.buffer = append(sm.buffer, mod)
	full := len(sm.buffer) >= MaxBatchSize
	if sm.debounce != nil {
		sm.debounce.Stop()
		sm.debounce = nil
	}
	if !full {
		sm.debounce = time.AfterFunc(DebounceInterval, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			sm.FlushBatch(ctx)
		})
	}
	sm.mu.Unlock()

	if full {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		sm.FlushBatch(ctx)
	}
}

// applyLocalLocked пишет оптимистичную правку в кеш загруженного чанка.
// Вызывается под sm.mu.
func (sm *SyncManager) applyLocalLocked(mod *world.Modification) {
	block := world.Block{
		X:         mod.Position.X,
		Y:         mod.Position.Y,
		Z:         mod.Position.Z,
		Username:  sm.username,
		Timestamp: mod.ClientTimestamp,
	}
	if mod.Action == world.ActionPlace {
		block.Type = mod.BlockType
		block.Placed = true
	}
	sm.upsertBlockLocked(&block)
}

// upsertBlockLocked заменяет запись блока в кеше чанка (или добавляет).
func (sm *SyncManager) upsertBlockLocked(block *world.Block) {
	chunk := chunkOfBlock(block)
	key := chunk.Key()
	if _, loaded := sm.loaded[key]; !loaded {
		return // чанк не загружен, применять некуда
	}
	blocks := sm.loaded[key]
	for i := range blocks {
		if blocks[i].X == block.X && blocks[i].Y == block.Y && blocks[i].Z == block.Z {
			blocks[i] = *block
			return
		}
	}
	sm.loaded[key] = append(blocks, *block)
}

// FlushBatch атомарно забирает буфер и отправляет его одним запросом.
// При сетевой ошибке буфер уходит в durable-очередь: данные не
// теряются, их отправит SyncOfflineModifications после переподключения.
func (sm *SyncManager) FlushBatch(ctx context.Context) {
	sm.mu.Lock()
	if sm.debounce != nil {
		sm.debounce.Stop()
		sm.debounce = nil
	}
	batch := sm.buffer
	sm.buffer = nil
	username, level := sm.username, sm.level
	sm.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	resp, err := sm.transport.SendModifications(ctx, &protocol.ModificationsRequest{
		Username: username, Level: level, Modifications: batch,
	})
	if err != nil {
		logging.Warn("⚠️ Отправка %d правок не удалась, буфер уходит в offline-очередь: %v", len(batch), err)
		if sm.queue != nil {
			if qErr := sm.queue.Append(level, batch); qErr != nil {
				logging.Error("❌ Не удалось сохранить правки в offline-очередь: %v", qErr)
			}
		}
		return
	}

	if resp.FailedAt != nil {
		// Политика повторной синхронизации затронутых позиций остаётся
		// за вызывающим кодом; здесь только наблюдаемость
		logging.Warn("⚠️ Сервер отклонил правку %d из %d: %s", *resp.FailedAt, len(batch), resp.Message)
	}
}

// SyncOfflineModifications проигрывает durable-очередь пакетами не
// больше MaxBatchSize. Processed-индекс продвигается только на
// подтверждённые сервером записи: полный успех пакета — на весь пакет,
// частичный отказ — до отклонённой записи, после чего проигрывание
// останавливается и суффикс остаётся на следующую попытку. Отказ без
// failedAt ничего не подтверждает, очередь не трогается.
func (sm *SyncManager) SyncOfflineModifications(ctx context.Context) error {
	if sm.queue == nil {
		return nil
	}
	sm.mu.Lock()
	username, level := sm.username, sm.level
	sm.mu.Unlock()

	pending, err := sm.queue.Pending(level)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	replayed := 0
	for offset := 0; offset < len(pending); offset += MaxBatchSize {
		end := offset + MaxBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[offset:end]

		resp, err := sm.transport.SendModifications(ctx, &protocol.ModificationsRequest{
			Username: username, Level: level, Modifications: chunk,
		})
		if err != nil {
			return err
		}

		if resp.Ok {
			if err := sm.queue.Advance(level, len(chunk)); err != nil {
				return err
			}
			replayed += len(chunk)
			continue
		}

		if resp.FailedAt != nil {
			if err := sm.queue.Advance(level, *resp.FailedAt); err != nil {
				return err
			}
			logging.Warn("⚠️ Offline-очередь проиграна частично: отклонена правка %d, в очереди осталось %d",
				replayed+*resp.FailedAt, len(pending)-replayed-*resp.FailedAt)
			return nil
		}

		logging.Warn("⚠️ Сервер отклонил пакет offline-очереди без индекса правки, очередь сохранена: %s", resp.Message)
		return nil
	}

	logging.Info("✅ Offline-очередь из %d правок проиграна", replayed)
	return nil
}

// PendingBuffer возвращает число правок в неотправленном буфере.
func (sm *SyncManager) PendingBuffer() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.buffer)
}

func chunkOfBlock(block *world.Block) vec.Vec2 {
	return spatial.ChunkOf(block.X, block.Z)
}
