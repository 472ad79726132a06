package client

import (
	"context"
	"encoding/json"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/world"
)

// handleIncoming — общий обработчик событий региональных топиков и
// топика уровня, зарегистрированный в topic-реестре.
func (sm *SyncManager) handleIncoming(ctx context.Context, topic string, data []byte) {
	event, err := protocol.DecodeEvent(data)
	if err != nil {
		logging.Warn("⚠️ Не удалось разобрать событие из %s: %v", topic, err)
		return
	}

	if event.Type == protocol.EventBlockModify {
		var modify protocol.BlockModifyEvent
		if err := json.Unmarshal(event.Data, &modify); err != nil {
			logging.Warn("⚠️ Не удалось разобрать block-modify: %v", err)
			return
		}
		sm.applyIncomingModify(&modify)
	}

	if sm.OnEvent != nil {
		sm.OnEvent(topic, event)
	}
}

// applyIncomingModify применяет чужую правку к локальному состоянию.
//
// Свои правки пропускаются: они уже применены оптимистично, повторное
// применение сдвинуло бы метку времени. Коллизия с локальной записью
// своего авторства решается по LWW: входящая правка побеждает, если
// max(serverTs, clientTs) не меньше локальной метки. Проигравшая
// входящая правка молча отбрасывается.
func (sm *SyncManager) applyIncomingModify(modify *protocol.BlockModifyEvent) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if modify.Username == sm.username {
		return
	}

	incoming := world.Block{
		X:         modify.Position.X,
		Y:         modify.Position.Y,
		Z:         modify.Position.Z,
		Username:  modify.Username,
		Timestamp: modify.ServerTimestamp,
	}
	if modify.Action == world.ActionPlace {
		incoming.Type = modify.BlockType
		incoming.Placed = true
	}

	if local := sm.localBlockLocked(modify); local != nil && local.Username == sm.username {
		if !world.IncomingWins(modify.ServerTimestamp, modify.ClientTimestamp, local.Timestamp) {
			logging.Debug("Конфликт в %s: локальная правка новее, входящая отброшена",
				modify.Position.Key())
			return
		}
		logging.Debug("Конфликт в %s: входящая правка от %s побеждает",
			modify.Position.Key(), modify.Username)
	}

	sm.upsertBlockLocked(&incoming)
}

// localBlockLocked находит локальную запись по позиции входящей правки.
// Вызывается под sm.mu.
func (sm *SyncManager) localBlockLocked(modify *protocol.BlockModifyEvent) *world.Block {
	chunk := spatial.ChunkOf(modify.Position.X, modify.Position.Z)
	blocks, ok := sm.loaded[chunk.Key()]
	if !ok {
		return nil
	}
	for i := range blocks {
		if blocks[i].X == modify.Position.X &&
			blocks[i].Y == modify.Position.Y &&
			blocks[i].Z == modify.Position.Z {
			return &blocks[i]
		}
	}
	return nil
}
