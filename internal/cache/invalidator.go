package cache

import (
	"context"
	"encoding/json"

	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
)

// Invalidator слушает события block-modify на шине и сбрасывает
// соответствующие чанки из кеша. Уровень фиксируется при создании:
// региональные топики не содержат уровня в полезной нагрузке.
type Invalidator struct {
	cache *ChunkCache
	level string
	subs  []eventbus.Subscription
	bus   eventbus.PubSub
}

// NewInvalidator создаёт инвалидатор кеша для одного уровня.
func NewInvalidator(cache *ChunkCache, bus eventbus.PubSub, level string) *Invalidator {
	return &Invalidator{
		cache: cache,
		level: level,
		bus:   bus,
	}
}

// Watch подписывает инвалидатор на региональный топик. Повторные вызовы
// для одного и того же топика безопасны для корректности (лишняя
// инвалидация — не ошибка), но подписки не дедуплицируются.
func (inv *Invalidator) Watch(ctx context.Context, topic string) error {
	sub, err := inv.bus.Subscribe(ctx, topic, inv.handle)
	if err != nil {
		return err
	}
	inv.subs = append(inv.subs, sub)
	return nil
}

func (inv *Invalidator) handle(ctx context.Context, topic string, data []byte) {
	event, err := protocol.DecodeEvent(data)
	if err != nil || event.Type != protocol.EventBlockModify {
		return
	}

	var modify protocol.BlockModifyEvent
	if err := json.Unmarshal(event.Data, &modify); err != nil {
		logging.Warn("⚠️ Инвалидатор: не удалось разобрать block-modify: %v", err)
		return
	}

	chunk := spatial.ChunkOf(modify.Position.X, modify.Position.Z)
	inv.cache.Invalidate(spatial.ChunkHashKey(inv.level, chunk.X, chunk.Z))
}

// Close снимает все подписки инвалидатора.
func (inv *Invalidator) Close() {
	for _, sub := range inv.subs {
		if err := sub.Unsubscribe(); err != nil {
			logging.Warn("⚠️ Инвалидатор: ошибка отписки: %v", err)
		}
	}
	inv.subs = nil
}
