package client

import (
	"context"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/spatial"
)

// UpdateSubscriptions сверяет текущие региональные подписки с регионами,
// покрывающими требуемые чанки: лишние снимаются, недостающие
// оформляются. Идемпотентна при частых повторных вызовах (игрок ходит
// туда-сюда через границу региона): ни дублей подписок, ни утечек.
func (sm *SyncManager) UpdateSubscriptions(ctx context.Context, playerChunkX, playerChunkZ int) error {
	required := make(map[string]bool)

	sm.mu.Lock()
	level := sm.level
	sm.mu.Unlock()

	for _, region := range sm.RequiredRegions(playerChunkX, playerChunkZ) {
		required[spatial.RegionTopic(level, region.X, region.Z)] = true
	}
	// Топик уровня нужен всегда: дружба и счётчик игроков не региональны
	required[spatial.LevelTopic(level)] = true

	sm.mu.Lock()
	var stale []string
	for topic := range sm.subs {
		if !required[topic] {
			stale = append(stale, topic)
		}
	}
	var fresh []string
	for topic := range required {
		if _, ok := sm.subs[topic]; !ok {
			fresh = append(fresh, topic)
		}
	}
	sm.mu.Unlock()

	for _, topic := range stale {
		sm.mu.Lock()
		sub, ok := sm.subs[topic]
		delete(sm.subs, topic)
		sm.mu.Unlock()
		if !ok {
			continue
		}
		sm.topics.Unregister(topic)
		if err := sub.Unsubscribe(); err != nil {
			logging.Warn("⚠️ Ошибка отписки от %s: %v", topic, err)
		}
	}

	var firstErr error
	for _, topic := range fresh {
		sm.topics.Register(topic, sm.handleIncoming)
		sub, err := sm.bus.Subscribe(ctx, topic, func(ctx context.Context, topic string, data []byte) {
			sm.topics.Dispatch(ctx, topic, data)
		})
		if err != nil {
			sm.topics.Unregister(topic)
			if firstErr == nil {
				firstErr = err
			}
			logging.Error("❌ Не удалось подписаться на %s: %v", topic, err)
			continue
		}
		sm.mu.Lock()
		if _, dup := sm.subs[topic]; dup {
			// Гонка повторного вызова: вторая подписка лишняя
			sm.mu.Unlock()
			_ = sub.Unsubscribe()
			continue
		}
		sm.subs[topic] = sub
		sm.mu.Unlock()
	}
	return firstErr
}

// SubscribedTopics возвращает текущие топики подписок (для тестов и
// отладочного вывода).
func (sm *SyncManager) SubscribedTopics() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	topics := make([]string, 0, len(sm.subs))
	for topic := range sm.subs {
		topics = append(topics, topic)
	}
	return topics
}
