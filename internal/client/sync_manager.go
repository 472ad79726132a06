package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

const (
	// DebounceInterval — пауза перед отправкой буфера правок.
	DebounceInterval = 1000 * time.Millisecond
	// MaxBatchSize — размер буфера, при котором отправка происходит сразу.
	MaxBatchSize = 100
)

// SyncManager держит клиентскую сторону синхронизации мира: кеш
// загруженных чанков, региональные подписки, буфер исходящих правок
// и durable-очередь на случай обрыва связи.
type SyncManager struct {
	transport    Transport
	bus          eventbus.PubSub
	topics       *eventbus.TopicRegistry
	queue        *OfflineQueue
	drawDistance int

	username string
	level    string
	mode     protocol.Mode

	mu           sync.Mutex
	loaded       map[string][]world.Block // ключ чанка -> кастомные блоки
	loadedCoords map[string]vec.Vec2      // ключ чанка -> координаты
	pending      map[string]bool          // чанки с запросом в полёте
	subs         map[string]eventbus.Subscription
	buffer       []world.Modification
	debounce     *time.Timer

	// OnEvent вызывается для каждого входящего события региона/уровня
	// после применения к локальному состоянию (рендер, UI).
	OnEvent func(topic string, event *protocol.Event)
}

// NewSyncManager создаёт менеджер синхронизации.
// queue может быть nil: тогда обрыв связи при отправке теряет правки
// (режим наблюдателя или эфемерный клиент).
func NewSyncManager(transport Transport, bus eventbus.PubSub, queue *OfflineQueue, drawDistance int) *SyncManager {
	return &SyncManager{
		transport:    transport,
		bus:          bus,
		topics:       eventbus.NewTopicRegistry(),
		queue:        queue,
		drawDistance: drawDistance,
		loaded:       make(map[string][]world.Block),
		loadedCoords: make(map[string]vec.Vec2),
		pending:      make(map[string]bool),
		subs:         make(map[string]eventbus.Subscription),
	}
}

// Connect подключается к уровню, применяет начальное состояние,
// подписывается на регионы вокруг спауна и проигрывает накопленную
// offline-очередь.
func (sm *SyncManager) Connect(ctx context.Context, level, username string) (*protocol.ConnectResponse, error) {
	resp, err := sm.transport.Connect(ctx, &protocol.ConnectRequest{Level: level, Username: username})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	sm.mu.Lock()
	sm.username = resp.Username
	sm.level = resp.Level
	sm.mode = resp.Mode
	for _, chunk := range resp.InitialChunks {
		key := vec.Vec2{X: chunk.ChunkX, Z: chunk.ChunkZ}.Key()
		sm.loaded[key] = chunk.Blocks
		sm.loadedCoords[key] = vec.Vec2{X: chunk.ChunkX, Z: chunk.ChunkZ}
	}
	sm.mu.Unlock()

	spawnChunk := spatial.ChunkOf(resp.SpawnPosition.X, resp.SpawnPosition.Z)
	if err := sm.UpdateSubscriptions(ctx, spawnChunk.X, spawnChunk.Z); err != nil {
		logging.Warn("⚠️ Не удалось оформить стартовые подписки: %v", err)
	}

	if resp.Mode == protocol.ModePlayer {
		if err := sm.SyncOfflineModifications(ctx); err != nil {
			logging.Warn("⚠️ Проигрывание offline-очереди не удалось: %v", err)
		}
	}

	logging.Info("✅ Подключение к %s как %s (%s), стартовых чанков: %d",
		resp.Level, resp.Username, resp.Mode, len(resp.InitialChunks))
	return resp, nil
}

// Disconnect синхронно отправляет незаконченный буфер правок, снимает
// региональные подписки и уведомляет сервер. Гарантия чистого выхода:
// ни одна правка в полёте не теряется молча.
func (sm *SyncManager) Disconnect(ctx context.Context) error {
	sm.mu.Lock()
	if sm.debounce != nil {
		sm.debounce.Stop()
		sm.debounce = nil
	}
	sm.mu.Unlock()

	sm.FlushBatch(ctx)

	sm.mu.Lock()
	for topic, sub := range sm.subs {
		if err := sub.Unsubscribe(); err != nil {
			logging.Warn("⚠️ Ошибка отписки от %s: %v", topic, err)
		}
		delete(sm.subs, topic)
		sm.topics.Unregister(topic)
	}
	username, level := sm.username, sm.level
	sm.mu.Unlock()

	if username == "" {
		return nil
	}
	if err := sm.transport.Disconnect(ctx, &protocol.DisconnectRequest{Username: username, Level: level}); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	logging.Info("🔄 Отключение от %s завершено", level)
	return nil
}

// SendPosition отправляет позицию игрока и обновляет подписки и
// загруженные чанки вокруг новой позиции.
func (sm *SyncManager) SendPosition(ctx context.Context, pos vec.Vec3Float, rot vec.Rotation) error {
	sm.mu.Lock()
	username, level, mode := sm.username, sm.level, sm.mode
	sm.mu.Unlock()

	if mode == protocol.ModeViewer {
		return nil
	}
	if err := sm.transport.SendPosition(ctx, &protocol.PositionRequest{
		Username: username, Level: level, Position: pos, Rotation: rot,
	}); err != nil {
		return err
	}

	block := pos.ToVec3()
	chunk := spatial.ChunkOf(block.X, block.Z)
	if err := sm.UpdateSubscriptions(ctx, chunk.X, chunk.Z); err != nil {
		return err
	}
	sm.UnloadDistant(block.X, block.Z)
	return sm.fetchMissing(ctx, chunk.X, chunk.Z)
}

// fetchMissing дозапрашивает недостающие чанки вокруг чанка игрока.
func (sm *SyncManager) fetchMissing(ctx context.Context, playerChunkX, playerChunkZ int) error {
	missing := sm.MissingChunks(sm.RequiredChunks(playerChunkX, playerChunkZ))
	if len(missing) == 0 {
		return nil
	}

	refs := make([]protocol.ChunkRef, len(missing))
	sm.mu.Lock()
	for i, chunk := range missing {
		refs[i] = protocol.ChunkRef{ChunkX: chunk.X, ChunkZ: chunk.Z}
		sm.pending[chunk.Key()] = true
	}
	username, level := sm.username, sm.level
	sm.mu.Unlock()

	resp, err := sm.transport.RequestChunks(ctx, &protocol.ChunksRequest{
		Username: username, Level: level, Chunks: refs,
	})

	sm.mu.Lock()
	for _, chunk := range missing {
		delete(sm.pending, chunk.Key())
	}
	if err == nil {
		for _, state := range resp.Chunks {
			coords := vec.Vec2{X: state.ChunkX, Z: state.ChunkZ}
			sm.loaded[coords.Key()] = state.Blocks
			sm.loadedCoords[coords.Key()] = coords
		}
	}
	sm.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to fetch %d chunks: %w", len(missing), err)
	}
	return nil
}

// LoadedChunk возвращает блоки загруженного чанка.
func (sm *SyncManager) LoadedChunk(chunkX, chunkZ int) ([]world.Block, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	blocks, ok := sm.loaded[vec.Vec2{X: chunkX, Z: chunkZ}.Key()]
	if !ok {
		return nil, false
	}
	return append([]world.Block(nil), blocks...), true
}

// LoadedCount возвращает число загруженных чанков.
func (sm *SyncManager) LoadedCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.loaded)
}

// Username возвращает имя, под которым клиент подключён.
func (sm *SyncManager) Username() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.username
}

// OfflineQueue возвращает durable-очередь клиента (может быть nil).
func (sm *SyncManager) OfflineQueue() *OfflineQueue {
	return sm.queue
}
