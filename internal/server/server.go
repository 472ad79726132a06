// Package server реализует серверную часть движка синхронизации:
// подключение и начальное состояние, конвейер приёма правок,
// региональную рассылку и операции с друзьями/голосами.
package server

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/cache"
	"github.com/annel0/voxel-world/internal/config"
	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/presence"
	"github.com/annel0/voxel-world/internal/storage"
	"github.com/annel0/voxel-world/internal/world"
)

// GameServer — явный контекст мира: всё изменяемое состояние (реестр
// присутствия, кеши сидов и чанков, инвалидаторы) живёт в полях,
// а не в глобальных переменных, чтобы тесты и несколько миров
// сосуществовали в одном процессе.
type GameServer struct {
	cfg      *config.Config
	store    storage.WorldStorage
	bus      eventbus.PubSub
	registry *presence.Registry
	chunks   *cache.ChunkCache
	metrics  *Metrics

	// seeds кеширует сиды уровней: Redis опрашивается один раз на уровень
	seedsMu sync.Mutex
	seeds   map[string]world.TerrainSeeds

	// invalidators держит по инвалидатору кеша чанков на уровень,
	// watched — региональные топики, за которыми они уже следят
	invMu        sync.Mutex
	invalidators map[string]*cache.Invalidator
	watched      map[string]bool
}

// NewGameServer создаёт сервер мира поверх хранилища и шины событий.
func NewGameServer(cfg *config.Config, store storage.WorldStorage, bus eventbus.PubSub, registry *presence.Registry) *GameServer {
	return &GameServer{
		cfg:          cfg,
		store:        store,
		bus:          bus,
		registry:     registry,
		chunks:       cache.NewChunkCache(30 * time.Second),
		metrics:      NewMetrics(),
		seeds:        make(map[string]world.TerrainSeeds),
		invalidators: make(map[string]*cache.Invalidator),
		watched:      make(map[string]bool),
	}
}

// Registry возвращает реестр присутствия сервера.
func (gs *GameServer) Registry() *presence.Registry {
	return gs.registry
}

// levelSeeds возвращает сиды уровня, создавая их при первом обращении.
func (gs *GameServer) levelSeeds(ctx context.Context, level string) (world.TerrainSeeds, error) {
	gs.seedsMu.Lock()
	defer gs.seedsMu.Unlock()

	if seeds, ok := gs.seeds[level]; ok {
		return seeds, nil
	}

	seeds, found, err := gs.store.TerrainSeeds(ctx, level)
	if err != nil {
		return world.TerrainSeeds{}, err
	}
	if !found {
		seeds = world.TerrainSeeds{
			Terrain: rand.Int63(),
			Caves:   rand.Int63(),
			Flora:   rand.Int63(),
		}
		if err := gs.store.SaveTerrainSeeds(ctx, level, seeds); err != nil {
			return world.TerrainSeeds{}, err
		}
		logging.Info("✅ Уровень %s инициализирован новыми сидами", level)
	}
	gs.seeds[level] = seeds
	return seeds, nil
}

// watchRegion подписывает инвалидатор кеша чанков на региональный топик,
// если он ещё не следит за ним. Сервер может обслуживать несколько
// инстансов: чужие правки приходят через шину.
func (gs *GameServer) watchRegion(ctx context.Context, level, topic string) {
	gs.invMu.Lock()
	defer gs.invMu.Unlock()

	inv, ok := gs.invalidators[level]
	if !ok {
		inv = cache.NewInvalidator(gs.chunks, gs.bus, level)
		gs.invalidators[level] = inv
	}
	if gs.watched[topic] {
		return
	}
	if err := inv.Watch(ctx, topic); err != nil {
		logging.Warn("⚠️ Не удалось подписать инвалидатор на %s: %v", topic, err)
		return
	}
	gs.watched[topic] = true
}

// Close снимает подписки инвалидаторов.
func (gs *GameServer) Close() {
	gs.invMu.Lock()
	defer gs.invMu.Unlock()
	for _, inv := range gs.invalidators {
		inv.Close()
	}
	gs.invalidators = make(map[string]*cache.Invalidator)
	gs.watched = make(map[string]bool)
}
