// Package storage реализует адаптер персистентности поверх внешнего
// KV-хранилища с семантикой hash-per-key (Redis). Сервер — единственный
// писатель; клиенты держат read-through кеш загруженных чанков.
package storage

import (
	"context"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// WorldStorage — интерфейс доступа к персистентному состоянию мира.
// Реализации: Redis (продакшен) и in-memory (тесты).
type WorldStorage interface {
	// TerrainSeeds возвращает сиды генерации уровня; found=false если
	// уровень ещё не инициализирован.
	TerrainSeeds(ctx context.Context, level string) (world.TerrainSeeds, bool, error)
	SaveTerrainSeeds(ctx context.Context, level string, seeds world.TerrainSeeds) error

	// SetBlock записывает одну запись блока (установку или tombstone)
	// в хеш чанка. Удаления пишутся как tombstone, а не HDel: поздние
	// правки должны иметь метку времени для сравнения.
	SetBlock(ctx context.Context, level string, block world.Block) error

	// SetBlocks записывает пакет блоков одной операцией (pipeline),
	// группируя по чанкам.
	SetBlocks(ctx context.Context, level string, blocks []world.Block) error

	// GetBlock возвращает запись блока (включая tombstone) или nil.
	GetBlock(ctx context.Context, level string, pos vec.Vec3) (*world.Block, error)

	// DeleteBlock физически удаляет поле блока из хеша чанка.
	// Конвейер правок этим не пользуется (он пишет tombstone);
	// операция нужна административной чистке мира.
	DeleteBlock(ctx context.Context, level string, pos vec.Vec3) error

	// ChunkBlocks возвращает все записи блоков чанка.
	ChunkBlocks(ctx context.Context, level string, chunkX, chunkZ int) ([]world.Block, error)

	// EnsurePlayer возвращает запись игрока, создавая её при первом входе.
	EnsurePlayer(ctx context.Context, level, username string) (*world.PlayerData, error)

	// PlayerData возвращает запись игрока; found=false если её нет.
	PlayerData(ctx context.Context, level, username string) (*world.PlayerData, bool, error)

	// IncrementScore атомарно увеличивает счёт игрока.
	IncrementScore(ctx context.Context, level, username string, delta int64) error

	// Friends / FriendedBy — глобальные списки дружбы.
	Friends(ctx context.Context, username string) ([]string, error)
	SaveFriends(ctx context.Context, username string, friends []string) error
	FriendedBy(ctx context.Context, username string) ([]string, error)
	SaveFriendedBy(ctx context.Context, username string, friendedBy []string) error

	// LastPosition / SaveLastPosition — последняя известная позиция
	// игрока в уровне (для reconnect-to-last-spot).
	LastPosition(ctx context.Context, level, username string) (vec.Vec3, bool, error)
	SaveLastPosition(ctx context.Context, level, username string, pos vec.Vec3) error

	Close() error
}
