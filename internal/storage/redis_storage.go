package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/go-redis/redis/v8"
)

// Ключи глобальных хешей дружбы.
const (
	friendsKey    = "friends"
	friendedByKey = "friendedBy"
)

// RedisWorldStorage хранит состояние мира в Redis: один хеш на чанк,
// один хеш на уровень для позиций, запись на пару (username, level).
type RedisWorldStorage struct {
	client *redis.Client
}

// RedisOptions содержит настройки подключения к Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisWorldStorage создаёт хранилище и проверяет подключение.
func NewRedisWorldStorage(opts RedisOptions) (*RedisWorldStorage, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("🔴 Подключение к Redis установлено: %s", opts.Addr)
	return &RedisWorldStorage{client: client}, nil
}

// TerrainSeeds возвращает сиды генерации уровня.
func (rs *RedisWorldStorage) TerrainSeeds(ctx context.Context, level string) (world.TerrainSeeds, bool, error) {
	data, err := rs.client.Get(ctx, spatial.SeedsKey(level)).Result()
	if err == redis.Nil {
		return world.TerrainSeeds{}, false, nil
	} else if err != nil {
		return world.TerrainSeeds{}, false, fmt.Errorf("failed to get seeds: %w", err)
	}

	var seeds world.TerrainSeeds
	if err := json.Unmarshal([]byte(data), &seeds); err != nil {
		return world.TerrainSeeds{}, false, fmt.Errorf("failed to unmarshal seeds: %w", err)
	}
	return seeds, true, nil
}

// SaveTerrainSeeds сохраняет сиды генерации уровня.
func (rs *RedisWorldStorage) SaveTerrainSeeds(ctx context.Context, level string, seeds world.TerrainSeeds) error {
	data, err := json.Marshal(seeds)
	if err != nil {
		return fmt.Errorf("failed to marshal seeds: %w", err)
	}
	if err := rs.client.Set(ctx, spatial.SeedsKey(level), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save seeds: %w", err)
	}
	return nil
}

// SetBlock записывает одну запись блока в хеш чанка.
func (rs *RedisWorldStorage) SetBlock(ctx context.Context, level string, block world.Block) error {
	chunk := spatial.ChunkOf(block.X, block.Z)
	key := spatial.ChunkHashKey(level, chunk.X, chunk.Z)
	field := spatial.BlockField(block.Position())

	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}
	if err := rs.client.HSet(ctx, key, field, data).Err(); err != nil {
		return fmt.Errorf("failed to set block: %w", err)
	}
	return nil
}

// SetBlocks записывает пакет блоков пайплайном, группируя по чанкам.
func (rs *RedisWorldStorage) SetBlocks(ctx context.Context, level string, blocks []world.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	pipe := rs.client.Pipeline()
	for _, block := range blocks {
		chunk := spatial.ChunkOf(block.X, block.Z)
		key := spatial.ChunkHashKey(level, chunk.X, chunk.Z)
		field := spatial.BlockField(block.Position())

		data, err := json.Marshal(block)
		if err != nil {
			return fmt.Errorf("failed to marshal block %s: %w", field, err)
		}
		pipe.HSet(ctx, key, field, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute block batch: %w", err)
	}
	return nil
}

// GetBlock возвращает запись блока (включая tombstone) или nil.
func (rs *RedisWorldStorage) GetBlock(ctx context.Context, level string, pos vec.Vec3) (*world.Block, error) {
	chunk := spatial.ChunkOf(pos.X, pos.Z)
	key := spatial.ChunkHashKey(level, chunk.X, chunk.Z)

	data, err := rs.client.HGet(ctx, key, spatial.BlockField(pos)).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}

	var block world.Block
	if err := json.Unmarshal([]byte(data), &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	return &block, nil
}

// DeleteBlock физически удаляет поле блока (административная операция).
func (rs *RedisWorldStorage) DeleteBlock(ctx context.Context, level string, pos vec.Vec3) error {
	chunk := spatial.ChunkOf(pos.X, pos.Z)
	key := spatial.ChunkHashKey(level, chunk.X, chunk.Z)

	if err := rs.client.HDel(ctx, key, spatial.BlockField(pos)).Err(); err != nil {
		return fmt.Errorf("failed to delete block: %w", err)
	}
	return nil
}

// ChunkBlocks возвращает все записи блоков чанка.
func (rs *RedisWorldStorage) ChunkBlocks(ctx context.Context, level string, chunkX, chunkZ int) ([]world.Block, error) {
	key := spatial.ChunkHashKey(level, chunkX, chunkZ)

	fields, err := rs.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk blocks: %w", err)
	}

	blocks := make([]world.Block, 0, len(fields))
	for field, data := range fields {
		var block world.Block
		if err := json.Unmarshal([]byte(data), &block); err != nil {
			logging.Warn("⚠️ Повреждённая запись блока %s в %s: %v", field, key, err)
			continue
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// EnsurePlayer возвращает запись игрока, создавая её при первом входе.
func (rs *RedisWorldStorage) EnsurePlayer(ctx context.Context, level, username string) (*world.PlayerData, error) {
	data, found, err := rs.PlayerData(ctx, level, username)
	if err != nil {
		return nil, err
	}
	if found {
		return data, nil
	}

	now := time.Now().UnixMilli()
	key := spatial.PlayerKey(level, username)
	if err := rs.client.HSet(ctx, key, "score", 0, "joined", now, "updated", now).Err(); err != nil {
		return nil, fmt.Errorf("failed to create player record: %w", err)
	}

	friends, err := rs.Friends(ctx, username)
	if err != nil {
		return nil, err
	}
	return &world.PlayerData{Username: username, Friends: friends, Joined: now, Updated: now}, nil
}

// PlayerData возвращает запись игрока.
func (rs *RedisWorldStorage) PlayerData(ctx context.Context, level, username string) (*world.PlayerData, bool, error) {
	key := spatial.PlayerKey(level, username)

	fields, err := rs.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get player record: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	data := &world.PlayerData{Username: username}
	fmt.Sscanf(fields["score"], "%d", &data.Score)
	fmt.Sscanf(fields["joined"], "%d", &data.Joined)
	fmt.Sscanf(fields["updated"], "%d", &data.Updated)

	friends, err := rs.Friends(ctx, username)
	if err != nil {
		return nil, false, err
	}
	data.Friends = friends
	return data, true, nil
}

// IncrementScore атомарно увеличивает счёт игрока.
func (rs *RedisWorldStorage) IncrementScore(ctx context.Context, level, username string, delta int64) error {
	key := spatial.PlayerKey(level, username)

	pipe := rs.client.Pipeline()
	pipe.HIncrBy(ctx, key, "score", delta)
	pipe.HSet(ctx, key, "updated", time.Now().UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment score: %w", err)
	}
	return nil
}

// Friends возвращает глобальный список друзей игрока.
func (rs *RedisWorldStorage) Friends(ctx context.Context, username string) ([]string, error) {
	return rs.stringList(ctx, friendsKey, username)
}

// SaveFriends сохраняет глобальный список друзей игрока.
func (rs *RedisWorldStorage) SaveFriends(ctx context.Context, username string, friends []string) error {
	return rs.saveStringList(ctx, friendsKey, username, friends)
}

// FriendedBy возвращает список игроков, добавивших username в друзья.
func (rs *RedisWorldStorage) FriendedBy(ctx context.Context, username string) ([]string, error) {
	return rs.stringList(ctx, friendedByKey, username)
}

// SaveFriendedBy сохраняет обратный список дружбы.
func (rs *RedisWorldStorage) SaveFriendedBy(ctx context.Context, username string, friendedBy []string) error {
	return rs.saveStringList(ctx, friendedByKey, username, friendedBy)
}

// LastPosition возвращает последнюю известную позицию игрока в уровне.
func (rs *RedisWorldStorage) LastPosition(ctx context.Context, level, username string) (vec.Vec3, bool, error) {
	data, err := rs.client.HGet(ctx, spatial.PositionsKey(level), username).Result()
	if err == redis.Nil {
		return vec.Vec3{}, false, nil
	} else if err != nil {
		return vec.Vec3{}, false, fmt.Errorf("failed to get last position: %w", err)
	}

	var pos vec.Vec3
	if err := json.Unmarshal([]byte(data), &pos); err != nil {
		return vec.Vec3{}, false, fmt.Errorf("failed to unmarshal position: %w", err)
	}
	return pos, true, nil
}

// SaveLastPosition сохраняет последнюю известную позицию игрока.
func (rs *RedisWorldStorage) SaveLastPosition(ctx context.Context, level, username string, pos vec.Vec3) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}
	if err := rs.client.HSet(ctx, spatial.PositionsKey(level), username, data).Err(); err != nil {
		return fmt.Errorf("failed to save last position: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (rs *RedisWorldStorage) Close() error {
	return rs.client.Close()
}

func (rs *RedisWorldStorage) stringList(ctx context.Context, key, field string) ([]string, error) {
	data, err := rs.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return []string{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get %s list: %w", key, err)
	}

	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s list: %w", key, err)
	}
	return list, nil
}

func (rs *RedisWorldStorage) saveStringList(ctx context.Context, key, field string, list []string) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal %s list: %w", key, err)
	}
	if err := rs.client.HSet(ctx, key, field, data).Err(); err != nil {
		return fmt.Errorf("failed to save %s list: %w", key, err)
	}
	return nil
}
