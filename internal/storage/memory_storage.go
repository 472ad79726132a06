package storage

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// MemoryWorldStorage — in-memory реализация WorldStorage для тестов
// и локальной разработки без Redis. Повторяет схему ключей Redis-версии.
type MemoryWorldStorage struct {
	mu         sync.RWMutex
	seeds      map[string]world.TerrainSeeds
	chunks     map[string]map[string]world.Block // chunkKey -> field -> block
	players    map[string]*world.PlayerData      // playerKey -> record
	friends    map[string][]string
	friendedBy map[string][]string
	positions  map[string]map[string]vec.Vec3 // level -> username -> pos
}

// NewMemoryWorldStorage создаёт пустое in-memory хранилище.
func NewMemoryWorldStorage() *MemoryWorldStorage {
	return &MemoryWorldStorage{
		seeds:      make(map[string]world.TerrainSeeds),
		chunks:     make(map[string]map[string]world.Block),
		players:    make(map[string]*world.PlayerData),
		friends:    make(map[string][]string),
		friendedBy: make(map[string][]string),
		positions:  make(map[string]map[string]vec.Vec3),
	}
}

func (ms *MemoryWorldStorage) TerrainSeeds(ctx context.Context, level string) (world.TerrainSeeds, bool, error) {
	if err := ctx.Err(); err != nil {
		return world.TerrainSeeds{}, false, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	seeds, ok := ms.seeds[level]
	return seeds, ok, nil
}

func (ms *MemoryWorldStorage) SaveTerrainSeeds(ctx context.Context, level string, seeds world.TerrainSeeds) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.seeds[level] = seeds
	return nil
}

func (ms *MemoryWorldStorage) SetBlock(ctx context.Context, level string, block world.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.setBlockLocked(level, block)
	return nil
}

func (ms *MemoryWorldStorage) SetBlocks(ctx context.Context, level string, blocks []world.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, block := range blocks {
		ms.setBlockLocked(level, block)
	}
	return nil
}

func (ms *MemoryWorldStorage) setBlockLocked(level string, block world.Block) {
	chunk := spatial.ChunkOf(block.X, block.Z)
	key := spatial.ChunkHashKey(level, chunk.X, chunk.Z)
	if ms.chunks[key] == nil {
		ms.chunks[key] = make(map[string]world.Block)
	}
	ms.chunks[key][spatial.BlockField(block.Position())] = block
}

func (ms *MemoryWorldStorage) GetBlock(ctx context.Context, level string, pos vec.Vec3) (*world.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	chunk := spatial.ChunkOf(pos.X, pos.Z)
	fields, ok := ms.chunks[spatial.ChunkHashKey(level, chunk.X, chunk.Z)]
	if !ok {
		return nil, nil
	}
	block, ok := fields[spatial.BlockField(pos)]
	if !ok {
		return nil, nil
	}
	return &block, nil
}

func (ms *MemoryWorldStorage) DeleteBlock(ctx context.Context, level string, pos vec.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	chunk := spatial.ChunkOf(pos.X, pos.Z)
	if fields, ok := ms.chunks[spatial.ChunkHashKey(level, chunk.X, chunk.Z)]; ok {
		delete(fields, spatial.BlockField(pos))
	}
	return nil
}

func (ms *MemoryWorldStorage) ChunkBlocks(ctx context.Context, level string, chunkX, chunkZ int) ([]world.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	fields := ms.chunks[spatial.ChunkHashKey(level, chunkX, chunkZ)]
	blocks := make([]world.Block, 0, len(fields))
	for _, block := range fields {
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (ms *MemoryWorldStorage) EnsurePlayer(ctx context.Context, level, username string) (*world.PlayerData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	key := spatial.PlayerKey(level, username)
	if data, ok := ms.players[key]; ok {
		copy := *data
		copy.Friends = append([]string(nil), ms.friends[username]...)
		return &copy, nil
	}

	now := time.Now().UnixMilli()
	data := &world.PlayerData{Username: username, Joined: now, Updated: now}
	ms.players[key] = data

	copy := *data
	copy.Friends = append([]string(nil), ms.friends[username]...)
	return &copy, nil
}

func (ms *MemoryWorldStorage) PlayerData(ctx context.Context, level, username string) (*world.PlayerData, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	data, ok := ms.players[spatial.PlayerKey(level, username)]
	if !ok {
		return nil, false, nil
	}
	copy := *data
	copy.Friends = append([]string(nil), ms.friends[username]...)
	return &copy, true, nil
}

func (ms *MemoryWorldStorage) IncrementScore(ctx context.Context, level, username string, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	key := spatial.PlayerKey(level, username)
	if data, ok := ms.players[key]; ok {
		data.Score += delta
		data.Updated = time.Now().UnixMilli()
	}
	return nil
}

func (ms *MemoryWorldStorage) Friends(ctx context.Context, username string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return append([]string{}, ms.friends[username]...), nil
}

func (ms *MemoryWorldStorage) SaveFriends(ctx context.Context, username string, friends []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.friends[username] = append([]string(nil), friends...)
	return nil
}

func (ms *MemoryWorldStorage) FriendedBy(ctx context.Context, username string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return append([]string{}, ms.friendedBy[username]...), nil
}

func (ms *MemoryWorldStorage) SaveFriendedBy(ctx context.Context, username string, friendedBy []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.friendedBy[username] = append([]string(nil), friendedBy...)
	return nil
}

func (ms *MemoryWorldStorage) LastPosition(ctx context.Context, level, username string) (vec.Vec3, bool, error) {
	if err := ctx.Err(); err != nil {
		return vec.Vec3{}, false, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if byUser, ok := ms.positions[level]; ok {
		if pos, ok := byUser[username]; ok {
			return pos, true, nil
		}
	}
	return vec.Vec3{}, false, nil
}

func (ms *MemoryWorldStorage) SaveLastPosition(ctx context.Context, level, username string, pos vec.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.positions[level] == nil {
		ms.positions[level] = make(map[string]vec.Vec3)
	}
	ms.positions[level][username] = pos
	return nil
}

func (ms *MemoryWorldStorage) Close() error {
	return nil
}
