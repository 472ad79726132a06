package client

import (
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/vec"
)

// Геометрия загрузки: stateBuffer = 2×drawDistance чанков держится
// загруженным вокруг игрока, выгрузка происходит только за
// stateBuffer+drawDistance — гистерезис против дёргания загрузки
// на границе подписки.

// StateBuffer возвращает радиус загружаемых чанков.
func (sm *SyncManager) StateBuffer() int {
	return 2 * sm.drawDistance
}

// RequiredChunks возвращает все чанки в квадрате stateBuffer
// (включительно, метрика Чебышёва) вокруг чанка игрока.
// Всегда ровно (2*stateBuffer+1)^2 записей.
func (sm *SyncManager) RequiredChunks(playerChunkX, playerChunkZ int) []vec.Vec2 {
	buffer := sm.StateBuffer()
	chunks := make([]vec.Vec2, 0, (2*buffer+1)*(2*buffer+1))
	for cx := playerChunkX - buffer; cx <= playerChunkX+buffer; cx++ {
		for cz := playerChunkZ - buffer; cz <= playerChunkZ+buffer; cz++ {
			chunks = append(chunks, vec.Vec2{X: cx, Z: cz})
		}
	}
	return chunks
}

// MissingChunks отбирает чанки, которых нет ни среди загруженных,
// ни среди запрошенных: защита от дублирующих сетевых запросов.
func (sm *SyncManager) MissingChunks(required []vec.Vec2) []vec.Vec2 {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var missing []vec.Vec2
	for _, chunk := range required {
		key := chunk.Key()
		if _, loaded := sm.loaded[key]; loaded {
			continue
		}
		if sm.pending[key] {
			continue
		}
		missing = append(missing, chunk)
	}
	return missing
}

// UnloadDistant выгружает чанки дальше stateBuffer+drawDistance от
// игрока и возвращает ключи выгруженных.
func (sm *SyncManager) UnloadDistant(playerX, playerZ int) []string {
	playerChunk := spatial.ChunkOf(playerX, playerZ)
	limit := sm.StateBuffer() + sm.drawDistance

	sm.mu.Lock()
	defer sm.mu.Unlock()

	var evicted []string
	for key, chunk := range sm.loadedCoords {
		if chunk.ChebyshevTo(playerChunk) > limit {
			delete(sm.loaded, key)
			delete(sm.loadedCoords, key)
			evicted = append(evicted, key)
		}
	}
	return evicted
}

// RequiredRegions возвращает регионы, покрывающие требуемые чанки,
// без дубликатов.
func (sm *SyncManager) RequiredRegions(playerChunkX, playerChunkZ int) []vec.Vec2 {
	seen := make(map[vec.Vec2]bool)
	var regions []vec.Vec2
	for _, chunk := range sm.RequiredChunks(playerChunkX, playerChunkZ) {
		region := spatial.RegionOf(chunk.X, chunk.Z)
		if !seen[region] {
			seen[region] = true
			regions = append(regions, region)
		}
	}
	return regions
}
