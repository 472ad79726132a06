package server

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/presence"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/util"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// spawnOffsets — фиксированная спираль из 25 смещений вокруг базовой
// точки: центр, 4 стороны света, 4 диагонали, затем более широкие
// кольца, всё в пределах ±15 блоков.
var spawnOffsets = [25]vec.Vec2{
	{X: 0, Z: 0},
	{X: 5, Z: 0}, {X: -5, Z: 0}, {X: 0, Z: 5}, {X: 0, Z: -5},
	{X: 5, Z: 5}, {X: -5, Z: 5}, {X: 5, Z: -5}, {X: -5, Z: -5},
	{X: 10, Z: 0}, {X: -10, Z: 0}, {X: 0, Z: 10}, {X: 0, Z: -10},
	{X: 10, Z: 10}, {X: -10, Z: 10}, {X: 10, Z: -10}, {X: -10, Z: -10},
	{X: 15, Z: 0}, {X: -15, Z: 0}, {X: 0, Z: 15}, {X: 0, Z: -15},
	{X: 15, Z: 15}, {X: -15, Z: 15}, {X: 15, Z: -15}, {X: -15, Z: -15},
}

// минимальная дистанция до других игроков при спауне (в блоках)
const spawnClearRadius = 5.0

// spawnBasePoint детерминированно выбирает псевдослучайную базовую точку
// в пределах одного региона по имени игрока и уровню. Один и тот же
// игрок всегда начинает поиск с одной и той же точки.
func spawnBasePoint(level, username string) vec.Vec2 {
	extent := spatial.ChunkSize * spatial.RegionSize // протяжённость региона в блоках
	h := xxhash.Sum64String(level + ":" + username)
	x := int(h%uint64(extent)) - extent/2
	z := int((h/uint64(extent))%uint64(extent)) - extent/2
	return vec.Vec2{X: x, Z: z}
}

// PickSpawn возвращает позицию спауна для подключающегося игрока.
//
// Известная прошлая позиция возвращается сразу (reconnect-to-last-spot).
// Иначе вокруг базовой точки перебирается спираль из 25 кандидатов:
// кандидат отклоняется, если в 5 блоках есть подключённый игрок того же
// уровня или если в колонне (x, z) на любой высоте есть кастомный блок.
// Если вся спираль занята, возвращается базовая точка без смещения.
func (gs *GameServer) PickSpawn(ctx context.Context, level, username string, seeds world.TerrainSeeds) (vec.Vec3, error) {
	if last, found, err := gs.store.LastPosition(ctx, level, username); err != nil {
		return vec.Vec3{}, fmt.Errorf("failed to load last position: %w", err)
	} else if found {
		return last, nil
	}

	base := spawnBasePoint(level, username)
	others := gs.registry.ByLevel(level)

	for _, offset := range spawnOffsets {
		candidate := base.Add(offset)
		if !gs.spawnColumnFree(ctx, level, candidate) {
			continue
		}
		if occupied(others, candidate) {
			continue
		}
		return columnSurface(candidate, seeds), nil
	}

	logging.Warn("⚠️ Спираль спауна для %s в %s занята, используется базовая точка", username, level)
	return columnSurface(base, seeds), nil
}

// spawnColumnFree проверяет, что в колонне (x, z) нет стоящих кастомных
// блоков ни на одной высоте. Tombstone-записи колонну не занимают.
func (gs *GameServer) spawnColumnFree(ctx context.Context, level string, column vec.Vec2) bool {
	chunk := spatial.ChunkOf(column.X, column.Z)
	blocks, err := gs.loadChunkBlocks(ctx, level, chunk.X, chunk.Z)
	if err != nil {
		logging.Warn("⚠️ Не удалось прочитать чанк %s при поиске спауна: %v", chunk.Key(), err)
		return false
	}
	for i := range blocks {
		if !blocks[i].Placed {
			continue // tombstone: блок уже удалён, колонна свободна
		}
		if blocks[i].X == column.X && blocks[i].Z == column.Z {
			return false
		}
	}
	return true
}

// occupied сообщает, есть ли подключённый игрок в 5 блоках от кандидата.
func occupied(others []presence.Entry, candidate vec.Vec2) bool {
	point := vec.Vec3Float{X: float64(candidate.X), Z: float64(candidate.Z)}
	for _, other := range others {
		if other.Position.HorizontalDistSq(point) <= spawnClearRadius*spawnClearRadius {
			return true
		}
	}
	return false
}

// columnSurface поднимает кандидата на высоту поверхности рельефа.
func columnSurface(column vec.Vec2, seeds world.TerrainSeeds) vec.Vec3 {
	y := util.SurfaceHeight(column.X, column.Z, seeds.Terrain) + 1
	return vec.Vec3{X: column.X, Y: y, Z: column.Z}
}
