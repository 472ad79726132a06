// Package spatial содержит чистые функции пространственной индексации.
// Схема ключей разделяется клиентом и сервером: расхождение здесь молча
// ломает маршрутизацию подписок, поэтому все преобразования живут в одном
// месте и покрыты тестами.
package spatial

import (
	"fmt"

	"github.com/annel0/voxel-world/internal/vec"
)

const (
	// ChunkSize — размер чанка в блоках (24x24 по горизонтали).
	ChunkSize = 24

	// RegionSize — размер региона в чанках (15x15).
	// Регион — единица pub/sub fanout: крупнее чанка, мельче мира.
	RegionSize = 15
)

// ChunkOf возвращает координаты чанка для мировой позиции (x, z).
func ChunkOf(x, z int) vec.Vec2 {
	return vec.Vec2{X: floorDiv(x, ChunkSize), Z: floorDiv(z, ChunkSize)}
}

// RegionOf возвращает координаты региона для координат чанка.
func RegionOf(chunkX, chunkZ int) vec.Vec2 {
	return vec.Vec2{X: floorDiv(chunkX, RegionSize), Z: floorDiv(chunkZ, RegionSize)}
}

// RegionOfBlock возвращает координаты региона для мировой позиции блока.
func RegionOfBlock(pos vec.Vec3) vec.Vec2 {
	chunk := ChunkOf(pos.X, pos.Z)
	return RegionOf(chunk.X, chunk.Z)
}

// RegionTopic формирует имя регионального топика для позиций и блоков.
func RegionTopic(level string, regionX, regionZ int) string {
	return fmt.Sprintf("region:%s:%d:%d", level, regionX, regionZ)
}

// LevelTopic формирует имя топика уровня для дружбы и счётчика игроков.
func LevelTopic(level string) string {
	return fmt.Sprintf("game:%s", level)
}

// ChunkHashKey формирует Redis-ключ хеша чанка.
func ChunkHashKey(level string, chunkX, chunkZ int) string {
	return fmt.Sprintf("%s:chunk:%d:%d", level, chunkX, chunkZ)
}

// BlockField формирует имя поля блока внутри хеша чанка.
func BlockField(pos vec.Vec3) string {
	return fmt.Sprintf("block:%d:%d:%d", pos.X, pos.Y, pos.Z)
}

// SeedsKey формирует Redis-ключ для сидов генерации уровня.
func SeedsKey(level string) string {
	return fmt.Sprintf("%s:seeds", level)
}

// PositionsKey формирует Redis-ключ хеша последних известных позиций уровня.
func PositionsKey(level string) string {
	return fmt.Sprintf("%s:positions", level)
}

// PlayerKey формирует Redis-ключ записи игрока в рамках уровня.
func PlayerKey(level, username string) string {
	return fmt.Sprintf("%s:player:%s", level, username)
}

// floorDiv выполняет целочисленное деление с округлением вниз
// (в отличие от усечения к нулю для отрицательных значений).
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
