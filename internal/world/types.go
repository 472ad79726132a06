// Package world содержит доменные типы совместно редактируемого мира:
// блоки, модификации, сиды генерации и правило разрешения конфликтов.
package world

import (
	"github.com/annel0/voxel-world/internal/vec"
)

// Action — намерение модификации: установка или удаление блока.
type Action string

const (
	ActionPlace  Action = "place"
	ActionRemove Action = "remove"
)

// Block — авторитетная запись кастомного блока: отклонение от
// процедурной генерации, сохранённое и синхронизируемое.
// Placed=false — tombstone, а не удаление: запись хранится, чтобы
// опоздавшие broadcast'ы можно было сравнить по времени и отклонить.
type Block struct {
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Z         int     `json:"z"`
	Type      *string `json:"type,omitempty"` // nil для удалённых блоков
	Placed    bool    `json:"placed"`
	Username  string  `json:"username"`
	Timestamp int64   `json:"timestamp"` // unix-миллисекунды
}

// Position возвращает позицию блока как Vec3.
func (b *Block) Position() vec.Vec3 {
	return vec.Vec3{X: b.X, Y: b.Y, Z: b.Z}
}

// Modification — клиентское намерение правки до принятия сервером.
// Становится Block только после валидации и штампа serverTimestamp.
type Modification struct {
	Position        vec.Vec3 `json:"position"`
	BlockType       *string  `json:"blockType,omitempty"` // nil при удалении
	Action          Action   `json:"action"`
	ClientTimestamp int64    `json:"clientTimestamp"` // unix-миллисекунды
}

// TerrainSeeds — сиды процедурной генерации уровня. Ядро синхронизации
// трактует генерацию как внешнюю: сиды лишь раздаются клиентам при входе.
type TerrainSeeds struct {
	Terrain int64 `json:"terrain"`
	Caves   int64 `json:"caves"`
	Flora   int64 `json:"flora"`
}

// PlayerData — персистентная запись игрока в рамках уровня.
type PlayerData struct {
	Username string   `json:"username"`
	Score    int64    `json:"score"`
	Friends  []string `json:"friends"`
	Joined   int64    `json:"joined"`
	Updated  int64    `json:"updated"`
}

// ChunkState — список кастомных блоков одного чанка.
type ChunkState struct {
	ChunkX int     `json:"chunkX"`
	ChunkZ int     `json:"chunkZ"`
	Blocks []Block `json:"blocks"`
}

// MaxBlockY — верхняя граница допустимой высоты блока.
const MaxBlockY = 255

// ValidateModification проверяет границы координат модификации.
// maxCoord ограничивает |x| и |z|; y лежит в [0, MaxBlockY].
func ValidateModification(m *Modification, maxCoord int) bool {
	if m.Position.Y < 0 || m.Position.Y > MaxBlockY {
		return false
	}
	if m.Position.X > maxCoord || m.Position.X < -maxCoord {
		return false
	}
	if m.Position.Z > maxCoord || m.Position.Z < -maxCoord {
		return false
	}
	if m.Action != ActionPlace && m.Action != ActionRemove {
		return false
	}
	return true
}
