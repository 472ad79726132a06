package protocol

import (
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// Mode режима подключения.
type Mode string

const (
	// ModePlayer — полноправный игрок: правки принимаются.
	ModePlayer Mode = "player"
	// ModeViewer — наблюдатель: identity уже активна в этом уровне,
	// операции записи отключаются на клиенте.
	ModeViewer Mode = "viewer"
)

// ConnectRequest — запрос на подключение к уровню.
type ConnectRequest struct {
	Level    string `json:"level" binding:"required"`
	Username string `json:"username,omitempty"`
}

// ConnectResponse — начальное состояние для подключившегося клиента.
type ConnectResponse struct {
	Mode          Mode               `json:"mode"`
	Username      string             `json:"username"`
	Level         string             `json:"level"`
	TerrainSeeds  world.TerrainSeeds `json:"terrainSeeds"`
	SpawnPosition vec.Vec3           `json:"spawnPosition"`
	InitialChunks []world.ChunkState `json:"initialChunks"`
	Players       []PlayerState      `json:"players"`
	PlayerData    *world.PlayerData  `json:"playerData,omitempty"`
	PlayerCount   int                `json:"playerCount"`
}

// DisconnectRequest — уведомление о выходе.
type DisconnectRequest struct {
	Username string `json:"username" binding:"required"`
	Level    string `json:"level" binding:"required"`
}

// PositionRequest — обновление позиции игрока.
type PositionRequest struct {
	Username string        `json:"username" binding:"required"`
	Level    string        `json:"level" binding:"required"`
	Position vec.Vec3Float `json:"position"`
	Rotation vec.Rotation  `json:"rotation"`
}

// OkResponse — минимальный ответ об успехе.
type OkResponse struct {
	Ok bool `json:"ok"`
}

// ModificationsRequest — пакет правок блоков от одного клиента.
type ModificationsRequest struct {
	Username      string               `json:"username" binding:"required"`
	Level         string               `json:"level" binding:"required"`
	Modifications []world.Modification `json:"modifications"`
}

// ModificationsResponse — результат обработки пакета.
// FailedAt — индекс первой невалидной правки; записи после него
// не валидировались, не рассылались и не сохранялись.
type ModificationsResponse struct {
	Ok       bool   `json:"ok"`
	FailedAt *int   `json:"failedAt"`
	Message  string `json:"message,omitempty"`
}

// ChunkRef — запрошенный чанк.
type ChunkRef struct {
	ChunkX int `json:"chunkX"`
	ChunkZ int `json:"chunkZ"`
}

// ChunksRequest — запрос состояния чанков.
type ChunksRequest struct {
	Username string     `json:"username"`
	Level    string     `json:"level" binding:"required"`
	Chunks   []ChunkRef `json:"chunks"`
}

// ChunksResponse — кастомные блоки запрошенных чанков. Чанки за границей
// мира молча отфильтровываются, а не возвращают ошибку.
type ChunksResponse struct {
	Chunks            []world.ChunkState `json:"chunks"`
	RequestTimestamp  int64              `json:"requestTimestamp"`
	ResponseTimestamp int64              `json:"responseTimestamp"`
}

// FriendRequest — добавление/удаление друга.
type FriendRequest struct {
	Username       string `json:"username" binding:"required"`
	Level          string `json:"level" binding:"required"`
	FriendUsername string `json:"friendUsername" binding:"required"`
}

// FriendResponse — результат операции с друзьями.
type FriendResponse struct {
	Ok      bool     `json:"ok"`
	Friends []string `json:"friends"`
	Message string   `json:"message,omitempty"`
}

// UpvoteRequest — голос за постройки другого игрока.
type UpvoteRequest struct {
	Username        string `json:"username" binding:"required"`
	Level           string `json:"level" binding:"required"`
	BuilderUsername string `json:"builderUsername" binding:"required"`
}
