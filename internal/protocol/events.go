// Package protocol содержит типы запросов, ответов и широковещательных
// событий, общие для клиента и сервера. Все полезные нагрузки — JSON.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// EventType представляет тип широковещательного события
type EventType string

const (
	// EventBlockModify — принятое сервером изменение блока (региональный топик)
	EventBlockModify EventType = "block-modify"
	// EventPlayerPositions — пакет позиций игроков региона (региональный топик)
	EventPlayerPositions EventType = "player-positions"
	// EventFriendshipAdded — добавление в друзья (топик уровня)
	EventFriendshipAdded EventType = "friendship-added"
	// EventFriendshipRemoved — удаление из друзей (топик уровня)
	EventFriendshipRemoved EventType = "friendship-removed"
	// EventPlayerCount — изменение числа игроков уровня (топик уровня)
	EventPlayerCount EventType = "player-count-update"
	// EventPlayerDisconnected — игрок покинул уровень (топик уровня)
	EventPlayerDisconnected EventType = "player-disconnected"
)

// Event — конверт широковещательного сообщения.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEvent сериализует событие с типизированной нагрузкой.
func EncodeEvent(t EventType, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации нагрузки %s: %w", t, err)
	}
	return json.Marshal(Event{Type: t, Data: data})
}

// DecodeEvent разбирает конверт события.
func DecodeEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("ошибка разбора события: %w", err)
	}
	return &ev, nil
}

// BlockModifyEvent — нагрузка события block-modify.
// ClientTimestamp нужен получателям для LWW-сравнения с локальными правками.
type BlockModifyEvent struct {
	Position        vec.Vec3     `json:"position"`
	BlockType       *string      `json:"blockType"`
	Action          world.Action `json:"action"`
	Username        string       `json:"username"`
	ClientTimestamp int64        `json:"clientTimestamp"`
	ServerTimestamp int64        `json:"serverTimestamp"`
}

// PlayerState — позиция и ориентация одного игрока в рассылке.
type PlayerState struct {
	Username string        `json:"username"`
	Position vec.Vec3Float `json:"position"`
	Rotation vec.Rotation  `json:"rotation"`
}

// PlayerPositionsEvent — пакетная рассылка позиций игроков региона.
type PlayerPositionsEvent struct {
	Players []PlayerState `json:"players"`
}

// FriendshipEvent — нагрузка событий friendship-added/removed.
type FriendshipEvent struct {
	Username       string `json:"username"`
	FriendUsername string `json:"friendUsername"`
}

// PlayerCountEvent — нагрузка события player-count-update.
type PlayerCountEvent struct {
	Level string `json:"level"`
	Count int    `json:"count"`
}

// PlayerDisconnectedEvent — нагрузка события player-disconnected.
type PlayerDisconnectedEvent struct {
	Username string `json:"username"`
}
