package server

import (
	"context"
	"fmt"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
)

// HandleFriendAdd добавляет друга и рассылает событие в топики уровней,
// где друг сейчас активен: дружба должна дойти до него независимо от
// региона, в котором он находится.
func (gs *GameServer) HandleFriendAdd(ctx context.Context, req *protocol.FriendRequest) (*protocol.FriendResponse, error) {
	if req.Username == req.FriendUsername {
		return &protocol.FriendResponse{Ok: false, Message: "нельзя добавить в друзья самого себя"}, nil
	}

	friends, err := gs.store.Friends(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to load friends: %w", err)
	}
	if contains(friends, req.FriendUsername) {
		return &protocol.FriendResponse{Ok: true, Friends: friends}, nil
	}

	friends = append(friends, req.FriendUsername)
	if err := gs.store.SaveFriends(ctx, req.Username, friends); err != nil {
		return nil, fmt.Errorf("failed to save friends: %w", err)
	}

	friendedBy, err := gs.store.FriendedBy(ctx, req.FriendUsername)
	if err != nil {
		return nil, fmt.Errorf("failed to load friended-by: %w", err)
	}
	if !contains(friendedBy, req.Username) {
		friendedBy = append(friendedBy, req.Username)
		if err := gs.store.SaveFriendedBy(ctx, req.FriendUsername, friendedBy); err != nil {
			return nil, fmt.Errorf("failed to save friended-by: %w", err)
		}
	}

	gs.broadcastFriendship(ctx, protocol.EventFriendshipAdded, req)
	logging.Info("✅ %s добавил в друзья %s", req.Username, req.FriendUsername)
	return &protocol.FriendResponse{Ok: true, Friends: friends}, nil
}

// HandleFriendRemove удаляет друга и рассылает событие.
func (gs *GameServer) HandleFriendRemove(ctx context.Context, req *protocol.FriendRequest) (*protocol.FriendResponse, error) {
	friends, err := gs.store.Friends(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to load friends: %w", err)
	}
	if !contains(friends, req.FriendUsername) {
		return &protocol.FriendResponse{Ok: true, Friends: friends}, nil
	}

	friends = remove(friends, req.FriendUsername)
	if err := gs.store.SaveFriends(ctx, req.Username, friends); err != nil {
		return nil, fmt.Errorf("failed to save friends: %w", err)
	}

	friendedBy, err := gs.store.FriendedBy(ctx, req.FriendUsername)
	if err != nil {
		return nil, fmt.Errorf("failed to load friended-by: %w", err)
	}
	if contains(friendedBy, req.Username) {
		if err := gs.store.SaveFriendedBy(ctx, req.FriendUsername, remove(friendedBy, req.Username)); err != nil {
			return nil, fmt.Errorf("failed to save friended-by: %w", err)
		}
	}

	gs.broadcastFriendship(ctx, protocol.EventFriendshipRemoved, req)
	logging.Info("🔄 %s удалил из друзей %s", req.Username, req.FriendUsername)
	return &protocol.FriendResponse{Ok: true, Friends: friends}, nil
}

// broadcastFriendship публикует событие дружбы в топики всех уровней,
// где адресат сейчас активен.
func (gs *GameServer) broadcastFriendship(ctx context.Context, eventType protocol.EventType, req *protocol.FriendRequest) {
	data, err := protocol.EncodeEvent(eventType, protocol.FriendshipEvent{
		Username:       req.Username,
		FriendUsername: req.FriendUsername,
	})
	if err != nil {
		logging.Error("❌ Ошибка кодирования события дружбы: %v", err)
		return
	}
	for _, level := range gs.registry.Levels(req.FriendUsername) {
		if err := gs.bus.Publish(ctx, spatial.LevelTopic(level), data); err != nil {
			logging.Error("❌ Ошибка публикации события дружбы в %s: %v", level, err)
		}
	}
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

func remove(list []string, item string) []string {
	out := list[:0]
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}
