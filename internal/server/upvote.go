package server

import (
	"context"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
)

// HandleUpvote голосует за постройки другого игрока. Ответ возвращается
// сразу после проверок, само начисление очков выполняется асинхронно:
// клиенту не нужно ждать записи в хранилище ради кнопки "нравится".
func (gs *GameServer) HandleUpvote(ctx context.Context, req *protocol.UpvoteRequest) *protocol.OkResponse {
	if req.Username == req.BuilderUsername {
		logging.Warn("⚠️ %s попытался проголосовать за себя", req.Username)
		return &protocol.OkResponse{Ok: false}
	}

	if _, found, err := gs.store.PlayerData(ctx, req.Level, req.BuilderUsername); err != nil || !found {
		if err != nil {
			logging.Error("❌ Ошибка проверки игрока %s: %v", req.BuilderUsername, err)
		}
		return &protocol.OkResponse{Ok: false}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gs.store.IncrementScore(ctx, req.Level, req.BuilderUsername, 1); err != nil {
			logging.Error("❌ Не удалось начислить очко %s: %v", req.BuilderUsername, err)
		}
	}()

	return &protocol.OkResponse{Ok: true}
}
