package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/annel0/voxel-world/internal/config"
	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/presence"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/storage"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

func newTestServer() (*GameServer, storage.WorldStorage, eventbus.PubSub) {
	cfg := &config.Config{}
	cfg.World.MaxCoordinate = 1000
	cfg.World.DrawDistance = 1
	store := storage.NewMemoryWorldStorage()
	bus := eventbus.NewMemoryBus(64)
	gs := NewGameServer(cfg, store, bus, presence.NewRegistry())
	return gs, store, bus
}

func str(s string) *string { return &s }

func TestIngestStopsAtFirstInvalid(t *testing.T) {
	gs, store, _ := newTestServer()
	ctx := context.Background()

	mods := []world.Modification{
		{Position: vec.Vec3{X: 1, Y: 10, Z: 1}, BlockType: str("stone"), Action: world.ActionPlace, ClientTimestamp: 1},
		{Position: vec.Vec3{X: 2, Y: 10, Z: 2}, BlockType: str("stone"), Action: world.ActionPlace, ClientTimestamp: 2},
		{Position: vec.Vec3{X: 3, Y: -5, Z: 3}, BlockType: str("stone"), Action: world.ActionPlace, ClientTimestamp: 3},
		{Position: vec.Vec3{X: 4, Y: 10, Z: 4}, BlockType: str("stone"), Action: world.ActionPlace, ClientTimestamp: 4},
	}
	resp := gs.HandleModifications(ctx, &protocol.ModificationsRequest{
		Username: "alice", Level: "earth", Modifications: mods,
	})

	if resp.Ok {
		t.Error("пакет с невалидной правкой не должен быть Ok")
	}
	if resp.FailedAt == nil || *resp.FailedAt != 2 {
		t.Fatalf("ожидался failedAt=2, получено %v", resp.FailedAt)
	}

	// Правки до индекса ошибки сохраняются, после — нет
	waitBlock := func(pos vec.Vec3) *world.Block {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if b, _ := store.GetBlock(ctx, "earth", pos); b != nil {
				return b
			}
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	}
	if waitBlock(vec.Vec3{X: 1, Y: 10, Z: 1}) == nil {
		t.Error("правка 0 должна быть сохранена")
	}
	if waitBlock(vec.Vec3{X: 2, Y: 10, Z: 2}) == nil {
		t.Error("правка 1 должна быть сохранена")
	}
	time.Sleep(50 * time.Millisecond)
	if b, _ := store.GetBlock(ctx, "earth", vec.Vec3{X: 4, Y: 10, Z: 4}); b != nil {
		t.Error("правка после failedAt не должна сохраняться")
	}
}

func TestIngestBroadcastsBeforePersist(t *testing.T) {
	gs, _, bus := newTestServer()
	ctx := context.Background()

	var mu sync.Mutex
	var got []protocol.BlockModifyEvent
	region := spatial.RegionOfBlock(vec.Vec3{X: 10, Y: 5, Z: 3})
	topic := spatial.RegionTopic("earth", region.X, region.Z)
	_, err := bus.Subscribe(ctx, topic, func(ctx context.Context, topic string, data []byte) {
		ev, err := protocol.DecodeEvent(data)
		if err != nil || ev.Type != protocol.EventBlockModify {
			return
		}
		var payload protocol.BlockModifyEvent
		if json.Unmarshal(ev.Data, &payload) == nil {
			mu.Lock()
			got = append(got, payload)
			mu.Unlock()
		}
	})
	if err != nil {
		t.Fatalf("ошибка подписки: %v", err)
	}

	resp := gs.HandleModifications(ctx, &protocol.ModificationsRequest{
		Username: "alice", Level: "earth",
		Modifications: []world.Modification{
			{Position: vec.Vec3{X: 10, Y: 5, Z: 3}, BlockType: str("stone"), Action: world.ActionPlace, ClientTimestamp: 42},
		},
	})
	if !resp.Ok || resp.FailedAt != nil {
		t.Fatalf("ожидался Ok без failedAt, получено %+v", resp)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("ожидалась одна рассылка block-modify, получено %d", len(got))
	}
	ev := got[0]
	if ev.Action != world.ActionPlace || ev.BlockType == nil || *ev.BlockType != "stone" {
		t.Errorf("неверная нагрузка рассылки: %+v", ev)
	}
	if ev.ServerTimestamp == 0 {
		t.Error("рассылка должна нести serverTimestamp")
	}
	if ev.ClientTimestamp != 42 {
		t.Errorf("ожидался clientTimestamp=42, получено %d", ev.ClientTimestamp)
	}
}

func TestIngestRemoveWritesTombstone(t *testing.T) {
	gs, store, _ := newTestServer()
	ctx := context.Background()

	pos := vec.Vec3{X: 7, Y: 20, Z: 7}
	resp := gs.HandleModifications(ctx, &protocol.ModificationsRequest{
		Username: "alice", Level: "earth",
		Modifications: []world.Modification{
			{Position: pos, Action: world.ActionRemove, ClientTimestamp: 1},
		},
	})
	if !resp.Ok {
		t.Fatalf("удаление должно быть принято: %+v", resp)
	}

	deadline := time.Now().Add(time.Second)
	var block *world.Block
	for time.Now().Before(deadline) {
		if block, _ = store.GetBlock(ctx, "earth", pos); block != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if block == nil {
		t.Fatal("tombstone должен быть записан в хранилище")
	}
	if block.Placed || block.Type != nil {
		t.Errorf("ожидался tombstone (placed=false, type=nil), получено %+v", block)
	}
	if block.Username != "alice" || block.Timestamp == 0 {
		t.Errorf("tombstone должен нести автора и метку времени: %+v", block)
	}
}

func TestConnectViewerMode(t *testing.T) {
	gs, _, _ := newTestServer()
	ctx := context.Background()

	first, err := gs.HandleConnect(ctx, &protocol.ConnectRequest{Level: "earth", Username: "alice"})
	if err != nil {
		t.Fatalf("ошибка первого подключения: %v", err)
	}
	if first.Mode != protocol.ModePlayer {
		t.Fatalf("первое подключение должно быть player, получено %s", first.Mode)
	}

	second, err := gs.HandleConnect(ctx, &protocol.ConnectRequest{Level: "earth", Username: "alice"})
	if err != nil {
		t.Fatalf("ошибка второго подключения: %v", err)
	}
	if second.Mode != protocol.ModeViewer {
		t.Errorf("повторное имя в том же уровне должно получить viewer, получено %s", second.Mode)
	}
}

func TestConnectInitialChunksBox(t *testing.T) {
	gs, _, _ := newTestServer()
	ctx := context.Background()

	resp, err := gs.HandleConnect(ctx, &protocol.ConnectRequest{Level: "earth", Username: "bob"})
	if err != nil {
		t.Fatalf("ошибка подключения: %v", err)
	}
	// drawDistance=1: квадрат 3x3 вокруг чанка спауна
	if len(resp.InitialChunks) != 9 {
		t.Errorf("ожидалось 9 стартовых чанков, получено %d", len(resp.InitialChunks))
	}
	if resp.TerrainSeeds.Terrain == 0 && resp.TerrainSeeds.Caves == 0 {
		t.Error("сиды уровня должны быть инициализированы")
	}
	if resp.PlayerData == nil {
		t.Error("player-режим должен вернуть запись игрока")
	}
}

func TestSpawnReturnsBasePointWhenFree(t *testing.T) {
	gs, _, _ := newTestServer()
	ctx := context.Background()

	seeds := world.TerrainSeeds{Terrain: 12345}
	base := spawnBasePoint("earth", "alice")

	spawn, err := gs.PickSpawn(ctx, "earth", "alice", seeds)
	if err != nil {
		t.Fatalf("ошибка выбора спауна: %v", err)
	}
	if spawn.X != base.X || spawn.Z != base.Z {
		t.Errorf("при свободной базовой точке спаун должен совпасть с ней: база %s, спаун %s", base.Key(), spawn.Key())
	}

	// Детерминизм: повторный вызов даёт ту же точку
	again, _ := gs.PickSpawn(ctx, "earth", "alice", seeds)
	if !spawn.Equals(again) {
		t.Errorf("спаун должен быть детерминирован: %s против %s", spawn.Key(), again.Key())
	}
}

func TestSpawnAvoidsOccupiedBase(t *testing.T) {
	gs, _, _ := newTestServer()
	ctx := context.Background()

	seeds := world.TerrainSeeds{Terrain: 12345}
	base := spawnBasePoint("earth", "alice")

	// Другой игрок стоит точно на базовой точке
	gs.registry.Add("bob", "earth", protocol.ModePlayer,
		vec.Vec3Float{X: float64(base.X), Y: 64, Z: float64(base.Z)}, vec.Rotation{})

	spawn, err := gs.PickSpawn(ctx, "earth", "alice", seeds)
	if err != nil {
		t.Fatalf("ошибка выбора спауна: %v", err)
	}
	if spawn.X == base.X && spawn.Z == base.Z {
		t.Error("занятая базовая точка не должна возвращаться")
	}
	dx := spawn.X - base.X
	dz := spawn.Z - base.Z
	if dx > 15 || dx < -15 || dz > 15 || dz < -15 {
		t.Errorf("смещение спауна должно лежать в ±15 блоках: %d,%d", dx, dz)
	}
}

func TestSpawnReconnectToLastSpot(t *testing.T) {
	gs, store, _ := newTestServer()
	ctx := context.Background()

	last := vec.Vec3{X: 111, Y: 70, Z: -42}
	if err := store.SaveLastPosition(ctx, "earth", "alice", last); err != nil {
		t.Fatalf("ошибка сохранения позиции: %v", err)
	}

	spawn, err := gs.PickSpawn(ctx, "earth", "alice", world.TerrainSeeds{Terrain: 1})
	if err != nil {
		t.Fatalf("ошибка выбора спауна: %v", err)
	}
	if !spawn.Equals(last) {
		t.Errorf("переподключение должно вернуть последнюю позицию %s, получено %s", last.Key(), spawn.Key())
	}
}

func TestChunksRequestFiltersOutOfBounds(t *testing.T) {
	gs, _, _ := newTestServer()
	ctx := context.Background()

	resp, err := gs.HandleChunks(ctx, &protocol.ChunksRequest{
		Level: "earth",
		Chunks: []protocol.ChunkRef{
			{ChunkX: 0, ChunkZ: 0},
			{ChunkX: 100000, ChunkZ: 0}, // за границей мира
			{ChunkX: 1, ChunkZ: 1},
		},
	})
	if err != nil {
		t.Fatalf("ошибка запроса чанков: %v", err)
	}
	if len(resp.Chunks) != 2 {
		t.Errorf("чанк за границей должен быть молча отфильтрован: получено %d", len(resp.Chunks))
	}
	if resp.ResponseTimestamp < resp.RequestTimestamp {
		t.Error("responseTimestamp не может быть раньше requestTimestamp")
	}
}

func TestUpvoteRejectsSelf(t *testing.T) {
	gs, store, _ := newTestServer()
	ctx := context.Background()

	if _, err := store.EnsurePlayer(ctx, "earth", "alice"); err != nil {
		t.Fatalf("ошибка создания игрока: %v", err)
	}

	resp := gs.HandleUpvote(ctx, &protocol.UpvoteRequest{
		Username: "alice", Level: "earth", BuilderUsername: "alice",
	})
	if resp.Ok {
		t.Error("голос за себя должен быть отклонён")
	}
}

func TestUpvoteIncrementsAsync(t *testing.T) {
	gs, store, _ := newTestServer()
	ctx := context.Background()

	if _, err := store.EnsurePlayer(ctx, "earth", "builder"); err != nil {
		t.Fatalf("ошибка создания игрока: %v", err)
	}

	resp := gs.HandleUpvote(ctx, &protocol.UpvoteRequest{
		Username: "fan", Level: "earth", BuilderUsername: "builder",
	})
	if !resp.Ok {
		t.Fatal("валидный голос должен вернуть Ok сразу")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		data, found, _ := store.PlayerData(ctx, "earth", "builder")
		if found && data.Score == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("очко не начислено асинхронно")
}

func TestFriendAddBroadcastsToFriendLevel(t *testing.T) {
	gs, _, bus := newTestServer()
	ctx := context.Background()

	gs.registry.Add("bob", "mars", protocol.ModePlayer, vec.Vec3Float{}, vec.Rotation{})

	var mu sync.Mutex
	var events []protocol.FriendshipEvent
	_, err := bus.Subscribe(ctx, spatial.LevelTopic("mars"), func(ctx context.Context, topic string, data []byte) {
		ev, err := protocol.DecodeEvent(data)
		if err != nil || ev.Type != protocol.EventFriendshipAdded {
			return
		}
		var payload protocol.FriendshipEvent
		if json.Unmarshal(ev.Data, &payload) == nil {
			mu.Lock()
			events = append(events, payload)
			mu.Unlock()
		}
	})
	if err != nil {
		t.Fatalf("ошибка подписки: %v", err)
	}

	resp, err := gs.HandleFriendAdd(ctx, &protocol.FriendRequest{
		Username: "alice", Level: "earth", FriendUsername: "bob",
	})
	if err != nil || !resp.Ok {
		t.Fatalf("ошибка добавления друга: %v %+v", err, resp)
	}
	if len(resp.Friends) != 1 || resp.Friends[0] != "bob" {
		t.Errorf("неверный список друзей: %v", resp.Friends)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].FriendUsername != "bob" {
		t.Errorf("событие дружбы должно дойти до уровня друга: %+v", events)
	}
}

func TestOversizedBatchRejectedWithoutAcceptance(t *testing.T) {
	gs, store, _ := newTestServer()
	ctx := context.Background()

	mods := make([]world.Modification, MaxBatchSize+1)
	for i := range mods {
		mods[i] = world.Modification{
			Position: vec.Vec3{X: i % 500, Y: 10, Z: i / 500}, BlockType: str("stone"),
			Action: world.ActionPlace, ClientTimestamp: int64(i + 1),
		}
	}
	resp := gs.HandleModifications(ctx, &protocol.ModificationsRequest{
		Username: "alice", Level: "earth", Modifications: mods,
	})

	if resp.Ok {
		t.Error("пакет сверх предела не должен быть Ok")
	}
	if resp.FailedAt == nil || *resp.FailedAt != 0 {
		t.Fatalf("отказ из-за размера должен нести failedAt=0, получено %v", resp.FailedAt)
	}

	// Ни одна правка не принята и не сохранена
	time.Sleep(150 * time.Millisecond)
	if b, _ := store.GetBlock(ctx, "earth", mods[0].Position); b != nil {
		t.Errorf("правки из отклонённого пакета не должны сохраняться: %+v", b)
	}
}

func TestConnectViewerOnOtherLevel(t *testing.T) {
	gs, _, _ := newTestServer()
	ctx := context.Background()

	first, err := gs.HandleConnect(ctx, &protocol.ConnectRequest{Level: "earth", Username: "frank"})
	if err != nil || first.Mode != protocol.ModePlayer {
		t.Fatalf("первое подключение должно быть player: %v %+v", err, first)
	}

	second, err := gs.HandleConnect(ctx, &protocol.ConnectRequest{Level: "mars", Username: "frank"})
	if err != nil {
		t.Fatalf("ошибка подключения к другому уровню: %v", err)
	}
	if second.Mode != protocol.ModeViewer {
		t.Fatalf("имя, активное на другом уровне, должно получить viewer, получено %s", second.Mode)
	}

	// Запись остаётся за первым подключением, на новом уровне игрок не считается
	entry, ok := gs.Registry().Get("frank")
	if !ok || entry.Level != "earth" {
		t.Errorf("запись присутствия должна остаться на earth: %+v", entry)
	}
	if n := gs.Registry().CountByLevel("mars"); n != 0 {
		t.Errorf("наблюдатель не должен считаться игроком mars, счётчик %d", n)
	}

	// Позиция наблюдателя не двигает запись первого подключения
	before, _ := gs.Registry().Get("frank")
	posResp := gs.HandlePosition(ctx, &protocol.PositionRequest{
		Username: "frank", Level: "mars",
		Position: vec.Vec3Float{X: 777, Y: 1, Z: 777},
	})
	if posResp.Ok {
		t.Error("позиция для чужого уровня должна быть отклонена")
	}
	after, _ := gs.Registry().Get("frank")
	if after.Level != "earth" || !after.Position.ToVec3().Equals(before.Position.ToVec3()) {
		t.Errorf("запись на earth не должна измениться: %+v", after)
	}
}

func TestCacheDropsPreEditStateAfterPersist(t *testing.T) {
	gs, _, _ := newTestServer()
	ctx := context.Background()

	pos := vec.Vec3{X: 10, Y: 10, Z: 10}
	chunk := spatial.ChunkOf(pos.X, pos.Z)

	// Прогреваем кеш пустым чанком
	if _, err := gs.loadChunkBlocks(ctx, "earth", chunk.X, chunk.Z); err != nil {
		t.Fatalf("ошибка чтения чанка: %v", err)
	}

	resp := gs.HandleModifications(ctx, &protocol.ModificationsRequest{
		Username: "alice", Level: "earth",
		Modifications: []world.Modification{
			{Position: pos, BlockType: str("stone"), Action: world.ActionPlace, ClientTimestamp: 1},
		},
	})
	if !resp.Ok {
		t.Fatalf("правка должна быть принята: %+v", resp)
	}

	// Чтение сразу после приёма может закешировать состояние до записи;
	// после завершения записи кеш обязан отдать свежие данные
	gs.loadChunkBlocks(ctx, "earth", chunk.X, chunk.Z)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		blocks, err := gs.loadChunkBlocks(ctx, "earth", chunk.X, chunk.Z)
		if err != nil {
			t.Fatalf("ошибка чтения чанка: %v", err)
		}
		if len(blocks) == 1 && blocks[0].X == pos.X {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("после записи пакета кеш должен отдать чанк с новым блоком")
}

func TestSpawnIgnoresTombstoneColumn(t *testing.T) {
	gs, store, _ := newTestServer()
	ctx := context.Background()

	seeds := world.TerrainSeeds{Terrain: 12345}
	base := spawnBasePoint("earth", "dave")

	// В базовой колонне стоял блок, но его удалили: спаун не должен уходить
	tombstone := world.Block{X: base.X, Y: 10, Z: base.Z, Username: "bob", Timestamp: 1, Placed: false}
	if err := store.SetBlocks(ctx, "earth", []world.Block{tombstone}); err != nil {
		t.Fatalf("ошибка записи tombstone: %v", err)
	}

	spawn, err := gs.PickSpawn(ctx, "earth", "dave", seeds)
	if err != nil {
		t.Fatalf("ошибка выбора спауна: %v", err)
	}
	if spawn.X != base.X || spawn.Z != base.Z {
		t.Errorf("tombstone не занимает колонну: база %s, спаун %s", base.Key(), spawn.Key())
	}
}
