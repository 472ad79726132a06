package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-world/internal/client"
	"github.com/annel0/voxel-world/internal/config"
	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/presence"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/server"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/storage"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

// directTransport замыкает клиентский транспорт прямо на серверные
// обработчики: сетевой слой исключается, семантика сохраняется.
type directTransport struct {
	gs      *server.GameServer
	offline bool
}

func (d *directTransport) Connect(ctx context.Context, req *protocol.ConnectRequest) (*protocol.ConnectResponse, error) {
	if d.offline {
		return nil, context.DeadlineExceeded
	}
	return d.gs.HandleConnect(ctx, req)
}

func (d *directTransport) Disconnect(ctx context.Context, req *protocol.DisconnectRequest) error {
	if d.offline {
		return context.DeadlineExceeded
	}
	d.gs.HandleDisconnect(ctx, req, nil)
	return nil
}

func (d *directTransport) SendPosition(ctx context.Context, req *protocol.PositionRequest) error {
	if d.offline {
		return context.DeadlineExceeded
	}
	d.gs.HandlePosition(ctx, req)
	return nil
}

func (d *directTransport) SendModifications(ctx context.Context, req *protocol.ModificationsRequest) (*protocol.ModificationsResponse, error) {
	if d.offline {
		return nil, context.DeadlineExceeded
	}
	return d.gs.HandleModifications(ctx, req), nil
}

func (d *directTransport) RequestChunks(ctx context.Context, req *protocol.ChunksRequest) (*protocol.ChunksResponse, error) {
	if d.offline {
		return nil, context.DeadlineExceeded
	}
	return d.gs.HandleChunks(ctx, req)
}

type testWorld struct {
	gs    *server.GameServer
	store storage.WorldStorage
	bus   eventbus.PubSub
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	cfg := &config.Config{}
	cfg.World.MaxCoordinate = 100000
	cfg.World.DrawDistance = 1
	store := storage.NewMemoryWorldStorage()
	bus := eventbus.NewMemoryBus(256)
	t.Cleanup(func() { bus.Close() })
	gs := server.NewGameServer(cfg, store, bus, presence.NewRegistry())
	t.Cleanup(gs.Close)
	return &testWorld{gs: gs, store: store, bus: bus}
}

func (tw *testWorld) newClient(t *testing.T) (*client.SyncManager, *directTransport) {
	t.Helper()
	queue, err := client.NewOfflineQueue(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	transport := &directTransport{gs: tw.gs}
	return client.NewSyncManager(transport, tw.bus, queue, 1), transport
}

func str(s string) *string { return &s }

// Сценарий 1: правка одного клиента доходит до второго подписанного
// клиента как block-modify с serverTimestamp.
func TestPlaceBroadcastReachesSecondClient(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	alice, _ := tw.newClient(t)
	_, err := alice.Connect(ctx, "earth", "alice")
	require.NoError(t, err)

	bob, _ := tw.newClient(t)
	bobResp, err := bob.Connect(ctx, "earth", "bob")
	require.NoError(t, err)

	received := make(chan *protocol.Event, 16)
	bob.OnEvent = func(topic string, event *protocol.Event) {
		received <- event
	}

	// Алиса ставит блок в колонне спауна Боба: точно его регион
	pos := vec.Vec3{X: bobResp.SpawnPosition.X, Y: 5, Z: bobResp.SpawnPosition.Z}
	alice.AddModification(pos, str("stone"), world.ActionPlace)
	alice.FlushBatch(ctx)

	var got *protocol.Event
	select {
	case ev := <-received:
		got = ev
	case <-time.After(2 * time.Second):
		t.Fatal("второй клиент не получил block-modify")
	}
	require.Equal(t, protocol.EventBlockModify, got.Type)

	// Блок должен появиться в локальном состоянии Боба
	chunk := spatial.ChunkOf(pos.X, pos.Z)
	require.Eventually(t, func() bool {
		blocks, ok := bob.LoadedChunk(chunk.X, chunk.Z)
		if !ok {
			return false
		}
		for _, b := range blocks {
			if b.X == pos.X && b.Y == pos.Y && b.Z == pos.Z && b.Username == "alice" {
				return b.Timestamp > 0
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "блок Алисы должен примениться у Боба с serverTimestamp")
}

// Сценарий 2: три правки в пределах окна debounce уходят одним пакетом.
func TestDebouncedEditsFlushOnce(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	sm, _ := tw.newClient(t)
	resp, err := sm.Connect(ctx, "earth", "alice")
	require.NoError(t, err)

	base := resp.SpawnPosition
	for i := 0; i < 3; i++ {
		sm.AddModification(vec.Vec3{X: base.X + i, Y: 5, Z: base.Z}, str("stone"), world.ActionPlace)
	}
	assert.Equal(t, 3, sm.PendingBuffer(), "до flush все правки в буфере")

	sm.FlushBatch(ctx)
	assert.Equal(t, 0, sm.PendingBuffer())

	// Все три блока добрались до хранилища одной пачкой
	require.Eventually(t, func() bool {
		for i := 0; i < 3; i++ {
			b, _ := tw.store.GetBlock(ctx, "earth", vec.Vec3{X: base.X + i, Y: 5, Z: base.Z})
			if b == nil {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

// Сценарий 3: при недоступной сети правки переживают реконнект через
// durable-очередь и уходят одним пакетом.
func TestOfflineQueueReplayAfterReconnect(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	sm, transport := tw.newClient(t)
	resp, err := sm.Connect(ctx, "earth", "alice")
	require.NoError(t, err)

	base := resp.SpawnPosition
	transport.offline = true

	sm.AddModification(vec.Vec3{X: base.X, Y: 5, Z: base.Z}, str("stone"), world.ActionPlace)
	sm.AddModification(vec.Vec3{X: base.X + 1, Y: 5, Z: base.Z}, str("dirt"), world.ActionPlace)
	sm.FlushBatch(ctx) // сеть лежит, буфер уходит в очередь

	transport.offline = false
	require.NoError(t, sm.SyncOfflineModifications(ctx))

	require.Eventually(t, func() bool {
		b1, _ := tw.store.GetBlock(ctx, "earth", vec.Vec3{X: base.X, Y: 5, Z: base.Z})
		b2, _ := tw.store.GetBlock(ctx, "earth", vec.Vec3{X: base.X + 1, Y: 5, Z: base.Z})
		return b1 != nil && b2 != nil
	}, 2*time.Second, 10*time.Millisecond, "очередь должна доехать до хранилища после реконнекта")
}

// Пакет с невалидной правкой прерывается на её индексе, клиентская
// очередь сохраняет суффикс.
func TestPartialBatchFailureKeepsSuffix(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	sm, transport := tw.newClient(t)
	_, err := sm.Connect(ctx, "earth", "alice")
	require.NoError(t, err)

	transport.offline = true
	sm.AddModification(vec.Vec3{X: 1, Y: 5, Z: 1}, str("stone"), world.ActionPlace)
	sm.AddModification(vec.Vec3{X: 2, Y: 300, Z: 2}, str("stone"), world.ActionPlace) // y>255
	sm.AddModification(vec.Vec3{X: 3, Y: 5, Z: 3}, str("stone"), world.ActionPlace)
	sm.FlushBatch(ctx)
	transport.offline = false

	require.NoError(t, sm.SyncOfflineModifications(ctx))

	pending, err := sm.OfflineQueue().Pending("earth")
	require.NoError(t, err)
	require.Len(t, pending, 2, "суффикс с отклонённой правки должен остаться в очереди")
	assert.Equal(t, 300, pending[0].Position.Y)
}

// Конкурентные правки одной позиции сходятся к победителю по LWW.
func TestConcurrentEditsConverge(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	alice, _ := tw.newClient(t)
	aliceResp, err := alice.Connect(ctx, "earth", "alice")
	require.NoError(t, err)

	bob, _ := tw.newClient(t)
	_, err = bob.Connect(ctx, "earth", "bob")
	require.NoError(t, err)

	pos := vec.Vec3{X: aliceResp.SpawnPosition.X, Y: 5, Z: aliceResp.SpawnPosition.Z}

	alice.AddModification(pos, str("stone"), world.ActionPlace)
	alice.FlushBatch(ctx)

	time.Sleep(10 * time.Millisecond) // гарантируем более позднюю метку
	bob.AddModification(pos, str("dirt"), world.ActionPlace)
	bob.FlushBatch(ctx)

	// Более поздняя правка Боба побеждает у Алисы
	chunk := spatial.ChunkOf(pos.X, pos.Z)
	require.Eventually(t, func() bool {
		blocks, ok := alice.LoadedChunk(chunk.X, chunk.Z)
		if !ok {
			return false
		}
		for _, b := range blocks {
			if b.X == pos.X && b.Y == pos.Y && b.Z == pos.Z {
				return b.Username == "bob" && b.Type != nil && *b.Type == "dirt"
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "правки должны сойтись к победителю LWW")
}

// Присутствие: рассылка позиций доходит до клиента в том же регионе,
// а отключённый игрок исчезает из рассылки.
func TestPresenceBroadcastAndDisconnect(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	broadcaster := presence.NewBroadcaster(tw.gs.Registry(), tw.bus, 50*time.Millisecond, 0)
	broadcaster.Start(ctx)
	t.Cleanup(broadcaster.Stop)

	alice, _ := tw.newClient(t)
	aliceResp, err := alice.Connect(ctx, "earth", "alice")
	require.NoError(t, err)

	gotPositions := make(chan bool, 1)
	alice.OnEvent = func(topic string, event *protocol.Event) {
		if event.Type == protocol.EventPlayerPositions {
			select {
			case gotPositions <- true:
			default:
			}
		}
	}

	bob, _ := tw.newClient(t)
	_, err = bob.Connect(ctx, "earth", "bob")
	require.NoError(t, err)

	// Боб шлёт позицию рядом со спауном Алисы — один регион
	pos := vec.Vec3Float{
		X: float64(aliceResp.SpawnPosition.X),
		Y: float64(aliceResp.SpawnPosition.Y),
		Z: float64(aliceResp.SpawnPosition.Z),
	}
	require.NoError(t, bob.SendPosition(ctx, pos, vec.Rotation{}))

	select {
	case <-gotPositions:
	case <-time.After(2 * time.Second):
		t.Fatal("Алиса не получила рассылку позиций")
	}
}
