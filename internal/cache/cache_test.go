package cache

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

func TestChunkCacheSetGet(t *testing.T) {
	cc := NewChunkCache(time.Minute)
	ctx := context.Background()

	stone := "stone"
	blocks := []world.Block{{X: 1, Y: 2, Z: 3, Type: &stone, Placed: true, Username: "alice", Timestamp: 100}}
	cc.Set(ctx, "earth:chunk:0:0", blocks)

	got, ok := cc.Get(ctx, "earth:chunk:0:0")
	if !ok {
		t.Fatal("ожидалось попадание в кеш")
	}
	if len(got) != 1 || got[0].Username != "alice" {
		t.Errorf("неверное содержимое кеша: %+v", got)
	}

	// Результат должен быть копией, мутации не должны влиять на кеш
	got[0].Username = "mallory"
	again, _ := cc.Get(ctx, "earth:chunk:0:0")
	if again[0].Username != "alice" {
		t.Error("кеш вернул ссылку на внутренний слайс")
	}

	if _, ok := cc.Get(ctx, "earth:chunk:5:5"); ok {
		t.Error("ожидался промах для незакешированного чанка")
	}

	stats := cc.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("неверная статистика: %+v", stats)
	}
}

func TestChunkCacheTTL(t *testing.T) {
	cc := NewChunkCache(10 * time.Millisecond)
	ctx := context.Background()

	cc.Set(ctx, "earth:chunk:0:0", nil)
	time.Sleep(30 * time.Millisecond)

	if _, ok := cc.Get(ctx, "earth:chunk:0:0"); ok {
		t.Error("запись должна была истечь по TTL")
	}
}

func TestInvalidatorDropsModifiedChunk(t *testing.T) {
	cc := NewChunkCache(time.Minute)
	bus := eventbus.NewMemoryBus(16)
	defer bus.Close()
	ctx := context.Background()

	key := spatial.ChunkHashKey("earth", 0, 0)
	cc.Set(ctx, key, nil)

	inv := NewInvalidator(cc, bus, "earth")
	defer inv.Close()

	topic := spatial.RegionTopic("earth", 0, 0)
	if err := inv.Watch(ctx, topic); err != nil {
		t.Fatalf("не удалось подписать инвалидатор: %v", err)
	}

	stone := "stone"
	data, _ := protocol.EncodeEvent(protocol.EventBlockModify, protocol.BlockModifyEvent{
		Position:  vec.Vec3{X: 5, Y: 10, Z: 5},
		BlockType: &stone,
		Action:    world.ActionPlace,
		Username:  "bob",
	})
	if err := bus.Publish(ctx, topic, data); err != nil {
		t.Fatalf("ошибка публикации: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := cc.Get(ctx, key); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("чанк не был инвалидирован после block-modify")
}
