package presence

import (
	"context"
	"time"

	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/vec"
)

// Broadcaster рассылает позиции игроков по региональным топикам с
// фиксированной частотой. Между тиками отправляется только изменившееся:
// если состав и позиции игроков региона не менялись с прошлого тика,
// публикация пропускается.
type Broadcaster struct {
	registry *Registry
	bus      eventbus.PubSub
	interval time.Duration
	staleTTL time.Duration

	// снимок последней рассылки: level -> region -> username -> state
	lastSent map[string]map[vec.Vec2]map[string]protocol.PlayerState
	// последние разосланные счётчики игроков по уровням
	lastCounts map[string]int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBroadcaster создаёт рассыльщик позиций.
func NewBroadcaster(registry *Registry, bus eventbus.PubSub, interval, staleTTL time.Duration) *Broadcaster {
	return &Broadcaster{
		registry:   registry,
		bus:        bus,
		interval:   interval,
		staleTTL:   staleTTL,
		lastSent:   make(map[string]map[vec.Vec2]map[string]protocol.PlayerState),
		lastCounts: make(map[string]int),
	}
}

// Start запускает цикл рассылки в отдельной горутине.
func (b *Broadcaster) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		logging.Info("📡 Рассылка позиций запущена (интервал %v)", b.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sweep(ctx)
				b.tick(ctx)
			}
		}
	}()
}

// Stop останавливает цикл рассылки и дожидается его завершения.
func (b *Broadcaster) Stop() {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
}

// sweep выбрасывает протухших игроков и рассылает их отключения.
func (b *Broadcaster) sweep(ctx context.Context) {
	if b.staleTTL <= 0 {
		return
	}
	for _, entry := range b.registry.SweepStale(b.staleTTL) {
		logging.Warn("⚠️ Игрок %s отключён по таймауту неактивности", entry.Username)
		b.announceDisconnect(ctx, entry)
	}
}

// announceDisconnect публикует player-disconnected в топик уровня.
func (b *Broadcaster) announceDisconnect(ctx context.Context, entry Entry) {
	data, err := protocol.EncodeEvent(protocol.EventPlayerDisconnected,
		protocol.PlayerDisconnectedEvent{Username: entry.Username})
	if err != nil {
		logging.Error("❌ Ошибка кодирования player-disconnected: %v", err)
		return
	}
	if err := b.bus.Publish(ctx, spatial.LevelTopic(entry.Level), data); err != nil {
		logging.Error("❌ Ошибка публикации player-disconnected: %v", err)
	}
}

// AnnounceDisconnect рассылает выход игрока (вызывается сервером при
// явном отключении).
func (b *Broadcaster) AnnounceDisconnect(ctx context.Context, entry Entry) {
	b.announceDisconnect(ctx, entry)
}

func (b *Broadcaster) tick(ctx context.Context) {
	levels := b.registry.ActiveLevels()
	active := make(map[string]bool, len(levels))

	for _, level := range levels {
		active[level] = true
		b.broadcastLevel(ctx, level)
		b.broadcastCount(ctx, level)
	}

	// Уровни, опустевшие с прошлого тика: пустые пакеты по их регионам,
	// финальный счётчик 0 и очистка снимка
	for level, regions := range b.lastSent {
		if active[level] {
			continue
		}
		for region := range regions {
			b.publishPositions(ctx, level, region, []protocol.PlayerState{})
		}
		delete(b.lastSent, level)
	}
	for level, last := range b.lastCounts {
		if !active[level] {
			if last != 0 {
				b.publishCount(ctx, level, 0)
			}
			delete(b.lastCounts, level)
		}
	}
}

func (b *Broadcaster) broadcastLevel(ctx context.Context, level string) {
	byRegion := b.registry.ByRegion(level)

	prev := b.lastSent[level]
	if prev == nil {
		prev = make(map[vec.Vec2]map[string]protocol.PlayerState)
	}
	next := make(map[vec.Vec2]map[string]protocol.PlayerState, len(byRegion))

	for region, entries := range byRegion {
		states := make(map[string]protocol.PlayerState, len(entries))
		players := make([]protocol.PlayerState, 0, len(entries))
		for _, entry := range entries {
			state := protocol.PlayerState{
				Username: entry.Username,
				Position: entry.Position,
				Rotation: entry.Rotation,
			}
			states[entry.Username] = state
			players = append(players, state)
		}
		next[region] = states

		if regionUnchanged(prev[region], states) {
			continue
		}
		b.publishPositions(ctx, level, region, players)
	}

	// Регионы, опустевшие с прошлого тика, получают пустой пакет,
	// чтобы подписчики убрали чужие аватары
	for region := range prev {
		if _, still := next[region]; !still {
			b.publishPositions(ctx, level, region, []protocol.PlayerState{})
		}
	}

	b.lastSent[level] = next
}

func (b *Broadcaster) publishPositions(ctx context.Context, level string, region vec.Vec2, players []protocol.PlayerState) {
	data, err := protocol.EncodeEvent(protocol.EventPlayerPositions,
		protocol.PlayerPositionsEvent{Players: players})
	if err != nil {
		logging.Error("❌ Ошибка кодирования player-positions: %v", err)
		return
	}
	topic := spatial.RegionTopic(level, region.X, region.Z)
	if err := b.bus.Publish(ctx, topic, data); err != nil {
		logging.Error("❌ Ошибка публикации позиций в %s: %v", topic, err)
	}
}

func (b *Broadcaster) broadcastCount(ctx context.Context, level string) {
	count := b.registry.CountByLevel(level)
	if last, ok := b.lastCounts[level]; ok && last == count {
		return
	}
	b.publishCount(ctx, level, count)
	b.lastCounts[level] = count
}

func (b *Broadcaster) publishCount(ctx context.Context, level string, count int) {
	data, err := protocol.EncodeEvent(protocol.EventPlayerCount,
		protocol.PlayerCountEvent{Level: level, Count: count})
	if err != nil {
		logging.Error("❌ Ошибка кодирования player-count-update: %v", err)
		return
	}
	if err := b.bus.Publish(ctx, spatial.LevelTopic(level), data); err != nil {
		logging.Error("❌ Ошибка публикации счётчика игроков: %v", err)
	}
}

func regionUnchanged(prev, next map[string]protocol.PlayerState) bool {
	if len(prev) != len(next) {
		return false
	}
	for username, state := range next {
		old, ok := prev[username]
		if !ok || old != state {
			return false
		}
	}
	return true
}
