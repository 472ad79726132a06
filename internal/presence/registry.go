// Package presence отслеживает подключённых игроков: кто на каком уровне,
// где находится и когда последний раз присылал позицию. Реестр — источник
// данных для региональной рассылки позиций и для счётчиков игроков.
package presence

import (
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/protocol"
	"github.com/annel0/voxel-world/internal/spatial"
	"github.com/annel0/voxel-world/internal/vec"
)

// Entry — состояние одного подключённого игрока.
type Entry struct {
	Username   string
	Level      string
	Mode       protocol.Mode
	Position   vec.Vec3Float
	Rotation   vec.Rotation
	LastUpdate time.Time
}

// Region возвращает регион, в котором находится игрок.
func (e Entry) Region() vec.Vec2 {
	block := e.Position.ToVec3()
	chunk := spatial.ChunkOf(block.X, block.Z)
	return spatial.RegionOf(chunk.X, chunk.Z)
}

// Registry — потокобезопасный реестр подключённых игроков.
// Одно имя может быть активно не более чем на одном уровне.
type Registry struct {
	mu      sync.RWMutex
	players map[string]*Entry // username -> entry
}

// NewRegistry создаёт пустой реестр присутствия.
func NewRegistry() *Registry {
	return &Registry{players: make(map[string]*Entry)}
}

// Add регистрирует игрока на уровне. Возвращает false, если имя уже
// активно на другом уровне (клиент должен стать наблюдателем).
func (r *Registry) Add(username, level string, mode protocol.Mode, pos vec.Vec3Float, rot vec.Rotation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.players[username]; ok && existing.Level != level {
		return false
	}
	r.players[username] = &Entry{
		Username:   username,
		Level:      level,
		Mode:       mode,
		Position:   pos,
		Rotation:   rot,
		LastUpdate: time.Now(),
	}
	return true
}

// Update обновляет позицию игрока и штамп активности.
// Возвращает false, если игрок не зарегистрирован.
func (r *Registry) Update(username string, pos vec.Vec3Float, rot vec.Rotation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.players[username]
	if !ok {
		return false
	}
	entry.Position = pos
	entry.Rotation = rot
	entry.LastUpdate = time.Now()
	return true
}

// Touch обновляет штамп активности без смены позиции. Любой запрос
// клиента считается признаком жизни.
func (r *Registry) Touch(username string) {
	r.mu.Lock()
	if entry, ok := r.players[username]; ok {
		entry.LastUpdate = time.Now()
	}
	r.mu.Unlock()
}

// Remove удаляет игрока из реестра. Возвращает его запись и признак
// того, что игрок был зарегистрирован.
func (r *Registry) Remove(username string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.players[username]
	if !ok {
		return Entry{}, false
	}
	delete(r.players, username)
	return *entry, true
}

// Get возвращает копию записи игрока.
func (r *Registry) Get(username string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.players[username]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// IsActive сообщает, подключён ли игрок к указанному уровню.
func (r *Registry) IsActive(username, level string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.players[username]
	return ok && entry.Level == level
}

// Levels возвращает уровни, на которых игрок активен (ноль или один).
func (r *Registry) Levels(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.players[username]; ok {
		return []string{entry.Level}
	}
	return nil
}

// CountByLevel возвращает число игроков (не наблюдателей) на уровне.
func (r *Registry) CountByLevel(level string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, entry := range r.players {
		if entry.Level == level && entry.Mode != protocol.ModeViewer {
			count++
		}
	}
	return count
}

// ByLevel возвращает копии записей всех игроков уровня.
func (r *Registry) ByLevel(level string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []Entry
	for _, entry := range r.players {
		if entry.Level == level {
			entries = append(entries, *entry)
		}
	}
	return entries
}

// ByRegion группирует игроков уровня по регионам.
func (r *Registry) ByRegion(level string) map[vec.Vec2][]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regions := make(map[vec.Vec2][]Entry)
	for _, entry := range r.players {
		if entry.Level != level {
			continue
		}
		region := entry.Region()
		regions[region] = append(regions[region], *entry)
	}
	return regions
}

// ActiveLevels возвращает уровни, на которых есть хотя бы один игрок.
func (r *Registry) ActiveLevels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var levels []string
	for _, entry := range r.players {
		if !seen[entry.Level] {
			seen[entry.Level] = true
			levels = append(levels, entry.Level)
		}
	}
	return levels
}

// SweepStale удаляет игроков, не проявлявших активности дольше timeout,
// и возвращает удалённые записи для рассылки отключений.
func (r *Registry) SweepStale(timeout time.Duration) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-timeout)
	var removed []Entry
	for username, entry := range r.players {
		if entry.LastUpdate.Before(cutoff) {
			removed = append(removed, *entry)
			delete(r.players, username)
		}
	}
	return removed
}
