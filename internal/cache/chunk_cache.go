// Package cache реализует серверный кеш списков блоков чанков.
// Начальная загрузка состояния при подключении читает десятки чанков;
// кеш снимает эту нагрузку с Redis. Инвалидация — по тем же событиям
// block-modify, которые сервер публикует в региональные топики, поэтому
// кеш остаётся корректным и при нескольких инстансах сервера.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-world/internal/world"
)

// ChunkCache — потокобезопасный кеш "ключ чанка → список блоков" с TTL.
type ChunkCache struct {
	mu      sync.RWMutex
	entries map[string]*chunkEntry
	ttl     time.Duration

	hits   int64
	misses int64
}

type chunkEntry struct {
	blocks   []world.Block
	cachedAt time.Time
}

// CacheStats — счётчики попаданий и промахов.
type CacheStats struct {
	Hits   int64
	Misses int64
	Keys   int
}

// NewChunkCache создаёт кеш с указанным TTL (0 — без истечения).
func NewChunkCache(ttl time.Duration) *ChunkCache {
	return &ChunkCache{
		entries: make(map[string]*chunkEntry),
		ttl:     ttl,
	}
}

// Get возвращает закешированный список блоков чанка.
func (cc *ChunkCache) Get(ctx context.Context, key string) ([]world.Block, bool) {
	cc.mu.RLock()
	entry, ok := cc.entries[key]
	cc.mu.RUnlock()

	if !ok {
		atomic.AddInt64(&cc.misses, 1)
		return nil, false
	}
	if cc.ttl > 0 && time.Since(entry.cachedAt) > cc.ttl {
		cc.mu.Lock()
		delete(cc.entries, key)
		cc.mu.Unlock()
		atomic.AddInt64(&cc.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&cc.hits, 1)
	return append([]world.Block(nil), entry.blocks...), true
}

// Set сохраняет список блоков чанка.
func (cc *ChunkCache) Set(ctx context.Context, key string, blocks []world.Block) {
	cc.mu.Lock()
	cc.entries[key] = &chunkEntry{
		blocks:   append([]world.Block(nil), blocks...),
		cachedAt: time.Now(),
	}
	cc.mu.Unlock()
}

// Invalidate удаляет запись чанка; вызывается при любом принятом
// изменении блока в этом чанке.
func (cc *ChunkCache) Invalidate(key string) {
	cc.mu.Lock()
	delete(cc.entries, key)
	cc.mu.Unlock()
}

// Stats возвращает счётчики кеша.
func (cc *ChunkCache) Stats() CacheStats {
	cc.mu.RLock()
	keys := len(cc.entries)
	cc.mu.RUnlock()

	return CacheStats{
		Hits:   atomic.LoadInt64(&cc.hits),
		Misses: atomic.LoadInt64(&cc.misses),
		Keys:   keys,
	}
}
