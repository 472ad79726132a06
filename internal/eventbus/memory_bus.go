package eventbus

import (
	"context"
	"sync"
)

type memoryMessage struct {
	topic string
	data  []byte
}

type memorySubscriber struct {
	topic   string
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// memoryBus — in-memory реализация PubSub для тестов и single-node запуска.
// Доставка сохраняет порядок публикации в рамках одного топика: dispatchLoop
// обрабатывает буфер последовательно и вызывает обработчики синхронно.
type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]*memorySubscriber
	nextID      int
	stats       Stats
	buffer      chan memoryMessage
	done        chan struct{}
	closeOnce   sync.Once
}

// NewMemoryBus создаёт in-memory шину с указанным буфером.
func NewMemoryBus(capacity int) PubSub {
	mb := &memoryBus{
		subscribers: make(map[int]*memorySubscriber),
		buffer:      make(chan memoryMessage, capacity),
		done:        make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, topic string, data []byte) error {
	// Копируем данные: вызывающий может переиспользовать срез.
	msg := memoryMessage{topic: topic, data: append([]byte(nil), data...)}

	select {
	case mb.buffer <- msg:
		mb.mu.Lock()
		mb.stats.Published++
		mb.mu.Unlock()
		return nil
	case <-ctx.Done():
		mb.mu.Lock()
		mb.stats.Dropped++
		mb.mu.Unlock()
		return ctx.Err()
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	cctx, cancel := context.WithCancel(ctx)

	mb.mu.Lock()
	id := mb.nextID
	mb.nextID++
	mb.subscribers[id] = &memorySubscriber{topic: topic, handler: h, ctx: cctx, cancel: cancel}
	mb.mu.Unlock()

	return &memorySub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	s := mb.stats
	s.InFlight = len(mb.buffer)
	return s
}

func (mb *memoryBus) Close() error {
	mb.closeOnce.Do(func() {
		close(mb.done)
	})
	return nil
}

// dispatchLoop рассылает сообщения подписчикам топика в порядке публикации.
func (mb *memoryBus) dispatchLoop() {
	for {
		select {
		case <-mb.done:
			return
		case msg := <-mb.buffer:
			mb.mu.RLock()
			subs := make([]*memorySubscriber, 0, len(mb.subscribers))
			for _, sub := range mb.subscribers {
				if sub.topic == msg.topic {
					subs = append(subs, sub)
				}
			}
			mb.mu.RUnlock()

			for _, sub := range subs {
				select {
				case <-sub.ctx.Done():
					continue
				default:
				}
				// Синхронный вызов сохраняет порядок в рамках топика.
				sub.handler(sub.ctx, msg.topic, msg.data)
				mb.mu.Lock()
				mb.stats.Consumed++
				mb.mu.Unlock()
			}
		}
	}
}

type memorySub struct {
	bus *memoryBus
	id  int
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
	return nil
}
