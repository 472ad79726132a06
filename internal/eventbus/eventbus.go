// Package eventbus определяет транспорт pub/sub с топиковой семантикой.
// Регион мира — единица fanout: каждый региональный топик получает блочные
// и позиционные события своего региона, топик уровня — дружбу и счётчики.
package eventbus

import "context"

// Handler потребляет сообщения топика.
type Handler func(ctx context.Context, topic string, data []byte)

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe() error
}

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// PubSub определяет абстракцию шины сообщений.
// Реализации: in-memory (тесты, single-node) и NATS (продакшен).
type PubSub interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}
