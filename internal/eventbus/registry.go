package eventbus

import (
	"context"
	"sync"
)

// TopicRegistry — явный реестр обработчиков по имени топика.
// Клиентский менеджер синхронизации регистрирует обработчик при подписке
// на регион и снимает его при уходе из региона; Dispatch маршрутизирует
// входящее сообщение по строковому ключу. Данные вместо замыканий — чтобы
// состояние подписок было наблюдаемым и тестируемым.
type TopicRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewTopicRegistry создаёт пустой реестр.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{handlers: make(map[string]Handler)}
}

// Register привязывает обработчик к топику, заменяя предыдущий.
func (tr *TopicRegistry) Register(topic string, h Handler) {
	tr.mu.Lock()
	tr.handlers[topic] = h
	tr.mu.Unlock()
}

// Unregister удаляет обработчик топика.
func (tr *TopicRegistry) Unregister(topic string) {
	tr.mu.Lock()
	delete(tr.handlers, topic)
	tr.mu.Unlock()
}

// Dispatch вызывает обработчик топика; сообщения без обработчика
// молча игнорируются (подписка уже снята).
func (tr *TopicRegistry) Dispatch(ctx context.Context, topic string, data []byte) {
	tr.mu.RLock()
	h, ok := tr.handlers[topic]
	tr.mu.RUnlock()

	if ok {
		h(ctx, topic, data)
	}
}

// Topics возвращает список зарегистрированных топиков.
func (tr *TopicRegistry) Topics() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	topics := make([]string, 0, len(tr.handlers))
	for t := range tr.handlers {
		topics = append(topics, t)
	}
	return topics
}

// Has сообщает, зарегистрирован ли обработчик для топика.
func (tr *TopicRegistry) Has(topic string) bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	_, ok := tr.handlers[topic]
	return ok
}
