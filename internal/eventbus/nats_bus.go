package eventbus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"

	gzip "github.com/klauspost/compress/gzip"
	nats "github.com/nats-io/nats.go"
)

// Кадрирование полезной нагрузки: первый байт — маркер сжатия.
const (
	frameRaw  byte = 0
	frameGzip byte = 1

	// compressThreshold — полезные нагрузки крупнее этого порога (байт)
	// сжимаются gzip перед публикацией. Рассылки списков блоков чанка
	// легко превышают MTU, позиции игроков — нет.
	compressThreshold = 1024
)

// NatsBus реализует PubSub поверх core NATS.
// Топики (`region:level:x:z`, `game:level`) публикуются как subject'ы
// напрямую: внутри одного subject NATS сохраняет порядок публикации.
type NatsBus struct {
	nc        *nats.Conn
	published uint64
	consumed  uint64
	dropped   uint64
}

// NewNatsBus подключается к кластеру NATS.
// url: nats://127.0.0.1:4222.
func NewNatsBus(url string) (*NatsBus, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NatsBus{nc: nc}, nil
}

// Publish отправляет сообщение в топик, сжимая крупные нагрузки.
func (nb *NatsBus) Publish(ctx context.Context, topic string, data []byte) error {
	framed, err := frame(data)
	if err != nil {
		atomic.AddUint64(&nb.dropped, 1)
		return err
	}

	if err := nb.nc.Publish(topic, framed); err != nil {
		atomic.AddUint64(&nb.dropped, 1)
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	atomic.AddUint64(&nb.published, 1)
	return nil
}

// Subscribe подписывается на топик; обработчик вызывается в горутине NATS.
func (nb *NatsBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	sub, err := nb.nc.Subscribe(topic, func(msg *nats.Msg) {
		data, err := unframe(msg.Data)
		if err != nil {
			atomic.AddUint64(&nb.dropped, 1)
			return
		}
		h(ctx, msg.Subject, data)
		atomic.AddUint64(&nb.consumed, 1)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	return &natsSub{sub}, nil
}

// Metrics возвращает текущие метрики.
func (nb *NatsBus) Metrics() Stats {
	return Stats{
		Published: atomic.LoadUint64(&nb.published),
		Consumed:  atomic.LoadUint64(&nb.consumed),
		Dropped:   atomic.LoadUint64(&nb.dropped),
	}
}

// Close дожидается отправки буферизованных сообщений и закрывает соединение.
func (nb *NatsBus) Close() error {
	return nb.nc.Drain()
}

type natsSub struct {
	s *nats.Subscription
}

func (n *natsSub) Unsubscribe() error {
	return n.s.Unsubscribe()
}

// frame добавляет маркер сжатия и при необходимости сжимает данные.
func frame(data []byte) ([]byte, error) {
	if len(data) < compressThreshold {
		return append([]byte{frameRaw}, data...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(frameGzip)
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// unframe снимает маркер и распаковывает сжатые данные.
func unframe(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("пустая полезная нагрузка")
	}

	switch payload[0] {
	case frameRaw:
		return payload[1:], nil
	case frameGzip:
		gz, err := gzip.NewReader(bytes.NewReader(payload[1:]))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		return io.ReadAll(gz)
	default:
		return nil, fmt.Errorf("неизвестный маркер кадра: %d", payload[0])
	}
}
