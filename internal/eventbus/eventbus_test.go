package eventbus

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

// TestMemoryBusTopicIsolation проверяет, что подписчик получает только
// сообщения своего топика.
func TestMemoryBusTopicIsolation(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var gotA, gotB [][]byte

	subA, err := bus.Subscribe(ctx, "region:earth:0:0", func(_ context.Context, _ string, data []byte) {
		mu.Lock()
		gotA = append(gotA, data)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("подписка A: %v", err)
	}
	defer subA.Unsubscribe()

	subB, err := bus.Subscribe(ctx, "region:earth:1:0", func(_ context.Context, _ string, data []byte) {
		mu.Lock()
		gotB = append(gotB, data)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("подписка B: %v", err)
	}
	defer subB.Unsubscribe()

	if err := bus.Publish(ctx, "region:earth:0:0", []byte("a1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, "region:earth:0:0", []byte("a2")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, "region:earth:1:0", []byte("b1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotA) == 2 && len(gotB) == 1
	})

	mu.Lock()
	defer mu.Unlock()

	// Порядок в рамках топика — порядок публикации.
	if string(gotA[0]) != "a1" || string(gotA[1]) != "a2" {
		t.Errorf("нарушен порядок доставки: %q, %q", gotA[0], gotA[1])
	}
	if string(gotB[0]) != "b1" {
		t.Errorf("неверное сообщение топика B: %q", gotB[0])
	}
}

// TestMemoryBusUnsubscribe проверяет, что после отписки сообщения не доставляются.
func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0

	sub, err := bus.Subscribe(ctx, "game:earth", func(_ context.Context, _ string, _ []byte) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("подписка: %v", err)
	}

	if err := bus.Publish(ctx, "game:earth", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("отписка: %v", err)
	}

	if err := bus.Publish(ctx, "game:earth", []byte("y")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("сообщение доставлено после отписки: count=%d", count)
	}
}

// TestTopicRegistry проверяет регистрацию, маршрутизацию и снятие обработчиков.
func TestTopicRegistry(t *testing.T) {
	reg := NewTopicRegistry()
	ctx := context.Background()

	var got []string
	reg.Register("region:earth:0:0", func(_ context.Context, topic string, data []byte) {
		got = append(got, topic+"/"+string(data))
	})

	if !reg.Has("region:earth:0:0") {
		t.Error("Has должен вернуть true для зарегистрированного топика")
	}

	reg.Dispatch(ctx, "region:earth:0:0", []byte("m1"))
	reg.Dispatch(ctx, "region:earth:9:9", []byte("m2")) // нет обработчика — игнор

	if len(got) != 1 || got[0] != "region:earth:0:0/m1" {
		t.Errorf("неверная маршрутизация: %v", got)
	}

	reg.Unregister("region:earth:0:0")
	reg.Dispatch(ctx, "region:earth:0:0", []byte("m3"))
	if len(got) != 1 {
		t.Errorf("сообщение доставлено после Unregister: %v", got)
	}
	if len(reg.Topics()) != 0 {
		t.Errorf("реестр не пуст: %v", reg.Topics())
	}
}

// TestFrameRoundTrip проверяет кадрирование: короткие нагрузки проходят
// как есть, длинные сжимаются и восстанавливаются.
func TestFrameRoundTrip(t *testing.T) {
	short := []byte("short payload")
	framed, err := frame(short)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if framed[0] != frameRaw {
		t.Errorf("короткая нагрузка должна идти без сжатия, маркер=%d", framed[0])
	}
	back, err := unframe(framed)
	if err != nil {
		t.Fatalf("unframe: %v", err)
	}
	if !bytes.Equal(back, short) {
		t.Errorf("короткая нагрузка искажена: %q", back)
	}

	long := bytes.Repeat([]byte("block:1:2:3;"), 200)
	framed, err = frame(long)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if framed[0] != frameGzip {
		t.Errorf("длинная нагрузка должна сжиматься, маркер=%d", framed[0])
	}
	if len(framed) >= len(long) {
		t.Errorf("сжатие не уменьшило размер: %d >= %d", len(framed), len(long))
	}
	back, err = unframe(framed)
	if err != nil {
		t.Fatalf("unframe: %v", err)
	}
	if !bytes.Equal(back, long) {
		t.Errorf("длинная нагрузка искажена после распаковки")
	}
}

// waitFor опрашивает условие до таймаута.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("условие не выполнено за отведённое время")
}
