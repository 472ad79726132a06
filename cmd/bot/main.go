// Бот — headless-клиент для нагрузочных прогонов и smoke-проверок:
// подключается к уровню, ходит по миру, ставит и убирает блоки.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/annel0/voxel-world/internal/client"
	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8088", "адрес REST API сервера")
	natsURL := flag.String("nats", "nats://localhost:4222", "адрес NATS")
	level := flag.String("level", "earth", "уровень для подключения")
	name := flag.String("name", "", "имя бота (по умолчанию случайное)")
	duration := flag.Duration("duration", 60*time.Second, "длительность прогона")
	editRate := flag.Duration("edit-every", 2*time.Second, "период правок блоков")
	flag.Parse()

	if err := logging.InitDefaultLogger("bot"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	username := *name
	if username == "" {
		username = fmt.Sprintf("bot-%04d", rand.Intn(10000))
	}
	logging.Info("🤖 Запуск бота %s → %s (уровень %s)", username, *serverURL, *level)

	bus, err := eventbus.NewNatsBus(*natsURL)
	if err != nil {
		logging.Error("❌ Ошибка подключения к NATS: %v", err)
		log.Fatalf("❌ Ошибка подключения к NATS: %v", err)
	}
	defer bus.Close()

	queueDir := filepath.Join(os.TempDir(), "voxel-bot-"+username)
	queue, err := client.NewOfflineQueue(queueDir)
	if err != nil {
		logging.Error("❌ Ошибка открытия offline-очереди: %v", err)
		log.Fatalf("❌ Ошибка открытия offline-очереди: %v", err)
	}
	defer queue.Close()

	sm := client.NewSyncManager(client.NewHTTPTransport(*serverURL), bus, queue, 2)
	ctx := context.Background()

	resp, err := sm.Connect(ctx, *level, username)
	if err != nil {
		logging.Error("❌ Подключение не удалось: %v", err)
		log.Fatalf("❌ Подключение не удалось: %v", err)
	}
	logging.Info("✅ Бот в мире: спаун %s, игроков рядом: %d", resp.SpawnPosition.Key(), len(resp.Players))

	pos := vec.Vec3Float{
		X: float64(resp.SpawnPosition.X),
		Y: float64(resp.SpawnPosition.Y),
		Z: float64(resp.SpawnPosition.Z),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	moveTicker := time.NewTicker(500 * time.Millisecond)
	defer moveTicker.Stop()
	editTicker := time.NewTicker(*editRate)
	defer editTicker.Stop()
	done := time.After(*duration)

	blockTypes := []string{"stone", "dirt", "wood", "glass"}

loop:
	for {
		select {
		case <-sigCh:
			logging.Info("📡 Сигнал завершения")
			break loop
		case <-done:
			logging.Info("⏱ Время прогона истекло")
			break loop
		case <-moveTicker.C:
			// Случайное блуждание
			pos.X += float64(rand.Intn(7) - 3)
			pos.Z += float64(rand.Intn(7) - 3)
			if err := sm.SendPosition(ctx, pos, vec.Rotation{Yaw: rand.Float64() * 360}); err != nil {
				logging.Warn("⚠️ Ошибка отправки позиции: %v", err)
			}
		case <-editTicker.C:
			block := pos.ToVec3()
			block.Y = resp.SpawnPosition.Y
			if rand.Intn(4) == 0 {
				sm.AddModification(block, nil, world.ActionRemove)
			} else {
				bt := blockTypes[rand.Intn(len(blockTypes))]
				sm.AddModification(block, &bt, world.ActionPlace)
			}
		}
	}

	if err := sm.Disconnect(ctx); err != nil {
		logging.Warn("⚠️ Ошибка отключения: %v", err)
	}
	logging.Info("✅ Бот завершил работу, загружено чанков: %d", sm.LoadedCount())
}
