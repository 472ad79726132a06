package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxel-world/internal/config"
	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/observability"
	"github.com/annel0/voxel-world/internal/presence"
	"github.com/annel0/voxel-world/internal/server"
	"github.com/annel0/voxel-world/internal/storage"
)

func main() {
	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎮 Запуск сервера синхронизации мира...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(os.Getenv("WORLD_CONFIG"))
	if err != nil {
		logging.Error("❌ Ошибка загрузки конфигурации: %v", err)
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	restPort := cfg.Server.GetRESTPort()
	logging.Info("📡 Конфигурация: REST=%d, NATS=%s, Redis=%s",
		restPort, cfg.EventBus.GetNatsURL(), cfg.Redis.GetRedisAddr())

	// === OBSERVABILITY ===
	ctx := context.Background()
	shutdownTracing, err := observability.InitTelemetry(ctx, "voxel-world")
	if err != nil {
		logging.Warn("⚠️ OpenTelemetry недоступен, трассировка отключена: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	// === ИНИЦИАЛИЗАЦИЯ КОМПОНЕНТОВ ===
	logging.Debug("Подключение к Redis...")
	store, err := storage.NewRedisWorldStorage(storage.RedisOptions{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logging.Error("❌ Ошибка подключения к Redis: %v", err)
		log.Fatalf("❌ Ошибка подключения к Redis: %v", err)
	}
	defer store.Close()

	logging.Debug("Подключение к NATS...")
	bus, err := eventbus.NewNatsBus(cfg.EventBus.GetNatsURL())
	if err != nil {
		logging.Error("❌ Ошибка подключения к NATS: %v", err)
		log.Fatalf("❌ Ошибка подключения к NATS: %v", err)
	}
	defer bus.Close()

	busMetrics := eventbus.NewMetricsExporter(bus)
	busMetrics.Start()
	defer busMetrics.Stop()

	registry := presence.NewRegistry()
	gameServer := server.NewGameServer(cfg, store, bus, registry)
	defer gameServer.Close()

	broadcaster := presence.NewBroadcaster(registry, bus,
		cfg.World.GetBroadcastInterval(), cfg.World.GetStalenessTimeout())
	broadcaster.Start(ctx)
	defer broadcaster.Stop()

	restServer := server.NewRestServer(gameServer, broadcaster, restPort)
	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ REST API остановлен: %v", err)
		}
	}()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost:%d/api", restPort)
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", restPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)

	// Ждём сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := restServer.Stop(shutdownCtx); err != nil {
		logging.Warn("⚠️ Ошибка остановки REST API: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logging.Warn("⚠️ Ошибка остановки трассировки: %v", err)
	}
	logging.Info("✅ Сервер остановлен")
}
