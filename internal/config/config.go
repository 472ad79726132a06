package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.

type Config struct {
	EventBus EventBusConfig `yaml:"eventbus"`
	Redis    RedisConfig    `yaml:"redis"`
	Server   ServerConfig   `yaml:"server"`
	World    WorldConfig    `yaml:"world"`
}

type EventBusConfig struct {
	URL string `yaml:"url"` // nats://127.0.0.1:4222
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

// WorldConfig содержит параметры игрового мира и синхронизации.
type WorldConfig struct {
	DrawDistance     int `yaml:"draw_distance"`     // радиус отрисовки в чанках
	MaxCoordinate    int `yaml:"max_coordinate"`    // максимум |x|,|z| для блоков
	StalenessSeconds int `yaml:"staleness_seconds"` // таймаут очистки presence
	BroadcastHz      int `yaml:"broadcast_hz"`      // частота рассылки позиций
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "WORLD_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "WORLD_METRICS_PORT", 2112)
}

// GetNatsURL возвращает адрес NATS с приоритетом: config -> env -> default.
func (e *EventBusConfig) GetNatsURL() string {
	if e.URL != "" {
		return e.URL
	}
	if env := os.Getenv("WORLD_NATS_URL"); env != "" {
		return env
	}
	return "nats://127.0.0.1:4222"
}

// GetRedisAddr возвращает адрес Redis с приоритетом: config -> env -> default.
func (r *RedisConfig) GetRedisAddr() string {
	if r.Addr != "" {
		return r.Addr
	}
	if env := os.Getenv("WORLD_REDIS_ADDR"); env != "" {
		return env
	}
	return "localhost:6379"
}

// GetDrawDistance возвращает радиус отрисовки в чанках (дефолт 2).
func (w *WorldConfig) GetDrawDistance() int {
	if w.DrawDistance > 0 {
		return w.DrawDistance
	}
	return 2
}

// GetMaxCoordinate возвращает максимальную |координату| блока (дефолт 100000).
func (w *WorldConfig) GetMaxCoordinate() int {
	if w.MaxCoordinate > 0 {
		return w.MaxCoordinate
	}
	return 100000
}

// GetStalenessTimeout возвращает таймаут очистки presence-записей.
// По умолчанию 120 секунд; короткий вариант (10s) задаётся конфигом.
func (w *WorldConfig) GetStalenessTimeout() time.Duration {
	if w.StalenessSeconds > 0 {
		return time.Duration(w.StalenessSeconds) * time.Second
	}
	return 120 * time.Second
}

// GetBroadcastInterval возвращает интервал рассылки позиций (дефолт 10 Гц).
func (w *WorldConfig) GetBroadcastInterval() time.Duration {
	hz := w.BroadcastHz
	if hz <= 0 {
		hz = 10
	}
	return time.Second / time.Duration(hz)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV WORLD_CONFIG; без конфига
// возвращается пустая структура — все геттеры отдают значения по умолчанию.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("WORLD_CONFIG")
		if path == "" {
			return &Config{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
