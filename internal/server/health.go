package server

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// HealthMetrics отдаёт показатели процесса для /health.
type HealthMetrics struct {
	startTime time.Time
}

// NewHealthMetrics создаёт метрики с фиксацией времени старта.
func NewHealthMetrics() *HealthMetrics {
	return &HealthMetrics{startTime: time.Now()}
}

// Uptime возвращает время работы сервера в человекочитаемом виде.
func (hm *HealthMetrics) Uptime() string {
	return time.Since(hm.startTime).Round(time.Second).String()
}

// MemoryUsageMB возвращает использование памяти в мегабайтах.
func (hm *HealthMetrics) MemoryUsageMB() (float64, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Alloc) / 1024 / 1024, nil
}

// CPUUsagePercent возвращает использование CPU процессом в процентах.
func (hm *HealthMetrics) CPUUsagePercent() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		// Если метрика процесса недоступна, берём системную
		cpuPercents, err := cpu.Percent(100*time.Millisecond, false)
		if err != nil || len(cpuPercents) == 0 {
			return 0, err
		}
		return cpuPercents[0], nil
	}
	return cpuPercent, nil
}

// Goroutines возвращает число горутин процесса.
func (hm *HealthMetrics) Goroutines() int {
	return runtime.NumGoroutine()
}
