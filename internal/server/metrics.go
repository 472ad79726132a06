package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — счётчики конвейера приёма правок и подключений.
//
// * world_modifications_accepted_total — принятые правки
// * world_modifications_rejected_total — отклонённые валидацией правки
// * world_batches_total{result} — пакеты правок по исходу
// * world_persist_retries_total — повторы записи в хранилище
// * world_persist_failures_total — пакеты, не записанные после всех повторов
// * world_connects_total{mode} — подключения по режиму
type Metrics struct {
	ModificationsAccepted prometheus.Counter
	ModificationsRejected prometheus.Counter
	Batches               *prometheus.CounterVec
	PersistRetries        prometheus.Counter
	PersistFailures       prometheus.Counter
	Connects              *prometheus.CounterVec
}

// NewMetrics создаёт и регистрирует метрики в дефолтном регистре.
// Повторная регистрация (несколько серверов в одном процессе тестов)
// переиспользует уже зарегистрированные коллекторы.
func NewMetrics() *Metrics {
	m := &Metrics{
		ModificationsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "world",
			Name:      "modifications_accepted_total",
			Help:      "Число принятых правок блоков.",
		}),
		ModificationsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "world",
			Name:      "modifications_rejected_total",
			Help:      "Число правок, отклонённых валидацией.",
		}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "world",
			Name:      "batches_total",
			Help:      "Число обработанных пакетов правок по исходу.",
		}, []string{"result"}),
		PersistRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "world",
			Name:      "persist_retries_total",
			Help:      "Число повторов записи пакета в хранилище.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "world",
			Name:      "persist_failures_total",
			Help:      "Число пакетов, не записанных после исчерпания повторов.",
		}),
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "world",
			Name:      "connects_total",
			Help:      "Число подключений по режиму.",
		}, []string{"mode"}),
	}

	m.ModificationsAccepted = registerCounter(m.ModificationsAccepted)
	m.ModificationsRejected = registerCounter(m.ModificationsRejected)
	m.Batches = registerCounterVec(m.Batches)
	m.PersistRetries = registerCounter(m.PersistRetries)
	m.PersistFailures = registerCounter(m.PersistFailures)
	m.Connects = registerCounterVec(m.Connects)
	return m
}

func registerCounter(c prometheus.Counter) prometheus.Counter {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Counter)
		}
	}
	return c
}

func registerCounterVec(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return c
}
