package world

import "github.com/prometheus/client_golang/prometheus"

// Метрики кэша мира. Регистрируются в глобальном реестре Prometheus.
var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxel_world",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Обращения к кэшу, обслуженные из памяти.",
	}, []string{"world", "kind"})

	cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxel_world",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Обращения к кэшу, потребовавшие загрузки.",
	}, []string{"world", "kind"})

	cacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxel_world",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Вытесненные из кэша чанки и секции.",
	}, []string{"world", "kind"})

	cacheResident = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "voxel_world",
		Subsystem: "cache",
		Name:      "resident",
		Help:      "Количество чанков и секций в кэше.",
	}, []string{"world", "kind"})

	chunkLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxel_world",
		Name:      "chunk_loads_total",
		Help:      "Загрузки чанков по результату (loaded, generated, absent, error).",
	}, []string{"world", "result"})

	generateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voxel_world",
		Name:      "chunk_generate_duration_seconds",
		Help:      "Длительность генерации чанка.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"world"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheEvictions, cacheResident, chunkLoads, generateDuration)
}

const (
	kindChunk   = "chunk"
	kindSection = "section"
)
