package storage

import "github.com/prometheus/client_golang/prometheus"

var (
	writesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxel_world",
		Subsystem: "storage",
		Name:      "writes_total",
		Help:      "Записи в хранилище по виду и результату.",
	}, []string{"kind", "result"})

	writeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voxel_world",
		Subsystem: "storage",
		Name:      "write_duration_seconds",
		Help:      "Длительность пакетной записи.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "voxel_world",
		Subsystem: "storage",
		Name:      "bytes_written_total",
		Help:      "Объём записанных значений после сжатия.",
	})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "voxel_world",
		Subsystem: "storage",
		Name:      "queue_depth",
		Help:      "Записи, ожидающие выполнения или выполняемые.",
	})

	loadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxel_world",
		Subsystem: "storage",
		Name:      "loads_total",
		Help:      "Чтения из хранилища по виду и результату (found, absent, error).",
	}, []string{"kind", "result"})
)

func init() {
	prometheus.MustRegister(writesTotal, writeDuration, bytesWritten, queueDepth, loadsTotal)
}

const (
	kindChunk   = "chunk"
	kindSection = "section"
)
