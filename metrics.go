package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 是 Watcher 的 prometheus 指标，多个 Watcher 可以共用同一个
type Metrics struct {
	activeWatches  prometheus.Gauge
	notifications  *prometheus.CounterVec
	backendErrors  prometheus.Counter
	observerPanics prometheus.Counter
}

// NewMetrics 创建指标并注册到 reg；reg 为nil时只创建不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		activeWatches: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "dirwatcher",
			Name:      "active_watches",
			Help:      "Number of directory watches currently holding an OS handle.",
		}),
		notifications: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "dirwatcher",
			Name:      "notifications_total",
			Help:      "Total number of notifications published by watchers.",
		}, []string{"name"}),
		backendErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "dirwatcher",
			Name:      "backend_errors_total",
			Help:      "Total number of errors reported by watch backends.",
		}),
		observerPanics: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "dirwatcher",
			Name:      "observer_panics_total",
			Help:      "Total number of panics recovered from callbacks and delegates.",
		}),
	}
}
