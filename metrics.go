package walredo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "walredo"

// replicatorMetrics 重做协程的指标
type replicatorMetrics struct {
	records       *prometheus.CounterVec
	skipped       prometheus.Counter
	rounds        prometheus.Counter
	halts         prometheus.Counter
	positionPage  prometheus.Gauge
	durablePage   prometheus.Gauge
	mvccNextID    prometheus.Gauge
	replayLatency prometheus.Histogram
}

// newReplicatorMetrics registerer 为 nil 时指标不注册, 只在内部计数
func newReplicatorMetrics(registerer prometheus.Registerer) *replicatorMetrics {
	factory := promauto.With(registerer)
	return &replicatorMetrics{
		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "redo_records_total",
				Help:      "Total number of log records redone, by record kind",
			},
			[]string{"kind"},
		),
		skipped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "skipped_records_total",
				Help:      "Total number of log records skipped because they carry no redo data",
			},
		),
		rounds: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "replay_rounds_total",
				Help:      "Total number of replay rounds towards a durable position",
			},
		),
		halts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "replicator_halts_total",
				Help:      "Total number of times the replicator stopped on an error",
			},
		),
		positionPage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "redo_position_page",
				Help:      "Log page id of the current redo position",
			},
		),
		durablePage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "durable_position_page",
				Help:      "Log page id of the last observed durable position",
			},
		),
		mvccNextID: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "mvcc_next_id",
				Help:      "Next MVCC id after the last replay round",
			},
		),
		replayLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "replay_duration_seconds",
				Help:      "Duration of one replay round in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
	}
}
