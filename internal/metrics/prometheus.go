// Package metrics provides concrete journal.MetricsSink implementations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kxrd/partitionlog/internal/journal"
)

// PrometheusSink reports journal activity as Prometheus collectors,
// registered eagerly the way dreamsxin-wal's newWALMetrics and
// xlwh-prometheus's tsdb/wal newWALMetrics both do.
type PrometheusSink struct {
	appendBytes       prometheus.Histogram
	appendLatency     prometheus.Histogram
	segmentRollTime   prometheus.Histogram
	truncatedIndexes  prometheus.Counter
	segmentCount      prometheus.Gauge
	firstIndex        prometheus.Gauge
	lastIndex         prometheus.Gauge
}

// NewPrometheusSink builds and registers a PrometheusSink against reg. A
// nil reg registers against prometheus.DefaultRegisterer.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusSink{
		appendBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "partitionlog",
			Subsystem: "journal",
			Name:      "append_bytes",
			Help:      "Size in bytes of appended record payloads.",
			Buckets:   prometheus.ExponentialBuckets(32, 2, 12),
		}),
		appendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "partitionlog",
			Subsystem: "journal",
			Name:      "append_latency_seconds",
			Help:      "Latency of a single Append call.",
			Buckets:   prometheus.DefBuckets,
		}),
		segmentRollTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "partitionlog",
			Subsystem: "journal",
			Name:      "segment_roll_latency_seconds",
			Help:      "Latency of rolling over to a new segment file.",
			Buckets:   prometheus.DefBuckets,
		}),
		truncatedIndexes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "partitionlog",
			Subsystem: "journal",
			Name:      "readers_rewound_total",
			Help:      "Number of open readers rewound by a truncation.",
		}),
		segmentCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "partitionlog",
			Subsystem: "journal",
			Name:      "segments",
			Help:      "Current number of segment files on disk.",
		}),
		firstIndex: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "partitionlog",
			Subsystem: "journal",
			Name:      "first_index",
			Help:      "Lowest retained journal index.",
		}),
		lastIndex: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "partitionlog",
			Subsystem: "journal",
			Name:      "last_index",
			Help:      "Highest written journal index.",
		}),
	}
}

var _ journal.MetricsSink = (*PrometheusSink)(nil)

func (p *PrometheusSink) RecordAppend(bytes int, latency time.Duration) {
	p.appendBytes.Observe(float64(bytes))
	p.appendLatency.Observe(latency.Seconds())
}

func (p *PrometheusSink) ObserveSegmentRoll(latency time.Duration) {
	p.segmentRollTime.Observe(latency.Seconds())
}

func (p *PrometheusSink) ObserveSegmentTruncation(blockedReaders uint64) {
	p.truncatedIndexes.Add(float64(blockedReaders))
}

func (p *PrometheusSink) SetSegmentCount(n int) { p.segmentCount.Set(float64(n)) }

func (p *PrometheusSink) SetFirstIndex(index uint64) { p.firstIndex.Set(float64(index)) }

func (p *PrometheusSink) SetLastIndex(index int64) { p.lastIndex.Set(float64(index)) }
