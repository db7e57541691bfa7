package journal

import "time"

// MetricsSink is the set of counters/timers hooks the journal reports
// through. Metrics transport itself is out of scope for the journal;
// concrete sinks (Prometheus, an HDR-histogram local recorder, ...) live
// in sibling packages and satisfy this interface.
type MetricsSink interface {
	RecordAppend(bytes int, latency time.Duration)
	ObserveSegmentRoll(latency time.Duration)
	ObserveSegmentTruncation(blockIndexes uint64)
	SetSegmentCount(n int)
	SetFirstIndex(index uint64)
	SetLastIndex(index int64)
}

type noopMetrics struct{}

func (noopMetrics) RecordAppend(int, time.Duration)   {}
func (noopMetrics) ObserveSegmentRoll(time.Duration)  {}
func (noopMetrics) ObserveSegmentTruncation(uint64)   {}
func (noopMetrics) SetSegmentCount(int)               {}
func (noopMetrics) SetFirstIndex(uint64)              {}
func (noopMetrics) SetLastIndex(int64)                {}

// NoopMetrics is a MetricsSink that discards everything. It is the
// journal's default when no sink is supplied.
var NoopMetrics MetricsSink = noopMetrics{}
