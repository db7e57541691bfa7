package metrics

import (
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"

	"github.com/kxrd/partitionlog/internal/journal"
)

// LocalStatsSink is a dependency-light alternative to PrometheusSink for
// callers that want latency percentiles in-process (e.g. printed in a CLI
// summary) without standing up a scrape endpoint. It keeps one HDR
// histogram per latency series, the structure the corpus's
// HdrHistogram-go README itself uses for a single recorder guarded by a
// mutex.
type LocalStatsSink struct {
	mu sync.Mutex

	appendLatencyUs   *hdrhistogram.Histogram
	segmentRollUs     *hdrhistogram.Histogram
	appendBytesTotal  int64
	readersRewound    int64
	segmentCount      int
	firstIndex        uint64
	lastIndex         int64
}

// NewLocalStatsSink creates a sink tracking microsecond latencies from 1us
// to 1 minute with 3 significant figures of precision.
func NewLocalStatsSink() *LocalStatsSink {
	return &LocalStatsSink{
		appendLatencyUs: hdrhistogram.New(1, 60_000_000, 3),
		segmentRollUs:   hdrhistogram.New(1, 60_000_000, 3),
	}
}

var _ journal.MetricsSink = (*LocalStatsSink)(nil)

func (l *LocalStatsSink) RecordAppend(bytes int, latency time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLatencyUs.RecordValue(latency.Microseconds())
	l.appendBytesTotal += int64(bytes)
}

func (l *LocalStatsSink) ObserveSegmentRoll(latency time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segmentRollUs.RecordValue(latency.Microseconds())
}

func (l *LocalStatsSink) ObserveSegmentTruncation(blockedReaders uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readersRewound += int64(blockedReaders)
}

func (l *LocalStatsSink) SetSegmentCount(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segmentCount = n
}

func (l *LocalStatsSink) SetFirstIndex(index uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.firstIndex = index
}

func (l *LocalStatsSink) SetLastIndex(index int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastIndex = index
}

// Snapshot is a point-in-time copy of the sink's counters and latency
// percentiles, safe to print or serialize.
type Snapshot struct {
	AppendBytesTotal   int64
	ReadersRewound     int64
	SegmentCount       int
	FirstIndex         uint64
	LastIndex          int64
	AppendLatencyP50Us int64
	AppendLatencyP99Us int64
	SegmentRollP99Us   int64
}

func (l *LocalStatsSink) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		AppendBytesTotal:   l.appendBytesTotal,
		ReadersRewound:     l.readersRewound,
		SegmentCount:       l.segmentCount,
		FirstIndex:         l.firstIndex,
		LastIndex:          l.lastIndex,
		AppendLatencyP50Us: l.appendLatencyUs.ValueAtPercentile(50),
		AppendLatencyP99Us: l.appendLatencyUs.ValueAtPercentile(99),
		SegmentRollP99Us:   l.segmentRollUs.ValueAtPercentile(99),
	}
}
