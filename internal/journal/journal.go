package journal

import (
	"io"
	"sync"

	"go.uber.org/zap"
)

// Journal is a segmented, append-only log of Records, durable across
// process restarts and safe for one writer plus many concurrent readers.
// It is the facade spec.md section 4.7 describes: construction and
// shutdown, reader lifecycle, and the bounds queries every caller needs,
// with the actual mutating operations delegated to JournalWriter.
//
// Lock discipline: mu is held shared (RLock) by the append fast path's
// frame write and by every reader operation, and held exclusive (Lock) by
// DeleteAfter, DeleteUntil, Reset and Close, by Append when it must roll
// to a new segment, and briefly by every Append while it publishes the
// new last index and index entries. The frame write itself thus never
// waits for readers, while the operations that mutate the segment list,
// the derived indexes or reader cursors are serialized against them.
type Journal struct {
	mu sync.RWMutex

	cfg     Config
	logger  *zap.Logger
	metrics MetricsSink
	clock   Clock

	manager *segmentsManager
	index   *sparseIndex
	asqnIdx *asqnIndex
	writer  *JournalWriter

	firstIndexVal uint64
	lastIndexVal  int64
	closed        bool

	readersMu    sync.Mutex
	readers      map[uint64]*JournalReader
	nextReaderID uint64
}

// Option configures optional collaborators on Open; Config itself only
// carries the plain, serializable settings spec.md's table enumerates.
type Option func(*Journal)

// WithLogger overrides the journal's zap logger (defaults to zap.NewNop()).
func WithLogger(l *zap.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// WithMetrics overrides the journal's metrics sink (defaults to NoopMetrics).
func WithMetrics(m MetricsSink) Option {
	return func(j *Journal) { j.metrics = m }
}

// WithClock overrides the journal's clock, for deterministic tests.
func WithClock(c Clock) Option {
	return func(j *Journal) { j.clock = c }
}

// Open opens or creates the journal described by cfg, recovering any
// partially-written tail and rebuilding the in-memory sparse and ASQN
// indexes by scanning the recovered segments.
func Open(cfg Config, opts ...Option) (*Journal, error) {
	cfg.setDefaults()

	j := &Journal{
		cfg:     cfg,
		logger:  zap.NewNop(),
		metrics: NoopMetrics,
		clock:   SystemClock,
		readers: make(map[uint64]*JournalReader),
	}
	for _, opt := range opts {
		opt(j)
	}

	j.manager = newSegmentsManager(cfg, j.logger)
	if err := j.manager.open(); err != nil {
		return nil, err
	}
	j.writer = &JournalWriter{j: j}

	j.index = newSparseIndex(cfg.IndexStride, cfg.IndexStrideBytes)
	if cfg.EnableAsqnIndex {
		j.asqnIdx = newAsqnIndex()
	}
	if err := j.rebuildIndexes(); err != nil {
		return nil, err
	}

	j.firstIndexVal = j.manager.firstSegment().FirstIndex()
	j.lastIndexVal = j.computeLastIndex()

	j.metrics.SetSegmentCount(j.manager.count())
	j.metrics.SetFirstIndex(j.firstIndexVal)
	j.metrics.SetLastIndex(j.lastIndexVal)

	j.logger.Info("journal opened",
		zap.String("directory", cfg.Directory),
		zap.Uint64("firstIndex", j.firstIndexVal),
		zap.Int64("lastIndex", j.lastIndexVal),
		zap.Int("segments", j.manager.count()),
	)
	return j, nil
}

// computeLastIndex derives the journal-wide last index from the current
// tail segment, which may itself be empty right after a roll.
func (j *Journal) computeLastIndex() int64 {
	tail := j.manager.lastSegment()
	if last := tail.LastIndex(); last >= 0 {
		return last
	}
	return int64(tail.FirstIndex()) - 1
}

// rebuildIndexes replays every recovered segment's frames to repopulate
// the sparse index (and, if enabled, the ASQN index), since both are
// pure in-memory accelerators that do not themselves persist to disk.
func (j *Journal) rebuildIndexes() error {
	for _, seg := range j.manager.segments {
		err := seg.forEachFrame(func(offset int64, rec Record) error {
			j.index.maybePut(rec.Index, seg.ID(), offset, frameSize(len(rec.Payload)))
			if j.asqnIdx != nil && rec.Asqn != ASQNIgnore {
				j.asqnIdx.put(rec.Asqn, rec.Index)
			}
			return nil
		})
		if err != nil {
			return &ErrIoFailure{Op: "rebuild index", Err: err}
		}
	}
	return nil
}

// Writer returns the journal's single writer.
func (j *Journal) Writer() *JournalWriter { return j.writer }

// Append is a convenience forward to Writer().Append.
func (j *Journal) Append(payload []byte) (Record, error) { return j.writer.Append(payload) }

// IsEmpty reports whether the journal holds no records.
func (j *Journal) IsEmpty() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.isEmptyLocked()
}

func (j *Journal) isEmptyLocked() bool {
	return j.lastIndexVal < int64(j.firstIndexVal)
}

// FirstIndex returns the lowest retained index, meaningful even when the
// journal is empty (it is the index the next Append would skip to only
// after a Reset; otherwise it is the oldest surviving record).
func (j *Journal) FirstIndex() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.firstIndexVal
}

// LastIndex returns the highest written index, or firstIndex-1 if empty.
func (j *Journal) LastIndex() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastIndexVal
}

// NextIndex returns the index the next Append call will assign.
func (j *Journal) NextIndex() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return uint64(j.lastIndexVal + 1)
}

// OpenReader creates a new reader positioned at the journal's first
// retained index.
func (j *Journal) OpenReader() (*JournalReader, error) {
	j.mu.RLock()
	closed := j.closed
	start := j.firstIndexVal
	j.mu.RUnlock()
	if closed {
		return nil, &ErrClosed{}
	}

	r := &JournalReader{j: j, nextIndex: start}

	j.readersMu.Lock()
	j.nextReaderID++
	r.id = j.nextReaderID
	j.readers[r.id] = r
	j.readersMu.Unlock()

	return r, nil
}

// closeReader detaches r from the journal's reader registry.
func (j *Journal) closeReader(r *JournalReader) {
	j.readersMu.Lock()
	delete(j.readers, r.id)
	j.readersMu.Unlock()
}

// rewindReadersLocked rewinds every open reader positioned past floor to
// floor, after a truncation or reset. Callers must already hold mu
// exclusively. It returns the number of readers that were rewound, for
// ObserveSegmentTruncation.
func (j *Journal) rewindReadersLocked(floor uint64) uint64 {
	j.readersMu.Lock()
	defer j.readersMu.Unlock()

	var blocked uint64
	for _, r := range j.readers {
		if r.nextIndex > floor {
			r.unsafeSeek(floor)
			blocked++
		}
	}
	return blocked
}

// readAtIndexLocked resolves index to a segment and on-disk offset via
// the sparse index and reads the frame there. Callers must hold mu. If
// the scan runs off the end of a segment before reaching index, it
// advances to the segment spec.md §4.4 names as the successor
// (segmentsManager.getNextSegment) rather than failing outright: the
// sparse index's floor entry only promises a starting point at or before
// index, not that it lands in the same segment index does.
func (j *Journal) readAtIndexLocked(index uint64) (Record, error) {
	seg := j.manager.getSegment(index)
	if seg == nil {
		return Record{}, &ErrNoSuchIndex{Index: index}
	}

	offset := int64(segmentHeaderSize)
	scanFrom := seg.FirstIndex()
	if entry, ok := j.index.floorEntry(index); ok && entry.segmentID == seg.ID() {
		offset = entry.offset
		scanFrom = entry.index
	}

	for {
		rec, err := seg.ReadAt(offset)
		if err == io.EOF {
			next := j.manager.getNextSegment(seg.FirstIndex())
			if next == nil {
				return Record{}, &ErrNoSuchIndex{Index: index}
			}
			seg = next
			offset = int64(segmentHeaderSize)
			scanFrom = seg.FirstIndex()
			continue
		}
		if err != nil {
			return Record{}, err
		}
		if rec.Index == index {
			return rec, nil
		}
		if rec.Index > index {
			return Record{}, &ErrNoSuchIndex{Index: index}
		}
		offset += int64(frameSize(len(rec.Payload)))
		scanFrom++
		if scanFrom > index {
			return Record{}, &ErrNoSuchIndex{Index: index}
		}
	}
}

// Close flushes and closes every segment and invalidates all open
// readers. The journal cannot be used afterward.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	j.readersMu.Lock()
	for _, r := range j.readers {
		r.closed = true
	}
	j.readers = make(map[uint64]*JournalReader)
	j.readersMu.Unlock()

	if err := j.manager.closeAll(); err != nil {
		return err
	}
	j.logger.Info("journal closed", zap.String("directory", j.cfg.Directory))
	return nil
}
