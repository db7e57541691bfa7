package journal

import "time"

// JournalWriter is the single-writer append path: it owns frame encoding,
// segment rollover and the mutating operations (DeleteAfter, Reset) that
// must exclude concurrent readers. Callers normally reach it through
// Journal.Writer(), mirroring the corpus's Log.Append/Log.Truncate split
// between hot-path and administrative operations.
type JournalWriter struct {
	j *Journal
}

// Append appends payload with ASQNIgnore and returns the persisted record.
func (w *JournalWriter) Append(payload []byte) (Record, error) {
	return w.AppendWithAsqn(ASQNIgnore, payload)
}

// AppendWithAsqn appends payload tagged with asqn, assigning it the next
// sequential index.
func (w *JournalWriter) AppendWithAsqn(asqn int64, payload []byte) (Record, error) {
	j := w.j
	start := j.clock.Now()

	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return Record{}, &ErrClosed{}
	}

	index := uint64(j.lastIndexVal + 1)
	rec, offset, seg, err := w.appendLocked(index, asqn, payload)
	if err == errSegmentFullRetry {
		j.mu.RUnlock()

		j.mu.Lock()
		rollStart := j.clock.Now()
		rollErr := j.rollSegmentLocked(index)
		if rollErr == nil {
			j.metrics.ObserveSegmentRoll(j.clock.Now().Sub(rollStart))
			rec, offset, seg, err = w.appendLocked(index, asqn, payload)
		} else {
			err = rollErr
		}
		j.mu.Unlock()

		if err != nil {
			return Record{}, err
		}
		w.finishAppend(start, index, asqn, offset, seg, payload)
		return rec, nil
	}
	j.mu.RUnlock()

	if err != nil {
		return Record{}, err
	}
	w.finishAppend(start, index, asqn, offset, seg, payload)
	return rec, nil
}

// errSegmentFullRetry signals appendLocked's caller to escalate to the
// exclusive lock and roll the segment before retrying.
var errSegmentFullRetry = &ErrSegmentFull{}

// appendLocked writes the frame into the current segment. It must be
// called with at least a read lock held.
func (w *JournalWriter) appendLocked(index uint64, asqn int64, payload []byte) (Record, int64, *segment, error) {
	j := w.j
	seg := j.manager.currentSegment()
	offset, err := seg.Append(index, asqn, payload)
	if err != nil {
		if _, full := err.(*ErrSegmentFull); full {
			return Record{}, 0, nil, errSegmentFullRetry
		}
		return Record{}, 0, nil, err
	}
	return Record{Index: index, Asqn: asqn, Payload: payload}, offset, seg, nil
}

// finishAppend updates the derived indexes and metrics once a frame has
// been written into its segment (not yet flushed; see Flush). The append
// latency it reports is measured from start, the beginning of the Append
// call. The frame write itself happens under only a read
// lock (or no lock, single-writer by contract), but lastIndexVal and the
// sparse/asqn indexes are also read by readers under RLock, and RLock
// holders don't exclude each other — so this update takes the exclusive
// lock for the short critical section that touches them, which excludes
// every concurrent reader until it's done.
func (w *JournalWriter) finishAppend(start time.Time, index uint64, asqn int64, offset int64, seg *segment, payload []byte) {
	j := w.j

	j.mu.Lock()
	j.lastIndexVal = int64(index)
	j.index.maybePut(index, seg.ID(), offset, frameSize(len(payload)))
	if j.asqnIdx != nil && asqn != ASQNIgnore {
		j.asqnIdx.put(asqn, index)
	}
	j.mu.Unlock()

	j.metrics.RecordAppend(len(payload), j.clock.Now().Sub(start))
	j.metrics.SetLastIndex(int64(index))
}

// AppendRecord appends a record whose index is dictated by a leader (the
// replicated-follower path): rec.Index must equal the journal's next
// index, or ErrInvalidIndex is returned.
func (w *JournalWriter) AppendRecord(rec Record) (Record, error) {
	j := w.j

	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return Record{}, &ErrClosed{}
	}
	want := uint64(j.lastIndexVal + 1)
	if rec.Index != want {
		j.mu.RUnlock()
		return Record{}, &ErrInvalidIndex{Expected: want, Got: rec.Index}
	}
	j.mu.RUnlock()

	return w.AppendWithAsqn(rec.Asqn, rec.Payload)
}

// Flush forces any buffered writes in the current segment to stable
// storage.
func (w *JournalWriter) Flush() error {
	j := w.j
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return &ErrClosed{}
	}
	return j.manager.currentSegment().Flush()
}

// DeleteAfter discards every record with index > indexExclusive,
// truncating the straddling segment and dropping every later one. Any
// reader positioned past indexExclusive is rewound to the new tail.
func (w *JournalWriter) DeleteAfter(indexExclusive uint64) error {
	j := w.j
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return &ErrClosed{}
	}

	if j.lastIndexVal >= 0 && indexExclusive+1 < j.firstIndexVal {
		return &ErrOutOfRange{Index: indexExclusive, FirstIndex: j.firstIndexVal, LastIndex: j.lastIndexVal}
	}

	seg := j.manager.getSegment(indexExclusive)
	if seg == nil {
		seg = j.manager.firstSegment()
	}
	if err := seg.TruncateTo(indexExclusive); err != nil {
		return err
	}
	if err := j.manager.deleteAfterSegment(seg); err != nil {
		return err
	}

	j.index.deleteAfter(indexExclusive)
	if j.asqnIdx != nil {
		j.asqnIdx.deleteAfter(indexExclusive)
	}
	if last := seg.LastIndex(); last >= 0 {
		j.lastIndexVal = last
	} else {
		j.lastIndexVal = int64(seg.FirstIndex()) - 1
	}

	blocked := j.rewindReadersLocked(uint64(j.lastIndexVal) + 1)
	j.metrics.ObserveSegmentTruncation(blocked)
	j.metrics.SetSegmentCount(j.manager.count())
	j.metrics.SetLastIndex(j.lastIndexVal)
	return nil
}

// Reset discards every record and every segment, restarting the journal
// at nextIndex. Used when a snapshot has made the entire log obsolete.
func (w *JournalWriter) Reset(nextIndex uint64) error {
	j := w.j
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return &ErrClosed{}
	}

	if err := j.manager.resetSegments(nextIndex); err != nil {
		return err
	}
	j.index.clear()
	if j.asqnIdx != nil {
		j.asqnIdx.clear()
	}
	j.firstIndexVal = nextIndex
	j.lastIndexVal = int64(nextIndex) - 1

	j.rewindReadersLocked(nextIndex)
	j.metrics.SetSegmentCount(j.manager.count())
	j.metrics.SetFirstIndex(j.firstIndexVal)
	j.metrics.SetLastIndex(j.lastIndexVal)
	return nil
}

// DeleteUntil discards every fully-contained segment older than index,
// reclaiming space after a snapshot. It never removes the current
// writable segment.
func (w *JournalWriter) DeleteUntil(index uint64) error {
	j := w.j
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return &ErrClosed{}
	}

	if err := j.manager.deleteUntil(index); err != nil {
		return err
	}
	j.firstIndexVal = j.manager.firstSegment().FirstIndex()
	j.index.deleteUntil(j.firstIndexVal)
	if j.asqnIdx != nil {
		j.asqnIdx.deleteUntil(j.firstIndexVal)
	}
	j.metrics.SetSegmentCount(j.manager.count())
	j.metrics.SetFirstIndex(j.firstIndexVal)
	return nil
}

// rollSegmentLocked creates the next segment. Callers must hold the
// exclusive lock: this mutates the segments slice that reader lookups
// walk under the read lock.
func (j *Journal) rollSegmentLocked(nextIndex uint64) error {
	if full := j.manager.currentSegment(); full != nil {
		if err := full.Flush(); err != nil {
			return err
		}
	}

	avail, err := j.manager.usableSpace()
	if err != nil {
		return err
	}
	required := uint64(j.cfg.MaxSegmentSize) * 3
	if j.cfg.MinFreeDiskSpace > required {
		required = j.cfg.MinFreeDiskSpace
	}
	if avail < required {
		return &ErrOutOfDiskSpace{Directory: j.cfg.Directory, Required: required, Available: avail}
	}

	_, err = j.manager.createNextSegment(nextIndex)
	if err != nil {
		return err
	}
	j.metrics.SetSegmentCount(j.manager.count())
	return nil
}
