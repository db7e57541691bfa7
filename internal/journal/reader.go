package journal

import "io"

// JournalReader is a single-cursor, forward-iterating view over a
// Journal. It is not safe for concurrent use by multiple goroutines, the
// same contract io.Reader carries; a Journal may have many readers open
// at once, each with its own independent cursor.
//
// The cursor tracks only the next index to return and re-resolves its
// segment/offset on every call via the sparse index, rather than caching
// a segment pointer the way a forward-only iterator might: that keeps a
// reader trivially correct across a concurrent DeleteAfter/Reset, at the
// cost of one extra floor lookup per record. dreamsxin-wal's
// LogStore.GetLog(index) takes the same index-in, record-out shape.
type JournalReader struct {
	id        uint64
	j         *Journal
	nextIndex uint64
	closed    bool
}

// HasNext reports whether a call to Next would currently succeed.
func (r *JournalReader) HasNext() bool {
	j := r.j
	j.mu.RLock()
	defer j.mu.RUnlock()
	return !j.closed && !r.closed && int64(r.nextIndex) <= j.lastIndexVal
}

// Next returns the record at the cursor and advances it, or io.EOF once
// the cursor has caught up with the journal's last index.
func (r *JournalReader) Next() (Record, error) {
	j := r.j
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed || r.closed {
		return Record{}, &ErrClosed{}
	}
	if int64(r.nextIndex) > j.lastIndexVal {
		return Record{}, io.EOF
	}

	rec, err := j.readAtIndexLocked(r.nextIndex)
	if err != nil {
		return Record{}, err
	}
	r.nextIndex++
	return rec, nil
}

// Seek repositions the cursor so the next call to Next returns index. A
// seek to one past the last index is legal and makes HasNext false.
func (r *JournalReader) Seek(index uint64) error {
	j := r.j
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed || r.closed {
		return &ErrClosed{}
	}
	if !j.isEmptyLocked() && (index < j.firstIndexVal || int64(index) > j.lastIndexVal+1) {
		return &ErrOutOfRange{Index: index, FirstIndex: j.firstIndexVal, LastIndex: j.lastIndexVal}
	}
	r.nextIndex = index
	return nil
}

// unsafeSeek repositions the cursor without range-checking against the
// journal's current bounds. The journal's truncation/reset rewind
// (rewindReadersLocked) uses it to move a reader to the new tail, which
// becomes readable once writes catch up.
func (r *JournalReader) unsafeSeek(index uint64) {
	r.nextIndex = index
}

// SeekToFirst repositions the cursor at the journal's first retained
// index.
func (r *JournalReader) SeekToFirst() error {
	j := r.j
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed || r.closed {
		return &ErrClosed{}
	}
	r.nextIndex = j.firstIndexVal
	return nil
}

// SeekToLast repositions the cursor so Next returns the journal's last
// record.
func (r *JournalReader) SeekToLast() error {
	j := r.j
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed || r.closed {
		return &ErrClosed{}
	}
	if j.isEmptyLocked() {
		r.nextIndex = j.firstIndexVal
		return nil
	}
	r.nextIndex = uint64(j.lastIndexVal)
	return nil
}

// SeekToAsqn positions the cursor at the highest-index record whose ASQN
// is <= target. ASQN is only meaningful when the caller supplies one
// monotonically; when the journal was opened with EnableAsqnIndex this
// uses the accelerator under that assumption, otherwise it falls back to
// a full linear scan from the first retained index that does not assume
// any ordering.
func (r *JournalReader) SeekToAsqn(asqn int64) error {
	j := r.j
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed || r.closed {
		return &ErrClosed{}
	}

	if j.asqnIdx != nil {
		if index, ok := j.asqnIdx.floorIndex(asqn); ok {
			r.nextIndex = index
			return nil
		}
	}

	found := false
	var best uint64
	for idx := j.firstIndexVal; int64(idx) <= j.lastIndexVal; idx++ {
		rec, err := j.readAtIndexLocked(idx)
		if err != nil {
			return err
		}
		if rec.Asqn != ASQNIgnore && rec.Asqn <= asqn {
			best = idx
			found = true
		}
	}
	if !found {
		return &ErrNoSuchIndex{Index: uint64(asqn)}
	}
	r.nextIndex = best
	return nil
}

// CurrentIndex returns the index the next call to Next will return.
func (r *JournalReader) CurrentIndex() uint64 {
	return r.nextIndex
}

// Close detaches the reader from its journal. A closed reader can no
// longer be used.
func (r *JournalReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.j.closeReader(r)
	return nil
}
