package journal

import "sort"

// sparseEntry maps a persisted index to the segment and file offset at
// which its frame begins.
type sparseEntry struct {
	index     uint64
	segmentID uint64
	offset    int64
}

// sparseIndex is a pure in-memory, ascending-by-index slice of sparseEntry,
// searched with binary search to give floorEntry in O(log n).
//
// The corpus's github.com/benbjohnson/immutable.SortedMap (used by
// dreamsxin-wal for segment metadata) only exposes a forward Seek/Iterator,
// not a predecessor query, so it cannot serve floorEntry without degrading
// to a linear scan; a sorted slice is used instead.
type sparseIndex struct {
	entries      []sparseEntry
	stride       int
	strideBytes  int64
	recordsSince int
	bytesSince   int64
}

func newSparseIndex(stride int, strideBytes int64) *sparseIndex {
	if stride <= 0 {
		stride = DefaultIndexStride
	}
	return &sparseIndex{stride: stride, strideBytes: strideBytes}
}

// put unconditionally records an entry.
func (si *sparseIndex) put(index, segmentID uint64, offset int64) {
	si.entries = append(si.entries, sparseEntry{index: index, segmentID: segmentID, offset: offset})
	si.recordsSince = 0
	si.bytesSince = 0
}

// maybePut records an entry only if the configured record or byte stride
// has elapsed since the last one, matching spec.md's "every N records or
// every K bytes".
func (si *sparseIndex) maybePut(index, segmentID uint64, offset int64, frameLen int) {
	si.recordsSince++
	si.bytesSince += int64(frameLen)

	due := si.recordsSince >= si.stride
	if si.strideBytes > 0 && si.bytesSince >= si.strideBytes {
		due = true
	}
	if len(si.entries) == 0 {
		due = true
	}
	if due {
		si.put(index, segmentID, offset)
	}
}

// floorEntry returns the entry with the largest index <= target, or false
// if no such entry exists.
func (si *sparseIndex) floorEntry(target uint64) (sparseEntry, bool) {
	i := sort.Search(len(si.entries), func(i int) bool {
		return si.entries[i].index > target
	})
	if i == 0 {
		return sparseEntry{}, false
	}
	return si.entries[i-1], true
}

// deleteAfter drops every entry with index > target.
func (si *sparseIndex) deleteAfter(target uint64) {
	i := sort.Search(len(si.entries), func(i int) bool {
		return si.entries[i].index > target
	})
	si.entries = si.entries[:i]
	si.recordsSince = 0
	si.bytesSince = 0
}

// deleteUntil drops every entry with index < floor, used after DeleteUntil
// trims a prefix of segments so stale entries don't accumulate or point at
// segments that no longer exist.
func (si *sparseIndex) deleteUntil(floor uint64) {
	i := sort.Search(len(si.entries), func(i int) bool {
		return si.entries[i].index >= floor
	})
	si.entries = si.entries[i:]
}

// clear empties the index, as reset() requires.
func (si *sparseIndex) clear() {
	si.entries = nil
	si.recordsSince = 0
	si.bytesSince = 0
}

func (si *sparseIndex) len() int { return len(si.entries) }
