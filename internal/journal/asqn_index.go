package journal

import "sort"

// asqnEntry maps an ASQN to the journal index that carried it.
type asqnEntry struct {
	asqn  int64
	index uint64
}

// asqnIndex is the optional secondary accelerator spec.md allows
// ("implementers may add an optional ASQN index if profiling requires").
// It is maintained by the writer only when Config.EnableAsqnIndex is set;
// JournalReader.SeekToAsqn otherwise falls back to the mandated linear
// scan from firstIndex.
type asqnIndex struct {
	entries []asqnEntry
}

func newAsqnIndex() *asqnIndex {
	return &asqnIndex{}
}

// put appends an (asqn, index) pair. Callers only add entries for records
// with an actual ASQN (not ASQNIgnore).
func (ai *asqnIndex) put(asqn int64, index uint64) {
	ai.entries = append(ai.entries, asqnEntry{asqn: asqn, index: index})
}

// floorIndex returns the journal index of the largest-ASQN entry with
// asqn <= target, or false if none exists. It assumes entries were
// inserted in non-decreasing ASQN order, which holds only when the caller
// supplies a monotonic ASQN. Nothing checks that order: SeekToAsqn trusts
// a found entry and falls back to its linear scan only when floorIndex
// reports none.
func (ai *asqnIndex) floorIndex(target int64) (uint64, bool) {
	i := sort.Search(len(ai.entries), func(i int) bool {
		return ai.entries[i].asqn > target
	})
	if i == 0 {
		return 0, false
	}
	return ai.entries[i-1].index, true
}

func (ai *asqnIndex) deleteAfter(index uint64) {
	i := sort.Search(len(ai.entries), func(i int) bool {
		return ai.entries[i].index > index
	})
	ai.entries = ai.entries[:i]
}

// deleteUntil drops every entry whose index is < floor, used after
// DeleteUntil trims a prefix of segments so a later SeekToAsqn can never
// return an index that has already been compacted away.
func (ai *asqnIndex) deleteUntil(floor uint64) {
	i := sort.Search(len(ai.entries), func(i int) bool {
		return ai.entries[i].index >= floor
	})
	ai.entries = ai.entries[i:]
}

func (ai *asqnIndex) clear() {
	ai.entries = nil
}
