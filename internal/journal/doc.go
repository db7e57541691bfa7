// Package journal implements the segmented append-only log used as the
// durable record of a replicated workflow-engine partition.
//
// A Journal stores an ordered sequence of opaque records, each assigned a
// monotonically increasing index and an optional application sequence
// number (ASQN), across rolling fixed-size segment files. A single
// JournalWriter appends, truncates and resets the log; any number of
// JournalReaders stream committed records concurrently.
package journal
