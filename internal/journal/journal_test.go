package journal

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T, maxSize uint32, opts ...Option) *Journal {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{Directory: dir, Name: "journal", MaxSegmentSize: maxSize}
	j, err := Open(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// TestJournalAppendAndRead is scenario S1: three short records in one
// segment, read back in order.
func TestJournalAppendAndRead(t *testing.T) {
	j := openTestJournal(t, 1024)

	for _, payload := range [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")} {
		rec, err := j.Append(payload)
		require.NoError(t, err)
		require.Equal(t, payload, rec.Payload)
	}

	require.Equal(t, int64(3), j.LastIndex())
	require.Equal(t, uint64(1), j.FirstIndex())

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()

	var got [][]byte
	for reader.HasNext() {
		rec, err := reader.Next()
		require.NoError(t, err)
		got = append(got, rec.Payload)
	}
	require.Equal(t, [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}, got)
}

// TestJournalSegmentRollover is scenario S2: a small segment size forces
// a roll to a second segment whose firstIndex picks up where the first
// left off.
func TestJournalSegmentRollover(t *testing.T) {
	j := openTestJournal(t, 128)

	for i := 0; i < 50; i++ {
		_, err := j.Append([]byte("0123456789"))
		require.NoError(t, err)
	}

	require.Greater(t, j.manager.count(), 1)
	first := j.manager.firstSegment()
	second := j.manager.segments[1]

	require.Equal(t, uint64(1), first.FirstIndex())
	require.Equal(t, uint64(first.LastIndex())+1, second.FirstIndex())
}

// TestJournalDeleteAfterRewindsReaders is scenario S3.
func TestJournalDeleteAfterRewindsReaders(t *testing.T) {
	j := openTestJournal(t, 4096)

	for i := 1; i <= 10; i++ {
		_, err := j.Append([]byte("payload"))
		require.NoError(t, err)
	}

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()

	for i := 0; i < 8; i++ {
		_, err := reader.Next()
		require.NoError(t, err)
	}
	require.Equal(t, uint64(9), reader.CurrentIndex())

	require.NoError(t, j.Writer().DeleteAfter(5))
	require.Equal(t, int64(5), j.LastIndex())

	// The reader was positioned at 9, past the new tail: it must be
	// rewound and report no further records until the journal catches up.
	require.False(t, reader.HasNext())
	require.Equal(t, uint64(6), reader.CurrentIndex())

	rec, err := j.Append([]byte("resumed"))
	require.NoError(t, err)
	require.Equal(t, uint64(6), rec.Index)

	require.True(t, reader.HasNext())
	next, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, uint64(6), next.Index)
}

// TestJournalDeleteAfterAcrossSegments forces several segments and then
// truncates back into an early one, checking that every later segment is
// removed but the truncated segment itself survives as the new current,
// writable segment.
func TestJournalDeleteAfterAcrossSegments(t *testing.T) {
	// frameSize(10-byte payload) == 34: two records fit per 100-byte
	// segment, so segment IDs (1, 2, 3, ...) diverge from the firstIndex
	// each segment holds (1, 3, 5, ...) — this is what exposes a writer
	// that confuses a segment ID with a journal index when deciding which
	// segments to drop.
	j := openTestJournal(t, 100)

	for i := 0; i < 10; i++ {
		_, err := j.Append([]byte("0123456789"))
		require.NoError(t, err)
	}
	require.Equal(t, 5, j.manager.count())

	require.NoError(t, j.Writer().DeleteAfter(4))

	require.Equal(t, int64(4), j.LastIndex())
	require.Equal(t, 2, j.manager.count())
	seg := j.manager.getSegment(4)
	require.NotNil(t, seg)
	require.Same(t, seg, j.manager.currentSegment())

	rec, err := j.Append([]byte("resumed"))
	require.NoError(t, err)
	require.Equal(t, uint64(5), rec.Index)
}

// TestJournalDeleteAfterToEmpty covers the boundary spec.md §8 invariant 3
// describes: DeleteAfter(firstIndex-1) truncates every record away
// without deleting the surviving segment itself, so the journal remains
// appendable afterward instead of panicking on a nil current segment.
func TestJournalDeleteAfterToEmpty(t *testing.T) {
	j := openTestJournal(t, 1024)

	for i := 0; i < 3; i++ {
		_, err := j.Append([]byte("x"))
		require.NoError(t, err)
	}
	require.Equal(t, uint64(1), j.FirstIndex())

	require.NoError(t, j.Writer().DeleteAfter(0))

	require.True(t, j.IsEmpty())
	require.Equal(t, int64(0), j.LastIndex())
	require.Equal(t, 1, j.manager.count())
	require.NotNil(t, j.manager.currentSegment())

	rec, err := j.Append([]byte("resumed"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), rec.Index)
}

// TestJournalSeekUsesSparseIndex is scenario S4.
func TestJournalSeekUsesSparseIndex(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Directory: dir, Name: "journal", MaxSegmentSize: 1 << 20, IndexStride: 10}
	j, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	for i := 1; i <= 100; i++ {
		_, err := j.Append([]byte("x"))
		require.NoError(t, err)
	}

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, reader.Seek(73))
	rec, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, uint64(73), rec.Index)

	rec, err = reader.Next()
	require.NoError(t, err)
	require.Equal(t, uint64(74), rec.Index)
}

// TestJournalOutOfDiskSpace is scenario S5: an unreasonably large
// minFreeDiskSpace makes the disk-space guard refuse to roll, without
// disturbing already-written records.
func TestJournalOutOfDiskSpace(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Directory:        dir,
		Name:             "journal",
		MaxSegmentSize:   64,
		MinFreeDiskSpace: 1 << 60, // impossibly large
	}
	j, err := Open(cfg)
	require.NoError(t, err)
	defer j.Close()

	// The first few appends fit in segment 1 and never roll.
	_, err = j.Append([]byte("x"))
	require.NoError(t, err)

	// Fill segment 1 until a roll is required; that roll must fail.
	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = j.Append([]byte("0123456789"))
		if lastErr != nil {
			break
		}
	}
	require.Error(t, lastErr)
	require.IsType(t, &ErrOutOfDiskSpace{}, lastErr)

	// Exactly the two records that fit in segment 1 were durably
	// recorded; the record that required a roll was not assigned.
	require.Equal(t, int64(2), j.LastIndex())

	// Reads of already-written records still work.
	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()
	require.True(t, reader.HasNext())
}

// TestJournalCrashRecovery is scenario S6: a frame truncated mid-write is
// trimmed on reopen and appends resume right after the last good record.
func TestJournalCrashRecovery(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Directory: dir, Name: "journal", MaxSegmentSize: 4096}

	j, err := Open(cfg)
	require.NoError(t, err)

	var corruptAt int64
	for i := 1; i <= 5; i++ {
		rec, err := j.Append([]byte("payload"))
		require.NoError(t, err)
		if rec.Index == 3 {
			corruptAt = int64(segmentHeaderSize) + int64(frameSize(len("payload")))*3
		}
	}
	require.NoError(t, j.Close())

	path := j.manager.firstSegment().path
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0x01, 0x00, 0x00, 0x00}, corruptAt)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, int64(3), reopened.LastIndex())

	rec, err := reopened.Append([]byte("payload"))
	require.NoError(t, err)
	require.Equal(t, uint64(4), rec.Index)
}

// TestJournalReset verifies invariant 5: after Reset(n), firstIndex==n,
// lastIndex==n-1, the sparse index is empty, and exactly one segment
// remains.
func TestJournalReset(t *testing.T) {
	j := openTestJournal(t, 128)

	for i := 0; i < 20; i++ {
		_, err := j.Append([]byte("0123456789"))
		require.NoError(t, err)
	}
	require.Greater(t, j.manager.count(), 1)

	require.NoError(t, j.Writer().Reset(1000))

	require.Equal(t, uint64(1000), j.FirstIndex())
	require.Equal(t, int64(999), j.LastIndex())
	require.Equal(t, 1, j.manager.count())
	require.Equal(t, 0, j.index.len())
	require.True(t, j.IsEmpty())

	rec, err := j.Append([]byte("fresh"))
	require.NoError(t, err)
	require.Equal(t, uint64(1000), rec.Index)
}

// TestJournalDeleteUntil verifies invariant 4: firstIndex advances and no
// reader can read below it, while the current segment is preserved.
func TestJournalDeleteUntil(t *testing.T) {
	j := openTestJournal(t, 64)

	for i := 0; i < 30; i++ {
		_, err := j.Append([]byte("0123456789"))
		require.NoError(t, err)
	}
	require.Greater(t, j.manager.count(), 2)

	target := j.LastIndex() - 2
	require.NoError(t, j.Writer().DeleteUntil(uint64(target)))
	require.GreaterOrEqual(t, j.FirstIndex(), uint64(target))

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()
	require.Equal(t, j.FirstIndex(), reader.CurrentIndex())
}

// TestJournalDeleteUntilPrunesAsqnIndex verifies that a trimmed prefix's
// ASQN entries no longer resolve, so SeekToAsqn can't accelerate a reader
// to an index that DeleteUntil already reclaimed.
func TestJournalDeleteUntilPrunesAsqnIndex(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Directory: dir, Name: "journal", MaxSegmentSize: 64, EnableAsqnIndex: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	for i := int64(0); i < 30; i++ {
		_, err := j.Writer().AppendWithAsqn(i*10, []byte("0123456789"))
		require.NoError(t, err)
	}
	require.Greater(t, j.manager.count(), 2)

	target := j.LastIndex() - 2
	require.NoError(t, j.Writer().DeleteUntil(uint64(target)))

	_, ok := j.asqnIdx.floorIndex(0)
	require.False(t, ok, "asqn entries for trimmed indexes must be pruned")

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()
	require.NoError(t, reader.SeekToAsqn((target)*10))
	require.GreaterOrEqual(t, reader.CurrentIndex(), j.FirstIndex())
}

// TestJournalClosedOperations verifies every operation on a closed
// journal fails with ErrClosed.
func TestJournalClosedOperations(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Directory: dir, Name: "journal", MaxSegmentSize: 1024})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = j.Append([]byte("x"))
	require.IsType(t, &ErrClosed{}, err)

	_, err = j.OpenReader()
	require.IsType(t, &ErrClosed{}, err)

	require.IsType(t, &ErrClosed{}, j.Writer().DeleteAfter(0))
	require.IsType(t, &ErrClosed{}, j.Writer().Reset(1))
}

// TestAppendRecordFollowerPath verifies that AppendRecord enforces
// contiguous indexes for the replicated-follower path.
func TestAppendRecordFollowerPath(t *testing.T) {
	j := openTestJournal(t, 4096)

	rec, err := j.Writer().AppendRecord(Record{Index: 1, Asqn: ASQNIgnore, Payload: []byte("a")})
	require.NoError(t, err)
	require.Equal(t, uint64(1), rec.Index)

	_, err = j.Writer().AppendRecord(Record{Index: 5, Asqn: ASQNIgnore, Payload: []byte("b")})
	require.Error(t, err)
	require.IsType(t, &ErrInvalidIndex{}, err)
}

// TestReaderSeekToAsqn verifies ASQN-based seeking when the caller
// supplies monotonic application sequence numbers.
func TestReaderSeekToAsqn(t *testing.T) {
	j := openTestJournal(t, 4096)

	for i := int64(0); i < 10; i++ {
		_, err := j.Writer().AppendWithAsqn(i*10, []byte("x"))
		require.NoError(t, err)
	}

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, reader.SeekToAsqn(55))
	rec, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, int64(50), rec.Asqn)
}

// TestReaderSeekOutOfRange verifies OutOfRange is reported for seeks
// below firstIndex or above lastIndex+1.
func TestReaderSeekOutOfRange(t *testing.T) {
	j := openTestJournal(t, 4096)

	for i := 0; i < 3; i++ {
		_, err := j.Append([]byte("x"))
		require.NoError(t, err)
	}

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()

	err = reader.Seek(0)
	require.Error(t, err)
	require.IsType(t, &ErrOutOfRange{}, err)

	err = reader.Seek(100)
	require.Error(t, err)
	require.IsType(t, &ErrOutOfRange{}, err)

	require.NoError(t, reader.Seek(4)) // one past last is legal
	require.False(t, reader.HasNext())
}

// TestJournalReopenPreservesState reopens a journal and checks its
// bounds and content survive the round trip.
func TestJournalReopenPreservesState(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Directory: dir, Name: "journal", MaxSegmentSize: 1024}

	j, err := Open(cfg)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := j.Append([]byte("hello"))
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(1), reopened.FirstIndex())
	require.Equal(t, int64(5), reopened.LastIndex())

	reader, err := reopened.OpenReader()
	require.NoError(t, err)
	defer reader.Close()

	count := 0
	for reader.HasNext() {
		_, err := reader.Next()
		require.NoError(t, err)
		count++
	}
	require.Equal(t, 5, count)
}

// TestReaderExhaustedReturnsEOF checks Next returns io.EOF once the
// cursor has caught up with the journal's tail.
func TestReaderExhaustedReturnsEOF(t *testing.T) {
	j := openTestJournal(t, 4096)
	_, err := j.Append([]byte("only"))
	require.NoError(t, err)

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()

	_, err = reader.Next()
	require.NoError(t, err)

	_, err = reader.Next()
	require.ErrorIs(t, err, io.EOF)
}
