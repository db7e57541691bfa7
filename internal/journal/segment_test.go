package journal

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig(dir string, maxSize uint32) Config {
	c := Config{Name: "journal", Directory: dir, MaxSegmentSize: maxSize}
	c.setDefaults()
	return c
}

// TestSegment exercises append, read-by-offset, full detection, flush and
// truncateTo on a single segment file.
func TestSegment(t *testing.T) {
	for name, fn := range map[string]func(t *testing.T){
		"append and readAt round trip":       testSegmentAppendRead,
		"append fails once segment is full":  testSegmentFull,
		"truncateTo discards trailing frames": testSegmentTruncateTo,
		"partial tail is trimmed on open":     testSegmentRecoverPartialTail,
	} {
		t.Run(name, fn)
	}
}

func testSegmentAppendRead(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, 1024)

	seg, err := createSegment(dir, cfg.Name, 1, 1, cfg, nil)
	require.NoError(t, err)
	defer seg.Close()

	off1, err := seg.Append(1, ASQNIgnore, []byte("a"))
	require.NoError(t, err)
	off2, err := seg.Append(2, ASQNIgnore, []byte("bb"))
	require.NoError(t, err)
	require.Greater(t, off2, off1)

	rec, err := seg.ReadAt(off1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rec.Index)
	require.Equal(t, []byte("a"), rec.Payload)

	rec, err = seg.ReadAt(off2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rec.Index)
	require.Equal(t, []byte("bb"), rec.Payload)

	require.Equal(t, int64(2), seg.LastIndex())
	require.NoError(t, seg.Flush())
}

func testSegmentFull(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, frameHeaderSize+1) // room for exactly one 1-byte payload

	seg, err := createSegment(dir, cfg.Name, 1, 1, cfg, nil)
	require.NoError(t, err)
	defer seg.Close()

	_, err = seg.Append(1, ASQNIgnore, []byte("a"))
	require.NoError(t, err)

	_, err = seg.Append(2, ASQNIgnore, []byte("b"))
	require.Error(t, err)
	require.IsType(t, &ErrSegmentFull{}, err)
}

func testSegmentTruncateTo(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, 1024)

	seg, err := createSegment(dir, cfg.Name, 1, 1, cfg, nil)
	require.NoError(t, err)
	defer seg.Close()

	for i := uint64(1); i <= 5; i++ {
		_, err := seg.Append(i, ASQNIgnore, []byte("x"))
		require.NoError(t, err)
	}

	require.NoError(t, seg.TruncateTo(3))
	require.Equal(t, int64(3), seg.LastIndex())

	offset := int64(segmentHeaderSize)
	for i := uint64(1); i <= 3; i++ {
		rec, err := seg.ReadAt(offset)
		require.NoError(t, err)
		require.Equal(t, i, rec.Index)
		offset += int64(frameSize(len(rec.Payload)))
	}
	_, err = seg.ReadAt(offset)
	require.ErrorIs(t, err, io.EOF)
}

// testSegmentRecoverPartialTail simulates a crash mid-frame (S6): three
// complete frames followed by a truncated fourth. Reopening must trim to
// the last complete frame.
func testSegmentRecoverPartialTail(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, 4096)

	seg, err := createSegment(dir, cfg.Name, 1, 1, cfg, nil)
	require.NoError(t, err)

	var lastGoodOffset int64
	for i := uint64(1); i <= 5; i++ {
		off, err := seg.Append(i, ASQNIgnore, []byte("payload"))
		require.NoError(t, err)
		if i == 3 {
			lastGoodOffset = off + int64(frameSize(len("payload")))
		}
	}
	require.NoError(t, seg.Close())

	path := filepath.Join(dir, segmentFileName(cfg.Name, 1))
	// Corrupt the 4th frame's length prefix so it no longer decodes as a
	// complete frame, simulating a crash mid-write.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	garbage := []byte{0x01, 0x00, 0x00, 0x00} // length=1, shorter than any valid frame
	_, err = f.WriteAt(garbage, lastGoodOffset)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := openSegment(path, cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, int64(3), reopened.LastIndex())

	// Append must continue cleanly right after the recovered tail.
	off, err := reopened.Append(4, ASQNIgnore, []byte("payload"))
	require.NoError(t, err)
	rec, err := reopened.ReadAt(off)
	require.NoError(t, err)
	require.Equal(t, uint64(4), rec.Index)
}
