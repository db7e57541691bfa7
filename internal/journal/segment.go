package journal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tysonmote/gommap"
	"go.uber.org/zap"
)

const (
	segmentMagic      uint32 = 0x5A454542 // "ZEEB"
	segmentVersion    uint16 = 1
	segmentHeaderSize        = 64

	// zeroBound is how far past a truncation point a memory-mapped
	// segment zeroes bytes, enough to guarantee the next decode sees a
	// clean length==0 sentinel.
	zeroBound = 4096
)

// segmentFileName returns the canonical, lexicographically-ordered
// filename for a segment: "<name>-<20-digit id>.log".
func segmentFileName(name string, id uint64) string {
	return fmt.Sprintf("%s-%020d.log", name, id)
}

type segmentHeader struct {
	magic      uint32
	version    uint16
	flags      uint16
	segmentID  uint64
	firstIndex uint64
	maxSize    uint32
}

func encodeSegmentHeader(h segmentHeader) []byte {
	buf := make([]byte, segmentHeaderSize)
	byteOrder.PutUint32(buf[0:4], h.magic)
	byteOrder.PutUint16(buf[4:6], h.version)
	byteOrder.PutUint16(buf[6:8], h.flags)
	byteOrder.PutUint64(buf[8:16], h.segmentID)
	byteOrder.PutUint64(buf[16:24], h.firstIndex)
	byteOrder.PutUint32(buf[24:28], h.maxSize)
	return buf
}

func decodeSegmentHeader(buf []byte) (segmentHeader, error) {
	if len(buf) < segmentHeaderSize {
		return segmentHeader{}, &ErrIoFailure{Op: "read segment header", Err: io.ErrUnexpectedEOF}
	}
	h := segmentHeader{
		magic:      byteOrder.Uint32(buf[0:4]),
		version:    byteOrder.Uint16(buf[4:6]),
		flags:      byteOrder.Uint16(buf[6:8]),
		segmentID:  byteOrder.Uint64(buf[8:16]),
		firstIndex: byteOrder.Uint64(buf[16:24]),
		maxSize:    byteOrder.Uint32(buf[24:28]),
	}
	if h.magic != segmentMagic {
		return h, fmt.Errorf("journal: bad segment magic %x", h.magic)
	}
	if h.version != segmentVersion {
		return h, fmt.Errorf("journal: unsupported segment version %d", h.version)
	}
	return h, nil
}

// segmentBackend abstracts the two ways a segment's data region can be
// written: a plain file written to at explicit offsets (grown on demand),
// or a memory-mapped, preallocated region. Explicit-offset writes (rather
// than the teacher's sequential bufio.Writer) are used in both cases
// because TruncateTo must roll the write cursor back to an arbitrary
// interior offset; a persistent bufio.Writer would need its own file
// position reconciled with that rollback, which the teacher's Store never
// has to do since it only ever grows.
type segmentBackend interface {
	writeAt(b []byte, off int64) error
	readAt(b []byte, off int64) (int, error)
	truncateAfter(off int64) error
	flush() error
	close() error
}

type bufferedBackend struct {
	file *os.File
}

func (b *bufferedBackend) writeAt(p []byte, off int64) error {
	_, err := b.file.WriteAt(p, off)
	return err
}

func (b *bufferedBackend) readAt(p []byte, off int64) (int, error) {
	return b.file.ReadAt(p, off)
}

func (b *bufferedBackend) truncateAfter(off int64) error {
	return b.file.Truncate(off)
}

func (b *bufferedBackend) flush() error {
	return b.file.Sync()
}

func (b *bufferedBackend) close() error {
	return b.file.Close()
}

type mmapBackend struct {
	file *os.File
	mmap gommap.MMap
}

func (b *mmapBackend) writeAt(p []byte, off int64) error {
	if off < 0 || int64(len(b.mmap)) < off+int64(len(p)) {
		return io.ErrShortBuffer
	}
	copy(b.mmap[off:], p)
	return nil
}

func (b *mmapBackend) readAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b.mmap)) {
		return 0, io.EOF
	}
	n := copy(p, b.mmap[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *mmapBackend) truncateAfter(off int64) error {
	end := off + zeroBound
	if end > int64(len(b.mmap)) {
		end = int64(len(b.mmap))
	}
	for i := off; i < end; i++ {
		b.mmap[i] = 0
	}
	return nil
}

func (b *mmapBackend) flush() error {
	return b.mmap.Sync(gommap.MS_SYNC)
}

func (b *mmapBackend) close() error {
	if err := b.mmap.UnsafeUnmap(); err != nil {
		return err
	}
	return b.file.Close()
}

// segment is one fixed-capacity journal file: a 64-byte header followed by
// a contiguous run of frames.
type segment struct {
	path       string
	id         uint64
	firstIndex uint64
	maxSize    uint32
	backend    segmentBackend
	writeOff   int64
	lastIdx    int64 // -1 when the segment holds no records
	logger     *zap.Logger
}

// createSegment allocates a brand new segment file, writes its header,
// and (if requested) preallocates and memory-maps its data region.
func createSegment(dir, name string, id, firstIndex uint64, cfg Config, logger *zap.Logger) (*segment, error) {
	path := filepath.Join(dir, segmentFileName(name, id))

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, &ErrIoFailure{Op: "create segment", Err: err}
	}

	header := encodeSegmentHeader(segmentHeader{
		magic:      segmentMagic,
		version:    segmentVersion,
		segmentID:  id,
		firstIndex: firstIndex,
		maxSize:    cfg.MaxSegmentSize,
	})
	if _, err := file.WriteAt(header, 0); err != nil {
		file.Close()
		return nil, &ErrIoFailure{Op: "write segment header", Err: err}
	}

	s := &segment{
		path:       path,
		id:         id,
		firstIndex: firstIndex,
		maxSize:    cfg.MaxSegmentSize,
		writeOff:   segmentHeaderSize,
		lastIdx:    -1,
		logger:     logger,
	}

	if cfg.PreallocateSegmentFiles {
		totalSize := int64(segmentHeaderSize) + int64(cfg.MaxSegmentSize)
		if err := file.Truncate(totalSize); err != nil {
			file.Close()
			return nil, &ErrIoFailure{Op: "preallocate segment", Err: err}
		}
		m, err := gommap.Map(file.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
		if err != nil {
			file.Close()
			return nil, &ErrIoFailure{Op: "mmap segment", Err: err}
		}
		s.backend = &mmapBackend{file: file, mmap: m}
	} else {
		s.backend = &bufferedBackend{file: file}
	}

	return s, nil
}

// openSegment opens an existing segment file, validates its header, and
// scans forward to find the last complete frame, trimming any partially
// written tail in the process (the on-open repair the spec's segment
// invariant requires).
func openSegment(path string, cfg Config, logger *zap.Logger) (*segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, &ErrIoFailure{Op: "open segment", Err: err}
	}

	headerBuf := make([]byte, segmentHeaderSize)
	if _, err := file.ReadAt(headerBuf, 0); err != nil {
		file.Close()
		return nil, &ErrIoFailure{Op: "read segment header", Err: err}
	}
	header, err := decodeSegmentHeader(headerBuf)
	if err != nil {
		file.Close()
		return nil, err
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &ErrIoFailure{Op: "stat segment", Err: err}
	}

	s := &segment{
		path:       path,
		id:         header.segmentID,
		firstIndex: header.firstIndex,
		maxSize:    header.maxSize,
		writeOff:   segmentHeaderSize,
		lastIdx:    -1,
		logger:     logger,
	}

	preallocatedSize := int64(segmentHeaderSize) + int64(header.maxSize)
	if fi.Size() == preallocatedSize {
		m, err := gommap.Map(file.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
		if err != nil {
			file.Close()
			return nil, &ErrIoFailure{Op: "mmap segment", Err: err}
		}
		s.backend = &mmapBackend{file: file, mmap: m}
	} else {
		s.backend = &bufferedBackend{file: file}
	}

	if err := s.recoverTail(cfg); err != nil {
		s.backend.close()
		return nil, err
	}

	return s, nil
}

// recoverTail scans every frame from the start of the data region,
// stopping at the first gap (EndOfSegment), corrupt frame, or an index
// strictly above cfg.LastWrittenIndex (when that recovery hint is set).
// The write cursor and lastIdx are set to the end of the last good frame;
// any bytes beyond that point are trimmed.
func (s *segment) recoverTail(cfg Config) error {
	offset := int64(segmentHeaderSize)
	goodEnd := offset
	lastIdx := int64(-1)

	for {
		rec, err := s.ReadAt(offset)
		if err == io.EOF {
			break
		}
		if _, corrupt := err.(*ErrCorrupt); corrupt {
			if s.logger != nil {
				s.logger.Warn("journal: trimming corrupt tail frame",
					zap.String("segment", s.path), zap.Int64("offset", offset))
			}
			break
		}
		if err != nil {
			return err
		}
		if cfg.LastWrittenIndex != 0 && rec.Index > cfg.LastWrittenIndex {
			if s.logger != nil {
				s.logger.Warn("journal: dropping uncommitted tail record",
					zap.String("segment", s.path), zap.Uint64("index", rec.Index))
			}
			break
		}

		offset += int64(frameSize(len(rec.Payload)))
		goodEnd = offset
		lastIdx = int64(rec.Index)
	}

	if err := s.backend.truncateAfter(goodEnd); err != nil {
		return &ErrIoFailure{Op: "trim segment tail", Err: err}
	}
	s.writeOff = goodEnd
	s.lastIdx = lastIdx
	return nil
}

// Append encodes (index, asqn, payload) into the segment at the current
// write offset. It returns ErrSegmentFull if the frame would not fit.
func (s *segment) Append(index uint64, asqn int64, payload []byte) (int64, error) {
	need := frameSize(len(payload))
	available := int64(s.maxSize) - (s.writeOff - segmentHeaderSize)
	if int64(need) > available {
		return 0, &ErrSegmentFull{}
	}

	buf := make([]byte, need)
	if _, err := encodeRecord(buf, 0, index, asqn, payload); err != nil {
		return 0, err
	}

	offset := s.writeOff
	if err := s.backend.writeAt(buf, offset); err != nil {
		return 0, &ErrIoFailure{Op: "append", Err: err}
	}

	s.writeOff += int64(need)
	s.lastIdx = int64(index)
	return offset, nil
}

// ReadAt decodes the frame at the given absolute file offset. It returns
// io.EOF when offset marks the end of valid data (EndOfSegment) and
// *ErrCorrupt when the checksum does not match.
func (s *segment) ReadAt(offset int64) (Record, error) {
	lenBuf := make([]byte, frameLengthSize)
	n, err := s.backend.readAt(lenBuf, offset)
	if err != nil && err != io.EOF {
		return Record{}, &ErrIoFailure{Op: "read frame length", Err: err}
	}
	if n < frameLengthSize {
		return Record{}, io.EOF
	}

	length := binary.LittleEndian.Uint32(lenBuf)
	if length == 0 {
		return Record{}, io.EOF
	}

	frame := make([]byte, length)
	if _, err := s.backend.readAt(frame, offset); err != nil && err != io.EOF {
		return Record{}, &ErrIoFailure{Op: "read frame", Err: err}
	}

	rec, _, outcome := decodeRecord(frame, 0)
	switch outcome {
	case decodeOK:
		return rec, nil
	case decodeEndOfData:
		return Record{}, io.EOF
	default:
		return Record{}, &ErrCorrupt{SegmentID: s.id, Offset: offset}
	}
}

// TruncateTo resets the write offset to just after the frame containing
// index, discarding everything after it.
func (s *segment) TruncateTo(index uint64) error {
	offset := int64(segmentHeaderSize)
	goodEnd := offset
	lastIdx := int64(-1)

	for {
		rec, err := s.ReadAt(offset)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if rec.Index > index {
			break
		}
		offset += int64(frameSize(len(rec.Payload)))
		goodEnd = offset
		lastIdx = int64(rec.Index)
	}

	if err := s.backend.truncateAfter(goodEnd); err != nil {
		return &ErrIoFailure{Op: "truncate segment", Err: err}
	}
	s.writeOff = goodEnd
	s.lastIdx = lastIdx
	return nil
}

// Flush forces durability of every frame appended so far.
func (s *segment) Flush() error {
	if err := s.backend.flush(); err != nil {
		return &ErrIoFailure{Op: "flush segment", Err: err}
	}
	return nil
}

// Close flushes and releases the segment's file handle. Safe to call once;
// the caller (SegmentsManager) is responsible for idempotency.
func (s *segment) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.backend.close()
}

// Remove closes and deletes the segment's file from disk.
func (s *segment) Remove() error {
	if err := s.backend.close(); err != nil {
		return err
	}
	return os.Remove(s.path)
}

func (s *segment) ID() uint64         { return s.id }
func (s *segment) FirstIndex() uint64 { return s.firstIndex }
func (s *segment) LastIndex() int64   { return s.lastIdx }

// Remaining returns the number of payload+header bytes still free in the
// segment's data region.
func (s *segment) Remaining() int64 {
	return int64(s.maxSize) - (s.writeOff - segmentHeaderSize)
}

// forEachFrame walks every already-written frame in ascending offset
// order, stopping at the current write cursor.
func (s *segment) forEachFrame(fn func(offset int64, rec Record) error) error {
	offset := int64(segmentHeaderSize)
	for offset < s.writeOff {
		rec, err := s.ReadAt(offset)
		if err != nil {
			return err
		}
		if err := fn(offset, rec); err != nil {
			return err
		}
		offset += int64(frameSize(len(rec.Payload)))
	}
	return nil
}

// contains reports whether index falls within [firstIndex, lastIndex].
func (s *segment) contains(index uint64) bool {
	if s.lastIdx < 0 {
		return false
	}
	return index >= s.firstIndex && index <= uint64(s.lastIdx)
}
