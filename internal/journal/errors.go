package journal

import "fmt"

// ErrOutOfDiskSpace is returned when the disk-space policy refuses to
// create a new segment.
type ErrOutOfDiskSpace struct {
	Directory string
	Required  uint64
	Available uint64
}

func (e *ErrOutOfDiskSpace) Error() string {
	return fmt.Sprintf(
		"journal: out of disk space in %s: need %d bytes, have %d",
		e.Directory, e.Required, e.Available,
	)
}

// ErrIoFailure wraps an underlying read/write/fsync failure.
type ErrIoFailure struct {
	Op  string
	Err error
}

func (e *ErrIoFailure) Error() string {
	return fmt.Sprintf("journal: io failure during %s: %v", e.Op, e.Err)
}

func (e *ErrIoFailure) Unwrap() error { return e.Err }

// ErrCorrupt is returned when a frame fails its checksum on read.
type ErrCorrupt struct {
	SegmentID uint64
	Offset    int64
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("journal: corrupt frame in segment %d at offset %d", e.SegmentID, e.Offset)
}

// ErrInvalidIndex is returned when append(record) is called with a
// non-contiguous index.
type ErrInvalidIndex struct {
	Expected uint64
	Got      uint64
}

func (e *ErrInvalidIndex) Error() string {
	return fmt.Sprintf("journal: invalid index: expected %d, got %d", e.Expected, e.Got)
}

// ErrOutOfRange is returned when seeking below firstIndex or above
// lastIndex+1 (one past the last index is a legal seek target).
type ErrOutOfRange struct {
	Index      uint64
	FirstIndex uint64
	LastIndex  int64
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf(
		"journal: index %d out of range [%d, %d]",
		e.Index, e.FirstIndex, e.LastIndex,
	)
}

// ErrClosed is returned for any operation on a journal after Close.
type ErrClosed struct{}

func (e *ErrClosed) Error() string { return "journal: closed" }

// ErrBufferFull is returned by the codec when the destination buffer cannot
// hold the frame being encoded.
type ErrBufferFull struct{}

func (e *ErrBufferFull) Error() string { return "journal: buffer full" }

// ErrSegmentFull is returned by a segment when a frame would overflow it.
type ErrSegmentFull struct{}

func (e *ErrSegmentFull) Error() string { return "journal: segment full" }

// ErrEmptyPayload is returned when encoding a record whose payload has zero length.
type ErrEmptyPayload struct{}

func (e *ErrEmptyPayload) Error() string { return "journal: payload must not be empty" }

// ErrNoSuchIndex is returned by a reader racing a truncation it has not yet
// been rewound for.
type ErrNoSuchIndex struct {
	Index uint64
}

func (e *ErrNoSuchIndex) Error() string {
	return fmt.Sprintf("journal: no such index %d", e.Index)
}
