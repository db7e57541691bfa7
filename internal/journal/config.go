package journal

// ASQNIgnore is the sentinel ASQN value meaning "no application sequence
// number was supplied".
const ASQNIgnore int64 = -1

// Config enumerates the options named in the journal's external interface.
// There is no file- or environment-based loader for Config: configuration
// loading is an external collaborator's job, not the journal's.
type Config struct {
	// Name is the filename prefix; segment files are named "<Name>-<id>.log".
	Name string

	// Directory is the journal's directory. It must already exist and be
	// writable.
	Directory string

	// MaxSegmentSize is the per-segment data capacity in bytes, not
	// counting the 64-byte header.
	MaxSegmentSize uint32

	// MinFreeDiskSpace is the minimum number of usable bytes required in
	// Directory before a new segment may be created.
	MinFreeDiskSpace uint64

	// PreallocateSegmentFiles, when true, sizes new segments to
	// MaxSegmentSize at creation time via a memory-mapped region instead
	// of growing the file on demand.
	PreallocateSegmentFiles bool

	// LastWrittenIndex, when non-zero, is a recovery hint: records with a
	// strictly higher index are treated as uncommitted and dropped on
	// open, even if individually well-formed.
	LastWrittenIndex uint64

	// IndexStride is the number of records between sparse-index entries.
	// Zero means the default (see DefaultIndexStride).
	IndexStride int

	// IndexStrideBytes, when non-zero, additionally forces a sparse-index
	// entry whenever this many bytes have been written since the last
	// entry, regardless of IndexStride.
	IndexStrideBytes int64

	// EnableAsqnIndex turns on the optional secondary ASQN->index
	// accelerator the spec allows implementers to add.
	EnableAsqnIndex bool
}

const (
	// DefaultMaxSegmentSize matches the teacher's default segment size
	// for an uninitialized Config.
	DefaultMaxSegmentSize uint32 = 1024 * 1024

	// DefaultIndexStride places one sparse-index entry every N records.
	DefaultIndexStride = 64
)

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "journal"
	}
	if c.MaxSegmentSize == 0 {
		c.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if c.IndexStride <= 0 {
		c.IndexStride = DefaultIndexStride
	}
}
