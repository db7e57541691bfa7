package journal

import (
	"encoding/binary"
	"hash/crc32"
)

// byteOrder is the frame's wire order, fixed by the spec.
var byteOrder = binary.LittleEndian

// castagnoliTable pins the checksum algorithm to CRC32C, the same table
// Prometheus's own TSDB WAL uses (tsdb/wal/wal.go: castagnoliTable). The
// false-accept rate is ~1 in 2^32, well within the spec's requirement.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

const (
	frameLengthSize   = 4
	frameIndexSize    = 8
	frameAsqnSize     = 8
	frameChecksumSize = 4

	// frameHeaderSize is the size of everything in a frame but the payload.
	frameHeaderSize = frameLengthSize + frameIndexSize + frameAsqnSize + frameChecksumSize
)

// Record is a decoded, persisted frame.
type Record struct {
	Index   uint64
	Asqn    int64
	Payload []byte
}

// frameSize returns the total on-disk size of a frame with the given
// payload length.
func frameSize(payloadLen int) int {
	return frameHeaderSize + payloadLen
}

// decodeOutcome classifies the result of decoding a frame.
type decodeOutcome int

const (
	decodeOK decodeOutcome = iota
	decodeEndOfData
	decodeCorrupt
)

// encodeRecord writes a frame for (index, asqn, payload) into buf at
// offset. It returns the frame length on success, or ErrBufferFull if buf
// does not have room, or ErrEmptyPayload if payload is empty (the spec
// requires payload length >= 1).
func encodeRecord(buf []byte, offset int, index uint64, asqn int64, payload []byte) (int, error) {
	if len(payload) == 0 {
		return 0, &ErrEmptyPayload{}
	}

	need := frameSize(len(payload))

	if offset < 0 || need > len(buf)-offset {
		return 0, &ErrBufferFull{}
	}

	frame := buf[offset : offset+need]
	byteOrder.PutUint32(frame[0:4], uint32(need))
	byteOrder.PutUint64(frame[4:12], index)
	byteOrder.PutUint64(frame[12:20], uint64(asqn))
	copy(frame[frameHeaderSize:], payload)

	checksum := computeChecksum(index, asqn, uint32(need), payload)
	byteOrder.PutUint32(frame[20:24], checksum)

	return need, nil
}

// computeChecksum hashes index || asqn || length || payload, matching
// spec.md section 4.1.
func computeChecksum(index uint64, asqn int64, length uint32, payload []byte) uint32 {
	var header [20]byte
	byteOrder.PutUint64(header[0:8], index)
	byteOrder.PutUint64(header[8:16], uint64(asqn))
	byteOrder.PutUint32(header[16:20], length)

	h := crc32.New(castagnoliTable)
	h.Write(header[:])
	h.Write(payload)
	return h.Sum32()
}

// decodeRecord decodes the frame starting at offset in buf, where buf
// extends at least to the end of that frame (or to the end of valid
// data, whichever is shorter). It returns the decoded record, the frame's
// total length, and an outcome: decodeEndOfData when buf is too short to
// hold the length field or the length is zero; decodeCorrupt when the
// length is below the frame header size, runs past the end of buf, or the
// checksum does not match.
func decodeRecord(buf []byte, offset int) (Record, int, decodeOutcome) {
	if offset < 0 || offset+frameLengthSize > len(buf) {
		return Record{}, 0, decodeEndOfData
	}

	length := byteOrder.Uint32(buf[offset : offset+frameLengthSize])
	if length == 0 {
		return Record{}, 0, decodeEndOfData
	}
	if int(length) < frameHeaderSize || offset+int(length) > len(buf) {
		return Record{}, int(length), decodeCorrupt
	}

	frame := buf[offset : offset+int(length)]
	index := byteOrder.Uint64(frame[4:12])
	asqn := int64(byteOrder.Uint64(frame[12:20]))
	wantChecksum := byteOrder.Uint32(frame[20:24])

	payload := make([]byte, len(frame)-frameHeaderSize)
	copy(payload, frame[frameHeaderSize:])

	gotChecksum := computeChecksum(index, asqn, length, payload)
	if gotChecksum != wantChecksum {
		return Record{}, int(length), decodeCorrupt
	}

	return Record{Index: index, Asqn: asqn, Payload: payload}, int(length), decodeOK
}
