// Package segment frames one fixed-size buffer as a sequence of typed
// entries: [type byte][length uint32][payload][crc32 uint32], terminated by
// a zero-length footer entry written on Close. This is the minimal wire
// format the core needs to exercise Log/BackupManager end to end; the real
// on-disk/in-wire encoding is out of scope (see the core spec), so nothing
// here is meant to be a durable format.
//
// Framing style is that of length-prefixed write-ahead-log entries, carrying
// an entry type tag instead of a fixed key/value pair.
package segment

import (
	"encoding/binary"
	"hash/crc32"
	"unsafe"

	"github.com/infra-structure/RAMCloud/pkg/types"
)

// header is [type(1)][length(4)], each entry ends in a [crc32(4)] trailer.
const (
	headerSize = 5
	crcSize    = 4
	// entryFixedOverhead is the framing cost of a zero-length entry.
	entryFixedOverhead = headerSize + crcSize
	// footerSize is the cost of the zero-length footer Close() writes.
	footerSize = entryFixedOverhead
)

// Notifier mirrors segment state to the replicas BackupManager opened for
// this segment. A Segment holds a non-owning reference to one; Log never
// touches BackupManager directly, only through a Segment.
type Notifier interface {
	OpenSegment(masterID types.LogID, segmentID types.SegmentID)
	WriteSegment(masterID types.LogID, segmentID types.SegmentID, offset uint32, data []byte)
	CloseSegment(masterID types.LogID, segmentID types.SegmentID)
}

// Entry describes one live entry as handed to a cleaner draining a segment.
type Entry struct {
	Type    types.EntryType
	Pointer types.Pointer
	Payload []byte
}

type record struct {
	offset uint64
	length uint32
	typ    types.EntryType
}

// Segment is a fixed-size buffer carrying a framed sequence of typed
// entries. At most one Segment per Log accepts appends at a time (the
// head); Log enforces that invariant, not Segment.
type Segment struct {
	logID types.LogID
	id    types.SegmentID

	buf  []byte
	base types.Pointer

	tail       uint64
	freedBytes uint64
	closed     bool

	// records is every entry appended, in append order (the footer is
	// never added to it); byOffset indexes the same records by payload
	// offset so Free can bump freedBytes in O(1).
	records  []*record
	byOffset map[uint64]*record

	notifier Notifier
}

// AllocateAligned returns a freshly allocated buffer of exactly size bytes
// whose first byte falls on a size-aligned address, by over-allocating 2x
// and slicing into the aligned region. size must be a power of two. This is
// the Go stand-in for the original pool's xmemalign(segmentCapacity,
// segmentCapacity) call: corelog.Log relies on every segment buffer being
// aligned so that masking a pointer's low bits recovers its segment's base.
func AllocateAligned(size uint64) []byte {
	raw := make([]byte, size*2)
	base := uintptr(unsafe.Pointer(&raw[0]))
	mask := uintptr(size - 1)
	aligned := (base + mask) &^ mask
	off := aligned - base
	sz := uintptr(size)
	return raw[off : off+sz : off+sz]
}

// New frames buf as a brand-new, empty segment and, if notifier is
// non-nil, tells it the segment has opened. buf must not be empty and must
// outlive the Segment: Segment never copies it.
func New(logID types.LogID, id types.SegmentID, buf []byte, notifier Notifier) *Segment {
	s := &Segment{
		logID:    logID,
		id:       id,
		buf:      buf,
		base:     types.Pointer(uintptr(unsafe.Pointer(&buf[0]))),
		byOffset: make(map[uint64]*record),
		notifier: notifier,
	}
	if notifier != nil {
		notifier.OpenSegment(logID, id)
	}
	return s
}

// AppendableBytes reports the largest single-entry payload this segment's
// framing permits while it is still empty, i.e. capacity minus the cost of
// the entry itself and the footer entry Close() must still be able to write
// afterwards.
func (s *Segment) AppendableBytes() uint64 {
	cap64 := uint64(len(s.buf))
	overhead := uint64(entryFixedOverhead + footerSize)
	if cap64 < overhead {
		return 0
	}
	return cap64 - overhead
}

// Append frames data under type and copies it into the buffer, mirroring
// the raw entry bytes to replicas via Notifier.WriteSegment. It returns
// (0, false) if the entry (plus the reserved footer) would not fit;
// the caller must roll to a new segment.
func (s *Segment) Append(entryType types.EntryType, data []byte) (types.Pointer, bool) {
	if s.closed {
		return 0, false
	}

	need := uint64(entryFixedOverhead+len(data)) + footerSize
	if s.tail+need > uint64(len(s.buf)) {
		return 0, false
	}

	start := s.tail
	s.buf[start] = byte(entryType)
	binary.LittleEndian.PutUint32(s.buf[start+1:start+5], uint32(len(data)))
	payloadOff := start + headerSize
	copy(s.buf[payloadOff:payloadOff+uint64(len(data))], data)
	crc := crc32.ChecksumIEEE(data)
	binary.LittleEndian.PutUint32(s.buf[payloadOff+uint64(len(data)):payloadOff+uint64(len(data))+crcSize], crc)

	entrySize := uint64(entryFixedOverhead + len(data))
	rec := &record{offset: payloadOff, length: uint32(len(data)), typ: entryType}
	s.records = append(s.records, rec)
	s.byOffset[payloadOff] = rec
	s.tail += entrySize

	if s.notifier != nil {
		s.notifier.WriteSegment(s.logID, s.id, uint32(start), s.buf[start:start+entrySize])
	}

	return s.base + types.Pointer(payloadOff), true
}

// ReadAt returns the length bytes of payload starting at p, if p is an
// entry's payload pointer within this segment.
func (s *Segment) ReadAt(p types.Pointer, length int) ([]byte, bool) {
	off, ok := s.offsetOf(p)
	if !ok {
		return nil, false
	}
	if _, known := s.byOffset[off]; !known {
		return nil, false
	}
	if off+uint64(length) > uint64(len(s.buf)) {
		return nil, false
	}
	return s.buf[off : off+uint64(length)], true
}

// Free bumps the freed-bytes tally for the entry at p. It is the caller's
// job (Log) to have already confirmed p falls within this segment. Calling
// Free twice on the same pointer double-counts, matching the original
// Segment::free, which is a tally, not a set.
func (s *Segment) Free(p types.Pointer) {
	off, ok := s.offsetOf(p)
	if !ok {
		return
	}
	if rec, known := s.byOffset[off]; known {
		s.freedBytes += uint64(rec.length)
	}
}

// Entries returns every entry appended to this segment, in append order,
// for a cleaner to drain during eviction. The footer written by Close is
// never included.
func (s *Segment) Entries() []Entry {
	out := make([]Entry, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, Entry{
			Type:    rec.typ,
			Pointer: s.base + types.Pointer(rec.offset),
			Payload: s.buf[rec.offset : rec.offset+uint64(rec.length)],
		})
	}
	return out
}

// FreedBytes reports the running tally accumulated by Free, the figure the
// cleaner uses to rank victim segments.
func (s *Segment) FreedBytes() uint64 {
	return s.freedBytes
}

// Close finalizes the segment with a zero-length footer entry and notifies
// replicas. Close is idempotent: a segment already closed is left as-is,
// since the original design never asserts idempotence but destruction may
// close the head unconditionally.
func (s *Segment) Close() {
	if s.closed {
		return
	}

	start := s.tail
	s.buf[start] = byte(types.SegFooterType)
	binary.LittleEndian.PutUint32(s.buf[start+1:start+5], 0)
	crc := crc32.ChecksumIEEE(nil)
	binary.LittleEndian.PutUint32(s.buf[start+headerSize:start+headerSize+crcSize], crc)
	s.tail += entryFixedOverhead
	s.closed = true

	if s.notifier != nil {
		s.notifier.WriteSegment(s.logID, s.id, uint32(start), s.buf[start:s.tail])
		s.notifier.CloseSegment(s.logID, s.id)
	}
}

// GetBaseAddress returns the segment's buffer base, the key used by Log's
// base-address index.
func (s *Segment) GetBaseAddress() types.Pointer {
	return s.base
}

// GetID returns the segment's identifier.
func (s *Segment) GetID() types.SegmentID {
	return s.id
}

func (s *Segment) offsetOf(p types.Pointer) (uint64, bool) {
	if p < s.base {
		return 0, false
	}
	off := uint64(p - s.base)
	if off >= uint64(len(s.buf)) {
		return 0, false
	}
	return off, true
}
