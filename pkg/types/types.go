// Package types holds the scalar identifiers shared by the corelog, backup,
// segment and coordinator packages. Keeping them here avoids import cycles.
package types

// LogID uniquely identifies the master that owns a Log, cluster-wide.
type LogID uint64

// SegmentID identifies one Segment within a single Log. Ids are allocated
// from a per-log counter starting at zero and increase monotonically.
type SegmentID uint64

// EntryType tags the kind of data carried by a single Segment entry.
type EntryType uint8

// SegFooterType is the reserved entry type written once by Segment.Close and
// never accepted from Log.Append.
const SegFooterType EntryType = 0

// Pointer is an address into a Segment's backing buffer, as handed back by
// Log.Append and consumed by Log.Free/Log.GetSegmentID. It is derived once
// per segment from the buffer's first byte (see pkg/segment) and from then
// on only ever participates in integer arithmetic — it is never converted
// back into an unsafe.Pointer, so it carries none of the usual risks of
// storing raw addresses across garbage collection.
type Pointer uintptr

// ServerType distinguishes cluster roles as reported by a Coordinator.
type ServerType uint8

const (
	ServerTypeMaster ServerType = iota
	ServerTypeBackup
)

func (t ServerType) String() string {
	switch t {
	case ServerTypeMaster:
		return "MASTER"
	case ServerTypeBackup:
		return "BACKUP"
	default:
		return "UNKNOWN"
	}
}

// ServerListEntry is one row of a Coordinator's cluster membership snapshot.
type ServerListEntry struct {
	ServiceLocator string
	ServerType     ServerType
	// SegmentID/HasSegment are only populated when the entry appears in a
	// recovery server list, pointing at a segment a BACKUP can supply.
	SegmentID  SegmentID
	HasSegment bool
}
