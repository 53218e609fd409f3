// Package corelog implements Log, the append-only segmented byte arena at
// the heart of a master server: a fixed pool of equal-size segment buffers,
// a single open head segment receiving appends, and a set of previously
// closed but still-active segments kept alive until a cleaner evicts them.
//
// A Log is single-writer: none of its exported methods may be called
// concurrently with one another. Readers needing a point-in-time view use
// ForEachSegment, which is safe to call from the same goroutine that is
// appending (it never blocks on anything the writer holds).
package corelog

import (
	"log/slog"

	"github.com/infra-structure/RAMCloud/pkg/segment"
	"github.com/infra-structure/RAMCloud/pkg/types"
)

// SegmentLike is the subset of *segment.Segment that Log depends on. Log is
// programmed against this interface, not the concrete type, so a test can
// substitute a fake segment without touching the real framing.
type SegmentLike interface {
	Append(entryType types.EntryType, data []byte) (types.Pointer, bool)
	Free(p types.Pointer)
	Close()
	AppendableBytes() uint64
	FreedBytes() uint64
	GetBaseAddress() types.Pointer
	GetID() types.SegmentID
	Entries() []segment.Entry
}

// Backup is the subset of BackupManager a Log needs: segment.Notifier binds
// a new head (and every append to it) to replicas, FreeSegment releases
// those replicas once the cleaner evicts the segment.
type Backup interface {
	segment.Notifier
	FreeSegment(masterID types.LogID, segmentID types.SegmentID)
}

// EvictionCB is invoked once per live entry of a segment chosen for
// eviction. It typically re-appends data the caller still considers live
// and ignores the rest; corelog makes no liveness judgment of its own.
type EvictionCB func(entry segment.Entry, cookie any)

// Cleaner is invoked cooperatively from Append every time a new head
// segment is allocated. Victim selection is entirely the cleaner's policy;
// see pkg/cleaner for the reference implementation.
type Cleaner interface {
	Clean(units int)
}

// LogHandle is the narrow surface a Cleaner uses to drive eviction. It
// deliberately excludes Append: the cleaner may read and evict, never
// write new data into the log.
type LogHandle interface {
	// ForEachSegment visits active segments in ascending segment-id order,
	// stopping early once limit is reached or cb returns false. A limit of
	// 0 visits none; pass NoLimit to visit every active segment.
	ForEachSegment(cb func(SegmentLike) bool, limit int)
	// EvictionCallbackFor looks up the registered callback for a type, if any.
	EvictionCallbackFor(t types.EntryType) (EvictionCB, any, bool)
	// Evict invokes the registered per-type callbacks over every entry of
	// seg, then removes seg from the active indices, tells Backup to free its
	// replicas, and returns its buffer to the free list. Evicting the current
	// head is a no-op.
	Evict(seg SegmentLike)
	// CurrentHeadID reports the head segment's id, so a cleaner can exclude
	// it from victim selection. ok is false if no segment is open yet.
	CurrentHeadID() (types.SegmentID, bool)
}

// CleanerFactory builds a Cleaner bound to a LogHandle. Log.New takes one
// rather than constructing a default cleaner itself, so pkg/corelog never
// needs to import pkg/cleaner.
type CleanerFactory func(LogHandle) Cleaner

type typeRegistration struct {
	cb     EvictionCB
	cookie any
}

// Stats is a point-in-time snapshot of pool occupancy, exposed for
// metrics endpoints and tests that want to assert on invariants directly.
type Stats struct {
	ActiveSegments int
	FreeSegments   int
	TotalSegments  int
	HasHead        bool
}

func logAttrs(id types.LogID) []any {
	return []any{slog.Uint64("log_id", uint64(id))}
}
