package corelog

import (
	"fmt"
	"log/slog"

	"github.com/zhangyunhao116/skipmap"

	"github.com/infra-structure/RAMCloud/pkg/clock"
	"github.com/infra-structure/RAMCloud/pkg/logerrors"
	"github.com/infra-structure/RAMCloud/pkg/segment"
	"github.com/infra-structure/RAMCloud/pkg/types"
)

// Log is a segmented, append-only byte arena backed by a fixed pool of
// equal-size buffers. See the package doc for the concurrency contract.
type Log struct {
	id              types.LogID
	segmentCapacity uint64
	backup          Backup

	buffers  map[types.Pointer][]byte
	freeList []types.Pointer // LIFO: most recently freed buffer popped first

	nextSegmentID *clock.AtomicClock
	maxAppendable uint64

	head SegmentLike

	activeByID   *skipmap.Uint64Map[SegmentLike]
	activeByBase *skipmap.Uint64Map[SegmentLike]

	types map[types.EntryType]*typeRegistration

	cleaner Cleaner
}

// New builds a Log of numSegments = logCapacity/segmentCapacity buffers,
// each allocated aligned to segmentCapacity so a pointer's segment can be
// recovered by masking its low bits. segmentCapacity must be a power of
// two. newCleaner is called once, after the pool is built, to bind a
// Cleaner to this Log; pass cleaner.NewGreedy for the reference policy.
func New(id types.LogID, logCapacity, segmentCapacity uint64, backup Backup, newCleaner CleanerFactory) (*Log, error) {
	if segmentCapacity == 0 || segmentCapacity&(segmentCapacity-1) != 0 {
		return nil, logerrors.New("segmentCapacity must be a non-zero power of two")
	}
	numSegments := logCapacity / segmentCapacity
	if numSegments < 1 {
		return nil, logerrors.Wrap(logerrors.ErrInsufficientCapacity,
			fmt.Sprintf("logCapacity=%d cannot hold even one segmentCapacity=%d segment", logCapacity, segmentCapacity))
	}

	l := &Log{
		id:              id,
		segmentCapacity: segmentCapacity,
		backup:          backup,
		buffers:         make(map[types.Pointer][]byte, numSegments),
		nextSegmentID:   clock.NewAtomic(0),
		activeByID:      skipmap.NewUint64[SegmentLike](),
		activeByBase:    skipmap.NewUint64[SegmentLike](),
		types:           make(map[types.EntryType]*typeRegistration),
	}

	for i := uint64(0); i < numSegments; i++ {
		l.addSegmentMemory(segment.AllocateAligned(segmentCapacity))
	}

	if newCleaner != nil {
		l.cleaner = newCleaner(l)
	}

	slog.Info("log opened", append(logAttrs(id), "segments", numSegments, "segment_capacity", segmentCapacity)...)
	return l, nil
}

// addSegmentMemory registers one unbound buffer with the pool and pushes it
// onto the free list. Kept as its own method, callable again later, so a
// test can probe pool growth directly rather than only through New.
func (l *Log) addSegmentMemory(buf []byte) {
	scratch := segment.New(l.id, 0, buf, nil)
	base := scratch.GetBaseAddress()

	l.buffers[base] = buf
	l.freeList = append(l.freeList, base)

	if l.maxAppendable == 0 {
		l.maxAppendable = scratch.AppendableBytes()
	}
}

// RegisterType binds an eviction callback to an entry type. Each type may
// be registered at most once; RegisterType itself is not expected to be
// called concurrently with Append.
func (l *Log) RegisterType(t types.EntryType, cb EvictionCB, cookie any) error {
	if t == types.SegFooterType {
		return logerrors.New("entry type 0 is reserved for the segment footer")
	}
	if _, exists := l.types[t]; exists {
		return logerrors.Wrap(logerrors.ErrTypeAlreadyRegistered, fmt.Sprintf("type %d", t))
	}
	l.types[t] = &typeRegistration{cb: cb, cookie: cookie}
	return nil
}

// GetMaximumAppendableBytes returns the largest payload Append can ever
// accept, regardless of current head occupancy.
func (l *Log) GetMaximumAppendableBytes() uint64 {
	return l.maxAppendable
}

// Append writes data, tagged entryType, into the head segment, opening a
// new head (and running the cleaner once) if the current head has no room.
// ok is false, with a nil error, when the pool has no free segment left to
// roll over into — the log is full, which is not itself an error condition.
func (l *Log) Append(entryType types.EntryType, data []byte) (types.Pointer, bool, error) {
	if entryType == types.SegFooterType {
		return 0, false, logerrors.New("entry type 0 is reserved for the segment footer")
	}
	if uint64(len(data)) > l.maxAppendable {
		return 0, false, logerrors.Wrap(logerrors.ErrAppendTooLarge,
			fmt.Sprintf("length %d exceeds maximum appendable %d", len(data), l.maxAppendable))
	}

	for {
		if l.head != nil {
			if p, ok := l.head.Append(entryType, data); ok {
				return p, true, nil
			}
		}

		if !l.rollHead() {
			return 0, false, nil
		}
	}
}

// rollHead closes the current head (if any), pops a buffer off the free
// list, opens it as the new head, and gives the cleaner a chance to make
// room behind it. It returns false when the pool has no free buffer left.
func (l *Log) rollHead() bool {
	if l.head != nil {
		l.head.Close()
		l.head = nil
	}

	base, ok := l.popFree()
	if !ok {
		return false
	}

	buf := l.buffers[base]
	id := types.SegmentID(l.nextSegmentID.Next() - 1)

	seg := segment.New(l.id, id, buf, l.backup)
	l.activeByID.Store(uint64(id), SegmentLike(seg))
	l.activeByBase.Store(uint64(base), SegmentLike(seg))
	l.head = seg

	if l.cleaner != nil {
		l.cleaner.Clean(1)
	}
	return true
}

func (l *Log) popFree() (types.Pointer, bool) {
	n := len(l.freeList)
	if n == 0 {
		return 0, false
	}
	base := l.freeList[n-1]
	l.freeList = l.freeList[:n-1]
	return base, true
}

// baseOf masks p's low segmentCapacity bits off, recovering the base
// address of the segment p was allocated from.
func (l *Log) baseOf(p types.Pointer) types.Pointer {
	mask := types.Pointer(l.segmentCapacity - 1)
	return p &^ mask
}

func (l *Log) segmentFor(p types.Pointer) (SegmentLike, bool) {
	return l.activeByBase.Load(uint64(l.baseOf(p)))
}

// Free marks the entry at p as reclaimable. It does not invalidate the
// bytes at p: readers that already hold p may keep reading through it
// until the segment it belongs to is evicted.
func (l *Log) Free(p types.Pointer) error {
	seg, ok := l.segmentFor(p)
	if !ok {
		return logerrors.Wrap(logerrors.ErrInvalidPointer, fmt.Sprintf("pointer %#x", uintptr(p)))
	}
	seg.Free(p)
	return nil
}

// GetSegmentID returns the id of the segment p was allocated from.
func (l *Log) GetSegmentID(p types.Pointer) (types.SegmentID, error) {
	seg, ok := l.segmentFor(p)
	if !ok {
		return 0, logerrors.Wrap(logerrors.ErrInvalidPointer, fmt.Sprintf("pointer %#x", uintptr(p)))
	}
	return seg.GetID(), nil
}

// IsSegmentLive reports whether id still has an entry in the active index,
// i.e. it has not yet been evicted by the cleaner.
func (l *Log) IsSegmentLive(id types.SegmentID) bool {
	_, ok := l.activeByID.Load(uint64(id))
	return ok
}

// NoLimit, passed as ForEachSegment's limit, visits every active segment.
const NoLimit = -1

// ForEachSegment visits active segments in ascending segment-id order,
// stopping once limit segments have been visited. A limit of 0 visits
// none, matching the original forEachSegment's while (i < limit) bound;
// pass NoLimit for the cleaner's genuine need to see every active segment.
func (l *Log) ForEachSegment(cb func(SegmentLike) bool, limit int) {
	if limit == 0 {
		return
	}
	visited := 0
	l.activeByID.Range(func(_ uint64, seg SegmentLike) bool {
		if limit > 0 && visited >= limit {
			return false
		}
		visited++
		return cb(seg)
	})
}

// EvictionCallbackFor implements LogHandle.
func (l *Log) EvictionCallbackFor(t types.EntryType) (EvictionCB, any, bool) {
	reg, ok := l.types[t]
	if !ok || reg.cb == nil {
		return nil, nil, false
	}
	return reg.cb, reg.cookie, true
}

// CurrentHeadID implements LogHandle.
func (l *Log) CurrentHeadID() (types.SegmentID, bool) {
	if l.head == nil {
		return 0, false
	}
	return l.head.GetID(), true
}

// Evict implements LogHandle. It is a no-op if seg is the current head or
// is already gone from the active indices.
func (l *Log) Evict(seg SegmentLike) {
	if l.head != nil && seg.GetID() == l.head.GetID() {
		return
	}

	id := seg.GetID()
	base := seg.GetBaseAddress()
	if _, ok := l.activeByID.Load(uint64(id)); !ok {
		return
	}

	for _, entry := range seg.Entries() {
		if cb, cookie, ok := l.EvictionCallbackFor(entry.Type); ok {
			cb(entry, cookie)
		}
	}

	l.activeByID.Delete(uint64(id))
	l.activeByBase.Delete(uint64(base))

	if l.backup != nil {
		l.backup.FreeSegment(l.id, id)
	}

	l.freeList = append(l.freeList, base)
	slog.Debug("segment evicted", append(logAttrs(l.id), "segment_id", uint64(id))...)
}

// Stats reports a point-in-time snapshot of pool occupancy.
func (l *Log) Stats() Stats {
	return Stats{
		ActiveSegments: l.activeByID.Len(),
		FreeSegments:   len(l.freeList),
		TotalSegments:  len(l.buffers),
		HasHead:        l.head != nil,
	}
}

// Close closes the head segment (writing its footer) and tears down every
// active segment's bookkeeping, mirroring whole-log teardown on process
// shutdown: no buffer is returned to the OS since Go's GC owns them, but
// every active index entry is cleared and every buffer pushed back onto
// the free list so a closed Log reports an accurate Stats().
func (l *Log) Close() {
	if l.head != nil {
		l.head.Close()
		l.head = nil
	}

	var bases []types.Pointer
	l.activeByID.Range(func(_ uint64, seg SegmentLike) bool {
		bases = append(bases, seg.GetBaseAddress())
		return true
	})
	for _, base := range bases {
		if seg, ok := l.activeByBase.Load(uint64(base)); ok {
			l.activeByID.Delete(uint64(seg.GetID()))
		}
		l.activeByBase.Delete(uint64(base))
		l.freeList = append(l.freeList, base)
	}

	l.types = make(map[types.EntryType]*typeRegistration)
	slog.Info("log closed", logAttrs(l.id)...)
}
