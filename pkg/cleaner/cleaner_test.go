package cleaner

import (
	"testing"

	"github.com/infra-structure/RAMCloud/pkg/corelog"
	"github.com/infra-structure/RAMCloud/pkg/types"
)

type noopBackup struct{}

func (noopBackup) OpenSegment(types.LogID, types.SegmentID)          {}
func (noopBackup) WriteSegment(types.LogID, types.SegmentID, uint32, []byte) {}
func (noopBackup) CloseSegment(types.LogID, types.SegmentID)         {}
func (noopBackup) FreeSegment(types.LogID, types.SegmentID)          {}

func TestGreedyNeverEvictsHead(t *testing.T) {
	var cln corelog.Cleaner
	l, err := corelog.New(1, 3*4096, 4096, noopBackup{}, func(h corelog.LogHandle) corelog.Cleaner {
		cln = NewGreedyWithThreshold(h, 1)
		return cln
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := l.Append(1, []byte("only entry, in the only segment")); err != nil {
		t.Fatal(err)
	}

	var headID types.SegmentID
	l.ForEachSegment(func(s corelog.SegmentLike) bool {
		headID = s.GetID()
		return false
	}, corelog.NoLimit)

	cln.Clean(5)

	if !l.IsSegmentLive(headID) {
		t.Fatal("greedy cleaner must never evict the current head")
	}
}

func TestGreedyEvictsMostFreedSegment(t *testing.T) {
	var cln corelog.Cleaner
	l, err := corelog.New(1, 4*4096, 4096, noopBackup{}, func(h corelog.LogHandle) corelog.Cleaner {
		cln = NewGreedyWithThreshold(h, 1)
		return cln
	})
	if err != nil {
		t.Fatal(err)
	}

	p1, _, err := l.Append(1, []byte("segment one payload"))
	if err != nil {
		t.Fatal(err)
	}
	id1, err := l.GetSegmentID(p1)
	if err != nil {
		t.Fatal(err)
	}

	full := make([]byte, l.GetMaximumAppendableBytes())
	if _, _, err := l.Append(1, full); err != nil {
		t.Fatal(err)
	}

	if err := l.Free(p1); err != nil {
		t.Fatal(err)
	}

	cln.Clean(1)

	if l.IsSegmentLive(id1) {
		t.Fatal("expected the fully-freed first segment to be evicted")
	}
}
