// Package cleaner provides a reference victim-selection policy for
// corelog.Log's cooperative cleaner hook. The policy itself is not
// specified by the core log/replication contract — any type satisfying
// corelog.Cleaner can be substituted at construction time.
//
// Greedy picks, among segments not currently the head, the one with the
// most bytes freed, on the theory that it has the least live data left to
// copy forward and so returns the most space per unit of eviction work.
package cleaner

import (
	"log/slog"

	"github.com/infra-structure/RAMCloud/pkg/corelog"
)

// Greedy evicts, on every pass of a Clean call, the single active segment
// with the most freed bytes, provided it clears minFreedBytes. It never
// touches the current head.
type Greedy struct {
	handle corelog.LogHandle

	// minFreedBytes gates eviction: a segment must have at least this many
	// freed bytes before Greedy will spend an eviction pass on it.
	minFreedBytes uint64
}

// NewGreedy satisfies corelog.CleanerFactory.
func NewGreedy(handle corelog.LogHandle) corelog.Cleaner {
	return &Greedy{handle: handle, minFreedBytes: 1}
}

// NewGreedyWithThreshold is NewGreedy with an explicit minFreedBytes gate,
// for tests that want to control when eviction kicks in.
func NewGreedyWithThreshold(handle corelog.LogHandle, minFreedBytes uint64) corelog.Cleaner {
	return &Greedy{handle: handle, minFreedBytes: minFreedBytes}
}

// Clean runs units passes, each evicting at most one segment.
func (g *Greedy) Clean(units int) {
	for i := 0; i < units; i++ {
		victim := g.pickVictim()
		if victim == nil {
			return
		}
		g.handle.Evict(victim)
		slog.Debug("cleaner evicted segment", "segment_id", uint64(victim.GetID()))
	}
}

func (g *Greedy) pickVictim() corelog.SegmentLike {
	headID, hasHead := g.handle.CurrentHeadID()

	var best corelog.SegmentLike
	var bestFreed uint64

	g.handle.ForEachSegment(func(s corelog.SegmentLike) bool {
		if hasHead && s.GetID() == headID {
			return true
		}
		if freed := s.FreedBytes(); freed > bestFreed {
			best, bestFreed = s, freed
		}
		return true
	}, corelog.NoLimit)

	if bestFreed < g.minFreedBytes {
		return nil
	}
	return best
}
