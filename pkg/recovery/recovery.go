// Package recovery defines the contract a master's crash-recovery target
// implements, and ships an in-memory reference implementation for
// single-process demos and backup.Manager's own tests. A real recovery
// master would replay segment bytes back into a fresh Log's buffers; this
// package is deliberately agnostic about what "replay" means to the
// caller: it hands segment bytes to a Master rather than owning their
// interpretation.
package recovery

import (
	"context"
	"log/slog"
	"sync"

	"github.com/infra-structure/RAMCloud/pkg/types"
)

// Master is the recovery-side counterpart to backup.Manager.Recover: it
// receives one segment's replayed bytes at a time and decides what to do
// with them. RecoverSegment is called once per segment recovered from a
// crashed master's replicas, in no particular order.
type Master interface {
	RecoverSegment(ctx context.Context, logID types.LogID, segmentID types.SegmentID, data []byte) error
}

// InMemory is a Master that keeps every recovered segment's bytes in
// memory, keyed by segment id. It exists so a demo or a test can drive a
// full openSegment/write/close/free/recover cycle without a second real
// Log to replay into.
type InMemory struct {
	mu       sync.Mutex
	segments map[types.SegmentID][]byte
}

// NewInMemory returns an empty InMemory recovery master.
func NewInMemory() *InMemory {
	return &InMemory{segments: make(map[types.SegmentID][]byte)}
}

// RecoverSegment implements Master by copying data into the segment's slot,
// overwriting whatever was recovered for that segment id before it.
func (m *InMemory) RecoverSegment(_ context.Context, _ types.LogID, segmentID types.SegmentID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[segmentID] = append([]byte(nil), data...)
	return nil
}

// Segment returns the bytes last recovered for segmentID, if any.
func (m *InMemory) Segment(segmentID types.SegmentID) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.segments[segmentID]
	return data, ok
}

// SegmentIDs returns every segment id this master has recovered data for,
// in no particular order.
func (m *InMemory) SegmentIDs() []types.SegmentID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]types.SegmentID, 0, len(m.segments))
	for id := range m.segments {
		ids = append(ids, id)
	}
	return ids
}

// Fetcher retrieves one segment's raw recovery bytes from the backup at
// serviceLocator. backup.Manager implements this against a live session,
// independently of whether that Manager itself ever opened the segment —
// the Manager doing the recovering is typically a fresh one standing in
// for a crashed master it never served.
type Fetcher interface {
	FetchSegment(ctx context.Context, serviceLocator string, masterID types.LogID, segmentID types.SegmentID) ([]byte, error)
}

// RecoverAll walks backupList once, in order, the way the original
// recover() does: backupList is a flattened list of (serviceLocator,
// segmentId) candidates, with alternative backups for the same segment id
// appearing consecutively. An entry missing a segment id, or naming a
// server that is not a BACKUP, is skipped with a warning. Once a segment
// id has been successfully recovered, later entries offering the same id
// are skipped rather than re-fetched. Recovery is best-effort: if every
// candidate for a segment id fails, that failure is logged at error level
// as corruption and RecoverAll proceeds to the next id instead of
// aborting — "pretending everything is ok" and carrying on, matching the
// original's explicit tolerance for partial recovery.
func RecoverAll(ctx context.Context, src Fetcher, dst Master, crashedMasterID types.LogID, backupList []types.ServerListEntry) {
	var segmentIDToRecover types.SegmentID
	haveSegmentIDToRecover := false
	wasRecovered := true

	for _, server := range backupList {
		if !server.HasSegment {
			slog.Warn("recovery: server list entry missing a segment id", "service_locator", server.ServiceLocator)
			continue
		}
		if wasRecovered && haveSegmentIDToRecover && server.SegmentID == segmentIDToRecover {
			continue
		}
		if server.ServerType != types.ServerTypeBackup {
			slog.Warn("recovery: server list for recovery should not contain non-BACKUP entries", "service_locator", server.ServiceLocator)
			continue
		}
		if !wasRecovered && server.SegmentID != segmentIDToRecover {
			slog.Error("recovery: failed to recover segment, master state is corrupted, pretending everything is ok", "segment_id", uint64(segmentIDToRecover))
		}

		segmentIDToRecover = server.SegmentID
		haveSegmentIDToRecover = true
		wasRecovered = false

		data, err := src.FetchSegment(ctx, server.ServiceLocator, crashedMasterID, segmentIDToRecover)
		if err != nil {
			slog.Warn("recovery: fetch failed, trying next backup", "service_locator", server.ServiceLocator, "segment_id", uint64(segmentIDToRecover), "err", err)
			continue
		}

		if err := dst.RecoverSegment(ctx, crashedMasterID, segmentIDToRecover, data); err != nil {
			slog.Warn("recovery: recoverSegment rejected recovered data, trying next backup", "segment_id", uint64(segmentIDToRecover), "err", err)
			continue
		}
		wasRecovered = true
	}

	if !wasRecovered {
		slog.Error("recovery: failed to recover segment, master state is corrupted, pretending everything is ok", "segment_id", uint64(segmentIDToRecover))
	}
}
