// Package backupservice is the reference backup-server implementation:
// an in-memory segment store fronted by chi HTTP routes, playing the role
// a real disk-backed backup daemon would play against backup.Client.
package backupservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/infra-structure/RAMCloud/pkg/listener"
	"github.com/infra-structure/RAMCloud/pkg/types"
)

type segmentRecord struct {
	open     bool
	masterID types.LogID
	buf      []byte
}

type writeJob struct {
	masterID  types.LogID
	segmentID types.SegmentID
	offset    uint32
	data      []byte
	done      chan error
}

// Store holds every segment this backup currently has open or closed for
// some master, applying writes off an async Listener fed by an input
// channel: Write blocks its
// caller on a per-call done channel rather than on the apply itself, so a
// slow flush never serializes unrelated callers behind it.
type Store struct {
	*listener.Listener[writeJob]

	mu       sync.Mutex
	segments map[types.SegmentID]*segmentRecord

	inputCh chan writeJob
}

// NewStore builds an empty Store and starts its write-applier goroutine.
func NewStore() *Store {
	s := &Store{
		segments: make(map[types.SegmentID]*segmentRecord),
		inputCh:  make(chan writeJob, 32),
	}
	s.Listener = listener.New(s.inputCh, s.applyWrite, s.stop)
	s.Start(context.Background())
	return s
}

func (s *Store) stop() {
	close(s.inputCh)
}

// applyWrite is run only by the Listener goroutine. It never returns a
// non-nil error: a malformed or late write is a client-visible failure,
// reported through job.done, not a reason to crash the whole backup
// process the way a real disk I/O failure would be.
func (s *Store) applyWrite(job writeJob) error {
	s.mu.Lock()
	rec, ok := s.segments[job.segmentID]
	if !ok {
		s.mu.Unlock()
		job.done <- fmt.Errorf("write to unopened segment %d", uint64(job.segmentID))
		return nil
	}

	end := int(job.offset) + len(job.data)
	if end > len(rec.buf) {
		grown := make([]byte, end)
		copy(grown, rec.buf)
		rec.buf = grown
	}
	copy(rec.buf[job.offset:], job.data)
	s.mu.Unlock()

	job.done <- nil
	return nil
}

// Open registers segmentID as open for masterID. It is not an error to
// re-open an already-open segment from the same master — the master's own
// retry logic may legitimately resend an Open after a dropped response.
func (s *Store) Open(masterID types.LogID, segmentID types.SegmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, exists := s.segments[segmentID]; exists {
		if rec.masterID != masterID {
			return fmt.Errorf("segment %d already open for a different master", uint64(segmentID))
		}
		return nil
	}
	s.segments[segmentID] = &segmentRecord{open: true, masterID: masterID}
	return nil
}

// Write enqueues data at offset into segmentID and blocks until the
// Listener goroutine has applied it or ctx is done.
func (s *Store) Write(ctx context.Context, segmentID types.SegmentID, offset uint32, data []byte) error {
	done := make(chan error, 1)
	job := writeJob{segmentID: segmentID, offset: offset, data: data, done: done}

	select {
	case s.inputCh <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks segmentID closed; closed segments remain readable for
// recovery until Free deletes them.
func (s *Store) Close(segmentID types.SegmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.segments[segmentID]
	if !ok {
		return fmt.Errorf("close of unopened segment %d", uint64(segmentID))
	}
	rec.open = false
	return nil
}

// Free discards segmentID entirely.
func (s *Store) Free(segmentID types.SegmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.segments, segmentID)
	return nil
}

// GetRecoveryData returns the bytes accumulated for segmentID.
func (s *Store) GetRecoveryData(segmentID types.SegmentID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.segments[segmentID]
	if !ok {
		return nil, fmt.Errorf("no such segment %d on this backup", uint64(segmentID))
	}
	return append([]byte(nil), rec.buf...), nil
}
