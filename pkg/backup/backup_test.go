package backup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/infra-structure/RAMCloud/pkg/recovery"
	"github.com/infra-structure/RAMCloud/pkg/types"
)

// fakeSession is an in-memory Session, keyed by service locator, shared
// across a test's whole backup fleet via fakeFleet.
type fakeSession struct {
	locator string
	fleet   *fakeFleet
}

type fakeFleet struct {
	mu      sync.Mutex
	opened  map[string]map[types.SegmentID]bool
	data    map[string]map[types.SegmentID][]byte
	failing map[string]bool
}

func newFleet() *fakeFleet {
	return &fakeFleet{
		opened:  make(map[string]map[types.SegmentID]bool),
		data:    make(map[string]map[types.SegmentID][]byte),
		failing: make(map[string]bool),
	}
}

func (f *fakeFleet) factory(locator string) Session {
	return &fakeSession{locator: locator, fleet: f}
}

func (s *fakeSession) ServiceLocator() string { return s.locator }

func (s *fakeSession) Open(_ context.Context, _ types.LogID, segmentID types.SegmentID) error {
	f := s.fleet
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened[s.locator] == nil {
		f.opened[s.locator] = make(map[types.SegmentID]bool)
	}
	f.opened[s.locator][segmentID] = true
	return nil
}

// Write mirrors internal/backupservice/store.go's real rejection of a
// write to a segment this replica was never told to open, so a test
// driving Open and Write through the same Manager call sequence catches a
// regression to the old fire-and-forget fan-out, where Write could reach a
// replica before its Open had landed.
func (s *fakeSession) Write(_ context.Context, _ types.LogID, segmentID types.SegmentID, _ uint32, data []byte) error {
	f := s.fleet
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[s.locator] {
		return errFakeUnreachable
	}
	if !f.opened[s.locator][segmentID] {
		return errFakeSegmentNotOpen
	}
	if f.data[s.locator] == nil {
		f.data[s.locator] = make(map[types.SegmentID][]byte)
	}
	f.data[s.locator][segmentID] = append(f.data[s.locator][segmentID], data...)
	return nil
}

func (s *fakeSession) Close(_ context.Context, _ types.LogID, _ types.SegmentID) error { return nil }

func (s *fakeSession) Free(_ context.Context, _ types.LogID, segmentID types.SegmentID) error {
	f := s.fleet
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.opened[s.locator], segmentID)
	delete(f.data[s.locator], segmentID)
	return nil
}

func (s *fakeSession) GetRecoveryData(_ context.Context, _ types.LogID, segmentID types.SegmentID) ([]byte, error) {
	f := s.fleet
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[s.locator] {
		return nil, errFakeUnreachable
	}
	return f.data[s.locator][segmentID], nil
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const (
	errFakeUnreachable    = fakeErr("fake backup unreachable")
	errFakeSegmentNotOpen = fakeErr("fake backup: write to unopened segment")
)

func hostList(locators ...string) []types.ServerListEntry {
	out := make([]types.ServerListEntry, 0, len(locators))
	for _, l := range locators {
		out = append(out, types.ServerListEntry{ServiceLocator: l, ServerType: types.ServerTypeBackup})
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOpenSegmentFailsFastWithoutEnoughBackups(t *testing.T) {
	fleet := newFleet()
	m := New(1, 3, fleet.factory, nil)
	m.SetHostList(hostList("b1", "b2"))

	// OpenSegment logs and returns; with only two backups and a
	// replication factor of three it must not record the segment as open.
	m.OpenSegment(1, 10)

	if _, ok := m.segments.Load(10); ok {
		t.Fatal("segment must not be marked open when replicas could not be selected")
	}
}

func TestOpenWriteFanOutToAllReplicas(t *testing.T) {
	fleet := newFleet()
	m := New(1, 2, fleet.factory, nil)
	m.SetHostList(hostList("b1", "b2", "b3"))

	m.OpenSegment(1, 20)
	set, ok := m.segments.Load(20)
	if !ok {
		t.Fatal("expected segment 20 to be tracked after OpenSegment")
	}
	if set.Len() != 2 {
		t.Fatalf("expected exactly 2 replicas selected, got %d", set.Len())
	}

	m.WriteSegment(1, 20, 0, []byte("payload"))

	var locators []string
	set.Range(func(loc string) bool {
		locators = append(locators, loc)
		return true
	})

	for _, loc := range locators {
		waitFor(t, time.Second, func() bool {
			fleet.mu.Lock()
			defer fleet.mu.Unlock()
			return len(fleet.data[loc][20]) == len("payload")
		})
	}
}

// TestWriteSegmentObservesCompletedOpen exercises the happens-before
// contract directly: OpenSegment must return only once every replica's
// Open RPC has landed, so a WriteSegment issued immediately after never
// races ahead of it. With the old fire-and-forget fan-out this test was
// flaky — fakeSession.Write would occasionally see an unopened segment.
func TestWriteSegmentObservesCompletedOpen(t *testing.T) {
	fleet := newFleet()
	m := New(1, 3, fleet.factory, nil)
	m.SetHostList(hostList("b1", "b2", "b3"))

	for i := 0; i < 50; i++ {
		segmentID := types.SegmentID(100 + i)
		m.OpenSegment(1, segmentID)
		m.WriteSegment(1, segmentID, 0, []byte("x"))
		m.CloseSegment(1, segmentID)

		fleet.mu.Lock()
		for _, loc := range []string{"b1", "b2", "b3"} {
			if len(fleet.data[loc][segmentID]) != 1 {
				fleet.mu.Unlock()
				t.Fatalf("segment %d: replica %s did not durably receive the write issued right after open", segmentID, loc)
			}
		}
		fleet.mu.Unlock()
	}
}

func TestFreeSegmentDropsTracking(t *testing.T) {
	fleet := newFleet()
	m := New(1, 1, fleet.factory, nil)
	m.SetHostList(hostList("b1"))

	m.OpenSegment(1, 30)
	waitFor(t, time.Second, func() bool {
		fleet.mu.Lock()
		defer fleet.mu.Unlock()
		return fleet.opened["b1"][30]
	})

	m.FreeSegment(1, 30)
	waitFor(t, time.Second, func() bool {
		_, ok := m.segments.Load(30)
		return !ok
	})
}

func TestOpenSegmentFatalWhileAnotherSegmentIsOpen(t *testing.T) {
	fleet := newFleet()
	m := New(1, 1, fleet.factory, nil)
	m.SetHostList(hostList("b1", "b2"))

	m.OpenSegment(1, 50)
	waitFor(t, time.Second, func() bool {
		fleet.mu.Lock()
		defer fleet.mu.Unlock()
		return fleet.opened["b1"][50] || fleet.opened["b2"][50]
	})

	// Segment 50 was never closed, so openHosts is still non-empty: opening
	// a second segment must be rejected outright, leaving segment 51
	// untracked, regardless of which backup got segment 50.
	m.OpenSegment(1, 51)
	if _, ok := m.segments.Load(51); ok {
		t.Fatal("segment 51 must not be recorded as open while segment 50's replicas are still open")
	}

	m.CloseSegment(1, 50)
	m.OpenSegment(1, 51)
	if _, ok := m.segments.Load(51); !ok {
		t.Fatal("segment 51 should open normally once segment 50 has been closed")
	}
}

// fakeRecoveryMaster is a recovery.Master that records every segment it
// was handed, for assertions independent of pkg/recovery's own InMemory.
type fakeRecoveryMaster struct {
	mu       sync.Mutex
	recalled map[types.SegmentID][]byte
}

func newFakeRecoveryMaster() *fakeRecoveryMaster {
	return &fakeRecoveryMaster{recalled: make(map[types.SegmentID][]byte)}
}

func (f *fakeRecoveryMaster) RecoverSegment(_ context.Context, _ types.LogID, segmentID types.SegmentID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recalled[segmentID] = append([]byte(nil), data...)
	return nil
}

func (f *fakeRecoveryMaster) get(segmentID types.SegmentID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.recalled[segmentID]
	return string(data), ok
}

// TestRecoverDrivesAnExternallySuppliedBackupList is the recovery scenario
// from a fresh Manager that never itself opened the crashed master's
// segments: m.segments is empty, yet Recover still succeeds because it is
// driven entirely by the caller-supplied backupList.
func TestRecoverDrivesAnExternallySuppliedBackupList(t *testing.T) {
	fleet := newFleet()
	fleet.data["b1"] = map[types.SegmentID][]byte{}
	fleet.data["b2"] = map[types.SegmentID][]byte{7: []byte("seven"), 9: []byte("nine")}
	fleet.failing["b1"] = true

	m := New(99, 2, fleet.factory, nil) // a fresh Manager standing in for the crashed master's recovery master

	dst := newFakeRecoveryMaster()
	backupList := []types.ServerListEntry{
		{ServiceLocator: "b1", ServerType: types.ServerTypeBackup, SegmentID: 7, HasSegment: true},
		{ServiceLocator: "b2", ServerType: types.ServerTypeBackup, SegmentID: 7, HasSegment: true},
		{ServiceLocator: "b2", ServerType: types.ServerTypeBackup, SegmentID: 9, HasSegment: true},
	}

	m.Recover(context.Background(), dst, 1, backupList)

	if got, ok := dst.get(7); !ok || got != "seven" {
		t.Fatalf("segment 7: got %q ok=%v", got, ok)
	}
	if got, ok := dst.get(9); !ok || got != "nine" {
		t.Fatalf("segment 9: got %q ok=%v", got, ok)
	}
}

// TestRecoverUsesRecoveryInMemoryAsMaster exercises Recover against the
// reference recovery.Master implementation directly, not just a fake.
func TestRecoverUsesRecoveryInMemoryAsMaster(t *testing.T) {
	fleet := newFleet()
	fleet.data["b1"] = map[types.SegmentID][]byte{40: []byte("surviving data")}

	m := New(1, 1, fleet.factory, nil)
	dst := recovery.NewInMemory()

	m.Recover(context.Background(), dst, 1, []types.ServerListEntry{
		{ServiceLocator: "b1", ServerType: types.ServerTypeBackup, SegmentID: 40, HasSegment: true},
	})

	data, ok := dst.Segment(40)
	if !ok || string(data) != "surviving data" {
		t.Fatalf("got %q ok=%v, want %q", data, ok, "surviving data")
	}
}
