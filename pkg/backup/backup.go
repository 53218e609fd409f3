// Package backup implements BackupManager: the master-side component that
// replicates every segment a Log opens onto a fixed number of backup
// servers, and that drives recovery by pulling filtered segment data back
// from surviving backups after a master failure.
//
// A Manager satisfies corelog.Backup, so it can be handed directly to
// corelog.New as the segment.Notifier a Log drives on open/write/close,
// plus the FreeSegment hook a cleaner drives on eviction.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhangyunhao116/fastrand"
	"github.com/zhangyunhao116/skipmap"
	"github.com/zhangyunhao116/skipset"

	"github.com/infra-structure/RAMCloud/pkg/logerrors"
	"github.com/infra-structure/RAMCloud/pkg/recovery"
	"github.com/infra-structure/RAMCloud/pkg/types"
)

// Session is one open RPC channel to a single backup server. Client, in
// client.go, is the HTTP-backed implementation; tests substitute fakes.
type Session interface {
	ServiceLocator() string
	Open(ctx context.Context, masterID types.LogID, segmentID types.SegmentID) error
	Write(ctx context.Context, masterID types.LogID, segmentID types.SegmentID, offset uint32, data []byte) error
	Close(ctx context.Context, masterID types.LogID, segmentID types.SegmentID) error
	Free(ctx context.Context, masterID types.LogID, segmentID types.SegmentID) error
	GetRecoveryData(ctx context.Context, masterID types.LogID, segmentID types.SegmentID) ([]byte, error)
}

// HostSource refreshes the live BACKUP membership, typically a Coordinator.
// Declared here, structurally, so pkg/coordinator need not be imported.
type HostSource interface {
	GetServerList(ctx context.Context) ([]types.ServerListEntry, error)
}

// SessionFactory builds a Session for a backup's service locator. Manager
// calls it lazily and caches the result per locator.
type SessionFactory func(serviceLocator string) Session

// Manager is a Log's BackupManager: single logical owner of replication
// for one master. Its exported methods are safe for concurrent use. Each
// call fans its RPCs out to every replica in parallel but blocks until
// they all land before returning, the same way the original BackupManager
// issues these synchronously: OpenSegment happens-before any WriteSegment
// on the same segment, successive WriteSegments reach a given replica in
// the order they were issued, CloseSegment happens-after every write, and
// FreeSegment happens-after the close — all guaranteed by a Log never
// calling the next of these until the previous call has returned.
type Manager struct {
	logID      types.LogID
	replicas   int
	rpcTimeout time.Duration

	newSession SessionFactory
	hostSource HostSource

	mu    sync.Mutex
	hosts []types.ServerListEntry // last known BACKUP membership

	// openHosts is the replica set of the single currently-open head
	// segment, if any. It is empty iff the most recent terminal operation
	// was a close (or none has happened yet); OpenSegment is fatal whenever
	// it finds this non-empty, enforcing the one-open-segment-at-a-time
	// invariant independently of the historical segments multimap below.
	openHosts *skipset.StringSet

	sessions map[string]Session // service locator -> cached session

	// segments tracks, for every segment this master has ever opened on a
	// backup and not yet freed, the set of service locators currently
	// holding a replica. writeSegment/closeSegment/freeSegment fan out
	// through it; it is never consulted for recovery, since a recovering
	// master is a fresh Manager that never opened the crashed master's
	// segments itself.
	segments *skipmap.Uint64Map[*skipset.StringSet]
}

// New builds a Manager for logID, replicating every segment onto replicas
// distinct backups. newSession is called to materialize a Session the
// first time a given service locator is used.
func New(logID types.LogID, replicas int, newSession SessionFactory, hostSource HostSource) *Manager {
	return &Manager{
		logID:      logID,
		replicas:   replicas,
		rpcTimeout: 5 * time.Second,
		newSession: newSession,
		hostSource: hostSource,
		openHosts:  skipset.NewString(),
		sessions:   make(map[string]Session),
		segments:   skipmap.NewUint64[*skipset.StringSet](),
	}
}

// SetHostList replaces the known BACKUP membership outright, as the
// original SetServerList/setHostList operation does — used by tests and by
// callers that manage membership themselves instead of via a Coordinator.
func (m *Manager) SetHostList(hosts []types.ServerListEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts = append([]types.ServerListEntry(nil), hosts...)
}

// RefreshHostList re-pulls BACKUP membership from the configured
// HostSource. It returns ErrNoCoordinator if none was supplied.
func (m *Manager) RefreshHostList(ctx context.Context) error {
	if m.hostSource == nil {
		return logerrors.Wrap(logerrors.ErrNoCoordinator, "RefreshHostList called with no HostSource configured")
	}
	list, err := m.hostSource.GetServerList(ctx)
	if err != nil {
		return fmt.Errorf("refresh host list: %w", err)
	}
	m.SetHostList(list)
	return nil
}

func (m *Manager) backupHosts() []types.ServerListEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.ServerListEntry, 0, len(m.hosts))
	for _, h := range m.hosts {
		if h.ServerType == types.ServerTypeBackup {
			out = append(out, h)
		}
	}
	return out
}

// BackupHosts returns the currently known BACKUP membership, for a caller
// assembling a recovery backupList (Recover's input) when it has no other
// source telling it which backups hold which segments.
func (m *Manager) BackupHosts() []types.ServerListEntry {
	return m.backupHosts()
}

func (m *Manager) sessionFor(serviceLocator string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[serviceLocator]; ok {
		return s
	}
	s := m.newSession(serviceLocator)
	m.sessions[serviceLocator] = s
	return s
}

// selectBackups draws a random start index into the current BACKUP host
// list and walks forward with wraparound, the same fixed-cost approach as
// the original selectOpenHosts: no sorting, no weighting, just enough
// distinct hosts to satisfy n.
func (m *Manager) selectBackups(n int) ([]types.ServerListEntry, error) {
	hosts := m.backupHosts()
	if len(hosts) < n {
		return nil, logerrors.Wrap(logerrors.ErrNotEnoughBackups, fmt.Sprintf("need %d backups, have %d", n, len(hosts)))
	}

	start := int(fastrand.Uint32n(uint32(len(hosts))))
	selected := make([]types.ServerListEntry, 0, n)
	for i := 0; i < len(hosts) && len(selected) < n; i++ {
		selected = append(selected, hosts[(start+i)%len(hosts)])
	}
	return selected, nil
}

// OpenSegment implements segment.Notifier. It is fatal, per the original
// taxonomy, to be asked to open a segment while another segment's replicas
// are still open (invariant #4: at most one open segment at a time, tracked
// via openHosts, not via the historical segments multimap), or to have too
// few live backups to meet the replication factor; both are logged at
// error level rather than panicking a Log's single writer goroutine, since
// a Log has no way to propagate a Notifier failure. OpenSegment blocks
// until every replica's Open RPC has returned, so the Log cannot begin
// writing to this segment until all of them have landed.
func (m *Manager) OpenSegment(masterID types.LogID, segmentID types.SegmentID) {
	m.mu.Lock()
	alreadyOpen := m.openHosts.Len() > 0
	m.mu.Unlock()
	if alreadyOpen {
		slog.Error("backup: segment already open", "segment_id", uint64(segmentID), "err", logerrors.ErrSegmentAlreadyOpen)
		return
	}

	backups, err := m.selectBackups(m.replicas)
	if err != nil {
		slog.Error("backup: cannot open segment replicas", "segment_id", uint64(segmentID), "err", err)
		return
	}

	set := skipset.NewString()
	for _, host := range backups {
		set.Add(host.ServiceLocator)
	}
	m.segments.Store(uint64(segmentID), set)

	m.mu.Lock()
	m.openHosts = set
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, host := range backups {
		sess := m.sessionFor(host.ServiceLocator)
		wg.Add(1)
		go func(sess Session) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.rpcTimeout)
			defer cancel()
			if err := sess.Open(ctx, masterID, segmentID); err != nil {
				slog.Warn("backup: open RPC failed", "service_locator", sess.ServiceLocator(), "segment_id", uint64(segmentID), "err", err)
			}
		}(sess)
	}
	wg.Wait()
}

// fanOut dispatches do to every replica of segmentID in parallel and blocks
// until every one has returned, so the caller only returns once the whole
// replica set has seen the RPC — the same happens-before each Log operation
// on a segment needs with respect to the next.
func (m *Manager) fanOut(segmentID types.SegmentID, do func(sess Session)) {
	set, ok := m.segments.Load(uint64(segmentID))
	if !ok {
		slog.Warn("backup: fan-out on unknown segment", "segment_id", uint64(segmentID))
		return
	}
	var wg sync.WaitGroup
	set.Range(func(serviceLocator string) bool {
		sess := m.sessionFor(serviceLocator)
		wg.Add(1)
		go func() {
			defer wg.Done()
			do(sess)
		}()
		return true
	})
	wg.Wait()
}

// WriteSegment implements segment.Notifier, fanning one write out to every
// replica of segmentID and blocking until all of them have applied it. A
// single backup failing a write is a warn, not fatal: as long as a
// majority of replicas stay current, recovery still works off whichever
// ones survive. Blocking here, rather than dispatching fire-and-forget
// goroutines, is what guarantees a given replica sees this client's writes
// in the order they were issued, since the next WriteSegment call cannot
// start until this one's fan-out has fully landed.
func (m *Manager) WriteSegment(masterID types.LogID, segmentID types.SegmentID, offset uint32, data []byte) {
	payload := append([]byte(nil), data...)
	m.fanOut(segmentID, func(sess Session) {
		ctx, cancel := context.WithTimeout(context.Background(), m.rpcTimeout)
		defer cancel()
		if err := sess.Write(ctx, masterID, segmentID, offset, payload); err != nil {
			slog.Warn("backup: write RPC failed", "service_locator", sess.ServiceLocator(), "segment_id", uint64(segmentID), "err", err)
		}
	})
}

// CloseSegment implements segment.Notifier. It blocks until every replica's
// Close RPC has returned — so it can only run after every WriteSegment on
// this segment has itself already landed — then empties openHosts so a
// subsequent OpenSegment is free to select new replicas again.
func (m *Manager) CloseSegment(masterID types.LogID, segmentID types.SegmentID) {
	m.fanOut(segmentID, func(sess Session) {
		ctx, cancel := context.WithTimeout(context.Background(), m.rpcTimeout)
		defer cancel()
		if err := sess.Close(ctx, masterID, segmentID); err != nil {
			slog.Warn("backup: close RPC failed", "service_locator", sess.ServiceLocator(), "segment_id", uint64(segmentID), "err", err)
		}
	})

	m.mu.Lock()
	m.openHosts = skipset.NewString()
	m.mu.Unlock()
}

// FreeSegment tells every replica of segmentID to discard it, blocking
// until they have all acknowledged, then drops the segment from the
// tracking multimap. Called by corelog.Log.Evict once the cleaner has
// reclaimed a segment; the master never reads this segment's replicas
// again, and blocking here means FreeSegment can never race ahead of a
// CloseSegment or WriteSegment still fanning out against the same segment.
func (m *Manager) FreeSegment(masterID types.LogID, segmentID types.SegmentID) {
	m.fanOut(segmentID, func(sess Session) {
		ctx, cancel := context.WithTimeout(context.Background(), m.rpcTimeout)
		defer cancel()
		if err := sess.Free(ctx, masterID, segmentID); err != nil {
			slog.Warn("backup: free RPC failed", "service_locator", sess.ServiceLocator(), "segment_id", uint64(segmentID), "err", err)
		}
	})
	m.segments.Delete(uint64(segmentID))
}

// FetchSegment implements recovery.Fetcher: a single GetRecoveryData RPC
// against the backup at serviceLocator, regardless of whether this Manager
// itself ever opened that segment. This is what lets Recover serve a
// recovery master that is a brand-new Manager for a crashed master whose
// segments it never touched — m.segments has nothing to do with recovery.
func (m *Manager) FetchSegment(ctx context.Context, serviceLocator string, masterID types.LogID, segmentID types.SegmentID) ([]byte, error) {
	return m.sessionFor(serviceLocator).GetRecoveryData(ctx, masterID, segmentID)
}

// Recover drives recovery of a crashed master's segments: backupList is an
// ordered list of (serviceLocator, segmentId) candidates, with alternative
// backups for the same segment id appearing consecutively. recoveryMaster
// receives each successfully recovered segment's bytes via RecoverSegment.
// Recovery is best-effort per the original taxonomy: a segment id whose
// every candidate fails is logged as a corruption-level error and skipped,
// never aborting the rest of the list.
func (m *Manager) Recover(ctx context.Context, recoveryMaster recovery.Master, crashedMasterID types.LogID, backupList []types.ServerListEntry) {
	recovery.RecoverAll(ctx, m, recoveryMaster, crashedMasterID, backupList)
}
