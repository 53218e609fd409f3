// Package coordinator provides the cluster-membership contract a Manager
// uses to learn which servers are BACKUPs (and, for completeness, which
// are MASTERs). The real consensus/quorum logic behind a Coordinator is
// out of scope here; this package gives two implementations: a fixed
// in-memory one for tests and single-process demos, and a ZooKeeper-backed
// one for anything that actually runs across machines.
package coordinator

import (
	"context"
	"sync"

	"github.com/infra-structure/RAMCloud/pkg/types"
)

// Coordinator reports the cluster's current server membership. It
// satisfies backup.HostSource.
type Coordinator interface {
	GetServerList(ctx context.Context) ([]types.ServerListEntry, error)
}

// Static is a Coordinator over a list fixed at construction or replaced
// wholesale with Set; it never talks to anything external.
type Static struct {
	mu   sync.RWMutex
	list []types.ServerListEntry
}

func NewStatic(list []types.ServerListEntry) *Static {
	return &Static{list: append([]types.ServerListEntry(nil), list...)}
}

func (s *Static) GetServerList(_ context.Context) ([]types.ServerListEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.ServerListEntry(nil), s.list...), nil
}

func (s *Static) Set(list []types.ServerListEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append([]types.ServerListEntry(nil), list...)
}
