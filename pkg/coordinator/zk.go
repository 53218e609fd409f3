package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/infra-structure/RAMCloud/pkg/types"
)

// ZK is a Coordinator backed by ZooKeeper ephemeral nodes: every server
// registers itself once under rootPath+"/nodes" and disappears
// automatically on disconnect, so GetServerList always reflects who is
// actually reachable without a separate heartbeat protocol.
type ZK struct {
	conn     *zk.Conn
	rootPath string
}

type nodeRecord struct {
	ServiceLocator string           `json:"service_locator"`
	ServerType     types.ServerType `json:"server_type"`
}

// NewZK dials the given ZooKeeper ensemble and returns a Coordinator
// reading membership from rootPath+"/nodes".
func NewZK(servers []string, rootPath string) (*ZK, error) {
	conn, _, err := zk.Connect(servers, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return &ZK{conn: conn, rootPath: rootPath}, nil
}

func (z *ZK) Close() error {
	z.conn.Close()
	return nil
}

func (z *ZK) ensurePath(path string) error {
	if path == "" || path == "/" {
		return nil
	}
	if err := z.ensurePath(parentOf(path)); err != nil {
		return err
	}
	exists, _, err := z.conn.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = z.conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return err
	}
	return nil
}

func parentOf(path string) string {
	i := len(path) - 1
	for i > 0 && path[i] != '/' {
		i--
	}
	if i <= 0 {
		return ""
	}
	return path[:i]
}

// RegisterSelf publishes one ephemeral-sequential znode carrying
// serviceLocator and serverType, so GetServerList sees this process for as
// long as its ZooKeeper session stays alive.
func (z *ZK) RegisterSelf(serviceLocator string, serverType types.ServerType) error {
	if err := z.waitConnected(10 * time.Second); err != nil {
		return err
	}
	if err := z.ensurePath(z.rootPath + "/nodes"); err != nil {
		return fmt.Errorf("ensure nodes path: %w", err)
	}

	data, err := json.Marshal(nodeRecord{ServiceLocator: serviceLocator, ServerType: serverType})
	if err != nil {
		return fmt.Errorf("encode node record: %w", err)
	}

	path, err := z.conn.Create(z.rootPath+"/nodes/node-", data, zk.FlagEphemeral|zk.FlagSequence, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("create ephemeral node: %w", err)
	}

	slog.Info("registered with coordinator", "znode", path, "service_locator", serviceLocator, "server_type", serverType.String())
	return nil
}

// GetServerList implements Coordinator.
func (z *ZK) GetServerList(_ context.Context) ([]types.ServerListEntry, error) {
	children, _, err := z.conn.Children(z.rootPath + "/nodes")
	if err != nil {
		return nil, fmt.Errorf("zk children: %w", err)
	}

	list := make([]types.ServerListEntry, 0, len(children))
	for _, child := range children {
		data, _, err := z.conn.Get(z.rootPath + "/nodes/" + child)
		if err != nil {
			slog.Warn("coordinator: dropping unreadable znode", "znode", child, "err", err)
			continue
		}
		var rec nodeRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			slog.Warn("coordinator: dropping malformed znode", "znode", child, "err", err)
			continue
		}
		list = append(list, types.ServerListEntry{ServiceLocator: rec.ServiceLocator, ServerType: rec.ServerType})
	}
	return list, nil
}

func (z *ZK) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := z.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
