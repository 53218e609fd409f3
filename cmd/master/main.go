// Command master wires corelog.Log to backup.Manager and serves a small
// HTTP surface for appending entries and inspecting pool occupancy, the
// way this codebase's cmd binaries wire a store to internal/http.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/infra-structure/RAMCloud/internal/bootstrap"
	"github.com/infra-structure/RAMCloud/internal/config"
	rcdhttp "github.com/infra-structure/RAMCloud/internal/http"
	"github.com/infra-structure/RAMCloud/pkg/backup"
	"github.com/infra-structure/RAMCloud/pkg/cleaner"
	"github.com/infra-structure/RAMCloud/pkg/coordinator"
	"github.com/infra-structure/RAMCloud/pkg/corelog"
	"github.com/infra-structure/RAMCloud/pkg/recovery"
	"github.com/infra-structure/RAMCloud/pkg/types"
)

const entryTypeDefault types.EntryType = 1

func main() {
	configPath := flag.String("config", "master.yaml", "path to YAML configuration")
	flag.Parse()

	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	bootstrap.InitLogger(&cfg)

	coord, hosts := buildCoordinator(cfg.Coordinator)

	logID := types.LogID(cfg.Log.ID)
	mgr := backup.New(logID, cfg.Replication.Factor, backup.NewClient, coord)
	if err := mgr.RefreshHostList(context.Background()); err != nil {
		slog.Warn("failed initial coordinator refresh, falling back to static hosts", "err", err)
		mgr.SetHostList(hosts)
	}

	log, err := corelog.New(logID, cfg.Log.CapacityBytes, cfg.Log.SegmentCapacityBytes, mgr, cleaner.NewGreedy)
	if err != nil {
		slog.Error("failed to construct log", "err", err)
		os.Exit(1)
	}
	defer log.Close()

	recoveryMaster := recovery.NewInMemory()

	r := chi.NewRouter()
	r.Post("/append", handleAppend(log))
	r.Get("/metrics", handleMetrics(log))
	r.Post("/recover/{segmentID}", handleRecover(mgr, recoveryMaster, logID))

	addr := cfg.Transport.ListenAddress
	slog.Info("master listening", "address", addr, "log_id", uint64(logID))
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("master exited", "err", err)
		os.Exit(1)
	}
}

func buildCoordinator(cfg config.CoordinatorConfig) (coordinator.Coordinator, []types.ServerListEntry) {
	hosts := make([]types.ServerListEntry, 0, len(cfg.StaticHosts))
	for _, h := range cfg.StaticHosts {
		st := types.ServerTypeBackup
		if h.ServerType == "MASTER" {
			st = types.ServerTypeMaster
		}
		hosts = append(hosts, types.ServerListEntry{ServiceLocator: h.ServiceLocator, ServerType: st})
	}

	if len(cfg.ZooKeeperServers) == 0 {
		return coordinator.NewStatic(hosts), hosts
	}

	zk, err := coordinator.NewZK(cfg.ZooKeeperServers, cfg.RootPath)
	if err != nil {
		slog.Warn("failed to connect to zookeeper, falling back to static hosts", "err", err)
		return coordinator.NewStatic(hosts), hosts
	}
	return zk, hosts
}

func handleAppend(log *corelog.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, rcdhttp.NewErrorResponse(err.Error()))
			return
		}

		p, ok, err := log.Append(entryTypeDefault, data)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, rcdhttp.NewErrorResponse(err.Error()))
			return
		}
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, rcdhttp.NewErrorResponse("log full"))
			return
		}
		writeJSON(w, http.StatusOK, rcdhttp.NewValueResponse(fmt.Sprintf("%#x", uintptr(p))))
	}
}

func handleMetrics(log *corelog.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats := log.Stats()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			slog.Error("failed to encode metrics", "err", err)
		}
	}
}

// handleRecover drives backup.Manager.Recover for one segment, offering
// every currently known backup as a candidate source (this single-process
// demo has no coordinator-supplied mapping of segment to holder, unlike a
// real recovery master reading a per-segment server list), and hands the
// recovered bytes to an in-memory recovery master standing in for a second
// Log replaying into its own state after a crash.
func handleRecover(mgr *backup.Manager, dst *recovery.InMemory, logID types.LogID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "segmentID")
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, rcdhttp.NewErrorResponse("invalid segment id"))
			return
		}
		segmentID := types.SegmentID(id)

		var backupList []types.ServerListEntry
		for _, host := range mgr.BackupHosts() {
			backupList = append(backupList, types.ServerListEntry{
				ServiceLocator: host.ServiceLocator,
				ServerType:     types.ServerTypeBackup,
				SegmentID:      segmentID,
				HasSegment:     true,
			})
		}

		mgr.Recover(r.Context(), dst, logID, backupList)

		data, ok := dst.Segment(segmentID)
		if !ok {
			writeJSON(w, http.StatusInternalServerError, rcdhttp.NewErrorResponse("segment could not be recovered from any known backup"))
			return
		}
		writeJSON(w, http.StatusOK, rcdhttp.NewValueResponse(fmt.Sprintf("%d bytes recovered", len(data))))
	}
}

func writeJSON(w http.ResponseWriter, status int, resp rcdhttp.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("master: failed to encode response", "err", err)
	}
}
