// Command backupd hosts a reference in-memory backup server: it answers
// the open/write/close/free/getRecoveryData RPCs a master's BackupManager
// sends, and optionally registers itself with a ZooKeeper coordinator so
// masters can discover it.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/infra-structure/RAMCloud/internal/backupservice"
	"github.com/infra-structure/RAMCloud/internal/bootstrap"
	"github.com/infra-structure/RAMCloud/pkg/coordinator"
	"github.com/infra-structure/RAMCloud/pkg/types"
)

func main() {
	configPath := flag.String("config", "backupd.yaml", "path to YAML configuration")
	flag.Parse()

	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	bootstrap.InitLogger(&cfg)

	if len(cfg.Coordinator.ZooKeeperServers) > 0 {
		zk, err := coordinator.NewZK(cfg.Coordinator.ZooKeeperServers, cfg.Coordinator.RootPath)
		if err != nil {
			slog.Error("failed to connect to zookeeper coordinator", "err", err)
			os.Exit(1)
		}
		defer zk.Close()

		locator := "http://" + cfg.Transport.ListenAddress
		if err := zk.RegisterSelf(locator, types.ServerTypeBackup); err != nil {
			slog.Error("failed to register with coordinator", "err", err)
			os.Exit(1)
		}
	}

	store := backupservice.NewStore()
	server := backupservice.NewServer(store)

	slog.Info("backupd listening", "address", cfg.Transport.ListenAddress)
	if err := http.ListenAndServe(cfg.Transport.ListenAddress, server.Routes()); err != nil {
		slog.Error("backupd exited", "err", err)
		os.Exit(1)
	}
}
