// Package config holds the YAML-decoded configuration for both cmd/master
// and cmd/backupd, decoded with github.com/goccy/go-yaml the way the rest
// of this codebase loads configuration.
package config

import "time"

// Config is the root configuration document.
type Config struct {
	Logger      LoggerConfig      `yaml:"logger" validate:"required"`
	Log         LogConfig         `yaml:"log" validate:"required"`
	Replication ReplicationConfig `yaml:"replication" validate:"required"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Transport   TransportConfig   `yaml:"transport"`
}

// LoggerConfig selects the slog handler and level bootstrap.InitLogger
// installs as the process-wide default logger.
type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// LogConfig carries the construction parameters corelog.New needs.
type LogConfig struct {
	ID                   uint64 `yaml:"id" validate:"required"`
	CapacityBytes        uint64 `yaml:"capacity_bytes" validate:"required,min=1"`
	SegmentCapacityBytes uint64 `yaml:"segment_capacity_bytes" validate:"required,min=1"`
}

// ReplicationConfig is how many distinct backups every segment must land on.
type ReplicationConfig struct {
	Factor int `yaml:"factor" validate:"required,min=1"`
}

// CoordinatorConfig selects and configures a coordinator.Coordinator. If
// ZooKeeperServers is empty, StaticHosts is used instead.
type CoordinatorConfig struct {
	ZooKeeperServers []string     `yaml:"zookeeper_servers"`
	RootPath         string       `yaml:"root_path"`
	StaticHosts      []HostConfig `yaml:"static_hosts"`
}

// HostConfig is one fixed cluster member, used when no ZooKeeper ensemble
// is configured.
type HostConfig struct {
	ServiceLocator string `yaml:"service_locator" validate:"required"`
	ServerType     string `yaml:"server_type" validate:"required,oneof=MASTER BACKUP"`
}

// TransportConfig covers the HTTP-facing side of the process: the address
// cmd/master and cmd/backupd listen on, and RPCTimeout. RPCTimeout is
// decoded but not read by either binary; backup.Manager applies its own
// fixed 5-second per-RPC timeout.
type TransportConfig struct {
	ListenAddress string        `yaml:"listen_address" validate:"required"`
	RPCTimeout    time.Duration `yaml:"rpc_timeout"`
}

// Default returns a baseline single-process development config: one
// in-memory backup at localhost, replication factor 1.
func Default() Config {
	return Config{
		Logger: LoggerConfig{Level: "DEBUG", JSON: false},
		Log: LogConfig{
			ID:                   1,
			CapacityBytes:        64 * 1024 * 1024,
			SegmentCapacityBytes: 8 * 1024 * 1024,
		},
		Replication: ReplicationConfig{Factor: 1},
		Coordinator: CoordinatorConfig{
			StaticHosts: []HostConfig{
				{ServiceLocator: "http://127.0.0.1:9001", ServerType: "BACKUP"},
			},
		},
		Transport: TransportConfig{
			ListenAddress: "0.0.0.0:9001",
			RPCTimeout:    5 * time.Second,
		},
	}
}
