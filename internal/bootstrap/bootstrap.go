// Package bootstrap loads configuration and installs the process-wide
// logger for cmd/master and cmd/backupd, the way this codebase's cmd
// binaries have always done it.
package bootstrap

import (
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/infra-structure/RAMCloud/internal/config"
)

// LoadConfig decodes path as YAML into a config.Config. If path does not
// exist, config.Default() is returned instead of an error.
func LoadConfig(path string) (config.Config, error) {
	var cfg config.Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return config.Default(), nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// InitLogger installs a slog handler selected by cfg.Logger as the default
// logger for the process.
func InitLogger(cfg *config.Config) {
	level := parseLevel(cfg.Logger.Level)
	opts := &slog.HandlerOptions{AddSource: true, Level: level}

	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
