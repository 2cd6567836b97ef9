package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the settings that can be replaced from the environment.
// Zero values mean "not set".
type envOverrides struct {
	DBPath        string   `env:"GASER_DB_PATH"`
	LogLevel      string   `env:"GASER_LOG_LEVEL"`
	MaxRegions    int      `env:"GASER_MAX_REGIONS"`
	SweepInterval Duration `env:"GASER_SWEEP_INTERVAL"`
	MirrorBackend string   `env:"GASER_MIRROR_BACKEND"`
	MirrorPath    string   `env:"GASER_MIRROR_PATH"`
	RedisAddr     string   `env:"GASER_REDIS_ADDR"`
	RedisPassword string   `env:"GASER_REDIS_PASSWORD"`
	RemoteURL     string   `env:"GASER_REMOTE_URL"`
	ServerAddress string   `env:"GASER_ADDR"`
}

// ApplyEnv overlays GASER_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.DBPath != "" {
		cfg.DB.Path = o.DBPath
	}
	if o.LogLevel != "" {
		cfg.Log.Server.Level = o.LogLevel
		cfg.Log.Requests.Level = o.LogLevel
	}
	if o.MaxRegions > 0 {
		cfg.Cache.MaxRegions = o.MaxRegions
	}
	if o.SweepInterval > 0 {
		cfg.Cache.SweepInterval = o.SweepInterval
	}
	if o.MirrorBackend != "" {
		cfg.Mirror.Backend = o.MirrorBackend
	}
	if o.MirrorPath != "" {
		cfg.Mirror.Path = o.MirrorPath
	}
	if o.RedisAddr != "" {
		cfg.Mirror.RedisAddr = o.RedisAddr
	}
	if o.RedisPassword != "" {
		cfg.Mirror.RedisPassword = o.RedisPassword
	}
	if o.RemoteURL != "" {
		cfg.Remote.BaseURL = o.RemoteURL
	}
	if o.ServerAddress != "" {
		cfg.Server.Address = o.ServerAddress
	}
	return nil
}
