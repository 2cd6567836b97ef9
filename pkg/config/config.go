package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elSilveira/gaser/pkg/regionkey"
)

// Mirror backends.
const (
	MirrorBolt  = "bolt"
	MirrorRedis = "redis"
	MirrorNone  = "none"
)

// Config holds the application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Cache    CacheConfig    `yaml:"cache"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Prefetch PrefetchConfig `yaml:"prefetch"`
	Query    QueryConfig    `yaml:"query"`
	Remote   RemoteConfig   `yaml:"remote"`
	Sample   SampleConfig   `yaml:"sample"`
	Server   ServerConfig   `yaml:"server"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds durable store settings.
type DBConfig struct {
	Path          string   `yaml:"path"`
	Freshness     Duration `yaml:"freshness"`      // Region snapshot age after which it is stale
	PurgeAfter    Duration `yaml:"purge_after"`    // Region age after which it is deleted
	PurgeInterval Duration `yaml:"purge_interval"` // How often the purge job runs
	H3Resolution  int      `yaml:"h3_resolution"`  // Resolution of the stations.h3_cell index
}

// CacheConfig holds volatile cache settings.
type CacheConfig struct {
	MaxRegions    int       `yaml:"max_regions"`
	SweepInterval Duration  `yaml:"sweep_interval"`
	TTL           TTLConfig `yaml:"ttl"`
}

// TTLConfig holds the time-to-live of each data kind.
type TTLConfig struct {
	Prices      Duration `yaml:"prices"`
	BasicInfo   Duration `yaml:"basic_info"`
	Coordinates Duration `yaml:"coordinates"`
	Snapshot    Duration `yaml:"snapshot"`
}

// MirrorConfig holds settings for the volatile cache's persisted copy.
type MirrorConfig struct {
	Backend       string `yaml:"backend"` // "bolt", "redis", "none"
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`
}

// PrefetchConfig holds neighbor prefetch settings.
type PrefetchConfig struct {
	Enabled     bool     `yaml:"enabled"`
	OffsetDeg   float64  `yaml:"offset_deg"`
	Concurrency int      `yaml:"concurrency"`
	Delay       Duration `yaml:"delay"`
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	DefaultRadius Distance `yaml:"default_radius"`
	MaxRadius     Distance `yaml:"max_radius"`
	DefaultLimit  int      `yaml:"default_limit"`
	MaxLimit      int      `yaml:"max_limit"`
}

// RemoteConfig holds settings for the station backend client.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout Duration      `yaml:"timeout"`
	Retries int           `yaml:"retries"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// SampleConfig holds settings for the synthetic fallback dataset.
type SampleConfig struct {
	Count int `yaml:"count"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path:          "./data/gaser.db",
			Freshness:     Duration(24 * time.Hour),
			PurgeAfter:    Duration(Week),
			PurgeInterval: Duration(time.Hour),
			H3Resolution:  7,
		},
		Cache: CacheConfig{
			MaxRegions:    100,
			SweepInterval: Duration(5 * time.Minute),
			TTL: TTLConfig{
				Prices:      Duration(24 * time.Hour),
				BasicInfo:   Duration(Week),
				Coordinates: Duration(30 * Day),
				Snapshot:    Duration(24 * time.Hour),
			},
		},
		Mirror: MirrorConfig{
			Backend:  MirrorBolt,
			Path:     "./data/volatile.bolt",
			RedisKey: "gaser:volatile",
		},
		Prefetch: PrefetchConfig{
			Enabled:     true,
			OffsetDeg:   0.02,
			Concurrency: 2,
			Delay:       Duration(2 * time.Second),
		},
		Query: QueryConfig{
			DefaultRadius: Distance(5),
			MaxRadius:     Distance(regionkey.MaxRadiusKm),
			DefaultLimit:  50,
			MaxLimit:      100,
		},
		Remote: RemoteConfig{
			BaseURL: "http://localhost:5000",
			Timeout: Duration(10 * time.Second),
			Retries: 3,
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(5 * time.Second),
			},
		},
		Sample: SampleConfig{
			Count: 30,
		},
		Server: ServerConfig{
			Address: "localhost:8080",
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// Environment overrides are applied last and never written back to disk.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise break the cache at runtime.
func (c *Config) Validate() error {
	if c.Cache.MaxRegions <= 0 {
		return fmt.Errorf("cache.max_regions must be positive, got %d", c.Cache.MaxRegions)
	}
	ttls := map[string]Duration{
		"prices":      c.Cache.TTL.Prices,
		"basic_info":  c.Cache.TTL.BasicInfo,
		"coordinates": c.Cache.TTL.Coordinates,
		"snapshot":    c.Cache.TTL.Snapshot,
	}
	for name, d := range ttls {
		if d <= 0 {
			return fmt.Errorf("cache.ttl.%s must be positive", name)
		}
	}
	if c.DB.Freshness <= 0 {
		return fmt.Errorf("db.freshness must be positive")
	}
	switch c.Mirror.Backend {
	case MirrorBolt, MirrorRedis, MirrorNone, "":
	default:
		return fmt.Errorf("invalid mirror.backend %q: must be one of bolt, redis, none", c.Mirror.Backend)
	}
	if c.Query.MaxRadius <= 0 || c.Query.MaxRadius.Km() > regionkey.MaxRadiusKm {
		return fmt.Errorf("query.max_radius must be in (0, %vkm], got %v", regionkey.MaxRadiusKm, c.Query.MaxRadius)
	}
	if c.Query.DefaultRadius <= 0 || c.Query.DefaultRadius > c.Query.MaxRadius {
		return fmt.Errorf("query.default_radius %v must be positive and within query.max_radius %v", c.Query.DefaultRadius, c.Query.MaxRadius)
	}
	if c.Query.MaxLimit > 0 && c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("query.default_limit %d exceeds query.max_limit %d", c.Query.DefaultLimit, c.Query.MaxLimit)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Gaser Configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers); unitless values are kilometers

`)
	data = append(header, data...)

	reBackend := regexp.MustCompile(`(?m)^(\s+)backend:`)
	data = reBackend.ReplaceAll(data, []byte("${1}# Options: bolt, redis, none\n${1}backend:"))

	reFresh := regexp.MustCompile(`(?m)^(\s+)freshness:`)
	data = reFresh.ReplaceAll(data, []byte("${1}# Regions older than this are served only after a refetch\n${1}freshness:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
