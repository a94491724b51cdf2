// Package config loads daemon configuration (TOML, YAML or JSON selected by
// file extension), layers environment overrides on top, and manages the game
// settings document the installed server reads at boot.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"warden/internal/errdefs"
)

// Config holds every tunable of the daemon. Zero values are replaced by
// defaults after load, so partial config files are fine.
type Config struct {
	HTTP     HTTPConfig     `json:"http" yaml:"http" toml:"http"`
	Data     DataConfig     `json:"data" yaml:"data" toml:"data"`
	Game     GameConfig     `json:"game" yaml:"game" toml:"game"`
	Versions VersionsConfig `json:"versions" yaml:"versions" toml:"versions"`
	Jobs     JobsConfig     `json:"jobs" yaml:"jobs" toml:"jobs"`
	Console  ConsoleConfig  `json:"console" yaml:"console" toml:"console"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics" toml:"metrics"`
	Cache    CacheConfig    `json:"cache" yaml:"cache" toml:"cache"`
	NATS     NATSConfig     `json:"nats" yaml:"nats" toml:"nats"`
	Log      LogConfig      `json:"log" yaml:"log" toml:"log"`
}

type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
}

type DataConfig struct {
	// Dir is the root under which versions/, cache/, the current symlink and
	// the settings file live.
	Dir string `json:"dir" yaml:"dir" toml:"dir"`
}

type GameConfig struct {
	// Command is the server executable, absolute or relative to the installed
	// version directory.
	Command string   `json:"command" yaml:"command" toml:"command"`
	Args    []string `json:"args" yaml:"args" toml:"args"`
	Env     []string `json:"env" yaml:"env" toml:"env"`
	// StopGrace is how long a stopping server gets between SIGTERM and
	// SIGKILL, as a Go duration string.
	StopGrace string `json:"stop_grace" yaml:"stop_grace" toml:"stop_grace"`
	OpenFiles uint64 `json:"open_files" yaml:"open_files" toml:"open_files"`
	// SettingsFile overrides the default <data.dir>/settings.json location.
	SettingsFile string `json:"settings_file" yaml:"settings_file" toml:"settings_file"`
}

type VersionsConfig struct {
	// BaseURL of the vendor version API. Empty disables remote lookups;
	// installs then require a version already in cache.
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Timeout string `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// JobsConfig holds the trigger of each built-in maintenance job. Values are
// either Go durations ("30m") or five-field cron specs ("*/30 * * * *").
type JobsConfig struct {
	VersionsRefresh string `json:"versions_refresh" yaml:"versions_refresh" toml:"versions_refresh"`
	MetricsCollect  string `json:"metrics_collect" yaml:"metrics_collect" toml:"metrics_collect"`
	ArtifactGC      string `json:"artifact_gc" yaml:"artifact_gc" toml:"artifact_gc"`
}

type ConsoleConfig struct {
	Capacity int `json:"capacity" yaml:"capacity" toml:"capacity"`
}

type MetricsConfig struct {
	HistorySize int `json:"history_size" yaml:"history_size" toml:"history_size"`
}

type CacheConfig struct {
	// MaxMB bounds the artifact download cache; the GC job evicts least
	// recently used archives past it. Zero keeps the default, negative
	// disables pruning.
	MaxMB int64 `json:"max_mb" yaml:"max_mb" toml:"max_mb"`
}

type NATSConfig struct {
	// URL of the NATS server to publish events to. Empty disables publishing.
	URL           string `json:"url" yaml:"url" toml:"url"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix" toml:"subject_prefix"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"` // console or json
}

// Default returns the configuration used when no file and no overrides are
// present.
func Default() Config {
	return Config{
		HTTP:     HTTPConfig{Addr: "127.0.0.1:8080"},
		Data:     DataConfig{Dir: "warden-data"},
		Game:     GameConfig{StopGrace: "30s"},
		Versions: VersionsConfig{Timeout: "10s"},
		Jobs: JobsConfig{
			VersionsRefresh: "30m",
			MetricsCollect:  "1m",
			ArtifactGC:      "6h",
		},
		Console: ConsoleConfig{Capacity: 10000},
		Metrics: MetricsConfig{HistorySize: 720},
		Cache:   CacheConfig{MaxMB: 2048},
		NATS:    NATSConfig{SubjectPrefix: "warden"},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path (extension selects the format), applies environment
// overrides and fills defaults. An empty path loads defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".toml":
			if err := toml.Unmarshal(b, &cfg); err != nil {
				return cfg, errdefs.InvalidArgumentf("config %s: %v", path, err)
			}
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, errdefs.InvalidArgumentf("config %s: %v", path, err)
			}
		case ".json":
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, errdefs.InvalidArgumentf("config %s: %v", path, err)
			}
		default:
			return cfg, errdefs.InvalidArgumentf("config %s: unsupported extension %q", path, ext)
		}
	}
	applyEnv(&cfg)
	sanitize(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envOverride("WARDEN_HTTP_ADDR", &cfg.HTTP.Addr)
	envOverride("WARDEN_DATA_DIR", &cfg.Data.Dir)
	envOverride("WARDEN_VERSIONS_URL", &cfg.Versions.BaseURL)
	envOverride("WARDEN_NATS_URL", &cfg.NATS.URL)
	envOverride("WARDEN_LOG_LEVEL", &cfg.Log.Level)
}

func envOverride(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

// sanitize replaces zero values with defaults and derives dependent paths.
func sanitize(cfg *Config) {
	def := Default()
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = def.HTTP.Addr
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = def.Data.Dir
	}
	if cfg.Game.StopGrace == "" {
		cfg.Game.StopGrace = def.Game.StopGrace
	}
	if cfg.Versions.Timeout == "" {
		cfg.Versions.Timeout = def.Versions.Timeout
	}
	if cfg.Jobs.VersionsRefresh == "" {
		cfg.Jobs.VersionsRefresh = def.Jobs.VersionsRefresh
	}
	if cfg.Jobs.MetricsCollect == "" {
		cfg.Jobs.MetricsCollect = def.Jobs.MetricsCollect
	}
	if cfg.Jobs.ArtifactGC == "" {
		cfg.Jobs.ArtifactGC = def.Jobs.ArtifactGC
	}
	if cfg.Console.Capacity <= 0 {
		cfg.Console.Capacity = def.Console.Capacity
	}
	if cfg.Metrics.HistorySize <= 0 {
		cfg.Metrics.HistorySize = def.Metrics.HistorySize
	}
	if cfg.Cache.MaxMB == 0 {
		cfg.Cache.MaxMB = def.Cache.MaxMB
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = def.NATS.SubjectPrefix
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Game.SettingsFile == "" {
		cfg.Game.SettingsFile = filepath.Join(cfg.Data.Dir, "settings.json")
	}
}

// VersionsDir is where installed server versions live, one dir per version.
func (c Config) VersionsDir() string { return filepath.Join(c.Data.Dir, "versions") }

// CacheDir holds downloaded archives and the download index.
func (c Config) CacheDir() string { return filepath.Join(c.Data.Dir, "cache") }

// CurrentLink is the symlink pointing at the active version directory.
func (c Config) CurrentLink() string { return filepath.Join(c.Data.Dir, "current") }
