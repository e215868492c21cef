package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// RepositoryVersion is the repository version tag for config file references.
const RepositoryVersion = "v0.1.0"

// Current version of the config file.
const (
	CurrentCommonVersion = 1
	CurrentCoreVersion   = 1
)

// Storage engines.
const (
	EngineSQLite     = "sqlite"
	EnginePostgreSQL = "postgresql"
)

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig `koanf:"common"`
	Core   CoreConfig   `koanf:"core"`
}

// CommonConfig contains configuration shared between the engine and the workers.
type CommonConfig struct {
	// Version of the common config.
	Version   int       `koanf:"version"`
	Debug     Debug     `koanf:"debug"`
	Retry     Retry     `koanf:"retry"`
	Storage   Storage   `koanf:"storage"`
	Redis     Redis     `koanf:"redis"`
	Telemetry Telemetry `koanf:"telemetry"`
}

// CoreConfig contains recording, query and modification settings.
type CoreConfig struct {
	// Version of the core config.
	Version int `koanf:"version"`
	// Action toggles keyed by action key. Missing keys are enabled.
	Actions map[string]bool `koanf:"actions"`
	// Filters gating what gets recorded.
	Filters []Filter `koanf:"filters"`
	// Named tags referenced by filters.
	Tags Tags `koanf:"tags"`
	// Log every filter decision at debug level.
	DebugFilters  bool          `koanf:"debug_filters"`
	Recording     Recording     `koanf:"recording"`
	Modifications Modifications `koanf:"modifications"`
	Purges        Purges        `koanf:"purges"`
	Defaults      Defaults      `koanf:"defaults"`
	Lookup        Lookup        `koanf:"lookup"`
	Alerts        Alerts        `koanf:"alerts"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Maximum lines kept in each log file. Zero keeps everything.
	MaxLogLines int `koanf:"max_log_lines"`
}

// Retry contains retry configuration.
type Retry struct {
	// Maximum retry attempts.
	MaxRetries uint64 `koanf:"max_retries"`
	// Initial retry delay in milliseconds.
	Delay int `koanf:"delay"`
	// Maximum retry delay in milliseconds.
	MaxDelay int `koanf:"max_delay"`
}

// Storage selects and configures the storage engine.
type Storage struct {
	// Engine is either "sqlite" or "postgresql".
	Engine     string     `koanf:"engine"`
	SQLite     SQLite     `koanf:"sqlite"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
}

// SQLite contains embedded database configuration.
type SQLite struct {
	// Database file path. ":memory:" keeps everything in memory.
	Path string `koanf:"path"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
	// Disable client-side caching, for servers without RESP3 tracking.
	DisableCache bool `koanf:"disable_cache"`
}

// Telemetry contains tracing configuration.
type Telemetry struct {
	// Uptrace DSN. Tracing is disabled when empty.
	UptraceDSN string `koanf:"uptrace_dsn"`
	// Service name reported with spans.
	ServiceName string `koanf:"service_name"`
	// Deployment environment reported with spans.
	Environment string `koanf:"environment"`
}

// Filter is one allow or ignore rule.
type Filter struct {
	Name       string           `koanf:"name"`
	Behavior   string           `koanf:"behavior"`
	Conditions FilterConditions `koanf:"conditions"`
}

// FilterConditions are ANDed; values inside one condition are ORed.
type FilterConditions struct {
	Worlds         []string `koanf:"worlds"`
	Permissions    []string `koanf:"permissions"`
	Actions        []string `koanf:"actions"`
	Causes         []string `koanf:"causes"`
	EntityTypes    []string `koanf:"entity_types"`
	EntityTypeTags []string `koanf:"entity_type_tags"`
	Materials      []string `koanf:"materials"`
	BlockTags      []string `koanf:"block_tags"`
	ItemTags       []string `koanf:"item_tags"`
	GameModes      []string `koanf:"game_modes"`
}

// Tags map tag names to their members.
type Tags struct {
	Blocks      map[string][]string `koanf:"blocks"`
	Items       map[string][]string `koanf:"items"`
	EntityTypes map[string][]string `koanf:"entity_types"`
}

// Recording contains the recording queue configuration.
type Recording struct {
	// Maximum queued activities before new ones are dropped.
	QueueSize int `koanf:"queue_size"`
	// Maximum activities written per transaction.
	BatchSize int `koanf:"batch_size"`
	// Flush interval in milliseconds.
	FlushInterval int `koanf:"flush_interval"`
}

// Modifications contains the default ruleset for rollbacks and restores.
type Modifications struct {
	EntityBlacklist   []string `koanf:"entity_blacklist"`
	BlockBlacklist    []string `koanf:"block_blacklist"`
	Overwrite         bool     `koanf:"overwrite"`
	DrainLava         bool     `koanf:"drain_lava"`
	DrainLavaRadius   int      `koanf:"drain_lava_radius"`
	RemoveDrops       bool     `koanf:"remove_drops"`
	RemoveDropsRadius int      `koanf:"remove_drops_radius"`
	RequireMatch      bool     `koanf:"require_match"`
	// Radius used by extinguish when none is given.
	ExtinguishRadius int `koanf:"extinguish_radius"`
	// Maximum number of cached queue results.
	ResultCacheSize int `koanf:"result_cache_size"`
	// Minutes a cached result survives without being accessed.
	ResultCacheExpiry int `koanf:"result_cache_expiry"`
}

// Alerts contains material alert settings.
type Alerts struct {
	// Block tags whose breaks raise an alert.
	BlockTags []string `koanf:"block_tags"`
	// Item tags whose item actions raise an alert.
	ItemTags []string `koanf:"item_tags"`
	// Skip alerts for players in creative mode.
	IgnoreCreative bool `koanf:"ignore_creative"`
	// Quiet seconds before one player alerts again for the same material.
	Cooldown int `koanf:"cooldown"`
}

// Purges contains the scheduled purge configuration.
type Purges struct {
	// Rows per primary key window.
	CycleSize int `koanf:"cycle_size"`
	// Delay between cycles in milliseconds.
	CycleDelay int `koanf:"cycle_delay"`
	// Interval between scheduled purges in minutes.
	Interval int `koanf:"interval"`
	// Query arguments for each scheduled purge, e.g. "before:8w".
	Queries []string `koanf:"queries"`
}

// Defaults contains per-parameter defaults applied by the query parser.
type Defaults struct {
	// Parameters maps a parameter name to its default value, e.g. "r" = "32".
	Parameters map[string]string `koanf:"parameters"`
}

// Lookup contains display settings.
type Lookup struct {
	// Results per page.
	PerPage int `koanf:"per_page"`
	// Radius used by near.
	NearRadius int `koanf:"near_radius"`
	// Maximum concurrent storage reads issued by commands.
	IOConcurrency int64 `koanf:"io_concurrency"`
}

// Default returns a configuration usable without any config file.
func Default() *Config {
	return &Config{
		Common: CommonConfig{
			Version: CurrentCommonVersion,
			Debug:   Debug{LogLevel: "info", MaxLogsToKeep: 10, MaxLogLines: 100000},
			Retry:   Retry{MaxRetries: 3, Delay: 100, MaxDelay: 2000},
			Storage: Storage{
				Engine: EngineSQLite,
				SQLite: SQLite{Path: "rewind.db"},
				PostgreSQL: PostgreSQL{
					Host:         "localhost",
					Port:         5432,
					User:         "postgres",
					DBName:       "rewind",
					MaxOpenConns: 10,
					MaxIdleConns: 5,
					MaxLifetime:  30,
					MaxIdleTime:  5,
				},
			},
			Redis:     Redis{Host: "localhost", Port: 6379},
			Telemetry: Telemetry{ServiceName: "rewind"},
		},
		Core: CoreConfig{
			Version:   CurrentCoreVersion,
			Actions:   map[string]bool{},
			Recording: Recording{QueueSize: 10000, BatchSize: 500, FlushInterval: 1000},
			Modifications: Modifications{
				DrainLavaRadius:   5,
				RemoveDropsRadius: 5,
				ResultCacheSize:   4,
				ResultCacheExpiry: 10,
				ExtinguishRadius:  10,
			},
			Purges:   Purges{CycleSize: 1000, CycleDelay: 100, Interval: 60},
			Defaults: Defaults{Parameters: map[string]string{"r": "32", "since": "3d"}},
			Lookup:   Lookup{PerPage: 10, NearRadius: 5, IOConcurrency: 4},
			Alerts:   Alerts{IgnoreCreative: true, Cooldown: 30},
		},
	}
}

// ActionEnabled reports whether an action key is recorded.
func (c *CoreConfig) ActionEnabled(key string) bool {
	enabled, ok := c.Actions[key]
	return !ok || enabled
}

// LoadConfig loads the configuration from the standard search paths.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	// Get user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".rewind",
		homeDir + "/.rewind/config",
		"/etc/rewind/config",
		"config",
		".",
	}

	return LoadConfigFrom(configPaths)
}

// LoadConfigFrom loads common.toml and core.toml from the first path holding each.
// Values missing from the files keep their defaults.
func LoadConfigFrom(configPaths []string) (*Config, string, error) {
	k := koanf.New(".")

	// Load all config files
	var usedConfigPath string

	configFiles := []string{"common", "core"}
	for _, configName := range configFiles {
		configLoaded := false

		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
				configLoaded = true

				if usedConfigPath == "" {
					usedConfigPath = path
				}

				break
			}
		}

		if !configLoaded {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, configName)
		}
	}

	config := Default()
	config.Common.Version = 0
	config.Core.Version = 0

	if err := k.Unmarshal("", config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Check versions for each config file
	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("core", config.Core.Version, CurrentCoreVersion); err != nil {
		return nil, "", err
	}

	return config, usedConfigPath, nil
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf(
			"%w: %s.toml (got: %d, expected: %d)\n"+
				"Please update your config file from: https://github.com/robalyx/rewind/tree/%s/config/%s.toml",
			ErrConfigVersionMismatch,
			name,
			current,
			expected,
			RepositoryVersion,
			name,
		)
	}

	return nil
}
