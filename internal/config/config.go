// Package config provides configuration management for biliarchive using
// Viper. It supports configuration from files, environment variables, and
// defaults, following the same layered approach as the teacher codebase.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultDatabaseMaxOpenConns    = 50
	defaultDatabaseMaxIdleConns    = 5
	defaultDatabaseConnMaxIdleTime = 5 * time.Minute
	defaultDatabaseBusyTimeout     = 90 * time.Second
	defaultDatabaseMmapSize        = 256 * 1024 * 1024

	defaultRemoteHTTPTimeout      = 20 * time.Second
	defaultRemoteRetryAttempts    = 3
	defaultRemoteRetryBaseDelay   = 500 * time.Millisecond
	defaultRemoteRateLimitPerSec  = 5.0
	defaultRemoteRateLimitBurst   = 5
	defaultRemoteMixinKeyTTL      = 20 * time.Minute
	defaultRemoteCircuitThreshold = 5
	defaultRemoteCircuitTimeout   = 30 * time.Second

	defaultDownloaderThreads        = 4
	defaultDownloaderMinSegmentSize = 1 << 20 // 1 MiB
	defaultDownloaderMinParallelSz  = 4 << 20 // 4 MiB
	defaultDownloaderTimeout        = 5 * time.Minute
	defaultDownloaderMinFreeSpace   = 512 << 20 // 512 MiB

	defaultMuxerTimeout = 2 * time.Minute

	defaultPipelineVideoConcurrency = 4
	defaultPipelinePageConcurrency  = 2

	defaultSchedulerScanInterval    = 30 * time.Minute
	defaultSchedulerLogRetentionDay = 2

	defaultIngestLogCapacity = 200

	defaultTrackerLRUSize = 256
)

// Config holds all configuration for the application.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	Muxer     MuxerConfig     `mapstructure:"muxer"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Filtering FilteringConfig `mapstructure:"filtering"`
	IngestLog IngestLogConfig `mapstructure:"ingest_log"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// DatabaseConfig holds the SQLite persistence tuning (spec C8).
type DatabaseConfig struct {
	Path            string   `mapstructure:"path"`
	MaxOpenConns    int      `mapstructure:"max_open_conns"`
	MaxIdleConns    int      `mapstructure:"max_idle_conns"`
	ConnMaxIdleTime Duration `mapstructure:"conn_max_idle_time"`
	BusyTimeout     Duration `mapstructure:"busy_timeout"`
	MmapSize        ByteSize `mapstructure:"mmap_size"`
	LogLevel        string   `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds on-disk layout configuration.
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
	TempDir string `mapstructure:"temp_dir"`
	LogsDir string `mapstructure:"logs_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// CSVEnabled turns on the rotating CSV ingest-log sink (spec §6).
	CSVEnabled bool `mapstructure:"csv_enabled"`
}

// RemoteConfig holds the signed remote API client configuration (spec C1).
type RemoteConfig struct {
	BaseURL            string   `mapstructure:"base_url"`
	HTTPTimeout        Duration `mapstructure:"http_timeout"`
	RetryAttempts      int      `mapstructure:"retry_attempts"`
	RetryBaseDelay     Duration `mapstructure:"retry_base_delay"`
	RateLimitPerSecond float64  `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int      `mapstructure:"rate_limit_burst"`
	MixinKeyTTL        Duration `mapstructure:"mixin_key_ttl"`
	CircuitThreshold   int      `mapstructure:"circuit_breaker_threshold"`
	CircuitTimeout     Duration `mapstructure:"circuit_breaker_timeout"`
	UserAgent          string   `mapstructure:"user_agent"`
}

// DownloaderConfig holds the segmented-download tuning (spec C2).
type DownloaderConfig struct {
	ParallelEnabled       bool     `mapstructure:"parallel_enabled"`
	Threads               int      `mapstructure:"threads"`
	MinSegmentSize        ByteSize `mapstructure:"min_segment_size"`
	MinParallelFileSize   ByteSize `mapstructure:"min_parallel_file_size"`
	Timeout               Duration `mapstructure:"timeout"`
	// MinFreeSpace is the free-space floor checked on the output
	// filesystem before a fetch starts; below it, the fetch fails fast
	// with a disk-full error instead of retrying into a doomed write.
	MinFreeSpace ByteSize `mapstructure:"min_free_space"`
}

// MuxerConfig holds the external media tool shim configuration (spec C3).
type MuxerConfig struct {
	BinaryPath string   `mapstructure:"binary_path"` // empty = auto-detect
	ProbePath  string   `mapstructure:"probe_path"`  // empty = auto-detect
	Timeout    Duration `mapstructure:"timeout"`
}

// PipelineConfig holds the per-source orchestrator concurrency bounds
// (spec C6).
type PipelineConfig struct {
	VideoConcurrency int `mapstructure:"video_concurrency"`
	PageConcurrency  int `mapstructure:"page_concurrency"`
}

// SchedulerConfig holds the scan-loop configuration (spec C7).
type SchedulerConfig struct {
	ScanInterval        Duration `mapstructure:"scan_interval"`
	Cron                string   `mapstructure:"cron"` // optional cron override for scan cadence
	LogRetentionDays    int      `mapstructure:"log_retention_days"`
	CatchupMissedRuns   bool     `mapstructure:"catchup_missed_runs"`
}

// FilteringConfig holds keyword filter and deletion-scan defaults (spec C9).
type FilteringConfig struct {
	DefaultCaseSensitive bool `mapstructure:"default_case_sensitive"`
	BloomFilterBits      uint `mapstructure:"bloom_filter_bits"`
	BloomFilterHashes    uint `mapstructure:"bloom_filter_hashes"`
}

// IngestLogConfig holds the bounded in-memory ingest ring configuration
// (spec C10).
type IngestLogConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// CacheConfig holds the fingerprint-to-path resolver configuration
// (spec C11).
type CacheConfig struct {
	FlatFolderDefault bool `mapstructure:"flat_folder_default"`
}

// TrackerConfig holds the uploader resumption LRU tracker configuration.
type TrackerConfig struct {
	LRUSize int `mapstructure:"lru_size"`
}

// MetricsConfig holds the Prometheus metrics registry configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DebugConfig holds the trimmed debug HTTP surface configuration.
type DebugConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with BILIARCHIVE_ and use underscores
// for nesting. Example: BILIARCHIVE_REMOTE_RATE_LIMIT_PER_SECOND=10.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/biliarchive")
	}

	v.SetEnvPrefix("BILIARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := migrateLegacyKeywordFilters(v); err != nil {
		return nil, fmt.Errorf("migrating legacy keyword filter config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Database defaults (spec C8: 90s busy timeout, 50 max/5 idle pool).
	v.SetDefault("database.path", "./data/data.sqlite")
	v.SetDefault("database.max_open_conns", defaultDatabaseMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultDatabaseMaxIdleConns)
	v.SetDefault("database.conn_max_idle_time", defaultDatabaseConnMaxIdleTime)
	v.SetDefault("database.busy_timeout", defaultDatabaseBusyTimeout)
	v.SetDefault("database.mmap_size", defaultDatabaseMmapSize)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.logs_dir", "logs")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.csv_enabled", true)

	// Remote client defaults
	v.SetDefault("remote.base_url", "https://api.bilibili.com")
	v.SetDefault("remote.http_timeout", defaultRemoteHTTPTimeout)
	v.SetDefault("remote.retry_attempts", defaultRemoteRetryAttempts)
	v.SetDefault("remote.retry_base_delay", defaultRemoteRetryBaseDelay)
	v.SetDefault("remote.rate_limit_per_second", defaultRemoteRateLimitPerSec)
	v.SetDefault("remote.rate_limit_burst", defaultRemoteRateLimitBurst)
	v.SetDefault("remote.mixin_key_ttl", defaultRemoteMixinKeyTTL)
	v.SetDefault("remote.circuit_breaker_threshold", defaultRemoteCircuitThreshold)
	v.SetDefault("remote.circuit_breaker_timeout", defaultRemoteCircuitTimeout)
	v.SetDefault("remote.user_agent", "biliarchive/1.0")

	// Downloader defaults (spec C2)
	v.SetDefault("downloader.parallel_enabled", true)
	v.SetDefault("downloader.threads", defaultDownloaderThreads)
	v.SetDefault("downloader.min_segment_size", defaultDownloaderMinSegmentSize)
	v.SetDefault("downloader.min_parallel_file_size", defaultDownloaderMinParallelSz)
	v.SetDefault("downloader.timeout", defaultDownloaderTimeout)
	v.SetDefault("downloader.min_free_space", defaultDownloaderMinFreeSpace)

	// Muxer defaults (spec C3)
	v.SetDefault("muxer.binary_path", "")
	v.SetDefault("muxer.probe_path", "")
	v.SetDefault("muxer.timeout", defaultMuxerTimeout)

	// Pipeline defaults (spec C6)
	v.SetDefault("pipeline.video_concurrency", defaultPipelineVideoConcurrency)
	v.SetDefault("pipeline.page_concurrency", defaultPipelinePageConcurrency)

	// Scheduler defaults (spec C7)
	v.SetDefault("scheduler.scan_interval", defaultSchedulerScanInterval)
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.log_retention_days", defaultSchedulerLogRetentionDay)
	v.SetDefault("scheduler.catchup_missed_runs", false)

	// Filtering defaults (spec C9)
	v.SetDefault("filtering.default_case_sensitive", false)
	v.SetDefault("filtering.bloom_filter_bits", uint(1<<20))
	v.SetDefault("filtering.bloom_filter_hashes", uint(4))

	// Ingest log defaults (spec C10)
	v.SetDefault("ingest_log.capacity", defaultIngestLogCapacity)

	// Cache defaults (spec C11)
	v.SetDefault("cache.flat_folder_default", false)

	// Tracker defaults
	v.SetDefault("tracker.lru_size", defaultTrackerLRUSize)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", "127.0.0.1:9090")

	// Debug HTTP surface defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.addr", "127.0.0.1:9091")
}

// migrateLegacyKeywordFilters carries the pre-split
// `get_keyword_filters`/`get_keyword_filter_mode` config keys over at load
// time, modelled on the Rust original's
// `m20260125_000001_migrate_legacy_config` migration: the legacy list is
// comma-joined into `filtering.legacy_migrated_whitelist` when the legacy
// mode is "whitelist" and into `filtering.legacy_migrated_blacklist`
// otherwise, unless that key is already set. FilteringConfig has no field
// for either key, so the values are not part of the unmarshaled Config,
// and no case-sensitivity setting is derived. New code never reads the
// legacy keys (Open Question resolution #2).
func migrateLegacyKeywordFilters(v *viper.Viper) error {
	if !v.IsSet("get_keyword_filters") && !v.IsSet("get_keyword_filter_mode") {
		return nil
	}

	legacyFilters := v.GetStringSlice("get_keyword_filters")
	legacyMode := v.GetString("get_keyword_filter_mode")

	if !v.IsSet("filtering.legacy_migrated_blacklist") && legacyMode != "whitelist" {
		v.Set("filtering.legacy_migrated_blacklist", strings.Join(legacyFilters, ","))
	}
	if !v.IsSet("filtering.legacy_migrated_whitelist") && legacyMode == "whitelist" {
		v.Set("filtering.legacy_migrated_whitelist", strings.Join(legacyFilters, ","))
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Remote.RetryAttempts < 0 {
		return fmt.Errorf("remote.retry_attempts must be non-negative")
	}

	if c.Downloader.Threads < 1 {
		return fmt.Errorf("downloader.threads must be at least 1")
	}

	if c.Pipeline.VideoConcurrency < 1 {
		return fmt.Errorf("pipeline.video_concurrency must be at least 1")
	}
	if c.Pipeline.PageConcurrency < 1 {
		return fmt.Errorf("pipeline.page_concurrency must be at least 1")
	}

	if c.IngestLog.Capacity < 1 {
		return fmt.Errorf("ingest_log.capacity must be at least 1")
	}

	if c.Tracker.LRUSize < 1 {
		return fmt.Errorf("tracker.lru_size must be at least 1")
	}

	return nil
}

// LogsPath returns the full path to the logs directory.
func (c *StorageConfig) LogsPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.LogsDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}
