// Package config provides configuration management for the recorder core
// using Viper. It supports configuration from files, environment
// variables, and defaults.
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
	defaultShutdownTimeout    = 30 * time.Second
	defaultWatchdogTimeout    = 60 * time.Second
	defaultMaxOpenConns       = 6
	defaultMaxIdleConns       = 3
	defaultConnMaxIdleTime    = 30 * time.Minute
	defaultSegmentDurationSec = 900
	defaultPreRollSec         = 5
	defaultPostRollSec        = 10
	defaultDetectionInterval  = 1 * time.Second
	defaultDetectionThreshold = 0.5
	defaultRetentionDays      = 30
	defaultRetentionTickEvery = "@every 1m"
	defaultOrphanSweepCron    = "0 0 3 * * 0"
	defaultReclaimFraction    = 0.95
	defaultHealthPort         = 8181
)

// Config holds all configuration for the recorder process.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Stream    StreamDefaults  `mapstructure:"stream"`
	Detection DetectionConfig `mapstructure:"detection"`
	Retention RetentionConfig `mapstructure:"retention"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
}

// ServerConfig holds the health/status endpoint configuration. The core
// does not serve the REST API itself (an external collaborator does);
// this is the narrow liveness surface described by internal/api.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Path is the SQLite database file path (or ":memory:").
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds the on-disk layout root for recordings, HLS
// segments, and thumbnails.
type StorageConfig struct {
	Root     string `mapstructure:"root"`
	HLSRoot  string `mapstructure:"hls_root"`  // empty = {root}/hls
	TempDir  string `mapstructure:"temp_dir"`  // empty = {root}/tmp
	ThumbDir string `mapstructure:"thumb_dir"` // empty = {root}/thumbnails
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// StreamDefaults supplies the process-wide fallbacks applied to any
// StreamConfig row that leaves a field unset. The stream_configs table
// remains the source of truth for the set of cameras and their
// overrides (spec.md §9, Open Question 1).
type StreamDefaults struct {
	Protocol            string   `mapstructure:"protocol"` // tcp, udp
	Width               int      `mapstructure:"width"`
	Height              int      `mapstructure:"height"`
	FPS                 int      `mapstructure:"fps"`
	Codec               string   `mapstructure:"codec"`
	SegmentDurationSec  int      `mapstructure:"segment_duration_sec"`
	ProbeTimeout        Duration `mapstructure:"probe_timeout"`
	ReconnectMinBackoff Duration `mapstructure:"reconnect_min_backoff"`
	ReconnectMaxBackoff Duration `mapstructure:"reconnect_max_backoff"`
}

// DetectionConfig holds process-wide detection defaults and the worker
// pool sizing. Per-stream model/interval/threshold/pre_roll/post_roll
// live on StreamConfig and override these when set.
type DetectionConfig struct {
	Model        string        `mapstructure:"model"`
	Interval     time.Duration `mapstructure:"interval"`
	Threshold    float64       `mapstructure:"threshold"`
	PreRollSec   int           `mapstructure:"pre_roll_sec"`
	PostRollSec  int           `mapstructure:"post_roll_sec"`
	ObjectFilter []string      `mapstructure:"object_filter"`
	// WorkerPoolSize bounds concurrent detector invocations across all
	// streams (0 = runtime.NumCPU()).
	WorkerPoolSize int `mapstructure:"worker_pool_size"`
	// HTTPEndpoint, if set, selects the HTTP detector backend instead of
	// the embedded one.
	HTTPEndpoint string        `mapstructure:"http_endpoint"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
}

// RetentionConfig holds the global retention policy. Per-stream tiered
// multipliers (critical/important/ephemeral) live on StreamConfig.
type RetentionConfig struct {
	RetentionDays    int      `mapstructure:"retention_days"`
	MaxStorageSize   ByteSize `mapstructure:"max_storage_size"` // 0 = unlimited
	AutoDeleteOldest bool     `mapstructure:"auto_delete_oldest"`
	ReclaimFraction  float64  `mapstructure:"reclaim_fraction"` // target fraction of max_storage_size after reclamation
	TickCron         string   `mapstructure:"tick_cron"`        // age/quota sweep, default "@every 1m"
	OrphanSweepCron  string   `mapstructure:"orphan_sweep_cron"` // weekly orphan-file sweep, 6-field cron
}

// ShutdownConfig holds the graceful-shutdown and watchdog timeouts.
type ShutdownConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	WatchdogTimeout time.Duration `mapstructure:"watchdog_timeout"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with LIGHTNVR_ and use underscores
// for nesting. Example: LIGHTNVR_SERVER_PORT=8181.
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
		v.AddConfigPath("/etc/lightnvr")
		v.AddConfigPath("$HOME/.lightnvr")
	}

	v.SetEnvPrefix("LIGHTNVR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
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
// This should be called before reading the config file to ensure
// defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server (health endpoint) defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultHealthPort)

	// Database defaults
	v.SetDefault("database.path", "./data/lightnvr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.root", "./data/recordings")
	v.SetDefault("storage.hls_root", "")
	v.SetDefault("storage.temp_dir", "")
	v.SetDefault("storage.thumb_dir", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Stream defaults
	v.SetDefault("stream.protocol", "tcp")
	v.SetDefault("stream.width", 1920)
	v.SetDefault("stream.height", 1080)
	v.SetDefault("stream.fps", 15)
	v.SetDefault("stream.codec", "h264")
	v.SetDefault("stream.segment_duration_sec", defaultSegmentDurationSec)
	v.SetDefault("stream.probe_timeout", "5s")
	v.SetDefault("stream.reconnect_min_backoff", "1s")
	v.SetDefault("stream.reconnect_max_backoff", "30s")

	// Detection defaults
	v.SetDefault("detection.model", "")
	v.SetDefault("detection.interval", defaultDetectionInterval)
	v.SetDefault("detection.threshold", defaultDetectionThreshold)
	v.SetDefault("detection.pre_roll_sec", defaultPreRollSec)
	v.SetDefault("detection.post_roll_sec", defaultPostRollSec)
	v.SetDefault("detection.object_filter", []string{})
	v.SetDefault("detection.worker_pool_size", 0)
	v.SetDefault("detection.http_endpoint", "")
	v.SetDefault("detection.http_timeout", 5*time.Second)

	// Retention defaults
	v.SetDefault("retention.retention_days", defaultRetentionDays)
	v.SetDefault("retention.max_storage_size", 0)
	v.SetDefault("retention.auto_delete_oldest", true)
	v.SetDefault("retention.reclaim_fraction", defaultReclaimFraction)
	v.SetDefault("retention.tick_cron", defaultRetentionTickEvery)
	v.SetDefault("retention.orphan_sweep_cron", defaultOrphanSweepCron)

	// Shutdown defaults
	v.SetDefault("shutdown.timeout", defaultShutdownTimeout)
	v.SetDefault("shutdown.watchdog_timeout", defaultWatchdogTimeout)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	validProtocols := map[string]bool{"tcp": true, "udp": true}
	if !validProtocols[c.Stream.Protocol] {
		return fmt.Errorf("stream.protocol must be one of: tcp, udp")
	}
	if c.Stream.SegmentDurationSec < 1 {
		return fmt.Errorf("stream.segment_duration_sec must be at least 1")
	}

	if c.Detection.Threshold < 0 || c.Detection.Threshold > 1 {
		return fmt.Errorf("detection.threshold must be in [0,1]")
	}
	if c.Detection.PreRollSec < 0 {
		return fmt.Errorf("detection.pre_roll_sec must be >= 0")
	}
	if c.Detection.PostRollSec < 0 {
		return fmt.Errorf("detection.post_roll_sec must be >= 0")
	}

	if c.Retention.RetentionDays < 1 {
		return fmt.Errorf("retention.retention_days must be at least 1")
	}
	if c.Retention.ReclaimFraction <= 0 || c.Retention.ReclaimFraction > 1 {
		return fmt.Errorf("retention.reclaim_fraction must be in (0,1]")
	}

	if c.Shutdown.Timeout <= 0 {
		return fmt.Errorf("shutdown.timeout must be > 0")
	}
	if c.Shutdown.WatchdogTimeout <= c.Shutdown.Timeout {
		return fmt.Errorf("shutdown.watchdog_timeout must exceed shutdown.timeout")
	}

	return nil
}

// Address returns the health server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HLSPath returns the directory that holds per-stream HLS playlists and
// segments.
func (c *StorageConfig) HLSPath() string {
	if c.HLSRoot != "" {
		return c.HLSRoot
	}
	return fmt.Sprintf("%s/hls", c.Root)
}

// MP4Path returns the directory that holds segmented MP4 recordings.
func (c *StorageConfig) MP4Path() string {
	return fmt.Sprintf("%s/mp4", c.Root)
}

// ThumbnailPath returns the directory that holds recording thumbnails.
func (c *StorageConfig) ThumbnailPath() string {
	if c.ThumbDir != "" {
		return c.ThumbDir
	}
	return fmt.Sprintf("%s/thumbnails", c.Root)
}

// TempPath returns the directory used for in-progress file writes before
// atomic rename into place.
func (c *StorageConfig) TempPath() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return fmt.Sprintf("%s/tmp", c.Root)
}
