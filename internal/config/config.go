// Package config provides configuration management for recarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultHTTPTimeout     = 60 * time.Second
	defaultRetryAttempts   = 3
	defaultRetryDelay      = 5 * time.Second
	defaultPollInterval    = 2 * time.Second
	defaultBeatInterval    = 30 * time.Second
	defaultLockTimeout     = 10 * time.Minute
	defaultTaskRetention   = 7 * 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Queues    QueuesConfig    `mapstructure:"queues"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retention RetentionConfig `mapstructure:"retention"`
	Providers ProvidersConfig `mapstructure:"providers"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds artifact storage configuration. Every per-user
// artifact lives under Root; Temp holds scratch files shared by executors.
type StorageConfig struct {
	Root string `mapstructure:"root"`
	Temp string `mapstructure:"temp"`

	// DefaultThumbnailsDir holds thumbnails copied into each new user's
	// thumbnails directory. Empty disables the copy.
	DefaultThumbnailsDir string `mapstructure:"default_thumbnails_dir"`

	// MaxThumbnailSize bounds preset thumbnail files. Supports
	// human-readable values like "2MB".
	MaxThumbnailSize ByteSize `mapstructure:"max_thumbnail_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// QueueConfig holds the dispatch policy of one named queue.
type QueueConfig struct {
	Workers     int           `mapstructure:"workers"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	SoftTimeout time.Duration `mapstructure:"soft_timeout"`
	HardTimeout time.Duration `mapstructure:"hard_timeout"`
}

// QueuesConfig holds per-queue dispatch policies plus runner-wide knobs.
type QueuesConfig struct {
	Downloads       QueueConfig `mapstructure:"downloads"`
	Uploads         QueueConfig `mapstructure:"uploads"`
	ProcessingCPU   QueueConfig `mapstructure:"processing_cpu"`
	AsyncOperations QueueConfig `mapstructure:"async_operations"`
	Maintenance     QueueConfig `mapstructure:"maintenance"`

	// PollInterval is how often an idle runner polls for work.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// LockTimeout is how long a claimed task may sit without heartbeat
	// before the janitor returns it to pending.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`

	// TaskRetention is how long terminal task rows are kept before the
	// prune pass removes them.
	TaskRetention time.Duration `mapstructure:"task_retention"`
}

// SchedulerConfig holds the cron beat configuration.
type SchedulerConfig struct {
	// BeatInterval is how often the scheduler scans for due automation
	// jobs and maintenance schedules.
	BeatInterval time.Duration `mapstructure:"beat_interval"`

	// CatchupMissedRuns fires jobs whose next_run_at passed while the
	// process was down instead of skipping to the next occurrence.
	CatchupMissedRuns bool `mapstructure:"catchup_missed_runs"`
}

// RetentionConfig holds the cron expressions of the retention passes.
// All are 6-field cron expressions evaluated in UTC.
type RetentionConfig struct {
	AutoExpireCron  string `mapstructure:"auto_expire_cron"`
	FileCleanupCron string `mapstructure:"file_cleanup_cron"`
	HardDeleteCron  string `mapstructure:"hard_delete_cron"`
	TokenGCCron     string `mapstructure:"token_gc_cron"`
	TaskPruneCron   string `mapstructure:"task_prune_cron"`
}

// ProviderHTTPConfig holds shared settings for outbound provider calls.
type ProviderHTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// TranscriptionProviderConfig holds the transcription HTTP provider settings.
type TranscriptionProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// TopicsProviderConfig holds the topic-extraction provider settings with a
// two-tier model fallback.
type TopicsProviderConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	PrimaryModel  string `mapstructure:"primary_model"`
	FallbackModel string `mapstructure:"fallback_model"`
}

// MeetingProviderConfig holds the video-meeting provider API settings.
type MeetingProviderConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	TokenURL string `mapstructure:"token_url"`
}

// UploadPlatformConfig holds one upload-gateway endpoint. Each entry
// registers an uploader for its platform name.
type UploadPlatformConfig struct {
	Platform string `mapstructure:"platform"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
}

// ProvidersConfig groups all external provider settings.
type ProvidersConfig struct {
	HTTP          ProviderHTTPConfig          `mapstructure:"http"`
	Transcription TranscriptionProviderConfig `mapstructure:"transcription"`
	Topics        TopicsProviderConfig        `mapstructure:"topics"`
	Meeting       MeetingProviderConfig       `mapstructure:"meeting"`
	Uploads       []UploadPlatformConfig      `mapstructure:"uploads"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// QuotaConfig holds the limits of the default subscription plan, seeded at
// first boot for users without a subscription.
type QuotaConfig struct {
	DefaultRecordingsPerMonth int      `mapstructure:"default_recordings_per_month"`
	DefaultConcurrentTasks    int      `mapstructure:"default_concurrent_tasks"`
	DefaultStorage            ByteSize `mapstructure:"default_storage"`
}

// SecurityConfig holds secrets-at-rest settings.
type SecurityConfig struct {
	// VaultKey is the hex-encoded 32-byte AES key sealing stored
	// provider credentials. Empty generates an ephemeral key at boot;
	// credentials sealed under it are unreadable after a restart.
	VaultKey string `mapstructure:"vault_key"`
}

// VaultKeyBytes decodes the configured vault key. Returns nil when no
// key is configured.
func (c *SecurityConfig) VaultKeyBytes() ([]byte, error) {
	if c.VaultKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("decoding security.vault_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("security.vault_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with RECARR_ and use underscores for
// nesting. Example: RECARR_SERVER_PORT=8080.
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
		v.AddConfigPath("/etc/recarr")
		v.AddConfigPath("$HOME/.recarr")
	}

	v.SetEnvPrefix("RECARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
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
// This should be called before reading the config file so defaults are in
// place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "recarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.root", "./data")
	v.SetDefault("storage.temp", "temp")
	v.SetDefault("storage.default_thumbnails_dir", "")
	v.SetDefault("storage.max_thumbnail_size", 2*1024*1024)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Queue defaults. Downloads and uploads are bandwidth-isolated from
	// each other; the CPU queue runs one FFmpeg per slot.
	v.SetDefault("queues.downloads.workers", 8)
	v.SetDefault("queues.downloads.max_attempts", 4)
	v.SetDefault("queues.downloads.backoff", 30*time.Second)
	v.SetDefault("queues.downloads.soft_timeout", 30*time.Minute)
	v.SetDefault("queues.downloads.hard_timeout", 2*time.Hour)
	v.SetDefault("queues.uploads.workers", 8)
	v.SetDefault("queues.uploads.max_attempts", 4)
	v.SetDefault("queues.uploads.backoff", 30*time.Second)
	v.SetDefault("queues.uploads.soft_timeout", 30*time.Minute)
	v.SetDefault("queues.uploads.hard_timeout", 2*time.Hour)
	v.SetDefault("queues.processing_cpu.workers", 0) // 0 = NumCPU capped at 4
	v.SetDefault("queues.processing_cpu.max_attempts", 2)
	v.SetDefault("queues.processing_cpu.backoff", time.Minute)
	v.SetDefault("queues.processing_cpu.soft_timeout", 30*time.Minute)
	v.SetDefault("queues.processing_cpu.hard_timeout", time.Hour)
	v.SetDefault("queues.async_operations.workers", 16)
	v.SetDefault("queues.async_operations.max_attempts", 3)
	v.SetDefault("queues.async_operations.backoff", 30*time.Second)
	v.SetDefault("queues.async_operations.soft_timeout", 20*time.Minute)
	v.SetDefault("queues.async_operations.hard_timeout", time.Hour)
	v.SetDefault("queues.maintenance.workers", 2)
	v.SetDefault("queues.maintenance.max_attempts", 6)
	v.SetDefault("queues.maintenance.backoff", time.Minute)
	v.SetDefault("queues.maintenance.soft_timeout", 10*time.Minute)
	v.SetDefault("queues.maintenance.hard_timeout", 30*time.Minute)
	v.SetDefault("queues.poll_interval", defaultPollInterval)
	v.SetDefault("queues.lock_timeout", defaultLockTimeout)
	v.SetDefault("queues.task_retention", defaultTaskRetention)

	// Scheduler defaults
	v.SetDefault("scheduler.beat_interval", defaultBeatInterval)
	v.SetDefault("scheduler.catchup_missed_runs", true)

	// Retention pass schedules (6-field cron, UTC). Expire runs before
	// cleanup which runs before hard delete.
	v.SetDefault("retention.auto_expire_cron", "0 0 3 * * *")
	v.SetDefault("retention.file_cleanup_cron", "0 30 3 * * *")
	v.SetDefault("retention.hard_delete_cron", "0 0 4 * * *")
	v.SetDefault("retention.token_gc_cron", "0 15 4 * * *")
	v.SetDefault("retention.task_prune_cron", "0 45 4 * * *")

	// Provider defaults
	v.SetDefault("providers.http.timeout", defaultHTTPTimeout)
	v.SetDefault("providers.http.retry_attempts", defaultRetryAttempts)
	v.SetDefault("providers.http.retry_delay", defaultRetryDelay)
	v.SetDefault("providers.transcription.base_url", "")
	v.SetDefault("providers.transcription.model", "whisper-1")
	v.SetDefault("providers.topics.base_url", "")
	v.SetDefault("providers.topics.primary_model", "")
	v.SetDefault("providers.topics.fallback_model", "")
	v.SetDefault("providers.meeting.base_url", "")
	v.SetDefault("providers.meeting.token_url", "")

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// Quota defaults for the seeded default plan. Zero means unlimited.
	v.SetDefault("quota.default_recordings_per_month", 100)
	v.SetDefault("quota.default_concurrent_tasks", 10)
	v.SetDefault("quota.default_storage", 0)

	// Security defaults
	v.SetDefault("security.vault_key", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
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

	for _, q := range []struct {
		name string
		cfg  QueueConfig
	}{
		{"downloads", c.Queues.Downloads},
		{"uploads", c.Queues.Uploads},
		{"async_operations", c.Queues.AsyncOperations},
		{"maintenance", c.Queues.Maintenance},
	} {
		if q.cfg.Workers < 1 {
			return fmt.Errorf("queues.%s.workers must be at least 1", q.name)
		}
		if q.cfg.MaxAttempts < 1 {
			return fmt.Errorf("queues.%s.max_attempts must be at least 1", q.name)
		}
	}
	if c.Queues.ProcessingCPU.Workers < 0 {
		return fmt.Errorf("queues.processing_cpu.workers must not be negative")
	}
	if c.Queues.PollInterval <= 0 {
		return fmt.Errorf("queues.poll_interval must be positive")
	}

	if _, err := c.Security.VaultKeyBytes(); err != nil {
		return err
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TempPath returns the full path to the shared temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.Root, c.Temp)
}

// ByQueue returns the policy for a named queue, or the maintenance policy
// for unknown names.
func (c *QueuesConfig) ByQueue(name string) QueueConfig {
	switch name {
	case "downloads":
		return c.Downloads
	case "uploads":
		return c.Uploads
	case "processing_cpu":
		return c.ProcessingCPU
	case "async_operations":
		return c.AsyncOperations
	default:
		return c.Maintenance
	}
}
