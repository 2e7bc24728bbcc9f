package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Source          SourceConfig   `yaml:"source"`
	Twitch          TwitchConfig   `yaml:"twitch"`
	Kick            KickConfig     `yaml:"kick"`
	Channels        ChannelsConfig `yaml:"channels"`
	Writer          WriterConfig   `yaml:"writer"`
	Store           StoreConfig    `yaml:"store"`
	S3              S3Config       `yaml:"s3"`
	Archive         ArchiveConfig  `yaml:"archive"`
	Redis           RedisConfig    `yaml:"redis"`
	HTTP            HTTPConfig     `yaml:"http"`
	Log             LogConfig      `yaml:"log"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
}

// SourceConfig selects where events come from
type SourceConfig struct {
	Type              string        `yaml:"type"` // mock, twitch or kick
	Host              string        `yaml:"host"`
	RoomID            uint64        `yaml:"room_id"`
	MockInterval      time.Duration `yaml:"mock_interval"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// TwitchConfig holds Twitch-specific configuration
type TwitchConfig struct {
	Username string `yaml:"username"`
	OAuth    string `yaml:"oauth"`
	Channel  string `yaml:"channel"`
}

// KickConfig holds Kick-specific configuration
type KickConfig struct {
	Channel    string `yaml:"channel"`
	ChatroomID int    `yaml:"chatroom_id"` // 0 means resolve via API
}

// ChannelsConfig bounds the in-process queues
type ChannelsConfig struct {
	DurableCapacity   int `yaml:"durable_capacity"`
	BroadcastCapacity int `yaml:"broadcast_capacity"`
	SubscriberQueue   int `yaml:"subscriber_queue"`
}

// WriterConfig holds the batching thresholds
type WriterConfig struct {
	MaxBatchSize int           `yaml:"max_batch_size"`
	MaxWaitMS    int           `yaml:"max_wait_ms"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// MaxWait returns the time trigger as a duration
func (w WriterConfig) MaxWait() time.Duration {
	return time.Duration(w.MaxWaitMS) * time.Millisecond
}

// StoreConfig holds the analytical store connection. An empty DSN logs
// batches instead of persisting them.
type StoreConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	RowsPerStmt  int    `yaml:"rows_per_statement"`
}

// S3Config holds S3 upload configuration
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	RoleARN         string `yaml:"role_arn"`          // IAM role ARN for OIDC authentication
	TokenSocket     string `yaml:"token_socket"`      // Unix socket serving OIDC tokens
	AccessKeyID     string `yaml:"access_key_id"`     // Static credentials, e.g. MinIO
	SecretAccessKey string `yaml:"secret_access_key"` // Static credentials, e.g. MinIO
	Endpoint        string `yaml:"endpoint"`          // For S3-compatible services
}

// ArchiveConfig holds raw archiver configuration
type ArchiveConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Workers      int           `yaml:"workers"`
	MaxRetries   int           `yaml:"max_retries"`
	Backoff      time.Duration `yaml:"backoff"`
	MachineID    uint16        `yaml:"machine_id"`
	EnsureBucket bool          `yaml:"ensure_bucket"`
	DedupeTTL    time.Duration `yaml:"dedupe_ttl"`
}

// RedisConfig enables archive de-duplication when Addr is set
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// HTTPConfig holds the health/metrics/websocket listener
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a validated configuration from YAML, environment overrides and defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if oauth := os.Getenv("TWITCH_OAUTH"); oauth != "" {
		c.Twitch.OAuth = oauth
	}
	if roleARN := os.Getenv("AWS_ROLE_ARN"); roleARN != "" {
		c.S3.RoleARN = roleARN
	}
	if keyID := os.Getenv("S3_ACCESS_KEY_ID"); keyID != "" {
		c.S3.AccessKeyID = keyID
	}
	if secretKey := os.Getenv("S3_SECRET_ACCESS_KEY"); secretKey != "" {
		c.S3.SecretAccessKey = secretKey
	}
	if dsn := os.Getenv("STORE_DSN"); dsn != "" {
		c.Store.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if v := os.Getenv("BULK_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BULK_BATCH_SIZE: %w", err)
		}
		c.Writer.MaxBatchSize = n
	}
	if v := os.Getenv("BULK_WAIT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BULK_WAIT_MS: %w", err)
		}
		c.Writer.MaxWaitMS = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Source.Type == "" {
		c.Source.Type = "mock"
	}
	if c.Source.Host == "" {
		switch c.Source.Type {
		case "twitch":
			c.Source.Host = c.Twitch.Channel
		case "kick":
			c.Source.Host = c.Kick.Channel
		default:
			c.Source.Host = "mockhost"
		}
	}
	if c.Source.MockInterval == 0 {
		c.Source.MockInterval = 3 * time.Second
	}
	if c.Source.ReconnectInterval == 0 {
		c.Source.ReconnectInterval = 30 * time.Second
	}
	if c.Twitch.Channel == "" {
		c.Twitch.Channel = c.Source.Host
	}
	if c.Kick.Channel == "" {
		c.Kick.Channel = c.Source.Host
	}
	if c.Channels.DurableCapacity == 0 {
		c.Channels.DurableCapacity = 20000
	}
	if c.Channels.BroadcastCapacity == 0 {
		c.Channels.BroadcastCapacity = 10000
	}
	if c.Channels.SubscriberQueue == 0 {
		c.Channels.SubscriberQueue = 256
	}
	if c.Writer.MaxBatchSize == 0 {
		c.Writer.MaxBatchSize = 5000
	}
	if c.Writer.MaxWaitMS == 0 {
		c.Writer.MaxWaitMS = 1000
	}
	if c.Writer.DrainTimeout == 0 {
		c.Writer.DrainTimeout = 5 * time.Second
	}
	if c.Archive.Workers == 0 {
		c.Archive.Workers = 4
	}
	if c.Archive.MaxRetries == 0 {
		c.Archive.MaxRetries = 3
	}
	if c.Archive.Backoff == 0 {
		c.Archive.Backoff = time.Second
	}
	if c.Archive.MachineID == 0 {
		c.Archive.MachineID = 1
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Validate checks required fields for the selected source and sinks
func (c *Config) Validate() error {
	switch c.Source.Type {
	case "mock":
	case "twitch":
		if c.Twitch.Username == "" {
			return fmt.Errorf("twitch.username is required")
		}
		if c.Twitch.OAuth == "" {
			return fmt.Errorf("twitch.oauth is required (or set TWITCH_OAUTH env var)")
		}
		if c.Twitch.Channel == "" {
			return fmt.Errorf("twitch.channel is required")
		}
	case "kick":
		if c.Kick.Channel == "" {
			return fmt.Errorf("kick.channel is required")
		}
	default:
		return fmt.Errorf("source.type must be mock, twitch or kick, got %q", c.Source.Type)
	}

	if c.Channels.DurableCapacity < 0 {
		return fmt.Errorf("channels.durable_capacity must not be negative")
	}
	if c.Channels.BroadcastCapacity < 0 {
		return fmt.Errorf("channels.broadcast_capacity must not be negative")
	}
	if c.Writer.MaxBatchSize < 1 {
		return fmt.Errorf("writer.max_batch_size must be at least 1")
	}
	if c.Writer.MaxWaitMS < 1 {
		return fmt.Errorf("writer.max_wait_ms must be at least 1")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when archive is enabled")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("s3.region is required when archive is enabled")
		}
		// If using static credentials, both key and secret are required
		if c.S3.AccessKeyID != "" && c.S3.SecretAccessKey == "" {
			return fmt.Errorf("s3.secret_access_key is required when using access_key_id")
		}
	}
	return nil
}
