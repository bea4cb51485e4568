package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/arcade-scores/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Chain anchoring policies
const (
	// PolicyBestEffort stores the score first and anchors it in the background.
	PolicyBestEffort = "best_effort"
	// PolicyMandatory anchors on chain first and stores only on success.
	PolicyMandatory = "mandatory"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Store        StoreConfig        `yaml:"store"`
	Redis        RedisConfig        `yaml:"redis"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Chain        ChainConfig        `yaml:"chain"`
	Identity     IdentityConfig     `yaml:"identity"`
	Dedup        DedupConfig        `yaml:"dedup"`
	AnchorWorker AnchorWorkerConfig `yaml:"anchor_worker"`
	Leaderboard  LeaderboardConfig  `yaml:"leaderboard"`
	Games        []domain.GameRule  `yaml:"games" validate:"dive"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" validate:"gt=0,lte=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level name onto slog
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreConfig selects the score store backend
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory postgres redis"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size" validate:"gt=0"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// ChainConfig holds the ledger contract and signer configuration.
// Anchoring is disabled unless RPCURL, ContractAddress and SignerKey are all set.
type ChainConfig struct {
	Policy          string        `yaml:"policy" validate:"oneof=best_effort mandatory"`
	RPCURL          string        `yaml:"rpc_url" validate:"omitempty,url"`
	ContractAddress string        `yaml:"contract_address" validate:"omitempty,eth_addr"`
	SignerKey       string        `yaml:"signer_key"`
	GasLimit        uint64        `yaml:"gas_limit"`
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
	WaitReceipt     bool          `yaml:"wait_receipt"`
	ReceiptPoll     time.Duration `yaml:"receipt_poll"`
	ResponseWait    time.Duration `yaml:"response_wait"`
}

// Enabled reports whether signer credentials are configured
func (c *ChainConfig) Enabled() bool {
	return c.RPCURL != "" && c.ContractAddress != "" && c.SignerKey != ""
}

// Mandatory reports whether a failed anchor must reject the submission
func (c *ChainConfig) Mandatory() bool {
	return c.Policy == PolicyMandatory
}

// IdentityConfig holds the external username lookup configuration
type IdentityConfig struct {
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DedupConfig holds duplicate detection configuration
type DedupConfig struct {
	Window     time.Duration `yaml:"window" validate:"gte=0"`
	MatchScore *bool         `yaml:"match_score"`
}

// ScoreMatched reports whether the score takes part in the duplicate key
func (c *DedupConfig) ScoreMatched() bool {
	return c.MatchScore == nil || *c.MatchScore
}

// AnchorWorkerConfig holds background anchoring configuration
type AnchorWorkerConfig struct {
	Workers       int           `yaml:"workers" validate:"gt=0"`
	QueueSize     int           `yaml:"queue_size" validate:"gt=0"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepGrace    time.Duration `yaml:"sweep_grace"`
	SweepBatch    int           `yaml:"sweep_batch"`
}

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	DefaultLimit int `yaml:"default_limit" validate:"gt=0,ltefield=MaxLimit"`
	MaxLimit     int `yaml:"max_limit" validate:"gt=0"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	// Secrets such as CHAIN_SIGNER_KEY may live in a local .env file
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// LoadOrDefault reads path, falling back to DefaultConfig only when the file
// does not exist. A file that exists but fails to parse or validate is an error.
func LoadOrDefault(path string) (cfg *Config, usedDefaults bool, err error) {
	cfg, err = Load(path)
	if err == nil {
		return cfg, false, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), true, nil
	}
	return nil, false, err
}

// Parse decodes YAML configuration, expanding environment variables first
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks enumerated values and limits
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q (value: %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	if c.Chain.Mandatory() && !c.Chain.Enabled() {
		return errors.New("mandatory chain policy requires rpc_url, contract_address and signer_key")
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 20 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Store.Backend == "" {
		c.Store.Backend = StoreMemory
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "arcade"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "arcade-scores"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "arcade-scores-consumer"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Chain defaults
	if c.Chain.Policy == "" {
		c.Chain.Policy = PolicyBestEffort
	}
	if c.Chain.GasLimit == 0 {
		c.Chain.GasLimit = 150000
	}
	if c.Chain.Timeout == 0 {
		c.Chain.Timeout = 15 * time.Second
	}
	if c.Chain.ReceiptPoll == 0 {
		c.Chain.ReceiptPoll = 2 * time.Second
	}

	// Identity defaults
	if c.Identity.Timeout == 0 {
		c.Identity.Timeout = 3 * time.Second
	}

	// Dedup defaults
	if c.Dedup.Window == 0 {
		c.Dedup.Window = 60 * time.Second
	}

	// Anchor worker defaults
	if c.AnchorWorker.Workers == 0 {
		c.AnchorWorker.Workers = 2
	}
	if c.AnchorWorker.QueueSize == 0 {
		c.AnchorWorker.QueueSize = 1024
	}
	if c.AnchorWorker.RetryAttempts == 0 {
		c.AnchorWorker.RetryAttempts = 3
	}
	if c.AnchorWorker.RetryDelay == 0 {
		c.AnchorWorker.RetryDelay = 5 * time.Second
	}
	if c.AnchorWorker.SweepInterval == 0 {
		c.AnchorWorker.SweepInterval = 10 * time.Minute
	}
	if c.AnchorWorker.SweepGrace == 0 {
		c.AnchorWorker.SweepGrace = 2 * time.Minute
	}
	if c.AnchorWorker.SweepBatch == 0 {
		c.AnchorWorker.SweepBatch = 100
	}

	// Leaderboard defaults
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = 20
	}
	if c.Leaderboard.MaxLimit == 0 {
		c.Leaderboard.MaxLimit = 100
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
