package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Dispatch modes for running the analyzer.
const (
	DispatchDirect = "direct"
	DispatchQueued = "queued"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Storage  StorageConfig  `yaml:"storage"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Events   EventsConfig   `yaml:"events"`
	Auth     AuthConfig     `yaml:"auth"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the
// optional analytics sink. Leave Host empty to disable the sink.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// Enabled reports whether the analytics sink should be wired up.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// StorageConfig holds per-job filesystem layout and upload limits
type StorageConfig struct {
	DataDir        string `yaml:"data_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// AnalysisConfig describes how to invoke the external analyzer
type AnalysisConfig struct {
	Interpreter       string        `yaml:"interpreter"`
	Script            string        `yaml:"script"`
	Timeout           time.Duration `yaml:"timeout"`
	MilestoneInterval time.Duration `yaml:"milestone_interval"`
	EstimatedDuration time.Duration `yaml:"estimated_duration"`
}

// DispatchConfig selects the execution strategy
type DispatchConfig struct {
	Mode             string `yaml:"mode"`
	FallbackToDirect bool   `yaml:"fallback_to_direct"`
}

// EventsConfig tunes the viewer push channel
type EventsConfig struct {
	BufferSize        int           `yaml:"buffer_size"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// AuthConfig holds identity resolution settings. Production deployments
// put a real session layer in front; development uses DevIdentity.
type AuthConfig struct {
	DevIdentity     string   `yaml:"dev_identity"`
	AdminIdentities []string `yaml:"admin_identities"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.MaxUploadBytes <= 0 {
		c.Storage.MaxUploadBytes = 100 << 20
	}
	if c.Analysis.Interpreter == "" {
		c.Analysis.Interpreter = "python3"
	}
	if c.Analysis.MilestoneInterval <= 0 {
		c.Analysis.MilestoneInterval = 8 * time.Second
	}
	if c.Analysis.EstimatedDuration <= 0 {
		c.Analysis.EstimatedDuration = 3 * time.Minute
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DispatchDirect
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 16
	}
	if c.Events.KeepaliveInterval <= 0 {
		c.Events.KeepaliveInterval = 25 * time.Second
	}
	if c.Auth.DevIdentity == "" {
		c.Auth.DevIdentity = "dev-user"
	}
}

// ValidateAPIConfig checks the fields the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir is required")
	}

	if c.Analysis.Script == "" {
		return fmt.Errorf("analysis script path is required")
	}

	if c.Dispatch.Mode != DispatchDirect && c.Dispatch.Mode != DispatchQueued {
		return fmt.Errorf("invalid dispatch mode: %q (must be %q or %q)", c.Dispatch.Mode, DispatchDirect, DispatchQueued)
	}

	if c.Dispatch.Mode == DispatchQueued {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	return nil
}

// ValidateWorkerConfig checks the fields the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir is required")
	}

	if c.Analysis.Script == "" {
		return fmt.Errorf("analysis script path is required")
	}

	return c.validateRabbitMQ()
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
