package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Dispatch modes
const (
	DispatchQueue  = "queue"
	DispatchInline = "inline"
)

// Blob drivers
const (
	BlobDriverLocal = "local"
	BlobDriverS3    = "s3"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Audit    AuditConfig    `yaml:"audit"`
	Capture  CaptureConfig  `yaml:"capture"`
	Findings FindingsConfig `yaml:"findings"`
	LLM      LLMConfig      `yaml:"llm"`
	Blob     BlobConfig     `yaml:"blob"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL connection configuration
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
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
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
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuditConfig holds submission and dispatch settings
type AuditConfig struct {
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	ReuseFailed     *bool         `yaml:"reuse_failed"`
	Dispatch        string        `yaml:"dispatch"`
	UploadTimeout   time.Duration `yaml:"upload_timeout"`
}

// ReuseFailedJobs reports whether a recent failed job satisfies a submission
func (a AuditConfig) ReuseFailedJobs() bool {
	return a.ReuseFailed == nil || *a.ReuseFailed
}

// CaptureConfig holds browser and capture timing settings
type CaptureConfig struct {
	ExecPath           string        `yaml:"exec_path"`
	RemoteURL          string        `yaml:"remote_url"`
	NoSandbox          bool          `yaml:"no_sandbox"`
	UserAgent          string        `yaml:"user_agent"`
	NavigationTimeout  time.Duration `yaml:"navigation_timeout"`
	NetworkIdleTimeout time.Duration `yaml:"network_idle_timeout"`
	StepTimeout        time.Duration `yaml:"step_timeout"`
	ReloadTimeout      time.Duration `yaml:"reload_timeout"`
	ScrollStep         int           `yaml:"scroll_step"`
	ScrollInterval     time.Duration `yaml:"scroll_interval"`
	MaxScrollSteps     int           `yaml:"max_scroll_steps"`
	SettleDelay        time.Duration `yaml:"settle_delay"`
	RelayoutDelay      time.Duration `yaml:"relayout_delay"`
	MaxElements        int           `yaml:"max_elements"`
}

// FindingsConfig tunes the findings inference call
type FindingsConfig struct {
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	Temperature     float64       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
}

// LLMConfig holds the inference endpoint settings. An empty api_key
// disables inference.
type LLMConfig struct {
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	SystemPrompt  string        `yaml:"system_prompt"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
}

// BlobConfig selects and configures the artifact store
type BlobConfig struct {
	Driver string          `yaml:"driver"`
	Local  LocalBlobConfig `yaml:"local"`
	S3     S3BlobConfig    `yaml:"s3"`
}

// LocalBlobConfig holds the filesystem driver settings
type LocalBlobConfig struct {
	Dir           string `yaml:"dir"`
	PublicBaseURL string `yaml:"public_base_url"`
	Serve         bool   `yaml:"serve"`
}

// S3BlobConfig holds the S3-compatible driver settings
type S3BlobConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	PublicBaseURL   string `yaml:"public_base_url"`
	CreateBucket    bool   `yaml:"create_bucket"`
}

// Load reads and parses the configuration file, then applies defaults and
// AUDIT_* environment overrides.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvVars(&config)
	setDefaults(&config)

	return &config, nil
}

// applyEnvVars overrides secrets and endpoints from the environment
func applyEnvVars(config *Config) {
	if v := os.Getenv("AUDIT_DATABASE_HOST"); v != "" {
		config.Database.Host = v
	}
	if v := os.Getenv("AUDIT_DATABASE_PASSWORD"); v != "" {
		config.Database.Password = v
	}
	if v := os.Getenv("AUDIT_RABBITMQ_HOST"); v != "" {
		config.RabbitMQ.Host = v
	}
	if v := os.Getenv("AUDIT_RABBITMQ_PASSWORD"); v != "" {
		config.RabbitMQ.Password = v
	}
	if v := os.Getenv("AUDIT_LLM_API_KEY"); v != "" {
		config.LLM.APIKey = v
	}
	if v := os.Getenv("AUDIT_S3_ACCESS_KEY_ID"); v != "" {
		config.Blob.S3.AccessKeyID = v
	}
	if v := os.Getenv("AUDIT_S3_SECRET_ACCESS_KEY"); v != "" {
		config.Blob.S3.SecretAccessKey = v
	}
	if v := os.Getenv("AUDIT_CHROME_URL"); v != "" {
		config.Capture.RemoteURL = v
	}
	if v := os.Getenv("AUDIT_DISPATCH"); v != "" {
		config.Audit.Dispatch = strings.ToLower(v)
	}
	if v := os.Getenv("AUDIT_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Server.Port = p
		}
	}
}

// setDefaults fills values the file left empty
func setDefaults(config *Config) {
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 15 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 15 * time.Second
	}
	if config.Server.IdleTimeout == 0 {
		config.Server.IdleTimeout = 60 * time.Second
	}
	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = 30 * time.Second
	}
	if config.Server.MaxBodyBytes == 0 {
		config.Server.MaxBodyBytes = 1 << 20
	}

	if config.Database.SSLMode == "" {
		config.Database.SSLMode = "disable"
	}

	if config.RabbitMQ.Exchange.Type == "" {
		config.RabbitMQ.Exchange.Type = "direct"
	}
	if config.RabbitMQ.Consumer.PrefetchCount == 0 {
		config.RabbitMQ.Consumer.PrefetchCount = 1
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}
	if config.Logging.Output == "" {
		config.Logging.Output = "stdout"
	}

	if config.Worker.Concurrency == 0 {
		config.Worker.Concurrency = 2
	}
	if config.Worker.JobTimeout == 0 {
		config.Worker.JobTimeout = 3 * time.Minute
	}
	if config.Worker.ShutdownTimeout == 0 {
		config.Worker.ShutdownTimeout = 30 * time.Second
	}

	if config.Audit.FreshnessWindow == 0 {
		config.Audit.FreshnessWindow = time.Hour
	}
	if config.Audit.Dispatch == "" {
		config.Audit.Dispatch = DispatchQueue
	}
	if config.Audit.UploadTimeout == 0 {
		config.Audit.UploadTimeout = 30 * time.Second
	}

	if config.Blob.Driver == "" {
		config.Blob.Driver = BlobDriverLocal
	}
	if config.Blob.Local.Dir == "" {
		config.Blob.Local.Dir = "data/artifacts"
	}
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	switch c.Audit.Dispatch {
	case DispatchQueue:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	case DispatchInline:
		if err := c.validateBlob(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid audit dispatch: %q (must be %q or %q)", c.Audit.Dispatch, DispatchQueue, DispatchInline)
	}

	if c.Audit.FreshnessWindow <= 0 {
		return fmt.Errorf("audit freshness_window must be greater than 0")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return c.validateBlob()
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
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

func (c *Config) validateBlob() error {
	switch c.Blob.Driver {
	case BlobDriverLocal:
		if c.Blob.Local.Dir == "" {
			return fmt.Errorf("blob local dir is required")
		}
	case BlobDriverS3:
		if c.Blob.S3.Endpoint == "" {
			return fmt.Errorf("blob s3 endpoint is required")
		}
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob s3 bucket is required")
		}
	default:
		return fmt.Errorf("invalid blob driver: %q (must be %q or %q)", c.Blob.Driver, BlobDriverLocal, BlobDriverS3)
	}

	return nil
}
