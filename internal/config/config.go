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

// DefaultClassifications is used when no classification set is configured,
// matching the categories the tagging prompt was written for.
var DefaultClassifications = []string{
	"Living Things",
	"Inanimate Objects",
	"Locations",
	"Actions",
	"Environmental",
	"Descriptive",
	"Temporal",
}

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Vision   VisionConfig   `yaml:"vision"`
	Faces    FacesConfig    `yaml:"faces"`
	Media    MediaConfig    `yaml:"media"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the PostgreSQL snapshot sink configuration. The sink
// is optional; without it job state lives in memory only.
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
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

// RabbitMQConfig holds the lifecycle-event publisher configuration. Optional.
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection behavior
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// LoggingConfig holds logger configuration
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

// PipelineConfig holds the enrichment queue and worker-pool policy. Zero
// values fall back to the documented defaults.
type PipelineConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	QueueSize      int           `yaml:"queue_size"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	StageTimeout   time.Duration `yaml:"stage_timeout"`
}

// VisionConfig holds the vision-model client configuration.
type VisionConfig struct {
	BaseURL            string        `yaml:"base_url"`
	Model              string        `yaml:"model"`
	Timeout            time.Duration `yaml:"timeout"`
	PromptTemplatePath string        `yaml:"prompt_template_path"`
	Classifications    []string      `yaml:"classifications"`
}

// FacesConfig holds the face-detector client configuration.
type FacesConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	MinConfidence float64       `yaml:"min_confidence"`
}

// MediaConfig locates the image store.
type MediaConfig struct {
	Root string `yaml:"root"`
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

// applyDefaults fills the documented defaults for everything the file left
// unset.
func (c *Config) applyDefaults() {
	if len(c.Vision.Classifications) == 0 {
		c.Vision.Classifications = append([]string(nil), DefaultClassifications...)
	}
	if c.Vision.Timeout <= 0 {
		c.Vision.Timeout = 30 * time.Second
	}
	if c.Faces.Timeout <= 0 {
		c.Faces.Timeout = 15 * time.Second
	}
	if c.Faces.MinConfidence == 0 {
		c.Faces.MinConfidence = 0.5
	}
	if c.Pipeline.Concurrency <= 0 {
		c.Pipeline.Concurrency = 4
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = 256
	}
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.RetryBaseDelay <= 0 {
		c.Pipeline.RetryBaseDelay = 2 * time.Second
	}
	if c.Pipeline.RetryMaxDelay <= 0 {
		c.Pipeline.RetryMaxDelay = time.Minute
	}
	if c.Pipeline.StageTimeout <= 0 {
		c.Pipeline.StageTimeout = 30 * time.Second
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Vision.BaseURL == "" {
		return fmt.Errorf("vision base_url is required")
	}

	if c.Vision.Model == "" {
		return fmt.Errorf("vision model is required")
	}

	if c.Faces.BaseURL == "" {
		return fmt.Errorf("faces base_url is required")
	}

	if c.Faces.MinConfidence < 0 || c.Faces.MinConfidence > 1 {
		return fmt.Errorf("faces min_confidence must be within [0,1], got %v", c.Faces.MinConfidence)
	}

	if c.Media.Root == "" {
		return fmt.Errorf("media root is required")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.RabbitMQ.Enabled {
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
	}

	return nil
}
