package config

import (
	"fmt"
	"os"

	"quote-pipeline/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// applyDefaults fills optional fields so downstream code never sees zeros
func (c *Config) applyDefaults() {
	if c.Broker.QueueSize <= 0 {
		c.Broker.QueueSize = 256
	}
	if c.Serializer == "" {
		c.Serializer = "json"
	}
	if c.DLQ.MaxAttempts <= 0 {
		c.DLQ.MaxAttempts = 5
	}
	if c.DLQ.BaseDelaySeconds <= 0 {
		c.DLQ.BaseDelaySeconds = 2
	}
	if c.DLQ.RetryIntervalSeconds <= 0 {
		c.DLQ.RetryIntervalSeconds = 5
	}
	if c.DLQ.RetentionHours <= 0 {
		c.DLQ.RetentionHours = 72
	}
	if c.Health.CheckIntervalSeconds <= 0 {
		c.Health.CheckIntervalSeconds = 10
	}
	if c.Health.HeartbeatTimeoutSeconds <= 0 {
		c.Health.HeartbeatTimeoutSeconds = 60
	}
	if c.Health.MaxRestartAttempts <= 0 {
		c.Health.MaxRestartAttempts = 3
	}
	if c.Health.DrainGraceSeconds <= 0 {
		c.Health.DrainGraceSeconds = 2
	}

	for i := range c.Publishers {
		p := &c.Publishers[i]
		if p.BatchSize <= 0 {
			p.BatchSize = 50
		}
		if p.RateLimitCalls <= 0 {
			p.RateLimitCalls = 1
		}
		if p.RateLimitPeriodSeconds <= 0 {
			p.RateLimitPeriodSeconds = 1
		}
		if p.FetchMaxRetries <= 0 {
			p.FetchMaxRetries = 3
		}
		if p.FetchInterval == "" {
			p.FetchInterval = "5m"
		}
	}

	for i := range c.Subscribers {
		s := &c.Subscribers[i]
		switch s.Type {
		case "durable_writer":
			if s.FlushSize <= 0 {
				s.FlushSize = 100
			}
			if s.FlushIntervalSeconds <= 0 {
				s.FlushIntervalSeconds = 10
			}
		case "market_breadth":
			if s.WindowSeconds <= 0 {
				s.WindowSeconds = 60
			}
			if s.UniverseID == "" {
				s.UniverseID = "default"
			}
		case "trend":
			if s.PriceWindowSize <= 0 {
				s.PriceWindowSize = 50
			}
			if s.MAShortPeriod <= 0 {
				s.MAShortPeriod = 5
			}
			if s.MALongPeriod <= 0 {
				s.MALongPeriod = 20
			}
		}
	}
}

// -----------------------------------------------------------------------------

// Validate performs configuration validation. Fatal errors here abort startup
// before any component starts.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Broker configuration
	switch c.Broker.Type {
	case "memory":
	case "redis":
		if c.Broker.RedisAddr == "" {
			return fmt.Errorf("redis broker requires redis_addr")
		}
	default:
		return fmt.Errorf("invalid broker type: '%s' (must be memory or redis)", c.Broker.Type)
	}

	// Validate Serializer choice
	switch c.Serializer {
	case "json", "gob", "binary":
	default:
		return fmt.Errorf("invalid serializer: '%s' (must be json, gob or binary)", c.Serializer)
	}

	// Validate Storage configuration
	if c.Storage.DBType == "" {
		return fmt.Errorf("database type cannot be empty")
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		return fmt.Errorf("database path cannot be empty for sqlite")
	}
	if c.Storage.DBType == "postgres" && c.Storage.DBConnectionString == "" {
		return fmt.Errorf("connection string cannot be empty for postgres")
	}

	// Validate DLQ configuration
	if c.DLQ.DBPath == "" {
		return fmt.Errorf("dlq db_path cannot be empty")
	}

	// Validate Network configuration
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Network.ConcurrentRequests <= 0 {
		return fmt.Errorf("concurrent requests must be greater than 0")
	}

	// Validate Publishers
	if len(c.Publishers) == 0 {
		return fmt.Errorf("at least one publisher must be configured")
	}
	for i, pub := range c.Publishers {
		if pub.Name == "" {
			return fmt.Errorf("publisher %d must have a name", i)
		}
		if len(pub.Symbols) == 0 {
			return fmt.Errorf("publisher '%s' must have at least one symbol", pub.Name)
		}
		if pub.PollIntervalSeconds <= 0 {
			return fmt.Errorf("publisher '%s': poll interval must be greater than 0", pub.Name)
		}
	}

	// Validate Subscribers
	for i, sub := range c.Subscribers {
		if sub.Name == "" {
			return fmt.Errorf("subscriber %d must have a name", i)
		}
		switch sub.Type {
		case "state_tracker", "durable_writer", "market_breadth":
		case "trend":
			// A ring smaller than the long MA can never warm up, so the
			// subscriber would sit silent forever
			if sub.MALongPeriod > sub.PriceWindowSize {
				return fmt.Errorf("trend '%s': ma_long_period %d exceeds price_window_size %d",
					sub.Name, sub.MALongPeriod, sub.PriceWindowSize)
			}
			if sub.MAShortPeriod > sub.MALongPeriod {
				return fmt.Errorf("trend '%s': ma_short_period %d exceeds ma_long_period %d",
					sub.Name, sub.MAShortPeriod, sub.MALongPeriod)
			}
		case "broadcaster":
			if sub.Enabled && (sub.Port <= 1024 || sub.Port > 65535) {
				return fmt.Errorf("broadcaster '%s': invalid port %d (must be between 1025 and 65535)", sub.Name, sub.Port)
			}
		default:
			return fmt.Errorf("subscriber '%s': unknown type '%s'", sub.Name, sub.Type)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
