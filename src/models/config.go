package models

// MConfig Structure
type MConfig struct {
	Name        string              `yaml:"name"`
	LogLevel    string              `yaml:"log_level"`
	Broker      MBrokerConfig       `yaml:"broker"`
	Serializer  string              `yaml:"serializer"`
	Storage     MStorageConfig      `yaml:"storage"`
	Network     MNetworkConfig      `yaml:"network"`
	DLQ         MDLQConfig          `yaml:"dlq"`
	Publishers  []MPublisherConfig  `yaml:"publishers"`
	Subscribers []MSubscriberConfig `yaml:"subscribers"`
	Health      MHealthConfig       `yaml:"health"`
}

type MBrokerConfig struct {
	Type          string `yaml:"type"` // "memory" or "redis"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	QueueSize     int    `yaml:"queue_size"` // per-subscriber buffer (memory broker)
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"` // "sqlite" or "postgres"
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
}

type MNetworkConfig struct {
	RequestTimeout     int    `yaml:"timeout"`
	MaxRetries         int    `yaml:"retries"`
	ConcurrentRequests int    `yaml:"concurrent_requests"`
	UserAgent          string `yaml:"user_agent"`
}

type MDLQConfig struct {
	DBPath               string `yaml:"db_path"`
	MaxAttempts          int    `yaml:"max_attempts"`
	BaseDelaySeconds     int    `yaml:"base_delay_seconds"`
	RetryIntervalSeconds int    `yaml:"retry_interval_seconds"`
	RetentionHours       int    `yaml:"retention_hours"`
}

type MPublisherConfig struct {
	Name                   string   `yaml:"name"`
	Enabled                bool     `yaml:"enabled"`
	Symbols                []string `yaml:"symbols"`
	BatchSize              int      `yaml:"batch_size"`
	PollIntervalSeconds    int      `yaml:"poll_interval_seconds"`
	RateLimitCalls         int      `yaml:"rate_limit_calls"`
	RateLimitPeriodSeconds int      `yaml:"rate_limit_period_seconds"`
	FetchMaxRetries        int      `yaml:"fetch_max_retries"`
	FetchInterval          string   `yaml:"fetch_interval"` // provider granularity, e.g. "5m"
	MarketHoursOnly        bool     `yaml:"market_hours_only"`
}

type MSubscriberConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // state_tracker, durable_writer, market_breadth, trend, broadcaster
	Enabled bool   `yaml:"enabled"`

	// durable_writer
	FlushSize            int `yaml:"flush_size"`
	FlushIntervalSeconds int `yaml:"flush_interval_seconds"`

	// market_breadth
	UniverseID    string `yaml:"universe_id"`
	WindowSeconds int    `yaml:"window_seconds"`

	// trend
	PriceWindowSize int `yaml:"price_window_size"`
	MAShortPeriod   int `yaml:"ma_short_period"`
	MALongPeriod    int `yaml:"ma_long_period"`

	// broadcaster
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type MHealthConfig struct {
	CheckIntervalSeconds    int    `yaml:"check_interval_seconds"`
	HeartbeatTimeoutSeconds int    `yaml:"heartbeat_timeout_seconds"`
	MaxRestartAttempts      int    `yaml:"max_restart_attempts"`
	DrainGraceSeconds       int    `yaml:"drain_grace_seconds"`
	GrpcEnabled             bool   `yaml:"grpc_enabled"`
	GrpcHost                string `yaml:"grpc_host"`
	GrpcPort                int    `yaml:"grpc_port"`
}
