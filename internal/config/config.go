package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the engine and its tools
type Config struct {
	Gateway GatewayConfig
	Engine  EngineConfig
	Logging LoggingConfig
	Metrics MetricsConfig
	Redis   RedisConfig
	Tracing TracingConfig
	Server  ServerConfig
}

// GatewayConfig holds REST backend client configuration
type GatewayConfig struct {
	BaseURL   string
	StudentID string
	Role      string
	AuthToken string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// EngineConfig holds session engine tuning
type EngineConfig struct {
	SyncInterval      time.Duration
	PositionThreshold float64
	MaxSyncGap        time.Duration
	MilestoneWindow   float64
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds prometheus exporter configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// RedisConfig holds the change relay configuration
type RedisConfig struct {
	Enabled       bool
	Host          string
	Port          int
	Password      string
	DB            int
	ChannelPrefix string
	SnapshotTTL   time.Duration
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// ServerConfig holds the mock REST backend's HTTP configuration
type ServerConfig struct {
	Port                int
	Host                string
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	ShutdownTimeout     time.Duration
	JWTSecret           string
	RateLimit           int
	RateBurst           int
	RateCleanupInterval time.Duration
	RateIdleTimeout     time.Duration
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return unmarshal(v)
}

// Default returns the configuration built from defaults alone
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := unmarshal(v)
	if err != nil {
		// defaults are static; a failure here is a programming error
		panic(err)
	}
	return cfg
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	if c.Engine.SyncInterval <= 0 {
		return fmt.Errorf("engine.syncInterval must be positive, got %s", c.Engine.SyncInterval)
	}
	if c.Engine.PositionThreshold < 0 {
		return fmt.Errorf("engine.positionThreshold must not be negative")
	}
	if c.Engine.MilestoneWindow <= 0 {
		return fmt.Errorf("engine.milestoneWindow must be positive")
	}
	if c.Gateway.Role != "student" && c.Gateway.Role != "teacher" {
		return fmt.Errorf("gateway.role must be student or teacher, got %q", c.Gateway.Role)
	}
	if c.Server.RateLimit > 0 && c.Server.RateCleanupInterval <= 0 {
		return fmt.Errorf("server.rateCleanupInterval must be positive when rate limiting is on")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Gateway defaults
	v.SetDefault("gateway.baseURL", "http://localhost:8080/api")
	v.SetDefault("gateway.studentID", "")
	v.SetDefault("gateway.role", "student")
	v.SetDefault("gateway.authToken", "")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("gateway.rateLimit", 20.0)
	v.SetDefault("gateway.burst", 10)

	// Engine defaults
	v.SetDefault("engine.syncInterval", "5s")
	v.SetDefault("engine.positionThreshold", 1.0)
	v.SetDefault("engine.maxSyncGap", "15s")
	v.SetDefault("engine.milestoneWindow", 1.0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channelPrefix", "lessonplay")
	v.SetDefault("redis.snapshotTTL", "30m")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "lessonplay")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Mock server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.jwtSecret", "")
	v.SetDefault("server.rateLimit", 50)
	v.SetDefault("server.rateBurst", 100)
	v.SetDefault("server.rateCleanupInterval", "1m")
	v.SetDefault("server.rateIdleTimeout", "10m")
}
