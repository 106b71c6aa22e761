package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Vertex   VertexConfig   `mapstructure:"vertex"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address for the configured port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort("", strings.TrimPrefix(s.Port, ":"))
}

type VertexConfig struct {
	ProjectID           string        `mapstructure:"project_id"`
	Location            string        `mapstructure:"location"`
	EndpointID          string        `mapstructure:"endpoint_id"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	MaxPredictions      int           `mapstructure:"max_predictions"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
}

// RedisConfig enables rate limiting when Addr is set and RateLimit is positive.
type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	RateLimit  int64         `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// DatabaseConfig enables the prediction audit log when DSN is set.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

var envBindings = map[string][]string{
	"server.port":                 {"PORT"},
	"server.mode":                 {"GIN_MODE"},
	"server.max_body_bytes":       {"MAX_BODY_BYTES"},
	"server.shutdown_timeout":     {"SHUTDOWN_TIMEOUT"},
	"vertex.project_id":           {"GCP_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"},
	"vertex.location":             {"VERTEX_LOCATION"},
	"vertex.endpoint_id":          {"VERTEX_ENDPOINT_ID"},
	"vertex.confidence_threshold": {"VERTEX_CONFIDENCE_THRESHOLD"},
	"vertex.max_predictions":      {"VERTEX_MAX_PREDICTIONS"},
	"vertex.request_timeout":      {"VERTEX_REQUEST_TIMEOUT"},
	"redis.addr":                  {"REDIS_ADDR"},
	"redis.password":              {"REDIS_PASSWORD"},
	"redis.db":                    {"REDIS_DB"},
	"redis.rate_limit":            {"RATE_LIMIT_REQUESTS"},
	"redis.rate_window":           {"RATE_LIMIT_WINDOW"},
	"database.dsn":                {"DATABASE_DSN"},
	"log.level":                   {"LOG_LEVEL"},
	"log.file":                    {"LOG_FILE"},
}

// Load reads defaults, the optional YAML file at path and the environment,
// in increasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every setting the relay cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Mode {
	case "", gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		errs = append(errs, fmt.Errorf("server.mode must be one of debug, release, test (GIN_MODE), got %q", c.Server.Mode))
	}
	if strings.TrimSpace(c.Vertex.ProjectID) == "" && !strings.HasPrefix(c.Vertex.EndpointID, "projects/") {
		errs = append(errs, errors.New("vertex.project_id is required (GCP_PROJECT_ID)"))
	}
	if strings.TrimSpace(c.Vertex.EndpointID) == "" {
		errs = append(errs, errors.New("vertex.endpoint_id is required (VERTEX_ENDPOINT_ID)"))
	}
	if c.Vertex.ConfidenceThreshold < 0 || c.Vertex.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("vertex.confidence_threshold must be within [0,1], got %v", c.Vertex.ConfidenceThreshold))
	}
	if c.Vertex.MaxPredictions < 1 {
		errs = append(errs, fmt.Errorf("vertex.max_predictions must be at least 1, got %d", c.Vertex.MaxPredictions))
	}
	if c.Redis.RateLimit > 0 && c.Redis.RateWindow <= 0 {
		errs = append(errs, errors.New("redis.rate_window must be positive when rate limiting is enabled"))
	}
	return errors.Join(errs...)
}

// RateLimitEnabled reports whether a Redis-backed limiter should be installed.
func (c *Config) RateLimitEnabled() bool {
	return c.Redis.Addr != "" && c.Redis.RateLimit > 0
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("vertex.location", "us-central1")
	v.SetDefault("vertex.confidence_threshold", 0.5)
	v.SetDefault("vertex.max_predictions", 5)
	v.SetDefault("vertex.request_timeout", time.Duration(0))

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.rate_limit", 0)
	v.SetDefault("redis.rate_window", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}
