package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultInterviewerURL is used when no interviewer base URL is configured.
const DefaultInterviewerURL = "http://localhost:8004"

// Load reads configuration from an optional .env file, an optional
// configs/config.yaml and the environment, in increasing precedence.
// DATABASE_URL, REDIS_ADDRESS, INTERVIEWER_BASE_URL and friends override the
// nested keys.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.service_key", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("interviewer.base_url", DefaultInterviewerURL)
	v.SetDefault("interviewer.timeout", 30*time.Second)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.status_ttl", 30*time.Second)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.region", "us-east-1")
	v.SetDefault("notifications.sender_id", "")
	v.SetDefault("notifications.poll_interval", 2*time.Second)
	v.SetDefault("notifications.batch_size", 10)
	v.SetDefault("notifications.max_attempts", 5)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "broker-onboarding")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", 0.1)
}

// Validate reports the first configuration problem that would stop the service from starting.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Interviewer.BaseURL == "" {
		c.Interviewer.BaseURL = DefaultInterviewerURL
	}
	if c.Interviewer.Timeout <= 0 {
		return fmt.Errorf("interviewer.timeout must be positive, got %s", c.Interviewer.Timeout)
	}
	if c.Cache.Enabled && c.Redis.Address == "" {
		return errors.New("redis.address is required when cache.enabled is set")
	}
	if c.Notifications.Enabled {
		if c.Notifications.Region == "" {
			return errors.New("notifications.region is required when notifications are enabled")
		}
		if c.Notifications.BatchSize <= 0 || c.Notifications.MaxAttempts <= 0 {
			return errors.New("notifications.batch_size and notifications.max_attempts must be positive")
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1], got %g", c.Tracing.SampleRatio)
	}
	return nil
}

func loadEnvFile() {
	paths := []string{".env", "../.env", "../../.env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
