package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Secbot   SecbotConfig
	Gitlab   GitlabConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds broker connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SecbotConfig holds workflow runtime settings
type SecbotConfig struct {
	// Path to the workflow YAML (components, jobs, rules)
	ConfigPath string
	// Timeout applied to every outbound vendor HTTP call
	HTTPTimeout time.Duration
}

// GitlabConfig holds the known GitLab instances
type GitlabConfig struct {
	Instances []GitlabInstance
}

// GitlabInstance describes one GitLab deployment secbot accepts webhooks from
type GitlabInstance struct {
	Host               string `json:"host"`
	WebhookSecretToken string `json:"webhook_secret_token"`
	AuthToken          string `json:"auth_token"`
	Prefix             string `json:"prefix"`
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "secbot"),
			User:        getEnv("POSTGRES_USER", "secbot"),
			Password:    getEnv("POSTGRES_PASSWORD", "secbot"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Secbot: SecbotConfig{
			ConfigPath:  getEnv("SECBOT_CONFIG", "config.yml"),
			HTTPTimeout: getEnvDuration("SECBOT_HTTP_TIMEOUT", 6*time.Minute),
		},
	}

	instances, err := loadGitlabInstances()
	if err != nil {
		return nil, err
	}
	cfg.Gitlab.Instances = instances

	return cfg, cfg.Validate()
}

// loadGitlabInstances parses GITLAB_CONFIGS, a JSON array of instance objects:
// [{"host":"gitlab.example.com","webhook_secret_token":"...","auth_token":"...","prefix":"gl"}]
func loadGitlabInstances() ([]GitlabInstance, error) {
	raw := os.Getenv("GITLAB_CONFIGS")
	if raw == "" {
		return nil, nil
	}
	var instances []GitlabInstance
	if err := json.Unmarshal([]byte(raw), &instances); err != nil {
		return nil, fmt.Errorf("parse GITLAB_CONFIGS: %w", err)
	}
	return instances, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	for i, inst := range c.Gitlab.Instances {
		if inst.Host == "" || inst.Prefix == "" {
			return fmt.Errorf("gitlab instance %d: host and prefix are required", i)
		}
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// GitlabByHost returns the instance settings for a webhook's source host
func (c *Config) GitlabByHost(host string) (*GitlabInstance, bool) {
	for i := range c.Gitlab.Instances {
		if c.Gitlab.Instances[i].Host == host {
			return &c.Gitlab.Instances[i], true
		}
	}
	return nil, false
}

// WebhookTokens returns every configured webhook secret token
func (c *Config) WebhookTokens() []string {
	tokens := make([]string, 0, len(c.Gitlab.Instances))
	for _, inst := range c.Gitlab.Instances {
		tokens = append(tokens, inst.WebhookSecretToken)
	}
	return tokens
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
