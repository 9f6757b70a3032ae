package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for a raknet-server host
// process. raknet-client takes its settings from flags and does not
// load it.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the server host's listen address, identity, and
// optional persistence backend switches.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	GUID          uint64 `yaml:"guid"`
	MOTD          string `yaml:"motd"`

	UsePostgresAudit bool `yaml:"use_postgres_audit"`
	UseRedisRegistry bool `yaml:"use_redis_registry"`
}

// DatabaseConfig holds PostgreSQL settings for the optional
// connection-audit sink.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds Redis settings for the optional distributed GUID
// registry.
type RedisConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = "0.0.0.0:19132"
	}
	if c.Server.MOTD == "" {
		c.Server.MOTD = "raknet server"
	}

	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 30 * time.Minute
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Server.GUID == 0 {
		return fmt.Errorf("server.guid must be non-zero")
	}

	if c.Server.UsePostgresAudit {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required when use_postgres_audit is set")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("database.dbname is required when use_postgres_audit is set")
		}
	}

	if c.Server.UseRedisRegistry && c.Redis.Host == "" {
		return fmt.Errorf("redis.host is required when use_redis_registry is set")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

// GenerateDefaultConfig returns a Config suitable for writing out as a
// starter file.
func GenerateDefaultConfig(guid uint64) *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "0.0.0.0:19132",
			GUID:          guid,
			MOTD:          "raknet server",
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "raknet",
			DBName:  "raknet",
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			TTL:  30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// WriteConfigFile writes a config struct to a YAML file.
func WriteConfigFile(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
