package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the service configuration loaded from flags, environment
// variables, .env files and an optional YAML config file.
type Config struct {
	Port            string
	DatabaseURL     string
	LogMode         string
	LogLevel        string
	LogRedact       bool
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration

	// ConfigFile is the config file actually read, if any.
	ConfigFile string
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "./bitespeed.db")
	v.SetDefault("log_mode", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_redact", false)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("request_timeout", 15*time.Second)
}

// Load resolves configuration in order of precedence:
// 1. Flags bound to v by the caller
// 2. Environment variables
// 3. .env files
// 4. Config file (explicit path, else .bitespeed.yaml in cwd or home)
// 5. Defaults
func Load(v *viper.Viper, configFile string) (*Config, error) {
	loadEnvFiles()

	SetDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(".bitespeed")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Port:            v.GetString("port"),
		DatabaseURL:     v.GetString("database_url"),
		LogMode:         v.GetString("log_mode"),
		LogLevel:        v.GetString("log_level"),
		LogRedact:       v.GetBool("log_redact"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		RequestTimeout:  v.GetDuration("request_timeout"),
		ConfigFile:      v.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("port must not be empty")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("database_url must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// .env.local overrides .env; neither is required.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}
