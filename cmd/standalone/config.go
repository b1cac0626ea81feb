package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/paperrnint/advent-calendar-be/core"
	"github.com/paperrnint/advent-calendar-be/core/providers"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Core   core.Config       `yaml:",inline"`
	Kakao  *providers.Config `yaml:"kakao,omitempty"`
	Naver  *providers.Config `yaml:"naver,omitempty"`
	Google *providers.Config `yaml:"google,omitempty"`

	DB       DBConfig `yaml:"db"`
	Port     string   `yaml:"port"`
	LogLevel string   `yaml:"log_level"`
}

type DBConfig struct {
	Type        string `yaml:"type"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url"`
}

// loadConfig reads the YAML file at path, then applies environment
// overrides and defaults. A missing file is fine when explicit is false.
func loadConfig(path string, explicit bool) (*AppConfig, error) {
	var config AppConfig

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyEnvOverrides(&config)
	config.applyDefaults()

	if err := config.Core.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyEnvOverrides(config *AppConfig) {
	config.Core.JWT.Secret = getEnv("JWT_SECRET", config.Core.JWT.Secret)
	config.Core.Crypto.EncryptionKey = getEnv("ENCRYPTION_KEY", config.Core.Crypto.EncryptionKey)
	config.Core.FrontendURL = getEnv("FRONTEND_URL", config.Core.FrontendURL)
	config.Port = getEnv("PORT", config.Port)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)

	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.DB.PostgresURL = url
		if config.DB.Type == "" {
			config.DB.Type = "postgres"
		}
	}

	providerSecret(&config.Kakao, "KAKAO_CLIENT_SECRET")
	providerSecret(&config.Naver, "NAVER_CLIENT_SECRET")
	providerSecret(&config.Google, "GOOGLE_CLIENT_SECRET")
}

// providerSecret only fills in secrets for providers present in the file
func providerSecret(cfg **providers.Config, env string) {
	if *cfg == nil {
		return
	}
	(*cfg).ClientSecret = getEnv(env, (*cfg).ClientSecret)
}

func (c *AppConfig) applyDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.DB.Type == "" {
		c.DB.Type = "sqlite"
	}
	if c.DB.SQLitePath == "" {
		c.DB.SQLitePath = "advent.db"
	}
	c.Core.ApplyDefaults()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
