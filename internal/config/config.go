// Package config manages picstash server configuration. Settings come
// from a TOML file overridden by PICSTASH_* environment variables, and
// everything has a usable default; the only setting without one is the
// AI credential, whose absence puts the analysis gateway in degraded
// mode rather than failing startup.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full server configuration.
type Config struct {
	Listen         string `toml:"listen"`
	StorageURL     string `toml:"storage_url"`
	MetaURL        string `toml:"meta_url"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
	AdminToken     string `toml:"admin_token"`
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"`

	AI AIConfig `toml:"ai"`
	S3 S3Config `toml:"s3"`
}

// AIConfig points the analysis gateway at an OpenAI-compatible endpoint.
type AIConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// S3Config is only consulted when storage_url uses the s3 scheme.
type S3Config struct {
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Listen:         "0.0.0.0:8708",
		StorageURL:     "file:///var/lib/picstash/blobs",
		MetaURL:        "bolt:///var/lib/picstash/meta.db",
		MaxUploadBytes: 10 * 1024 * 1024,
		LogLevel:       "info",
		LogFormat:      "json",
		AI: AIConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-4o-mini",
		},
	}
}

// Load builds the configuration: defaults, then the TOML file at path
// (skipped when path is empty or the file does not exist), then
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Listen, "PICSTASH_LISTEN")
	setString(&c.StorageURL, "PICSTASH_STORAGE_URL")
	setString(&c.MetaURL, "PICSTASH_META_URL")
	setString(&c.AdminToken, "PICSTASH_ADMIN_TOKEN")
	setString(&c.LogLevel, "PICSTASH_LOG_LEVEL")
	setString(&c.LogFormat, "PICSTASH_LOG_FORMAT")

	setString(&c.AI.BaseURL, "PICSTASH_AI_BASE_URL")
	setString(&c.AI.APIKey, "PICSTASH_AI_API_KEY")
	setString(&c.AI.Model, "PICSTASH_AI_MODEL")

	setString(&c.S3.Region, "PICSTASH_S3_REGION")
	setString(&c.S3.Endpoint, "PICSTASH_S3_ENDPOINT")
	setString(&c.S3.AccessKey, "PICSTASH_S3_ACCESS_KEY")
	setString(&c.S3.SecretKey, "PICSTASH_S3_SECRET_KEY")

	if v := os.Getenv("PICSTASH_MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid PICSTASH_MAX_UPLOAD_BYTES: %q", v)
		}
		c.MaxUploadBytes = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
