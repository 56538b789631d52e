package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv applies environment variable overrides. Unset variables keep the
// values from defaults and earlier options.
//
// Server:
//
//	PORT - Server port (default: "8080")
//	ENVIRONMENT - Runtime environment (default: "development")
//	LOG_LEVEL - debug, info, warn or error (default: "info")
//	API_KEY_SHA256 - enables API key auth on /api routes when set
//
// Database:
//
//	DATABASE_URL - "memory" (default), "postgresql://..." or "sqlite://path"
//	DB_SCHEMA - Postgres search_path (default: "catalog")
//
// Storage:
//
//	STORAGE_URL - one of:
//	  - "memory://" (default)
//	  - "file:///path/to/media"
//	  - "s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true"
//	  - "gs://bucket?cdn=media.example.com"
//	MEDIA_PUBLIC_BASE_URL - prefix of stored asset URLs
//	AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION, AWS_S3_ENDPOINT
//	GCS_CREDENTIALS - service account JSON or path
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithConfigFile reads a YAML, JSON, TOML or .env file. Environment
// variables still take precedence over values in the file.
func WithConfigFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
}

// WithPort overrides the listen port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		c.Port = port
		return nil
	}
}

// WithDatabaseURL selects the record store
func WithDatabaseURL(databaseURL string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = databaseURL
		return nil
	}
}

// WithStorageURL selects the media store
func WithStorageURL(storageURL string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = storageURL
		return nil
	}
}

// WithEventLogging toggles the logging event sink
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}
