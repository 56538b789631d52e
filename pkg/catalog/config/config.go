// Package config loads server configuration and wires a catalog Service
// from it.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-catalog/pkg/catalog"
	"github.com/tendant/simple-catalog/pkg/catalog/assetkey"
	fsmedia "github.com/tendant/simple-catalog/pkg/catalog/media/fs"
	gcsmedia "github.com/tendant/simple-catalog/pkg/catalog/media/gcs"
	memorymedia "github.com/tendant/simple-catalog/pkg/catalog/media/memory"
	s3media "github.com/tendant/simple-catalog/pkg/catalog/media/s3"
	"github.com/tendant/simple-catalog/pkg/catalog/records/memory"
	"github.com/tendant/simple-catalog/pkg/catalog/records/postgres"
	"github.com/tendant/simple-catalog/pkg/catalog/records/sqlite"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:               "8080",
		Environment:        "development",
		LogLevel:           "info",
		DatabaseURL:        "memory",
		DBSchema:           "catalog",
		StorageURL:         "memory://",
		EnableEventLogging: true,
		AWS: AWSConfig{
			Region: "us-east-1",
		},
	}
}

// ServerConfig represents configuration for the catalog server.
// Fields carry cleanenv tags so the same struct reads from the
// environment and from config files.
type ServerConfig struct {
	Port        string `yaml:"port" env:"PORT"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"` // development, production, testing
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`

	// DatabaseURL selects the record store: "memory", "postgres://...",
	// "postgresql://..." or "sqlite://path"
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	DBSchema    string `yaml:"db_schema" env:"DB_SCHEMA"` // Postgres schema to use

	// StorageURL selects the media store: "memory://", "file:///dir",
	// "s3://bucket?region=&endpoint=&path_style=" or "gs://bucket?cdn=".
	// Any of them accepts keys=sharded to spread asset ids over shard dirs.
	StorageURL string `yaml:"storage_url" env:"STORAGE_URL"`
	// MediaPublicBaseURL overrides the prefix of asset URLs stored on records
	MediaPublicBaseURL string `yaml:"media_public_base_url" env:"MEDIA_PUBLIC_BASE_URL"`

	APIKeySHA256       string `yaml:"api_key_sha256" env:"API_KEY_SHA256"`
	StreamingUploads   bool   `yaml:"streaming_uploads" env:"STREAMING_UPLOADS"`
	EnableEventLogging bool   `yaml:"enable_event_logging" env:"ENABLE_EVENT_LOGGING"`

	AWS AWSConfig `yaml:"aws"`
	GCS GCSConfig `yaml:"gcs"`
}

// AWSConfig holds S3 credentials. Values in the storage URL query win.
type AWSConfig struct {
	AccessKeyID     string `yaml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	Region          string `yaml:"region" env:"AWS_REGION"`
	Endpoint        string `yaml:"endpoint" env:"AWS_S3_ENDPOINT"`
	UsePathStyle    bool   `yaml:"use_path_style" env:"AWS_S3_USE_PATH_STYLE"`
}

// GCSConfig holds Google Cloud Storage credentials
type GCSConfig struct {
	// Credentials is a service account JSON document or a path to one
	Credentials string `yaml:"credentials" env:"GCS_CREDENTIALS"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}

	if _, _, err := c.database(); err != nil {
		return err
	}
	if _, err := c.storage(); err != nil {
		return err
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.LogLevel)
	}
	return nil
}

// DatabaseType reports which record store the configuration selects:
// "memory", "postgres" or "sqlite"
func (c *ServerConfig) DatabaseType() string {
	kind, _, _ := c.database()
	return kind
}

// StorageType reports which media store the configuration selects:
// "memory", "fs", "s3" or "gcs"
func (c *ServerConfig) StorageType() string {
	target, err := c.storage()
	if err != nil {
		return ""
	}
	return target.kind
}

// MediaDir returns the directory of a filesystem media store, if any.
// The server exposes it under MediaURLPrefix.
func (c *ServerConfig) MediaDir() (string, bool) {
	target, err := c.storage()
	if err != nil || target.kind != "fs" {
		return "", false
	}
	return target.location, true
}

// MediaURLPrefix is the URL path filesystem assets are served under
func (c *ServerConfig) MediaURLPrefix() string {
	if c.MediaPublicBaseURL != "" {
		return strings.TrimSuffix(c.MediaPublicBaseURL, "/")
	}
	return "/media"
}

func (c *ServerConfig) database() (string, string, error) {
	dbURL := strings.TrimSpace(c.DatabaseURL)
	switch {
	case dbURL == "" || dbURL == "memory":
		return "memory", "", nil
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		return "postgres", dbURL, nil
	case strings.HasPrefix(dbURL, "sqlite://"):
		path := strings.TrimPrefix(dbURL, "sqlite://")
		if path == "" {
			return "", "", errors.New("sqlite path cannot be empty in DATABASE_URL")
		}
		return "sqlite", path, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'postgresql://...' or 'sqlite://...')", dbURL)
	}
}

type storageTarget struct {
	kind     string
	location string // bucket or directory
	query    url.Values
}

func (c *ServerConfig) storage() (storageTarget, error) {
	raw := strings.TrimSpace(c.StorageURL)
	if raw == "" || raw == "memory" {
		return storageTarget{kind: "memory"}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return storageTarget{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	if _, err := assetkey.ByName(u.Query().Get("keys")); err != nil {
		return storageTarget{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
	}

	switch u.Scheme {
	case "memory":
		return storageTarget{kind: "memory", query: u.Query()}, nil
	case "file":
		// file:///abs/dir and file://./rel/dir
		path := u.Host + u.Path
		if path == "" {
			return storageTarget{}, errors.New("filesystem path cannot be empty in STORAGE_URL")
		}
		return storageTarget{kind: "fs", location: path, query: u.Query()}, nil
	case "s3":
		if u.Host == "" {
			return storageTarget{}, errors.New("S3 bucket name cannot be empty in STORAGE_URL")
		}
		return storageTarget{kind: "s3", location: u.Host, query: u.Query()}, nil
	case "gs":
		if u.Host == "" {
			return storageTarget{}, errors.New("GCS bucket name cannot be empty in STORAGE_URL")
		}
		return storageTarget{kind: "gcs", location: u.Host, query: u.Query()}, nil
	default:
		return storageTarget{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', 's3://...' or 'gs://...')", raw)
	}
}

// BuildService creates a Service from the configuration. The returned
// cleanup func releases database pools and storage clients.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (catalog.Service, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	records, closeRecords, err := c.buildRecordStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build record store: %w", err)
	}
	closers = append(closers, closeRecords)

	media, closeMedia, err := c.buildMediaStore(ctx)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to build media store: %w", err)
	}
	closers = append(closers, closeMedia)

	options := []catalog.Option{
		catalog.WithRecordStore(records),
		catalog.WithMediaStore(media),
		catalog.WithLogger(logger),
	}
	if c.EnableEventLogging {
		options = append(options, catalog.WithEventSink(catalog.NewLogEventSink(logger)))
	}

	svc, err := catalog.New(options...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

func (c *ServerConfig) buildRecordStore(ctx context.Context) (catalog.RecordStore, func(), error) {
	kind, dsn, err := c.database()
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		repo, err := sqlite.Open(dsn)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	case "postgres":
		pool, err := NewPostgresPool(ctx, dsn, c.DBSchema)
		if err != nil {
			return nil, nil, err
		}
		repo := postgres.NewWithPool(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", kind)
	}
}

// NewPostgresPool opens a pool whose sessions use schema as search_path and
// verifies connectivity. It fails if the schema does not exist.
func NewPostgresPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

func (c *ServerConfig) buildMediaStore(ctx context.Context) (catalog.MediaStore, func(), error) {
	target, err := c.storage()
	if err != nil {
		return nil, nil, err
	}
	keys, err := assetkey.ByName(target.query.Get("keys"))
	if err != nil {
		return nil, nil, err
	}

	switch target.kind {
	case "memory":
		opts := []memorymedia.Option{memorymedia.WithKeyGenerator(keys)}
		if c.MediaPublicBaseURL != "" {
			opts = append(opts, memorymedia.WithBaseURL(c.MediaPublicBaseURL))
		}
		return memorymedia.New(opts...), func() {}, nil

	case "fs":
		store, err := fsmedia.New(fsmedia.Config{
			BaseDir:   target.location,
			URLPrefix: c.MediaURLPrefix(),
			Keys:      keys,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case "s3":
		s3cfg := c.s3Config(target)
		s3cfg.Keys = keys
		store, err := s3media.New(s3cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case "gcs":
		store, err := gcsmedia.New(ctx, gcsmedia.Config{
			Bucket:      target.location,
			CDNDomain:   target.query.Get("cdn"),
			Credentials: c.GCS.Credentials,
			Keys:        keys,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage backend type: %s", target.kind)
	}
}

func (c *ServerConfig) s3Config(target storageTarget) s3media.Config {
	q := target.query
	cfg := s3media.Config{
		Bucket:                 target.location,
		Region:                 getString(q, "region", c.AWS.Region),
		AccessKeyID:            c.AWS.AccessKeyID,
		SecretAccessKey:        c.AWS.SecretAccessKey,
		Endpoint:               getString(q, "endpoint", c.AWS.Endpoint),
		UsePathStyle:           getBool(q, "path_style", c.AWS.UsePathStyle),
		PublicBaseURL:          c.MediaPublicBaseURL,
		EnableSSE:              getBool(q, "sse", false),
		SSEAlgorithm:           getString(q, "sse_algorithm", "AES256"),
		SSEKMSKeyID:            getString(q, "sse_kms_key_id", ""),
		CreateBucketIfNotExist: getBool(q, "create_bucket", false),
	}
	return cfg
}

func getString(q url.Values, key, defaultValue string) string {
	if v := q.Get(key); v != "" {
		return v
	}
	return defaultValue
}

func getBool(q url.Values, key string, defaultValue bool) bool {
	if v := q.Get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
