// Package config loads blogql's layered configuration: built-in defaults, an
// optional YAML file, BLOGQL_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix is stripped from environment variables; "__" separates key levels,
// so BLOGQL_AUTH__JWT_SECRET sets auth.jwt_secret.
const EnvPrefix = "BLOGQL_"

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverBadger   = "badger"
)

// Image drivers.
const (
	ImagesDisk  = "disk"
	ImagesMinio = "minio"
)

type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
	Store    StoreConfig    `koanf:"store"`
	Postgres PostgresConfig `koanf:"postgres"`
	Mongo    MongoConfig    `koanf:"mongo"`
	Badger   BadgerConfig   `koanf:"badger"`
	Images   ImagesConfig   `koanf:"images"`
	Minio    MinioConfig    `koanf:"minio"`
	Tracing  TracingConfig  `koanf:"tracing"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	AllowedOrigin   string        `koanf:"allowed_origin"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// UploadRate is the number of image uploads one user may make per
	// second; 0 disables the limit.
	UploadRate int `koanf:"upload_rate"`
}

type MetricsConfig struct {
	// Addr is the observability listener; empty disables it.
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

type StoreConfig struct {
	Driver string `koanf:"driver"`
	// ConnectRetries bounds the startup connection attempts to a networked store.
	ConnectRetries uint64 `koanf:"connect_retries"`
}

type PostgresConfig struct {
	URL         string `koanf:"url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

type MongoConfig struct {
	URI      string `koanf:"uri"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Cluster  string `koanf:"cluster"`
	Database string `koanf:"database"`
	// Transactions requires a replica set or sharded cluster.
	Transactions bool `koanf:"transactions"`
}

// ConnectionURI returns URI if set, otherwise a mongodb+srv URI assembled
// from the credential and cluster fields.
func (m MongoConfig) ConnectionURI() string {
	if m.URI != "" {
		return m.URI
	}
	u := url.URL{
		Scheme: "mongodb+srv",
		User:   url.UserPassword(m.Username, m.Password),
		Host:   m.Cluster,
		Path:   "/" + m.Database,
	}
	return u.String()
}

type BadgerConfig struct {
	Dir      string `koanf:"dir"`
	InMemory bool   `koanf:"in_memory"`
}

type ImagesConfig struct {
	Driver string `koanf:"driver"`
	Dir    string `koanf:"dir"`
}

type MinioConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
}

type TracingConfig struct {
	// Endpoint is an OTLP/HTTP collector host:port; empty disables export.
	Endpoint string `koanf:"endpoint"`
	Insecure bool   `koanf:"insecure"`
}

// Default returns the configuration used for every key no source sets.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			AllowedOrigin:   "*",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			UploadRate:      2,
		},
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:      LogConfig{Format: "json", Level: "info"},
		Auth:     AuthConfig{Issuer: "blogql"},
		Store:    StoreConfig{Driver: DriverBadger, ConnectRetries: 5},
		Postgres: PostgresConfig{AutoMigrate: true},
		Mongo:    MongoConfig{Database: "messages", Transactions: true},
		Badger:   BadgerConfig{Dir: "data/badger"},
		Images:   ImagesConfig{Driver: ImagesDisk, Dir: "images"},
		Minio:    MinioConfig{Bucket: "images"},
	}
}

// BindFlags registers the command-line overrides on fs.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http.addr", d.HTTP.Addr, "GraphQL HTTP listen address")
	fs.String("metrics.addr", d.Metrics.Addr, "metrics/health listen address (empty = disabled)")
	fs.String("log.format", d.Log.Format, "log format: json or text")
	fs.String("log.level", d.Log.Level, "log level: debug, info, warn or error")
	fs.String("store.driver", d.Store.Driver, "document store: postgres, mongo or badger")
	fs.String("images.driver", d.Images.Driver, "image store: disk or minio")
}

// Load reads the configuration. path and flags may be empty/nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("http.addr is required")
	}
	if c.HTTP.UploadRate < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("http.upload_rate cannot be negative")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.Auth.JWTSecret == "" {
		return oops.Code("CONFIG_INVALID").Errorf("auth.jwt_secret is required")
	}

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Postgres.URL == "" {
			return oops.Code("CONFIG_INVALID").Errorf("postgres.url is required for the postgres store")
		}
	case DriverMongo:
		if c.Mongo.URI == "" && c.Mongo.Cluster == "" {
			return oops.Code("CONFIG_INVALID").Errorf("mongo.uri or mongo.cluster is required for the mongo store")
		}
		if c.Mongo.Database == "" {
			return oops.Code("CONFIG_INVALID").Errorf("mongo.database is required for the mongo store")
		}
	case DriverBadger:
		if c.Badger.Dir == "" && !c.Badger.InMemory {
			return oops.Code("CONFIG_INVALID").Errorf("badger.dir is required unless badger.in_memory is set")
		}
	default:
		return oops.Code("CONFIG_INVALID").Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Images.Driver {
	case ImagesDisk:
		if c.Images.Dir == "" {
			return oops.Code("CONFIG_INVALID").Errorf("images.dir is required for the disk image store")
		}
	case ImagesMinio:
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return oops.Code("CONFIG_INVALID").Errorf("minio.endpoint and minio.bucket are required for the minio image store")
		}
	default:
		return oops.Code("CONFIG_INVALID").Errorf("unknown images.driver %q", c.Images.Driver)
	}
	return nil
}
