package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jaywantadh/syncly/pkg/logging"
	"github.com/jaywantadh/syncly/pkg/validator"
)

// EnvPrefix prefixes every environment override, e.g. SYNCLY_STORE_TYPE.
const EnvPrefix = "SYNCLY"

// AppConfig holds the application-level configuration
type AppConfig struct {
	Log      Log      `mapstructure:"log" validate:"required"`
	Transfer Transfer `mapstructure:"transfer" validate:"required"`
	Store    Store    `mapstructure:"store" validate:"required"`
	Manifest Manifest `mapstructure:"manifest" validate:"required"`
	Server   Server   `mapstructure:"server" validate:"required"`
}

type Log struct {
	Level  string `mapstructure:"level" validate:"required,oneof=trace debug info warn warning error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

type Transfer struct {
	ChunkSize    int64         `mapstructure:"chunk_size" validate:"gte=1,lte=1073741824"`
	Concurrency  int           `mapstructure:"concurrency" validate:"gte=1,lte=64"`
	Retries      int           `mapstructure:"retries" validate:"gte=0,lte=20"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`
}

type Store struct {
	Type     string     `mapstructure:"type" validate:"required,oneof=local memory s3 storj"`
	Compress bool       `mapstructure:"compress"`
	Local    LocalStore `mapstructure:"local"`
	S3       S3Store    `mapstructure:"s3"`
	Storj    StorjStore `mapstructure:"storj"`
}

type LocalStore struct {
	Root       string `mapstructure:"root"`
	QuotaBytes int64  `mapstructure:"quota_bytes" validate:"gte=0"`
}

type S3Store struct {
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint" validate:"omitempty,url"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type StorjStore struct {
	AccessGrant string `mapstructure:"access_grant"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
}

type Manifest struct {
	Backend  string        `mapstructure:"backend" validate:"required,oneof=badger file sqlite"`
	Path     string        `mapstructure:"path" validate:"required"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

type Server struct {
	Port int `mapstructure:"port" validate:"gte=1,lte=65535"`
}

var Config *AppConfig

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("transfer.chunk_size", 4<<20)
	v.SetDefault("transfer.concurrency", 4)
	v.SetDefault("transfer.retries", 0)
	v.SetDefault("transfer.retry_backoff", 500*time.Millisecond)

	v.SetDefault("store.type", "local")
	v.SetDefault("store.compress", false)
	v.SetDefault("store.local.root", "./data/objects")
	v.SetDefault("store.local.quota_bytes", 0)
	v.SetDefault("store.s3.bucket", "")
	v.SetDefault("store.s3.prefix", "")
	v.SetDefault("store.s3.region", "")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.use_path_style", false)
	v.SetDefault("store.storj.access_grant", "")
	v.SetDefault("store.storj.bucket", "")
	v.SetDefault("store.storj.prefix", "")

	v.SetDefault("manifest.backend", "badger")
	v.SetDefault("manifest.path", "./data/manifests")
	v.SetDefault("manifest.cache_ttl", time.Duration(0))

	v.SetDefault("server.port", 8080)
}

// LoadConfig reads config.yaml from path (if present), applies SYNCLY_*
// environment overrides and validates the result. The loaded config is also
// stored in Config.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logging.Get().WithField("path", path).Debug("no config file found, using defaults")
	} else {
		logging.Get().WithField("file", v.ConfigFileUsed()).Debug("config file loaded")
	}

	var appConfig AppConfig
	if err := v.Unmarshal(&appConfig); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, err
	}

	Config = &appConfig
	return &appConfig, nil
}

// Validate checks field constraints and the settings each store type needs.
func (c *AppConfig) Validate() error {
	if err := validator.Validate(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Store.Type {
	case "local":
		if c.Store.Local.Root == "" {
			return errors.New("invalid config: store.local.root is required")
		}
	case "s3":
		if c.Store.S3.Bucket == "" {
			return errors.New("invalid config: store.s3.bucket is required")
		}
	case "storj":
		if c.Store.Storj.AccessGrant == "" || c.Store.Storj.Bucket == "" {
			return errors.New("invalid config: store.storj.access_grant and store.storj.bucket are required")
		}
	}
	return nil
}
