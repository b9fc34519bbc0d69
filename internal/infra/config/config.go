package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Connector ConnectorConfig `mapstructure:"connector"`
	Audit     AuditConfig     `mapstructure:"audit"`

	ServiceVersion string
	BuildCommit    string
}

type ServerConfig struct {
	Port int    `mapstructure:"port" validate:"required,gte=1024,lte=65535"`
	Mode string `mapstructure:"mode" validate:"required,oneof=development production"`

	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// SecretsConfig selects and parameterizes the master key provider. The
// passphrase itself comes only from the environment, never the file.
type SecretsConfig struct {
	Provider string `mapstructure:"provider" validate:"required,oneof=local aws-kms"`
	KDFSalt  string `mapstructure:"kdf_salt" validate:"required_if=Provider local"`

	AWS AWSKMSConfig `mapstructure:"aws"`

	// MasterPassphrase is populated from ATTRIQ_MASTER_PASSPHRASE.
	MasterPassphrase string `mapstructure:"-"`
}

type AWSKMSConfig struct {
	Region        string `mapstructure:"region"`
	KMSKeyARN     string `mapstructure:"kms_key_arn"`
	WrappedKeyB64 string `mapstructure:"wrapped_key"`
}

// CacheConfig carries the per-tier TTL overrides.
type CacheConfig struct {
	PublicTTL       time.Duration `mapstructure:"public_ttl"`
	InternalTTL     time.Duration `mapstructure:"internal_ttl"`
	ConfidentialTTL time.Duration `mapstructure:"confidential_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type ConnectorConfig struct {
	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
	BreakerInterval    time.Duration `mapstructure:"breaker_interval"`
}

type AuditConfig struct {
	Async             bool          `mapstructure:"async"`
	ChannelBufferSize int           `mapstructure:"channel_buffer_size"`
	WorkerCount       int           `mapstructure:"worker_count"`
	BatchSize         int           `mapstructure:"batch_size"`
	BatchTimeout      time.Duration `mapstructure:"batch_timeout"`
}

func Load(path string) (*Config, error) {
	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("config")
		vip.AddConfigPath("./configs")
		vip.AddConfigPath(".")
	}

	vip.SetConfigType("yaml")
	vip.SetEnvPrefix("ATTRIQ")
	vip.AutomaticEnv()
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	vip.SetDefault("server.port", 8085)
	vip.SetDefault("server.mode", "development")
	vip.SetDefault("secrets.provider", "local")
	vip.SetDefault("secrets.kdf_salt", "attriq-pip-v1")
	vip.SetDefault("cache.public_ttl", "1h")
	vip.SetDefault("cache.internal_ttl", "30m")
	vip.SetDefault("cache.confidential_ttl", "5m")
	vip.SetDefault("cache.cleanup_interval", "10m")
	vip.SetDefault("connector.call_timeout", "5s")
	vip.SetDefault("audit.async", true)
	vip.SetDefault("audit.channel_buffer_size", 1024)
	vip.SetDefault("audit.worker_count", 2)
	vip.SetDefault("audit.batch_size", 64)
	vip.SetDefault("audit.batch_timeout", "1s")

	if err := vip.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Secrets.MasterPassphrase = os.Getenv("ATTRIQ_MASTER_PASSPHRASE")
	if cfg.Secrets.Provider == "local" && cfg.Secrets.MasterPassphrase == "" {
		return nil, fmt.Errorf("ATTRIQ_MASTER_PASSPHRASE must be set when secrets.provider is local")
	}

	if cfg.Secrets.Provider == "aws-kms" {
		if cfg.Secrets.AWS.Region == "" || cfg.Secrets.AWS.KMSKeyARN == "" || cfg.Secrets.AWS.WrappedKeyB64 == "" {
			return nil, fmt.Errorf("secrets.aws.region, kms_key_arn, and wrapped_key are required when secrets.provider is aws-kms")
		}
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.ServiceVersion = getenv("ATTRIQ_SERVICE_VERSION", "unknown")
	cfg.BuildCommit = getenv("ATTRIQ_BUILD_COMMIT", "unknown")

	return &cfg, nil
}

// getenv returns an environment variable or a default value.
func getenv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
