package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration of the ledger client, its callback server
// and the CLI.
type Config struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
	MockMode     bool   `mapstructure:"mock_mode"`

	AuthURL    string `mapstructure:"auth_url"`
	TokenURL   string `mapstructure:"token_url"`
	APIBaseURL string `mapstructure:"api_base_url"`

	// EncryptionKey is the master key of the token cipher: 64 hex characters
	// or at least 32 raw bytes.
	EncryptionKey     string        `mapstructure:"encryption_key"`
	TokenExpiryBuffer time.Duration `mapstructure:"token_expiry_buffer"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`

	LogLevel        string `mapstructure:"log_level"`
	LogPretty       bool   `mapstructure:"log_pretty"`
	HTTPAddr        string `mapstructure:"http_addr"`
	OtelServiceName string `mapstructure:"otel_service_name"`

	TokenStore TokenStoreConfig `mapstructure:"token_store"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
}

// StorageType selects the token repository backend.
type StorageType string

const (
	StorageTypeMemory  StorageType = "memory"
	StorageTypeRedis   StorageType = "redis"
	StorageTypeMongoDB StorageType = "mongodb"
	StorageTypeBBolt   StorageType = "bbolt"
)

type TokenStoreConfig struct {
	Backend     StorageType `mapstructure:"backend"`
	RedisAddr   string      `mapstructure:"redis_addr"`
	RedisPrefix string      `mapstructure:"redis_prefix"`
	MongoURI    string      `mapstructure:"mongo_uri"`
	MongoDB     string      `mapstructure:"mongo_db"`
	BBoltPath   string      `mapstructure:"bbolt_path"`
}

// RateLimitConfig holds requests per Window for each operation class.
type RateLimitConfig struct {
	Window time.Duration `mapstructure:"window"`
	Auth   int           `mapstructure:"auth"`
	Data   int           `mapstructure:"data"`
	Report int           `mapstructure:"report"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	// OnlyTransient limits retries to network errors, 5xx and 429.
	OnlyTransient bool `mapstructure:"only_transient"`
}

type ResilienceConfig struct {
	IsolateTenants bool `mapstructure:"isolate_tenants"`
}

// LoadOptions points Load at explicit files. Empty fields use the search
// paths.
type LoadOptions struct {
	ConfigFile string
	DotEnvFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client_id", "")
	v.SetDefault("client_secret", "")
	v.SetDefault("redirect_uri", "http://localhost:8080/oauth/callback")
	v.SetDefault("mock_mode", false)
	v.SetDefault("auth_url", "")
	v.SetDefault("token_url", "")
	v.SetDefault("api_base_url", "")
	v.SetDefault("encryption_key", "")
	v.SetDefault("token_expiry_buffer", "5m")
	v.SetDefault("http_timeout", "30s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("http_addr", "0.0.0.0:8080")
	v.SetDefault("otel_service_name", "ledger")

	v.SetDefault("token_store.backend", string(StorageTypeMemory))
	v.SetDefault("token_store.redis_addr", "localhost:6379")
	v.SetDefault("token_store.redis_prefix", "ledger")
	v.SetDefault("token_store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("token_store.mongo_db", "ledger")
	v.SetDefault("token_store.bbolt_path", "data/ledger-tokens.db")

	v.SetDefault("rate_limit.window", "1s")
	v.SetDefault("rate_limit.auth", 10)
	v.SetDefault("rate_limit.data", 5)
	v.SetDefault("rate_limit.report", 2)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout", "60s")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.only_transient", false)

	v.SetDefault("resilience.isolate_tenants", false)
}

// Load reads ledger.yaml from ., /etc/ledger/ or $HOME/.ledger, a .env file
// from the working directory and LEDGER_* environment variables.
func Load() (*Config, error) {
	return LoadWith(LoadOptions{})
}

// LoadWith is Load with explicit file locations.
func LoadWith(opts LoadOptions) (*Config, error) {
	// A missing .env file is fine; variables may come from the environment.
	if opts.DotEnvFile != "" {
		if err := godotenv.Load(opts.DotEnvFile); err != nil {
			return nil, fmt.Errorf("error reading env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("ledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ledger/")
		v.AddConfigPath("$HOME/.ledger")
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.TokenStore.Backend {
	case StorageTypeMemory, StorageTypeRedis, StorageTypeMongoDB, StorageTypeBBolt:
	default:
		errs = append(errs, fmt.Errorf("unknown token_store.backend %q", c.TokenStore.Backend))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if c.RateLimit.Auth <= 0 || c.RateLimit.Data <= 0 || c.RateLimit.Report <= 0 {
		errs = append(errs, errors.New("rate_limit budgets must be positive"))
	}
	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, errors.New("breaker.failure_threshold must be positive"))
	}
	if c.Breaker.ResetTimeout <= 0 {
		errs = append(errs, errors.New("breaker.reset_timeout must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, errors.New("retry.base_delay must not be negative"))
	}
	if !c.UseMock() && (c.AuthURL == "" || c.TokenURL == "" || c.APIBaseURL == "") {
		errs = append(errs, errors.New("auth_url, token_url and api_base_url are required with live credentials"))
	}
	if c.TokenExpiryBuffer < 0 {
		errs = append(errs, errors.New("token_expiry_buffer must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// UseMock reports whether the client will run against fixtures.
func (c *Config) UseMock() bool {
	return c.MockMode || c.ClientID == "" || c.ClientSecret == ""
}
