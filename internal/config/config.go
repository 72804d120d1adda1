// Package config loads service settings from config.yaml, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every setting of the copier.
type Config struct {
	App struct {
		Name     string `mapstructure:"name"`
		Env      string `mapstructure:"env"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"app"`

	Server struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Marketplace struct {
		BaseURL           string        `mapstructure:"base_url"`
		ClientID          string        `mapstructure:"client_id"`
		ClientSecret      string        `mapstructure:"client_secret"`
		TokenURL          string        `mapstructure:"token_url"`
		RequestTimeout    time.Duration `mapstructure:"request_timeout"`
		CreateTimeout     time.Duration `mapstructure:"create_timeout"`
		RateLimitRetries  int           `mapstructure:"rate_limit_retries"`
		RateLimitBaseWait time.Duration `mapstructure:"rate_limit_base_wait"`
	} `mapstructure:"marketplace"`

	Database struct {
		Path          string `mapstructure:"path"`
		EncryptionKey string `mapstructure:"encryption_key"`
	} `mapstructure:"database"`

	Copy struct {
		MaxAttempts int `mapstructure:"max_attempts"`
		Concurrency int `mapstructure:"concurrency"`
	} `mapstructure:"copy"`

	Compat struct {
		TargetPacing        time.Duration `mapstructure:"target_pacing"`
		UserProductStrategy string        `mapstructure:"user_product_strategy"`
		ProductBatchSize    int           `mapstructure:"product_batch_size"`
	} `mapstructure:"compat"`

	NATS struct {
		URL           string `mapstructure:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"nats"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"metrics"`
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Load reads configuration. configPath may name a YAML file; when empty, config.yaml is
// looked up in the working directory and ./config. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setDefaults(v)
	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "listing-copier")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("marketplace.base_url", "https://api.mercadolibre.com")
	v.SetDefault("marketplace.token_url", "https://api.mercadolibre.com/oauth/token")
	v.SetDefault("marketplace.request_timeout", "30s")
	v.SetDefault("marketplace.create_timeout", "60s")
	v.SetDefault("marketplace.rate_limit_retries", 5)
	v.SetDefault("marketplace.rate_limit_base_wait", "3s")

	v.SetDefault("database.path", "listing-copier.db")

	v.SetDefault("copy.max_attempts", maxCopyAttempts)
	v.SetDefault("copy.concurrency", 1)

	v.SetDefault("compat.target_pacing", "1s")
	v.SetDefault("compat.user_product_strategy", "copy_paste")
	v.SetDefault("compat.product_batch_size", 100)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "listingcopy")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("app.env", "APP_ENV")
	_ = v.BindEnv("app.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.port", "PORT", "SERVER_PORT")
	_ = v.BindEnv("marketplace.client_id", "ML_CLIENT_ID", "MARKETPLACE_CLIENT_ID")
	_ = v.BindEnv("marketplace.client_secret", "ML_CLIENT_SECRET", "MARKETPLACE_CLIENT_SECRET")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
	_ = v.BindEnv("database.encryption_key", "ENCRYPTION_KEY", "DATABASE_ENCRYPTION_KEY")
	_ = v.BindEnv("nats.url", "NATS_URL")
}

// maxCopyAttempts caps create submissions per item and destination.
const maxCopyAttempts = 4

func (c *Config) validate() error {
	if c.Copy.MaxAttempts < 1 || c.Copy.MaxAttempts > maxCopyAttempts {
		return fmt.Errorf("copy.max_attempts must be between 1 and %d, got %d", maxCopyAttempts, c.Copy.MaxAttempts)
	}
	if c.Copy.Concurrency < 1 {
		return fmt.Errorf("copy.concurrency must be at least 1, got %d", c.Copy.Concurrency)
	}
	switch c.Compat.UserProductStrategy {
	case "copy_paste", "product_list":
	default:
		return fmt.Errorf("compat.user_product_strategy must be copy_paste or product_list, got %q", c.Compat.UserProductStrategy)
	}
	if c.Compat.ProductBatchSize < 1 {
		return fmt.Errorf("compat.product_batch_size must be at least 1, got %d", c.Compat.ProductBatchSize)
	}
	return nil
}
