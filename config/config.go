package config

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DependencyConfig describes one external AI service and its breaker
// thresholds. Durations are strings ("30s") parsed at wiring time.
type DependencyConfig struct {
	Name                  string  `mapstructure:"name"`
	Category              string  `mapstructure:"category"`
	BaseURL               string  `mapstructure:"base_url"`
	RelayPath             string  `mapstructure:"relay_path"`
	HealthPath            string  `mapstructure:"health_path"`
	FailureThreshold      int     `mapstructure:"failure_threshold"`
	SuccessThreshold      int     `mapstructure:"success_threshold"`
	Timeout               string  `mapstructure:"timeout"`
	ResetTimeout          string  `mapstructure:"reset_timeout"`
	WindowSize            string  `mapstructure:"window_size"`
	WindowBuckets         int     `mapstructure:"window_buckets"`
	SlowCallDuration      string  `mapstructure:"slow_call_duration"`
	SlowCallRateThreshold float64 `mapstructure:"slow_call_rate_threshold"`
	Fallback              string  `mapstructure:"fallback"`
}

type RetryConfig struct {
	MaxRetries int    `mapstructure:"max_retries"`
	BaseDelay  string `mapstructure:"base_delay"`
	MaxDelay   string `mapstructure:"max_delay"`
}

// RateLimitRule is one row of the category x tier quota table.
type RateLimitRule struct {
	Category string `mapstructure:"category"`
	Tier     string `mapstructure:"tier"`
	Limit    int    `mapstructure:"limit"`
	Window   string `mapstructure:"window"`
}

type RateLimitConfig struct {
	Rules         []RateLimitRule `mapstructure:"rules"`
	DefaultLimit  int             `mapstructure:"default_limit"`
	DefaultWindow string          `mapstructure:"default_window"`
}

type HealthConfig struct {
	ProbeInterval string `mapstructure:"probe_interval"`
	ProbeTimeout  string `mapstructure:"probe_timeout"`
	CacheTTL      string `mapstructure:"cache_ttl"`
}

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Dependencies []DependencyConfig `mapstructure:"dependencies"`
	Retry        RetryConfig        `mapstructure:"retry"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Health       HealthConfig       `mapstructure:"health"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("logging.level", LogLevelInfo)
	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.base_delay", "500ms")
	viper.SetDefault("retry.max_delay", "10s")
	viper.SetDefault("rate_limit.default_limit", 30)
	viper.SetDefault("rate_limit.default_window", "1m")
	viper.SetDefault("health.probe_interval", "15s")
	viper.SetDefault("health.probe_timeout", "5s")
	viper.SetDefault("health.cache_ttl", "30s")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Error("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Dependencies,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateDependencyConfig)),
		),
		validation.Field(&c.Retry,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RetryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RetryConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.MaxRetries, validation.Min(0)),
					validation.Field(&rc.BaseDelay, validation.Required, validation.By(validateDuration)),
					validation.Field(&rc.MaxDelay, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.RateLimit,
			validation.By(func(value interface{}) error {
				rl, ok := value.(RateLimitConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RateLimitConfig")
				}
				return validation.ValidateStruct(&rl,
					validation.Field(&rl.DefaultLimit, validation.Required, validation.Min(1)),
					validation.Field(&rl.DefaultWindow, validation.Required, validation.By(validateDuration)),
					validation.Field(&rl.Rules, validation.Each(validation.By(validateRateLimitRule))),
				)
			}),
		),
		validation.Field(&c.Health,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.ProbeInterval, validation.Required, validation.By(validateDuration)),
					validation.Field(&hc.ProbeTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&hc.CacheTTL, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateDependencyConfig(value interface{}) error {
	dep, ok := value.(DependencyConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a DependencyConfig")
	}

	if dep.Name == "" {
		return validation.NewError("validation_empty_name", "dependency name cannot be empty")
	}

	if dep.BaseURL == "" {
		return validation.NewError("validation_empty_url", "dependency base URL cannot be empty")
	}

	parsedURL, err := url.Parse(dep.BaseURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if dep.FailureThreshold < 0 || dep.SuccessThreshold < 0 || dep.WindowBuckets < 0 {
		return validation.NewError("validation_negative_threshold", "thresholds cannot be negative")
	}

	if dep.SlowCallRateThreshold < 0 || dep.SlowCallRateThreshold > 1 {
		return validation.NewError("validation_invalid_rate", "slow call rate threshold must be between 0 and 1")
	}

	for _, d := range []string{dep.Timeout, dep.ResetTimeout, dep.WindowSize, dep.SlowCallDuration} {
		if d == "" {
			continue
		}
		if err := validateDuration(d); err != nil {
			return err
		}
	}

	return nil
}

func validateRateLimitRule(value interface{}) error {
	rule, ok := value.(RateLimitRule)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RateLimitRule")
	}

	if rule.Category == "" {
		return validation.NewError("validation_empty_category", "rate limit category cannot be empty")
	}

	if rule.Tier == "" {
		return validation.NewError("validation_empty_tier", "rate limit tier cannot be empty")
	}

	if rule.Limit < 1 {
		return validation.NewError("validation_invalid_limit", "limit must be at least 1")
	}

	return validateDuration(rule.Window)
}
