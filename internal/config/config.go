package config

import (
	"benritz/dtd/internal/merton"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. DTD_MODEL_SIGMA or
// DTD_STORAGE_OUTPUT_BUCKET.
const EnvPrefix = "DTD"

// Config is the complete application configuration.
type Config struct {
	Model   ModelConfig   `yaml:"model" envconfig:"MODEL"`
	Workers int           `yaml:"workers" envconfig:"WORKERS" validate:"gte=1,lte=256"`
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	Storage StorageConfig `yaml:"storage" envconfig:"STORAGE"`
}

// ModelConfig holds the Merton model constants.
type ModelConfig struct {
	Sigma         float64 `yaml:"sigma" envconfig:"SIGMA" validate:"gt=0"`
	Weight        float64 `yaml:"weight" envconfig:"WEIGHT" validate:"gte=0"`
	Horizon       float64 `yaml:"horizon" envconfig:"HORIZON" validate:"gt=0"`
	Tolerance     float64 `yaml:"tolerance" envconfig:"TOLERANCE" validate:"gte=0"`
	MaxIterations int     `yaml:"max_iterations" envconfig:"MAX_ITERATIONS" validate:"gte=1"`
	TradingDays   float64 `yaml:"trading_days" envconfig:"TRADING_DAYS" validate:"gt=0"`
}

type ServerConfig struct {
	Address         string          `yaml:"address" envconfig:"ADDRESS" validate:"required"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	MaxUploadBytes  int64           `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES" validate:"gt=0"`
	MaxRows         int             `yaml:"max_rows" envconfig:"MAX_ROWS" validate:"gt=0"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gt=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=1"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=cli text json"`
}

// StorageConfig is the S3 destination used by the Lambda and by run when no
// output is given.
type StorageConfig struct {
	AWSProfile   string `yaml:"aws_profile" envconfig:"AWS_PROFILE"`
	OutputBucket string `yaml:"output_bucket" envconfig:"OUTPUT_BUCKET"`
	OutputPrefix string `yaml:"output_prefix" envconfig:"OUTPUT_PREFIX"`
	OutputFormat string `yaml:"output_format" envconfig:"OUTPUT_FORMAT" validate:"oneof=csv json yaml html xlsx parquet"`
}

func Default() *Config {
	p := merton.DefaultParams()

	return &Config{
		Model: ModelConfig{
			Sigma:         p.Sigma,
			Weight:        p.Weight,
			Horizon:       p.Horizon,
			Tolerance:     p.Tolerance,
			MaxIterations: p.MaxIterations,
			TradingDays:   p.TradingDays,
		},
		Workers: 1,
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  32 << 20,
			MaxRows:         100_000,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     10,
				Burst:   20,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "cli",
		},
		Storage: StorageConfig{
			OutputFormat: "csv",
		},
	}
}

// Load builds the configuration from the defaults, then the YAML file at path
// when path is not empty, then DTD_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Storage.OutputFormat = strings.ToLower(strings.TrimSpace(cfg.Storage.OutputFormat))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s=%s (value %v)", e.Namespace(), e.Tag(), e.Param(), e.Value()))
	}

	return errors.New(strings.Join(msgs, "; "))
}

// Params returns the model parameters for the calculator.
func (c *Config) Params() merton.Params {
	return merton.Params{
		Sigma:         c.Model.Sigma,
		Weight:        c.Model.Weight,
		Horizon:       c.Model.Horizon,
		Tolerance:     c.Model.Tolerance,
		MaxIterations: c.Model.MaxIterations,
		TradingDays:   c.Model.TradingDays,
	}
}
