// Package config loads stepseq settings from stepseq.yaml, STEPSEQ_*
// environment variables and bound command-line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: log.level is STEPSEQ_LOG_LEVEL.
const EnvPrefix = "STEPSEQ"

// Config is the resolved host configuration.
type Config struct {
	Log   LogConfig   `mapstructure:"log"`
	Run   RunConfig   `mapstructure:"run"`
	Trace TraceConfig `mapstructure:"trace"`
}

// LogConfig selects the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// RunConfig bounds engine runs.
type RunConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"       validate:"gte=0"` // 0 means none
	HistoryLimit int           `mapstructure:"history_limit" validate:"gte=0"`
}

// TraceConfig controls where traces go and how they are signed.
type TraceConfig struct {
	Dir        string `mapstructure:"dir"`
	KeyID      string `mapstructure:"key_id"      validate:"required_with=SigningKey"`
	SigningKey string `mapstructure:"signing_key"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New returns a viper instance with defaults, config search paths and
// environment overrides registered.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("run.timeout", time.Duration(0))
	v.SetDefault("run.history_limit", 10000)
	v.SetDefault("trace.dir", "")
	v.SetDefault("trace.key_id", "")
	v.SetDefault("trace.signing_key", "")

	v.SetConfigName("stepseq")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "stepseq"))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file into v and decodes it. An explicit path must
// exist; without one a missing stepseq.yaml is fine.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// TracePath returns where the trace of runID goes, or "" when traces are off.
func (c *Config) TracePath(runID string) string {
	if c.Trace.Dir == "" {
		return ""
	}
	return filepath.Join(c.Trace.Dir, runID+".jsonl")
}
