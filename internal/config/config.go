// Package config loads application configuration from an optional YAML file
// with REALTOR_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mkarev/realtor-outreach/internal/matching"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	DB         DBConfig         `mapstructure:"db"`
	Matching   matching.Config  `mapstructure:"matching"`
	Milestones MilestonesConfig `mapstructure:"milestones"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Mail       MailConfig       `mapstructure:"mail"`
}

type LogConfig struct {
	// Mode selects the zap config: "prod" for JSON, anything else for
	// the development console encoder.
	Mode string `mapstructure:"mode"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type MilestonesConfig struct {
	// HorizonDays buckets upcoming milestones for display: within the
	// horizon vs later.
	HorizonDays int `mapstructure:"horizon_days"`
}

type DispatchConfig struct {
	// Concurrency bounds in-flight sends to respect provider rate limits.
	Concurrency int `mapstructure:"concurrency"`
}

type MailConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	FromEmail      string `mapstructure:"from_email"`
	FromName       string `mapstructure:"from_name"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (m MailConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// Load reads configuration. path may be empty, in which case defaults and
// environment variables alone apply.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REALTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.mode", "dev")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("db.path", "outreach.db")
	def := matching.DefaultConfig()
	v.SetDefault("matching.min_score", def.MinScore)
	v.SetDefault("matching.max_results", def.MaxResults)
	v.SetDefault("milestones.horizon_days", 14)
	v.SetDefault("dispatch.concurrency", 4)
	v.SetDefault("mail.base_url", "https://api.sendgrid.com")
	v.SetDefault("mail.timeout_seconds", 30)
}

func (c Config) Validate() error {
	if c.Dispatch.Concurrency < 1 {
		return fmt.Errorf("dispatch.concurrency must be at least 1")
	}
	if c.Matching.MinScore <= 0 || c.Matching.MinScore >= 1 {
		return fmt.Errorf("matching.min_score must be in (0, 1)")
	}
	if c.Matching.MaxResults < 1 {
		return fmt.Errorf("matching.max_results must be at least 1")
	}
	if c.Milestones.HorizonDays < 0 {
		return fmt.Errorf("milestones.horizon_days must not be negative")
	}
	return nil
}
