package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "AFTERSCHOOL"

type Config struct {
	Port          string
	DBPath        string
	LogLevel      string
	LogFormat     string
	Timezone      string
	SweepSchedule string
	SpinRate      float64
	SpinBurst     int
}

// Load parses command line flags and AFTERSCHOOL_* environment variables.
// Flags win over the environment, which wins over defaults.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("afterschool", pflag.ContinueOnError)
	fs.String("port", "8080", "HTTP listen port")
	fs.String("db-path", "afterschool.db", "SQLite database file")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-format", "text", "text or json")
	fs.String("timezone", "Local", "IANA zone used for daily, weekly and monthly limit windows")
	fs.String("sweep-schedule", "@every 1m", "cron spec for the auction sweep")
	fs.Float64("spin-rate", 2, "spin and bid requests per second per member")
	fs.Int("spin-burst", 5, "spin and bid burst per member")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Port:          v.GetString("port"),
		DBPath:        v.GetString("db-path"),
		LogLevel:      v.GetString("log-level"),
		LogFormat:     v.GetString("log-format"),
		Timezone:      v.GetString("timezone"),
		SweepSchedule: v.GetString("sweep-schedule"),
		SpinRate:      v.GetFloat64("spin-rate"),
		SpinBurst:     v.GetInt("spin-burst"),
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db-path is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("sweep-schedule %q: %w", c.SweepSchedule, err))
	}
	if c.SpinRate <= 0 {
		errs = append(errs, errors.New("spin-rate must be positive"))
	}
	if c.SpinBurst < 1 {
		errs = append(errs, errors.New("spin-burst must be at least 1"))
	}
	return errors.Join(errs...)
}

// Location resolves Timezone. Limit windows are computed in this zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
