// Package config loads and validates the settings of a run.
//
// Sources, lowest to highest precedence: built-in defaults, the settings file
// (any format viper reads; JSON in production), then COURSEETL_* environment
// variables with "." replaced by "_" (COURSEETL_STORE_PASSWORD).
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"courseetl/internal/logging"
	"courseetl/internal/platform"
	"courseetl/internal/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COURSEETL"

type Config struct {
	Store    Store    `mapstructure:"store"`
	Paths    Paths    `mapstructure:"paths"`
	Platform Platform `mapstructure:"platform"`
	Logs     Logs     `mapstructure:"logs"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Notify   Notify   `mapstructure:"notify"`
	Run      Run      `mapstructure:"run"`
}

// Store is the platform database. DSN, when set, replaces the individual
// connection fields.
type Store struct {
	Kind           string        `mapstructure:"kind" validate:"required,oneof=mysql postgres sqlite sqlserver"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	Database       string        `mapstructure:"database"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DSN            string        `mapstructure:"dsn"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gte=0"`
}

// Paths are the two roots under which daily folders are created.
type Paths struct {
	CSVRoot          string `mapstructure:"csv_root" validate:"required"`
	CourseExportRoot string `mapstructure:"course_export_root" validate:"required"`
}

// Platform configures the course management command.
type Platform struct {
	Command       string        `mapstructure:"command" validate:"required"`
	ListArgs      string        `mapstructure:"list_args" validate:"required"`
	ExportArgs    string        `mapstructure:"export_args" validate:"required"`
	ExportTimeout time.Duration `mapstructure:"export_timeout" validate:"gte=0"`
	ExportWorkers int           `mapstructure:"export_workers" validate:"gte=0,lte=32"`
}

type Logs struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON       bool   `mapstructure:"json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

type Metrics struct {
	Backend        string        `mapstructure:"backend" validate:"oneof=none datadog pushgateway"`
	Job            string        `mapstructure:"job"`
	PushgatewayURL string        `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Tags           []string      `mapstructure:"tags"`
	FlushEvery     time.Duration `mapstructure:"flush_every" validate:"gte=0"`
}

// Notify configures the Slack incoming webhook. An empty URL disables it.
type Notify struct {
	SlackWebhookURL string        `mapstructure:"slack_webhook_url" validate:"omitempty,url"`
	Username        string        `mapstructure:"username"`
	IconEmoji       string        `mapstructure:"icon_emoji"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gte=0"`
	RetryMax        int           `mapstructure:"retry_max" validate:"gte=0,lte=10"`
}

type Run struct {
	// FailOnPartial turns a run with skipped units into exit status 3.
	FailOnPartial bool `mapstructure:"fail_on_partial"`
	// Timezone decides which calendar day "today" is.
	Timezone string `mapstructure:"timezone"`
	// Timeout bounds the whole run. Zero means none.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// SetDefaults registers a default for every key, which also makes every key
// overridable from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.kind", "mysql")
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 0)
	v.SetDefault("store.database", "edxapp")
	v.SetDefault("store.user", "")
	v.SetDefault("store.password", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.connect_timeout", "10s")

	v.SetDefault("paths.csv_root", "/edx/var/courseetl/csv")
	v.SetDefault("paths.course_export_root", "/edx/var/courseetl/courses")

	v.SetDefault("platform.command", "/edx/bin/python.edxapp /edx/app/edxapp/edx-platform/manage.py cms --settings production")
	v.SetDefault("platform.list_args", "dump_course_ids")
	v.SetDefault("platform.export_args", "export_olx {course_id} --output {output}")
	v.SetDefault("platform.export_timeout", "30m")
	v.SetDefault("platform.export_workers", 1)

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.json", false)
	v.SetDefault("logs.file", "")
	v.SetDefault("logs.max_size_mb", 100)
	v.SetDefault("logs.max_backups", 7)
	v.SetDefault("logs.max_age_days", 30)

	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.job", "courseetl")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.tags", []string{})
	v.SetDefault("metrics.flush_every", "60s")

	v.SetDefault("notify.slack_webhook_url", "")
	v.SetDefault("notify.username", "courseetl")
	v.SetDefault("notify.icon_emoji", ":card_file_box:")
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.retry_max", 3)

	v.SetDefault("run.fail_on_partial", false)
	v.SetDefault("run.timezone", "Local")
	v.SetDefault("run.timeout", "0s")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads path (optional) on top of defaults and the environment. Relative
// paths in the result are made absolute.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper decodes an already populated viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	if err := c.resolvePaths(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.Paths.CSVRoot, &c.Paths.CourseExportRoot, &c.Logs.File} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return errors.Wrapf(err, "config: resolve %s", *p)
		}
		*p = abs
	}
	return nil
}

// StoreConfig maps the store section to a storage.Config.
func (c *Config) StoreConfig() storage.Config {
	return storage.Config{
		Kind:           c.Store.Kind,
		Host:           c.Store.Host,
		Port:           c.Store.Port,
		Database:       c.Store.Database,
		User:           c.Store.User,
		Password:       c.Store.Password,
		DSN:            c.Store.DSN,
		ConnectTimeout: c.Store.ConnectTimeout,
	}
}

func (c *Config) CommandConfig() platform.CommandConfig {
	return platform.CommandConfig{
		Command:       c.Platform.Command,
		ListArgs:      c.Platform.ListArgs,
		ExportArgs:    c.Platform.ExportArgs,
		ExportTimeout: c.Platform.ExportTimeout,
	}
}

func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Level:      c.Logs.Level,
		JSON:       c.Logs.JSON,
		File:       c.Logs.File,
		MaxSizeMB:  c.Logs.MaxSizeMB,
		MaxBackups: c.Logs.MaxBackups,
		MaxAgeDays: c.Logs.MaxAgeDays,
	}
}

// Location resolves run.timezone; empty means Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Run.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Run.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "config: run.timezone %q", c.Run.Timezone)
	}
	return loc, nil
}
