// Package config loads the application's TOML configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/airband/radiorec/internal/logger"
	"github.com/airband/radiorec/internal/notify"
	"github.com/airband/radiorec/internal/recorder"
	"github.com/airband/radiorec/internal/resolver"
	"github.com/airband/radiorec/internal/tls"
)

// Config represents the top-level TOML structure. Every key can be
// overridden through the environment with a RADIOREC_ prefix
// (RADIOREC_OUTPUT_DIR, RADIOREC_HISTORY_DSN, ...).
type Config struct {
	OutputDir       string   `toml:"output_dir" mapstructure:"output_dir"`
	ProgramSubdir   bool     `toml:"program_subdir" mapstructure:"program_subdir"`
	Format          string   `toml:"format" mapstructure:"format"`
	EncoderPath     string   `toml:"encoder_path" mapstructure:"encoder_path"`
	EncoderLogLevel string   `toml:"encoder_loglevel" mapstructure:"encoder_loglevel"`
	EncoderEnv      []string `toml:"encoder_env" mapstructure:"encoder_env"`
	ScheduleFile    string   `toml:"schedule_file" mapstructure:"schedule_file"`
	Listen          string   `toml:"listen" mapstructure:"listen"`
	LogLevel        string   `toml:"log_level" mapstructure:"log_level"`

	Log      *LogConfig      `toml:"log" mapstructure:"log"`
	History  *HistoryConfig  `toml:"history" mapstructure:"history"`
	Resolver *ResolverConfig `toml:"resolver" mapstructure:"resolver"`
	Notify   *NotifyConfig   `toml:"notify" mapstructure:"notify"`
	TLS      *tls.Config     `toml:"tls" mapstructure:"tls"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// HistoryConfig selects where recording history events are exported.
// The DSN format is documented in internal/history/factory.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ResolverConfig struct {
	AuthURL   string `toml:"auth_url" mapstructure:"auth_url"`
	StreamURL string `toml:"stream_url" mapstructure:"stream_url"`
	AppID     string `toml:"app_id" mapstructure:"app_id"`
	AppKey    string `toml:"app_key" mapstructure:"app_key"`
}

// NotifyConfig points at an external notification command. Empty means
// notifications go to the log.
type NotifyConfig struct {
	Command string `toml:"command" mapstructure:"command"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_dir", recorder.DefaultBaseDir)
	v.SetDefault("program_subdir", true)
	v.SetDefault("format", "mp3")
	v.SetDefault("encoder_path", recorder.DefaultEncoderPath)
	v.SetDefault("encoder_loglevel", recorder.DefaultLogLevel)
	v.SetDefault("schedule_file", "schedules.json")
	v.SetDefault("listen", ":8087")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from path, falling back to pure defaults when
// path is empty. Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)
	v.SetEnvPrefix("RADIOREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Format) {
	case "mp3", "wav":
	default:
		return fmt.Errorf("unsupported recording format %q (want mp3 or wav)", c.Format)
	}
	if c.ScheduleFile == "" {
		return fmt.Errorf("schedule_file must not be empty")
	}
	return nil
}

// OutputLayout builds the recording file layout from the config.
func (c *Config) OutputLayout() recorder.OutputLayout {
	return recorder.OutputLayout{BaseDir: c.OutputDir, ProgramSubdir: c.ProgramSubdir}
}

// LoggerConfig builds the rotating log settings, zero-valued when no [log]
// section was given.
func (c *Config) LoggerConfig() logger.Config {
	if c.Log == nil {
		return logger.Config{}
	}
	return logger.Config{
		Dir:        c.Log.Dir,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// ResolverSettings maps the [resolver] section onto the stream resolver.
func (c *Config) ResolverSettings() resolver.Config {
	if c.Resolver == nil {
		return resolver.Config{}
	}
	return resolver.Config{
		AuthURL:   c.Resolver.AuthURL,
		StreamURL: c.Resolver.StreamURL,
		AppID:     c.Resolver.AppID,
		AppKey:    c.Resolver.AppKey,
	}
}

// Notifier builds the configured notifier: an external command when one is
// set, the log otherwise.
func (c *Config) Notifier() notify.Notifier {
	if c.Notify != nil && c.Notify.Command != "" {
		return notify.ExecNotifier{Command: c.Notify.Command}
	}
	return notify.LogNotifier{AppName: "radiorec"}
}

// HistoryDSN returns the configured history DSN, or empty when history
// export is disabled.
func (c *Config) HistoryDSN() string {
	if c.History == nil {
		return ""
	}
	return c.History.DSN
}
