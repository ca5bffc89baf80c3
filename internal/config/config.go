// Package config provides the configuration structure for the stream-tts service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied to fields left empty in the configuration file.
const (
	DefaultNATSURL           = "nats://127.0.0.1:4222"
	DefaultPlaySubject       = "playback.play"
	DefaultDoneSubject       = "playback.finished"
	DefaultNotifySubject     = "tts.notifications"
	DefaultRequestSubject    = "tts.requests"
	DefaultHistorySubject    = "tts.history"
	DefaultSettingsBucket    = "TTS_SETTINGS"
	DefaultTimeoutSeconds    = 10
	DefaultHistoryDBPath     = "data/history.db"
	DefaultTwitchCharLimit   = 300
	DefaultTwitchBitsMinimum = 100
	DefaultLogsDir           = "logs"
)

// ErrTwitchUsernameEmpty indicates that channels were configured without a login.
var ErrTwitchUsernameEmpty = errors.New("twitch username is required when channels are configured")

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL            string `toml:"url"`
	PlaySubject    string `toml:"play_subject"`
	DoneSubject    string `toml:"done_subject"`
	NotifySubject  string `toml:"notify_subject"`
	RequestSubject string `toml:"request_subject"`
	HistorySubject string `toml:"history_subject"`
	SettingsBucket string `toml:"settings_bucket"`
}

// PlaybackConfig holds the configuration of the playback engine client.
type PlaybackConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// HistoryConfig holds the configuration of the audit history store.
type HistoryConfig struct {
	DBPath string `toml:"db_path"`
}

// TwitchConfig holds the configuration of the Twitch chat ingress.
// The OAuth token is read from the environment, never from this file.
type TwitchConfig struct {
	Username    string   `toml:"username"`
	Channels    []string `toml:"channels"`
	RewardID    string   `toml:"reward_id"`
	BitsMinimum int      `toml:"bits_minimum"`
	CharLimit   int      `toml:"char_limit"`
}

// MetricsConfig holds the configuration of the metrics endpoint.
// An empty listen address disables it.
type MetricsConfig struct {
	ListenAddress string `toml:"listen_address"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	Playback PlaybackConfig `toml:"playback"`
	History  HistoryConfig  `toml:"history"`
	Twitch   TwitchConfig   `toml:"twitch"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the configuration for the stream-tts service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills every empty field with its default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.NATS.URL, DefaultNATSURL)
	setDefault(&c.NATS.PlaySubject, DefaultPlaySubject)
	setDefault(&c.NATS.DoneSubject, DefaultDoneSubject)
	setDefault(&c.NATS.NotifySubject, DefaultNotifySubject)
	setDefault(&c.NATS.RequestSubject, DefaultRequestSubject)
	setDefault(&c.NATS.HistorySubject, DefaultHistorySubject)
	setDefault(&c.NATS.SettingsBucket, DefaultSettingsBucket)
	setDefault(&c.History.DBPath, DefaultHistoryDBPath)
	setDefault(&c.Paths.BaseLogsDir, DefaultLogsDir)

	if c.Playback.TimeoutSeconds <= 0 {
		c.Playback.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Twitch.CharLimit <= 0 {
		c.Twitch.CharLimit = DefaultTwitchCharLimit
	}

	if c.Twitch.BitsMinimum <= 0 {
		c.Twitch.BitsMinimum = DefaultTwitchBitsMinimum
	}
}

// Validate checks combinations of fields that defaults cannot repair.
func (c *Config) Validate() error {
	if len(c.Twitch.Channels) > 0 && c.Twitch.Username == "" {
		return ErrTwitchUsernameEmpty
	}

	return nil
}

// PlaybackTimeout returns the playback request timeout.
func (c *Config) PlaybackTimeout() time.Duration {
	return time.Duration(c.Playback.TimeoutSeconds) * time.Second
}

// TwitchEnabled reports whether the Twitch ingress should run.
func (c *Config) TwitchEnabled() bool {
	return len(c.Twitch.Channels) > 0
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
