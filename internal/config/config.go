// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Portal     PortalConfig     `mapstructure:"portal"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Navigator  NavigatorConfig  `mapstructure:"navigator"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the read-only HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PortalConfig locates the portal and identifies the harvester to it.
type PortalConfig struct {
	SearchURL     string `mapstructure:"search_url"`
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
}

// PolitenessConfig governs request pacing against the portal.
type PolitenessConfig struct {
	DelayMs       int     `mapstructure:"delay_ms"`
	JitterMs      int     `mapstructure:"jitter_ms"`
	BackoffBaseMs int     `mapstructure:"backoff_base_ms"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
	GlobalRPS     float64 `mapstructure:"global_rps"`
}

// HeadlessConfig configures the browser used for form navigation.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// NavigatorConfig bounds the search form walk.
type NavigatorConfig struct {
	MaxPages        int    `mapstructure:"max_pages"`
	FormSelector    string `mapstructure:"form_selector"`
	ResultsSelector string `mapstructure:"results_selector"`
	SubmitSelector  string `mapstructure:"submit_selector"`
}

// ArchiveConfig selects where raw page markup is stored.
type ArchiveConfig struct {
	// Mode is local, gcs or off.
	Mode      string `mapstructure:"mode"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the Postgres connection pool.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for run completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PMMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("portal.search_url", "https://www.marchespublics.gov.ma/index.php?page=entreprise.EntrepriseAdvancedSearch&AllCons")
	v.SetDefault("portal.user_agent", "pmmp-harvester/0.1 (+data engineering)")
	v.SetDefault("portal.respect_robots", true)
	v.SetDefault("politeness.delay_ms", 2000)
	v.SetDefault("politeness.jitter_ms", 1000)
	v.SetDefault("politeness.backoff_base_ms", 5000)
	v.SetDefault("politeness.max_concurrent", 2)
	v.SetDefault("politeness.global_rps", 1.0)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("navigator.max_pages", 200)
	v.SetDefault("archive.mode", "local")
	v.SetDefault("archive.local_dir", "archive")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Portal.SearchURL == "" {
		return fmt.Errorf("portal.search_url is required")
	}
	if c.Politeness.DelayMs < 0 || c.Politeness.JitterMs < 0 {
		return fmt.Errorf("politeness delays must be >= 0")
	}
	if c.Politeness.MaxConcurrent <= 0 {
		return fmt.Errorf("politeness.max_concurrent must be > 0")
	}
	if c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0")
	}
	switch c.Archive.Mode {
	case "local", "gcs", "off":
	default:
		return fmt.Errorf("archive.mode must be local, gcs or off")
	}
	if c.Archive.Mode == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket is required when archive.mode is gcs")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	return nil
}

// BaseDelay converts the configured delay into a duration.
func (c PolitenessConfig) BaseDelay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// JitterSpan converts the configured jitter into a duration.
func (c PolitenessConfig) JitterSpan() time.Duration {
	return time.Duration(c.JitterMs) * time.Millisecond
}

// BackoffBase converts the configured backoff seed into a duration.
func (c PolitenessConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// NavTimeout converts the configured navigation budget into a duration.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// ConnLifetime converts the configured pool lifetime into a duration.
func (c DBConfig) ConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetime) * time.Minute
}
