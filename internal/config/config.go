package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "INDELIBLE"
	defaultHTTPAddress    = "127.0.0.1:8080"
	defaultDatabasePath   = "indelible.db"
	defaultLogLevel       = "info"
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800
	defaultPointThreshold = 2.0
	defaultIDStrategy     = "uuidv7"
	defaultSyncInterval   = 30
)

// AppConfig captures runtime configuration for the canvas server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	CanvasSlug        string
	ViewportWidth     float64
	ViewportHeight    float64
	PointThreshold    float64
	IDStrategy        string
	SyncURL           string
	SyncSigningSecret string
	SyncInterval      time.Duration
}

// SyncConfigured reports whether a remote sync service is configured.
func (c AppConfig) SyncConfigured() bool {
	return c.SyncURL != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("canvas.slug", "")
	configViper.SetDefault("viewport.width", defaultViewportWidth)
	configViper.SetDefault("viewport.height", defaultViewportHeight)
	configViper.SetDefault("tools.point_threshold", defaultPointThreshold)
	configViper.SetDefault("ids.strategy", defaultIDStrategy)
	configViper.SetDefault("sync.url", "")
	configViper.SetDefault("sync.signing_secret", "")
	configViper.SetDefault("sync.interval_seconds", defaultSyncInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       strings.TrimSpace(configViper.GetString("http.address")),
		DatabasePath:      strings.TrimSpace(configViper.GetString("database.path")),
		LogLevel:          configViper.GetString("log.level"),
		CanvasSlug:        strings.TrimSpace(configViper.GetString("canvas.slug")),
		ViewportWidth:     configViper.GetFloat64("viewport.width"),
		ViewportHeight:    configViper.GetFloat64("viewport.height"),
		PointThreshold:    configViper.GetFloat64("tools.point_threshold"),
		IDStrategy:        strings.ToLower(strings.TrimSpace(configViper.GetString("ids.strategy"))),
		SyncURL:           strings.TrimRight(strings.TrimSpace(configViper.GetString("sync.url")), "/"),
		SyncSigningSecret: configViper.GetString("sync.signing_secret"),
		SyncInterval:      time.Duration(configViper.GetInt("sync.interval_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return fmt.Errorf("viewport.width and viewport.height must be positive")
	}
	if c.PointThreshold <= 0 {
		return fmt.Errorf("tools.point_threshold must be positive")
	}
	switch c.IDStrategy {
	case "uuidv7", "ulid":
	default:
		return fmt.Errorf("ids.strategy must be uuidv7 or ulid, got %q", c.IDStrategy)
	}
	if c.SyncURL != "" {
		parsed, err := url.Parse(c.SyncURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("sync.url must be an absolute http(s) URL")
		}
		if c.SyncInterval <= 0 {
			return fmt.Errorf("sync.interval_seconds must be positive")
		}
	}
	return nil
}
