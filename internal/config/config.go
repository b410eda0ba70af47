package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath     = "/etc/tadoxd/config.yaml"
	DefaultHTTPAddr = "0.0.0.0:8080"

	DefaultOAuthStatePath       = "/var/lib/tadoxd/oauth-state.json"
	DefaultOAuthBlobPrefix      = "tadoxd/oauth"
	DefaultOAuthRefreshInterval = 10 * time.Minute

	DefaultDiscoveryPrefix = "homeassistant"
	DefaultTopicPrefix     = "tadoxd"

	// Scan intervals per API tier. The free tier allows 100 requests per
	// day; a base refresh costs two calls, so 30 minutes (96 calls/day)
	// is the fastest cadence that stays under quota.
	ScanIntervalFreeTier   = 30 * time.Minute
	ScanIntervalAutoAssist = 30 * time.Second

	MinScanInterval = 30 * time.Second
	MaxScanInterval = time.Hour
)

// Config is the top-level tadoxd configuration.
type Config struct {
	MQTT  MQTTConfig  `yaml:"mqtt"`
	HTTP  HTTPConfig  `yaml:"http"`
	OAuth OAuthConfig `yaml:"oauth"`
	Tado  TadoConfig  `yaml:"tado"`
	Log   LogConfig   `yaml:"log"`
	Stats StatsConfig `yaml:"stats"`
}

type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Port            int    `yaml:"port"`
	TLS             bool   `yaml:"tls"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	TopicPrefix     string `yaml:"topic_prefix"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type OAuthConfig struct {
	BootstrapFile          string `yaml:"bootstrap_file"`
	StatePath              string `yaml:"state_path"`
	BlobEndpoint           string `yaml:"blob_endpoint"`
	BlobBucket             string `yaml:"blob_bucket"`
	BlobPrefix             string `yaml:"blob_prefix"`
	BlobRegion             string `yaml:"blob_region"`
	BlobAccessKeyFile      string `yaml:"blob_access_key_file"`
	BlobSecretKeyFile      string `yaml:"blob_secret_key_file"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
}

type TadoConfig struct {
	HomeID              *int   `yaml:"home_id"`
	AutoAssist          bool   `yaml:"auto_assist"`
	ScanIntervalSeconds int    `yaml:"scan_interval_seconds"`
	EnableWeather       *bool  `yaml:"enable_weather"`
	EnableMobileDevices *bool  `yaml:"enable_mobile_devices"`
	AccountURL          string `yaml:"account_url"`
	RoomsURL            string `yaml:"rooms_url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StatsConfig struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
}

// Load reads, expands, defaults, and validates the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if c.OAuth.StatePath == "" {
		c.OAuth.StatePath = DefaultOAuthStatePath
	}
	if c.OAuth.BlobPrefix == "" {
		c.OAuth.BlobPrefix = DefaultOAuthBlobPrefix
	}
	if c.OAuth.RefreshIntervalSeconds == 0 {
		c.OAuth.RefreshIntervalSeconds = int(DefaultOAuthRefreshInterval / time.Second)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate enforces required fields beyond yaml typing.
func (c *Config) Validate() error {
	if c.OAuth.BootstrapFile == "" {
		return fmt.Errorf("oauth.bootstrap_file is required")
	}
	if c.OAuth.BlobEndpoint != "" {
		if c.OAuth.BlobBucket == "" {
			return fmt.Errorf("oauth.blob_bucket is required when blob_endpoint is set")
		}
		if c.OAuth.BlobAccessKeyFile == "" {
			return fmt.Errorf("oauth.blob_access_key_file is required when blob_endpoint is set")
		}
		if c.OAuth.BlobSecretKeyFile == "" {
			return fmt.Errorf("oauth.blob_secret_key_file is required when blob_endpoint is set")
		}
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.Tado.HomeID != nil && *c.Tado.HomeID <= 0 {
		return fmt.Errorf("tado.home_id must be positive")
	}
	if c.Tado.ScanIntervalSeconds != 0 {
		interval := time.Duration(c.Tado.ScanIntervalSeconds) * time.Second
		if interval < MinScanInterval || interval > MaxScanInterval {
			return fmt.Errorf("tado.scan_interval_seconds must be between %s and %s",
				MinScanInterval, MaxScanInterval)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}

// ScanInterval resolves the polling interval: explicit override first,
// otherwise the tier default.
func (c *Config) ScanInterval() time.Duration {
	if c.Tado.ScanIntervalSeconds > 0 {
		return time.Duration(c.Tado.ScanIntervalSeconds) * time.Second
	}
	if c.Tado.AutoAssist {
		return ScanIntervalAutoAssist
	}
	return ScanIntervalFreeTier
}

// EnableWeather defaults to the tier: Auto-Assist homes can afford the
// extra call per cycle, free tier cannot.
func (c *Config) EnableWeather() bool {
	if c.Tado.EnableWeather != nil {
		return *c.Tado.EnableWeather
	}
	return c.Tado.AutoAssist
}

func (c *Config) EnableMobileDevices() bool {
	if c.Tado.EnableMobileDevices != nil {
		return *c.Tado.EnableMobileDevices
	}
	return c.Tado.AutoAssist
}

// OAuthRefreshInterval returns the background token refresh cadence.
func (c *Config) OAuthRefreshInterval() time.Duration {
	return time.Duration(c.OAuth.RefreshIntervalSeconds) * time.Second
}
