package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/nomis52/activityhost/logging"
)

const (
	// Default listener settings
	defaultListenAddr = ":8080"

	// Default lifecycle settings
	defaultDrainTimeout = 5 * time.Second

	// Default watchdog settings
	defaultCheckSchedule = "@every 10s"

	// Default monitoring settings
	defaultMetricsPrefix = "activityhost"
	defaultJobName       = "activityhost"
	defaultPushSchedule  = "@every 30s"

	// Default bridge settings
	defaultChannelPrefix = "activityhost:"

	redactedValue = "REDACTED"
)

var (
	// ErrDuplicateActivity is returned when two configured activities share a name.
	ErrDuplicateActivity = errors.New("duplicate activity name")
	// ErrIncompleteTLS is returned when only one of cert and key is set.
	ErrIncompleteTLS = errors.New("tls cert and key must be set together")
)

// Config represents the complete host configuration
type Config struct {
	Listener    ListenerConfig    `yaml:"listener"`
	Logging     logging.Config    `yaml:"logging"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Watchdog    WatchdogConfig    `yaml:"watchdog"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Environment map[string]string `yaml:"environment"`
	Activities  []ActivityConfig  `yaml:"activities"`
}

// ListenerConfig holds the HTTP listener settings
type ListenerConfig struct {
	Addr string    `yaml:"addr"`
	TLS  TLSConfig `yaml:"tls"`
}

// TLSConfig holds paths to the certificate and key served by the listener.
// The listener serves plain HTTP when both are empty.
type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// Enabled reports whether TLS is configured.
func (t TLSConfig) Enabled() bool {
	return t.Cert != "" && t.Key != ""
}

// LifecycleConfig holds lifecycle controller settings
type LifecycleConfig struct {
	// DrainTimeout bounds how long shutdown waits for an in-flight hook
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// WatchdogConfig holds the periodic state check settings
type WatchdogConfig struct {
	// Schedule is a standard cron expression or descriptor such as "@every 10s"
	Schedule string `yaml:"schedule"`
	// Disabled turns periodic checks off
	Disabled bool `yaml:"disabled"`
}

// MonitoringConfig holds metrics settings. Scrape exposes /metrics; a
// RemoteWriteURL pushes on PushSchedule instead.
type MonitoringConfig struct {
	Scrape         bool   `yaml:"scrape"`
	RemoteWriteURL string `yaml:"remote_write_url"`
	Prefix         string `yaml:"prefix"`
	Job            string `yaml:"job"`
	PushSchedule   string `yaml:"push_schedule"`
}

// Push reports whether metrics are pushed to a remote write endpoint.
func (m MonitoringConfig) Push() bool {
	return m.RemoteWriteURL != ""
}

// BridgeConfig holds the Redis bus bridge settings. The bridge is disabled
// when RedisAddr is empty.
type BridgeConfig struct {
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	ChannelPrefix string   `yaml:"channel_prefix"`
	Topics        []string `yaml:"topics"`
}

// Enabled reports whether the bridge should run.
func (b BridgeConfig) Enabled() bool {
	return b.RedisAddr != ""
}

// ActivityConfig describes an activity loaded at boot
type ActivityConfig struct {
	Name      string            `yaml:"name"`
	Type      string            `yaml:"type"`
	Config    map[string]string `yaml:"config"`
	Autostart bool              `yaml:"autostart"`
	Activate  bool              `yaml:"activate"`
}

// Validate checks that all required configuration fields are set
func (c *Config) Validate() error {
	var errs []error

	if c.Lifecycle.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("lifecycle.drain_timeout must not be negative"))
	}

	if !c.Watchdog.Disabled {
		if _, err := cron.ParseStandard(c.Watchdog.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("watchdog.schedule %q: %w", c.Watchdog.Schedule, err))
		}
	}

	if c.Listener.TLS.Cert != "" && c.Listener.TLS.Key == "" || c.Listener.TLS.Cert == "" && c.Listener.TLS.Key != "" {
		errs = append(errs, ErrIncompleteTLS)
	}

	if c.Monitoring.Push() {
		if c.Monitoring.PushSchedule == "" {
			errs = append(errs, fmt.Errorf("monitoring.push_schedule is required with remote_write_url"))
		} else if _, err := cron.ParseStandard(c.Monitoring.PushSchedule); err != nil {
			errs = append(errs, fmt.Errorf("monitoring.push_schedule %q: %w", c.Monitoring.PushSchedule, err))
		}
		if c.Monitoring.Scrape {
			errs = append(errs, fmt.Errorf("monitoring.scrape and monitoring.remote_write_url are mutually exclusive"))
		}
	}

	if c.Bridge.Enabled() && len(c.Bridge.Topics) == 0 {
		errs = append(errs, fmt.Errorf("bridge.topics is required with redis_addr"))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	seen := make(map[string]bool, len(c.Activities))
	for i, a := range c.Activities {
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, fmt.Errorf("activities[%d].name is required", i))
			continue
		}
		if a.Type == "" {
			errs = append(errs, fmt.Errorf("activities[%d] (%s): type is required", i, a.Name))
		}
		if seen[a.Name] {
			errs = append(errs, fmt.Errorf("activities[%d]: %w: %s", i, ErrDuplicateActivity, a.Name))
		}
		seen[a.Name] = true
		if a.Activate && !a.Autostart {
			errs = append(errs, fmt.Errorf("activities[%d] (%s): activate requires autostart", i, a.Name))
		}
	}

	return errors.Join(errs...)
}

// SetDefaults sets default values for optional configuration fields
func (c *Config) SetDefaults() {
	if c.Listener.Addr == "" {
		c.Listener.Addr = defaultListenAddr
	}

	if c.Lifecycle.DrainTimeout == 0 {
		c.Lifecycle.DrainTimeout = defaultDrainTimeout
	}

	if c.Watchdog.Schedule == "" {
		c.Watchdog.Schedule = defaultCheckSchedule
	}

	if c.Monitoring.Prefix == "" {
		c.Monitoring.Prefix = defaultMetricsPrefix
	}
	if c.Monitoring.Job == "" {
		c.Monitoring.Job = defaultJobName
	}
	if c.Monitoring.Push() && c.Monitoring.PushSchedule == "" {
		c.Monitoring.PushSchedule = defaultPushSchedule
	}

	if c.Bridge.ChannelPrefix == "" {
		c.Bridge.ChannelPrefix = defaultChannelPrefix
	}

	c.Logging.SetDefaults()
}

// EnvironmentSeed returns the configured environment values in the form the
// host expects.
func (c *Config) EnvironmentSeed() map[string]any {
	seed := make(map[string]any, len(c.Environment))
	for k, v := range c.Environment {
		seed[k] = v
	}
	return seed
}

// Redacted returns a copy of the configuration with secrets masked.
func (c *Config) Redacted() Config {
	out := *c
	if out.Bridge.RedisPassword != "" {
		out.Bridge.RedisPassword = redactedValue
	}
	return out
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	var config Config
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return config, nil
}
