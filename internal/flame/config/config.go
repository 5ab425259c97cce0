// Package config loads Flame daemon configuration from a YAML file, with
// environment overrides under the FLAME_ prefix.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/flame-sh/flame/internal/flame/model"
)

// ServerConfig configures the backend RPC HTTP server.
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeout int    `mapstructure:"write_timeout_seconds"`
}

func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	if s.ReadTimeout == 0 {
		return 15 * time.Second
	}
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	if s.WriteTimeout == 0 {
		return 15 * time.Second
	}
	return time.Duration(s.WriteTimeout) * time.Second
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NATSConfig configures the lifecycle event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"client_id"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
}

// DockerConfig configures the docker-backed shim runtime.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"api_version"`
}

// StorageConfig configures the persistence write-through layer.
type StorageConfig struct {
	URL string `mapstructure:"url"`
}

// NodeConfig configures an Executor Manager instance's identity and
// advertised resource capacity.
type NodeConfig struct {
	Name        string           `mapstructure:"name"`
	Allocatable map[string]int64 `mapstructure:"allocatable"`
}

// SchedulerConfig configures the Session Manager's scheduling policy.
type SchedulerConfig struct {
	Policy               string `mapstructure:"policy"`
	IntervalMillis       int    `mapstructure:"interval_ms"`
	MissedHeartbeatLimit int    `mapstructure:"missed_heartbeat_limit"`
}

func (s SchedulerConfig) Interval() time.Duration {
	if s.IntervalMillis == 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(s.IntervalMillis) * time.Millisecond
}

// MissedHeartbeatLimitOrDefault is the number of consecutive node syncs a
// node may miss before its executors' running tasks are failed as
// "executor lost" (spec.md §9 orphaned-task resolution).
func (s SchedulerConfig) MissedHeartbeatLimitOrDefault() int {
	if s.MissedHeartbeatLimit == 0 {
		return 3
	}
	return s.MissedHeartbeatLimit
}

// ApplicationSpec is the on-disk shape of a registered Application.
type ApplicationSpec struct {
	Name               string            `mapstructure:"name"`
	Shim               string            `mapstructure:"shim"`
	Command            string            `mapstructure:"command"`
	URL                string            `mapstructure:"url"`
	Arguments          []string          `mapstructure:"arguments"`
	Environment        map[string]string `mapstructure:"environment"`
	WorkingDirectory   string            `mapstructure:"working_directory"`
	MaxInstances       int32             `mapstructure:"max_instances"`
	DelayReleaseMillis int               `mapstructure:"delay_release_ms"`
}

func (a ApplicationSpec) ToModel() *model.Application {
	delay := time.Duration(a.DelayReleaseMillis) * time.Millisecond
	if delay == 0 {
		delay = 100 * time.Millisecond
	}
	return &model.Application{
		Name:         a.Name,
		Shim:         a.Shim,
		Command:      a.Command,
		URL:          a.URL,
		Arguments:    a.Arguments,
		Environment:  a.Environment,
		WorkingDir:   a.WorkingDirectory,
		MaxInstances: a.MaxInstances,
		DelayRelease: delay,
	}
}

// Config is the full daemon configuration.
type Config struct {
	Endpoint     string            `mapstructure:"endpoint"`
	SlotUnit     map[string]int64  `mapstructure:"slot_unit"`
	Server       ServerConfig      `mapstructure:"server"`
	Logging      LoggingConfig     `mapstructure:"logging"`
	NATS         NATSConfig        `mapstructure:"nats"`
	Docker       DockerConfig      `mapstructure:"docker"`
	Storage      StorageConfig     `mapstructure:"storage"`
	Scheduler    SchedulerConfig   `mapstructure:"scheduler"`
	Applications []ApplicationSpec `mapstructure:"applications"`
	Node         NodeConfig        `mapstructure:"node"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 15)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("storage.url", "sqlite://flame.db")
	v.SetDefault("scheduler.policy", "fairshare")
	v.SetDefault("scheduler.interval_ms", 500)
	v.SetDefault("scheduler.missed_heartbeat_limit", 3)
	v.SetDefault("slot_unit", map[string]int64{"cpu": 1})
	v.SetDefault("nats.client_id", "flame")
	v.SetDefault("nats.max_reconnects", 10)
}

// Load reads configuration from the YAML file at path, applying defaults
// and FLAME_-prefixed environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
