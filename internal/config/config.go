package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Engine       EngineConfig    `mapstructure:"engine"`
	Remote       RemoteConfig    `mapstructure:"remote"`
	StateStorage StateStorage    `mapstructure:"state_storage"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Server       ServerConfig    `mapstructure:"server"`
	Logging      LoggingConfig   `mapstructure:"logging"`
}

type EngineConfig struct {
	// DetectionMode: timestamp, changetag, content, or combined.
	DetectionMode string `mapstructure:"detection_mode"`

	// Strategy: last_write_wins, server_wins, client_wins, merge,
	// field_merge, three_way, or custom.
	Strategy string `mapstructure:"strategy"`

	TimestampTolerance string `mapstructure:"timestamp_tolerance"`
	HistoryLimit       int    `mapstructure:"history_limit"`

	// RemoteWinsTrueConflicts controls the three-way merge policy for
	// non-array fields changed on both sides.
	RemoteWinsTrueConflicts bool `mapstructure:"remote_wins_true_conflicts"`

	AutoSync AutoSyncConfig `mapstructure:"auto_sync"`
}

func (e EngineConfig) GetTimestampTolerance() time.Duration {
	d, _ := time.ParseDuration(e.TimestampTolerance)
	return d
}

type AutoSyncConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

func (a AutoSyncConfig) GetInterval() time.Duration {
	d, _ := time.ParseDuration(a.Interval)
	return d
}

type RemoteConfig struct {
	// Type selects the remote replica transport: memory or mysql.
	Type string `mapstructure:"type"`

	// Compression enables snappy compression of payloads at rest on the
	// remote replica.
	Compression bool `mapstructure:"compression"`

	// Realtime starts the binlog watcher against the MySQL remote so
	// remote writes trigger a sync without waiting for the timer.
	Realtime bool `mapstructure:"realtime"`

	Database DatabaseConnection `mapstructure:"database"`
}

type DatabaseConnection struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	User                string `mapstructure:"user"`
	Password            string `mapstructure:"password"`
	Database            string `mapstructure:"database"`
	ReplicationUser     string `mapstructure:"replication_user"`
	ReplicationPassword string `mapstructure:"replication_password"`
}

type StateStorage struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.detection_mode", "combined")
	v.SetDefault("engine.strategy", "last_write_wins")
	v.SetDefault("engine.timestamp_tolerance", "1s")
	v.SetDefault("engine.history_limit", 1000)
	v.SetDefault("engine.remote_wins_true_conflicts", true)
	v.SetDefault("engine.auto_sync.enabled", false)
	v.SetDefault("engine.auto_sync.interval", "30s")

	v.SetDefault("remote.type", "memory")
	v.SetDefault("remote.compression", false)
	v.SetDefault("remote.realtime", false)

	v.SetDefault("state_storage.type", "memory")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "@every 1m")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
