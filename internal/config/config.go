package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/cache"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/metrics"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/state"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/spf13/viper"
)

// Directory sources
const (
	DirectorySourceFile       = "file"
	DirectorySourceSQLite     = "sqlite"
	DirectorySourceMiniserver = "miniserver"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Security   SecurityConfig   `mapstructure:"security"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Directory  DirectoryConfig  `mapstructure:"directory"`
	Miniserver MiniserverConfig `mapstructure:"miniserver"`
	Sensors    SensorsConfig    `mapstructure:"sensors"`
	Cache      cache.Config     `mapstructure:"cache"`
	State      state.Config     `mapstructure:"state"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path           string          `mapstructure:"path"`
	MigrationsPath string          `mapstructure:"migrations_path"`
	MaxConnections int             `mapstructure:"max_connections"`
	Migration      MigrationConfig `mapstructure:"migration"`
}

type MigrationConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	File   string `mapstructure:"file"`
}

type WebSocketConfig struct {
	PingInterval int `mapstructure:"ping_interval"`
	PongTimeout  int `mapstructure:"pong_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	BufferSize   int `mapstructure:"buffer_size"`
}

type SecurityConfig struct {
	EnableCORS     bool     `mapstructure:"enable_cors"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type MonitoringConfig struct {
	Metrics metrics.MetricsConfig `mapstructure:"metrics"`
}

// DirectoryConfig selects where the device directory is loaded from
type DirectoryConfig struct {
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
	// Import seeds the sqlite directory from a file on startup
	Import string `mapstructure:"import"`
}

// MiniserverConfig configures the HTTP state fetcher
type MiniserverConfig struct {
	Host           string        `mapstructure:"host"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	UseTLS         bool          `mapstructure:"use_tls"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// SensorsConfig holds explicit uuid to sensor kind mappings
type SensorsConfig struct {
	ExplicitMappings []ExplicitMapping `mapstructure:"explicit_mappings"`
}

// ExplicitMapping pins a device to a sensor kind. A list is used because
// device uuids contain dots, which viper treats as key separators.
type ExplicitMapping struct {
	UUID string `mapstructure:"uuid"`
	Kind string `mapstructure:"kind"`
}

// Load reads config.yaml from ./configs or the working directory, or from
// path when it is set, and applies environment overrides
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("PMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Override specific values from env
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.path", "DATABASE_PATH")
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("miniserver.host", "MINISERVER_HOST")
	v.BindEnv("miniserver.username", "MINISERVER_USERNAME")
	v.BindEnv("miniserver.password", "MINISERVER_PASSWORD")
	v.BindEnv("security.allowed_origins", "PMA_ALLOWED_ORIGINS")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate collects every configuration problem into one error
func (c *Config) Validate() error {
	var errors []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errors = append(errors, "server.port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		errors = append(errors, "server.host is required")
	}

	switch c.Directory.Source {
	case DirectorySourceFile:
		if c.Directory.File == "" {
			errors = append(errors, "directory.file is required when directory.source is file")
		}
	case DirectorySourceSQLite:
		if c.Database.Path == "" {
			errors = append(errors, "database.path is required when directory.source is sqlite")
		}
	case DirectorySourceMiniserver:
	default:
		errors = append(errors, fmt.Sprintf("directory.source must be one of file, sqlite, miniserver (got %q)", c.Directory.Source))
	}

	if c.Miniserver.Host == "" {
		errors = append(errors, "miniserver.host is required")
	}
	if c.Miniserver.Timeout <= 0 {
		errors = append(errors, "miniserver.timeout must be greater than 0")
	}
	if c.Miniserver.MaxConcurrency <= 0 {
		errors = append(errors, "miniserver.max_concurrency must be greater than 0")
	}

	for i, mapping := range c.Sensors.ExplicitMappings {
		if mapping.UUID == "" || mapping.Kind == "" {
			errors = append(errors, fmt.Sprintf("sensors.explicit_mappings[%d] needs uuid and kind", i))
		} else if _, ok := types.ParseSensorKind(mapping.Kind); !ok {
			errors = append(errors, fmt.Sprintf("sensors.explicit_mappings[%d] has unknown kind %q", i, mapping.Kind))
		}
	}

	if c.Cache.DeviceStateTTL <= 0 {
		errors = append(errors, "cache.device_state_ttl must be greater than 0")
	}
	if c.Cache.SensorTTL <= 0 {
		errors = append(errors, "cache.sensor_ttl must be greater than 0")
	}
	if c.Cache.MaxCacheSize <= 0 {
		errors = append(errors, "cache.max_cache_size must be greater than 0")
	}

	if c.State.DebounceWindow < 0 {
		errors = append(errors, "state.debounce_window must not be negative")
	}
	if c.State.HistorySize < 0 {
		errors = append(errors, "state.history_size must not be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Database defaults
	v.SetDefault("database.path", "./data/sensors.db")
	v.SetDefault("database.migrations_path", "./migrations")
	v.SetDefault("database.max_connections", 4)
	v.SetDefault("database.migration.enabled", true)
	v.SetDefault("database.migration.auto_migrate", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// WebSocket defaults
	v.SetDefault("websocket.ping_interval", 30)
	v.SetDefault("websocket.pong_timeout", 60)
	v.SetDefault("websocket.write_timeout", 10)
	v.SetDefault("websocket.buffer_size", 256)

	// Security defaults
	v.SetDefault("security.enable_cors", true)
	v.SetDefault("security.allowed_origins", []string{"*"})

	// Metrics defaults
	v.SetDefault("monitoring.metrics.enabled", true)
	v.SetDefault("monitoring.metrics.prefix", "pma_sensor")

	// Directory defaults
	v.SetDefault("directory.source", DirectorySourceFile)
	v.SetDefault("directory.file", "./configs/devices.yaml")

	// Miniserver defaults
	v.SetDefault("miniserver.host", "localhost")
	v.SetDefault("miniserver.timeout", "10s")
	v.SetDefault("miniserver.max_concurrency", 8)

	// Cache defaults
	v.SetDefault("cache.device_state_ttl", "30s")
	v.SetDefault("cache.sensor_ttl", "60s")
	v.SetDefault("cache.structure_ttl", "1h")
	v.SetDefault("cache.room_ttl", "10m")
	v.SetDefault("cache.max_cache_size", 1000)
	v.SetDefault("cache.enable_prefetch", true)

	// State defaults
	v.SetDefault("state.debounce_window", "5s")
	v.SetDefault("state.history_size", 100)
	v.SetDefault("state.history_retention", "24h")
	v.SetDefault("state.stale_after", "5m")
	v.SetDefault("state.repoll_interval", "30s")
	v.SetDefault("state.aggregate_interval", "5m")
	v.SetDefault("state.prune_interval", "1h")
	v.SetDefault("state.subscriber_buffer", 64)
	v.SetDefault("state.top_devices", 10)
}
