package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/sdctl/internal/logger"
	"github.com/loykin/sdctl/internal/manager"
)

// EnvPrefix is prepended to every environment override, e.g.
// SDCTL_SERVER_LISTEN or SDCTL_SUPERVISOR_STATE_DSN.
const EnvPrefix = "SDCTL"

// StateFileName is the default state file, placed next to the install directory.
const StateFileName = "process.ini"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Profile    ProfileConfig    `toml:"sdctl" mapstructure:"sdctl"`
	Testing    ProfileConfig    `toml:"sdctl-testing" mapstructure:"sdctl-testing"`
	Autostart  AutostartConfig  `toml:"autostart" mapstructure:"autostart"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Monitor    MonitorConfig    `toml:"monitor" mapstructure:"monitor"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
}

type SupervisorConfig struct {
	Prefix           string        `toml:"prefix" mapstructure:"prefix"`
	CoreServer       string        `toml:"core_server" mapstructure:"core_server"`
	AltServer        string        `toml:"alt_server" mapstructure:"alt_server"`
	Baseline         []string      `toml:"baseline" mapstructure:"baseline"`
	Ignored          []string      `toml:"ignored" mapstructure:"ignored"`
	AutostartAllowed []string      `toml:"autostart_allowed" mapstructure:"autostart_allowed"`
	MaxDepth         int           `toml:"max_depth" mapstructure:"max_depth"`
	ExtraDirs        []string      `toml:"extra_dirs" mapstructure:"extra_dirs"`
	StateDSN         string        `toml:"state_dsn" mapstructure:"state_dsn"`
	ModuleLogDir     string        `toml:"module_log_dir" mapstructure:"module_log_dir"`
	ModuleEnv        []string      `toml:"module_env" mapstructure:"module_env"`
	SpawnRetries     uint          `toml:"spawn_retries" mapstructure:"spawn_retries"`
	SpawnRetryDelay  time.Duration `toml:"spawn_retry_delay" mapstructure:"spawn_retry_delay"`
}

// ProfileConfig lists modules to bring up when serve starts.
type ProfileConfig struct {
	AutostartModules []string `toml:"autostart_modules" mapstructure:"autostart_modules"`
}

type AutostartConfig struct {
	// Settle is how long serve waits after autostart before declaring itself ready.
	Settle time.Duration `toml:"settle" mapstructure:"settle"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	Metrics  bool   `toml:"metrics" mapstructure:"metrics"`
}

type MonitorConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Source     bool   `toml:"source" mapstructure:"source"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("supervisor.prefix", "sd-")
	v.SetDefault("supervisor.core_server", "sd-server")
	v.SetDefault("supervisor.alt_server", "sd-server-rust")
	v.SetDefault("supervisor.baseline", []string{"sd-server", "sd-watcher-afk", "sd-watcher-window"})
	v.SetDefault("supervisor.ignored", []string{"sd-cli", "sd-client", "sd-qt", "sd-qt.desktop", "sd-qt.spec", "sdctl"})
	v.SetDefault("supervisor.autostart_allowed", []string{"sd-server", "sd-server-rust", "sd-watcher-afk", "sd-watcher-window"})
	v.SetDefault("supervisor.max_depth", 8)
	v.SetDefault("supervisor.extra_dirs", []string{})
	v.SetDefault("supervisor.state_dsn", "")
	v.SetDefault("supervisor.module_log_dir", "")
	v.SetDefault("supervisor.module_env", []string{})
	v.SetDefault("supervisor.spawn_retries", 0)
	v.SetDefault("supervisor.spawn_retry_delay", 500*time.Millisecond)
	v.SetDefault("sdctl.autostart_modules", []string{"sd-server"})
	v.SetDefault("sdctl-testing.autostart_modules", []string{"sd-server", "sd-watcher-afk", "sd-watcher-window"})
	v.SetDefault("autostart.settle", 10*time.Second)
	v.SetDefault("server.listen", "127.0.0.1:5660")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.metrics", true)
	v.SetDefault("monitor.interval", 5*time.Second)
	v.SetDefault("history.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
}

// Load reads path (TOML) over the built-in defaults and applies SDCTL_*
// environment overrides. An empty path uses defaults and environment only.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks values that would make the supervisor misbehave.
func (fc *FileConfig) Validate() error {
	var errs []error
	s := fc.Supervisor
	if s.Prefix == "" {
		errs = append(errs, errors.New("supervisor.prefix must not be empty"))
	}
	if s.CoreServer == "" {
		errs = append(errs, errors.New("supervisor.core_server must not be empty"))
	}
	if s.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("supervisor.max_depth must be >= 0, got %d", s.MaxDepth))
	}
	if fc.Autostart.Settle < 0 {
		errs = append(errs, errors.New("autostart.settle must not be negative"))
	}
	if fc.Monitor.Interval < 0 {
		errs = append(errs, errors.New("monitor.interval must not be negative"))
	}
	if bp := fc.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		errs = append(errs, fmt.Errorf("server.base_path must start with '/', got %q", bp))
	}
	return errors.Join(errs...)
}

// AutostartModules returns the request list of the active profile.
func (fc *FileConfig) AutostartModules(testing bool) []string {
	if testing {
		return append([]string(nil), fc.Testing.AutostartModules...)
	}
	return append([]string(nil), fc.Profile.AutostartModules...)
}

// StateDSN returns the configured state store DSN or the default state
// file next to installDir (the directory holding the sdctl binary).
func (fc *FileConfig) StateDSN(installDir string) string {
	if fc.Supervisor.StateDSN != "" {
		return fc.Supervisor.StateDSN
	}
	return filepath.Join(filepath.Dir(filepath.Clean(installDir)), StateFileName)
}

func (fc *FileConfig) ManagerNames() manager.Names {
	return manager.Names{
		CoreServer:    fc.Supervisor.CoreServer,
		AltServer:     fc.Supervisor.AltServer,
		Autostartable: append([]string(nil), fc.Supervisor.AutostartAllowed...),
	}
}

func (lc LogConfig) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      lc.Level,
			Format:     lc.Format,
			Color:      lc.Color,
			TimeStamps: lc.TimeStamps,
			Source:     lc.Source,
		},
		File: logger.FileConfig{
			Dir:        lc.Dir,
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAgeDays: lc.MaxAgeDays,
			Compress:   lc.Compress,
		},
	}
}
