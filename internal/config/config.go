// Package config loads the hamal TOML file with HAMAL_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hamalhq/hamal/internal/env"
	"github.com/hamalhq/hamal/internal/logger"
	"github.com/hamalhq/hamal/internal/process"
	"github.com/hamalhq/hamal/internal/restart"
	"github.com/hamalhq/hamal/internal/supervisor"
	htls "github.com/hamalhq/hamal/internal/tls"
)

const EnvPrefix = "HAMAL"

// Config represents the top-level TOML structure.
type Config struct {
	DataDir  string   `mapstructure:"data_dir"`
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`

	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Log        logger.Config    `mapstructure:"log"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	History    HistoryConfig    `mapstructure:"history"`
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Restart    restart.Policy   `mapstructure:"restart"`

	// Projects declared in the file are upserted into the registry by name.
	Projects []process.Project `mapstructure:"projects"`
}

type SupervisorConfig struct {
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	LogCapacity     int           `mapstructure:"log_capacity"`
	SubscriberQueue int           `mapstructure:"subscriber_queue"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RunLogs writes per-project run logs under <log.file.dir>/<project>/.
	RunLogs bool `mapstructure:"run_logs"`
}

type RegistryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type HistoryConfig struct {
	DSNs    []string      `mapstructure:"dsns"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
	// LockFile guards against two servers sharing a data dir.
	LockFile string     `mapstructure:"lock_file"`
	TLS      htls.Config `mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	rp := restart.DefaultPolicy()
	v.SetDefault("data_dir", "~/.hamal")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", true)

	v.SetDefault("supervisor.grace_period", supervisor.DefaultGracePeriod)
	v.SetDefault("supervisor.log_capacity", 500)
	v.SetDefault("supervisor.subscriber_queue", 1024)
	v.SetDefault("supervisor.drain_timeout", supervisor.DefaultDrainTimeout)
	v.SetDefault("supervisor.shutdown_timeout", 15*time.Second)
	v.SetDefault("supervisor.run_logs", true)

	v.SetDefault("log.slog.level", string(logger.LevelInfo))
	v.SetDefault("log.slog.format", string(logger.FormatText))
	v.SetDefault("log.slog.color", false)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.slog.file", "")
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("registry.dsn", "")
	v.SetDefault("history.dsns", []string{})
	v.SetDefault("history.timeout", 5*time.Second)

	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.lock_file", "")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.2")
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("restart.delay", rp.Delay)
	v.SetDefault("restart.max_delay", rp.MaxDelay)
	v.SetDefault("restart.max_attempts", rp.MaxAttempts)
	v.SetDefault("restart.reset_after", rp.ResetAfter)
}

// Load reads path (optional) and applies defaults and HAMAL_* overrides,
// e.g. HAMAL_SERVER_LISTEN or HAMAL_SUPERVISOR_GRACE_PERIOD.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.finish(path); err != nil {
		return nil, err
	}
	return &c, nil
}

// finish expands paths and derives the defaults that depend on data_dir.
func (c *Config) finish(path string) error {
	dir, err := expandHome(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dir
	if c.Registry.DSN == "" {
		c.Registry.DSN = filepath.Join(dir, "hamal.db")
	}
	if c.Log.File.Dir == "" {
		c.Log.File.Dir = filepath.Join(dir, "logs")
	}
	if c.Server.LockFile == "" {
		c.Server.LockFile = filepath.Join(dir, "hamal.lock")
	}
	if c.Server.TLS.Dir == "" {
		c.Server.TLS.Dir = filepath.Join(dir, "tls")
	}
	base := "."
	if path != "" {
		base = filepath.Dir(path)
	}
	for i, f := range c.EnvFiles {
		if !filepath.IsAbs(f) {
			c.EnvFiles[i] = filepath.Join(base, f)
		}
	}
	for i := range c.Projects {
		if c.Projects[i].WorkDir == "" {
			continue
		}
		wd, err := expandHome(c.Projects[i].WorkDir)
		if err != nil {
			return err
		}
		if !filepath.IsAbs(wd) {
			wd = filepath.Join(base, wd)
		}
		if abs, err := filepath.Abs(wd); err == nil {
			wd = abs
		}
		c.Projects[i].WorkDir = wd
	}
	return c.Validate()
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Supervisor.GracePeriod <= 0 {
		errs = append(errs, errors.New("supervisor.grace_period must be > 0"))
	}
	if c.Supervisor.LogCapacity <= 0 {
		errs = append(errs, errors.New("supervisor.log_capacity must be > 0"))
	}
	if c.Supervisor.SubscriberQueue <= 0 {
		errs = append(errs, errors.New("supervisor.subscriber_queue must be > 0"))
	}
	if c.Restart.MaxAttempts < 0 {
		errs = append(errs, errors.New("restart.max_attempts must be >= 0"))
	}
	switch c.Log.Slog.Format {
	case logger.FormatText, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.slog.format %q is not text or json", c.Log.Slog.Format))
	}
	seen := make(map[string]bool, len(c.Projects))
	for i, p := range c.Projects {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("projects[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("projects[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
	}
	return errors.Join(errs...)
}

// GlobalEnv builds the environment every child starts from.
// Precedence: OS env (when enabled), then env_files in order, then env.
func (c *Config) GlobalEnv() (env.Env, error) {
	e := env.Empty()
	if c.UseOSEnv {
		e = env.New()
	}
	for _, f := range c.EnvFiles {
		pairs, err := env.LoadFile(f)
		if err != nil {
			return env.Env{}, err
		}
		e = e.WithPairs(pairs)
	}
	return e.WithPairs(c.Env), nil
}

// SupervisorConfig converts the [supervisor] section.
func (c *Config) SupervisorConfig(lg *slog.Logger) (supervisor.Config, error) {
	e, err := c.GlobalEnv()
	if err != nil {
		return supervisor.Config{}, err
	}
	sc := supervisor.Config{
		GracePeriod:  c.Supervisor.GracePeriod,
		LogCapacity:  c.Supervisor.LogCapacity,
		QueueSize:    c.Supervisor.SubscriberQueue,
		DrainTimeout: c.Supervisor.DrainTimeout,
		Env:          &e,
		Logger:       lg,
	}
	if c.Supervisor.RunLogs {
		sc.RunLogs = c.Log
	}
	return sc, nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return filepath.Clean(p), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
