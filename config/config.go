// Package config loads the service configuration from defaults, an optional
// YAML file, CARS_ environment variables and --key=value arguments.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	confmap "github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/Skryldev/car-service/db"
)

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "CARS_"

var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"config/config.yaml",
	"config/config.yml",
	".config/config.yaml",
	".config/config.yml",
}

// Config is the complete service configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Database DatabaseConfig `koanf:"database"`
	Seed     SeedConfig     `koanf:"seed"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// HTTPConfig configures the listener and the route prefix.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
	// BasePath prefixes the car routes, e.g. "/api".
	BasePath        string        `koanf:"base_path"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig selects the driver and tunes the connection pool.
type DatabaseConfig struct {
	Driver string `koanf:"driver"`
	// DSN wins over the structured connection fields when set.
	DSN string `koanf:"dsn"`

	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	// Name is the database name, or the file path for sqlite3.
	Name    string `koanf:"name"`
	SSLMode string `koanf:"sslmode"`

	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	DefaultTimeout  time.Duration `koanf:"default_timeout"`

	SlowQueryThreshold time.Duration `koanf:"slow_query_threshold"`
	LogArgs            bool          `koanf:"log_args"`
	AutoMigrate        bool          `koanf:"auto_migrate"`
}

// SeedConfig controls loading the starter cars into an empty table.
type SeedConfig struct {
	Enabled bool `koanf:"enabled"`
}

// LogConfig selects the slog level and output format.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig toggles the Prometheus collectors and the /metrics route.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

func defaults() map[string]any {
	return map[string]any{
		"http.addr":                     ":8080",
		"http.base_path":                "",
		"http.read_timeout":             "15s",
		"http.write_timeout":            "15s",
		"http.shutdown_timeout":         "10s",
		"database.driver":               "sqlite3",
		"database.name":                 "cars.db",
		"database.sslmode":              "disable",
		"database.max_open_conns":       25,
		"database.max_idle_conns":       10,
		"database.conn_max_lifetime":    "5m",
		"database.conn_max_idle_time":   "2m",
		"database.default_timeout":      "0s",
		"database.slow_query_threshold": "200ms",
		"database.log_args":             false,
		"database.auto_migrate":         true,
		"seed.enabled":                  true,
		"log.level":                     "info",
		"log.format":                    "json",
		"metrics.enabled":               true,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Loading
// ─────────────────────────────────────────────────────────────────────────────

// Load merges, in order (later overrides earlier): defaults, the YAML file
// named by --config or the first of the default paths, CARS_ environment
// variables and --key=value / --key value arguments.
//
// Environment variables map their first segment to the section and keep the
// remainder as the key: CARS_DATABASE_MAX_OPEN_CONNS -> database.max_open_conns.
func Load(args []string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	flags := parseArgsToMap(args)
	path, explicit := "", false
	if v, ok := flags["config"]; ok {
		path, explicit = fmt.Sprint(v), true
		delete(flags, "config")
	} else {
		path, _ = findConfigFile()
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil && explicit {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: loading env: %w", err)
	}

	if len(flags) > 0 {
		if err := k.Load(confmap.Provider(flags, "."), nil); err != nil {
			return nil, fmt.Errorf("config: loading args: %w", err)
		}
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.HTTP.BasePath = normalizeBasePath(cfg.HTTP.BasePath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns CARS_DATABASE_MAX_OPEN_CONNS into database.max_open_conns.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + rest
}

func findConfigFile() (string, bool) {
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func parseArgsToMap(args []string) map[string]any {
	out := make(map[string]any)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") || len(arg) <= 2 {
			continue
		}
		key := strings.TrimPrefix(arg, "--")
		if k, v, ok := strings.Cut(key, "="); ok {
			out[k] = v
			continue
		}
		value := "true"
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			value = args[i+1]
			i++
		}
		out[key] = value
	}
	return out
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimRight(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("config: http.addr must not be empty")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres", "pgx", "mysql":
	default:
		return fmt.Errorf("config: database.driver %q is not one of sqlite3, postgres, pgx, mysql", c.Database.Driver)
	}
	if c.Database.DSN == "" && c.Database.Name == "" {
		return fmt.Errorf("config: database.dsn or database.name is required")
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("config: database pool sizes must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("config: log.format %q is not json or text", c.Log.Format)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Derived values
// ─────────────────────────────────────────────────────────────────────────────

// BuildDSN returns the configured DSN, or one built from the structured fields.
func (c DatabaseConfig) BuildDSN() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	opts := db.DriverOptions{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.Name,
		SSLMode:  c.SSLMode,
	}
	if c.Driver == "sqlite3" {
		opts.Extra = map[string]string{"_busy_timeout": "5000"}
	}
	return db.BuildDSN(c.Driver, opts)
}

// DBConfig translates the section into a db.Config carrying hooks.
func (c DatabaseConfig) DBConfig(hooks ...db.Hook) (db.Config, error) {
	dsn, err := c.BuildDSN()
	if err != nil {
		return db.Config{}, err
	}
	return db.Config{
		DSN:             dsn,
		DriverName:      c.Driver,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		DefaultTimeout:  c.DefaultTimeout,
		Hooks:           hooks,
	}, nil
}

// NewLogger builds the process logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug", "dbg":
		return slog.LevelDebug, nil
	case "info", "inf", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: log.level %q is not debug, info, warn or error", s)
}
