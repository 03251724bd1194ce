// Package config loads vegabridge settings from YAML files and the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	vberrors "github.com/odvcencio/vegabridge/pkg/errors"
)

// Default configuration values
const (
	DefaultBind                = "127.0.0.1:8765"
	DefaultMaxClients          = 64
	DefaultUpdateRate          = 200.0
	DefaultUpdateBurst         = 400
	DefaultBusBackend          = BusBackendNone
	DefaultBusTimeout          = 10 * time.Second
	DefaultHistogramChunkCells = 0
	DefaultLogLevel            = "info"
	DefaultServiceName         = "vegabridge"
)

// Storage backends
const (
	StorageBackendSQLite = "sqlite"
	StorageBackendBolt   = "bolt"
)

// Bus backends
const (
	BusBackendNone   = "none"
	BusBackendMemory = "memory"
	BusBackendNATS   = "nats"
)

// Config is the complete vegabridge configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bus     BusConfig     `yaml:"bus"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Widget  WidgetConfig  `yaml:"widget"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig configures the HTTP/websocket server.
type ServerConfig struct {
	Bind           string   `yaml:"bind"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxClients     int      `yaml:"max_clients"`
	PublicMetrics  bool     `yaml:"public_metrics"`
	// UpdateRate is the sustained number of update requests per second the
	// API accepts; UpdateBurst is the bucket size.
	UpdateRate  float64 `yaml:"update_rate"`
	UpdateBurst int     `yaml:"update_burst"`
}

// BusConfig selects and configures the message bus.
type BusConfig struct {
	Backend string        `yaml:"backend"`
	URL     string        `yaml:"url"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig points at the spec store. Backend is "sqlite" (default) or
// "bolt". An empty path disables persistence.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures the JSONL logger. An empty dir logs to stderr.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// WidgetConfig holds defaults applied to every widget.
type WidgetConfig struct {
	Resize              bool `yaml:"resize"`
	HistogramChunkCells int  `yaml:"histogram_chunk_cells"`
}

// TracingConfig enables OpenTelemetry spans on the API.
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:        DefaultBind,
			MaxClients:  DefaultMaxClients,
			UpdateRate:  DefaultUpdateRate,
			UpdateBurst: DefaultUpdateBurst,
		},
		Bus: BusConfig{
			Backend: DefaultBusBackend,
			URL:     "nats://localhost:4222",
			Name:    DefaultServiceName,
			Timeout: DefaultBusTimeout,
		},
		Storage: StorageConfig{
			Backend: StorageBackendSQLite,
			Path:    defaultStoragePath(),
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		Widget: WidgetConfig{
			HistogramChunkCells: DefaultHistogramChunkCells,
		},
		Tracing: TracingConfig{
			Service: DefaultServiceName,
		},
	}
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Join(".vegabridge", "widgets.db")
	}
	return filepath.Join(home, ".vegabridge", "widgets.db")
}

// Load reads ~/.vegabridge/config.yaml, then ./.vegabridge/config.yaml, then
// VEGABRIDGE_* environment variables, each overriding the previous.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".vegabridge", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectConfigPath := filepath.Join(".", ".vegabridge", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath reads a single config file on top of the defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadAndMerge(cfg, expandHomeDir(path)); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VEGABRIDGE_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("VEGABRIDGE_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCommaList(v)
	}
	if v, ok := envBool("VEGABRIDGE_PUBLIC_METRICS"); ok {
		cfg.Server.PublicMetrics = v
	}
	if v := os.Getenv("VEGABRIDGE_BUS"); v != "" {
		cfg.Bus.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("VEGABRIDGE_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("VEGABRIDGE_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("VEGABRIDGE_DB_PATH"); v != "" {
		cfg.Storage.Path = expandHomeDir(v)
	}
	if v := os.Getenv("VEGABRIDGE_LOG_DIR"); v != "" {
		cfg.Logging.Dir = expandHomeDir(v)
	}
	if v := os.Getenv("VEGABRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := envBool("VEGABRIDGE_RESIZE"); ok {
		cfg.Widget.Resize = v
	}
	if v := os.Getenv("VEGABRIDGE_HISTOGRAM_CHUNK_CELLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Widget.HistogramChunkCells = n
		}
	}
	if v, ok := envBool("VEGABRIDGE_TRACING"); ok {
		cfg.Tracing.Enabled = v
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return vberrors.Newf(vberrors.ErrCodeConfigInvalid, format, args...)
	}

	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return invalid("server.bind %q: %v", c.Server.Bind, err)
	}
	if c.Server.MaxClients < 0 {
		return invalid("server.max_clients must be >= 0")
	}
	if c.Server.UpdateRate < 0 || c.Server.UpdateBurst < 0 {
		return invalid("server.update_rate and server.update_burst must be >= 0")
	}
	switch c.Bus.Backend {
	case BusBackendNone, BusBackendMemory:
	case BusBackendNATS:
		if strings.TrimSpace(c.Bus.URL) == "" {
			return invalid("bus.url is required for the nats backend")
		}
	default:
		return invalid("unknown bus.backend %q", c.Bus.Backend)
	}
	switch c.Storage.Backend {
	case "", StorageBackendSQLite, StorageBackendBolt:
	default:
		return invalid("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Widget.HistogramChunkCells < 0 {
		return invalid("widget.histogram_chunk_cells must be >= 0")
	}
	return nil
}

// ValidationWarnings lists settings that work but are probably unintended.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	if !isLoopbackBindAddress(c.Server.Bind) && len(c.Server.AllowedOrigins) == 0 {
		warnings = append(warnings, fmt.Sprintf("server.bind %s is not loopback and no allowed_origins are set", c.Server.Bind))
	}
	if c.Server.PublicMetrics && !isLoopbackBindAddress(c.Server.Bind) {
		warnings = append(warnings, "server.public_metrics exposes /metrics on a non-loopback address")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		warnings = append(warnings, "storage.path is empty; widgets will not survive a restart")
	}
	return warnings
}

func splitCommaList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func isLoopbackBindAddress(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
