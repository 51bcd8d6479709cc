// Package config loads planforge settings from an optional config file and
// PLANFORGE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when the loaded configuration is invalid.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Storage drivers
const (
	StorageDriverFS = "fs"
	StorageDriverS3 = "s3"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Log      LogConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Pipeline PipelineConfig
	Metrics  MetricsConfig
	Servers  []ServerPreset
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// StorageConfig selects where plan and CSV artifacts are kept. The S3 fields
// are only read when Driver is "s3".
type StorageConfig struct {
	Driver       string
	RootDir      string
	Bucket       string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	UseSSL       bool
}

type DatabaseConfig struct {
	Path string // sqlite file, or ":memory:"
}

// PipelineConfig controls how stored definitions are materialized on
// download.
type PipelineConfig struct {
	DownloadMode string // full, rewrite
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

// ServerPreset is a named target server that manifests can refer to instead
// of spelling out protocol, host and port.
type ServerPreset struct {
	Name     string `mapstructure:"name"`
	Protocol string `mapstructure:"protocol"`
	Server   string `mapstructure:"server"`
	Port     string `mapstructure:"port"`
}

// Preset looks up a server preset by name, ignoring case.
func (c *Config) Preset(name string) (ServerPreset, bool) {
	for _, p := range c.Servers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ServerPreset{}, false
}

// Load reads planforge.{toml,yaml} from the working directory or
// /etc/planforge, then applies environment overrides.
// Priority (highest to lowest):
// 1. Environment variables with PLANFORGE_ prefix (e.g., PLANFORGE_STORAGE_DRIVER)
// 2. config file
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("planforge")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/planforge")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return build(v)
}

// LoadFrom reads the given config file. Unlike Load, a missing file is an
// error.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("PLANFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Storage: StorageConfig{
			Driver:       strings.ToLower(v.GetString("storage.driver")),
			RootDir:      v.GetString("storage.root_dir"),
			Bucket:       v.GetString("storage.bucket"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			UseSSL:       v.GetBool("storage.use_ssl"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Pipeline: PipelineConfig{
			DownloadMode: strings.ToLower(strings.TrimSpace(v.GetString("pipeline.download_mode"))),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Port:    v.GetInt("metrics.port"),
			Path:    v.GetString("metrics.path"),
		},
	}

	if err := v.UnmarshalKey("servers", &cfg.Servers); err != nil {
		return nil, fmt.Errorf("%w: servers: %v", ErrInvalidConfig, err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "planforge"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "console"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageDriverFS
	}
	if cfg.Storage.RootDir == "" {
		cfg.Storage.RootDir = "./data/artifacts"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/planforge.db"
	}
	if cfg.Pipeline.DownloadMode == "" {
		cfg.Pipeline.DownloadMode = "rewrite"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	for i := range cfg.Servers {
		if cfg.Servers[i].Protocol == "" {
			cfg.Servers[i].Protocol = "http"
		}
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageDriverFS:
	case StorageDriverS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("%w: storage.bucket is required for the s3 driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: storage.driver must be %q or %q, got %q", ErrInvalidConfig, StorageDriverFS, StorageDriverS3, c.Storage.Driver)
	}

	switch c.Pipeline.DownloadMode {
	case "full", "rewrite":
	default:
		return fmt.Errorf("%w: pipeline.download_mode must be full or rewrite, got %q", ErrInvalidConfig, c.Pipeline.DownloadMode)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("%w: metrics.port out of range: %d", ErrInvalidConfig, c.Metrics.Port)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("%w: metrics.path must start with /", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, p := range c.Servers {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return fmt.Errorf("%w: servers[%d].name is required", ErrInvalidConfig, i)
		}
		if p.Server == "" {
			return fmt.Errorf("%w: servers[%d] (%s): server is required", ErrInvalidConfig, i, p.Name)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate server preset %q", ErrInvalidConfig, p.Name)
		}
		seen[name] = true
	}

	if c.App.Env == "production" && c.Storage.Driver == StorageDriverS3 {
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			return fmt.Errorf("%w: storage credentials are required in production", ErrInvalidConfig)
		}
	}
	return nil
}
