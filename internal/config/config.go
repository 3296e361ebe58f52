package config

import (
	"encoding/json"
	"path/filepath"
	"time"
)

// Config represents the hookhost configuration
type Config struct {
	// Data directory, the base of every relative storage path
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Storage StorageConfig `json:"storage" mapstructure:"storage"`
	Hooks   HooksConfig   `json:"hooks" mapstructure:"hooks"`
	Runtime RuntimeConfig `json:"runtime" mapstructure:"runtime"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// StorageConfig locates the relational store and the object stores
type StorageConfig struct {
	DBPath       string `json:"db_path" mapstructure:"db_path"`
	ErrorDBPath  string `json:"error_db_path" mapstructure:"error_db_path"`   // empty: share db_path
	PluginDBPath string `json:"plugin_db_path" mapstructure:"plugin_db_path"` // empty: share db_path
	CodeDir      string `json:"code_dir" mapstructure:"code_dir"`
	ObjectDir    string `json:"object_dir" mapstructure:"object_dir"` // empty: share code_dir
}

// HooksConfig bounds hook dispatch
type HooksConfig struct {
	CallbackTimeoutMS int `json:"callback_timeout_ms" mapstructure:"callback_timeout_ms"`
	MaxDepth          int `json:"max_depth" mapstructure:"max_depth"`
}

// RuntimeConfig bounds plugin code execution
type RuntimeConfig struct {
	ActivationTimeoutMS int `json:"activation_timeout_ms" mapstructure:"activation_timeout_ms"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Storage: StorageConfig{
			DBPath:  "hookhost.db",
			CodeDir: "plugins",
		},
		Hooks: HooksConfig{
			CallbackTimeoutMS: 5000,
			MaxDepth:          8,
		},
		Runtime: RuntimeConfig{
			ActivationTimeoutMS: 10000,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "hookhost",
			SampleRatio: 1,
		},
	}
}

// CallbackTimeout returns hooks.callback_timeout_ms as a duration
func (c *Config) CallbackTimeout() time.Duration {
	return time.Duration(c.Hooks.CallbackTimeoutMS) * time.Millisecond
}

// ActivationTimeout returns runtime.activation_timeout_ms as a duration
func (c *Config) ActivationTimeout() time.Duration {
	return time.Duration(c.Runtime.ActivationTimeoutMS) * time.Millisecond
}

// ResolvePath anchors a relative path at DataDir
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) || c.DataDir == "" {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
