package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/fluxorio/echod/pkg/config"
	"github.com/fluxorio/echod/pkg/core"
	otelobs "github.com/fluxorio/echod/pkg/observability/otel"
)

// envPrefix prefixes every environment override (ECHOD_POOL_WORKERS, ...)
const envPrefix = "ECHOD"

// defaultConfigPath is read when neither -config nor CONFIG_PATH is set and
// the file exists.
const defaultConfigPath = "echod.yaml"

// AppConfig is the echod configuration
type AppConfig struct {
	Server          ServerConfig    `yaml:"server" json:"server"`
	Pool            PoolConfig      `yaml:"pool" json:"pool"`
	Echo            EchoConfig      `yaml:"echo" json:"echo"`
	WebSocket       WebSocketConfig `yaml:"websocket" json:"websocket"`
	Metrics         MetricsConfig   `yaml:"metrics" json:"metrics"`
	Tracing         otelobs.Config  `yaml:"tracing" json:"tracing"`
	Log             LogConfig       `yaml:"log" json:"log"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr" json:"addr"`
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file"`
}

type PoolConfig struct {
	Workers int `yaml:"workers" json:"workers"`
}

type EchoConfig struct {
	BufferSize  int           `yaml:"buffer_size" json:"buffer_size"`
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

type WebSocketConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Addr           string `yaml:"addr" json:"addr"`
	Path           string `yaml:"path" json:"path"`
	MaxMessageSize int64  `yaml:"max_message_size" json:"max_message_size"`
}

type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Addr           string        `yaml:"addr" json:"addr"`
	UpdateInterval time.Duration `yaml:"update_interval" json:"update_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // text or json
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Pool: PoolConfig{
			Workers: 8,
		},
		Echo: EchoConfig{
			BufferSize: 1024,
		},
		WebSocket: WebSocketConfig{
			Addr:           "127.0.0.1:8081",
			Path:           "/ws",
			MaxMessageSize: 64 << 10,
		},
		Metrics: MetricsConfig{
			Addr:           "127.0.0.1:9090",
			UpdateInterval: 5 * time.Second,
		},
		Tracing: otelobs.Config{
			ServiceName: "echod",
			Exporter:    otelobs.ExporterStdout,
			SampleRate:  1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// loadConfig layers defaults, the config file (if any) and ECHOD_*
// environment variables, then validates the result.
func loadConfig(path string) (*AppConfig, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	if path != "" {
		if err := config.LoadWithEnv(path, envPrefix, cfg); err != nil {
			return nil, err
		}
	} else if err := config.ApplyEnvOverrides(envPrefix, cfg); err != nil {
		return nil, err
	}

	m := config.NewManager(cfg)
	m.AddValidator(
		config.RequiredFields("Server.Addr"),
		config.RangeValidator("Pool.Workers", 1, 65536),
		config.RangeValidator("Echo.BufferSize", 1, 1<<20),
		config.RangeValidator("Echo.IdleTimeout", 0, float64(24*time.Hour)),
		config.RangeValidator("Tracing.SampleRate", 0, 1),
		config.OneOfValidator("Tracing.Exporter", otelobs.ExporterStdout, otelobs.ExporterZipkin, otelobs.ExporterNone),
		config.OneOfValidator("Log.Format", "text", "json"),
	)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if (cfg.Server.TLSCertFile == "") != (cfg.Server.TLSKeyFile == "") {
		return nil, fmt.Errorf("validation failed: server.tls_cert_file and server.tls_key_file must be set together")
	}

	return cfg, nil
}

func newLogger(cfg LogConfig) core.Logger {
	level := core.ParseLevel(cfg.Level)
	if cfg.Format == "json" {
		return core.NewJSONLoggerWithWriter(os.Stdout, level)
	}
	return core.NewTextLogger(os.Stdout, os.Stderr, level)
}

func loadTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if cfg.TLSCertFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// dumpConfig writes the effective configuration, YAML or JSON by extension
func dumpConfig(path string, cfg *AppConfig) error {
	return config.Save(path, cfg)
}
