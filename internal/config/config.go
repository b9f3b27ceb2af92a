// Package config loads the Invoker Engine's configuration inputs listed
// in spec.md §6: per-core and host-wide capacity bounds, session
// deadlines, the base port for session source ports, and the loopback
// address of the in-VM HTTP runtime.
//
// Grounded on nova/internal/config.Config's LoadFromFile+LoadFromEnv
// layering (file defaults overridden by environment variables), with the
// file format switched from nova's hand-rolled JSON to gopkg.in/yaml.v3,
// the format nova's internal/service and internal/output packages already
// use elsewhere in the corpus for configuration-shaped data.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is every configuration input spec.md §6 names, plus the ambient
// daemon/observability settings a running host needs.
type Config struct {
	// Per-core request concurrency cap (CONCUR_CAP).
	ConcurCap int `yaml:"concur_cap"`
	// Per-core hot-instance pool size (HOT_CAP).
	HotCap int `yaml:"hot_cap"`
	// Per-instance reuse cap (REUSE_CAP).
	ReuseCap int `yaml:"reuse_cap"`
	// Host-wide snapshot cache size (SNAP_CAP).
	SnapCap int `yaml:"snap_cap"`

	ConnectTimeoutMs    int `yaml:"connect_timeout_ms"`
	InvocationTimeoutMs int `yaml:"invocation_timeout_ms"`

	// BasePort is the low end of the reserved range session source ports
	// are drawn from ([BASE_PORT, 65535]).
	BasePort int `yaml:"base_port"`

	// NumCores is the number of dispatcher cores Bootstrap starts.
	NumCores int `yaml:"num_cores"`

	// RuntimeAddr is the loopback address:port the in-VM HTTP runtime
	// listens on in production (169.254.1.0/16:8080 in the reference
	// implementation). Unused when instancemgr hands back per-instance
	// addresses, as the simulated Manager does.
	RuntimeAddr string `yaml:"runtime_addr"`

	BaseImagePath string `yaml:"base_image_path"`

	Daemon        DaemonConfig        `yaml:"daemon"`
	Observability ObservabilityConfig `yaml:"observability"`
	Transport     TransportConfig     `yaml:"transport"`
	S3Image       S3ImageConfig       `yaml:"s3_image"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	HTTPAddr  string `yaml:"http_addr"` // /metrics and /healthz
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// ObservabilityConfig groups tracing and metrics settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TransportConfig selects and configures the Controller-facing Transport
// (see internal/transport).
type TransportConfig struct {
	Kind  string      `yaml:"kind"` // "grpc" or "redis"
	GRPC  GRPCConfig  `yaml:"grpc"`
	Redis RedisConfig `yaml:"redis"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type RedisConfig struct {
	Addr            string `yaml:"addr"`
	IngressListKey  string `yaml:"ingress_list_key"`
	EgressListKey   string `yaml:"egress_list_key"`
}

// S3ImageConfig optionally sources the base VM image from an S3-compatible
// bucket: when enabled, the daemon downloads the object to BaseImagePath
// before Bootstrap runs. AccessKeyID/SecretAccessKey are only needed for environments
// without an ambient credential chain (env vars, shared config, instance
// role); leave both empty to use the default chain.
type S3ImageConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Key             string `yaml:"key"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Default returns a Config with sensible defaults for local development.
func Default() *Config {
	return &Config{
		ConcurCap:           8,
		HotCap:              4,
		ReuseCap:            16,
		SnapCap:             64,
		ConnectTimeoutMs:    5000,
		InvocationTimeoutMs: 60000,
		BasePort:            40000,
		NumCores:            4,
		RuntimeAddr:         "169.254.1.0:8080",
		Daemon: DaemonConfig{
			LogLevel:  "info",
			LogFormat: "text",
			HTTPAddr:  ":9090",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "localhost:4318",
				ServiceName: "ignis",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "ignis",
			},
		},
		Transport: TransportConfig{
			Kind: "grpc",
			GRPC: GRPCConfig{Addr: ":9091"},
			Redis: RedisConfig{
				Addr:           "localhost:6379",
				IngressListKey: "ignis:invocations",
				EgressListKey:  "ignis:results",
			},
		},
	}
}

// LoadFromFile reads a YAML config file on top of Default.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies IGNIS_* environment variable overrides in place.
func LoadFromEnv(cfg *Config) {
	intVar(&cfg.ConcurCap, "IGNIS_CONCUR_CAP")
	intVar(&cfg.HotCap, "IGNIS_HOT_CAP")
	intVar(&cfg.ReuseCap, "IGNIS_REUSE_CAP")
	intVar(&cfg.SnapCap, "IGNIS_SNAP_CAP")
	intVar(&cfg.ConnectTimeoutMs, "IGNIS_CONNECT_TIMEOUT_MS")
	intVar(&cfg.InvocationTimeoutMs, "IGNIS_INVOCATION_TIMEOUT_MS")
	intVar(&cfg.BasePort, "IGNIS_BASE_PORT")
	intVar(&cfg.NumCores, "IGNIS_NUM_CORES")

	if v := os.Getenv("IGNIS_RUNTIME_ADDR"); v != "" {
		cfg.RuntimeAddr = v
	}
	if v := os.Getenv("IGNIS_BASE_IMAGE_PATH"); v != "" {
		cfg.BaseImagePath = v
	}
	if v := os.Getenv("IGNIS_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("IGNIS_LOG_FORMAT"); v != "" {
		cfg.Daemon.LogFormat = v
	}
	if v := os.Getenv("IGNIS_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("IGNIS_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("IGNIS_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("IGNIS_TRANSPORT_KIND"); v != "" {
		cfg.Transport.Kind = v
	}
	if v := os.Getenv("IGNIS_REDIS_ADDR"); v != "" {
		cfg.Transport.Redis.Addr = v
	}
	if v := os.Getenv("IGNIS_S3_BUCKET"); v != "" {
		cfg.S3Image.Bucket = v
		cfg.S3Image.Enabled = true
	}
	if v := os.Getenv("IGNIS_S3_KEY"); v != "" {
		cfg.S3Image.Key = v
	}
	if v := os.Getenv("IGNIS_S3_REGION"); v != "" {
		cfg.S3Image.Region = v
	}
	if v := os.Getenv("IGNIS_S3_ACCESS_KEY_ID"); v != "" {
		cfg.S3Image.AccessKeyID = v
	}
	if v := os.Getenv("IGNIS_S3_SECRET_ACCESS_KEY"); v != "" {
		cfg.S3Image.SecretAccessKey = v
	}
}

func intVar(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

// Validate checks the capacity and timeout invariants spec.md §6 assumes
// hold before Bootstrap runs.
func (c *Config) Validate() error {
	if c.ConcurCap <= 0 {
		return fmt.Errorf("config: concur_cap must be positive")
	}
	if c.SnapCap <= 0 {
		return fmt.Errorf("config: snap_cap must be positive")
	}
	if c.NumCores <= 0 {
		return fmt.Errorf("config: num_cores must be positive")
	}
	if c.BasePort <= 0 || c.BasePort >= 65535 {
		return fmt.Errorf("config: base_port must be in (0, 65535)")
	}
	if time.Duration(c.ConnectTimeoutMs) <= 0 || time.Duration(c.InvocationTimeoutMs) <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	return nil
}
